package entrypoint

import (
	"context"
	"errors"
	"runtime"

	"github.com/bobuhiro11/govmm/signal"
	"github.com/cenkalti/backoff"
)

// signalProxy is the object the proxy goroutine calls on the entrypoint for
// every signal wakeup.
type signalProxy struct {
	ep *Entrypoint
}

// signal runs on the entrypoint goroutine.
func (p *signalProxy) signal() {
	e := p.ep

	e.processDeferredSignals()

	r := e.currentReceiver()
	if r == nil {
		return
	}

	for {
		sig, err := r.PendingSignal()
		if err != nil {
			return
		}

		e.dispatchSignal(sig)

		if sig.Level == signal.LevelIO {
			e.handleIOProgress()
		}

		if e.cfg.Policy != PolicyDrainPending {
			return
		}
	}
}

func (e *Entrypoint) proxyLoop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	defer close(e.proxyDone)

	for {
		for {
			if err := e.processIncomingSignal(); err != nil {
				e.log.WithError(err).Error("signal proxy terminated")

				return
			}

			if e.stop.Load() {
				return
			}

			if e.suspended.Load() {
				break
			}
		}

		e.suspendAndResume()
	}
}

func (e *Entrypoint) processIncomingSignal() error {
	r := e.currentReceiver()
	if r == nil {
		return signal.ErrClosed
	}

	if err := r.BlockForSignal(); err != nil {
		return err
	}

	e.pendingMu.Lock()
	owned := e.owner.CompareAndSwap(ownerNone, ownerSignalProxy)
	e.pendingMu.Unlock()

	if !owned {
		// The entrypoint waits for I/O and takes the signal itself.
		r.UnblockSignalWaiter()
		<-e.ack

		return nil
	}

	err := e.forward()
	e.owner.CompareAndSwap(ownerSignalProxy, ownerNone)

	return err
}

// forward hands one wakeup to the entrypoint goroutine.
func (e *Entrypoint) forward() error {
	op := func() error {
		err := e.callProxy()
		if errors.Is(err, ErrBlockingCanceled) {
			e.warn.Warnf("blocking canceled during signal processing")

			return err
		}

		if err != nil {
			return backoff.Permanent(err)
		}

		return nil
	}

	err := backoff.Retry(op, backoff.NewConstantBackOff(e.cfg.RetryInterval))
	if errors.Is(err, ErrIPC) {
		e.warn.Warnf("signal proxy target vanished: %v", err)

		return nil
	}

	return err
}

func (e *Entrypoint) callProxy() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e.mu.Lock()
	rpc, proxy, valid := e.rpc, e.proxy, e.proxyValid
	e.cancelForward = cancel
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.cancelForward = nil
		e.mu.Unlock()
	}()

	if rpc == nil || proxy == nil || !valid {
		return ErrIPC
	}

	return rpc.call(ctx, proxy.signal)
}
