// Package entrypoint implements the dispatch loop of a component.
//
// An Entrypoint owns two goroutines. The endpoint goroutine executes calls
// (Call) one at a time and is the only place where signal dispatchers run.
// The signal-proxy goroutine blocks for incoming signals and forwards each
// wakeup to the endpoint goroutine. While code on the endpoint goroutine
// waits for I/O progress (WaitAndDispatchOneIOSignal) both goroutines
// compete for signals; an ownership token decides who takes the next one.
package entrypoint

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bobuhiro11/govmm/signal"
	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"
)

var (
	errSuspending = errors.New("entrypoint is suspending")
	errProxyGone  = errors.New("signal proxy terminated")

	ErrUnknownPolicy = errors.New("unknown dispatch policy")
	ErrInvalidEnv    = errors.New("invalid entrypoint environment")
)

// Policy controls how many signals one proxy wakeup dispatches.
type Policy int

const (
	// PolicyOnePerWakeup dispatches a single signal per wakeup so other
	// calls to the entrypoint can interleave.
	PolicyOnePerWakeup Policy = iota
	// PolicyDrainPending dispatches every pending signal per wakeup.
	PolicyDrainPending
)

func (p Policy) String() string {
	switch p {
	case PolicyOnePerWakeup:
		return "one-per-wakeup"
	case PolicyDrainPending:
		return "drain-pending"
	}

	return fmt.Sprintf("Policy(%d)", int(p))
}

func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(s) {
	case "", "one-per-wakeup":
		return PolicyOnePerWakeup, nil
	case "drain-pending":
		return PolicyDrainPending, nil
	}

	return 0, fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
}

type Config struct {
	Name   string
	Policy Policy

	// RetryInterval paces retries of canceled signal forwards.
	RetryInterval time.Duration

	// WarnEvery limits the rate of delivery-race warnings.
	WarnEvery time.Duration
}

const (
	defaultRetryInterval = 10 * time.Millisecond
	defaultWarnEvery     = time.Second
)

// owner values of the signal-ownership token.
const (
	ownerNone int32 = iota
	ownerSignalProxy
	ownerEntrypoint
)

type Entrypoint struct {
	env  *Env
	cfg  Config
	log  *logrus.Entry
	warn *rateLimitedLogger

	owner     atomic.Int32
	pendingMu sync.Mutex
	ack       chan struct{}

	deferred *deferredQueue

	mu              sync.Mutex
	receiver        *signal.Receiver
	rpc             *rpcEndpoint
	proxy           *signalProxy
	proxyValid      bool
	deferredHandler *signal.Handler
	suspendHandler  *signal.Handler
	suspendedCb     func()
	resumedCb       func()
	ioProgress      func()
	cancelForward   context.CancelFunc

	suspended atomic.Bool
	stop      atomic.Bool
	state     atomic.Int32

	proxyDone chan struct{}
	closeOnce sync.Once
}

func newEntrypoint(env *Env, cfg Config) *Entrypoint {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryInterval
	}

	if cfg.WarnEvery <= 0 {
		cfg.WarnEvery = defaultWarnEvery
	}

	if cfg.Name == "" {
		cfg.Name = "ep"
	}

	log := env.Log.WithField("ep", cfg.Name)

	e := &Entrypoint{
		env:       env,
		cfg:       cfg,
		log:       log,
		warn:      newRateLimitedLogger(log, cfg.WarnEvery),
		ack:       make(chan struct{}, 1),
		deferred:  newDeferredQueue(),
		proxyDone: make(chan struct{}),
	}

	hook(env.InitSignalThread)
	e.rpc = newRPCEndpoint()
	hook(env.InitHeartbeat)
	e.proxy = &signalProxy{ep: e}
	e.proxyValid = true
	e.receiver = signal.NewReceiver(env.Source)

	return e
}

// New creates an entrypoint and starts its goroutines.
func New(env *Env, cfg Config) (*Entrypoint, error) {
	if env == nil || env.Source == nil || env.Log == nil {
		return nil, ErrInvalidEnv
	}

	e := newEntrypoint(env, cfg)

	go e.proxyLoop()

	return e, nil
}

// Construct starts a component: tracing is enabled, the registered
// constructors run once, then fn runs in the context of a new entrypoint.
func Construct(env *Env, cfg Config, fn func(*Entrypoint)) (*Entrypoint, error) {
	env.Tracing = true
	env.runConstructors()

	e, err := New(env, cfg)
	if err != nil {
		return nil, err
	}

	if err := e.Call(context.Background(), func() { fn(e) }); err != nil {
		_ = e.Close()

		return nil, fmt.Errorf("construct %s: %w", cfg.Name, err)
	}

	return e, nil
}

func (e *Entrypoint) Name() string { return e.cfg.Name }

func (e *Entrypoint) Env() *Env { return e.env }

func (e *Entrypoint) State() SuspendState {
	return SuspendState(e.state.Load())
}

func (e *Entrypoint) trace(format string, v ...interface{}) {
	if e.env.Tracing {
		e.log.Tracef(format, v...)
	}
}

func (e *Entrypoint) currentReceiver() *signal.Receiver {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.receiver
}

// Manage creates a signal context for d. While the entrypoint is suspended
// the returned capability is invalid.
func (e *Entrypoint) Manage(d signal.Dispatcher) signal.Capability {
	e.mu.Lock()
	r := e.receiver
	e.mu.Unlock()

	if r == nil || e.State() != Running {
		return 0
	}

	c, err := r.Manage(d)
	if err != nil && !errors.Is(err, signal.ErrAlreadyManaged) {
		e.log.WithError(err).Warn("manage signal dispatcher")

		return 0
	}

	return c
}

// Dissolve removes d from the entrypoint, including any deferred delivery.
func (e *Entrypoint) Dissolve(d signal.Dispatcher) {
	r := e.currentReceiver()
	if r == nil {
		return
	}

	if c := r.Dissolve(d); c.Valid() {
		e.deferred.remove(c)
	}
}

// Submit delivers one signal to the context c.
func (e *Entrypoint) Submit(c signal.Capability) error {
	return e.env.Source.Submit(c, 1)
}

// Transmitter returns a transmitter for a capability handed out by Manage.
func (e *Entrypoint) Transmitter(c signal.Capability) signal.Transmitter {
	return signal.NewTransmitter(e.env.Source, c)
}

// SetIOProgressHandler installs fn to run on the entrypoint after every
// dispatched I/O-level signal.
func (e *Entrypoint) SetIOProgressHandler(fn func()) {
	e.mu.Lock()
	e.ioProgress = fn
	e.mu.Unlock()
}

func (e *Entrypoint) handleIOProgress() {
	e.mu.Lock()
	fn := e.ioProgress
	e.mu.Unlock()

	hook(fn)
}

// Call runs fn on the entrypoint goroutine and waits for its completion.
func (e *Entrypoint) Call(ctx context.Context, fn func()) error {
	e.mu.Lock()
	rpc := e.rpc
	e.mu.Unlock()

	if rpc == nil {
		return ErrIPC
	}

	return rpc.call(ctx, fn)
}

// CancelBlocking cancels a signal forward the proxy is blocked in. The
// proxy retries the forward.
func (e *Entrypoint) CancelBlocking() {
	e.mu.Lock()
	cancel := e.cancelForward
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// ScheduleSuspend requests a suspend of the entrypoint. suspended runs once
// the entrypoint is torn down, resumed once it is rebuilt. Dispatchers
// managed before the suspend are dissolved and have to be managed again.
func (e *Entrypoint) ScheduleSuspend(suspended, resumed func()) {
	h := signal.NewHandler(e.handleSuspend)

	e.mu.Lock()
	e.suspendedCb = suspended
	e.resumedCb = resumed
	e.suspendHandler = h
	e.mu.Unlock()

	if err := e.Submit(e.Manage(h)); err != nil {
		e.log.WithError(err).Error("schedule suspend")
	}
}

func (e *Entrypoint) handleSuspend() {
	e.suspended.Store(true)
}

func (e *Entrypoint) ackProxy() {
	select {
	case e.ack <- struct{}{}:
	default:
	}
}

func (e *Entrypoint) dispatchSignal(sig signal.Signal) {
	r := e.currentReceiver()
	if r == nil {
		return
	}

	d, ok := r.Lookup(sig.Capability)
	if !ok {
		e.warn.Warnf("dropping signal for dead context %d", sig.Capability)

		return
	}

	d.Dispatch(sig.Num)
}

func (e *Entrypoint) processDeferredSignals() {
	for {
		c, ok := e.deferred.popFirst()
		if !ok {
			return
		}

		e.dispatchSignal(signal.Signal{Capability: c, Num: 1, Level: signal.LevelApp})
	}
}

// WaitAndDispatchOneIOSignal dispatches one I/O-level signal, blocking for
// it unless dontBlock is set. Application-level signals taken meanwhile are
// deferred until the entrypoint returns to its dispatch loop. It reports
// whether an I/O signal was dispatched. It must be called on the entrypoint
// goroutine.
func (e *Entrypoint) WaitAndDispatchOneIOSignal(dontBlock bool) bool {
	e.mu.Lock()
	rpc := e.rpc
	r := e.receiver
	e.mu.Unlock()

	if rpc == nil || !rpc.inCall() {
		e.log.Warn("WaitAndDispatchOneIOSignal called outside of entrypoint context")
	}

	if r == nil {
		return false
	}

	for {
		e.pendingMu.Lock()
		e.owner.CompareAndSwap(ownerNone, ownerEntrypoint)

		sig, err := r.PendingSignal()
		if err == nil {
			e.owner.CompareAndSwap(ownerEntrypoint, ownerNone)
			e.pendingMu.Unlock()
			e.ackProxy()

			if sig.Level == signal.LevelApp {
				e.deferred.insert(sig.Capability)

				continue
			}

			e.dispatchSignal(sig)

			break
		}

		e.pendingMu.Unlock()

		if dontBlock {
			e.owner.CompareAndSwap(ownerEntrypoint, ownerNone)
			e.ackProxy()

			return false
		}

		if err := r.BlockForSignal(); err != nil {
			e.owner.CompareAndSwap(ownerEntrypoint, ownerNone)

			return false
		}
	}

	e.handleIOProgress()

	if !e.deferred.empty() {
		e.submitDeferred()
	}

	return true
}

// submitDeferred wakes the dispatch loop so deferred signals get processed.
func (e *Entrypoint) submitDeferred() {
	e.mu.Lock()
	if e.deferredHandler == nil {
		e.deferredHandler = signal.NewHandler(nil)
	}

	h := e.deferredHandler
	e.mu.Unlock()

	if err := e.Submit(e.Manage(h)); err != nil {
		e.warn.Warnf("submit deferred handler: %v", err)
	}
}

// Close stops the signal proxy and releases the entrypoint. It must not be
// called on the entrypoint goroutine.
func (e *Entrypoint) Close() error {
	var err error

	e.closeOnce.Do(func() {
		stop := signal.NewHandler(func() { e.stop.Store(true) })

		var c signal.Capability

		err = backoff.Retry(func() error {
			select {
			case <-e.proxyDone:
				return backoff.Permanent(errProxyGone)
			default:
			}

			if c = e.Manage(stop); !c.Valid() {
				return errSuspending
			}

			return nil
		}, backoff.NewConstantBackOff(e.cfg.RetryInterval))

		switch {
		case err == nil:
			if err = e.Submit(c); err == nil {
				<-e.proxyDone
			}
		case errors.Is(err, errProxyGone):
			err = nil
		}

		e.Dissolve(stop)

		e.mu.Lock()
		rpc, r := e.rpc, e.receiver
		e.proxy = nil
		e.proxyValid = false
		e.rpc = nil
		e.receiver = nil
		e.mu.Unlock()

		if rpc != nil {
			rpc.stop()
		}

		if r != nil {
			r.Close()
		}

		hook(e.env.DeinitHeartbeat)
		hook(e.env.DestroySignalThread)
	})

	return err
}
