package entrypoint

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"
)

var (
	// ErrIPC is returned when the target of a call vanished, typically
	// because the endpoint was torn down while the call was in flight.
	ErrIPC = errors.New("ipc error")

	// ErrBlockingCanceled is returned when a blocked caller was canceled
	// before the endpoint accepted the call.
	ErrBlockingCanceled = errors.New("blocking canceled")
)

type rpcRequest struct {
	fn   func()
	done chan struct{}
}

// rpcEndpoint serialises calls onto a single goroutine.
type rpcEndpoint struct {
	reqs      chan *rpcRequest
	quit      chan struct{}
	done      chan struct{}
	executing atomic.Bool
}

func newRPCEndpoint() *rpcEndpoint {
	e := &rpcEndpoint{
		reqs: make(chan *rpcRequest),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}

	go e.serve()

	return e
}

func (e *rpcEndpoint) serve() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	defer close(e.done)

	for {
		select {
		case req := <-e.reqs:
			e.executing.Store(true)
			req.fn()
			e.executing.Store(false)
			close(req.done)
		case <-e.quit:
			return
		}
	}
}

// call runs fn on the endpoint goroutine and waits for it to return. Calling
// it from the endpoint goroutine deadlocks.
func (e *rpcEndpoint) call(ctx context.Context, fn func()) error {
	req := &rpcRequest{fn: fn, done: make(chan struct{})}

	select {
	case e.reqs <- req:
	case <-e.quit:
		return ErrIPC
	case <-ctx.Done():
		return ErrBlockingCanceled
	}

	<-req.done

	return nil
}

func (e *rpcEndpoint) inCall() bool {
	return e.executing.Load()
}

// stop waits for the running call, if any, and terminates the endpoint.
func (e *rpcEndpoint) stop() {
	close(e.quit)
	<-e.done
}
