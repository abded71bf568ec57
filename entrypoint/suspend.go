package entrypoint

import (
	"fmt"

	"github.com/bobuhiro11/govmm/signal"
)

// SuspendState is the lifecycle state of an entrypoint with respect to
// suspend/resume.
type SuspendState int32

const (
	Running SuspendState = iota
	TearingDown
	Rebuilding
)

func (s SuspendState) String() string {
	switch s {
	case Running:
		return "running"
	case TearingDown:
		return "tearing down"
	case Rebuilding:
		return "rebuilding"
	}

	return fmt.Sprintf("SuspendState(%d)", int32(s))
}

type step struct {
	name string
	fn   func()
}

// builder runs named steps in order. Teardown and rebuild are expressed as
// two builders so their ordering is explicit in one place.
type builder struct {
	ep    *Entrypoint
	steps []step
}

func (b *builder) add(name string, fn func()) *builder {
	b.steps = append(b.steps, step{name: name, fn: fn})

	return b
}

func (b *builder) run() {
	for _, s := range b.steps {
		b.ep.trace("suspend step: %s", s.name)
		s.fn()
	}
}

func (e *Entrypoint) teardown() *builder {
	b := &builder{ep: e}

	return b.
		add("dissolve deferred handler", func() {
			e.mu.Lock()
			h := e.deferredHandler
			e.deferredHandler = nil
			e.mu.Unlock()

			if r := e.currentReceiver(); h != nil && r != nil {
				r.Dissolve(h)
			}
		}).
		add("dissolve suspend dispatcher", func() {
			e.mu.Lock()
			h := e.suspendHandler
			e.suspendHandler = nil
			e.mu.Unlock()

			if r := e.currentReceiver(); h != nil && r != nil {
				r.Dissolve(h)
			}
		}).
		add("destroy receiver", func() {
			e.mu.Lock()
			r := e.receiver
			e.receiver = nil
			e.mu.Unlock()

			r.Close()
		}).
		add("drop deferred signals", func() { e.deferred.clear() }).
		add("dissolve signal proxy", func() {
			e.mu.Lock()
			e.proxy = nil
			e.mu.Unlock()
		}).
		add("deinit heartbeat", func() { hook(e.env.DeinitHeartbeat) }).
		add("invalidate proxy capability", func() {
			e.mu.Lock()
			e.proxyValid = false
			e.mu.Unlock()
		}).
		add("destroy rpc endpoint", func() {
			e.mu.Lock()
			rpc := e.rpc
			e.rpc = nil
			e.mu.Unlock()

			rpc.stop()
		}).
		add("destroy signal thread", func() { hook(e.env.DestroySignalThread) })
}

func (e *Entrypoint) rebuild() *builder {
	b := &builder{ep: e}

	return b.
		add("init signal thread", func() { hook(e.env.InitSignalThread) }).
		add("create rpc endpoint", func() {
			rpc := newRPCEndpoint()

			e.mu.Lock()
			e.rpc = rpc
			e.mu.Unlock()
		}).
		add("init heartbeat", func() { hook(e.env.InitHeartbeat) }).
		add("manage signal proxy", func() {
			e.mu.Lock()
			e.proxy = &signalProxy{ep: e}
			e.proxyValid = true
			e.mu.Unlock()
		}).
		add("create receiver", func() {
			r := signal.NewReceiver(e.env.Source)

			e.mu.Lock()
			e.receiver = r
			e.mu.Unlock()
		})
}

// suspendAndResume runs on the proxy goroutine once the suspend dispatcher
// was handled.
func (e *Entrypoint) suspendAndResume() {
	e.mu.Lock()
	suspended, resumed := e.suspendedCb, e.resumedCb
	e.mu.Unlock()

	e.state.Store(int32(TearingDown))
	e.teardown().run()

	hook(suspended)

	e.state.Store(int32(Rebuilding))
	e.rebuild().run()

	e.mu.Lock()
	e.suspendedCb = nil
	e.resumedCb = nil
	e.mu.Unlock()

	e.suspended.Store(false)
	e.state.Store(int32(Running))

	hook(resumed)
}
