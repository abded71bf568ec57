package signal

import (
	"fmt"
	"sync"
)

// semaphore is a counting semaphore starting at zero.
type semaphore struct {
	mu     sync.Mutex
	cond   *sync.Cond
	count  int
	closed bool
}

func newSemaphore() *semaphore {
	s := &semaphore{}
	s.cond = sync.NewCond(&s.mu)

	return s
}

func (s *semaphore) up() {
	s.mu.Lock()
	s.count++
	s.mu.Unlock()
	s.cond.Signal()
}

func (s *semaphore) down() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.count == 0 && !s.closed {
		s.cond.Wait()
	}

	if s.closed {
		return ErrClosed
	}

	s.count--

	return nil
}

func (s *semaphore) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

// Receiver collects the signals of the contexts it manages.
type Receiver struct {
	src *Source
	sem *semaphore

	mu     sync.Mutex
	ring   []*context
	next   int
	byDisp map[Dispatcher]*context
	byCap  map[Capability]*context
	closed bool
}

func NewReceiver(src *Source) *Receiver {
	return &Receiver{
		src:    src,
		sem:    newSemaphore(),
		byDisp: make(map[Dispatcher]*context),
		byCap:  make(map[Capability]*context),
	}
}

// Manage creates a signal context for d. Managing a dispatcher twice returns
// the existing capability along with ErrAlreadyManaged.
func (r *Receiver) Manage(d Dispatcher) (Capability, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, ErrClosed
	}

	if ctx, ok := r.byDisp[d]; ok {
		return ctx.cap, ErrAlreadyManaged
	}

	ctx := &context{dispatcher: d, level: d.Level(), receiver: r}
	r.src.register(ctx)

	r.ring = append(r.ring, ctx)
	r.byDisp[d] = ctx
	r.byCap[ctx.cap] = ctx

	return ctx.cap, nil
}

// Dissolve removes the context of d and returns its former capability. It is
// a no-op for dispatchers that are not managed.
func (r *Receiver) Dissolve(d Dispatcher) Capability {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, ok := r.byDisp[d]
	if !ok {
		return 0
	}

	r.dissolveLocked(ctx)

	return ctx.cap
}

func (r *Receiver) dissolveLocked(ctx *context) {
	ctx.dead = true
	ctx.pending = false
	r.src.unregister(ctx.cap)

	delete(r.byDisp, ctx.dispatcher)
	delete(r.byCap, ctx.cap)

	for i, c := range r.ring {
		if c != ctx {
			continue
		}

		r.ring = append(r.ring[:i], r.ring[i+1:]...)
		if i < r.next {
			r.next--
		}

		break
	}

	if r.next >= len(r.ring) {
		r.next = 0
	}
}

// Lookup resolves a capability to the dispatcher of a live context managed by
// this receiver.
func (r *Receiver) Lookup(c Capability) (Dispatcher, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, ok := r.byCap[c]
	if !ok {
		return nil, false
	}

	return ctx.dispatcher, true
}

// Capability returns the capability of a managed dispatcher.
func (r *Receiver) Capability(d Dispatcher) (Capability, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, ok := r.byDisp[d]
	if !ok {
		return 0, false
	}

	return ctx.cap, true
}

func (r *Receiver) submit(ctx *context, num uint32) error {
	r.mu.Lock()

	if ctx.dead || r.closed {
		r.mu.Unlock()

		return fmt.Errorf("%w: capability %d", ErrStaleContext, ctx.cap)
	}

	ctx.num += num

	wake := !ctx.pending
	ctx.pending = true
	r.mu.Unlock()

	if wake {
		r.sem.up()
	}

	return nil
}

// PendingSignal takes the next pending signal. Contexts are served
// round-robin starting after the one served last.
func (r *Receiver) PendingSignal() (Signal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.ring)
	for i := 0; i < n; i++ {
		idx := (r.next + i) % n
		ctx := r.ring[idx]

		if !ctx.pending {
			continue
		}

		sig := Signal{Capability: ctx.cap, Num: ctx.num, Level: ctx.level}
		ctx.pending = false
		ctx.num = 0
		r.next = (idx + 1) % n

		return sig, nil
	}

	return Signal{}, ErrNotPending
}

// BlockForSignal waits until a signal may be pending. Wakeups may be
// spurious, callers must check PendingSignal.
func (r *Receiver) BlockForSignal() error {
	return r.sem.down()
}

// UnblockSignalWaiter wakes one goroutine blocked in BlockForSignal.
func (r *Receiver) UnblockSignalWaiter() {
	r.sem.up()
}

// Close dissolves all contexts and wakes every blocked waiter.
func (r *Receiver) Close() {
	r.mu.Lock()
	for len(r.ring) > 0 {
		r.dissolveLocked(r.ring[0])
	}

	r.closed = true
	r.mu.Unlock()

	r.sem.close()
}
