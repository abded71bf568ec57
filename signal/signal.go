// Package signal implements asynchronous notifications between components.
//
// A Source hands out capabilities for signal contexts. Submitting to a
// capability accumulates a delivery count on the context and wakes the
// Receiver that manages it. Receivers hand pending signals out one at a time,
// round-robin across their contexts.
package signal

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	ErrNotPending     = errors.New("no signal pending")
	ErrStaleContext   = errors.New("dead signal context")
	ErrAlreadyManaged = errors.New("dispatcher already managed")
	ErrClosed         = errors.New("signal receiver closed")
)

// Level selects when a signal may be dispatched. I/O-level signals may be
// handled while a component waits for I/O progress, application-level
// signals are deferred until the outer dispatch loop runs.
type Level int

const (
	LevelApp Level = iota
	LevelIO
)

func (l Level) String() string {
	switch l {
	case LevelApp:
		return "app"
	case LevelIO:
		return "io"
	}

	return fmt.Sprintf("Level(%d)", int(l))
}

// Capability is the process-unique token of a signal context. The zero value
// is invalid.
type Capability uint64

func (c Capability) Valid() bool { return c != 0 }

// Dispatcher receives the signals delivered to one context.
type Dispatcher interface {
	Dispatch(num uint32)
	Level() Level
}

// Handler is a Dispatcher calling a function for every delivery.
type Handler struct {
	fn    func()
	level Level
}

// NewHandler returns an application-level handler.
func NewHandler(fn func()) *Handler {
	return &Handler{fn: fn, level: LevelApp}
}

// NewIOHandler returns an I/O-level handler.
func NewIOHandler(fn func()) *Handler {
	return &Handler{fn: fn, level: LevelIO}
}

func (h *Handler) Dispatch(uint32) {
	if h.fn != nil {
		h.fn()
	}
}

func (h *Handler) Level() Level { return h.level }

// Signal is one delivery taken from a Receiver.
type Signal struct {
	Capability Capability
	Num        uint32
	Level      Level
}

type context struct {
	cap        Capability
	dispatcher Dispatcher
	level      Level
	receiver   *Receiver

	// guarded by receiver.mu
	pending bool
	num     uint32
	dead    bool
}

// Source is the origin of all signal capabilities of a process.
type Source struct {
	next atomic.Uint64

	mu       sync.Mutex
	contexts map[Capability]*context
}

func NewSource() *Source {
	return &Source{contexts: make(map[Capability]*context)}
}

func (s *Source) register(ctx *context) {
	ctx.cap = Capability(s.next.Add(1))

	s.mu.Lock()
	s.contexts[ctx.cap] = ctx
	s.mu.Unlock()
}

func (s *Source) unregister(c Capability) {
	s.mu.Lock()
	delete(s.contexts, c)
	s.mu.Unlock()
}

// Submit delivers num signals to the context behind c.
func (s *Source) Submit(c Capability, num uint32) error {
	s.mu.Lock()
	ctx, ok := s.contexts[c]
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: capability %d", ErrStaleContext, c)
	}

	return ctx.receiver.submit(ctx, num)
}

// Transmitter submits signals to a single context.
type Transmitter struct {
	src *Source
	cap Capability
}

func NewTransmitter(src *Source, c Capability) Transmitter {
	return Transmitter{src: src, cap: c}
}

func (t Transmitter) Context() Capability { return t.cap }

// Submit delivers one signal. Submitting through a zero Transmitter is a
// no-op.
func (t Transmitter) Submit() error {
	if t.src == nil || !t.cap.Valid() {
		return nil
	}

	return t.src.Submit(t.cap, 1)
}
