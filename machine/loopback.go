package machine

import (
	"sync"

	"github.com/bobuhiro11/govmm/arm"
	"github.com/bobuhiro11/govmm/signal"
)

// Loopback is an in-process session. The "guest" only ever does what Exit
// tells it to.
type Loopback struct {
	state arm.State

	mu      sync.Mutex
	exit    signal.Transmitter
	ramBase uint64
	ramSize uint64
	pic     uint64
	running bool
	runs    int
	pauses  int

	ran       chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func NewLoopback() *Loopback {
	return &Loopback{
		ran:  make(chan struct{}, 64),
		done: make(chan struct{}),
	}
}

func (l *Loopback) State() *arm.State { return &l.state }

func (l *Loopback) AttachRAM(base, size uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.ramBase, l.ramSize = base, size

	return nil
}

func (l *Loopback) AttachPIC(addr uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ramSize == 0 {
		return ErrNotAttached
	}

	l.pic = addr

	return nil
}

func (l *Loopback) PIC() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.pic
}

func (l *Loopback) ExitHandler(tx signal.Transmitter) {
	l.mu.Lock()
	l.exit = tx
	l.mu.Unlock()
}

func (l *Loopback) Run() error {
	l.mu.Lock()
	l.running = true
	l.runs++
	l.mu.Unlock()

	select {
	case l.ran <- struct{}{}:
	default:
	}

	return nil
}

func (l *Loopback) Pause() error {
	l.mu.Lock()
	l.running = false
	l.pauses++
	l.mu.Unlock()

	return nil
}

// Exit lets fn change the vCPU state as the hardware would on an exit and
// signals the exit handler. Callers must not race with the handling of a
// previous exit.
func (l *Loopback) Exit(fn func(*arm.State)) error {
	l.mu.Lock()
	l.running = false
	fn(&l.state)
	tx := l.exit
	l.mu.Unlock()

	return tx.Submit()
}

// Ran delivers one token per Run, dropping tokens nobody collects.
func (l *Loopback) Ran() <-chan struct{} { return l.ran }

func (l *Loopback) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.running
}

// Counts returns how often the vCPU was run and paused.
func (l *Loopback) Counts() (runs, pauses int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.runs, l.pauses
}

func (l *Loopback) Done() <-chan struct{} { return l.done }

func (l *Loopback) Close() {
	l.closeOnce.Do(func() { close(l.done) })
}
