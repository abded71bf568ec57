package machine

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/bobuhiro11/govmm/arm"
	"github.com/bobuhiro11/govmm/signal"
	"gopkg.in/yaml.v3"
)

var (
	ErrUnknownException = errors.New("unknown exception")
	ErrUnknownRegister  = errors.New("unknown register")
)

// Step is one scripted vCPU exit.
type Step struct {
	Exception string            `yaml:"exception"`
	HSR       uint32            `yaml:"hsr"`
	HPFAR     uint32            `yaml:"hpfar"`
	HDFAR     uint32            `yaml:"hdfar"`
	IRQ       uint32            `yaml:"irq"`
	Regs      map[string]uint32 `yaml:"regs"`
}

type Script struct {
	Exits []Step `yaml:"exits"`
}

func ParseScript(r io.Reader) (*Script, error) {
	var s Script

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("replay script: %w", err)
	}

	for i, st := range s.Exits {
		if _, err := parseException(st.Exception); err != nil {
			return nil, fmt.Errorf("exit %d: %w", i, err)
		}

		for name := range st.Regs {
			if _, err := regIndex(name); err != nil {
				return nil, fmt.Errorf("exit %d: %w", i, err)
			}
		}
	}

	return &s, nil
}

func LoadScript(path string) (*Script, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ParseScript(f)
}

func parseException(name string) (arm.Exception, error) {
	if name == "" {
		return arm.ExceptionTrap, nil
	}

	for e := arm.ExceptionNone; e <= arm.ExceptionTrap; e++ {
		if strings.EqualFold(e.String(), name) {
			return e, nil
		}
	}

	return 0, fmt.Errorf("%w: %q", ErrUnknownException, name)
}

func regIndex(name string) (uint32, error) {
	switch strings.ToLower(name) {
	case "sp":
		return 13, nil
	case "lr":
		return 14, nil
	case "ip", "pc":
		return 15, nil
	case "cpsr":
		return 16, nil
	}

	var n uint32
	if _, err := fmt.Sscanf(strings.ToLower(name), "r%d", &n); err != nil || n > 15 {
		return 0, fmt.Errorf("%w: %q", ErrUnknownRegister, name)
	}

	return n, nil
}

// Replay is a session playing a recorded exit script. Every Run delivers
// the next exit, and the session is done after the last one was handled.
type Replay struct {
	state  arm.State
	script *Script

	mu        sync.Mutex
	exit      signal.Transmitter
	next      int
	done      chan struct{}
	closeOnce sync.Once
}

func NewReplay(s *Script) *Replay {
	return &Replay{script: s, done: make(chan struct{})}
}

func (r *Replay) State() *arm.State { return &r.state }

func (r *Replay) AttachRAM(uint64, uint64) error { return nil }
func (r *Replay) AttachPIC(uint64) error         { return nil }

func (r *Replay) ExitHandler(tx signal.Transmitter) {
	r.mu.Lock()
	r.exit = tx
	r.mu.Unlock()
}

func (r *Replay) Pause() error { return nil }

func (r *Replay) Run() error {
	r.mu.Lock()

	if r.next >= len(r.script.Exits) {
		r.mu.Unlock()
		r.closeOnce.Do(func() { close(r.done) })

		return nil
	}

	st := r.script.Exits[r.next]
	r.next++
	tx := r.exit
	r.mu.Unlock()

	if err := r.apply(st); err != nil {
		return err
	}

	return tx.Submit()
}

func (r *Replay) apply(st Step) error {
	s := &r.state

	e, err := parseException(st.Exception)
	if err != nil {
		return err
	}

	s.Exception = e
	s.HSR, s.HPFAR, s.HDFAR = st.HSR, st.HPFAR, st.HDFAR
	s.GIC.IRQ = st.IRQ

	// the mode selects the banked sp and lr, so it goes first
	for name, v := range st.Regs {
		if strings.EqualFold(name, "cpsr") {
			s.CPSR = v
		}
	}

	for name, v := range st.Regs {
		i, err := regIndex(name)
		if err != nil {
			return err
		}

		if i == 16 {
			continue
		}

		reg, err := s.R(i)
		if err != nil {
			return err
		}

		*reg = v
	}

	return nil
}

// Played is the number of exits delivered so far.
func (r *Replay) Played() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.next
}

func (r *Replay) Done() <-chan struct{} { return r.done }
