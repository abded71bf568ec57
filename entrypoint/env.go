package entrypoint

import (
	"io"
	"sync"

	"github.com/bobuhiro11/govmm/signal"
	"github.com/sirupsen/logrus"
)

// Env is the process-wide context shared by all entrypoints of a component.
//
// Initialisation order:
//  1. NewEnv creates the signal source.
//  2. Construct enables tracing and runs the registered constructors once.
//  3. Construct creates the entrypoint and runs the component function in
//     entrypoint context.
//
// The hooks are invoked by the suspend/resume sequence of an entrypoint and
// may be nil.
type Env struct {
	Source *signal.Source
	Log    *logrus.Entry

	// Tracing stays false until the component is constructed.
	Tracing bool

	Constructors []func()

	InitSignalThread    func()
	DestroySignalThread func()
	InitHeartbeat       func()
	DeinitHeartbeat     func()

	ctorsOnce sync.Once
}

// NewEnv returns an environment with a fresh signal source. A nil logger
// discards all output.
func NewEnv(log *logrus.Entry) *Env {
	if log == nil {
		l := logrus.New()
		l.Out = io.Discard
		log = logrus.NewEntry(l)
	}

	return &Env{
		Source: signal.NewSource(),
		Log:    log,
	}
}

func (e *Env) runConstructors() {
	e.ctorsOnce.Do(func() {
		for _, ctor := range e.Constructors {
			ctor()
		}
	})
}

func hook(fn func()) {
	if fn != nil {
		fn()
	}
}
