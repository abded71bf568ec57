package machine

import (
	"errors"

	"github.com/bobuhiro11/govmm/arm"
	"github.com/bobuhiro11/govmm/signal"
)

var ErrNotAttached = errors.New("session has no ram attached")

// Session is the hypervisor's view of one virtual CPU. Its state is only
// coherent between an exit and the following Run.
type Session interface {
	State() *arm.State
	AttachRAM(base, size uint64) error
	AttachPIC(addr uint64) error

	// ExitHandler installs the transmitter signalled whenever the vCPU
	// leaves guest mode.
	ExitHandler(tx signal.Transmitter)

	Run() error
	Pause() error

	// Done is closed when the session ended for good.
	Done() <-chan struct{}
}
