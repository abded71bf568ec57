package timer

import (
	"github.com/bobuhiro11/govmm/arm"
	"github.com/bobuhiro11/govmm/device"
	"github.com/bobuhiro11/govmm/gic"
)

const (
	Addr = 0x2a430000
	Size = 0x1000

	// the guest counter runs at 24 MHz
	ticksPerUs = 24

	ctrlEnable  = 1 << 0
	ctrlIStatus = 1 << 2
)

type VM interface {
	State() *arm.State
}

type IRQController interface {
	RegisterIRQ(irq uint32, d device.Device, eoi bool) error
	InjectIRQ(irq uint32) error
}

type Scheduler interface {
	TriggerOnce(us uint64)
}

// Generic is the virtual timer of the guest. Its registers live in the
// guest state, so it has no MMIO interface.
type Generic struct {
	device.Base

	vm    VM
	gic   IRQController
	timer Scheduler
}

func NewGeneric(vm VM, g IRQController, t Scheduler) (*Generic, error) {
	gt := &Generic{
		Base:  device.NewBase("Timer", Addr, Size),
		vm:    vm,
		gic:   g,
		timer: t,
	}

	if err := g.RegisterIRQ(gic.TimerIRQ, gt, true); err != nil {
		return nil, err
	}

	return gt, nil
}

// ScheduleTimeout arms the host timer for the remaining guest timer value
// unless the guest timer already fired.
func (g *Generic) ScheduleTimeout() {
	s := g.vm.State()

	if s.Timer.Ctrl&(ctrlEnable|ctrlIStatus) != ctrlEnable|ctrlIStatus {
		g.timer.TriggerOnce(uint64(s.Timer.Val / ticksPerUs))
	}
}

// Timeout marks the guest timer as expired and raises its interrupt.
func (g *Generic) Timeout() error {
	s := g.vm.State()

	s.Timer.Ctrl = ctrlEnable | ctrlIStatus
	s.Timer.Val = 0xffffffff

	return g.gic.InjectIRQ(gic.TimerIRQ)
}
