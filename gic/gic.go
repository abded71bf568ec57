// Package gic emulates the distributor of an ARM GICv2 and drives the
// virtual CPU interface through the list registers of the guest state.
package gic

import (
	"errors"
	"fmt"

	"github.com/bobuhiro11/govmm/arm"
	"github.com/bobuhiro11/govmm/device"
	"github.com/sirupsen/logrus"
)

var (
	ErrUnsupportedOffset = errors.New("GIC: unsupported offset")
	ErrUnknownIRQ        = errors.New("GIC: unknown IRQ")
	ErrIRQOutOfBounds    = errors.New("GIC: IRQ out of bounds")
	ErrAlreadyPending    = errors.New("pending IRQ should not trigger again")
	ErrQueueFull         = errors.New("IRQ queue full")
)

const (
	Addr = 0x2c001000
	Size = 0x2000

	MaxSGI = 15
	MaxIRQ = 256

	MaintenanceIRQ = 25
	TimerIRQ       = 27
)

// distributor register offsets
const (
	gicdCTLR        = 0x0
	gicdTYPER       = 0x4
	gicdISENABLER0  = 0x100
	gicdISENABLERL  = 0x17c
	gicdICENABLER0  = 0x180
	gicdICENABLERL  = 0x1fc
	gicdIPRIORITYR0 = 0x400
	gicdIPRIORITYRL = 0x7f8
	gicdITARGETSR0  = 0x800
	gicdITARGETSRL  = 0xbf8
	gicdICFGR2      = 0xc08
	gicdICFGRL      = 0xcfc
)

// list register fields
const (
	lrVirtIDShift = 0
	lrPhysIDShift = 10
	lrStateShift  = 28

	lrStatePending = 0b1
	lrEOIRequest   = 1 << 9
)

// VM is the part of the virtual machine the GIC drives.
type VM interface {
	State() *arm.State
	Interrupt()
}

type cpuState int

const (
	inactive cpuState = iota
	pending
)

type distrState int

const (
	disabled distrState = iota
	enabled
)

type irq struct {
	cpu    cpuState
	distr  distrState
	device device.Device
	eoi    bool
}

type Gic struct {
	device.Base

	vm  VM
	log *logrus.Entry

	distrEnabled bool
	irqs         [MaxIRQ + 1]irq
}

func New(vm VM, log *logrus.Entry) *Gic {
	g := &Gic{
		Base: device.NewBase("Gic", Addr, Size),
		vm:   vm,
		log:  log.WithField("device", "Gic"),
	}

	for i := 0; i <= MaxSGI; i++ {
		g.irqs[i].device = g
	}

	return g
}

// RegisterIRQ assigns irq to d. Devices that need the guest's end of
// interrupt set eoi; their IRQ cannot be injected again before that.
func (g *Gic) RegisterIRQ(irq uint32, d device.Device, eoi bool) error {
	if irq > MaxIRQ {
		return fmt.Errorf("%w: %d", ErrIRQOutOfBounds, irq)
	}

	g.irqs[irq].device = d
	g.irqs[irq].eoi = eoi

	return nil
}

// Enabled reports whether the distributor forwards irq.
func (g *Gic) Enabled(irq uint32) bool {
	return irq <= MaxIRQ && g.irqs[irq].distr == enabled
}

func (g *Gic) DistributorEnabled() bool { return g.distrEnabled }

func (g *Gic) Read32(off uint64) (uint32, error) {
	switch {
	case off >= gicdICFGR2 && off <= gicdICFGRL:
		return 0, nil
	case off >= gicdISENABLER0 && off <= gicdISENABLERL:
		idx := uint32(off-gicdISENABLER0) * 8

		var v uint32

		for i := uint32(0); i < 32; i++ {
			if g.Enabled(idx + i) {
				v |= 1 << i
			}
		}

		return v, nil
	case off >= gicdITARGETSR0 && off <= gicdITARGETSRL:
		return 0x01010101, nil
	case off == gicdCTLR:
		if g.distrEnabled {
			return 1, nil
		}

		return 0, nil
	case off == gicdTYPER:
		return 0b101, nil
	}

	return 0, fmt.Errorf("%w: read of %#x", ErrUnsupportedOffset, off)
}

func (g *Gic) Write32(off uint64, v uint32) error {
	switch {
	// only cpu0 as target
	case off >= gicdITARGETSR0 && off <= gicdITARGETSRL && v == 0x01010101:
		return nil
	// only level triggered, active low
	case off >= gicdICFGR2 && off <= gicdICFGRL && v == 0:
		return nil
	case off >= gicdIPRIORITYR0 && off <= gicdIPRIORITYRL:
		return nil
	case off >= gicdISENABLER0 && off <= gicdISENABLERL:
		idx := uint32(off-gicdISENABLER0) * 8

		for i := uint32(0); i < 32; i++ {
			if v&(1<<i) == 0 {
				continue
			}

			if err := g.enableIRQ(idx + i); err != nil {
				return err
			}
		}

		return nil
	case off >= gicdICENABLER0 && off <= gicdICENABLERL:
		idx := uint32(off-gicdICENABLER0) * 8

		for i := uint32(0); i < 32; i++ {
			if v&(1<<i) == 0 {
				continue
			}

			if err := g.disableIRQ(idx + i); err != nil {
				return err
			}
		}

		return nil
	case off == gicdCTLR:
		g.distrEnabled = v&1 != 0

		return nil
	}

	return fmt.Errorf("%w: write of %#x to %#x", ErrUnsupportedOffset, v, off)
}

func (g *Gic) enableIRQ(n uint32) error {
	if n > MaxIRQ || g.irqs[n].device == nil {
		return fmt.Errorf("%w: can't enable IRQ %d", ErrUnknownIRQ, n)
	}

	irq := &g.irqs[n]
	if irq.distr == enabled {
		return nil
	}

	irq.distr = enabled
	irq.device.IRQEnabled(n)

	if n == TimerIRQ {
		g.vm.State().Timer.IRQ = true
	}

	return nil
}

func (g *Gic) disableIRQ(n uint32) error {
	if n > MaxIRQ {
		return fmt.Errorf("%w: %d", ErrIRQOutOfBounds, n)
	}

	irq := &g.irqs[n]
	if irq.distr == disabled {
		return nil
	}

	irq.distr = disabled
	irq.device.IRQDisabled(n)

	if n == TimerIRQ {
		g.vm.State().Timer.IRQ = false
	}

	return nil
}

// InjectIRQ raises irq towards the guest and wakes the VM.
func (g *Gic) InjectIRQ(n uint32) error {
	if n > MaxIRQ || g.irqs[n].device == nil {
		return fmt.Errorf("%w: no device registered for IRQ %d", ErrUnknownIRQ, n)
	}

	irq := &g.irqs[n]

	if irq.cpu == pending {
		return fmt.Errorf("%w: IRQ %d", ErrAlreadyPending, n)
	}

	// A masked IRQ never reaches the guest, so it cannot become pending.
	if irq.distr == disabled {
		g.log.WithField("irq", n).Warn("disabled irq injected")

		return nil
	}

	if irq.eoi {
		irq.cpu = pending
	}

	if err := g.injectIRQ(n, irq.eoi); err != nil {
		return err
	}

	g.vm.Interrupt()

	return nil
}

func (g *Gic) injectIRQ(n uint32, eoi bool) error {
	s := g.vm.State()

	if n == TimerIRQ {
		s.Timer.IRQ = false
	}

	for i := 0; i < arm.NumListRegs; i++ {
		if s.GIC.ELRSR0&(1<<i) == 0 && arm.Bits(s.GIC.LR[i], lrVirtIDShift, 10) == n {
			return nil
		}
	}

	for i := 0; i < arm.NumListRegs; i++ {
		if s.GIC.ELRSR0&(1<<i) == 0 {
			continue
		}

		var phys uint32
		if eoi {
			phys = lrEOIRequest
		}

		s.GIC.ELRSR0 &^= 1 << i
		// priority 0
		s.GIC.LR[i] = n<<lrVirtIDShift | phys<<lrPhysIDShift | lrStatePending<<lrStateShift

		return nil
	}

	return fmt.Errorf("%w, can't inject irq %d", ErrQueueFull, n)
}

// handleEOI retires the list registers the guest acknowledged.
func (g *Gic) handleEOI() error {
	s := g.vm.State()

	if s.GIC.MISR&1 == 0 {
		return nil
	}

	for i := 0; i < arm.NumListRegs; i++ {
		if s.GIC.EISR&(1<<i) == 0 {
			continue
		}

		n := arm.Bits(s.GIC.LR[i], lrVirtIDShift, 10)
		if n > MaxIRQ {
			return fmt.Errorf("%w: %d", ErrIRQOutOfBounds, n)
		}

		s.GIC.LR[i] = 0
		s.GIC.ELRSR0 |= 1 << i
		s.GIC.EISR &^= 1 << i

		irq := &g.irqs[n]

		if n == TimerIRQ && irq.distr == enabled {
			s.Timer.IRQ = true
		}

		irq.cpu = inactive

		if irq.device != nil {
			irq.device.IRQHandled(n)
		}
	}

	s.GIC.MISR = 0

	return nil
}

// IRQOccurred handles a physical interrupt that made the VM exit.
func (g *Gic) IRQOccurred() error {
	switch n := g.vm.State().GIC.IRQ; n {
	case MaintenanceIRQ:
		return g.handleEOI()
	case TimerIRQ:
		return g.InjectIRQ(TimerIRQ)
	default:
		return fmt.Errorf("%w: IRQ %d occurred", ErrUnknownIRQ, n)
	}
}
