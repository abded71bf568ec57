// Package machine drives a single ARMv7 guest vCPU through a hypervisor
// session.
package machine

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/bobuhiro11/govmm/arm"
	"github.com/bobuhiro11/govmm/memory"
	"github.com/sirupsen/logrus"
)

// Guest physical memory layout
//
//	0x2c002000    GIC virtual CPU interface
//	0x80000000    +-----------------+ RAM
//	              |                 |
//	0x80008000    +-----------------+ kernel, ip
//	              |                 |
//	0x84000000    +-----------------+ dtb, r2
//	              |                 |
//	0x88000000    +-----------------+
const (
	RAMAddr      = 0x80000000
	RAMSize      = 128 << 20
	KernelOffset = 0x8000
	DTBOffset    = 64 << 20
	PICAddr      = 0x2C002000

	// vexpress
	MachType = 2272

	// SVC mode, IRQs and FIQs masked
	initialCPSR = 0x93

	initialHCR  = 0b101
	initialVMCR = 0x4c0000
)

var ErrImageTooLarge = errors.New("image does not fit")

type Vm struct {
	session Session
	ram     *memory.RAM
	kernel  []byte
	dtb     []byte
	log     *logrus.Entry

	active atomic.Bool
}

// New attaches ram and the virtual GIC CPU interface to the session.
func New(s Session, ram *memory.RAM, kernel, dtb []byte, log *logrus.Entry) (*Vm, error) {
	if err := s.AttachRAM(ram.Base, ram.Size()); err != nil {
		return nil, fmt.Errorf("attach ram: %w", err)
	}

	if err := s.AttachPIC(PICAddr); err != nil {
		return nil, fmt.Errorf("attach pic: %w", err)
	}

	v := &Vm{session: s, ram: ram, kernel: kernel, dtb: dtb, log: log}
	v.active.Store(true)

	return v, nil
}

func (v *Vm) load(off uint64, img []byte, what string) error {
	if off+uint64(len(img)) > v.ram.Size() {
		return fmt.Errorf("%w: %s of %#x bytes at offset %#x", ErrImageTooLarge, what, len(img), off)
	}

	return v.ram.Load(off, img)
}

// Start loads the kernel and the device tree and puts the vCPU into its
// reset state.
func (v *Vm) Start() error {
	s := v.session.State()
	s.ResetCPU()

	if err := v.load(KernelOffset, v.kernel, "kernel"); err != nil {
		return err
	}

	s.IP = uint32(v.ram.Base + KernelOffset)

	if err := v.load(DTBOffset, v.dtb, "dtb"); err != nil {
		return err
	}

	s.GPR[2] = uint32(v.ram.Base + DTBOffset)
	s.GPR[1] = MachType
	s.CPSR = initialCPSR

	s.Timer = arm.Timer{}

	s.GIC.HCR = initialHCR
	s.GIC.VMCR = initialVMCR
	s.GIC.APR = 0
	s.GIC.LR = [arm.NumListRegs]uint32{}
	s.GIC.ELRSR0 = 1<<arm.NumListRegs - 1

	v.log.Info("ready to run")

	return nil
}

// Run resumes the vCPU unless it waits for an interrupt.
func (v *Vm) Run() error {
	if !v.active.Load() {
		return nil
	}

	return v.session.Run()
}

func (v *Vm) Pause() error { return v.session.Pause() }

func (v *Vm) WaitForInterrupt() { v.active.Store(false) }

func (v *Vm) Interrupt() { v.active.Store(true) }

func (v *Vm) Active() bool { return v.active.Load() }

func (v *Vm) State() *arm.State { return v.session.State() }

func (v *Vm) RAM() *memory.RAM { return v.ram }

func (v *Vm) Session() Session { return v.session }
