// Package arm describes the ARMv7 guest CPU state shared between the
// hypervisor session and the device emulation.
package arm

import (
	"errors"
	"fmt"
)

var ErrBadRegister = errors.New("bad register")

// Exception is the reason the vCPU left guest mode.
type Exception uint32

const (
	ExceptionNone Exception = iota
	ExceptionReset
	ExceptionUndefined
	ExceptionSVC
	ExceptionPrefetchAbort
	ExceptionDataAbort
	ExceptionIRQ
	ExceptionFIQ
	ExceptionTrap
)

var exceptionNames = [...]string{
	"nope", "reset", "undefined", "svc", "pf_abort",
	"data_abort", "irq", "fiq", "trap",
}

func (e Exception) String() string {
	if int(e) < len(exceptionNames) {
		return exceptionNames[e]
	}

	return fmt.Sprintf("Exception(%d)", uint32(e))
}

// Mode indexes the banked register sets.
type Mode int

const (
	ModeUND Mode = iota
	ModeSVC
	ModeABT
	ModeIRQ
	ModeFIQ
	NumModes
)

var modeNames = [...]string{"und", "svc", "abt", "irq", "fiq"}

func (m Mode) String() string {
	if m >= 0 && m < NumModes {
		return modeNames[m]
	}

	return fmt.Sprintf("Mode(%d)", int(m))
}

// CPSR.M values.
const (
	PsrUSR = 0x10
	PsrFIQ = 0x11
	PsrIRQ = 0x12
	PsrSVC = 0x13
	PsrABT = 0x17
	PsrUND = 0x1b
	PsrSYS = 0x1f
)

type Banked struct {
	SP   uint32
	LR   uint32
	SPSR uint32
}

// CPU is the general purpose register file. ResetCPU clears exactly this
// part of the state.
type CPU struct {
	GPR       [13]uint32
	SP        uint32
	LR        uint32
	IP        uint32
	CPSR      uint32
	Modes     [NumModes]Banked
	Exception Exception
}

// Coproc holds the shadowed cp15 registers.
type Coproc struct {
	MIDR, MPIDR, CTR, CCSIDR, CLIDR uint32
	PFR0, MMFR0                     uint32
	ISAR0, ISAR3, ISAR4             uint32
	CSSELR, SCTRL, ACTRL, CPACR     uint32
	TTBR0, TTBR1, TTBCR, DACR       uint32
	DFSR, IFSR, ADFSR, AIFSR        uint32
	DFAR, IFAR                      uint32
	PRRR, NMRR, CIDR                uint32
}

// NumListRegs is the number of virtual GIC list registers.
const NumListRegs = 4

// GIC is the shadow of the virtual GIC hypervisor interface.
type GIC struct {
	HCR    uint32
	VMCR   uint32
	MISR   uint32
	APR    uint32
	EISR   uint32
	ELRSR0 uint32
	LR     [NumListRegs]uint32
	IRQ    uint32
}

type Timer struct {
	Ctrl uint32
	Val  uint32
	IRQ  bool
}

type State struct {
	CPU

	HSR   uint32
	HPFAR uint32
	HDFAR uint32
	HIFAR uint32

	CP15  Coproc
	GIC   GIC
	Timer Timer
}

// InstSize is the width of an instruction in ARM state.
const InstSize = 4

// SkipInst moves ip past the trapping instruction.
func (s *State) SkipInst() { s.IP += InstSize }

// ResetCPU clears the register file, leaving coprocessor, GIC and timer
// state untouched.
func (s *State) ResetCPU() {
	s.CPU = CPU{}
}

// BankedMode returns the banked register set selected by CPSR. USR and SYS
// mode use the plain sp and lr.
func (s *State) BankedMode() (Mode, bool) {
	switch s.CPSR & 0x1f {
	case PsrFIQ:
		return ModeFIQ, true
	case PsrIRQ:
		return ModeIRQ, true
	case PsrSVC:
		return ModeSVC, true
	case PsrABT:
		return ModeABT, true
	case PsrUND:
		return ModeUND, true
	}

	return 0, false
}

// R returns a pointer to register i as seen by the current mode.
func (s *State) R(i uint32) (*uint32, error) {
	switch {
	case i < 13:
		return &s.GPR[i], nil
	case i == 13:
		if m, ok := s.BankedMode(); ok {
			return &s.Modes[m].SP, nil
		}

		return &s.SP, nil
	case i == 14:
		if m, ok := s.BankedMode(); ok {
			return &s.Modes[m].LR, nil
		}

		return &s.LR, nil
	case i == 15:
		return &s.IP, nil
	}

	return nil, fmt.Errorf("%w: r%d", ErrBadRegister, i)
}
