package arm_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/bobuhiro11/govmm/arm"
)

func TestBankedRegisters(t *testing.T) {
	t.Parallel()

	var s arm.State

	s.SP, s.LR = 1, 2
	s.Modes[arm.ModeSVC] = arm.Banked{SP: 3, LR: 4}
	s.Modes[arm.ModeIRQ] = arm.Banked{SP: 5, LR: 6}

	for _, tc := range []struct {
		cpsr   uint32
		sp, lr uint32
	}{
		{arm.PsrUSR, 1, 2},
		{arm.PsrSYS, 1, 2},
		{0x93, 3, 4}, // svc, irqs masked
		{arm.PsrIRQ, 5, 6},
	} {
		s.CPSR = tc.cpsr

		sp, err := s.R(13)
		if err != nil {
			t.Fatal(err)
		}

		lr, err := s.R(14)
		if err != nil {
			t.Fatal(err)
		}

		if *sp != tc.sp || *lr != tc.lr {
			t.Fatalf("cpsr %#x: got sp=%d lr=%d, want sp=%d lr=%d", tc.cpsr, *sp, *lr, tc.sp, tc.lr)
		}
	}

	ip, _ := s.R(15)
	*ip = 0x8000

	if s.IP != 0x8000 {
		t.Fatalf("R(15) does not alias ip: got %#x", s.IP)
	}

	if _, err := s.R(16); !errors.Is(err, arm.ErrBadRegister) {
		t.Fatalf("R(16): got %v, want %v", err, arm.ErrBadRegister)
	}
}

func TestResetCPU(t *testing.T) {
	t.Parallel()

	var s arm.State

	s.GPR[0] = 1
	s.IP = 2
	s.CP15.SCTRL = 3
	s.GIC.HCR = 4

	s.ResetCPU()

	if s.GPR[0] != 0 || s.IP != 0 {
		t.Fatalf("register file not cleared: r0=%d ip=%d", s.GPR[0], s.IP)
	}

	if s.CP15.SCTRL != 3 || s.GIC.HCR != 4 {
		t.Fatal("ResetCPU touched coprocessor or GIC state")
	}
}

func TestSyndrome(t *testing.T) {
	t.Parallel()

	s := arm.State{HSR: 0x24<<26 | 1<<24 | 0x3, HPFAR: 0x1c0900, HDFAR: 0x1c090018}

	if s.EC() != arm.ECDataAbort {
		t.Fatalf("EC: got %v, want %v", s.EC(), arm.ECDataAbort)
	}

	if s.ISS() != 1<<24|0x3 {
		t.Fatalf("ISS: got %#x", s.ISS())
	}

	if got := s.FaultAddress(); got != 0x1c090018 {
		t.Fatalf("FaultAddress: got %#x, want %#x", got, 0x1c090018)
	}

	if got := arm.ExceptionTrap.String(); got != "trap" {
		t.Fatalf("ExceptionTrap: got %q, want %q", got, "trap")
	}
}

func TestSkipInst(t *testing.T) {
	t.Parallel()

	s := arm.State{CPU: arm.CPU{IP: 0x80008000}}

	s.SkipInst()
	s.SkipInst()

	if s.IP != 0x80008008 {
		t.Fatalf("ip: got %#x, want %#x", s.IP, 0x80008008)
	}
}

func TestFprint(t *testing.T) {
	t.Parallel()

	var s arm.State

	s.GPR[1] = 0x41
	s.CPSR = 0xffffffff
	s.Exception = arm.ExceptionTrap

	var buf bytes.Buffer

	s.Fprint(&buf)

	for _, want := range []string{
		"  r1         = 0x00000041\n",
		"  cpsr       = 0xffffffff\n",
		"  exception  = trap\n",
	} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("dump lacks %q:\n%s", want, buf.String())
		}
	}
}
