package iodev_test

import (
	"errors"
	"testing"

	"github.com/bobuhiro11/govmm/iodev"
)

type clock uint64

func (c clock) ElapsedMs() uint64 { return uint64(c) }

func TestSystemRegisterRead(t *testing.T) {
	t.Parallel()

	s := iodev.NewSystemRegister(clock(2))

	for off, want := range map[uint64]uint32{
		0x08: 0xff,
		0x4c: 0,
		0x5c: 48000,
		0x60: 1 << 12,
		0x84: 0x14000237,
		0x48: 0,
		0xa8: 1,
		0xa4: 0,
	} {
		got, err := s.Read32(off)
		if err != nil {
			t.Fatalf("Read32(%#x): %v", off, err)
		}

		if got != want {
			t.Fatalf("Read32(%#x): got %#x, want %#x", off, got, want)
		}
	}

	if _, err := s.Read32(0x0); !errors.Is(err, iodev.ErrForbidden) {
		t.Fatalf("Read32(0): got %v, want %v", err, iodev.ErrForbidden)
	}
}

func TestSystemRegisterClockQuery(t *testing.T) {
	t.Parallel()

	s := iodev.NewSystemRegister(clock(0))

	// start, read, function 1 (oscillator), device 5
	if err := s.Write32(0xa4, 1<<31|1<<20|5); err != nil {
		t.Fatalf("CFGCTRL: %v", err)
	}

	if got, _ := s.Read32(0xa0); got != 23750000 {
		t.Fatalf("CFGDATA: got %d, want %d", got, 23750000)
	}

	// function 2 (voltage), device 0
	if err := s.Write32(0xa4, 1<<31|2<<20); err != nil {
		t.Fatalf("CFGCTRL: %v", err)
	}

	if got, _ := s.Read32(0xa0); got != 900000 {
		t.Fatalf("CFGDATA: got %d, want %d", got, 900000)
	}

	if err := s.Write32(0xa4, 1<<31|1<<20|3); !errors.Is(err, iodev.ErrUnsupportedMCC) {
		t.Fatalf("OSCCLK3: got %v, want %v", err, iodev.ErrUnsupportedMCC)
	}

	if err := s.Write32(0xa4, 1<<31|1<<30|1<<20); !errors.Is(err, iodev.ErrUnsupportedMCC) {
		t.Fatalf("oscillator write: got %v, want %v", err, iodev.ErrUnsupportedMCC)
	}
}

func TestSystemRegisterForbiddenWrites(t *testing.T) {
	t.Parallel()

	s := iodev.NewSystemRegister(clock(0))

	for _, off := range []uint64{0xa4, 0x5c, 0x60, 0x84, 0x48, 0x8} {
		if err := s.Write32(off, 0); !errors.Is(err, iodev.ErrForbidden) {
			t.Fatalf("Write32(%#x): got %v, want %v", off, err, iodev.ErrForbidden)
		}
	}

	if err := s.Write32(0xa8, 0); err != nil {
		t.Fatalf("CFGSTAT write: %v", err)
	}

	if got, _ := s.Read32(0xa8); got != 0 {
		t.Fatalf("CFGSTAT: got %d, want 0", got)
	}
}
