package memory_test

import (
	"errors"
	"testing"

	"github.com/bobuhiro11/govmm/memory"
)

func TestRAM(t *testing.T) {
	t.Parallel()

	ram, err := memory.NewRAM(0x80000000, 0x10000)
	if err != nil {
		t.Fatalf("NewRAM: %v", err)
	}

	defer ram.Close()

	ram.Poison()

	w, err := ram.Word(0x80000100)
	if err != nil {
		t.Fatal(err)
	}

	if w != 0xe7f000f0 {
		t.Fatalf("poisoned word: got %#x, want %#x", w, 0xe7f000f0)
	}

	if err := ram.Load(0x8000, []byte{0x78, 0x56, 0x34, 0x12}); err != nil {
		t.Fatal(err)
	}

	if w, _ := ram.Word(0x80008000); w != 0x12345678 {
		t.Fatalf("Word after Load: got %#x, want %#x", w, 0x12345678)
	}

	if err := ram.Load(0xfffe, []byte{1, 2, 3}); !errors.Is(err, memory.ErrOutOfRange) {
		t.Fatalf("Load past the end: got %v, want %v", err, memory.ErrOutOfRange)
	}

	if _, err := ram.Word(0x7ffffffc); !errors.Is(err, memory.ErrOutOfRange) {
		t.Fatalf("Word below the base: got %v, want %v", err, memory.ErrOutOfRange)
	}
}

func TestAddressSpace(t *testing.T) {
	t.Parallel()

	phys := memory.NewAddressSpace("phys", 0, 1<<32)

	if err := phys.AddAddress(memory.NewAddressSpace("ram", 0x80000000, 0x8000000)); err != nil {
		t.Fatal(err)
	}

	if err := phys.AddAddress(memory.NewAddressSpace("uart", 0x1c090000, 0x1000)); err != nil {
		t.Fatal(err)
	}

	err := phys.AddAddress(memory.NewAddressSpace("bad", 0x80001000, 0x1000))
	if !errors.Is(err, memory.ErrAddrSpaceOccupied) {
		t.Fatalf("overlapping AddAddress: got %v, want %v", err, memory.ErrAddrSpaceOccupied)
	}

	if !phys.IsFree(memory.NewAddressSpace("gic", 0x2c001000, 0x2000)) {
		t.Fatal("IsFree: got false for a free range")
	}
}
