// Package device defines memory-mapped devices of the guest and the
// address-ordered registry that routes data aborts to them.
package device

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedWidth = errors.New("access width not allowed")
	ErrInvalidAccess    = errors.New("invalid memory access")
	ErrNoDevice         = errors.New("no device")
	ErrOverlap          = errors.New("device range overlaps")
)

// Device describes the interface a memory-mapped device must implement.
// Offsets are relative to Addr. Embedding Base provides failing defaults for
// every access width and no-op IRQ hooks.
type Device interface {
	Name() string
	Addr() uint64
	Size() uint64

	Read32(off uint64) (uint32, error)
	Read16(off uint64) (uint16, error)
	Read8(off uint64) (uint8, error)
	Write32(off uint64, v uint32) error
	Write16(off uint64, v uint16) error
	Write8(off uint64, v uint8) error

	IRQEnabled(irq uint32)
	IRQDisabled(irq uint32)
	IRQHandled(irq uint32)
}

type Base struct {
	name string
	addr uint64
	size uint64
}

func NewBase(name string, addr, size uint64) Base {
	return Base{name: name, addr: addr, size: size}
}

func (b Base) Name() string { return b.name }
func (b Base) Addr() uint64 { return b.addr }
func (b Base) Size() uint64 { return b.size }

// Contains reports whether the guest physical address addr is inside the
// device.
func (b Base) Contains(addr uint64) bool {
	return addr >= b.addr && addr-b.addr < b.size
}

func (b Base) notAllowed(what string, off uint64) error {
	return fmt.Errorf("%w: device %s: %s of %#x not allowed", ErrUnsupportedWidth, b.name, what, off)
}

func (b Base) Read32(off uint64) (uint32, error) { return 0, b.notAllowed("word-wise read", off) }
func (b Base) Read16(off uint64) (uint16, error) { return 0, b.notAllowed("halfword-wise read", off) }
func (b Base) Read8(off uint64) (uint8, error)   { return 0, b.notAllowed("byte-wise read", off) }

func (b Base) Write32(off uint64, _ uint32) error { return b.notAllowed("word-wise write", off) }
func (b Base) Write16(off uint64, _ uint16) error { return b.notAllowed("halfword-wise write", off) }
func (b Base) Write8(off uint64, _ uint8) error   { return b.notAllowed("byte-wise write", off) }

func (b Base) IRQEnabled(uint32)  {}
func (b Base) IRQDisabled(uint32) {}
func (b Base) IRQHandled(uint32)  {}
