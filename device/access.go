package device

import (
	"fmt"

	"github.com/bobuhiro11/govmm/arm"
)

// access sizes of the data abort syndrome
const (
	sizeByte = iota
	sizeHalfword
	sizeWord
)

// HandleMemoryAccess performs the trapped load or store described by the
// data abort syndrome in s on d. Byte and halfword accesses operate on the
// lane of the target register selected by the low offset bits.
func HandleMemoryAccess(d Device, s *arm.State) error {
	iss := s.ISS()

	if !arm.Bit(iss, 24) || arm.Bit(iss, 21) {
		return fmt.Errorf("%w: device %s: syndrome %#x", ErrInvalidAccess, d.Name(), iss)
	}

	reg, err := s.R(arm.Bits(iss, 16, 4))
	if err != nil {
		return err
	}

	write := arm.Bit(iss, 6)
	off := s.FaultAddress() - d.Addr()

	switch arm.Bits(iss, 22, 2) {
	case sizeByte:
		shift := (off & 0b11) * 8

		if write {
			return d.Write8(off, uint8(*reg>>shift))
		}

		v, err := d.Read8(off)
		if err != nil {
			return err
		}

		*reg = *reg&^(0xff<<shift) | uint32(v)<<shift
	case sizeHalfword:
		shift := (off & 0b1) * 16

		if write {
			return d.Write16(off, uint16(*reg>>shift))
		}

		v, err := d.Read16(off)
		if err != nil {
			return err
		}

		*reg = *reg&^(0xffff<<shift) | uint32(v)<<shift
	case sizeWord:
		if write {
			return d.Write32(off, *reg)
		}

		v, err := d.Read32(off)
		if err != nil {
			return err
		}

		*reg = v
	default:
		return fmt.Errorf("%w: device %s: access size %d", ErrInvalidAccess, d.Name(), arm.Bits(iss, 22, 2))
	}

	return nil
}
