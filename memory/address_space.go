package memory

import (
	"errors"
	"fmt"
)

var ErrAddrSpaceOccupied = errors.New("address space occupied")

// AddressSpace is a named range of the guest physical address map. Regions
// added to it must lie inside it and must not overlap each other.
type AddressSpace struct {
	Name      string
	Start     uint64
	Size      uint64
	Addresses []*AddressSpace
}

func NewAddressSpace(name string, start, size uint64) *AddressSpace {
	return &AddressSpace{
		Name:  name,
		Start: start,
		Size:  size,
	}
}

func (a *AddressSpace) End() uint64 { return a.Start + a.Size }

func (a *AddressSpace) AddAddress(addr *AddressSpace) error {
	if !a.InRange(addr) {
		return fmt.Errorf("%w: %s [%#x-%#x) outside of %s", ErrAddrSpaceOccupied,
			addr.Name, addr.Start, addr.End(), a.Name)
	}

	if other := a.overlap(addr); other != nil {
		return fmt.Errorf("%w: %s [%#x-%#x) overlaps %s", ErrAddrSpaceOccupied,
			addr.Name, addr.Start, addr.End(), other.Name)
	}

	a.Addresses = append(a.Addresses, addr)

	return nil
}

func (a *AddressSpace) InRange(addr *AddressSpace) bool {
	return addr.Start >= a.Start && addr.End() <= a.End() && addr.Start <= addr.End()
}

func (a *AddressSpace) IsFree(ad *AddressSpace) bool {
	return a.overlap(ad) == nil
}

func (a *AddressSpace) overlap(ad *AddressSpace) *AddressSpace {
	for _, addr := range a.Addresses {
		if ad.Start < addr.End() && addr.Start < ad.End() {
			return addr
		}
	}

	return nil
}
