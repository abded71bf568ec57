package device

import (
	"fmt"

	"github.com/google/btree"
)

type entry struct {
	base uint64
	idx  int
}

// Registry keeps devices ordered by base address. Devices live in an arena
// and keep their index for the lifetime of the registry.
type Registry struct {
	arena []Device
	tree  *btree.BTreeG[entry]
}

func NewRegistry() *Registry {
	return &Registry{
		tree: btree.NewG(2, func(a, b entry) bool { return a.base < b.base }),
	}
}

func (r *Registry) Insert(d Device) error {
	end := d.Addr() + d.Size()

	var clash Device

	r.tree.DescendLessOrEqual(entry{base: d.Addr()}, func(e entry) bool {
		if prev := r.arena[e.idx]; prev.Addr()+prev.Size() > d.Addr() {
			clash = prev
		}

		return false
	})

	r.tree.AscendGreaterOrEqual(entry{base: d.Addr()}, func(e entry) bool {
		if next := r.arena[e.idx]; next.Addr() < end {
			clash = next
		}

		return false
	})

	if clash != nil {
		return fmt.Errorf("%w: %s [%#x-%#x) and %s", ErrOverlap, d.Name(), d.Addr(), end, clash.Name())
	}

	r.arena = append(r.arena, d)
	r.tree.ReplaceOrInsert(entry{base: d.Addr(), idx: len(r.arena) - 1})

	return nil
}

// Find returns the device whose range encloses addr.
func (r *Registry) Find(addr uint64) (Device, error) {
	var found Device

	r.tree.DescendLessOrEqual(entry{base: addr}, func(e entry) bool {
		if d := r.arena[e.idx]; addr-d.Addr() < d.Size() {
			found = d
		}

		return false
	})

	if found == nil {
		return nil, fmt.Errorf("%w at IPA %#x", ErrNoDevice, addr)
	}

	return found, nil
}

// Devices returns all devices in address order.
func (r *Registry) Devices() []Device {
	devs := make([]Device, 0, r.tree.Len())

	r.tree.Ascend(func(e entry) bool {
		devs = append(devs, r.arena[e.idx])

		return true
	})

	return devs
}

func (r *Registry) Len() int { return r.tree.Len() }
