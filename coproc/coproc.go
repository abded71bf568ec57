// Package coproc emulates trapped coprocessor register accesses.
package coproc

import (
	"errors"
	"fmt"

	"github.com/bobuhiro11/govmm/arm"
	"github.com/google/btree"
)

var (
	ErrUnknownRegister = errors.New("unknown coprocessor register")
	ErrReadOnly        = errors.New("coprocessor register is read-only")
	ErrDuplicate       = errors.New("coprocessor register already registered")
)

// Encoding identifies a register by its (CRn, Opc1, CRm, Opc2) tuple, laid
// out like the corresponding fields of the trap syndrome.
type Encoding uint32

const (
	crmShift = 1
	crnShift = 10
	op1Shift = 14
	op2Shift = 17

	encodingMask = 0xf<<crmShift | 0xf<<crnShift | 0x7<<op1Shift | 0x7<<op2Shift
)

func NewEncoding(crn, op1, crm, op2 uint32) Encoding {
	return Encoding(crm<<crmShift | crn<<crnShift | op1<<op1Shift | op2<<op2Shift)
}

// EncodingOf extracts the register encoding of a trap syndrome.
func EncodingOf(iss uint32) Encoding {
	return Encoding(iss & encodingMask)
}

func (e Encoding) String() string {
	v := uint32(e)

	return fmt.Sprintf("CRn=%d, CRm=%d, Opc1=%d, Opc2=%d",
		arm.Bits(v, crnShift, 4), arm.Bits(v, crmShift, 4),
		arm.Bits(v, op1Shift, 3), arm.Bits(v, op2Shift, 3))
}

// Register is a shadowed coprocessor register backed by a field of the CPU
// state.
type Register struct {
	Name     string
	Encoding Encoding
	Writable bool
	Field    func(*arm.State) *uint32
	Reset    uint32
}

type entry struct {
	enc Encoding
	idx int
}

// Registry keeps registers ordered by encoding.
type Registry struct {
	name  string
	arena []Register
	tree  *btree.BTreeG[entry]
}

func NewRegistry(name string) *Registry {
	return &Registry{
		name: name,
		tree: btree.NewG(2, func(a, b entry) bool { return a.enc < b.enc }),
	}
}

func (r *Registry) Insert(reg Register) error {
	if _, ok := r.tree.Get(entry{enc: reg.Encoding}); ok {
		return fmt.Errorf("%w: %s (%v)", ErrDuplicate, reg.Name, reg.Encoding)
	}

	r.arena = append(r.arena, reg)
	r.tree.ReplaceOrInsert(entry{enc: reg.Encoding, idx: len(r.arena) - 1})

	return nil
}

func (r *Registry) Find(enc Encoding) (*Register, bool) {
	e, ok := r.tree.Get(entry{enc: enc})
	if !ok {
		return nil, false
	}

	return &r.arena[e.idx], true
}

func (r *Registry) Len() int { return r.tree.Len() }

// Reset writes the reset value of every register into s.
func (r *Registry) Reset(s *arm.State) {
	for i := range r.arena {
		*r.arena[i].Field(s) = r.arena[i].Reset
	}
}

// HandleTrap emulates the MRC/MCR access described by the syndrome in s and
// advances ip past the trapping instruction.
func (r *Registry) HandleTrap(s *arm.State) error {
	iss := s.ISS()
	enc := EncodingOf(iss)

	reg, ok := r.Find(enc)
	if !ok {
		return fmt.Errorf("%w: %s access @ %v", ErrUnknownRegister, r.name, enc)
	}

	rt, err := s.R(arm.Bits(iss, 5, 4))
	if err != nil {
		return err
	}

	if arm.Bit(iss, 0) {
		*rt = *reg.Field(s)
	} else {
		if !reg.Writable {
			return fmt.Errorf("%w: writing to %s register %s", ErrReadOnly, r.name, reg.Name)
		}

		*reg.Field(s) = *rt
	}

	s.SkipInst()

	return nil
}
