package coproc

import "github.com/bobuhiro11/govmm/arm"

func field(f func(c *arm.Coproc) *uint32) func(*arm.State) *uint32 {
	return func(s *arm.State) *uint32 { return f(&s.CP15) }
}

var cp15Registers = []Register{
	{"MIDR", NewEncoding(0, 0, 0, 0), false, field(func(c *arm.Coproc) *uint32 { return &c.MIDR }), 0x412fc0f1},
	{"MPIDR", NewEncoding(0, 0, 0, 5), false, field(func(c *arm.Coproc) *uint32 { return &c.MPIDR }), 0x40000000},
	{"CTR", NewEncoding(0, 0, 0, 1), false, field(func(c *arm.Coproc) *uint32 { return &c.CTR }), 0x8444c004},
	{"CCSIDR", NewEncoding(0, 1, 0, 0), false, field(func(c *arm.Coproc) *uint32 { return &c.CCSIDR }), 0x701fe00a},
	{"CLIDR", NewEncoding(0, 1, 0, 1), false, field(func(c *arm.Coproc) *uint32 { return &c.CLIDR }), 0x0a200023},
	{"PFR0", NewEncoding(0, 0, 1, 0), false, field(func(c *arm.Coproc) *uint32 { return &c.PFR0 }), 0x00001031},
	{"MMFR0", NewEncoding(0, 0, 1, 4), false, field(func(c *arm.Coproc) *uint32 { return &c.MMFR0 }), 0x10201105},
	{"ISAR0", NewEncoding(0, 0, 2, 0), false, field(func(c *arm.Coproc) *uint32 { return &c.ISAR0 }), 0x02101110},
	{"ISAR3", NewEncoding(0, 0, 2, 3), false, field(func(c *arm.Coproc) *uint32 { return &c.ISAR3 }), 0x11112131},
	{"ISAR4", NewEncoding(0, 0, 2, 4), false, field(func(c *arm.Coproc) *uint32 { return &c.ISAR4 }), 0x10011142},
	{"CSSELR", NewEncoding(0, 2, 0, 0), true, field(func(c *arm.Coproc) *uint32 { return &c.CSSELR }), 0},
	{"SCTRL", NewEncoding(1, 0, 0, 0), true, field(func(c *arm.Coproc) *uint32 { return &c.SCTRL }), 0},
	{"ACTRL", NewEncoding(1, 0, 0, 1), true, field(func(c *arm.Coproc) *uint32 { return &c.ACTRL }), 0x00000040},
	{"CPACR", NewEncoding(1, 0, 0, 2), true, field(func(c *arm.Coproc) *uint32 { return &c.CPACR }), 0},
	{"TTBR0", NewEncoding(2, 0, 0, 0), true, field(func(c *arm.Coproc) *uint32 { return &c.TTBR0 }), 0},
	{"TTBR1", NewEncoding(2, 0, 0, 1), true, field(func(c *arm.Coproc) *uint32 { return &c.TTBR1 }), 0},
	{"TTBCR", NewEncoding(2, 0, 0, 2), true, field(func(c *arm.Coproc) *uint32 { return &c.TTBCR }), 0},
	{"DACR", NewEncoding(3, 0, 0, 0), true, field(func(c *arm.Coproc) *uint32 { return &c.DACR }), 0x55555555},
	{"DFSR", NewEncoding(5, 0, 0, 0), true, field(func(c *arm.Coproc) *uint32 { return &c.DFSR }), 0},
	{"IFSR", NewEncoding(5, 0, 0, 1), true, field(func(c *arm.Coproc) *uint32 { return &c.IFSR }), 0},
	{"ADFSR", NewEncoding(5, 0, 1, 0), true, field(func(c *arm.Coproc) *uint32 { return &c.ADFSR }), 0},
	{"AIFSR", NewEncoding(5, 0, 1, 1), true, field(func(c *arm.Coproc) *uint32 { return &c.AIFSR }), 0},
	{"DFAR", NewEncoding(6, 0, 0, 0), true, field(func(c *arm.Coproc) *uint32 { return &c.DFAR }), 0},
	{"IFAR", NewEncoding(6, 0, 0, 2), true, field(func(c *arm.Coproc) *uint32 { return &c.IFAR }), 0},
	{"PRRR", NewEncoding(10, 0, 2, 0), true, field(func(c *arm.Coproc) *uint32 { return &c.PRRR }), 0x00098aa4},
	{"NMRR", NewEncoding(10, 0, 2, 1), true, field(func(c *arm.Coproc) *uint32 { return &c.NMRR }), 0x44e048e0},
	{"CONTEXTIDR", NewEncoding(13, 0, 0, 1), true, field(func(c *arm.Coproc) *uint32 { return &c.CIDR }), 0},
}

// NewCp15 returns the system control coprocessor and puts its registers
// into their reset state.
func NewCp15(s *arm.State) (*Registry, error) {
	r := NewRegistry("cp15")

	for _, reg := range cp15Registers {
		if err := r.Insert(reg); err != nil {
			return nil, err
		}
	}

	r.Reset(s)

	return r, nil
}
