package iodev

import (
	"errors"
	"fmt"

	"github.com/bobuhiro11/govmm/arm"
	"github.com/bobuhiro11/govmm/device"
)

var (
	ErrForbidden      = errors.New("sys regs: access forbidden")
	ErrUnsupportedMCC = errors.New("sys regs: unsupported MCC device")
)

const (
	SysRegAddr = 0x1c010000
	SysRegSize = 0x1000
)

// register offsets
const (
	sysLED     = 0x8
	sysMCI     = 0x48
	sysFlash   = 0x4c
	sys24MHz   = 0x5c
	sysMisc    = 0x60
	sysProcID0 = 0x84
	sysCfgData = 0xa0
	sysCfgCtrl = 0xa4
	sysCfgStat = 0xa8
)

// SYS_CFGCTRL fields
const (
	cfgDeviceShift   = 0
	cfgFunctionShift = 20
	cfgWriteBit      = 30
	cfgStartBit      = 31
)

// Clock provides the time base of the 24 MHz counter.
type Clock interface {
	ElapsedMs() uint64
}

// SystemRegister is the system register block of the Versatile Express
// motherboard. Configuration requests to the board's micro controller are
// answered synchronously.
type SystemRegister struct {
	device.Base

	clock   Clock
	spiData uint32
	spiStat uint32
}

func NewSystemRegister(clock Clock) *SystemRegister {
	return &SystemRegister{
		Base:    device.NewBase("System Register", SysRegAddr, SysRegSize),
		clock:   clock,
		spiStat: 1,
	}
}

func (s *SystemRegister) Read32(off uint64) (uint32, error) {
	switch off {
	case sysLED:
		return 0xff, nil
	case sysFlash:
		return 0, nil
	case sys24MHz:
		return uint32(s.clock.ElapsedMs()) * 24000, nil
	case sysMisc:
		return 1 << 12, nil
	case sysProcID0:
		// daughterboard ID
		return 0x14000237, nil
	case sysMCI:
		// no mmc inside
		return 0, nil
	case sysCfgStat:
		return s.spiStat, nil
	case sysCfgCtrl:
		return 0, nil
	case sysCfgData:
		return s.spiData, nil
	}

	return 0, fmt.Errorf("%w: read of offset %#x", ErrForbidden, off)
}

func (s *SystemRegister) Write32(off uint64, v uint32) error {
	switch off {
	case sysCfgData:
		s.spiData = v

		return nil
	case sysCfgStat:
		s.spiStat = v

		return nil
	case sysCfgCtrl:
		if arm.Bit(v, cfgStartBit) {
			s.spiStat = 1

			return s.mccControl(arm.Bits(v, cfgDeviceShift, 12), arm.Bits(v, cfgFunctionShift, 6), arm.Bit(v, cfgWriteBit))
		}
	}

	return fmt.Errorf("%w: write of offset %#x", ErrForbidden, off)
}

var oscClocks = map[uint32]uint32{
	0: 60000000,
	2: 24000000,
	4: 40000000,
	5: 23750000,
	6: 50000000,
	7: 60000000,
	8: 40000000,
}

func (s *SystemRegister) mccControl(dev, fn uint32, write bool) error {
	switch {
	case fn == 1 && !write:
		hz, ok := oscClocks[dev]
		if !ok {
			return fmt.Errorf("%w: OSCCLK%d", ErrUnsupportedMCC, dev)
		}

		s.spiData = hz

		return nil
	case fn == 2 && !write && dev == 0:
		// VOLT0
		s.spiData = 900000

		return nil
	}

	return fmt.Errorf("%w: unknown device %d func=%d write=%v", ErrUnsupportedMCC, dev, fn, write)
}
