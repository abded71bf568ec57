package arm

import "fmt"

// EC is the exception class of a hypervisor trap (HSR[31:26]).
type EC uint32

const (
	ECWFI       EC = 0x01
	ECCP15      EC = 0x03
	ECHVC       EC = 0x12
	ECDataAbort EC = 0x24
)

func (ec EC) String() string {
	switch ec {
	case ECWFI:
		return "wfi"
	case ECCP15:
		return "cp15"
	case ECHVC:
		return "hvc"
	case ECDataAbort:
		return "data abort"
	}

	return fmt.Sprintf("EC(%#x)", uint32(ec))
}

// Bits extracts width bits of v starting at shift.
func Bits(v uint32, shift, width uint) uint32 {
	return (v >> shift) & (1<<width - 1)
}

// Bit reports whether bit n of v is set.
func Bit(v uint32, n uint) bool {
	return v&(1<<n) != 0
}

func (s *State) EC() EC { return EC(Bits(s.HSR, 26, 6)) }

// ISS returns the instruction specific syndrome of HSR.
func (s *State) ISS() uint32 { return Bits(s.HSR, 0, 25) }

const pageMask = 0xfff

// FaultAddress is the intermediate physical address of a stage 2 data
// abort: the faulting page from HPFAR plus the page offset from HDFAR.
func (s *State) FaultAddress() uint64 {
	return uint64(s.HPFAR)<<8 | uint64(s.HDFAR&pageMask)
}

// FaultPage is the page-aligned part of FaultAddress.
func (s *State) FaultPage() uint64 {
	return uint64(s.HPFAR) << 8
}
