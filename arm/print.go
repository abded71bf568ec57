package arm

import (
	"fmt"
	"io"
)

func line(w io.Writer, name string, v uint32) {
	fmt.Fprintf(w, "  %-10s = 0x%08x\n", name, v)
}

// Fprint writes the register file, one register per line.
func (s *State) Fprint(w io.Writer) {
	fmt.Fprintln(w, "Cpu state:")

	for i, r := range s.GPR {
		line(w, fmt.Sprintf("r%d", i), r)
	}

	line(w, "sp", s.SP)
	line(w, "lr", s.LR)
	line(w, "ip", s.IP)
	line(w, "cpsr", s.CPSR)

	for m := Mode(0); m < NumModes; m++ {
		line(w, "sp_"+m.String(), s.Modes[m].SP)
		line(w, "lr_"+m.String(), s.Modes[m].LR)
		line(w, "spsr_"+m.String(), s.Modes[m].SPSR)
	}

	fmt.Fprintf(w, "  %-10s = %s\n", "exception", s.Exception)
}
