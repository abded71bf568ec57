package machine

import (
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/arch/arm/armasm"
)

// Inst decodes the instruction at ip. Only ARM state is supported.
func (v *Vm) Inst() (uint32, string, error) {
	ip := uint64(v.State().IP)

	w, err := v.ram.Word(ip)
	if err != nil {
		return 0, "", fmt.Errorf("reading ip at %#x: %w", ip, err)
	}

	var b [4]byte

	binary.LittleEndian.PutUint32(b[:], w)

	d, err := armasm.Decode(b[:], armasm.ModeARM)
	if err != nil {
		return w, "", fmt.Errorf("decoding 0x%08x: %w", w, err)
	}

	return w, armasm.GNUSyntax(d), nil
}

// Dump writes the vCPU registers and the instruction at ip.
func (v *Vm) Dump(w io.Writer) {
	v.State().Fprint(w)

	if word, asm, err := v.Inst(); err == nil {
		fmt.Fprintf(w, "  %-10s = %08x %s\n", "inst", word, asm)
	} else {
		fmt.Fprintf(w, "  %-10s = %v\n", "inst", err)
	}
}
