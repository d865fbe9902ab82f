package trap

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/arch/riscv64/riscv64asm"
)

// DecodeIllegal decodes the 32-bit (or 16-bit compressed) instruction word
// that caused an illegal-instruction exception, so kill/panic messages name
// the actual offending instruction rather than only its raw encoding. This
// is the one teacher go.mod dependency (golang.org/x/arch) with a direct
// domain fit for a RISC-V kernel — see SPEC_FULL.md §B.
func DecodeIllegal(word uint32) string {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, word)
	inst, err := riscv64asm.Decode(buf)
	if err != nil {
		return fmt.Sprintf("undecodable instruction %#08x: %v", word, err)
	}
	return inst.String()
}

// KilledReason formats the standard "process killed" diagnostic for an
// illegal-instruction trap taken from user mode (spec §7: "mark killed").
func KilledReason(pid int, epc uint64, word uint32) string {
	return fmt.Sprintf("pid %d: illegal instruction %s at epc %#x", pid, DecodeIllegal(word), epc)
}
