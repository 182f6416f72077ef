// Package guest assembles the sample guest programs shipped with rvbench.
package guest

import (
	"github.com/tinyrange/rvbench/internal/asm"
	"github.com/tinyrange/rvbench/internal/asm/riscv"
	"github.com/tinyrange/rvbench/internal/syscalls"
)

// echo prints every argument through the debug syscall, leaves the total
// argument length in a1 and exits with argc.
//
//	s0 = argc, s1 = argv, s2 = index, s3 = total length
var echo = asm.Group{
	asm.MarkLabel(riscv.EntryLabel),
	riscv.Ld(riscv.S0, riscv.SP, 0),
	riscv.Addi(riscv.S1, riscv.SP, 8),
	riscv.Mv(riscv.S2, riscv.Zero),
	riscv.Mv(riscv.S3, riscv.Zero),

	asm.MarkLabel("next"),
	riscv.Bge(riscv.S2, riscv.S0, "done"),
	riscv.Slli(riscv.T0, riscv.S2, 3),
	riscv.Add(riscv.T0, riscv.S1, riscv.T0),
	riscv.Ld(riscv.A0, riscv.T0, 0),

	// strlen(a0) into t2
	riscv.Mv(riscv.T1, riscv.A0),
	asm.MarkLabel("scan"),
	riscv.Lbu(riscv.T2, riscv.T1, 0),
	riscv.Beqz(riscv.T2, "scanned"),
	riscv.Addi(riscv.T1, riscv.T1, 1),
	riscv.J("scan"),
	asm.MarkLabel("scanned"),
	riscv.Sub(riscv.T2, riscv.T1, riscv.A0),
	riscv.Add(riscv.S3, riscv.S3, riscv.T2),

	riscv.Syscall(syscalls.DebugPrint),
	riscv.Addi(riscv.S2, riscv.S2, 1),
	riscv.J("next"),

	asm.MarkLabel("done"),
	riscv.Mv(riscv.A1, riscv.S3),
	riscv.Mv(riscv.A0, riscv.S0),
	riscv.Exit(),
}

// Echo returns the echo guest as an ELF image.
func Echo() ([]byte, error) {
	return riscv.Assemble(echo, 0)
}
