package riscv

import (
	"encoding/binary"

	"github.com/tinyrange/rvbench/internal/asm"
)

// Label-relative instructions are emitted as placeholders and patched once
// the whole fragment tree has been emitted.

type branch struct {
	f3       uint32
	rs1, rs2 Reg
	target   asm.Label
}

func (b branch) Emit(ctx asm.Context) error {
	ctx.AddFixup(b.target, func(code []byte, at, target int) error {
		insn, err := encodeB(target-at, uint32(b.rs1), uint32(b.rs2), b.f3)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint32(code[at:], insn)
		return nil
	})
	emitInsn(ctx, 0)
	return nil
}

func Beq(rs1, rs2 Reg, target asm.Label) asm.Fragment {
	return branch{f3: 0, rs1: rs1, rs2: rs2, target: target}
}

func Bne(rs1, rs2 Reg, target asm.Label) asm.Fragment {
	return branch{f3: 1, rs1: rs1, rs2: rs2, target: target}
}

func Blt(rs1, rs2 Reg, target asm.Label) asm.Fragment {
	return branch{f3: 4, rs1: rs1, rs2: rs2, target: target}
}

func Bge(rs1, rs2 Reg, target asm.Label) asm.Fragment {
	return branch{f3: 5, rs1: rs1, rs2: rs2, target: target}
}

func Bltu(rs1, rs2 Reg, target asm.Label) asm.Fragment {
	return branch{f3: 6, rs1: rs1, rs2: rs2, target: target}
}

func Bgeu(rs1, rs2 Reg, target asm.Label) asm.Fragment {
	return branch{f3: 7, rs1: rs1, rs2: rs2, target: target}
}

// Beqz branches to target when rs is zero.
func Beqz(rs Reg, target asm.Label) asm.Fragment { return Beq(rs, X0, target) }

// Bnez branches to target when rs is not zero.
func Bnez(rs Reg, target asm.Label) asm.Fragment { return Bne(rs, X0, target) }

type jump struct {
	rd     Reg
	target asm.Label
}

func (j jump) Emit(ctx asm.Context) error {
	ctx.AddFixup(j.target, func(code []byte, at, target int) error {
		insn, err := encodeJ(target-at, uint32(j.rd))
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint32(code[at:], insn)
		return nil
	})
	emitInsn(ctx, 0)
	return nil
}

// Jal jumps to target, writing the return address to rd.
func Jal(rd Reg, target asm.Label) asm.Fragment { return jump{rd: rd, target: target} }

// J jumps to target.
func J(target asm.Label) asm.Fragment { return Jal(X0, target) }

// Call jumps to target, linking through ra.
func Call(target asm.Label) asm.Fragment { return Jal(RA, target) }

type loadAddress struct {
	rd     Reg
	target asm.Label
}

func (l loadAddress) Emit(ctx asm.Context) error {
	ctx.AddFixup(l.target, func(code []byte, at, target int) error {
		offset := int64(target - at)
		hi := (offset + (1 << 11)) >> 12
		lo := offset - hi<<12
		auipc, err := encodeU(int32(hi), uint32(l.rd), 0x17)
		if err != nil {
			return err
		}
		addi, err := encodeI(int32(lo), uint32(l.rd), 0, uint32(l.rd), 0x13)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint32(code[at:], auipc)
		binary.LittleEndian.PutUint32(code[at+4:], addi)
		return nil
	})
	emitInsn(ctx, 0)
	emitInsn(ctx, 0)
	return nil
}

// La loads the address of target into rd with an AUIPC+ADDI pair.
func La(rd Reg, target asm.Label) asm.Fragment { return loadAddress{rd: rd, target: target} }
