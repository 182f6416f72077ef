package rvm

// rvc is a 16-bit compressed instruction.
type rvc uint16

func (c rvc) quadrant() uint32 { return uint32(c) & 0x3 }
func (c rvc) funct3() uint32   { return uint32(c) >> 13 }

// bits returns width bits of c starting at lo.
func (c rvc) bits(lo, width uint) uint32 {
	return (uint32(c) >> lo) & (1<<width - 1)
}

// Register fields. The primed forms name x8..x15 with three bits.
func (c rvc) rd() uint32       { return c.bits(7, 5) }
func (c rvc) rs2() uint32      { return c.bits(2, 5) }
func (c rvc) rdPrime() uint32  { return c.bits(2, 3) + 8 }
func (c rvc) rs1Prime() uint32 { return c.bits(7, 3) + 8 }

// immField moves width bits at insn bit from to immediate bit to.
type immField struct{ from, to, width uint }

func (c rvc) gather(fields ...immField) uint32 {
	var v uint32
	for _, f := range fields {
		v |= c.bits(f.from, f.width) << f.to
	}
	return v
}

func signExtendC(v uint32, signBit uint) int32 {
	shift := 31 - signBit
	return int32(v<<shift) >> shift
}

// Immediate layouts of the compressed formats.
var (
	immCI       = []immField{{2, 0, 5}, {12, 5, 1}}
	immAddi4spn = []immField{{11, 4, 2}, {7, 6, 4}, {6, 2, 1}, {5, 3, 1}}
	immWord     = []immField{{10, 3, 3}, {6, 2, 1}, {5, 6, 1}}
	immDouble   = []immField{{10, 3, 3}, {5, 6, 2}}
	immAddi16sp = []immField{{12, 9, 1}, {6, 4, 1}, {5, 6, 1}, {3, 7, 2}, {2, 5, 1}}
	immLui      = []immField{{2, 12, 5}, {12, 17, 1}}
	immJump     = []immField{{12, 11, 1}, {11, 4, 1}, {9, 8, 2}, {8, 10, 1}, {7, 6, 1}, {6, 7, 1}, {3, 1, 3}, {2, 5, 1}}
	immBranch   = []immField{{12, 8, 1}, {10, 3, 2}, {5, 6, 2}, {3, 1, 2}, {2, 5, 1}}
	immLwsp     = []immField{{12, 5, 1}, {4, 2, 3}, {2, 6, 2}}
	immLdsp     = []immField{{12, 5, 1}, {5, 3, 2}, {2, 6, 3}}
	immSwsp     = []immField{{9, 2, 4}, {7, 6, 2}}
	immSdsp     = []immField{{10, 3, 3}, {7, 6, 3}}
)

// 32-bit encoders for the expanded forms.

func encI(op, f3, rd, rs1 uint32, imm int32) uint32 {
	return uint32(imm)<<20 | rs1<<15 | f3<<12 | rd<<7 | op
}

func encR(op, f3, f7, rd, rs1, rs2 uint32) uint32 {
	return f7<<25 | rs2<<20 | rs1<<15 | f3<<12 | rd<<7 | op
}

func encS(f3, rs1, rs2 uint32, imm uint32) uint32 {
	return (imm>>5)<<25 | rs2<<20 | rs1<<15 | f3<<12 | (imm&0x1f)<<7 | OpStore
}

func encB(f3, rs1 uint32, off int32) uint32 {
	u := uint32(off)
	return (u>>12&1)<<31 | (u>>5&0x3f)<<25 | rs1<<15 | f3<<12 | (u>>1&0xf)<<8 | (u>>11&1)<<7 | OpBranch
}

func encJ(rd uint32, off int32) uint32 {
	u := uint32(off)
	return (u>>20&1)<<31 | (u>>1&0x3ff)<<21 | (u>>11&1)<<20 | (u>>12&0xff)<<12 | rd<<7 | OpJal
}

// expandCompressed rewrites a compressed instruction as the 32-bit
// instruction it stands for, so the executor and the cost function only
// ever see one encoding. Floating point forms and reserved encodings are
// illegal instructions.
func expandCompressed(raw uint16) (uint32, error) {
	c := rvc(raw)
	var (
		insn uint32
		ok   bool
	)
	switch c.quadrant() {
	case 0:
		insn, ok = c.expandQuadrant0()
	case 1:
		insn, ok = c.expandQuadrant1()
	case 2:
		insn, ok = c.expandQuadrant2()
	}
	if !ok {
		return 0, exception(CauseIllegalInsn, uint64(raw))
	}
	return insn, nil
}

// Quadrant 0: stack-relative ADDI and register-based loads and stores.
func (c rvc) expandQuadrant0() (uint32, bool) {
	switch c.funct3() {
	case 0b000: // c.addi4spn
		imm := c.gather(immAddi4spn...)
		if imm == 0 {
			return 0, false
		}
		return encI(OpOpImm, 0b000, c.rdPrime(), SP, int32(imm)), true
	case 0b010: // c.lw
		return encI(OpLoad, 0b010, c.rdPrime(), c.rs1Prime(), int32(c.gather(immWord...))), true
	case 0b011: // c.ld
		return encI(OpLoad, 0b011, c.rdPrime(), c.rs1Prime(), int32(c.gather(immDouble...))), true
	case 0b110: // c.sw
		return encS(0b010, c.rs1Prime(), c.rdPrime(), c.gather(immWord...)), true
	case 0b111: // c.sd
		return encS(0b011, c.rs1Prime(), c.rdPrime(), c.gather(immDouble...)), true
	}
	return 0, false
}

// Quadrant 1: immediates, arithmetic on x8..x15, jumps and branches.
func (c rvc) expandQuadrant1() (uint32, bool) {
	rd := c.rd()
	imm := signExtendC(c.gather(immCI...), 5)

	switch c.funct3() {
	case 0b000: // c.addi, c.nop
		return encI(OpOpImm, 0b000, rd, rd, imm), true
	case 0b001: // c.addiw
		if rd == Zero {
			return 0, false
		}
		return encI(OpOpImm32, 0b000, rd, rd, imm), true
	case 0b010: // c.li
		return encI(OpOpImm, 0b000, rd, Zero, imm), true
	case 0b011:
		if rd == SP { // c.addi16sp
			off := signExtendC(c.gather(immAddi16sp...), 9)
			if off == 0 {
				return 0, false
			}
			return encI(OpOpImm, 0b000, SP, SP, off), true
		}
		// c.lui
		upper := signExtendC(c.gather(immLui...), 17)
		if rd == Zero || upper == 0 {
			return 0, false
		}
		return uint32(upper)&0xfffff000 | rd<<7 | OpLui, true
	case 0b100:
		return c.expandArith()
	case 0b101: // c.j
		return encJ(Zero, signExtendC(c.gather(immJump...), 11)), true
	case 0b110: // c.beqz
		return encB(0b000, c.rs1Prime(), signExtendC(c.gather(immBranch...), 8)), true
	case 0b111: // c.bnez
		return encB(0b001, c.rs1Prime(), signExtendC(c.gather(immBranch...), 8)), true
	}
	return 0, false
}

// expandArith handles the c.srli .. c.addw group, which operates in place
// on a primed register.
func (c rvc) expandArith() (uint32, bool) {
	r := c.rs1Prime()
	shamt := int32(c.gather(immCI...))

	switch c.bits(10, 2) {
	case 0b00: // c.srli
		return encI(OpOpImm, 0b101, r, r, shamt), true
	case 0b01: // c.srai
		return encI(OpOpImm, 0b101, r, r, 0x400|shamt), true
	case 0b10: // c.andi
		return encI(OpOpImm, 0b111, r, r, signExtendC(c.gather(immCI...), 5)), true
	}

	rs2 := c.rdPrime()
	sel := c.bits(12, 1)<<2 | c.bits(5, 2)
	switch sel {
	case 0b000: // c.sub
		return encR(OpOp, 0b000, 0b0100000, r, r, rs2), true
	case 0b001: // c.xor
		return encR(OpOp, 0b100, 0, r, r, rs2), true
	case 0b010: // c.or
		return encR(OpOp, 0b110, 0, r, r, rs2), true
	case 0b011: // c.and
		return encR(OpOp, 0b111, 0, r, r, rs2), true
	case 0b100: // c.subw
		return encR(OpOp32, 0b000, 0b0100000, r, r, rs2), true
	case 0b101: // c.addw
		return encR(OpOp32, 0b000, 0, r, r, rs2), true
	}
	return 0, false
}

// Quadrant 2: full-register forms and sp-relative loads and stores.
func (c rvc) expandQuadrant2() (uint32, bool) {
	rd, rs2 := c.rd(), c.rs2()

	switch c.funct3() {
	case 0b000: // c.slli
		if rd == Zero {
			return 0, false
		}
		return encI(OpOpImm, 0b001, rd, rd, int32(c.gather(immCI...))), true
	case 0b010: // c.lwsp
		if rd == Zero {
			return 0, false
		}
		return encI(OpLoad, 0b010, rd, SP, int32(c.gather(immLwsp...))), true
	case 0b011: // c.ldsp
		if rd == Zero {
			return 0, false
		}
		return encI(OpLoad, 0b011, rd, SP, int32(c.gather(immLdsp...))), true
	case 0b100:
		link := c.bits(12, 1) == 1
		switch {
		case !link && rs2 == 0: // c.jr
			if rd == Zero {
				return 0, false
			}
			return encI(OpJalr, 0b000, Zero, rd, 0), true
		case !link: // c.mv
			return encR(OpOp, 0b000, 0, rd, Zero, rs2), true
		case rs2 == 0 && rd == Zero: // c.ebreak
			return insnEbreak, true
		case rs2 == 0: // c.jalr
			return encI(OpJalr, 0b000, RA, rd, 0), true
		default: // c.add
			return encR(OpOp, 0b000, 0, rd, rd, rs2), true
		}
	case 0b110: // c.swsp
		return encS(0b010, SP, rs2, c.gather(immSwsp...)), true
	case 0b111: // c.sdsp
		return encS(0b011, SP, rs2, c.gather(immSdsp...)), true
	}
	return 0, false
}
