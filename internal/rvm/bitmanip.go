package rvm

import "math/bits"

// Zba/Zbb/Zbc/Zbs instructions, reachable only when ISAB is enabled. Each
// helper reports false for encodings it does not recognise.

func bitmanipImm(insn uint32, r1 uint64, sh uint32) (uint64, bool) {
	switch funct3(insn) {
	case 0b001:
		switch funct12(insn) {
		case 0x600: // CLZ
			return uint64(bits.LeadingZeros64(r1)), true
		case 0x601: // CTZ
			return uint64(bits.TrailingZeros64(r1)), true
		case 0x602: // CPOP
			return uint64(bits.OnesCount64(r1)), true
		case 0x604: // SEXT.B
			return uint64(int8(r1)), true
		case 0x605: // SEXT.H
			return uint64(int16(r1)), true
		}
		switch funct6(insn) {
		case 0b010010: // BCLRI
			return r1 &^ (1 << sh), true
		case 0b001010: // BSETI
			return r1 | (1 << sh), true
		case 0b011010: // BINVI
			return r1 ^ (1 << sh), true
		}
	case 0b101:
		switch funct12(insn) {
		case 0x287: // ORC.B
			return orcb(r1), true
		case 0x6b8: // REV8
			return bits.ReverseBytes64(r1), true
		}
		switch funct6(insn) {
		case 0b010010: // BEXTI
			return (r1 >> sh) & 1, true
		case 0b011000: // RORI
			return bits.RotateLeft64(r1, -int(sh)), true
		}
	}
	return 0, false
}

func bitmanipImm32(insn uint32, r1 uint64) (uint64, bool) {
	switch funct3(insn) {
	case 0b001:
		if funct6(insn) == 0b000010 { // SLLI.UW
			return uint64(uint32(r1)) << shamt(insn), true
		}
		switch funct12(insn) {
		case 0x600: // CLZW
			return uint64(bits.LeadingZeros32(uint32(r1))), true
		case 0x601: // CTZW
			return uint64(bits.TrailingZeros32(uint32(r1))), true
		case 0x602: // CPOPW
			return uint64(bits.OnesCount32(uint32(r1))), true
		}
	case 0b101:
		if funct7(insn) == 0b0110000 { // RORIW
			v := bits.RotateLeft32(uint32(r1), -int(shamt32(insn)))
			return uint64(int32(v)), true
		}
	}
	return 0, false
}

func bitmanipOp(insn uint32, r1, r2 uint64) (uint64, bool) {
	f3 := funct3(insn)
	switch funct7(insn) {
	case 0b0100000:
		switch f3 {
		case 0b111: // ANDN
			return r1 &^ r2, true
		case 0b110: // ORN
			return r1 | ^r2, true
		case 0b100: // XNOR
			return ^(r1 ^ r2), true
		}
	case 0b0010000:
		switch f3 {
		case 0b010: // SH1ADD
			return r1<<1 + r2, true
		case 0b100: // SH2ADD
			return r1<<2 + r2, true
		case 0b110: // SH3ADD
			return r1<<3 + r2, true
		}
	case 0b0000101:
		switch f3 {
		case 0b001: // CLMUL
			return clmul(r1, r2), true
		case 0b010: // CLMULR
			return clmulr(r1, r2), true
		case 0b011: // CLMULH
			return clmulr(r1, r2) >> 1, true
		case 0b100: // MIN
			if int64(r1) < int64(r2) {
				return r1, true
			}
			return r2, true
		case 0b101: // MINU
			if r1 < r2 {
				return r1, true
			}
			return r2, true
		case 0b110: // MAX
			if int64(r1) > int64(r2) {
				return r1, true
			}
			return r2, true
		case 0b111: // MAXU
			if r1 > r2 {
				return r1, true
			}
			return r2, true
		}
	case 0b0110000:
		switch f3 {
		case 0b001: // ROL
			return bits.RotateLeft64(r1, int(r2&0x3f)), true
		case 0b101: // ROR
			return bits.RotateLeft64(r1, -int(r2&0x3f)), true
		}
	case 0b0100100:
		switch f3 {
		case 0b001: // BCLR
			return r1 &^ (1 << (r2 & 0x3f)), true
		case 0b101: // BEXT
			return (r1 >> (r2 & 0x3f)) & 1, true
		}
	case 0b0010100:
		if f3 == 0b001 { // BSET
			return r1 | (1 << (r2 & 0x3f)), true
		}
	case 0b0110100:
		if f3 == 0b001 { // BINV
			return r1 ^ (1 << (r2 & 0x3f)), true
		}
	}
	return 0, false
}

func bitmanipOp32(insn uint32, r1, r2 uint64) (uint64, bool) {
	f3 := funct3(insn)
	lo := uint64(uint32(r1))
	switch funct7(insn) {
	case 0b0000100:
		switch {
		case f3 == 0b000: // ADD.UW
			return lo + r2, true
		case f3 == 0b100 && rs2(insn) == 0: // ZEXT.H
			return uint64(uint16(r1)), true
		}
	case 0b0010000:
		switch f3 {
		case 0b010: // SH1ADD.UW
			return lo<<1 + r2, true
		case 0b100: // SH2ADD.UW
			return lo<<2 + r2, true
		case 0b110: // SH3ADD.UW
			return lo<<3 + r2, true
		}
	case 0b0110000:
		switch f3 {
		case 0b001: // ROLW
			return uint64(int32(bits.RotateLeft32(uint32(r1), int(r2&0x1f)))), true
		case 0b101: // RORW
			return uint64(int32(bits.RotateLeft32(uint32(r1), -int(r2&0x1f)))), true
		}
	}
	return 0, false
}

func orcb(v uint64) uint64 {
	var out uint64
	for i := 0; i < 64; i += 8 {
		if (v>>i)&0xff != 0 {
			out |= 0xff << i
		}
	}
	return out
}

func clmul(a, b uint64) uint64 {
	var out uint64
	for i := 0; i < 64; i++ {
		if (b>>i)&1 != 0 {
			out ^= a << i
		}
	}
	return out
}

func clmulr(a, b uint64) uint64 {
	var out uint64
	for i := 0; i < 64; i++ {
		if (b>>i)&1 != 0 {
			out ^= a >> (63 - i)
		}
	}
	return out
}
