package rvm

// CostFunc returns the cycles charged for executing insn. Compressed
// instructions are passed in their expanded 32-bit form.
type CostFunc func(insn uint32) uint64

// EstimateCycles is the reference instruction cost model: memory accesses
// and control transfers are more expensive than ALU operations, division
// is the most expensive arithmetic, and environment calls carry a fixed
// overhead.
func EstimateCycles(insn uint32) uint64 {
	switch opcode(insn) {
	case OpLoad:
		if funct3(insn) == 0b011 { // LD
			return 2
		}
		return 3
	case OpStore:
		if funct3(insn) == 0b011 { // SD
			return 2
		}
		return 3
	case OpBranch, OpJal, OpJalr:
		return 3
	case OpAMO:
		return 5
	case OpSystem:
		if insn == insnEcall || insn == insnEbreak {
			return 500
		}
		return 1
	case OpOp, OpOp32:
		switch funct7(insn) {
		case 0b0000001:
			if funct3(insn) < 0b100 { // MUL*
				return 5
			}
			return 32 // DIV*, REM*
		case 0b0000101:
			if f3 := funct3(insn); f3 >= 0b001 && f3 <= 0b011 { // CLMUL*
				return 5
			}
		}
		return 1
	default:
		return 1
	}
}
