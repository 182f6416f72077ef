package rvm

// Major opcodes
const (
	OpLoad    = 0b0000011
	OpMiscMem = 0b0001111
	OpOpImm   = 0b0010011
	OpAuipc   = 0b0010111
	OpOpImm32 = 0b0011011
	OpStore   = 0b0100011
	OpAMO     = 0b0101111
	OpOp      = 0b0110011
	OpLui     = 0b0110111
	OpOp32    = 0b0111011
	OpBranch  = 0b1100011
	OpJalr    = 0b1100111
	OpJal     = 0b1101111
	OpSystem  = 0b1110011
)

const (
	insnEcall  = 0x00000073
	insnEbreak = 0x00100073
)

// Instruction field extraction
func opcode(insn uint32) uint32 { return insn & 0x7f }
func rd(insn uint32) uint32     { return (insn >> 7) & 0x1f }
func funct3(insn uint32) uint32 { return (insn >> 12) & 0x7 }
func rs1(insn uint32) uint32    { return (insn >> 15) & 0x1f }
func rs2(insn uint32) uint32    { return (insn >> 20) & 0x1f }
func funct7(insn uint32) uint32 { return (insn >> 25) & 0x7f }
func funct6(insn uint32) uint32 { return insn >> 26 }
func funct12(insn uint32) uint32 {
	return insn >> 20
}

func immI(insn uint32) int64 {
	return signExtend(uint64(insn>>20), 12)
}

func immS(insn uint32) int64 {
	imm := (insn >> 7) & 0x1f
	imm |= ((insn >> 25) & 0x7f) << 5
	return signExtend(uint64(imm), 12)
}

func immB(insn uint32) int64 {
	imm := ((insn >> 8) & 0xf) << 1
	imm |= ((insn >> 25) & 0x3f) << 5
	imm |= ((insn >> 7) & 0x1) << 11
	imm |= ((insn >> 31) & 0x1) << 12
	return signExtend(uint64(imm), 13)
}

func immU(insn uint32) int64 {
	return signExtend(uint64(insn&0xfffff000), 32)
}

func immJ(insn uint32) int64 {
	imm := ((insn >> 21) & 0x3ff) << 1
	imm |= ((insn >> 20) & 0x1) << 11
	imm |= ((insn >> 12) & 0xff) << 12
	imm |= ((insn >> 31) & 0x1) << 20
	return signExtend(uint64(imm), 21)
}

func shamt(insn uint32) uint32   { return (insn >> 20) & 0x3f }
func shamt32(insn uint32) uint32 { return (insn >> 20) & 0x1f }

func illegal(insn uint32) error {
	return exception(CauseIllegalInsn, uint64(insn))
}

// execute runs one decoded 32-bit instruction. m.next already holds the
// address of the following instruction; control transfers overwrite it.
func (m *Machine) execute(insn uint32) error {
	switch opcode(insn) {
	case OpLui:
		m.cpu.writeReg(rd(insn), uint64(immU(insn)))
		return nil
	case OpAuipc:
		m.cpu.writeReg(rd(insn), uint64(int64(m.cpu.pc)+immU(insn)))
		return nil
	case OpJal:
		target := uint64(int64(m.cpu.pc) + immJ(insn))
		m.cpu.writeReg(rd(insn), m.next)
		m.next = target
		return nil
	case OpJalr:
		if funct3(insn) != 0 {
			return illegal(insn)
		}
		// Read rs1 before writing rd, they may be the same register.
		target := uint64(int64(m.cpu.readReg(rs1(insn)))+immI(insn)) &^ 1
		m.cpu.writeReg(rd(insn), m.next)
		m.next = target
		return nil
	case OpBranch:
		return m.execBranch(insn)
	case OpLoad:
		return m.execLoad(insn)
	case OpStore:
		return m.execStore(insn)
	case OpOpImm:
		return m.execOpImm(insn)
	case OpOpImm32:
		return m.execOpImm32(insn)
	case OpOp:
		return m.execOp(insn)
	case OpOp32:
		return m.execOp32(insn)
	case OpMiscMem:
		switch funct3(insn) {
		case 0b000, 0b001: // FENCE, FENCE.I
			return nil
		}
		return illegal(insn)
	case OpSystem:
		switch insn {
		case insnEcall:
			return m.ecall()
		case insnEbreak:
			// No debugger is attached.
			return nil
		}
		return illegal(insn)
	case OpAMO:
		if m.cfg.ISA&ISAA == 0 {
			return illegal(insn)
		}
		return m.execAMO(insn)
	default:
		return illegal(insn)
	}
}

func (m *Machine) execBranch(insn uint32) error {
	r1 := m.cpu.readReg(rs1(insn))
	r2 := m.cpu.readReg(rs2(insn))

	var taken bool
	switch funct3(insn) {
	case 0b000: // BEQ
		taken = r1 == r2
	case 0b001: // BNE
		taken = r1 != r2
	case 0b100: // BLT
		taken = int64(r1) < int64(r2)
	case 0b101: // BGE
		taken = int64(r1) >= int64(r2)
	case 0b110: // BLTU
		taken = r1 < r2
	case 0b111: // BGEU
		taken = r1 >= r2
	default:
		return illegal(insn)
	}

	if taken {
		m.next = uint64(int64(m.cpu.pc) + immB(insn))
	}
	return nil
}

func (m *Machine) execLoad(insn uint32) error {
	addr := uint64(int64(m.cpu.readReg(rs1(insn))) + immI(insn))

	var val uint64
	var err error
	switch funct3(insn) {
	case 0b000: // LB
		var v uint8
		v, err = m.mem.Load8(addr)
		val = uint64(int8(v))
	case 0b001: // LH
		var v uint16
		v, err = m.mem.Load16(addr)
		val = uint64(int16(v))
	case 0b010: // LW
		var v uint32
		v, err = m.mem.Load32(addr)
		val = uint64(int32(v))
	case 0b011: // LD
		val, err = m.mem.Load64(addr)
	case 0b100: // LBU
		var v uint8
		v, err = m.mem.Load8(addr)
		val = uint64(v)
	case 0b101: // LHU
		var v uint16
		v, err = m.mem.Load16(addr)
		val = uint64(v)
	case 0b110: // LWU
		var v uint32
		v, err = m.mem.Load32(addr)
		val = uint64(v)
	default:
		return illegal(insn)
	}
	if err != nil {
		return accessFault(CauseLoadAccessFault, addr, err)
	}

	m.cpu.writeReg(rd(insn), val)
	return nil
}

func (m *Machine) execStore(insn uint32) error {
	addr := uint64(int64(m.cpu.readReg(rs1(insn))) + immS(insn))
	val := m.cpu.readReg(rs2(insn))

	var err error
	switch funct3(insn) {
	case 0b000: // SB
		err = m.mem.Store8(addr, uint8(val))
	case 0b001: // SH
		err = m.mem.Store16(addr, uint16(val))
	case 0b010: // SW
		err = m.mem.Store32(addr, uint32(val))
	case 0b011: // SD
		err = m.mem.Store64(addr, val)
	default:
		return illegal(insn)
	}
	if err != nil {
		return accessFault(CauseStoreAccessFault, addr, err)
	}
	// A store to the reserved doubleword breaks the reservation.
	if m.cpu.reservationValid && m.cpu.reservation>>3 == addr>>3 {
		m.cpu.reservationValid = false
	}
	return nil
}

func (m *Machine) execOpImm(insn uint32) error {
	r1 := m.cpu.readReg(rs1(insn))
	imm := immI(insn)
	sh := shamt(insn)
	hasB := m.cfg.ISA&ISAB != 0

	var val uint64
	switch funct3(insn) {
	case 0b000: // ADDI
		val = uint64(int64(r1) + imm)
	case 0b001:
		switch {
		case funct6(insn) == 0: // SLLI
			val = r1 << sh
		case hasB:
			v, ok := bitmanipImm(insn, r1, sh)
			if !ok {
				return illegal(insn)
			}
			val = v
		default:
			return illegal(insn)
		}
	case 0b010: // SLTI
		if int64(r1) < imm {
			val = 1
		}
	case 0b011: // SLTIU
		if r1 < uint64(imm) {
			val = 1
		}
	case 0b100: // XORI
		val = r1 ^ uint64(imm)
	case 0b101:
		switch {
		case funct6(insn) == 0: // SRLI
			val = r1 >> sh
		case funct6(insn) == 0b010000: // SRAI
			val = uint64(int64(r1) >> sh)
		case hasB:
			v, ok := bitmanipImm(insn, r1, sh)
			if !ok {
				return illegal(insn)
			}
			val = v
		default:
			return illegal(insn)
		}
	case 0b110: // ORI
		val = r1 | uint64(imm)
	case 0b111: // ANDI
		val = r1 & uint64(imm)
	}

	m.cpu.writeReg(rd(insn), val)
	return nil
}

func (m *Machine) execOpImm32(insn uint32) error {
	r1 := m.cpu.readReg(rs1(insn))
	sh := shamt32(insn)
	f7 := funct7(insn)

	var val int32
	switch funct3(insn) {
	case 0b000: // ADDIW
		val = int32(uint32(r1)) + int32(immI(insn))
	case 0b001:
		switch {
		case f7 == 0: // SLLIW
			val = int32(uint32(r1) << sh)
		case m.cfg.ISA&ISAB != 0:
			v, ok := bitmanipImm32(insn, r1)
			if !ok {
				return illegal(insn)
			}
			m.cpu.writeReg(rd(insn), v)
			return nil
		default:
			return illegal(insn)
		}
	case 0b101:
		switch {
		case f7 == 0: // SRLIW
			val = int32(uint32(r1) >> sh)
		case f7 == 0b0100000: // SRAIW
			val = int32(uint32(r1)) >> sh
		case m.cfg.ISA&ISAB != 0:
			v, ok := bitmanipImm32(insn, r1)
			if !ok {
				return illegal(insn)
			}
			m.cpu.writeReg(rd(insn), v)
			return nil
		default:
			return illegal(insn)
		}
	default:
		return illegal(insn)
	}

	m.cpu.writeReg(rd(insn), uint64(val))
	return nil
}

func (m *Machine) execOp(insn uint32) error {
	r1 := m.cpu.readReg(rs1(insn))
	r2 := m.cpu.readReg(rs2(insn))
	f3 := funct3(insn)
	f7 := funct7(insn)

	var val uint64
	switch f7 {
	case 0b0000000:
		switch f3 {
		case 0b000: // ADD
			val = r1 + r2
		case 0b001: // SLL
			val = r1 << (r2 & 0x3f)
		case 0b010: // SLT
			if int64(r1) < int64(r2) {
				val = 1
			}
		case 0b011: // SLTU
			if r1 < r2 {
				val = 1
			}
		case 0b100: // XOR
			val = r1 ^ r2
		case 0b101: // SRL
			val = r1 >> (r2 & 0x3f)
		case 0b110: // OR
			val = r1 | r2
		case 0b111: // AND
			val = r1 & r2
		}
	case 0b0100000:
		switch f3 {
		case 0b000: // SUB
			val = r1 - r2
		case 0b101: // SRA
			val = uint64(int64(r1) >> (r2 & 0x3f))
		default:
			if m.cfg.ISA&ISAB == 0 {
				return illegal(insn)
			}
			v, ok := bitmanipOp(insn, r1, r2)
			if !ok {
				return illegal(insn)
			}
			val = v
		}
	case 0b0000001:
		val = mulDiv(f3, r1, r2)
	default:
		if m.cfg.ISA&ISAB == 0 {
			return illegal(insn)
		}
		v, ok := bitmanipOp(insn, r1, r2)
		if !ok {
			return illegal(insn)
		}
		val = v
	}

	m.cpu.writeReg(rd(insn), val)
	return nil
}

// mulDiv implements the M extension register-register operations.
func mulDiv(f3 uint32, r1, r2 uint64) uint64 {
	switch f3 {
	case 0b000: // MUL
		return r1 * r2
	case 0b001: // MULH
		hi, _ := mulh64(int64(r1), int64(r2))
		return uint64(hi)
	case 0b010: // MULHSU
		hi, _ := mulhsu64(int64(r1), r2)
		return uint64(hi)
	case 0b011: // MULHU
		hi, _ := mulhu64(r1, r2)
		return hi
	case 0b100: // DIV
		switch {
		case r2 == 0:
			return ^uint64(0)
		case r1 == 1<<63 && r2 == ^uint64(0):
			return r1
		}
		return uint64(int64(r1) / int64(r2))
	case 0b101: // DIVU
		if r2 == 0 {
			return ^uint64(0)
		}
		return r1 / r2
	case 0b110: // REM
		switch {
		case r2 == 0:
			return r1
		case r1 == 1<<63 && r2 == ^uint64(0):
			return 0
		}
		return uint64(int64(r1) % int64(r2))
	default: // REMU
		if r2 == 0 {
			return r1
		}
		return r1 % r2
	}
}

func (m *Machine) execOp32(insn uint32) error {
	a := uint32(m.cpu.readReg(rs1(insn)))
	b := uint32(m.cpu.readReg(rs2(insn)))
	f3 := funct3(insn)
	f7 := funct7(insn)

	var val int32
	switch {
	case f7 == 0b0000000 && f3 == 0b000: // ADDW
		val = int32(a + b)
	case f7 == 0b0100000 && f3 == 0b000: // SUBW
		val = int32(a - b)
	case f7 == 0b0000000 && f3 == 0b001: // SLLW
		val = int32(a << (b & 0x1f))
	case f7 == 0b0000000 && f3 == 0b101: // SRLW
		val = int32(a >> (b & 0x1f))
	case f7 == 0b0100000 && f3 == 0b101: // SRAW
		val = int32(a) >> (b & 0x1f)
	case f7 == 0b0000001:
		v, ok := mulDiv32(f3, a, b)
		if !ok {
			return illegal(insn)
		}
		val = v
	case m.cfg.ISA&ISAB != 0:
		v, ok := bitmanipOp32(insn, m.cpu.readReg(rs1(insn)), m.cpu.readReg(rs2(insn)))
		if !ok {
			return illegal(insn)
		}
		m.cpu.writeReg(rd(insn), v)
		return nil
	default:
		return illegal(insn)
	}

	m.cpu.writeReg(rd(insn), uint64(val))
	return nil
}

func mulDiv32(f3 uint32, a, b uint32) (int32, bool) {
	switch f3 {
	case 0b000: // MULW
		return int32(a * b), true
	case 0b100: // DIVW
		switch {
		case b == 0:
			return -1, true
		case a == 1<<31 && b == ^uint32(0):
			return int32(a), true
		}
		return int32(a) / int32(b), true
	case 0b101: // DIVUW
		if b == 0 {
			return -1, true
		}
		return int32(a / b), true
	case 0b110: // REMW
		switch {
		case b == 0:
			return int32(a), true
		case a == 1<<31 && b == ^uint32(0):
			return 0, true
		}
		return int32(a) % int32(b), true
	case 0b111: // REMUW
		if b == 0 {
			return int32(a), true
		}
		return int32(a % b), true
	}
	return 0, false
}

func mulhu64(a, b uint64) (uint64, uint64) {
	const mask32 = 0xFFFFFFFF
	a0 := a & mask32
	a1 := a >> 32
	b0 := b & mask32
	b1 := b >> 32

	p0 := a0 * b0
	p1 := a0 * b1
	p2 := a1 * b0
	p3 := a1 * b1

	carry := ((p0 >> 32) + (p1 & mask32) + (p2 & mask32)) >> 32
	hi := p3 + (p1 >> 32) + (p2 >> 32) + carry
	lo := a * b

	return hi, lo
}

func mulh64(a, b int64) (int64, uint64) {
	negResult := (a < 0) != (b < 0)
	ua := uint64(a)
	ub := uint64(b)
	if a < 0 {
		ua = uint64(-a)
	}
	if b < 0 {
		ub = uint64(-b)
	}

	hi, lo := mulhu64(ua, ub)
	if negResult {
		lo = ^lo + 1
		hi = ^hi
		if lo == 0 {
			hi++
		}
	}
	return int64(hi), lo
}

func mulhsu64(a int64, b uint64) (int64, uint64) {
	ua := uint64(a)
	if a < 0 {
		ua = uint64(-a)
	}

	hi, lo := mulhu64(ua, b)
	if a < 0 {
		lo = ^lo + 1
		hi = ^hi
		if lo == 0 {
			hi++
		}
	}
	return int64(hi), lo
}
