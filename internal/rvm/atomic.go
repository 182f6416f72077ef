package rvm

// AMO funct5 values
const (
	amoAdd  = 0b00000
	amoSwap = 0b00001
	amoLR   = 0b00010
	amoSC   = 0b00011
	amoXor  = 0b00100
	amoOr   = 0b01000
	amoAnd  = 0b01100
	amoMin  = 0b10000
	amoMax  = 0b10100
	amoMinU = 0b11000
	amoMaxU = 0b11100
)

// execAMO executes the A extension. There is a single hart, so every
// operation is trivially atomic; LR/SC still track the reservation so
// guests see the architected success/failure results.
func (m *Machine) execAMO(insn uint32) error {
	f5 := funct7(insn) >> 2
	addr := m.cpu.readReg(rs1(insn))
	src := m.cpu.readReg(rs2(insn))

	switch funct3(insn) {
	case 0b010:
		if addr&3 != 0 {
			return exception(CauseStoreAddrMisaligned, addr)
		}
		return m.amo32(insn, f5, addr, src)
	case 0b011:
		if addr&7 != 0 {
			return exception(CauseStoreAddrMisaligned, addr)
		}
		return m.amo64(insn, f5, addr, src)
	default:
		return illegal(insn)
	}
}

func (m *Machine) amo32(insn, f5 uint32, addr, src uint64) error {
	switch f5 {
	case amoLR:
		v, err := m.mem.Load32(addr)
		if err != nil {
			return accessFault(CauseLoadAccessFault, addr, err)
		}
		m.cpu.writeReg(rd(insn), uint64(int32(v)))
		m.cpu.reservation = addr
		m.cpu.reservationValid = true
		return nil
	case amoSC:
		if !m.cpu.reservationValid || m.cpu.reservation != addr {
			m.cpu.reservationValid = false
			m.cpu.writeReg(rd(insn), 1)
			return nil
		}
		if err := m.mem.Store32(addr, uint32(src)); err != nil {
			return accessFault(CauseStoreAccessFault, addr, err)
		}
		m.cpu.reservationValid = false
		m.cpu.writeReg(rd(insn), 0)
		return nil
	}

	old, err := m.mem.Load32(addr)
	if err != nil {
		return accessFault(CauseLoadAccessFault, addr, err)
	}
	b := uint32(src)

	var val uint32
	switch f5 {
	case amoSwap:
		val = b
	case amoAdd:
		val = old + b
	case amoXor:
		val = old ^ b
	case amoAnd:
		val = old & b
	case amoOr:
		val = old | b
	case amoMin:
		val = old
		if int32(b) < int32(old) {
			val = b
		}
	case amoMax:
		val = old
		if int32(b) > int32(old) {
			val = b
		}
	case amoMinU:
		val = min(old, b)
	case amoMaxU:
		val = max(old, b)
	default:
		return illegal(insn)
	}

	if err := m.mem.Store32(addr, val); err != nil {
		return accessFault(CauseStoreAccessFault, addr, err)
	}
	m.cpu.writeReg(rd(insn), uint64(int32(old)))
	return nil
}

func (m *Machine) amo64(insn, f5 uint32, addr, src uint64) error {
	switch f5 {
	case amoLR:
		v, err := m.mem.Load64(addr)
		if err != nil {
			return accessFault(CauseLoadAccessFault, addr, err)
		}
		m.cpu.writeReg(rd(insn), v)
		m.cpu.reservation = addr
		m.cpu.reservationValid = true
		return nil
	case amoSC:
		if !m.cpu.reservationValid || m.cpu.reservation != addr {
			m.cpu.reservationValid = false
			m.cpu.writeReg(rd(insn), 1)
			return nil
		}
		if err := m.mem.Store64(addr, src); err != nil {
			return accessFault(CauseStoreAccessFault, addr, err)
		}
		m.cpu.reservationValid = false
		m.cpu.writeReg(rd(insn), 0)
		return nil
	}

	old, err := m.mem.Load64(addr)
	if err != nil {
		return accessFault(CauseLoadAccessFault, addr, err)
	}

	var val uint64
	switch f5 {
	case amoSwap:
		val = src
	case amoAdd:
		val = old + src
	case amoXor:
		val = old ^ src
	case amoAnd:
		val = old & src
	case amoOr:
		val = old | src
	case amoMin:
		val = old
		if int64(src) < int64(old) {
			val = src
		}
	case amoMax:
		val = old
		if int64(src) > int64(old) {
			val = src
		}
	case amoMinU:
		val = min(old, src)
	case amoMaxU:
		val = max(old, src)
	default:
		return illegal(insn)
	}

	if err := m.mem.Store64(addr, val); err != nil {
		return accessFault(CauseStoreAccessFault, addr, err)
	}
	m.cpu.writeReg(rd(insn), old)
	return nil
}
