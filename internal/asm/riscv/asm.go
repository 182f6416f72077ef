package riscv

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/tinyrange/rvbench/internal/asm"
)

type Reg uint32

const (
	X0 Reg = iota
	X1
	X2
	X3
	X4
	X5
	X6
	X7
	X8
	X9
	X10
	X11
	X12
	X13
	X14
	X15
	X16
	X17
	X18
	X19
	X20
	X21
	X22
	X23
	X24
	X25
	X26
	X27
	X28
	X29
	X30
	X31
)

// ABI names
const (
	Zero = X0
	RA   = X1
	SP   = X2
	T0   = X5
	T1   = X6
	T2   = X7
	S0   = X8
	S1   = X9
	A0   = X10
	A1   = X11
	A2   = X12
	A3   = X13
	A4   = X14
	A5   = X15
	A6   = X16
	A7   = X17
	S2   = X18
	S3   = X19
)

type rType struct {
	op, f3, f7 uint32
	rd         Reg
	rs1, rs2   Reg
}

type iType struct {
	op, f3  uint32
	rd, rs1 Reg
	imm     int32
}

type sType struct {
	f3       uint32
	rs1, rs2 Reg
	imm      int32
}

type uType struct {
	op  uint32
	rd  Reg
	imm int32
}

type shiftImmediate struct {
	op, f3, f6 uint32
	rd, rs1    Reg
	shamt      uint32
}

func (r rType) Emit(ctx asm.Context) error {
	emitInsn(ctx, encodeR(r.f7, uint32(r.rs2), uint32(r.rs1), r.f3, uint32(r.rd), r.op))
	return nil
}

func (i iType) Emit(ctx asm.Context) error {
	insn, err := encodeI(i.imm, uint32(i.rs1), i.f3, uint32(i.rd), i.op)
	if err != nil {
		return err
	}
	emitInsn(ctx, insn)
	return nil
}

func (s sType) Emit(ctx asm.Context) error {
	insn, err := encodeS(s.imm, uint32(s.rs1), uint32(s.rs2), s.f3, 0x23)
	if err != nil {
		return err
	}
	emitInsn(ctx, insn)
	return nil
}

func (u uType) Emit(ctx asm.Context) error {
	insn, err := encodeU(u.imm, uint32(u.rd), u.op)
	if err != nil {
		return err
	}
	emitInsn(ctx, insn)
	return nil
}

func (s shiftImmediate) Emit(ctx asm.Context) error {
	limit := uint32(64)
	if s.op == 0x1b {
		limit = 32
	}
	if s.shamt >= limit {
		return fmt.Errorf("riscv: shift amount %d out of range", s.shamt)
	}
	insn := s.f6<<26 | s.shamt<<20 | uint32(s.rs1)<<15 | s.f3<<12 | uint32(s.rd)<<7 | s.op
	emitInsn(ctx, insn)
	return nil
}

// Addi emits ADDI rd, rs1, imm.
func Addi(rd, rs1 Reg, imm int32) asm.Fragment {
	return iType{op: 0x13, f3: 0, rd: rd, rs1: rs1, imm: imm}
}

// Addiw emits ADDIW rd, rs1, imm.
func Addiw(rd, rs1 Reg, imm int32) asm.Fragment {
	return iType{op: 0x1b, f3: 0, rd: rd, rs1: rs1, imm: imm}
}

func Andi(rd, rs1 Reg, imm int32) asm.Fragment {
	return iType{op: 0x13, f3: 7, rd: rd, rs1: rs1, imm: imm}
}

func Ori(rd, rs1 Reg, imm int32) asm.Fragment {
	return iType{op: 0x13, f3: 6, rd: rd, rs1: rs1, imm: imm}
}

func Xori(rd, rs1 Reg, imm int32) asm.Fragment {
	return iType{op: 0x13, f3: 4, rd: rd, rs1: rs1, imm: imm}
}

func Slti(rd, rs1 Reg, imm int32) asm.Fragment {
	return iType{op: 0x13, f3: 2, rd: rd, rs1: rs1, imm: imm}
}

// Mv emits ADDI rd, rs, 0.
func Mv(rd, rs Reg) asm.Fragment { return Addi(rd, rs, 0) }

// Nop emits ADDI x0, x0, 0.
func Nop() asm.Fragment { return Addi(X0, X0, 0) }

// Slli shifts rs1 left by shamt bits into rd.
func Slli(rd, rs1 Reg, shamt uint32) asm.Fragment {
	return shiftImmediate{op: 0x13, f3: 1, rd: rd, rs1: rs1, shamt: shamt}
}

// Srli shifts rs1 right logically by shamt bits into rd.
func Srli(rd, rs1 Reg, shamt uint32) asm.Fragment {
	return shiftImmediate{op: 0x13, f3: 5, rd: rd, rs1: rs1, shamt: shamt}
}

// Srai shifts rs1 right arithmetically by shamt bits into rd.
func Srai(rd, rs1 Reg, shamt uint32) asm.Fragment {
	return shiftImmediate{op: 0x13, f3: 5, f6: 0b010000, rd: rd, rs1: rs1, shamt: shamt}
}

func op(f3, f7 uint32, rd, rs1, rs2 Reg) asm.Fragment {
	return rType{op: 0x33, f3: f3, f7: f7, rd: rd, rs1: rs1, rs2: rs2}
}

func op32(f3, f7 uint32, rd, rs1, rs2 Reg) asm.Fragment {
	return rType{op: 0x3b, f3: f3, f7: f7, rd: rd, rs1: rs1, rs2: rs2}
}

func Add(rd, rs1, rs2 Reg) asm.Fragment  { return op(0, 0, rd, rs1, rs2) }
func Sub(rd, rs1, rs2 Reg) asm.Fragment  { return op(0, 0b0100000, rd, rs1, rs2) }
func Sll(rd, rs1, rs2 Reg) asm.Fragment  { return op(1, 0, rd, rs1, rs2) }
func Sltu(rd, rs1, rs2 Reg) asm.Fragment { return op(3, 0, rd, rs1, rs2) }
func Xor(rd, rs1, rs2 Reg) asm.Fragment  { return op(4, 0, rd, rs1, rs2) }
func Srl(rd, rs1, rs2 Reg) asm.Fragment  { return op(5, 0, rd, rs1, rs2) }
func Sra(rd, rs1, rs2 Reg) asm.Fragment  { return op(5, 0b0100000, rd, rs1, rs2) }
func Or(rd, rs1, rs2 Reg) asm.Fragment   { return op(6, 0, rd, rs1, rs2) }
func And(rd, rs1, rs2 Reg) asm.Fragment  { return op(7, 0, rd, rs1, rs2) }
func Addw(rd, rs1, rs2 Reg) asm.Fragment { return op32(0, 0, rd, rs1, rs2) }
func Subw(rd, rs1, rs2 Reg) asm.Fragment { return op32(0, 0b0100000, rd, rs1, rs2) }

// M extension
func Mul(rd, rs1, rs2 Reg) asm.Fragment   { return op(0, 1, rd, rs1, rs2) }
func Mulh(rd, rs1, rs2 Reg) asm.Fragment  { return op(1, 1, rd, rs1, rs2) }
func Mulhu(rd, rs1, rs2 Reg) asm.Fragment { return op(3, 1, rd, rs1, rs2) }
func Div(rd, rs1, rs2 Reg) asm.Fragment   { return op(4, 1, rd, rs1, rs2) }
func Divu(rd, rs1, rs2 Reg) asm.Fragment  { return op(5, 1, rd, rs1, rs2) }
func Rem(rd, rs1, rs2 Reg) asm.Fragment   { return op(6, 1, rd, rs1, rs2) }
func Remu(rd, rs1, rs2 Reg) asm.Fragment  { return op(7, 1, rd, rs1, rs2) }
func Mulw(rd, rs1, rs2 Reg) asm.Fragment  { return op32(0, 1, rd, rs1, rs2) }
func Divw(rd, rs1, rs2 Reg) asm.Fragment  { return op32(4, 1, rd, rs1, rs2) }

// Zba/Zbb/Zbs
func Sh1add(rd, rs1, rs2 Reg) asm.Fragment { return op(2, 0b0010000, rd, rs1, rs2) }
func Andn(rd, rs1, rs2 Reg) asm.Fragment   { return op(7, 0b0100000, rd, rs1, rs2) }
func Rol(rd, rs1, rs2 Reg) asm.Fragment    { return op(1, 0b0110000, rd, rs1, rs2) }
func Max(rd, rs1, rs2 Reg) asm.Fragment    { return op(6, 0b0000101, rd, rs1, rs2) }
func Minu(rd, rs1, rs2 Reg) asm.Fragment   { return op(5, 0b0000101, rd, rs1, rs2) }
func Bset(rd, rs1, rs2 Reg) asm.Fragment   { return op(1, 0b0010100, rd, rs1, rs2) }
func Clmul(rd, rs1, rs2 Reg) asm.Fragment  { return op(1, 0b0000101, rd, rs1, rs2) }

// Clz emits CLZ rd, rs1.
func Clz(rd, rs1 Reg) asm.Fragment {
	return iType{op: 0x13, f3: 1, rd: rd, rs1: rs1, imm: 0x600}
}

// Cpop emits CPOP rd, rs1.
func Cpop(rd, rs1 Reg) asm.Fragment {
	return iType{op: 0x13, f3: 1, rd: rd, rs1: rs1, imm: 0x602}
}

// Rev8 emits REV8 rd, rs1.
func Rev8(rd, rs1 Reg) asm.Fragment {
	return iType{op: 0x13, f3: 5, rd: rd, rs1: rs1, imm: 0x6b8}
}

// Loads

func Ld(rd, base Reg, imm int32) asm.Fragment {
	return iType{op: 0x03, f3: 3, rd: rd, rs1: base, imm: imm}
}

func Lw(rd, base Reg, imm int32) asm.Fragment {
	return iType{op: 0x03, f3: 2, rd: rd, rs1: base, imm: imm}
}

func Lwu(rd, base Reg, imm int32) asm.Fragment {
	return iType{op: 0x03, f3: 6, rd: rd, rs1: base, imm: imm}
}

func Lb(rd, base Reg, imm int32) asm.Fragment {
	return iType{op: 0x03, f3: 0, rd: rd, rs1: base, imm: imm}
}

func Lbu(rd, base Reg, imm int32) asm.Fragment {
	return iType{op: 0x03, f3: 4, rd: rd, rs1: base, imm: imm}
}

// Stores

func Sd(src, base Reg, imm int32) asm.Fragment {
	return sType{f3: 3, rs1: base, rs2: src, imm: imm}
}

func Sw(src, base Reg, imm int32) asm.Fragment {
	return sType{f3: 2, rs1: base, rs2: src, imm: imm}
}

func Sb(src, base Reg, imm int32) asm.Fragment {
	return sType{f3: 0, rs1: base, rs2: src, imm: imm}
}

// Lui emits LUI rd, imm where imm is the 20-bit upper immediate.
func Lui(rd Reg, imm int32) asm.Fragment { return uType{op: 0x37, rd: rd, imm: imm} }

// Auipc emits AUIPC rd, imm where imm is the 20-bit upper immediate.
func Auipc(rd Reg, imm int32) asm.Fragment { return uType{op: 0x17, rd: rd, imm: imm} }

// Jalr emits JALR rd, imm(rs1).
func Jalr(rd, rs1 Reg, imm int32) asm.Fragment {
	return iType{op: 0x67, f3: 0, rd: rd, rs1: rs1, imm: imm}
}

// Ret emits JALR x0, 0(ra).
func Ret() asm.Fragment { return Jalr(X0, RA, 0) }

type raw struct {
	insn uint32
	size int
}

func (r raw) Emit(ctx asm.Context) error {
	if r.size == 2 {
		var buf [2]byte
		binary.LittleEndian.PutUint16(buf[:], uint16(r.insn))
		ctx.EmitBytes(buf[:])
		return nil
	}
	emitInsn(ctx, r.insn)
	return nil
}

// Raw emits a pre-encoded 32-bit instruction.
func Raw(insn uint32) asm.Fragment { return raw{insn: insn, size: 4} }

// Compressed emits a pre-encoded 16-bit instruction.
func Compressed(insn uint16) asm.Fragment { return raw{insn: uint32(insn), size: 2} }

// Ecall emits ECALL.
func Ecall() asm.Fragment { return Raw(0x00000073) }

// Ebreak emits EBREAK.
func Ebreak() asm.Fragment { return Raw(0x00100073) }

// Syscall loads n into a7 and emits ECALL.
func Syscall(n int64) asm.Fragment {
	return asm.Group{MovImmediate(A7, n), Ecall()}
}

// Exit terminates the guest with the code held in a0.
func Exit() asm.Fragment { return Syscall(93) }

// A extension

const (
	amoWord   = 2
	amoDouble = 3
)

func amo(f5, width uint32, rd, addr, src Reg) asm.Fragment {
	return rType{op: 0x2f, f3: width, f7: f5 << 2, rd: rd, rs1: addr, rs2: src}
}

func LrD(rd, addr Reg) asm.Fragment           { return amo(0b00010, amoDouble, rd, addr, X0) }
func ScD(rd, addr, src Reg) asm.Fragment      { return amo(0b00011, amoDouble, rd, addr, src) }
func AmoaddD(rd, addr, src Reg) asm.Fragment  { return amo(0b00000, amoDouble, rd, addr, src) }
func AmoswapW(rd, addr, src Reg) asm.Fragment { return amo(0b00001, amoWord, rd, addr, src) }
func AmomaxuD(rd, addr, src Reg) asm.Fragment { return amo(0b11100, amoDouble, rd, addr, src) }

// MovImmediate loads an immediate into rd, using ADDI when possible and LUI+ADDI
// for wider values. When emitting values with bit 31 set, the result is
// zero-extended to avoid LUI sign-extension on RV64.
func MovImmediate(rd Reg, value int64) asm.Fragment {
	return &loadImmediate{rd: rd, value: value}
}

// Li is MovImmediate under its assembler mnemonic.
func Li(rd Reg, value int64) asm.Fragment { return MovImmediate(rd, value) }

type loadImmediate struct {
	rd    Reg
	value int64
}

func (l *loadImmediate) Emit(ctx asm.Context) error {
	if l.value >= -2048 && l.value <= 2047 {
		return Addi(l.rd, X0, int32(l.value)).Emit(ctx)
	}
	if l.value < math.MinInt32 || l.value > math.MaxUint32 {
		return fmt.Errorf("riscv: immediate %d does not fit in 32 bits", l.value)
	}

	zeroExtend := l.value > math.MaxInt32

	// ADDIW wraps in 32 bits, so the split is done on the low word.
	v := int64(int32(uint32(l.value)))
	hi := (v + (1 << 11)) >> 12
	lo := v - (hi << 12)

	frags := asm.Group{
		Lui(l.rd, int32(hi)),
		Addiw(l.rd, l.rd, int32(lo)),
	}
	if zeroExtend {
		frags = append(frags, Slli(l.rd, l.rd, 32), Srli(l.rd, l.rd, 32))
	}
	return frags.Emit(ctx)
}

func emitInsn(ctx asm.Context, insn uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], insn)
	ctx.EmitBytes(buf[:])
}

func encodeR(funct7, rs2, rs1, funct3, rd, opcode uint32) uint32 {
	return funct7<<25 | rs2<<20 | rs1<<15 | funct3<<12 | rd<<7 | opcode
}

func encodeI(imm int32, rs1 uint32, funct3 uint32, rd uint32, opcode uint32) (uint32, error) {
	if imm < -2048 || imm > 2047 {
		return 0, fmt.Errorf("riscv: immediate %d out of range for I-type", imm)
	}
	uimm := uint32(imm) & 0xfff
	return (uimm << 20) | (rs1 << 15) | (funct3 << 12) | (rd << 7) | opcode, nil
}

func encodeS(imm int32, rs1 uint32, rs2 uint32, funct3 uint32, opcode uint32) (uint32, error) {
	if imm < -2048 || imm > 2047 {
		return 0, fmt.Errorf("riscv: immediate %d out of range for S-type", imm)
	}
	uimm := uint32(imm) & 0xfff
	immHi := (uimm >> 5) & 0x7f
	immLo := uimm & 0x1f

	return (immHi << 25) | (rs2 << 20) | (rs1 << 15) | (funct3 << 12) | (immLo << 7) | opcode, nil
}

func encodeU(imm int32, rd uint32, opcode uint32) (uint32, error) {
	if imm < -(1<<19) || imm >= 1<<20 {
		return 0, fmt.Errorf("riscv: immediate %d out of range for U-type", imm)
	}
	uimm := uint32(imm) & 0xfffff
	return (uimm << 12) | (rd << 7) | opcode, nil
}

func encodeB(offset int, rs1, rs2, funct3 uint32) (uint32, error) {
	if offset&1 != 0 || offset < -4096 || offset > 4094 {
		return 0, fmt.Errorf("riscv: branch offset %d out of range", offset)
	}
	u := uint32(offset)
	return (u>>12&1)<<31 | (u>>5&0x3f)<<25 | rs2<<20 | rs1<<15 | funct3<<12 |
		(u>>1&0xf)<<8 | (u>>11&1)<<7 | 0x63, nil
}

func encodeJ(offset int, rd uint32) (uint32, error) {
	if offset&1 != 0 || offset < -(1<<20) || offset >= 1<<20 {
		return 0, fmt.Errorf("riscv: jump offset %d out of range", offset)
	}
	u := uint32(offset)
	return (u>>20&1)<<31 | (u>>1&0x3ff)<<21 | (u>>11&1)<<20 | (u>>12&0xff)<<12 | rd<<7 | 0x6f, nil
}
