package rvm

import (
	"errors"
	"testing"

	"github.com/tinyrange/rvbench/internal/asm"
	"github.com/tinyrange/rvbench/internal/asm/riscv"
)

// dataAddr is the writable region of every test program; test programs
// are far smaller than a page so it always directly follows the text.
const dataAddr = riscv.TextBase + 0x1000

func assemble(t *testing.T, frag asm.Fragment) []byte {
	t.Helper()
	prog, err := riscv.EmitProgram(frag)
	if err != nil {
		t.Fatalf("EmitProgram: %v", err)
	}
	if base := riscv.BSSBase(prog); base != dataAddr {
		t.Fatalf("bss at %#x, want %#x", base, dataAddr)
	}
	image, err := riscv.BuildELF(prog.WithBSS(PageSize))
	if err != nil {
		t.Fatalf("BuildELF: %v", err)
	}
	return image
}

func newMachine(t *testing.T, cfg Config, frag asm.Fragment, handlers ...Syscalls) *Machine {
	t.Helper()
	b := NewBuilder(cfg).InstructionCost(EstimateCycles)
	for _, h := range handlers {
		b.Syscall(h)
	}
	m, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := m.LoadProgram(assemble(t, frag), nil); err != nil {
		t.Fatalf("LoadProgram: %v", err)
	}
	return m
}

func run(t *testing.T, cfg Config, frag asm.Fragment, handlers ...Syscalls) *Machine {
	t.Helper()
	m := newMachine(t, cfg, frag, handlers...)
	if _, err := m.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return m
}

func exitWith(frags ...asm.Fragment) asm.Fragment {
	return asm.Group{asm.Group(frags), riscv.Li(riscv.A0, 0), riscv.Exit()}
}

func expectReg(t *testing.T, m *Machine, idx int, want uint64) {
	t.Helper()
	if got := m.Register(idx); got != want {
		t.Errorf("%s = %#x, want %#x", RegisterName(idx), got, want)
	}
}

func TestALUOperations(t *testing.T) {
	m := run(t, DefaultConfig(), exitWith(
		riscv.Li(riscv.T0, 100),
		riscv.Li(riscv.T1, -7),
		riscv.Add(riscv.S0, riscv.T0, riscv.T1),
		riscv.Sub(riscv.S1, riscv.T0, riscv.T1),
		riscv.Slli(riscv.A2, riscv.T0, 4),
		riscv.Srai(riscv.A3, riscv.T1, 1),
		riscv.Srli(riscv.A4, riscv.T1, 60),
		riscv.Sltu(riscv.A5, riscv.T0, riscv.T1),
		riscv.Xori(riscv.A6, riscv.T0, 0xff),
		riscv.Li(riscv.A1, 0x80000000),
	))

	expectReg(t, m, S0, 93)
	expectReg(t, m, S1, 107)
	expectReg(t, m, A2, 1600)
	expectReg(t, m, A3, ^uint64(3)) // -4
	expectReg(t, m, A4, 0xf)
	expectReg(t, m, A5, 1)
	expectReg(t, m, A6, 100^0xff)
	expectReg(t, m, A1, 0x80000000)
}

func TestMultiplyDivide(t *testing.T) {
	m := run(t, DefaultConfig(), exitWith(
		riscv.Li(riscv.T0, -20),
		riscv.Li(riscv.T1, 6),
		riscv.Mul(riscv.S0, riscv.T0, riscv.T1),
		riscv.Div(riscv.S1, riscv.T0, riscv.T1),
		riscv.Rem(riscv.A2, riscv.T0, riscv.T1),
		riscv.Divu(riscv.A3, riscv.T1, riscv.Zero),
		riscv.Rem(riscv.A4, riscv.T1, riscv.Zero),
		riscv.Mulhu(riscv.A5, riscv.T0, riscv.T1),
	))

	expectReg(t, m, S0, uint64(0xffffffffffffff88)) // -120
	expectReg(t, m, S1, ^uint64(2))                 // -3
	expectReg(t, m, A2, ^uint64(1))                 // -2
	expectReg(t, m, A3, ^uint64(0))
	expectReg(t, m, A4, 6)
	expectReg(t, m, A5, 5)
}

func TestDivisionEdgeCases(t *testing.T) {
	const minInt64 = uint64(1) << 63
	if got := mulDiv(0b100, minInt64, ^uint64(0)); got != minInt64 {
		t.Errorf("DIV overflow = %#x", got)
	}
	if got := mulDiv(0b110, minInt64, ^uint64(0)); got != 0 {
		t.Errorf("REM overflow = %#x", got)
	}
	if got, _ := mulDiv32(0b100, 1<<31, ^uint32(0)); got != -1<<31 {
		t.Errorf("DIVW overflow = %d", got)
	}
	if hi, _ := mulh64(-1, -1); hi != 0 {
		t.Errorf("MULH(-1,-1) = %d", hi)
	}
}

func TestBranchesAndLoops(t *testing.T) {
	// sum 1..10
	m := run(t, DefaultConfig(), exitWith(
		riscv.Li(riscv.T0, 10),
		riscv.Li(riscv.S0, 0),
		asm.MarkLabel("loop"),
		riscv.Add(riscv.S0, riscv.S0, riscv.T0),
		riscv.Addi(riscv.T0, riscv.T0, -1),
		riscv.Bnez(riscv.T0, "loop"),
		riscv.Call("fn"),
		riscv.J("done"),
		asm.MarkLabel("fn"),
		riscv.Li(riscv.S1, 77),
		riscv.Ret(),
		asm.MarkLabel("done"),
	))
	expectReg(t, m, S0, 55)
	expectReg(t, m, S1, 77)
}

func TestLoadsAndStores(t *testing.T) {
	m := run(t, DefaultConfig(), exitWith(
		riscv.Li(riscv.T0, dataAddr),
		riscv.Li(riscv.T1, -2),
		riscv.Sd(riscv.T1, riscv.T0, 0),
		riscv.Ld(riscv.S0, riscv.T0, 0),
		riscv.Lbu(riscv.S1, riscv.T0, 0),
		riscv.Lb(riscv.A2, riscv.T0, 0),
		riscv.Lwu(riscv.A3, riscv.T0, 0),
		riscv.Li(riscv.T1, 0x41),
		riscv.Sb(riscv.T1, riscv.T0, 9),
		riscv.Lw(riscv.A4, riscv.T0, 8),
	))
	expectReg(t, m, S0, ^uint64(1))
	expectReg(t, m, S1, 0xfe)
	expectReg(t, m, A2, ^uint64(1))
	expectReg(t, m, A3, 0xfffffffe)
	expectReg(t, m, A4, 0x4100)
}

func TestCompressedInstructions(t *testing.T) {
	m := run(t, DefaultConfig(), exitWith(
		riscv.Compressed(0x4515), // c.li a0, 5
		riscv.Compressed(0x050d), // c.addi a0, 3
		riscv.Compressed(0x0001), // c.nop
		riscv.Mv(riscv.S0, riscv.A0),
	))
	expectReg(t, m, S0, 8)
}

func TestExpandCompressed(t *testing.T) {
	for _, tt := range []struct {
		name string
		insn uint16
		want uint32
	}{
		{"c.li a0, 5", 0x4515, 0x00500513},
		{"c.addi a0, 3", 0x050d, 0x00350513},
		{"c.nop", 0x0001, 0x00000013},
		{"c.mv a0, a1", 0x852e, 0x00b00533},
		{"c.add a0, a1", 0x952e, 0x00b50533},
		{"c.ldsp ra, 8(sp)", 0x60a2, 0x00813083},
		{"c.sdsp ra, 8(sp)", 0xe406, 0x00113423},
		{"c.lw a0, 4(a1)", 0x41c8, 0x0045a503},
		{"c.addi4spn a0, sp, 16", 0x0808, 0x01010513},
		{"c.addi16sp sp, 16", 0x6141, 0x01010113},
		{"c.lui a0, 1", 0x6505, 0x00001537},
		{"c.srai s0, 1", 0x8405, 0x40145413},
		{"c.sub s0, s1", 0x8c05, 0x40940433},
		{"c.j -4", 0xbff5, 0xffdff06f},
		{"c.beqz a0, 8", 0xc501, 0x00050463},
		{"c.jr ra", 0x8082, 0x00008067},
		{"c.ebreak", 0x9002, insnEbreak},
	} {
		t.Run(tt.name, func(t *testing.T) {
			got, err := expandCompressed(tt.insn)
			if err != nil {
				t.Fatalf("expandCompressed(%#04x): %v", tt.insn, err)
			}
			if got != tt.want {
				t.Fatalf("expandCompressed(%#04x) = %#08x, want %#08x", tt.insn, got, tt.want)
			}
		})
	}
}

func TestExpandCompressedIllegal(t *testing.T) {
	for _, tt := range []struct {
		name string
		insn uint16
	}{
		{"all zero", 0x0000},
		{"c.addi16sp zero", 0x6101},
		{"c.jr x0", 0x8002},
		{"c.fld", 0x2000},
	} {
		t.Run(tt.name, func(t *testing.T) {
			_, err := expandCompressed(tt.insn)
			var exc *ExceptionError
			if !errors.As(err, &exc) || exc.Cause != CauseIllegalInsn {
				t.Fatalf("expandCompressed(%#04x) = %v, want illegal instruction", tt.insn, err)
			}
			if exc.Tval != uint64(tt.insn) {
				t.Fatalf("tval = %#x, want %#x", exc.Tval, tt.insn)
			}
		})
	}
}

func TestBitManipulation(t *testing.T) {
	m := run(t, DefaultConfig(), exitWith(
		riscv.Li(riscv.T0, 1),
		riscv.Li(riscv.T1, 0xff),
		riscv.Clz(riscv.S0, riscv.T0),
		riscv.Cpop(riscv.S1, riscv.T1),
		riscv.Rev8(riscv.A2, riscv.T1),
		riscv.Andn(riscv.A3, riscv.T1, riscv.T0),
		riscv.Max(riscv.A4, riscv.T0, riscv.T1),
		riscv.Sh1add(riscv.A5, riscv.T0, riscv.T1),
		riscv.Bset(riscv.A6, riscv.Zero, riscv.T1),
		riscv.Clmul(riscv.T2, riscv.T1, riscv.T1),
	))
	expectReg(t, m, S0, 63)
	expectReg(t, m, S1, 8)
	expectReg(t, m, A2, 0xff00000000000000)
	expectReg(t, m, A3, 0xfe)
	expectReg(t, m, A4, 0xff)
	expectReg(t, m, A5, 0x101)
	expectReg(t, m, A6, 1<<63)
	expectReg(t, m, T2, 0x5555)
}

func TestBitManipulationRequiresB(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ISA &^= ISAB
	m := newMachine(t, cfg, exitWith(riscv.Clz(riscv.S0, riscv.A0)))

	_, err := m.Run()
	var exc *ExceptionError
	if !errors.As(err, &exc) || exc.Cause != CauseIllegalInsn {
		t.Fatalf("got %v, want illegal instruction", err)
	}
	if exc.PC != riscv.TextBase {
		t.Fatalf("fault pc = %#x, want %#x", exc.PC, riscv.TextBase)
	}
}

func TestAtomics(t *testing.T) {
	m := run(t, DefaultConfig(), exitWith(
		riscv.Li(riscv.T0, dataAddr),
		riscv.Li(riscv.T1, 5),
		riscv.Sd(riscv.T1, riscv.T0, 0),
		riscv.Li(riscv.T2, 3),
		riscv.AmoaddD(riscv.S0, riscv.T0, riscv.T2),  // s0 = 5, mem = 8
		riscv.LrD(riscv.S1, riscv.T0),                // s1 = 8
		riscv.ScD(riscv.A2, riscv.T0, riscv.T1),      // succeeds, mem = 5
		riscv.ScD(riscv.A3, riscv.T0, riscv.T2),      // no reservation, fails
		riscv.AmomaxuD(riscv.A4, riscv.T0, riscv.T2), // a4 = 5, mem stays 5
		riscv.Ld(riscv.A5, riscv.T0, 0),
	))
	expectReg(t, m, S0, 5)
	expectReg(t, m, S1, 8)
	expectReg(t, m, A2, 0)
	expectReg(t, m, A3, 1)
	expectReg(t, m, A4, 5)
	expectReg(t, m, A5, 5)
}

func TestAtomicsRequireA(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ISA &^= ISAA
	m := newMachine(t, cfg, exitWith(
		riscv.Li(riscv.T0, dataAddr),
		riscv.AmoaddD(riscv.S0, riscv.T0, riscv.T0),
	))
	_, err := m.Run()
	var exc *ExceptionError
	if !errors.As(err, &exc) || exc.Cause != CauseIllegalInsn {
		t.Fatalf("got %v, want illegal instruction", err)
	}
}

func TestExitCode(t *testing.T) {
	m := newMachine(t, DefaultConfig(), asm.Group{
		riscv.Li(riscv.A0, -1),
		riscv.Exit(),
	})
	code, err := m.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if code != -1 || m.ExitCode() != -1 {
		t.Fatalf("exit code = %d, want -1", code)
	}
}

func TestRunBeforeLoad(t *testing.T) {
	m, err := NewBuilder(DefaultConfig()).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, err := m.Run(); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("got %v, want ErrNotLoaded", err)
	}
}

func TestWriteToTextFaults(t *testing.T) {
	m := newMachine(t, DefaultConfig(), exitWith(
		riscv.Li(riscv.T0, riscv.TextBase),
		riscv.Sd(riscv.Zero, riscv.T0, 0),
	))
	_, err := m.Run()
	var exc *ExceptionError
	if !errors.As(err, &exc) || exc.Cause != CauseStoreAccessFault {
		t.Fatalf("got %v, want store access fault", err)
	}
	if !errors.Is(err, ErrWriteOnExecutable) {
		t.Fatalf("got %v, want ErrWriteOnExecutable", err)
	}
}

func TestFetchFromDataFaults(t *testing.T) {
	m := newMachine(t, DefaultConfig(), exitWith(
		riscv.Li(riscv.T0, dataAddr),
		riscv.Jalr(riscv.Zero, riscv.T0, 0),
	))
	_, err := m.Run()
	if !errors.Is(err, ErrFetchOnNonExecutable) {
		t.Fatalf("got %v, want ErrFetchOnNonExecutable", err)
	}
}

func TestLoadOutOfBounds(t *testing.T) {
	m := newMachine(t, DefaultConfig(), exitWith(
		riscv.Li(riscv.T0, -8),
		riscv.Ld(riscv.S0, riscv.T0, 0),
	))
	_, err := m.Run()
	if !errors.Is(err, ErrOutOfBound) {
		t.Fatalf("got %v, want ErrOutOfBound", err)
	}
}

func TestCyclesExceeded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxCycles = 1000
	m := newMachine(t, cfg, asm.Group{
		asm.MarkLabel("spin"),
		riscv.J("spin"),
	})
	_, err := m.Run()
	if !errors.Is(err, ErrCyclesExceeded) {
		t.Fatalf("got %v, want ErrCyclesExceeded", err)
	}
	// each jump costs 3, so the last charge that fits leaves 999
	if m.Cycles() != 999 {
		t.Fatalf("cycles = %d, want 999", m.Cycles())
	}
}

func TestCyclesAreCharged(t *testing.T) {
	m := run(t, DefaultConfig(), asm.Group{
		riscv.Li(riscv.A0, 0),  // 1
		riscv.Li(riscv.A7, 93), // 1
		riscv.Ecall(),          // 500
	})
	if m.Cycles() != 502 {
		t.Fatalf("cycles = %d, want 502", m.Cycles())
	}
}

type recordingHandler struct {
	code    uint64
	calls   int
	handled int
	initErr error
}

func (h *recordingHandler) Initialize(Env) error { return h.initErr }

func (h *recordingHandler) Ecall(env Env) (bool, error) {
	h.calls++
	if env.Register(A7) != h.code {
		return false, nil
	}
	h.handled++
	return true, nil
}

func TestEcallChain(t *testing.T) {
	first := &recordingHandler{code: 1000}
	second := &recordingHandler{code: 2000}
	run(t, DefaultConfig(), exitWith(
		riscv.Syscall(2000),
		riscv.Syscall(1000),
	), first, second)

	if first.calls != 2 || first.handled != 1 {
		t.Errorf("first handler saw %d calls and handled %d, want 2 and 1", first.calls, first.handled)
	}
	// the second handler is never asked about a call the first accepted
	if second.calls != 1 || second.handled != 1 {
		t.Errorf("second handler saw %d calls and handled %d, want 1 and 1", second.calls, second.handled)
	}
}

func TestUnhandledEcall(t *testing.T) {
	m := newMachine(t, DefaultConfig(), exitWith(riscv.Syscall(4242)), &recordingHandler{code: 1})
	if _, err := m.Run(); !errors.Is(err, ErrInvalidEcall) {
		t.Fatalf("got %v, want ErrInvalidEcall", err)
	}
}

func TestHandlerInitializeError(t *testing.T) {
	boom := errors.New("boom")
	_, err := NewBuilder(DefaultConfig()).Syscall(&recordingHandler{initErr: boom}).Build()
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}
}

func TestEbreakIsNop(t *testing.T) {
	m := run(t, DefaultConfig(), exitWith(
		riscv.Ebreak(),
		riscv.Li(riscv.S0, 1),
	))
	expectReg(t, m, S0, 1)
}
