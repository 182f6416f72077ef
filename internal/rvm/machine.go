package rvm

import (
	"errors"
	"fmt"
)

// SyscallExit is the environment call code the machine handles itself: it
// stops the run with exit code A0.
const SyscallExit = 93

var (
	// ErrInvalidEcall is returned when no installed handler accepts an
	// environment call.
	ErrInvalidEcall = errors.New("rvm: invalid ecall")
	// ErrCyclesExceeded is returned when an instruction would take the
	// cycle counter past Config.MaxCycles.
	ErrCyclesExceeded = errors.New("rvm: max cycles exceeded")
	// ErrNotLoaded is returned by Run before a program has been loaded.
	ErrNotLoaded = errors.New("rvm: no program loaded")
	// ErrHostAbort marks a syscall failure that must stop the host, not
	// only the current run. Handlers wrap it around their own error.
	ErrHostAbort = errors.New("rvm: host abort")
)

// GuestMemory is the memory interface handlers see.
type GuestMemory interface {
	Load8(addr uint64) (uint8, error)
}

// Env is the view of a running machine given to syscall handlers.
type Env interface {
	Register(idx int) uint64
	Memory() GuestMemory
}

// Syscalls handles environment calls the machine does not implement
// itself. Handlers are consulted in installation order; the first to
// return true consumes the call.
type Syscalls interface {
	Initialize(env Env) error
	Ecall(env Env) (bool, error)
}

// Machine is a single-hart RV64 guest. It is not safe for concurrent use;
// one machine runs one program once.
type Machine struct {
	cfg      Config
	cpu      cpu
	mem      *Memory
	cost     CostFunc
	syscalls []Syscalls

	cycles   uint64
	next     uint64
	running  bool
	loaded   bool
	exitCode int8
}

// Builder assembles a Machine from a configuration, a cost function and a
// list of syscall handlers.
type Builder struct {
	cfg      Config
	cost     CostFunc
	syscalls []Syscalls
}

func NewBuilder(cfg Config) *Builder {
	return &Builder{cfg: cfg}
}

// InstructionCost sets the cost function. Without one every instruction
// costs nothing.
func (b *Builder) InstructionCost(fn CostFunc) *Builder {
	b.cost = fn
	return b
}

// Syscall appends a handler to the dispatch chain.
func (b *Builder) Syscall(s Syscalls) *Builder {
	b.syscalls = append(b.syscalls, s)
	return b
}

// Build validates the configuration, allocates guest memory and
// initializes every handler.
func (b *Builder) Build() (*Machine, error) {
	if err := b.cfg.Validate(); err != nil {
		return nil, err
	}
	mem, err := NewMemory(b.cfg.memorySize())
	if err != nil {
		return nil, err
	}

	cost := b.cost
	if cost == nil {
		cost = func(uint32) uint64 { return 0 }
	}

	m := &Machine{
		cfg:      b.cfg,
		mem:      mem,
		cost:     cost,
		syscalls: append([]Syscalls(nil), b.syscalls...),
	}
	for _, s := range m.syscalls {
		if err := s.Initialize(m); err != nil {
			return nil, fmt.Errorf("rvm: initialize syscall handler: %w", err)
		}
	}
	return m, nil
}

// Config returns the configuration the machine was built with.
func (m *Machine) Config() Config { return m.cfg }

// Cycles returns the cycles charged so far.
func (m *Machine) Cycles() uint64 { return m.cycles }

// AddCycles charges n cycles, failing if the budget would be exceeded.
// The counter is left unchanged on failure.
func (m *Machine) AddCycles(n uint64) error {
	next := m.cycles + n
	if next < m.cycles || next > m.cfg.MaxCycles {
		return fmt.Errorf("%w: %d + %d > %d", ErrCyclesExceeded, m.cycles, n, m.cfg.MaxCycles)
	}
	m.cycles = next
	return nil
}

func (m *Machine) Register(idx int) uint64 {
	if idx <= 0 || idx >= RegisterCount {
		return 0
	}
	return m.cpu.x[idx]
}

func (m *Machine) SetRegister(idx int, val uint64) {
	if idx <= 0 || idx >= RegisterCount {
		return
	}
	m.cpu.x[idx] = val
}

// Registers returns a copy of the integer register file.
func (m *Machine) Registers() [RegisterCount]uint64 { return m.cpu.x }

func (m *Machine) PC() uint64 { return m.cpu.pc }

func (m *Machine) SetPC(pc uint64) { m.cpu.pc = pc }

func (m *Machine) Memory() GuestMemory { return m.mem }

// ExitCode returns the code passed to the exit call by the last run.
func (m *Machine) ExitCode() int8 { return m.exitCode }

// Run executes the loaded program until it calls exit or faults.
func (m *Machine) Run() (int8, error) {
	if !m.loaded {
		return 0, ErrNotLoaded
	}
	m.running = true
	for m.running {
		if err := m.Step(); err != nil {
			m.running = false
			return 0, err
		}
	}
	return m.exitCode, nil
}

// Step executes a single instruction.
func (m *Machine) Step() error {
	pc := m.cpu.pc

	raw, err := m.mem.fetch(pc)
	if err != nil {
		return &ExceptionError{Cause: CauseInsnAccessFault, Tval: pc, PC: pc, Err: err}
	}

	insn, size := raw, uint64(4)
	if raw&0x3 != 0x3 {
		size = 2
		if insn, err = expandCompressed(uint16(raw)); err != nil {
			return withPC(err, pc)
		}
	}

	if err := m.AddCycles(m.cost(insn)); err != nil {
		return err
	}

	m.next = pc + size
	if err := m.execute(insn); err != nil {
		return withPC(err, pc)
	}
	m.cpu.pc = m.next
	return nil
}

func withPC(err error, pc uint64) error {
	var exc *ExceptionError
	if errors.As(err, &exc) && exc.PC == 0 {
		exc.PC = pc
	}
	return err
}

func (m *Machine) ecall() error {
	code := m.cpu.x[A7]
	if code == SyscallExit {
		m.exitCode = int8(m.cpu.x[A0])
		m.running = false
		return nil
	}
	for _, s := range m.syscalls {
		handled, err := s.Ecall(m)
		if err != nil {
			return fmt.Errorf("rvm: syscall %d: %w", code, err)
		}
		if handled {
			return nil
		}
	}
	return fmt.Errorf("%w: %d", ErrInvalidEcall, code)
}
