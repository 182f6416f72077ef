package rvm

import (
	"bytes"
	"debug/elf"
	"errors"
	"fmt"
	"io"
)

// ErrInvalidProgram is returned by LoadProgram for binaries the machine
// cannot run.
var ErrInvalidProgram = errors.New("rvm: invalid program")

// LoadProgram maps the PT_LOAD segments of an RV64 ELF image into memory,
// points the PC at its entry and builds the initial stack from args.
// Executable segments become read-only, every other segment writable.
func (m *Machine) LoadProgram(program []byte, args [][]byte) error {
	if m.loaded {
		return fmt.Errorf("rvm: program already loaded")
	}

	f, err := elf.NewFile(bytes.NewReader(program))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidProgram, err)
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS64 || f.Data != elf.ELFDATA2LSB {
		return fmt.Errorf("%w: not a little-endian 64-bit ELF", ErrInvalidProgram)
	}
	if f.Machine != elf.EM_RISCV {
		return fmt.Errorf("%w: machine %s is not RISC-V", ErrInvalidProgram, f.Machine)
	}

	segments := 0
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD || p.Memsz == 0 {
			continue
		}
		if err := m.loadSegment(p); err != nil {
			return err
		}
		segments++
	}
	if segments == 0 {
		return fmt.Errorf("%w: no loadable segments", ErrInvalidProgram)
	}

	m.cpu.pc = f.Entry

	stackSize := m.mem.Size() / 4
	if err := m.initializeStack(args, m.mem.Size()-stackSize, stackSize); err != nil {
		return fmt.Errorf("rvm: initialize stack: %w", err)
	}

	m.loaded = true
	return nil
}

func (m *Machine) loadSegment(p *elf.Prog) error {
	if p.Filesz > p.Memsz {
		return fmt.Errorf("%w: segment at 0x%x has filesz > memsz", ErrInvalidProgram, p.Vaddr)
	}
	end := p.Vaddr + p.Memsz
	if end < p.Vaddr || end > m.mem.Size() {
		return fmt.Errorf("%w: segment 0x%x-0x%x outside memory", ErrInvalidProgram, p.Vaddr, end)
	}

	data := make([]byte, p.Memsz)
	if _, err := io.ReadFull(p.Open(), data[:p.Filesz]); err != nil {
		return fmt.Errorf("%w: read segment at 0x%x: %w", ErrInvalidProgram, p.Vaddr, err)
	}
	if err := m.mem.load(p.Vaddr, data); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidProgram, err)
	}

	flags := FlagWritable
	if p.Flags&elf.PF_X != 0 {
		flags = FlagExecutable
	}
	return m.mem.SetFlags(p.Vaddr, p.Memsz, flags)
}

// initializeStack lays out argc, the argv pointers and the argument
// strings below the top of the stack region and points SP at argc.
func (m *Machine) initializeStack(args [][]byte, stackStart, stackSize uint64) error {
	top := stackStart + stackSize

	// With no arguments the stack holds only a zero argc, which fresh
	// memory already provides.
	if m.cfg.Version >= Version1 && len(args) == 0 {
		m.cpu.x[SP] = (top - 8) &^ 15
		return nil
	}

	sp := top
	values := []uint64{uint64(len(args))}
	for _, arg := range args {
		sp -= uint64(len(arg)) + 1
		if sp < stackStart || sp > top {
			return fmt.Errorf("arguments overflow the stack")
		}
		if err := m.mem.StoreBytes(sp, arg); err != nil {
			return err
		}
		if err := m.mem.Store8(sp+uint64(len(arg)), 0); err != nil {
			return err
		}
		values = append(values, sp)
	}

	if m.cfg.Version >= Version1 {
		values = append(values, 0)
		unaligned := sp - uint64(len(values))*8
		sp -= unaligned - unaligned&^15
	}

	for i := len(values) - 1; i >= 0; i-- {
		sp -= 8
		if sp < stackStart || sp > top {
			return fmt.Errorf("arguments overflow the stack")
		}
		if err := m.mem.Store64(sp, values[i]); err != nil {
			return err
		}
	}

	m.cpu.x[SP] = sp
	return nil
}
