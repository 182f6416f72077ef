package rvm

import (
	"errors"
	"fmt"
)

// PageSize is the granularity of memory permissions.
const PageSize = 4096

// DefaultMemorySize is the guest address space used when Config.MemorySize
// is zero.
const DefaultMemorySize = 4 << 20

// Page flags.
const (
	FlagWritable   uint8 = 1 << 0
	FlagExecutable uint8 = 1 << 1
)

var (
	ErrOutOfBound           = errors.New("memory access out of bound")
	ErrWriteOnExecutable    = errors.New("memory write on executable page")
	ErrFetchOnNonExecutable = errors.New("instruction fetch from non-executable page")
)

// Memory is the flat guest address space starting at address zero. Pages
// are writable by default; pages holding program text are executable and
// read-only.
type Memory struct {
	data  []byte
	flags []uint8
}

// NewMemory allocates size bytes of zeroed guest memory. size must be a
// non-zero multiple of PageSize.
func NewMemory(size uint64) (*Memory, error) {
	if size == 0 || size%PageSize != 0 {
		return nil, fmt.Errorf("rvm: memory size %d is not a non-zero multiple of %d", size, PageSize)
	}
	m := &Memory{
		data:  make([]byte, size),
		flags: make([]uint8, size/PageSize),
	}
	for i := range m.flags {
		m.flags[i] = FlagWritable
	}
	return m, nil
}

// Size returns the size of the address space in bytes.
func (m *Memory) Size() uint64 { return uint64(len(m.data)) }

func (m *Memory) check(addr uint64, size uint64) error {
	end := addr + size
	if end < addr || end > uint64(len(m.data)) {
		return fmt.Errorf("%w: addr=0x%x size=%d", ErrOutOfBound, addr, size)
	}
	return nil
}

func (m *Memory) checkWrite(addr uint64, size uint64) error {
	if err := m.check(addr, size); err != nil {
		return err
	}
	if size == 0 {
		return nil
	}
	for page := addr / PageSize; page <= (addr+size-1)/PageSize; page++ {
		if m.flags[page]&FlagExecutable != 0 || m.flags[page]&FlagWritable == 0 {
			return fmt.Errorf("%w: addr=0x%x", ErrWriteOnExecutable, addr)
		}
	}
	return nil
}

// SetFlags sets the permission flags of every page overlapping
// [addr, addr+size).
func (m *Memory) SetFlags(addr, size uint64, flags uint8) error {
	if err := m.check(addr, size); err != nil {
		return err
	}
	if size == 0 {
		return nil
	}
	for page := addr / PageSize; page <= (addr+size-1)/PageSize; page++ {
		m.flags[page] = flags
	}
	return nil
}

// Flags returns the permission flags of the page containing addr.
func (m *Memory) Flags(addr uint64) (uint8, error) {
	if err := m.check(addr, 1); err != nil {
		return 0, err
	}
	return m.flags[addr/PageSize], nil
}

func (m *Memory) Load8(addr uint64) (uint8, error) {
	if err := m.check(addr, 1); err != nil {
		return 0, err
	}
	return m.data[addr], nil
}

func (m *Memory) Load16(addr uint64) (uint16, error) {
	if err := m.check(addr, 2); err != nil {
		return 0, err
	}
	return le.Uint16(m.data[addr:]), nil
}

func (m *Memory) Load32(addr uint64) (uint32, error) {
	if err := m.check(addr, 4); err != nil {
		return 0, err
	}
	return le.Uint32(m.data[addr:]), nil
}

func (m *Memory) Load64(addr uint64) (uint64, error) {
	if err := m.check(addr, 8); err != nil {
		return 0, err
	}
	return le.Uint64(m.data[addr:]), nil
}

func (m *Memory) Store8(addr uint64, v uint8) error {
	if err := m.checkWrite(addr, 1); err != nil {
		return err
	}
	m.data[addr] = v
	return nil
}

func (m *Memory) Store16(addr uint64, v uint16) error {
	if err := m.checkWrite(addr, 2); err != nil {
		return err
	}
	le.PutUint16(m.data[addr:], v)
	return nil
}

func (m *Memory) Store32(addr uint64, v uint32) error {
	if err := m.checkWrite(addr, 4); err != nil {
		return err
	}
	le.PutUint32(m.data[addr:], v)
	return nil
}

func (m *Memory) Store64(addr uint64, v uint64) error {
	if err := m.checkWrite(addr, 8); err != nil {
		return err
	}
	le.PutUint64(m.data[addr:], v)
	return nil
}

// StoreBytes copies p into guest memory at addr, honouring page flags.
func (m *Memory) StoreBytes(addr uint64, p []byte) error {
	if err := m.checkWrite(addr, uint64(len(p))); err != nil {
		return err
	}
	copy(m.data[addr:], p)
	return nil
}

// fetch reads the instruction parcel at pc. Only the first halfword needs
// to be readable for a compressed instruction.
func (m *Memory) fetch(pc uint64) (uint32, error) {
	if err := m.check(pc, 2); err != nil {
		return 0, err
	}
	if m.flags[pc/PageSize]&FlagExecutable == 0 {
		return 0, fmt.Errorf("%w: pc=0x%x", ErrFetchOnNonExecutable, pc)
	}
	lo := uint32(le.Uint16(m.data[pc:]))
	if lo&0x3 != 0x3 {
		return lo, nil
	}
	hiAddr := pc + 2
	if err := m.check(hiAddr, 2); err != nil {
		return 0, err
	}
	if m.flags[hiAddr/PageSize]&FlagExecutable == 0 {
		return 0, fmt.Errorf("%w: pc=0x%x", ErrFetchOnNonExecutable, hiAddr)
	}
	return lo | uint32(le.Uint16(m.data[hiAddr:]))<<16, nil
}

// load writes data into memory ignoring page flags. Used by the program
// loader before permissions are applied.
func (m *Memory) load(addr uint64, data []byte) error {
	if err := m.check(addr, uint64(len(data))); err != nil {
		return err
	}
	copy(m.data[addr:], data)
	return nil
}
