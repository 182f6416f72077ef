// Package rvm implements a deterministic RV64 user-mode machine for running
// standalone guest programs.
//
// There are no privilege levels, CSRs or devices: a guest talks to the host
// only through ECALL, which is either the built-in exit call or one of the
// installed Syscalls handlers. Every retired instruction is charged to a
// cycle counter through a pluggable cost function.
package rvm

import (
	"encoding/binary"
	"fmt"
)

// Register indices by ABI name.
const (
	Zero = 0
	RA   = 1
	SP   = 2
	GP   = 3
	TP   = 4
	T0   = 5
	T1   = 6
	T2   = 7
	S0   = 8
	S1   = 9
	A0   = 10
	A1   = 11
	A2   = 12
	A3   = 13
	A4   = 14
	A5   = 15
	A6   = 16
	A7   = 17
	S2   = 18
	S3   = 19
	S4   = 20
	S5   = 21
	S6   = 22
	S7   = 23
	S8   = 24
	S9   = 25
	S10  = 26
	S11  = 27
	T3   = 28
	T4   = 29
	T5   = 30
	T6   = 31

	RegisterCount = 32
)

var registerNames = [RegisterCount]string{
	"zero", "ra", "sp", "gp", "tp", "t0", "t1", "t2",
	"s0", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
	"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7",
	"s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
}

// RegisterName returns the ABI name of register idx.
func RegisterName(idx int) string {
	if idx < 0 || idx >= RegisterCount {
		return fmt.Sprintf("x%d", idx)
	}
	return registerNames[idx]
}

// Exception causes raised by the interpreter.
const (
	CauseInsnAddrMisaligned  uint64 = 0
	CauseInsnAccessFault     uint64 = 1
	CauseIllegalInsn         uint64 = 2
	CauseLoadAddrMisaligned  uint64 = 4
	CauseLoadAccessFault     uint64 = 5
	CauseStoreAddrMisaligned uint64 = 6
	CauseStoreAccessFault    uint64 = 7
)

var causeNames = map[uint64]string{
	CauseInsnAddrMisaligned:  "instruction address misaligned",
	CauseInsnAccessFault:     "instruction access fault",
	CauseIllegalInsn:         "illegal instruction",
	CauseLoadAddrMisaligned:  "load address misaligned",
	CauseLoadAccessFault:     "load access fault",
	CauseStoreAddrMisaligned: "store address misaligned",
	CauseStoreAccessFault:    "store access fault",
}

// ExceptionError is a guest fault. In user mode there is no trap handler to
// deliver it to, so it terminates the run.
type ExceptionError struct {
	Cause uint64
	Tval  uint64
	PC    uint64
	Err   error // underlying memory error, if any
}

func (e *ExceptionError) Error() string {
	name, ok := causeNames[e.Cause]
	if !ok {
		name = fmt.Sprintf("cause=%d", e.Cause)
	}
	if e.Err != nil {
		return fmt.Sprintf("rvm: %s at pc=0x%x tval=0x%x: %v", name, e.PC, e.Tval, e.Err)
	}
	return fmt.Sprintf("rvm: %s at pc=0x%x tval=0x%x", name, e.PC, e.Tval)
}

func (e *ExceptionError) Unwrap() error { return e.Err }

func exception(cause, tval uint64) error {
	return &ExceptionError{Cause: cause, Tval: tval}
}

func accessFault(cause, addr uint64, err error) error {
	return &ExceptionError{Cause: cause, Tval: addr, Err: err}
}

// cpu holds the architectural state of the single hart.
type cpu struct {
	x  [RegisterCount]uint64
	pc uint64

	// LR/SC reservation
	reservation      uint64
	reservationValid bool
}

func (c *cpu) readReg(reg uint32) uint64 {
	if reg == 0 {
		return 0
	}
	return c.x[reg]
}

func (c *cpu) writeReg(reg uint32, val uint64) {
	if reg != 0 {
		c.x[reg] = val
	}
}

var le = binary.LittleEndian

func signExtend(val uint64, bits int) int64 {
	shift := 64 - bits
	return int64(val<<shift) >> shift
}
