// Package syscalls contains host services guests reach through ECALL.
package syscalls

import (
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/tinyrange/rvbench/internal/rvm"
)

// DebugPrint is the syscall code of the debug print call: a0 holds the
// address of a NUL-terminated string. The code is matched against the low
// 32 bits of a7.
const DebugPrint = 2177

// ErrInvalidText is returned when a debug string is not valid UTF-8. It
// wraps rvm.ErrHostAbort: a guest emitting malformed text stops the host,
// not only the run.
var ErrInvalidText = fmt.Errorf("%w: debug text is not valid UTF-8", rvm.ErrHostAbort)

// Debug prints guest strings to a writer, one quoted string per line.
type Debug struct {
	out io.Writer
}

var _ rvm.Syscalls = (*Debug)(nil)

func NewDebug(out io.Writer) *Debug {
	return &Debug{out: out}
}

// Initialize implements rvm.Syscalls.
func (d *Debug) Initialize(env rvm.Env) error { return nil }

// Ecall implements rvm.Syscalls.
func (d *Debug) Ecall(env rvm.Env) (bool, error) {
	// only the low 32 bits of a7 select the call
	if int32(env.Register(rvm.A7)) != DebugPrint {
		return false, nil
	}

	text, err := ReadCString(env.Memory(), env.Register(rvm.A0))
	if err != nil {
		return false, err
	}
	if !utf8.Valid(text) {
		return false, fmt.Errorf("%w: %q", ErrInvalidText, text)
	}

	if _, err := fmt.Fprintf(d.out, "%q\n", text); err != nil {
		return false, fmt.Errorf("syscalls: write debug text: %w", err)
	}
	return true, nil
}

// ReadCString reads bytes from addr up to, not including, the first NUL.
func ReadCString(mem rvm.GuestMemory, addr uint64) ([]byte, error) {
	var buf []byte
	for {
		b, err := mem.Load8(addr)
		if err != nil {
			return nil, fmt.Errorf("syscalls: read string at 0x%x: %w", addr, err)
		}
		if b == 0 {
			return buf, nil
		}
		buf = append(buf, b)
		addr++
	}
}

// IsHostAbort reports whether err must stop the host process.
func IsHostAbort(err error) bool {
	return errors.Is(err, rvm.ErrHostAbort)
}
