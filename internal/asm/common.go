// Package asm holds the architecture independent pieces of the guest
// assembler: fragments, labels and the assembled program image.
package asm

import (
	"fmt"
)

// Context receives the output of fragments as they are emitted.
type Context interface {
	EmitBytes(data []byte)

	// Offset returns the number of bytes emitted so far.
	Offset() int

	GetLabel(label Label) (int, bool)
	SetLabel(label Label)

	// AddFixup asks for patch to be called once every label is known.
	// patch receives the code buffer and the resolved label offset.
	AddFixup(label Label, patch FixupFunc)
}

// FixupFunc patches a previously emitted instruction at offset at. code is
// the full buffer; target is the offset the referenced label resolved to.
type FixupFunc func(code []byte, at, target int) error

type Fragment interface {
	Emit(ctx Context) error
}

type Group []Fragment

var (
	_ Fragment = Group{}
)

func (g Group) Emit(ctx Context) error {
	for _, frag := range g {
		if err := frag.Emit(ctx); err != nil {
			return err
		}
	}
	return nil
}

type Label string

type labelDef struct {
	label Label
}

func MarkLabel(label Label) Fragment {
	return &labelDef{label: label}
}

func (l *labelDef) Emit(ctx Context) error {
	if _, exists := ctx.GetLabel(l.label); exists {
		return fmt.Errorf("label %q already defined", l.label)
	}
	ctx.SetLabel(l.label)
	return nil
}

type literal struct {
	data []byte
}

// String emits s followed by a NUL byte.
func String(s string) Fragment {
	return literal{data: append([]byte(s), 0)}
}

// Bytes emits data verbatim.
func Bytes(data []byte) Fragment {
	return literal{data: append([]byte(nil), data...)}
}

func (l literal) Emit(ctx Context) error {
	ctx.EmitBytes(l.data)
	return nil
}

type align struct {
	n int
}

// Align pads with zero bytes up to a multiple of n.
func Align(n int) Fragment { return align{n: n} }

func (a align) Emit(ctx Context) error {
	if a.n <= 0 || a.n&(a.n-1) != 0 {
		return fmt.Errorf("alignment %d is not a power of two", a.n)
	}
	if pad := (a.n - ctx.Offset()%a.n) % a.n; pad > 0 {
		ctx.EmitBytes(make([]byte, pad))
	}
	return nil
}

// Program is assembled code plus the layout information needed to wrap it
// in an executable.
type Program struct {
	code    []byte
	labels  map[Label]int
	bssSize int
}

func (p Program) Bytes() []byte {
	return append([]byte(nil), p.code...)
}

// Label returns the offset of label within the code.
func (p Program) Label(label Label) (int, bool) {
	off, ok := p.labels[label]
	return off, ok
}

// BSSSize is the size of the zeroed writable region that follows the code.
func (p Program) BSSSize() int {
	return p.bssSize
}

// WithBSS returns a copy of p that asks for size bytes of writable memory.
func (p Program) WithBSS(size int) Program {
	out := p.Clone()
	out.bssSize = size
	return out
}

func (p Program) Clone() Program {
	labels := make(map[Label]int, len(p.labels))
	for k, v := range p.labels {
		labels[k] = v
	}
	return Program{
		code:    append([]byte(nil), p.code...),
		labels:  labels,
		bssSize: p.bssSize,
	}
}

func NewProgram(code []byte, labels map[Label]int, bss int) Program {
	p := Program{code: code, labels: labels, bssSize: bss}
	return p.Clone()
}
