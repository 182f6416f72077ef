package riscv

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"

	"github.com/tinyrange/rvbench/internal/asm"
)

const (
	// TextBase is the virtual address the code of a built executable is
	// loaded at.
	TextBase = 0x10000

	// EntryLabel marks the entry point. Without it execution starts at the
	// first byte of code.
	EntryLabel asm.Label = "_start"

	pageSize   = 0x1000
	textOffset = 0x1000

	elfHeaderSize  = 64 // sizeof(Elf64_Ehdr)
	progHeaderSize = 56 // sizeof(Elf64_Phdr)
)

// BSSBase returns the address of the writable region BuildELF reserves
// after the code of prog.
func BSSBase(prog asm.Program) uint64 {
	end := uint64(TextBase + len(prog.Bytes()))
	return (end + pageSize - 1) &^ (pageSize - 1)
}

// BuildELF wraps prog in a static RV64 executable. The code is mapped read
// and execute at TextBase; a non-zero BSSSize adds a zeroed writable
// segment at BSSBase.
func BuildELF(prog asm.Program) ([]byte, error) {
	code := prog.Bytes()
	if len(code) == 0 {
		return nil, fmt.Errorf("riscv: empty program")
	}

	entry := uint64(TextBase)
	if off, ok := prog.Label(EntryLabel); ok {
		entry += uint64(off)
	}

	progs := []elf.Prog64{{
		Type:   uint32(elf.PT_LOAD),
		Flags:  uint32(elf.PF_R | elf.PF_X),
		Off:    textOffset,
		Vaddr:  TextBase,
		Paddr:  TextBase,
		Filesz: uint64(len(code)),
		Memsz:  uint64(len(code)),
		Align:  pageSize,
	}}
	if bss := prog.BSSSize(); bss > 0 {
		base := BSSBase(prog)
		progs = append(progs, elf.Prog64{
			Type:  uint32(elf.PT_LOAD),
			Flags: uint32(elf.PF_R | elf.PF_W),
			Off:   textOffset + (base - TextBase),
			Vaddr: base,
			Paddr: base,
			Memsz: uint64(bss),
			Align: pageSize,
		})
	}

	hdr := elf.Header64{
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_RISCV),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     entry,
		Phoff:     elfHeaderSize,
		Ehsize:    elfHeaderSize,
		Phentsize: progHeaderSize,
		Phnum:     uint16(len(progs)),
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	hdr.Ident[elf.EI_OSABI] = byte(elf.ELFOSABI_NONE)

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &hdr); err != nil {
		return nil, err
	}
	for i := range progs {
		if err := binary.Write(&buf, binary.LittleEndian, &progs[i]); err != nil {
			return nil, err
		}
	}
	if buf.Len() > textOffset {
		return nil, fmt.Errorf("riscv: program headers overflow the first page")
	}
	buf.Write(make([]byte, textOffset-buf.Len()))
	buf.Write(code)

	return buf.Bytes(), nil
}

// Assemble emits frag and wraps the result with BuildELF, reserving bss
// bytes of writable memory.
func Assemble(frag asm.Fragment, bss int) ([]byte, error) {
	prog, err := EmitProgram(frag)
	if err != nil {
		return nil, err
	}
	return BuildELF(prog.WithBSS(bss))
}
