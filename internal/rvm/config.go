package rvm

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strings"

	"github.com/zeebo/blake3"
)

// ISA is a set of instruction set extensions.
type ISA uint8

const (
	// ISAIMC is the RV64IMC base every machine must support.
	ISAIMC ISA = 1 << iota
	// ISAB enables the Zba, Zbb and Zbs bit manipulation extensions.
	ISAB
	// ISAMOP permits macro-op fusion. The interpreter executes fused pairs
	// one instruction at a time, so the flag affects nothing but identity.
	ISAMOP
	// ISAA enables the atomic extension.
	ISAA
)

func (i ISA) String() string {
	var parts []string
	if i&ISAIMC != 0 {
		parts = append(parts, "imc")
	}
	if i&ISAB != 0 {
		parts = append(parts, "b")
	}
	if i&ISAMOP != 0 {
		parts = append(parts, "mop")
	}
	if i&ISAA != 0 {
		parts = append(parts, "a")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Version selects machine behaviour revisions.
type Version uint32

const (
	Version0 Version = 0
	// Version1 aligns the initial stack pointer to 16 bytes and terminates
	// argv with a null pointer.
	Version1 Version = 1
	Version2 Version = 2

	LatestVersion = Version2
)

// Config holds the immutable per-machine settings.
type Config struct {
	ISA        ISA
	Version    Version
	MaxCycles  uint64
	MemorySize uint64 // 0 selects DefaultMemorySize
}

// DefaultConfig is the configuration the benchmark runs every iteration
// with: every supported extension, the latest version and no cycle limit.
func DefaultConfig() Config {
	return Config{
		ISA:        ISAIMC | ISAB | ISAMOP | ISAA,
		Version:    LatestVersion,
		MaxCycles:  math.MaxUint64,
		MemorySize: DefaultMemorySize,
	}
}

func (c Config) memorySize() uint64 {
	if c.MemorySize == 0 {
		return DefaultMemorySize
	}
	return c.MemorySize
}

// Validate reports whether the configuration can be instantiated.
func (c Config) Validate() error {
	if c.ISA&ISAIMC == 0 {
		return fmt.Errorf("rvm: ISA %s does not include the IMC base", c.ISA)
	}
	if c.ISA&^(ISAIMC|ISAB|ISAMOP|ISAA) != 0 {
		return fmt.Errorf("rvm: unknown ISA bits 0x%x", uint8(c.ISA))
	}
	if c.Version > LatestVersion {
		return fmt.Errorf("rvm: unsupported version %d", c.Version)
	}
	if size := c.memorySize(); size%PageSize != 0 {
		return fmt.Errorf("rvm: memory size %d is not a multiple of %d", size, PageSize)
	}
	return nil
}

// ConfigHash identifies a machine configuration. Results are only
// comparable between machines with equal hashes.
type ConfigHash [32]byte

// Hash computes a deterministic hash of the configuration.
func (c Config) Hash() ConfigHash {
	h := blake3.New()

	var buf [8]byte
	buf[0] = byte(c.ISA)
	h.Write(buf[:1])
	binary.LittleEndian.PutUint32(buf[:4], uint32(c.Version))
	h.Write(buf[:4])
	binary.LittleEndian.PutUint64(buf[:], c.MaxCycles)
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], c.memorySize())
	h.Write(buf[:])

	var out ConfigHash
	copy(out[:], h.Sum(nil))
	return out
}

func (h ConfigHash) String() string {
	return hex.EncodeToString(h[:])
}
