// Package program reads guest binaries from disk.
package program

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/mr-tron/base58"
	"github.com/zeebo/blake3"
)

// zstdMagic starts every zstd frame.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// maxImageSize bounds the decompressed image; larger than any guest
// memory the machine can be configured with.
const maxImageSize = 1 << 30

// Program is a guest binary ready to be handed to the machine.
type Program struct {
	Path       string
	Image      []byte
	Compressed bool // the file on disk was zstd compressed
}

// Digest identifies the decompressed image: its blake3 hash in base58.
func (p *Program) Digest() string {
	return Digest(p.Image)
}

// Digest returns the base58 encoded blake3 hash of data.
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return base58.Encode(sum[:])
}

// Read loads the file at path, decompressing it if it is a zstd frame.
func Read(path string) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("program: read: %w", err)
	}
	image, compressed, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("program: %s: %w", path, err)
	}
	return &Program{Path: path, Image: image, Compressed: compressed}, nil
}

// Decode returns data unchanged unless it starts with the zstd magic, in
// which case the decompressed contents are returned.
func Decode(data []byte) ([]byte, bool, error) {
	if !bytes.HasPrefix(data, zstdMagic) {
		return data, false, nil
	}

	dec, err := zstd.NewReader(bytes.NewReader(data), zstd.WithDecoderMaxMemory(maxImageSize))
	if err != nil {
		return nil, true, fmt.Errorf("zstd: %w", err)
	}
	defer dec.Close()

	image, err := io.ReadAll(dec)
	if err != nil {
		return nil, true, fmt.Errorf("zstd: decompress: %w", err)
	}
	return image, true, nil
}

// Compress encodes image as a single zstd frame.
func Compress(image []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("program: zstd: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(image, nil), nil
}
