// Command mkguest writes the sample echo guest, optionally zstd compressed.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tinyrange/rvbench/internal/guest"
	"github.com/tinyrange/rvbench/internal/program"
)

func main() {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	output := fs.String("o", "echo.elf", "Output file")
	compress := fs.Bool("zstd", false, "Compress the image with zstd")

	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}

	image, err := guest.Echo()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to assemble guest: %v\n", err)
		os.Exit(1)
	}

	digest := program.Digest(image)
	if *compress {
		image, err = program.Compress(image)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to compress guest: %v\n", err)
			os.Exit(1)
		}
	}

	if err := os.WriteFile(*output, image, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write guest: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("wrote %s (%d bytes, digest %s)\n", *output, len(image), digest)
}
