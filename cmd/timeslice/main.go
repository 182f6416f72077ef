package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/tinyrange/rvbench/internal/timeslice"
)

func main() {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	filename := fs.String("filename", "", "Timeslice file to read")
	sums := fs.Bool("sums", false, "Print per-phase sums instead of every record")

	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}

	if *filename == "" {
		fs.Usage()
		os.Exit(1)
	}

	f, err := os.Open(*filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open timeslice file: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	if *sums {
		stats, err := timeslice.ReadAll(f)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to read timeslice file: %v\n", err)
			os.Exit(1)
		}
		for _, s := range stats {
			fmt.Println(s.String())
		}
		return
	}

	if err := timeslice.ReadAllRecords(f, func(name string, flags timeslice.KindFlags, duration time.Duration) error {
		fmt.Printf("%s %s %s\n", name, flags, duration)
		return nil
	}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to read timeslice file: %v\n", err)
		os.Exit(1)
	}
}
