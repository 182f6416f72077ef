// Package profile scopes the CPU profile and phase trace of one benchmark
// process.
package profile

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/profile"

	"github.com/tinyrange/rvbench/internal/timeslice"
)

// CPUProfileName is the file pkg/profile writes inside the profile
// directory.
const CPUProfileName = "cpu.pprof"

// Options selects what a Session records.
type Options struct {
	// Dir receives the CPU profile. Empty disables CPU profiling.
	Dir string
	// TraceFile receives the timeslice phase trace. Empty disables it.
	TraceFile string
}

// Session owns the process-wide profiling state. Stop must be called on
// every exit path.
type Session struct {
	cpu   interface{ Stop() }
	file  *os.File
	trace io.Closer

	once sync.Once
	err  error
}

// Start begins CPU profiling and the phase trace as configured. On error
// nothing is left running.
func Start(opts Options) (*Session, error) {
	s := &Session{}

	// pkg/profile exits the process when it cannot create its directory.
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("profile: create profile directory: %w", err)
		}
	}

	if opts.TraceFile != "" {
		if dir := filepath.Dir(opts.TraceFile); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("profile: create trace directory: %w", err)
			}
		}
		f, err := os.Create(opts.TraceFile)
		if err != nil {
			return nil, fmt.Errorf("profile: create trace: %w", err)
		}
		trace, err := timeslice.Open(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("profile: %w", err)
		}
		s.file = f
		s.trace = trace
		slog.Debug("phase trace enabled", "path", opts.TraceFile)
	}

	if opts.Dir != "" {
		s.cpu = profile.Start(
			profile.CPUProfile,
			profile.ProfilePath(opts.Dir),
			profile.Quiet,
			profile.NoShutdownHook,
		)
		slog.Debug("cpu profile enabled", "path", filepath.Join(opts.Dir, CPUProfileName))
	}

	return s, nil
}

// Stop ends profiling and flushes the trace. Later calls return the result
// of the first.
func (s *Session) Stop() error {
	s.once.Do(func() {
		if s.cpu != nil {
			s.cpu.Stop()
		}
		var errs []error
		if s.trace != nil {
			errs = append(errs, s.trace.Close())
		}
		if s.file != nil {
			errs = append(errs, s.file.Close())
		}
		s.err = errors.Join(errs...)
	})
	return s.err
}
