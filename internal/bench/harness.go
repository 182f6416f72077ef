// Package bench runs a guest program many times from a cold start and
// checks that every run is observably identical.
package bench

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/tinyrange/rvbench/internal/timeslice"
)

const (
	// DefaultIterations is the number of cold-start runs per benchmark.
	DefaultIterations = 10000
	// DefaultProgressInterval is how often a progress step is reported.
	DefaultProgressInterval = 1000
)

var (
	// ErrConfigChanged is returned when the factory hands out a machine
	// configured differently from the first one.
	ErrConfigChanged = errors.New("bench: machine configuration changed between iterations")
	// ErrNoIterations is returned for a harness asked to run zero times.
	ErrNoIterations = errors.New("bench: iteration count must be positive")
)

var (
	tsConstruct = timeslice.RegisterKind("bench::construct", timeslice.FlagSetup)
	tsLoad      = timeslice.RegisterKind("bench::load", timeslice.FlagSetup)
	tsRun       = timeslice.RegisterKind("bench::run", timeslice.FlagGuest)
	tsCompare   = timeslice.RegisterKind("bench::compare", 0)
	tsIteration = timeslice.RegisterKind("bench::iteration", 0)
)

// Machine is what the harness needs from a guest machine.
type Machine interface {
	LoadProgram(program []byte, args [][]byte) error
	Run() (int8, error)
	Cycles() uint64
	Register(idx int) uint64

	// Fingerprint identifies the machine configuration.
	Fingerprint() string
}

// Factory builds a fresh machine for one iteration.
type Factory func() (Machine, error)

// Fatal decides whether a run error stops the benchmark at once instead of
// becoming part of the compared result.
type Fatal func(err error) bool

// Harness describes one benchmark: a program, its arguments and how many
// times to run it.
type Harness struct {
	Factory    Factory
	Program    []byte
	Args       [][]byte
	Iterations int

	// ResultRegister is the register captured after each run.
	ResultRegister int
	// Fatal classifies run errors; nil treats every run error as a result.
	Fatal Fatal
	// Clock defaults to time.Now.
	Clock  func() time.Time
	Logger *slog.Logger
}

func (h *Harness) now() time.Time {
	if h.Clock != nil {
		return h.Clock()
	}
	return time.Now()
}

func (h *Harness) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// Runs yields one Sample per iteration, building a fresh machine each
// time. Errors that make further iterations meaningless (construction,
// load, a fatal run error or a configuration change) are yielded once and
// end the sequence. Iterations only happen as the sequence is consumed.
func (h *Harness) Runs() iter.Seq2[Sample, error] {
	return func(yield func(Sample, error) bool) {
		if h.Iterations <= 0 {
			yield(Sample{}, ErrNoIterations)
			return
		}

		var fingerprint string
		for i := range h.Iterations {
			sample, fp, err := h.iteration(i)
			if err == nil && i == 0 {
				fingerprint = fp
				h.logger().Debug("first iteration complete", "fingerprint", fp, "result", sample.Result)
			} else if err == nil && fp != fingerprint {
				err = fmt.Errorf("%w: iteration %d has %s, expected %s", ErrConfigChanged, i, fp, fingerprint)
			}
			if err != nil {
				yield(Sample{Iteration: i}, err)
				return
			}
			if !yield(sample, nil) {
				return
			}
		}
	}
}

func (h *Harness) iteration(i int) (Sample, string, error) {
	start := h.now()
	rec := timeslice.NewRecorder(h.now)

	m, err := h.Factory()
	if err != nil {
		return Sample{}, "", fmt.Errorf("bench: iteration %d: build machine: %w", i, err)
	}
	rec.Mark(tsConstruct)

	if err := m.LoadProgram(h.Program, h.Args); err != nil {
		return Sample{}, "", fmt.Errorf("bench: iteration %d: load program: %w", i, err)
	}
	rec.Mark(tsLoad)

	code, runErr := m.Run()
	rec.Mark(tsRun)
	if runErr != nil && h.Fatal != nil && h.Fatal(runErr) {
		return Sample{}, "", fmt.Errorf("bench: iteration %d: run: %w", i, runErr)
	}

	result := Result{
		Outcome: Outcome{Code: code, Err: runErr},
		Cycles:  m.Cycles(),
		A1:      m.Register(h.ResultRegister),
	}
	if runErr != nil {
		result.Outcome.Code = 0
	}

	elapsed := h.now().Sub(start)
	timeslice.Record(tsIteration, elapsed)

	return Sample{Iteration: i, Result: result, Elapsed: elapsed}, m.Fingerprint(), nil
}

// Verify consumes runs, comparing each result with the one before it. It
// stops at the first error or mismatch; the returned Summary covers the
// iterations consumed so far.
func Verify(runs iter.Seq2[Sample, error], progress Progress) (Summary, error) {
	if progress == nil {
		progress = NoProgress{}
	}
	defer progress.Done()

	var sum Summary
	for s, err := range runs {
		if err != nil {
			return sum, err
		}

		compareStart := time.Now()
		sum.Total += s.Elapsed
		if sum.Iterations > 0 && !sum.Last.Equal(s.Result) {
			return sum, &MismatchError{Iteration: s.Iteration, Previous: sum.Last, Current: s.Result}
		}
		sum.Last = s.Result
		sum.Iterations++
		timeslice.Record(tsCompare, time.Since(compareStart))

		progress.Step(s.Iteration)
	}
	return sum, nil
}

// Run executes the whole benchmark.
func (h *Harness) Run(progress Progress) (Summary, error) {
	return Verify(h.Runs(), progress)
}
