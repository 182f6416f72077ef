package bench

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// Progress is told about every completed iteration.
type Progress interface {
	Step(iteration int)
	Done()
}

// NoProgress reports nothing.
type NoProgress struct{}

func (NoProgress) Step(int) {}
func (NoProgress) Done()    {}

// StepPrinter writes "Step: i" for every iteration that is a multiple of
// Interval, starting with iteration zero.
type StepPrinter struct {
	Out      io.Writer
	Interval int
}

func (p StepPrinter) Step(i int) {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultProgressInterval
	}
	if i%interval == 0 {
		fmt.Fprintf(p.Out, "Step: %d\n", i)
	}
}

func (StepPrinter) Done() {}

// Bar draws a progress bar for a known number of iterations.
type Bar struct {
	bar *progressbar.ProgressBar
}

func NewBar(out io.Writer, iterations int) *Bar {
	return &Bar{bar: progressbar.NewOptions(iterations,
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetDescription("running"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("runs"),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(out) }),
	)}
}

func (b *Bar) Step(int) { b.bar.Add(1) }

func (b *Bar) Done() { b.bar.Close() }

// Progress modes accepted by NewProgress.
const (
	ProgressSteps = "steps"
	ProgressBar   = "bar"
	ProgressAuto  = "auto"
)

// NewProgress picks a reporter by mode. "auto" draws a bar on stderr when
// it is a terminal and prints steps to stdout otherwise.
func NewProgress(mode string, iterations, interval int, stdout, stderr *os.File) (Progress, error) {
	switch mode {
	case "", ProgressSteps:
		return StepPrinter{Out: stdout, Interval: interval}, nil
	case ProgressBar:
		return NewBar(stderr, iterations), nil
	case ProgressAuto:
		if term.IsTerminal(int(stderr.Fd())) {
			return NewBar(stderr, iterations), nil
		}
		return StepPrinter{Out: stdout, Interval: interval}, nil
	default:
		return nil, fmt.Errorf("bench: unknown progress mode %q", mode)
	}
}
