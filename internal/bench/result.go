package bench

import (
	"fmt"
	"time"
)

// Outcome is how a run terminated: an exit code, or the error the machine
// stopped with.
type Outcome struct {
	Code int8
	Err  error
}

// Failed reports whether the run stopped with an error.
func (o Outcome) Failed() bool { return o.Err != nil }

// Equal compares two outcomes by value. Errors are equal when their
// messages are; a fresh machine produces a fresh error value every run.
func (o Outcome) Equal(other Outcome) bool {
	if (o.Err == nil) != (other.Err == nil) {
		return false
	}
	if o.Err != nil {
		return o.Err.Error() == other.Err.Error()
	}
	return o.Code == other.Code
}

func (o Outcome) String() string {
	if o.Err != nil {
		return fmt.Sprintf("Err(%v)", o.Err)
	}
	return fmt.Sprintf("Ok(%d)", o.Code)
}

// Result is everything a run exposes to the host: how it ended, what it
// cost and the value left in a1.
type Result struct {
	Outcome Outcome
	Cycles  uint64
	A1      uint64
}

func (r Result) Equal(other Result) bool {
	return r.Outcome.Equal(other.Outcome) && r.Cycles == other.Cycles && r.A1 == other.A1
}

func (r Result) String() string {
	return fmt.Sprintf("exit=%s cycles=%d r[a1]=%d", r.Outcome, r.Cycles, r.A1)
}

// Sample is one completed iteration.
type Sample struct {
	Iteration int
	Result    Result
	Elapsed   time.Duration
}

// Summary is what Verify reports after consuming every iteration.
type Summary struct {
	Iterations int
	Total      time.Duration
	Last       Result
}

// Average is the mean wall-clock duration of one iteration.
func (s Summary) Average() time.Duration {
	if s.Iterations == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Iterations)
}

// ExitStatus maps the final outcome to a process exit status. A failed run
// has no status; its error is returned instead.
func (s Summary) ExitStatus() (int, error) {
	if s.Last.Outcome.Err != nil {
		return 1, fmt.Errorf("bench: final run failed: %w", s.Last.Outcome.Err)
	}
	return int(uint8(s.Last.Outcome.Code)), nil
}

// MismatchError reports two consecutive iterations that disagreed.
type MismatchError struct {
	Iteration int
	Previous  Result
	Current   Result
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("bench: iteration %d is not deterministic: previous %s, current %s",
		e.Iteration, e.Previous, e.Current)
}
