package timeslice

import (
	"fmt"
	"io"
	"time"
)

// Stats aggregates the records of one kind.
type Stats struct {
	Name  string
	Flags KindFlags
	Count int
	Sum   time.Duration
	Min   time.Duration
	Max   time.Duration
}

func (s *Stats) Add(d time.Duration) {
	if s.Count == 0 || d < s.Min {
		s.Min = d
	}
	if d > s.Max {
		s.Max = d
	}
	s.Count++
	s.Sum += d
}

// Avg returns the mean duration, or zero for an empty kind.
func (s *Stats) Avg() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.Sum / time.Duration(s.Count)
}

func (s *Stats) String() string {
	return fmt.Sprintf("%24s flags=%-12s count=%8d sum=%14s min=%12s max=%12s avg=%12s",
		s.Name, s.Flags, s.Count, s.Sum, s.Min, s.Max, s.Avg())
}

// ReadAll summarises a trace per kind, in order of first appearance.
func ReadAll(r io.Reader) ([]*Stats, error) {
	index := map[string]*Stats{}
	var order []*Stats
	err := ReadAllRecords(r, func(name string, flags KindFlags, d time.Duration) error {
		s, ok := index[name]
		if !ok {
			s = &Stats{Name: name, Flags: flags}
			index[name] = s
			order = append(order, s)
		}
		s.Add(d)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}
