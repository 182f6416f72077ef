package timeslice

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var (
	kindA = RegisterKind("a", FlagSetup)
	kindB = RegisterKind("b", FlagGuest)
)

func TestTimeslice(t *testing.T) {
	var buf bytes.Buffer
	func() {
		closer, err := Open(&buf)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		defer closer.Close()

		Record(kindA, 100*time.Millisecond)
		Record(kindB, 200*time.Millisecond)
		Record(kindB, 400*time.Millisecond)
	}()

	stats, err := ReadAll(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("expected 2 kinds, got %d", len(stats))
	}
	if stats[0].Name != "a" || stats[0].Count != 1 || stats[0].Flags != FlagSetup {
		t.Fatalf("unexpected first kind: %+v", stats[0])
	}
	b := stats[1]
	if b.Count != 2 || b.Sum != 600*time.Millisecond || b.Min != 200*time.Millisecond || b.Max != 400*time.Millisecond {
		t.Fatalf("unexpected second kind: %+v", b)
	}
	if b.Avg() != 300*time.Millisecond {
		t.Fatalf("avg = %s, want 300ms", b.Avg())
	}
}

func TestRecordWithoutTraceIsNoop(t *testing.T) {
	if Enabled() {
		t.Fatal("trace unexpectedly open")
	}
	Record(kindA, time.Second)
}

func TestOpenTwice(t *testing.T) {
	var buf bytes.Buffer
	closer, err := Open(&buf)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := Open(&buf); !errors.Is(err, ErrAlreadyOpen) {
		t.Fatalf("second Open: got %v, want ErrAlreadyOpen", err)
	}
	if err := closer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := closer.Close(); !errors.Is(err, ErrClosed) {
		t.Fatalf("second Close: got %v, want ErrClosed", err)
	}
}

func TestRecorderUsesClock(t *testing.T) {
	var buf bytes.Buffer
	closer, err := Open(&buf)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	now := time.Unix(0, 0)
	rec := NewRecorder(func() time.Time { return now })
	now = now.Add(3 * time.Millisecond)
	if d := rec.Mark(kindA); d != 3*time.Millisecond {
		t.Fatalf("first mark = %s", d)
	}
	now = now.Add(5 * time.Millisecond)
	if d := rec.Mark(kindB); d != 5*time.Millisecond {
		t.Fatalf("second mark = %s", d)
	}
	if err := closer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var got []time.Duration
	if err := ReadAllRecords(bytes.NewReader(buf.Bytes()), func(name string, flags KindFlags, d time.Duration) error {
		got = append(got, d)
		return nil
	}); err != nil {
		t.Fatalf("ReadAllRecords: %v", err)
	}
	if len(got) != 2 || got[0] != 3*time.Millisecond || got[1] != 5*time.Millisecond {
		t.Fatalf("records = %v", got)
	}
}

func TestManyRecordsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.ts")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	closer, err := Open(f)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	// enough records to flush the write buffer several times
	const n = 10000
	for i := 0; i < n; i++ {
		Record(kindB, time.Microsecond)
	}
	if err := closer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}

	f, err = os.Open(path)
	if err != nil {
		t.Fatalf("Open file: %v", err)
	}
	defer f.Close()
	stats, err := ReadAll(f)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(stats) != 1 || stats[0].Count != n {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestReadRejectsBadMagic(t *testing.T) {
	if _, err := ReadAll(bytes.NewReader(make([]byte, 64))); err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func BenchmarkTimeslice(b *testing.B) {
	var buf bytes.Buffer
	closer, err := Open(&buf)
	if err != nil {
		b.Fatalf("Open: %v", err)
	}
	defer closer.Close()

	for b.Loop() {
		Record(kindA, 100*time.Millisecond)
	}
}
