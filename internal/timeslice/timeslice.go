// Package timeslice records how long each phase of a benchmark iteration
// takes into a compact binary trace.
//
// Phase kinds are registered once at package init with RegisterKind. A
// single trace can be open per process; while none is, Record is a no-op.
package timeslice

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"
)

const (
	Magic   uint32 = 0x53545652 // "RVTS"
	Version uint32 = 1

	alignment = 4096
)

var (
	ErrAlreadyOpen = errors.New("timeslice: already open")
	ErrClosed      = errors.New("timeslice: already closed")
)

type header struct {
	Magic       uint32
	Version     uint32
	KindsLength uint32
}

type KindID uint64

const InvalidKind = KindID(0)

type KindInfo struct {
	Name  string
	Flags KindFlags
}

type KindFlags uint32

const (
	// FlagGuest marks time spent executing guest instructions.
	FlagGuest KindFlags = 1 << iota
	// FlagSetup marks per-iteration host setup such as building a machine.
	FlagSetup
)

func (f KindFlags) String() string {
	flags := []string{}
	if f&FlagGuest != 0 {
		flags = append(flags, "guest")
	}
	if f&FlagSetup != 0 {
		flags = append(flags, "setup")
	}
	return strings.Join(flags, ",")
}

var kinds = make(map[KindID]KindInfo)

// RegisterKind adds a phase kind. It is meant for package-level var
// initialisation and is not safe for concurrent use.
func RegisterKind(name string, flags KindFlags) KindID {
	id := KindID(len(kinds) + 1)
	kinds[id] = KindInfo{
		Name:  name,
		Flags: flags,
	}
	return id
}

type record struct {
	ID       KindID
	Duration int64
}

var recordSize = binary.Size(record{})

type writer struct {
	w       io.Writer
	done    chan error
	records chan record
}

func (w *writer) run() {
	defer close(w.done)

	var buf [alignment]byte
	off := 0

	for rec := range w.records {
		if off+recordSize > len(buf) {
			if _, err := w.w.Write(buf[:off]); err != nil {
				w.done <- err
				// Keep draining so Record never blocks on a dead writer.
				for range w.records {
				}
				return
			}
			off = 0
		}
		binary.LittleEndian.PutUint64(buf[off:off+8], uint64(rec.ID))
		binary.LittleEndian.PutUint64(buf[off+8:off+16], uint64(rec.Duration))
		off += recordSize
	}

	if off > 0 {
		if _, err := w.w.Write(buf[:off]); err != nil {
			w.done <- err
			return
		}
	}

	w.done <- nil
}

// Close flushes buffered records and detaches the trace. Closing twice
// returns ErrClosed.
func (w *writer) Close() error {
	if !current.CompareAndSwap(w, nil) {
		return ErrClosed
	}

	close(w.records)

	if err := <-w.done; err != nil {
		return fmt.Errorf("timeslice: write thread: %w", err)
	}
	return nil
}

var current atomic.Pointer[writer]

// Recorder measures consecutive phases: each Mark records the time since
// the previous Mark (or since the recorder was created).
// It is not safe for concurrent use.
type Recorder struct {
	now  func() time.Time
	last time.Time
}

// NewRecorder starts a recorder on the given clock; nil means time.Now.
func NewRecorder(now func() time.Time) *Recorder {
	if now == nil {
		now = time.Now
	}
	return &Recorder{now: now, last: now()}
}

// Mark records the time elapsed since the previous mark under id and
// returns it.
func (r *Recorder) Mark(id KindID) time.Duration {
	t := r.now()
	d := t.Sub(r.last)
	r.last = t
	Record(id, d)
	return d
}

// Record appends a single record to the open trace, if any.
func Record(id KindID, duration time.Duration) {
	if w := current.Load(); w != nil {
		w.records <- record{
			ID:       id,
			Duration: duration.Nanoseconds(),
		}
	}
}

// Enabled reports whether a trace is open.
func Enabled() bool { return current.Load() != nil }

// Open starts a trace on w. The header lists every registered kind, so all
// kinds must be registered before Open.
func Open(w io.Writer) (io.Closer, error) {
	if current.Load() != nil {
		return nil, ErrAlreadyOpen
	}

	names, err := json.Marshal(kinds)
	if err != nil {
		return nil, fmt.Errorf("timeslice: marshal kinds: %w", err)
	}

	if err := binary.Write(w, binary.LittleEndian, header{
		Magic:       Magic,
		Version:     Version,
		KindsLength: uint32(len(names)),
	}); err != nil {
		return nil, fmt.Errorf("timeslice: write header: %w", err)
	}
	if _, err := w.Write(names); err != nil {
		return nil, fmt.Errorf("timeslice: write kinds: %w", err)
	}

	// records start on the next aligned offset
	off := binary.Size(header{}) + len(names)
	if pad := (alignment - off%alignment) % alignment; pad > 0 {
		if _, err := w.Write(make([]byte, pad)); err != nil {
			return nil, fmt.Errorf("timeslice: write padding: %w", err)
		}
	}

	tw := &writer{
		w:       w,
		records: make(chan record, alignment),
		done:    make(chan error, 1),
	}
	if !current.CompareAndSwap(nil, tw) {
		return nil, ErrAlreadyOpen
	}
	go tw.run()

	return tw, nil
}

// ReadAllRecords calls fn for every record in a trace, in write order.
func ReadAllRecords(r io.Reader, fn func(name string, flags KindFlags, duration time.Duration) error) error {
	var table map[KindID]KindInfo

	buf := bufio.NewReaderSize(r, alignment)

	var hdr header
	if err := binary.Read(buf, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("timeslice: read header: %w", err)
	}
	if hdr.Magic != Magic {
		return fmt.Errorf("timeslice: invalid magic 0x%08x", hdr.Magic)
	}
	if hdr.Version != Version {
		return fmt.Errorf("timeslice: unsupported version %d", hdr.Version)
	}

	dec := json.NewDecoder(io.LimitReader(buf, int64(hdr.KindsLength)))
	if err := dec.Decode(&table); err != nil {
		return fmt.Errorf("timeslice: decode kinds: %w", err)
	}

	off := int(hdr.KindsLength) + binary.Size(hdr)
	if pad := (alignment - off%alignment) % alignment; pad > 0 {
		if _, err := buf.Discard(pad); err != nil {
			return fmt.Errorf("timeslice: skip padding: %w", err)
		}
	}

	for {
		var rec record
		if err := binary.Read(buf, binary.LittleEndian, &rec); err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("timeslice: read record: %w", err)
		}
		kind, ok := table[rec.ID]
		if !ok {
			return fmt.Errorf("timeslice: unknown kind: %d", rec.ID)
		}
		if err := fn(kind.Name, kind.Flags, time.Duration(rec.Duration)); err != nil {
			return err
		}
	}

	return nil
}
