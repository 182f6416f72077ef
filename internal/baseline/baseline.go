// Package baseline persists benchmark results across processes so that a
// repeated benchmark of the same program can be checked for determinism.
package baseline

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"github.com/zeebo/blake3"
	bolt "go.etcd.io/bbolt"
)

var (
	// ErrNotFound is returned by Get when no record exists for a key.
	ErrNotFound = errors.New("baseline: not found")

	// ErrMismatch is returned by Check when the stored result differs.
	ErrMismatch = errors.New("baseline: result differs from stored baseline")
)

var bucketResults = []byte("results")

// Key identifies one benchmark setup.
type Key struct {
	Program string // program digest
	Config  string // machine config fingerprint
	Args    string // digest of the guest arguments
}

// ArgsDigest hashes guest arguments, length-prefixing each one so that
// ["ab"] and ["a", "b"] differ.
func ArgsDigest(args [][]byte) string {
	h := blake3.New()
	var n [8]byte
	for _, a := range args {
		l := uint64(len(a))
		for i := range n {
			n[i] = byte(l >> (8 * i))
		}
		h.Write(n[:])
		h.Write(a)
	}
	return base58.Encode(h.Sum(nil))
}

func (k Key) bytes() []byte {
	return []byte(k.Program + "/" + k.Config + "/" + k.Args)
}

// Record is the stored form of a result.
type Record struct {
	Result   string    `json:"result"`
	Session  string    `json:"session"`
	Recorded time.Time `json:"recorded"`
}

// Store is a bbolt backed baseline database.
type Store struct {
	db      *bolt.DB
	session string
	now     func() time.Time
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("baseline: create directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("baseline: open database: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketResults)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("baseline: init buckets: %w", err)
	}
	return &Store{db: db, session: uuid.NewString(), now: time.Now}, nil
}

// Session identifies this process in the records it writes.
func (s *Store) Session() string { return s.session }

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the record stored for key.
func (s *Store) Get(key Key) (*Record, error) {
	var rec Record
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketResults).Get(key.bytes())
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Put stores result for key, replacing any previous record.
func (s *Store) Put(key Key, result string) error {
	data, err := json.Marshal(Record{Result: result, Session: s.session, Recorded: s.now().UTC()})
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketResults).Put(key.bytes(), data)
	})
}

// Check compares result with the stored baseline for key. With no
// baseline the result is stored and stored is true. A differing baseline
// yields an error wrapping ErrMismatch.
func (s *Store) Check(key Key, result string) (stored bool, err error) {
	prev, err := s.Get(key)
	if errors.Is(err, ErrNotFound) {
		if err := s.Put(key, result); err != nil {
			return false, fmt.Errorf("baseline: store: %w", err)
		}
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("baseline: read: %w", err)
	}
	if prev.Result != result {
		return false, fmt.Errorf("%w: session %s recorded %q at %s, got %q",
			ErrMismatch, prev.Session, prev.Result, prev.Recorded.Format(time.RFC3339), result)
	}
	return false, nil
}
