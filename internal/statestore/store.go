package statestore

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"paperflow/internal/fileutil"
)

// TimestampLayout is the local-time format used for created_at/updated_at.
const TimestampLayout = "2006-01-02 15:04:05"

// Store reads and writes JSON state records. It holds no locks: each record
// path is expected to have a single logical writer at a time.
type Store struct {
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the timestamp source (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs a Store.
func New(opts ...Option) *Store {
	s := &Store{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the store clock's current time formatted as a timestamp.
func (s *Store) Now() string {
	return s.now().Format(TimestampLayout)
}

// Time returns the store clock's current time.
func (s *Store) Time() time.Time {
	return s.now()
}

// Read loads the record at path. A missing or corrupt file yields an empty
// record; Read never fails.
func (s *Store) Read(path string) Record {
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil || rec == nil {
		return Record{}
	}
	return rec
}

// Write replaces the record at path atomically, creating parent directories.
func (s *Store) Write(path string, rec Record) error {
	if rec == nil {
		rec = Record{}
	}
	if err := fileutil.WriteJSON(path, rec); err != nil {
		return fmt.Errorf("write state %s: %w", path, err)
	}
	return nil
}

// Patch merges fields into the record at path, stamps updated_at, and writes
// the result. Keys absent from fields are preserved.
func (s *Store) Patch(path string, fields M) (Record, error) {
	return s.PatchRecord(path, FromMap(fields))
}

// PatchRecord is Patch for an already-typed object.
func (s *Store) PatchRecord(path string, fields Object) (Record, error) {
	merged := s.Read(path).Merge(fields)
	merged["updated_at"] = String(s.Now())
	if err := s.Write(path, merged); err != nil {
		return nil, err
	}
	return merged, nil
}
