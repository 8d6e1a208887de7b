// Package store implements the per-user transaction ledger: an append-only
// JSON file with duplicate suppression, exclusive cross-process locking, and
// atomic replacement on every write.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/anair/spendsight/internal/domain"
)

// Mutator transforms the current ledger contents into the next contents.
// It runs under the namespace's exclusive lock.
type Mutator func(records []domain.TransactionRecord) ([]domain.TransactionRecord, error)

// Store is the ledger for one user namespace. The zero value is not usable;
// create one with New.
type Store struct {
	path string
	lock *flock.Flock
}

// New creates a store over the given ledger file. The companion lock file
// lives next to the ledger so two namespaces never contend on one lock.
func New(path string) *Store {
	return &Store{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// Path returns the ledger file path.
func (s *Store) Path() string {
	return s.path
}

// ReadAll returns the current ledger contents. A missing or corrupt file
// reads as an empty ledger; the next successful write self-heals it.
func (s *Store) ReadAll() ([]domain.TransactionRecord, error) {
	if err := s.lock.Lock(); err != nil {
		return nil, fmt.Errorf("acquire ledger lock: %w", err)
	}
	defer s.lock.Unlock()

	return s.loadLocked(), nil
}

// AppendIfNew appends record unless the ledger already holds a record with
// identical (date, amount). It reports whether the record was inserted.
func (s *Store) AppendIfNew(record domain.TransactionRecord) (bool, error) {
	inserted := false
	err := s.Apply(func(records []domain.TransactionRecord) ([]domain.TransactionRecord, error) {
		for _, existing := range records {
			if existing.Key() == record.Key() {
				return records, nil
			}
		}
		inserted = true
		return append(records, record), nil
	})
	return inserted, err
}

// Apply runs one read-modify-write cycle under the exclusive namespace
// lock: load, mutate, write to a temp file in the same directory, make
// durable, and atomically rename over the ledger. This is the only write
// path; partial or in-place edits never happen.
func (s *Store) Apply(mutate Mutator) error {
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("acquire ledger lock: %w", err)
	}
	defer s.lock.Unlock()

	records := s.loadLocked()
	updated, err := mutate(records)
	if err != nil {
		return err
	}
	return atomicWriteJSON(s.path, updated)
}

func (s *Store) loadLocked() []domain.TransactionRecord {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return []domain.TransactionRecord{}
	}
	var records []domain.TransactionRecord
	if err := json.Unmarshal(data, &records); err != nil {
		// Corrupt ledger reads as empty; the file itself is left in
		// place for inspection.
		return []domain.TransactionRecord{}
	}
	return records
}

// atomicWriteJSON writes v as indented JSON through a temp file and rename,
// so readers never observe a half-written file.
func atomicWriteJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".write-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
