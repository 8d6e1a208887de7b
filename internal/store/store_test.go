package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/anair/spendsight/internal/domain"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "new_transactions.json"))
}

func record(date, amount string) domain.TransactionRecord {
	return domain.TransactionRecord{
		Amount:         amount,
		Classification: "Miscellaneous",
		Date:           date,
	}
}

func TestReadAllMissingFile(t *testing.T) {
	s := testStore(t)
	records, err := s.ReadAll()
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestAppendIfNew(t *testing.T) {
	s := testStore(t)

	inserted, err := s.AppendIfNew(record("2026-01-17 14:03:22", "166"))
	require.NoError(t, err)
	require.True(t, inserted)

	// Same (date, amount) is a duplicate even with different metadata.
	dup := record("2026-01-17 14:03:22", "166")
	dup.Receiver = "Someone Else"
	inserted, err = s.AppendIfNew(dup)
	require.NoError(t, err)
	require.False(t, inserted)

	// Same date, different amount is a distinct transaction.
	inserted, err = s.AppendIfNew(record("2026-01-17 14:03:22", "167"))
	require.NoError(t, err)
	require.True(t, inserted)

	records, err := s.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
}

func TestCorruptFileTreatedAsEmpty(t *testing.T) {
	s := testStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte("{not json"), 0o644))

	records, err := s.ReadAll()
	require.NoError(t, err)
	require.Empty(t, records)

	// The first successful write replaces the corrupt file.
	inserted, err := s.AppendIfNew(record("2026-01-17 14:03:22", "166"))
	require.NoError(t, err)
	require.True(t, inserted)

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	var out []domain.TransactionRecord
	require.NoError(t, json.Unmarshal(data, &out))
	require.Len(t, out, 1)
}

func TestApplyMutator(t *testing.T) {
	s := testStore(t)
	_, err := s.AppendIfNew(record("2026-01-17 14:03:22", "166"))
	require.NoError(t, err)

	err = s.Apply(func(records []domain.TransactionRecord) ([]domain.TransactionRecord, error) {
		records[0].Classification = "Quick Commerce"
		return records, nil
	})
	require.NoError(t, err)

	records, err := s.ReadAll()
	require.NoError(t, err)
	require.Equal(t, "Quick Commerce", records[0].Classification)
}

func TestConcurrentAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "new_transactions.json")

	const writers = 8
	var wg sync.WaitGroup
	dates := []string{
		"2026-01-17 10:00:01", "2026-01-17 10:00:02", "2026-01-17 10:00:03",
		"2026-01-17 10:00:04", "2026-01-17 10:00:05", "2026-01-17 10:00:06",
		"2026-01-17 10:00:07", "2026-01-17 10:00:08",
	}

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(date string) {
			defer wg.Done()
			// Each goroutine uses its own Store over the same file, as
			// separate processes would.
			s := New(path)
			_, err := s.AppendIfNew(record(date, "10"))
			require.NoError(t, err)
		}(dates[i])
	}
	wg.Wait()

	records, err := New(path).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, writers, "no append may be lost under concurrency")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var out []domain.TransactionRecord
	require.NoError(t, json.Unmarshal(data, &out), "file must always be valid JSON")
}

func TestIDLog(t *testing.T) {
	l := NewIDLog(filepath.Join(t.TempDir(), "processed_email_ids.json"))

	ids, err := l.Load()
	require.NoError(t, err)
	require.Empty(t, ids)

	require.NoError(t, l.Add("<msg-1@mail>"))
	require.NoError(t, l.Add("<msg-2@mail>"))
	require.NoError(t, l.Add("<msg-1@mail>")) // idempotent

	ids, err = l.Load()
	require.NoError(t, err)
	require.Len(t, ids, 2)
	_, ok := ids["<msg-1@mail>"]
	require.True(t, ok)
}

func TestIDLogCap(t *testing.T) {
	l := NewIDLog(filepath.Join(t.TempDir(), "processed_email_ids.json"))

	for i := 0; i < maxProcessedIDs+10; i++ {
		require.NoError(t, l.Add("msg-"+strconv.Itoa(i)))
	}

	ids, err := l.Load()
	require.NoError(t, err)
	require.Len(t, ids, maxProcessedIDs, "log must trim oldest entries past the cap")

	// The survivors are the newest IDs.
	_, oldest := ids["msg-0"]
	require.False(t, oldest)
	_, newest := ids["msg-"+strconv.Itoa(maxProcessedIDs+9)]
	require.True(t, newest)
}
