package store

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/gofrs/flock"
)

// maxProcessedIDs caps the dedup log so it does not grow without bound.
// Mail older than the last thousand alerts is already below the watcher's
// baseline marker anyway.
const maxProcessedIDs = 1000

// IDLog is the mailbox watcher's persisted set of processed message IDs.
// Like the ledger it is rewritten whole under an exclusive lock; insertions
// are rare (one per alert email), so the full rewrite is acceptable.
type IDLog struct {
	path string
	lock *flock.Flock
}

// NewIDLog creates an ID log over the given file.
func NewIDLog(path string) *IDLog {
	return &IDLog{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// Load returns the set of processed IDs. Missing or corrupt files read as
// an empty set.
func (l *IDLog) Load() (map[string]struct{}, error) {
	if err := l.lock.Lock(); err != nil {
		return nil, fmt.Errorf("acquire id log lock: %w", err)
	}
	defer l.lock.Unlock()

	return l.loadLocked(), nil
}

// Add records id as processed, trimming the oldest entries past the cap.
func (l *IDLog) Add(id string) error {
	if err := l.lock.Lock(); err != nil {
		return fmt.Errorf("acquire id log lock: %w", err)
	}
	defer l.lock.Unlock()

	ids := l.loadOrderedLocked()
	for _, existing := range ids {
		if existing == id {
			return nil
		}
	}
	ids = append(ids, id)
	if len(ids) > maxProcessedIDs {
		ids = ids[len(ids)-maxProcessedIDs:]
	}
	return atomicWriteJSON(l.path, ids)
}

func (l *IDLog) loadLocked() map[string]struct{} {
	set := make(map[string]struct{})
	for _, id := range l.loadOrderedLocked() {
		set[id] = struct{}{}
	}
	return set
}

func (l *IDLog) loadOrderedLocked() []string {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil
	}
	return ids
}
