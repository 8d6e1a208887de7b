// Package userdir maps external user identities onto isolated per-user
// storage namespaces. Every persisted artifact is addressed through the
// Resolver; nothing else in the codebase builds user paths by hand.
package userdir

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"
)

const (
	// TransactionsFilename is the per-user transaction ledger.
	TransactionsFilename = "new_transactions.json"
	// PendingFilename is the staging file for raw batches awaiting
	// classification.
	PendingFilename = "pending_transactions.json"
	// ActivityFilename is the most recent raw archive extract.
	ActivityFilename = "My Activity.html"
	// ProcessedIDsFilename is the mailbox watcher's persisted dedup log.
	ProcessedIDsFilename = "processed_email_ids.json"
)

// Sanitize converts an external identity (typically an email address) into
// a filesystem-safe namespace name: non-alphanumerics become underscores
// and the result is lowercased.
func Sanitize(rawUserID string) string {
	trimmed := strings.TrimSpace(rawUserID)
	var b strings.Builder
	b.Grow(len(trimmed))
	for _, r := range trimmed {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Resolver resolves per-user artifact paths under a single data root.
type Resolver struct {
	root string
}

// NewResolver creates a resolver rooted at root.
func NewResolver(root string) *Resolver {
	return &Resolver{root: root}
}

// Root returns the data root directory.
func (r *Resolver) Root() string {
	return r.root
}

// UserDir returns the namespace directory for a user, creating it if needed.
func (r *Resolver) UserDir(userID string) (string, error) {
	safe := Sanitize(userID)
	if safe == "" {
		return "", fmt.Errorf("user id %q sanitizes to an empty namespace", userID)
	}
	dir := filepath.Join(r.root, safe)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create user dir: %w", err)
	}
	return dir, nil
}

// TransactionsPath returns the ledger file path for a user.
func (r *Resolver) TransactionsPath(userID string) (string, error) {
	return r.artifact(userID, TransactionsFilename)
}

// PendingPath returns the pending-transactions staging file path for a user.
func (r *Resolver) PendingPath(userID string) (string, error) {
	return r.artifact(userID, PendingFilename)
}

// ActivityPath returns the cached raw archive extract path for a user.
func (r *Resolver) ActivityPath(userID string) (string, error) {
	return r.artifact(userID, ActivityFilename)
}

// ProcessedIDsPath returns the mailbox dedup log path for a user.
func (r *Resolver) ProcessedIDsPath(userID string) (string, error) {
	return r.artifact(userID, ProcessedIDsFilename)
}

func (r *Resolver) artifact(userID, name string) (string, error) {
	dir, err := r.UserDir(userID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// ListUsers enumerates the known namespaces (sanitized identities) under
// the data root. A missing root is an empty list, not an error.
func (r *Resolver) ListUsers() ([]string, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read data root: %w", err)
	}
	var users []string
	for _, e := range entries {
		if e.IsDir() {
			users = append(users, e.Name())
		}
	}
	sort.Strings(users)
	return users, nil
}
