package watcher

import (
	"context"
	"errors"
	"time"
)

// ErrAuth marks authentication failures so the watcher can count them
// against the auth-failure budget; generic connection failures do not.
var ErrAuth = errors.New("mailbox authentication failed")

// Message is one fetched mailbox message.
type Message struct {
	UID       uint32
	MessageID string // protocol-level Message-ID header; may be empty
	From      string
	Body      string
	Date      time.Time
}

// Transport is the mailbox collaborator capability for one connection.
// A Transport is single-use: dial a fresh one per (re)connect.
type Transport interface {
	// Connect establishes an authenticated session for the mailbox.
	// Authentication failures are reported wrapping ErrAuth.
	Connect(ctx context.Context, address, accessToken string) error

	// SelectInbox opens the inbox and returns the baseline marker: the
	// next assignable message identifier at connection time.
	SelectInbox() (baseline uint32, err error)

	// SearchUnseenFrom returns identifiers of unread messages from the
	// given sender with identifier >= minUID, in fetch order.
	SearchUnseenFrom(sender string, minUID uint32) ([]uint32, error)

	// Fetch retrieves one full message.
	Fetch(uid uint32) (*Message, error)

	// MarkSeen flags a message as read.
	MarkSeen(uid uint32) error

	// IdleWait blocks cooperatively until the server signals new mail,
	// the timeout elapses, or ctx is cancelled, releasing server-side
	// idle state before returning. It reports whether new mail arrived.
	IdleWait(ctx context.Context, timeout time.Duration) (notified bool, err error)

	// Close terminates the session.
	Close() error
}

// Dialer produces a fresh Transport for each connection attempt.
type Dialer func() Transport
