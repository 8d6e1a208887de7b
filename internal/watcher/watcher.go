// Package watcher maintains a long-lived connection to one user's mailbox
// and feeds qualifying debit alerts through classification into the ledger.
// One watcher per monitored mailbox; watchers share nothing.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/anair/spendsight/internal/classifier"
	"github.com/anair/spendsight/internal/store"
	"github.com/anair/spendsight/internal/tokens"
)

// State is the explicit per-watcher connection state, threaded through the
// connect/idle/process cycle.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticated
	StateBaselineEstablished
	StateIdleWait
	StateProcessing
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateBaselineEstablished:
		return "baseline_established"
	case StateIdleWait:
		return "idle_wait"
	case StateProcessing:
		return "processing"
	default:
		return "disconnected"
	}
}

// CredentialProvider is the credential collaborator capability.
type CredentialProvider interface {
	Get(ctx context.Context, userID string, forceRefresh bool) (*tokens.Credential, error)
}

// Config holds per-watcher settings.
type Config struct {
	Address          string // mailbox address; doubles as the user identity
	AlertSender      string
	IdleTimeout      time.Duration
	ReconnectBackoff time.Duration
	AuthFailureLimit int
	AuthCooldown     time.Duration
}

// Watcher monitors one mailbox.
type Watcher struct {
	cfg      Config
	dial     Dialer
	creds    CredentialProvider
	classify classifier.MessageClassifier
	ledger   *store.Store
	idLog    *store.IDLog
	log      zerolog.Logger
	state    State
	sleep    func(ctx context.Context, d time.Duration) error
}

// New creates a watcher for one mailbox.
func New(cfg Config, dial Dialer, creds CredentialProvider, classify classifier.MessageClassifier,
	ledger *store.Store, idLog *store.IDLog, log zerolog.Logger) *Watcher {
	return &Watcher{
		cfg:      cfg,
		dial:     dial,
		creds:    creds,
		classify: classify,
		ledger:   ledger,
		idLog:    idLog,
		log:      log.With().Str("mailbox", cfg.Address).Logger(),
		sleep:    sleepCtx,
	}
}

// Run monitors the mailbox until ctx is cancelled. Sessions that fail are
// re-established after a fixed backoff; authentication failures count
// toward a separate budget that triggers an extended cooldown, bounding
// retry storms against a possibly-revoked credential.
func (w *Watcher) Run(ctx context.Context) error {
	authFailures := 0

	for {
		err := w.session(ctx)
		w.state = StateDisconnected
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if errors.Is(err, ErrAuth) || errors.Is(err, tokens.ErrNoCredential) {
			authFailures++
			w.log.Warn().Err(err).Int("consecutive", authFailures).Msg("authentication failure")
			if authFailures >= w.cfg.AuthFailureLimit {
				w.log.Warn().Dur("cooldown", w.cfg.AuthCooldown).Msg("auth failure budget exhausted, entering cooldown")
				authFailures = 0
				if err := w.sleep(ctx, w.cfg.AuthCooldown); err != nil {
					return err
				}
				continue
			}
		} else {
			authFailures = 0
			w.log.Warn().Err(err).Dur("backoff", w.cfg.ReconnectBackoff).Msg("connection lost, reconnecting")
		}

		if err := w.sleep(ctx, w.cfg.ReconnectBackoff); err != nil {
			return err
		}
	}
}

// session runs one full connect/baseline/idle/process cycle and returns
// when the connection fails or ctx is cancelled.
func (w *Watcher) session(ctx context.Context) error {
	w.state = StateConnecting

	// Refresh proactively on every (re)connect: the session the previous
	// credential authorized may have been invalidated in ways the expiry
	// timestamp does not reflect.
	cred, err := w.creds.Get(ctx, w.cfg.Address, true)
	if err != nil {
		return err
	}

	transport := w.dial()
	defer transport.Close()

	if err := transport.Connect(ctx, w.cfg.Address, cred.AccessToken); err != nil {
		return err
	}
	w.state = StateAuthenticated

	baseline, err := transport.SelectInbox()
	if err != nil {
		return fmt.Errorf("select inbox: %w", err)
	}
	w.state = StateBaselineEstablished
	w.log.Info().Uint32("baseline", baseline).Msg("mailbox session established")

	// Catch anything that arrived between select and the first idle.
	if err := w.processPass(ctx, transport, baseline); err != nil {
		return err
	}

	for {
		w.state = StateIdleWait
		notified, err := transport.IdleWait(ctx, w.cfg.IdleTimeout)
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !notified {
			// Timed out: renew the wait to keep the connection alive.
			continue
		}

		w.state = StateProcessing
		if err := w.processPass(ctx, transport, baseline); err != nil {
			return err
		}
	}
}

// processPass handles every unread alert at or above the baseline marker.
// Failures local to one message are logged and contained; the message is
// left unread so a later pass retries it.
func (w *Watcher) processPass(ctx context.Context, transport Transport, baseline uint32) error {
	uids, err := transport.SearchUnseenFrom(w.cfg.AlertSender, baseline)
	if err != nil {
		return fmt.Errorf("search mailbox: %w", err)
	}
	if len(uids) == 0 {
		return nil
	}

	processed, err := w.idLog.Load()
	if err != nil {
		return err
	}
	w.log.Info().Int("count", len(uids)).Msg("processing unread alerts")

	for _, uid := range uids {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg, err := transport.Fetch(uid)
		if err != nil {
			w.log.Warn().Err(err).Uint32("uid", uid).Msg("fetch failed")
			continue
		}

		id := msg.MessageID
		if id == "" {
			id = fmt.Sprintf("uid-%d", uid)
		}
		if _, done := processed[id]; done {
			continue
		}

		if !classifier.Qualifies(w.cfg.AlertSender, msg.From, msg.Body) {
			continue
		}

		hint := msg.Date
		record, err := w.classify.ClassifyMessage(ctx, msg.Body, &hint)
		if err != nil {
			// Absent result: leave unread and unrecorded for retry.
			w.log.Warn().Err(err).Str("message_id", id).Msg("classification yielded no transaction")
			continue
		}

		inserted, err := w.ledger.AppendIfNew(*record)
		if err != nil {
			w.log.Error().Err(err).Str("message_id", id).Msg("ledger append failed")
			continue
		}
		if !inserted {
			w.log.Debug().Str("date", record.Date).Msg("duplicate transaction skipped")
		}

		// Processing succeeded (inserted or idempotent duplicate):
		// record the ID and mark read.
		if err := w.idLog.Add(id); err != nil {
			w.log.Error().Err(err).Str("message_id", id).Msg("recording processed id failed")
			continue
		}
		processed[id] = struct{}{}
		if err := transport.MarkSeen(uid); err != nil {
			w.log.Warn().Err(err).Uint32("uid", uid).Msg("mark seen failed")
		}
	}
	return nil
}

// State returns the watcher's current connection state.
func (w *Watcher) State() State {
	return w.state
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
