// Package classifier turns raw transaction text into structured, categorized
// transaction records. The classification capability itself is pluggable: the
// production Generator calls a generative text model, tests substitute a
// deterministic one with identical contract.
package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/anair/spendsight/internal/archive"
	"github.com/anair/spendsight/internal/domain"
)

// ErrNoTransaction reports that the input did not yield a usable transaction
// (most often: no extractable amount). The input must not be persisted nor
// marked processed, so it stays eligible for retry.
var ErrNoTransaction = errors.New("no transaction extracted")

// Generator is the text-generation capability: one prompt in, raw text out.
// The text is expected to parse as one JSON object or array matching the
// transaction record shape.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Classifier extracts and categorizes transactions via a Generator.
type Classifier struct {
	gen         Generator
	callTimeout time.Duration
	now         func() time.Time
	log         zerolog.Logger
}

// New creates a classifier over the given generator. callTimeout bounds each
// generation call; <= 0 means no per-call bound beyond the caller's context.
func New(gen Generator, callTimeout time.Duration, log zerolog.Logger) *Classifier {
	return &Classifier{
		gen:         gen,
		callTimeout: callTimeout,
		now:         time.Now,
		log:         log,
	}
}

// ClassifyMessage classifies one mailbox alert body. hint carries the
// message's own timestamp when the body lacks a time of day.
func (c *Classifier) ClassifyMessage(ctx context.Context, body string, hint *time.Time) (*domain.TransactionRecord, error) {
	clean := StripHTML(body)

	raw, err := c.generate(ctx, buildMessagePrompt(clean))
	if err != nil {
		return nil, err
	}

	var record domain.TransactionRecord
	if err := json.Unmarshal([]byte(CleanModelJSON(raw)), &record); err != nil {
		c.log.Warn().Str("response", raw).Msg("classifier returned invalid JSON")
		return nil, fmt.Errorf("%w: invalid JSON response", ErrNoTransaction)
	}

	return c.finalize(record, hint)
}

// ClassifyBatch classifies one archive batch. Records without a usable
// amount are dropped; a capability failure fails only this batch.
func (c *Classifier) ClassifyBatch(ctx context.Context, entries []archive.Entry) ([]domain.TransactionRecord, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	payload, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}

	raw, err := c.generate(ctx, buildBatchPrompt(string(payload)))
	if err != nil {
		return nil, err
	}

	records, err := decodeRecords(CleanModelJSON(raw))
	if err != nil {
		c.log.Warn().Str("response", raw).Msg("classifier returned invalid JSON for batch")
		return nil, fmt.Errorf("%w: invalid JSON response", ErrNoTransaction)
	}

	result := make([]domain.TransactionRecord, 0, len(records))
	for _, record := range records {
		finalized, err := c.finalize(record, nil)
		if err != nil {
			c.log.Warn().Str("date", record.Date).Msg("dropping batch record without usable amount")
			continue
		}
		result = append(result, *finalized)
	}
	return result, nil
}

func (c *Classifier) generate(ctx context.Context, prompt string) (string, error) {
	if c.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}
	raw, err := c.gen.Generate(ctx, prompt)
	if err != nil {
		c.log.Warn().Err(err).Msg("classification capability call failed")
		return "", fmt.Errorf("%w: %v", ErrNoTransaction, err)
	}
	return raw, nil
}

// finalize validates the amount, normalizes it, and settles the timestamp
// per the extraction contract: embedded timestamp first, date plus hint
// time-of-day second, processing time last.
func (c *Classifier) finalize(record domain.TransactionRecord, hint *time.Time) (*domain.TransactionRecord, error) {
	if record.Amount == "" {
		return nil, fmt.Errorf("%w: missing amount", ErrNoTransaction)
	}
	amount, err := domain.NormalizeAmount(record.Amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoTransaction, err)
	}
	record.Amount = amount

	record.Date = c.settleDate(record.Date, hint)
	return &record, nil
}

func (c *Classifier) settleDate(date string, hint *time.Time) string {
	if _, err := time.Parse(domain.DateLayout, date); err == nil {
		return date
	}
	if d, err := time.Parse("2006-01-02", date); err == nil {
		if hint != nil {
			spliced := time.Date(d.Year(), d.Month(), d.Day(),
				hint.Hour(), hint.Minute(), hint.Second(), 0, time.Local)
			return spliced.Format(domain.DateLayout)
		}
		return d.Format(domain.DateLayout)
	}
	if hint != nil {
		return hint.Format(domain.DateLayout)
	}
	return c.now().Format(domain.DateLayout)
}

func decodeRecords(clean string) ([]domain.TransactionRecord, error) {
	var records []domain.TransactionRecord
	if err := json.Unmarshal([]byte(clean), &records); err == nil {
		return records, nil
	}
	var single domain.TransactionRecord
	if err := json.Unmarshal([]byte(clean), &single); err != nil {
		return nil, err
	}
	return []domain.TransactionRecord{single}, nil
}
