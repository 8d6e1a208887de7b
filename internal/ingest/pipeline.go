// Package ingest runs the archive-to-ledger pipeline for one user.
package ingest

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/anair/spendsight/internal/archive"
	"github.com/anair/spendsight/internal/domain"
	"github.com/anair/spendsight/internal/store"
	"github.com/anair/spendsight/internal/userdir"
)

// BatchClassifier turns raw archive entries into transaction records.
type BatchClassifier interface {
	ClassifyBatch(ctx context.Context, entries []archive.Entry) ([]domain.TransactionRecord, error)
}

// Result summarizes one pipeline run.
type Result struct {
	RunID         string `json:"run_id"`
	Entries       int    `json:"entries"`
	Classified    int    `json:"classified"`
	Inserted      int    `json:"inserted"`
	Duplicates    int    `json:"duplicates"`
	FailedBatches int    `json:"failed_batches"`
}

// Pipeline orchestrates parse, classify and persist for a namespace.
type Pipeline struct {
	resolver   *userdir.Resolver
	parser     *archive.Parser
	classifier BatchClassifier
	log        zerolog.Logger
}

// New creates a pipeline.
func New(resolver *userdir.Resolver, parser *archive.Parser, classifier BatchClassifier, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		resolver:   resolver,
		parser:     parser,
		classifier: classifier,
		log:        log,
	}
}

// Run ingests the user's activity file into the ledger. Entries at or
// below the ledger's newest date are skipped, so re-running over the
// same archive is a no-op. A failing batch is logged and skipped; later
// batches are still attempted.
func (p *Pipeline) Run(ctx context.Context, userID string) (*Result, error) {
	result := &Result{RunID: uuid.NewString()}
	log := p.log.With().Str("run_id", result.RunID).Str("user", userID).Logger()

	// 1. Locate the namespace artifacts.
	activityPath, err := p.resolver.ActivityPath(userID)
	if err != nil {
		return nil, err
	}
	ledgerPath, err := p.resolver.TransactionsPath(userID)
	if err != nil {
		return nil, err
	}
	pendingPath, err := p.resolver.PendingPath(userID)
	if err != nil {
		return nil, err
	}
	ledger := store.New(ledgerPath)
	pending := store.New(pendingPath)

	// 2. The watermark is the newest date already in the ledger.
	watermark, err := ledgerWatermark(ledger)
	if err != nil {
		return nil, err
	}
	log.Info().Time("watermark", watermark).Msg("starting archive ingestion")

	// 3. Parse the activity file lazily in batches.
	f, err := os.Open(activityPath)
	if err != nil {
		return nil, fmt.Errorf("opening activity file: %w", err)
	}
	defer f.Close()

	batches, err := p.parser.Batches(f, watermark)
	if err != nil {
		return nil, fmt.Errorf("parsing activity file: %w", err)
	}

	// 4. Classify and persist batch by batch.
	for batch := range batches {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		result.Entries += len(batch)

		records, err := p.classifier.ClassifyBatch(ctx, batch)
		if err != nil {
			result.FailedBatches++
			log.Error().Err(err).Int("batch_size", len(batch)).Msg("batch classification failed, skipping")
			continue
		}
		result.Classified += len(records)

		// Stage the classified batch before touching the ledger, so a
		// crash between the two writes leaves the batch recoverable.
		if err := pending.Apply(func([]domain.TransactionRecord) ([]domain.TransactionRecord, error) {
			return records, nil
		}); err != nil {
			log.Warn().Err(err).Msg("could not stage pending batch")
		}

		for _, record := range records {
			inserted, err := ledger.AppendIfNew(record)
			if err != nil {
				return result, fmt.Errorf("appending record: %w", err)
			}
			if inserted {
				result.Inserted++
			} else {
				result.Duplicates++
			}
		}
	}

	log.Info().
		Int("entries", result.Entries).
		Int("classified", result.Classified).
		Int("inserted", result.Inserted).
		Int("duplicates", result.Duplicates).
		Int("failed_batches", result.FailedBatches).
		Msg("archive ingestion finished")
	return result, nil
}

// ledgerWatermark returns the newest parseable date in the ledger, or
// the zero time for an empty ledger.
func ledgerWatermark(ledger *store.Store) (time.Time, error) {
	records, err := ledger.ReadAll()
	if err != nil {
		return time.Time{}, err
	}
	var newest time.Time
	for _, r := range records {
		t, err := r.ParsedDate()
		if err != nil {
			continue
		}
		if t.After(newest) {
			newest = t
		}
	}
	return newest, nil
}
