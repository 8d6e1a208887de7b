package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/anair/spendsight/internal/archive"
	"github.com/anair/spendsight/internal/domain"
	"github.com/anair/spendsight/internal/logger"
	"github.com/anair/spendsight/internal/store"
	"github.com/anair/spendsight/internal/userdir"
)

const testUser = "alice@example.com"

// echoClassifier turns each entry into a record carrying the entry date,
// optionally failing on scripted batch indexes.
type echoClassifier struct {
	calls      int
	failCalls  map[int]bool
	batchSizes []int
}

func (e *echoClassifier) ClassifyBatch(_ context.Context, entries []archive.Entry) ([]domain.TransactionRecord, error) {
	call := e.calls
	e.calls++
	e.batchSizes = append(e.batchSizes, len(entries))
	if e.failCalls[call] {
		return nil, errors.New("scripted batch failure")
	}
	var records []domain.TransactionRecord
	for i, entry := range entries {
		records = append(records, domain.TransactionRecord{
			Amount:         fmt.Sprintf("%d", i+1),
			Classification: "Miscellaneous",
			Date:           entry.Date,
		})
	}
	return records, nil
}

func activityDoc(dates ...string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for i, d := range dates {
		fmt.Fprintf(&b, `
<div class="outer-cell mdl-cell mdl-cell--12-col mdl-shadow--2dp">
  <div class="mdl-grid">
    <div class="content-cell mdl-cell mdl-cell--6-col mdl-typography--body-1">Paid ₹%d to Shop<br>%s</div>
    <div class="content-cell mdl-cell mdl-cell--12-col mdl-typography--caption">Completed</div>
  </div>
</div>`, i+1, d)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func setup(t *testing.T, cls BatchClassifier, batchSize int, doc string) (*Pipeline, *userdir.Resolver) {
	t.Helper()
	resolver := userdir.NewResolver(t.TempDir())

	path, err := resolver.ActivityPath(testUser)
	if err != nil {
		t.Fatalf("ActivityPath: %v", err)
	}
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("writing activity file: %v", err)
	}

	log := logger.NewWithWriter(&bytes.Buffer{})
	return New(resolver, archive.NewParser(batchSize), cls, log), resolver
}

func ledgerRecords(t *testing.T, resolver *userdir.Resolver) []domain.TransactionRecord {
	t.Helper()
	path, err := resolver.TransactionsPath(testUser)
	if err != nil {
		t.Fatalf("TransactionsPath: %v", err)
	}
	records, err := store.New(path).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	return records
}

func TestRunIngestsArchive(t *testing.T) {
	cls := &echoClassifier{}
	doc := activityDoc(
		"17 Jan 2026, 14:03:22 GMT+05:30",
		"18 Jan 2026, 09:15:00 GMT+05:30",
		"19 Jan 2026, 08:00:00 GMT+05:30",
	)
	p, resolver := setup(t, cls, 2, doc)

	result, err := p.Run(context.Background(), testUser)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Entries != 3 || result.Inserted != 3 || result.Duplicates != 0 {
		t.Errorf("result = %+v, want 3 entries all inserted", result)
	}
	if got := len(ledgerRecords(t, resolver)); got != 3 {
		t.Errorf("ledger has %d records, want 3", got)
	}
	if len(cls.batchSizes) != 2 || cls.batchSizes[0] != 2 || cls.batchSizes[1] != 1 {
		t.Errorf("batch sizes = %v, want [2 1]", cls.batchSizes)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	cls := &echoClassifier{}
	doc := activityDoc(
		"17 Jan 2026, 14:03:22 GMT+05:30",
		"18 Jan 2026, 09:15:00 GMT+05:30",
	)
	p, resolver := setup(t, cls, 0, doc)

	if _, err := p.Run(context.Background(), testUser); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	// The second pass finds the watermark at the newest ledger date and
	// admits nothing.
	result, err := p.Run(context.Background(), testUser)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if result.Entries != 0 || result.Inserted != 0 {
		t.Errorf("second run result = %+v, want nothing ingested", result)
	}
	if got := len(ledgerRecords(t, resolver)); got != 2 {
		t.Errorf("ledger has %d records after re-run, want 2", got)
	}
}

func TestRunContainsBatchFailure(t *testing.T) {
	cls := &echoClassifier{failCalls: map[int]bool{0: true}}
	doc := activityDoc(
		"17 Jan 2026, 14:03:22 GMT+05:30",
		"18 Jan 2026, 09:15:00 GMT+05:30",
		"19 Jan 2026, 08:00:00 GMT+05:30",
	)
	p, resolver := setup(t, cls, 2, doc)

	result, err := p.Run(context.Background(), testUser)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.FailedBatches != 1 {
		t.Errorf("failed batches = %d, want 1", result.FailedBatches)
	}
	if result.Inserted != 1 {
		t.Errorf("inserted = %d, want the surviving batch's single record", result.Inserted)
	}
	if got := len(ledgerRecords(t, resolver)); got != 1 {
		t.Errorf("ledger has %d records, want 1", got)
	}
}

func TestRunMissingActivityFile(t *testing.T) {
	resolver := userdir.NewResolver(t.TempDir())
	log := logger.NewWithWriter(&bytes.Buffer{})
	p := New(resolver, archive.NewParser(0), &echoClassifier{}, log)

	if _, err := p.Run(context.Background(), testUser); err == nil {
		t.Fatal("expected error for missing activity file")
	}
}

func TestRunStagesPendingBatch(t *testing.T) {
	cls := &echoClassifier{}
	doc := activityDoc("17 Jan 2026, 14:03:22 GMT+05:30")
	p, resolver := setup(t, cls, 0, doc)

	if _, err := p.Run(context.Background(), testUser); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	pendingPath, err := resolver.PendingPath(testUser)
	if err != nil {
		t.Fatalf("PendingPath: %v", err)
	}
	staged, err := store.New(pendingPath).ReadAll()
	if err != nil {
		t.Fatalf("reading pending file: %v", err)
	}
	if len(staged) != 1 {
		t.Errorf("pending file has %d records, want the last staged batch", len(staged))
	}
}
