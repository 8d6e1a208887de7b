// Package ledger is the query/mutation surface over per-user transaction
// stores: date-range queries, reclassification, expense normalization, and
// manual additions.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/anair/spendsight/internal/classifier"
	"github.com/anair/spendsight/internal/domain"
	"github.com/anair/spendsight/internal/store"
	"github.com/anair/spendsight/internal/userdir"
)

var (
	// ErrNotFound reports that no record matches the target date.
	ErrNotFound = errors.New("transaction not found")
	// ErrConflict reports a (date, amount) collision on manual add.
	ErrConflict = errors.New("transaction already exists")
)

// Service performs ledger operations, each against one user's namespace.
type Service struct {
	resolver *userdir.Resolver
}

// NewService creates a ledger service over the given namespace resolver.
func NewService(resolver *userdir.Resolver) *Service {
	return &Service{resolver: resolver}
}

// StoreFor returns the transaction store for one user namespace.
func (s *Service) StoreFor(userID string) (*store.Store, error) {
	path, err := s.resolver.TransactionsPath(userID)
	if err != nil {
		return nil, err
	}
	return store.New(path), nil
}

// ListUsers enumerates known user namespaces.
func (s *Service) ListUsers() ([]string, error) {
	return s.resolver.ListUsers()
}

// QueryRange returns every record whose date falls inside the inclusive
// [start, end] calendar-date window. Time of day is ignored for the
// boundary comparison, so a record at 23:59:59 on the end date is included.
func (s *Service) QueryRange(userID string, start, end time.Time) ([]domain.TransactionRecord, error) {
	st, err := s.StoreFor(userID)
	if err != nil {
		return nil, err
	}
	records, err := st.ReadAll()
	if err != nil {
		return nil, err
	}

	startDay := truncateToDay(start)
	endDay := truncateToDay(end)

	var out []domain.TransactionRecord
	for _, record := range records {
		ts, err := record.ParsedDate()
		if err != nil {
			continue
		}
		day := truncateToDay(ts)
		if day.Before(startDay) || day.After(endDay) {
			continue
		}
		out = append(out, record)
	}
	return out, nil
}

// Reclassify replaces the classification of the unique record with the
// given date. Only the classification field changes.
func (s *Service) Reclassify(userID, date, newClassification string) (*domain.TransactionRecord, error) {
	return s.mutateOne(userID, date, func(record *domain.TransactionRecord) error {
		record.Classification = newClassification
		return nil
	})
}

// Normalize applies co-payer contributions to the record with the given
// date. A non-empty payer list establishes (or corrects) OriginalAmount,
// sets PaidToMe, and recomputes Amount = OriginalAmount - PaidToMe. An
// empty list removes the normalization fields and restores Amount.
// OriginalAmount is always recomputed from current ledger state; a
// client-supplied value is never trusted.
func (s *Service) Normalize(userID, date string, payers []domain.Payer) (*domain.TransactionRecord, error) {
	return s.mutateOne(userID, date, func(record *domain.TransactionRecord) error {
		original, err := currentOriginalAmount(record)
		if err != nil {
			return err
		}

		total := decimal.Zero
		var kept []domain.Payer
		for _, payer := range payers {
			if payer.Name == "" || payer.Amount == "" {
				continue
			}
			contribution, err := domain.ParseAmount(payer.Amount)
			if err != nil {
				return fmt.Errorf("payer %q: %w", payer.Name, err)
			}
			total = total.Add(contribution)
			kept = append(kept, domain.Payer{
				Name:   payer.Name,
				Amount: domain.FormatAmount(contribution),
			})
		}

		if len(kept) == 0 || !total.IsPositive() {
			record.Amount = domain.FormatAmount(original)
			record.OriginalAmount = ""
			record.PaidToMe = ""
			record.Payers = nil
			return nil
		}

		record.OriginalAmount = domain.FormatAmount(original)
		record.PaidToMe = domain.FormatAmount(total)
		record.Payers = kept
		record.Amount = domain.FormatAmount(original.Sub(total))
		return nil
	})
}

// Add inserts a caller-supplied record. It fails with ErrConflict when a
// record with identical (date, amount) already exists.
func (s *Service) Add(userID string, record domain.TransactionRecord) (*domain.TransactionRecord, error) {
	normalized, err := domain.NormalizeAmount(record.Amount)
	if err != nil {
		return nil, err
	}
	record.Amount = normalized
	if err := record.Validate(); err != nil {
		return nil, err
	}
	if record.Classification == "" {
		record.Classification = classifier.Categorize(record.Receiver)
	}

	st, err := s.StoreFor(userID)
	if err != nil {
		return nil, err
	}
	inserted, err := st.AppendIfNew(record)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, ErrConflict
	}
	return &record, nil
}

// mutateOne locates the unique record by exact date match under the
// namespace lock, applies change, and persists atomically.
func (s *Service) mutateOne(userID, date string, change func(*domain.TransactionRecord) error) (*domain.TransactionRecord, error) {
	st, err := s.StoreFor(userID)
	if err != nil {
		return nil, err
	}

	var updated *domain.TransactionRecord
	err = st.Apply(func(records []domain.TransactionRecord) ([]domain.TransactionRecord, error) {
		for i := range records {
			if records[i].Date != date {
				continue
			}
			if err := change(&records[i]); err != nil {
				return nil, err
			}
			copied := records[i]
			updated = &copied
			return records, nil
		}
		return nil, ErrNotFound
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// currentOriginalAmount derives the pre-adjustment amount from ledger
// state: Amount + PaidToMe when the record is already normalized, else
// Amount as stored.
func currentOriginalAmount(record *domain.TransactionRecord) (decimal.Decimal, error) {
	amount, err := domain.ParseAmount(record.Amount)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("stored amount: %w", err)
	}
	if record.PaidToMe == "" {
		return amount, nil
	}
	paid, err := domain.ParseAmount(record.PaidToMe)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("stored paid-to-me: %w", err)
	}
	return amount.Add(paid), nil
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
