// Package domain holds the transaction record model shared by the
// extraction pipeline and the ledger service.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the canonical textual form of a transaction timestamp.
// It is the primary correlation key within one user's ledger.
const DateLayout = "2006-01-02 15:04:05"

// Payer is one co-payer contribution recorded on a normalized transaction.
type Payer struct {
	Name   string `json:"name"`
	Amount string `json:"amount"`
}

// TransactionRecord is a single classified transaction. Field names mirror
// the persisted JSON produced by earlier versions of the system, so ledgers
// written by them remain readable.
type TransactionRecord struct {
	Amount         string  `json:"Amount"`
	Classification string  `json:"Classification"`
	Receiver       string  `json:"Receiver,omitempty"`
	Date           string  `json:"Date"`
	OriginalAmount string  `json:"OriginalAmount,omitempty"`
	PaidToMe       string  `json:"PaidToMe,omitempty"`
	Payers         []Payer `json:"Payers,omitempty"`
}

// Key returns the (date, amount) identity used for duplicate suppression.
func (t TransactionRecord) Key() string {
	return t.Date + "|" + t.Amount
}

// ParsedDate parses the record timestamp.
func (t TransactionRecord) ParsedDate() (time.Time, error) {
	return time.Parse(DateLayout, t.Date)
}

// Validate checks the record invariants: a parseable non-negative amount
// and a timestamp in the canonical layout.
func (t TransactionRecord) Validate() error {
	d, err := ParseAmount(t.Amount)
	if err != nil {
		return err
	}
	if d.IsNegative() {
		return fmt.Errorf("amount %q is negative", t.Amount)
	}
	if _, err := t.ParsedDate(); err != nil {
		return fmt.Errorf("date %q: %w", t.Date, err)
	}
	return nil
}

// ParseAmount parses a monetary string, tolerating thousands separators and
// leading currency markers left behind by upstream extraction.
func ParseAmount(s string) (decimal.Decimal, error) {
	cleaned := strings.TrimSpace(s)
	cleaned = strings.TrimPrefix(cleaned, "₹")
	cleaned = strings.TrimPrefix(cleaned, "Rs.")
	cleaned = strings.TrimPrefix(cleaned, "Rs")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	cleaned = strings.TrimSpace(cleaned)

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("amount %q is not a number", s)
	}
	return d, nil
}

// FormatAmount renders a decimal without thousands separators, currency
// symbols, or unnecessary trailing zeros. FormatAmount(50.00) == "50",
// FormatAmount(50.50) == "50.5".
func FormatAmount(d decimal.Decimal) string {
	s := d.StringFixed(2)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	return s
}

// NormalizeAmount parses and re-formats an amount string into canonical form.
func NormalizeAmount(s string) (string, error) {
	d, err := ParseAmount(s)
	if err != nil {
		return "", err
	}
	return FormatAmount(d), nil
}
