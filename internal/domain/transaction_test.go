package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "plain integer", input: "166", want: "166"},
		{name: "decimal", input: "50.50", want: "50.5"},
		{name: "rupee symbol", input: "₹1,299", want: "1299"},
		{name: "rs prefix", input: "Rs.500.00", want: "500"},
		{name: "rs without dot", input: "Rs 75", want: "75"},
		{name: "thousands separators", input: "1,23,456.78", want: "123456.78"},
		{name: "whitespace", input: "  42  ", want: "42"},
		{name: "not a number", input: "abc", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ParseAmount(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseAmount(%q) expected error, got %s", tt.input, d)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAmount(%q) failed: %v", tt.input, err)
			}
			if got := FormatAmount(d); got != tt.want {
				t.Errorf("ParseAmount(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"50.00", "50"},
		{"50.50", "50.5"},
		{"50.55", "50.55"},
		{"0", "0"},
		{"1299", "1299"},
	}

	for _, tt := range tests {
		d, err := decimal.NewFromString(tt.input)
		if err != nil {
			t.Fatalf("bad test input %q: %v", tt.input, err)
		}
		if got := FormatAmount(d); got != tt.want {
			t.Errorf("FormatAmount(%s) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		record  TransactionRecord
		wantErr bool
	}{
		{
			name:   "valid",
			record: TransactionRecord{Amount: "166", Date: "2026-01-17 14:03:22"},
		},
		{
			name:    "negative amount",
			record:  TransactionRecord{Amount: "-5", Date: "2026-01-17 14:03:22"},
			wantErr: true,
		},
		{
			name:    "bad amount",
			record:  TransactionRecord{Amount: "oops", Date: "2026-01-17 14:03:22"},
			wantErr: true,
		},
		{
			name:    "bad date",
			record:  TransactionRecord{Amount: "166", Date: "17/01/2026"},
			wantErr: true,
		},
		{
			name:   "zero amount allowed",
			record: TransactionRecord{Amount: "0", Date: "2026-01-17 14:03:22"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.record.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestKey(t *testing.T) {
	a := TransactionRecord{Amount: "166", Date: "2026-01-17 14:03:22", Receiver: "Blinkit"}
	b := TransactionRecord{Amount: "166", Date: "2026-01-17 14:03:22", Receiver: "Someone Else"}
	c := TransactionRecord{Amount: "167", Date: "2026-01-17 14:03:22"}

	if a.Key() != b.Key() {
		t.Error("records with equal (date, amount) should share a key")
	}
	if a.Key() == c.Key() {
		t.Error("records with different amounts should not share a key")
	}
}
