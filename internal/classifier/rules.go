package classifier

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/anair/spendsight/internal/domain"
)

// MessageClassifier is the contract shared by the generative classifier and
// the deterministic rule-based one: raw alert body in, structured record or
// ErrNoTransaction out.
type MessageClassifier interface {
	ClassifyMessage(ctx context.Context, body string, hint *time.Time) (*domain.TransactionRecord, error)
}

// Rules is a deterministic classifier implementing the same extraction and
// category-precedence contract as the generative path. It backs tests and
// deployments without an API key.
type Rules struct {
	now func() time.Time
}

// NewRules creates a rule-based classifier.
func NewRules() *Rules {
	return &Rules{now: time.Now}
}

// amountStrategies are tried in priority order until one matches.
var amountStrategies = []*regexp.Regexp{
	regexp.MustCompile(`(?i)Rs\.?\s*([\d,]+(?:\.\d{2})?)\s*has been debited`),
	regexp.MustCompile(`(?i)(?:Rs\.?|INR)\s*([\d,]+(?:\.\d{2})?)\s*(?:has been|is|was)\s*debited`),
	regexp.MustCompile(`(?i)debited.*?(?:Rs\.?|INR)\s*([\d,]+(?:\.\d{2})?)`),
	regexp.MustCompile(`(?i)(?:Rs\.?|INR)\s*([\d,]+(?:\.\d{2})?)`),
}

// receiverStrategies prefer the display name after a VPA address, then the
// bare VPA, then generic "paid to" phrasings.
var receiverStrategies = []*regexp.Regexp{
	regexp.MustCompile(`(?i)to VPA\s+[\w\-.@]+\s+([A-Za-z][A-Za-z0-9\s&\-.]+?)\s+on\s+\d`),
	regexp.MustCompile(`(?i)to VPA\s+([\w\-.@]+)`),
	regexp.MustCompile(`(?i)(?:to|at)\s+([A-Za-z][A-Za-z0-9\s&\-.]{2,}?)\s+(?:on|via|using)\s+\d`),
	regexp.MustCompile(`(?i)(?:transferred to|paid to|payment to)\s+([A-Za-z0-9\s&\-.]+)`),
}

var dateStrategies = []*regexp.Regexp{
	regexp.MustCompile(`(?i)on\s+(\d{1,2}[-/]\d{1,2}[-/]\d{2,4})`),
	regexp.MustCompile(`(\d{1,2}[-/]\d{1,2}[-/]\d{2,4})`),
	regexp.MustCompile(`(\d{1,2}\s+[A-Za-z]{3,9}\s+\d{2,4})`),
}

var dateLayouts = []string{
	"2-1-06", "2/1/06", "2-1-2006", "2/1/2006",
	"2 Jan 2006", "2 January 2006", "2-Jan-2006", "2-Jan-06",
}

// ClassifyMessage extracts amount, receiver, and date with ordered
// best-effort strategies and assigns a category by precedence.
func (r *Rules) ClassifyMessage(_ context.Context, body string, hint *time.Time) (*domain.TransactionRecord, error) {
	clean := StripHTML(body)

	amount := firstMatch(amountStrategies, clean)
	if amount == "" {
		return nil, fmt.Errorf("%w: missing amount", ErrNoTransaction)
	}
	normalized, err := domain.NormalizeAmount(amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoTransaction, err)
	}

	receiver := strings.TrimSpace(firstMatch(receiverStrategies, clean))
	receiver = strings.Join(strings.Fields(receiver), " ")
	if len(receiver) < 2 {
		receiver = ""
	}

	return &domain.TransactionRecord{
		Amount:         normalized,
		Receiver:       receiver,
		Classification: Categorize(receiver),
		Date:           r.extractDate(clean, hint),
	}, nil
}

func (r *Rules) extractDate(clean string, hint *time.Time) string {
	for _, strategy := range dateStrategies {
		m := strategy.FindStringSubmatch(clean)
		if m == nil {
			continue
		}
		for _, layout := range dateLayouts {
			d, err := time.Parse(layout, m[1])
			if err != nil {
				continue
			}
			if hint != nil {
				d = time.Date(d.Year(), d.Month(), d.Day(),
					hint.Hour(), hint.Minute(), hint.Second(), 0, time.Local)
			}
			return d.Format(domain.DateLayout)
		}
	}
	if hint != nil {
		return hint.Format(domain.DateLayout)
	}
	return r.now().Format(domain.DateLayout)
}

func firstMatch(strategies []*regexp.Regexp, s string) string {
	for _, strategy := range strategies {
		if m := strategy.FindStringSubmatch(s); m != nil {
			return m[1]
		}
	}
	return ""
}

var (
	quickCommerceNames = []string{"blinkit", "zepto"}
	ecommerceNames     = []string{"amazon", "flipkart"}
	subscriptionNames  = []string{"spotify", "netflix", "hotstar", "google play"}
	transitNames       = []string{"bmtc bus", "bangalore metro rail corporation ltd"}
	groceryIndicators  = []string{"super market", "supermarket", "store", "mart"}
	foodIndicators     = []string{
		"zomato", "swiggy", "restaurant", "cafe", "bakery", "kitchen",
		"pizza", "burger", "biryani", "dosa", "chai", "coffee", "juice",
		"foods", "food", "eatery", "dhaba", "grill",
	}
	personalNamePattern = regexp.MustCompile(`^[A-Za-z]+(?: [A-Za-z]+){0,3}$`)
)

// Categorize assigns a category by the fixed precedence table: rules are
// evaluated top-down and the first match wins.
func Categorize(receiver string) string {
	name := strings.ToLower(strings.TrimSpace(receiver))

	switch {
	case name == "":
		return "Personal Contact"
	case containsAny(name, quickCommerceNames):
		return "Quick Commerce"
	case name == ecommerceNames[0] || name == ecommerceNames[1]:
		return "Ecommerce"
	case containsAny(name, subscriptionNames):
		return "Subscriptions"
	case containsAny(name, transitNames):
		return "Public Transport"
	case strings.Contains(name, "hungerbox"):
		return "Office Lunch"
	case containsAny(name, groceryIndicators):
		return "Grocery"
	case containsAny(name, foodIndicators):
		return "Eating Out"
	case personalNamePattern.MatchString(strings.TrimSpace(receiver)) && !strings.Contains(name, "fuel"):
		return "Personal Transfer"
	case strings.Contains(name, "fuel"):
		return "Fuel"
	default:
		return "Miscellaneous"
	}
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
