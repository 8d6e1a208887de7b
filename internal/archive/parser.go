// Package archive extracts candidate transaction entries from a downloaded
// activity archive document (semi-structured HTML).
package archive

import (
	"fmt"
	"io"
	"iter"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/anair/spendsight/internal/domain"
)

const (
	entrySelector   = "div.outer-cell.mdl-cell.mdl-cell--12-col.mdl-shadow--2dp"
	mainSelector    = "div.content-cell.mdl-cell.mdl-cell--6-col.mdl-typography--body-1"
	captionSelector = "div.content-cell.mdl-cell.mdl-cell--12-col.mdl-typography--caption"

	// timestampLayout parses "17 Jan 2026, 14:03:22 GMT+05:30". The offset
	// is needed to parse the instant but the stored form is the naive local
	// wall clock as written.
	timestampLayout = "2 Jan 2006, 15:04:05 GMT-07:00"

	// DefaultBatchSize bounds one classification batch.
	DefaultBatchSize = 500
)

// Some archives abbreviate September as "Sept", which the 3-letter month
// layout cannot parse.
var timestampPattern = regexp.MustCompile(
	`\d{1,2} \w{3,4} \d{4}, \d{2}:\d{2}:\d{2} GMT[+-]\d{2}:\d{2}`)

// Entry is one admitted activity entry: the residual descriptive text with
// its embedded timestamp stripped out, plus the parsed timestamp.
type Entry struct {
	RawText string `json:"RawText"`
	Date    string `json:"Date"` // domain.DateLayout
}

// Parser extracts completed transfer entries from activity documents.
type Parser struct {
	batchSize int
}

// NewParser creates a parser; batchSize <= 0 selects DefaultBatchSize.
func NewParser(batchSize int) *Parser {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Parser{batchSize: batchSize}
}

// Extract parses the document and returns, in document order, every entry
// that is a completed Paid/Sent transfer with a parseable timestamp strictly
// newer than the watermark. A zero watermark admits all matching entries.
// Duplicate (text, date) pairs within one pass are dropped.
func (p *Parser) Extract(r io.Reader, watermark time.Time) ([]Entry, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse archive document: %w", err)
	}

	var entries []Entry
	seen := make(map[string]struct{})

	doc.Find(entrySelector).Each(func(_ int, outer *goquery.Selection) {
		mainBlock := outer.Find(mainSelector).First()
		captionBlock := outer.Find(captionSelector).First()
		if mainBlock.Length() == 0 || captionBlock.Length() == 0 {
			return
		}
		if !strings.Contains(flattenText(captionBlock), "Completed") {
			return
		}

		mainText := flattenText(mainBlock)
		if !strings.Contains(mainText, "Paid") && !strings.Contains(mainText, "Sent") {
			return
		}

		match := timestampPattern.FindString(mainText)
		if match == "" {
			return
		}

		normalized := strings.Replace(match, "Sept", "Sep", 1)
		ts, err := time.Parse(timestampLayout, normalized)
		if err != nil {
			return
		}
		// The ledger stores naive local wall clocks, so the watermark is
		// naive too. Drop the offset before comparing; otherwise entries
		// up to the offset width newer than the watermark would be lost.
		ts = naiveWallClock(ts)
		if !watermark.IsZero() && !ts.After(watermark) {
			return
		}

		residual := strings.TrimSpace(strings.Replace(mainText, match, "", 1))
		residual = strings.Join(strings.Fields(residual), " ")
		date := ts.Format(domain.DateLayout)

		key := residual + "|" + date
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}

		entries = append(entries, Entry{RawText: residual, Date: date})
	})

	return entries, nil
}

// Batches extracts entries and yields them one fixed-size batch at a time,
// in document order. A document with no matching entries yields nothing.
func (p *Parser) Batches(r io.Reader, watermark time.Time) (iter.Seq[[]Entry], error) {
	entries, err := p.Extract(r, watermark)
	if err != nil {
		return nil, err
	}
	size := p.batchSize
	return func(yield func([]Entry) bool) {
		for i := 0; i < len(entries); i += size {
			end := min(i+size, len(entries))
			if !yield(entries[i:end]) {
				return
			}
		}
	}, nil
}

// naiveWallClock rebuilds ts as the same wall-clock reading with the zone
// offset discarded, matching the form the ledger stores.
func naiveWallClock(ts time.Time) time.Time {
	return time.Date(ts.Year(), ts.Month(), ts.Day(),
		ts.Hour(), ts.Minute(), ts.Second(), 0, time.UTC)
}

// flattenText renders the selection's text with single spaces between
// nodes, the way the entries read on screen.
func flattenText(sel *goquery.Selection) string {
	var b strings.Builder
	for _, n := range sel.Nodes {
		collectText(n, &b)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func collectText(n *html.Node, b *strings.Builder) {
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
		b.WriteByte(' ')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b)
	}
}
