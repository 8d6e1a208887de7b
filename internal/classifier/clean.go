package classifier

import (
	"regexp"
	"strings"
)

var (
	htmlTagPattern    = regexp.MustCompile(`<[^>]+>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// StripHTML flattens an HTML body into plain text for prompting and
// keyword checks.
func StripHTML(body string) string {
	clean := htmlTagPattern.ReplaceAllString(body, " ")
	clean = whitespacePattern.ReplaceAllString(clean, " ")
	return strings.TrimSpace(clean)
}

// Qualifies is the input gate for mailbox-sourced text: the sender must
// match the configured alert address and the body must mention a debit.
// Archive-sourced input is pre-filtered by the archive parser instead.
func Qualifies(alertSender, from, body string) bool {
	if !strings.Contains(strings.ToLower(from), strings.ToLower(alertSender)) {
		return false
	}
	return strings.Contains(strings.ToLower(StripHTML(body)), "debited")
}

// CleanModelJSON strips Markdown fences and surrounding junk the model may
// emit despite instructions, keeping the outermost JSON value.
func CleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	// If junk still surrounds the JSON, keep the widest object or array.
	start := strings.IndexAny(s, "[{")
	if start == -1 {
		return s
	}
	var closer byte = '}'
	if s[start] == '[' {
		closer = ']'
	}
	if end := strings.LastIndexByte(s, closer); end > start {
		s = strings.TrimSpace(s[start : end+1])
	}
	return s
}
