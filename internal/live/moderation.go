package live

import "strings"

// Moderator rejects chat messages containing blocked terms. The contract is
// "returns true if the message must be rejected"; a rejected message is never
// stored or broadcast.
type Moderator struct {
	terms []string
}

// NewModerator builds a moderator from a blocklist (case-insensitive).
func NewModerator(blockedTerms []string) *Moderator {
	terms := make([]string, 0, len(blockedTerms))
	for _, t := range blockedTerms {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			terms = append(terms, t)
		}
	}
	return &Moderator{terms: terms}
}

// Reject reports whether the text contains any blocked term.
func (m *Moderator) Reject(text string) bool {
	lower := strings.ToLower(text)
	for _, t := range m.terms {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}
