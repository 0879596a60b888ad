package models

import (
	"strings"
)

// SuggestionQuery is a free-text request for artworks similar to Text.
type SuggestionQuery struct {
	Text  string `json:"text"`
	Limit int    `json:"n,omitempty"`
}

// Validate trims the text, rejects empty queries, and clamps Limit to
// (0, maxLimit], using defaultLimit when unset.
func (q *SuggestionQuery) Validate(defaultLimit, maxLimit int) error {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return ErrEmptyQuery
	}
	if defaultLimit <= 0 {
		defaultLimit = 50
	}
	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}
	if maxLimit > 0 && q.Limit > maxLimit {
		q.Limit = maxLimit
	}
	return nil
}
