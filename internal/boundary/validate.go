package boundary

import (
	"regexp"

	"acms/internal/domain"
)

const (
	maxTopicIDLen    = 64
	maxIngestTextLen = 50000
	maxQueryTextLen  = 10000
	maxListLimit     = 200
	minTokenBudget   = 100
	maxTokenBudget   = 5000
)

var topicIDPattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

// validateTopicID enforces spec.md §6's ingest_memory constraint: "topic id
// (≤64 chars, [a-z0-9_-]+)".
func validateTopicID(topicID string) error {
	if topicID == "" || len(topicID) > maxTopicIDLen || !topicIDPattern.MatchString(topicID) {
		return domain.New(domain.KindValidation, "topic id must be 1-64 chars matching [a-z0-9_-]+")
	}
	return nil
}

// validateText enforces a 1..max character length bound, used for both
// ingest_memory/edit_memory text (max 50 000) and query text (max 10 000).
func validateText(text string, max int) error {
	n := len([]rune(text))
	if n == 0 || n > max {
		return domain.New(domain.KindValidation, "text length out of bounds")
	}
	return nil
}
