package query

import (
	"fmt"
	"strings"

	"github.com/stratumhq/stratum-engine/pkg/apperrors"
	"github.com/stratumhq/stratum-engine/pkg/models"
)

// denyList holds destructive keywords rejected anywhere in the raw template
// text, case-insensitively, before substitution. This is a lightweight
// denylist, not a parser; it cannot catch every injection vector.
var denyList = []string{
	"DROP TABLE",
	"DELETE FROM",
	"TRUNCATE",
	"ALTER TABLE",
	"CREATE TABLE",
	"INSERT INTO",
	"UPDATE ",
	"EXEC",
	"EXECUTE",
	"SP_",
	"XP_",
}

// documentDenyVerbs are additionally rejected for document stores, whose
// command text has no SELECT shape to anchor on.
var documentDenyVerbs = []string{"DELETE", "DROP", "REMOVE", "FLUSH"}

// Validate screens raw (pre-substitution) template text. It rejects blank
// text, denylisted keywords, and text whose shape does not fit the datasource
// category:
//
//   - relational: trimmed text must start with SELECT (or WITH for CTEs)
//   - document: must not contain delete/drop verbs
//   - search: must start with GET or POST
//
// Returns a *apperrors.QueryRejectedError; no network call has been made when
// this fails.
func Validate(text string, category models.Category) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return &apperrors.QueryRejectedError{Reason: "query text is empty"}
	}

	upper := strings.ToUpper(trimmed)
	for _, keyword := range denyList {
		if strings.Contains(upper, keyword) {
			return &apperrors.QueryRejectedError{
				Reason: fmt.Sprintf("destructive keyword %q is not allowed", strings.TrimSpace(keyword)),
			}
		}
	}

	switch category {
	case models.CategoryRelational, models.CategoryTimeSeries:
		if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
			return &apperrors.QueryRejectedError{
				Reason: fmt.Sprintf("%s queries must start with SELECT", category),
			}
		}
	case models.CategoryDocument:
		for _, verb := range documentDenyVerbs {
			if containsWord(upper, verb) {
				return &apperrors.QueryRejectedError{
					Reason: fmt.Sprintf("document commands may not contain %s", verb),
				}
			}
		}
	case models.CategorySearch:
		if !strings.HasPrefix(upper, "GET") && !strings.HasPrefix(upper, "POST") {
			return &apperrors.QueryRejectedError{
				Reason: "search queries must start with GET or POST",
			}
		}
	}

	return nil
}

// containsWord reports whether upper contains word bounded by non-identifier
// characters, so that e.g. "UNDROPPED" does not match DROP.
func containsWord(upper, word string) bool {
	idx := 0
	for {
		i := strings.Index(upper[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		beforeOK := start == 0 || !isIdentChar(upper[start-1])
		afterOK := end == len(upper) || !isIdentChar(upper[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isIdentChar(c byte) bool {
	return c == '_' || (c >= '0' && c <= '9') || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}
