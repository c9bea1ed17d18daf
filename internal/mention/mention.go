// Package mention implements @-mention support for free-text fields:
// resolving which users an actor may legally mention, detecting mention
// triggers while typing, and tracking committed mention spans.
package mention

import (
	"strings"

	"tempora/api/internal/rbac"
)

// Candidate is a user eligible to be mentioned. Candidates are derived
// on every suggestion request, never stored.
type Candidate struct {
	ID    string    `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
	Role  rbac.Role `json:"role"`
}

// TaskRef carries the slice of a task the resolver needs.
type TaskRef struct {
	ID         string
	AssigneeID string
	TenantID   string
}

// Mention is a transient, pre-commit annotation on one text field. Its
// indices refer to the text as it existed when the mention was inserted;
// they are never repaired after later edits, only cleared wholesale.
type Mention struct {
	ID         string `json:"id"`
	UserID     string `json:"userId"`
	UserName   string `json:"userName"`
	StartIndex int    `json:"startIndex"`
	EndIndex   int    `json:"endIndex"`
}

// Filter keeps candidates whose name or email contains the query,
// case-insensitively.
func Filter(candidates []Candidate, query string) []Candidate {
	needle := strings.ToLower(query)
	matched := make([]Candidate, 0, len(candidates))
	for _, candidate := range candidates {
		if strings.Contains(strings.ToLower(candidate.Name), needle) ||
			strings.Contains(strings.ToLower(candidate.Email), needle) {
			matched = append(matched, candidate)
		}
	}
	return matched
}

// ScanUserIDs extracts the distinct candidates whose "@Name" occurs in
// the text, case-insensitively. The server runs this at commit time so
// the durable mention set reflects the submitted text, not whatever the
// client claims.
func ScanUserIDs(text string, candidates []Candidate) []string {
	lowered := strings.ToLower(text)
	seen := make(map[string]struct{}, len(candidates))
	ids := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		if candidate.Name == "" {
			continue
		}
		if !strings.Contains(lowered, strings.ToLower("@"+candidate.Name)) {
			continue
		}
		if _, ok := seen[candidate.ID]; ok {
			continue
		}
		seen[candidate.ID] = struct{}{}
		ids = append(ids, candidate.ID)
	}
	return ids
}
