package models

import "strings"

// Factor is a named consideration discovered in phase 1, deduplicated and
// scored in phase 2, and researched in phase 3.
type Factor struct {
	ID               string  `db:"id" json:"id"`
	SessionID        string  `db:"session_id" json:"session_id"`
	Name             string  `db:"name" json:"name"`
	NormName         string  `db:"normalized_name" json:"-"`
	Description      string  `db:"description" json:"description"`
	Category         string  `db:"category" json:"category"`
	ImportanceScore  float64 `db:"importance_score" json:"importance_score"`
	ResearchSummary  string  `db:"research_summary" json:"research_summary,omitempty"`
}

// NormalizedName is the dedup key: lowercased, trimmed name (spec §3 Factor
// invariant: unique (session_id, normalized_name)).
func (f *Factor) NormalizedName() string {
	return NormalizeFactorName(f.Name)
}

// NormalizeFactorName lowercases and trims a candidate factor name so that
// discovery workers' near-duplicate phrasing collapses to one key.
func NormalizeFactorName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
