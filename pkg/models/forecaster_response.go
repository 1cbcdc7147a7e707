package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ForecasterClass is a named synthesis personality that modulates the
// synthesis system prompt (spec §4.2 Phase 4, GLOSSARY).
type ForecasterClass string

const (
	ForecasterConservative ForecasterClass = "conservative"
	ForecasterMomentum     ForecasterClass = "momentum"
	ForecasterHistorical   ForecasterClass = "historical"
	ForecasterRealtime     ForecasterClass = "realtime"
	ForecasterBalanced     ForecasterClass = "balanced"
)

// AllForecasterClasses is the closed enum of recognized personalities.
var AllForecasterClasses = []ForecasterClass{
	ForecasterConservative,
	ForecasterMomentum,
	ForecasterHistorical,
	ForecasterRealtime,
	ForecasterBalanced,
}

// ValidForecasterClass reports whether class is one of the five recognized
// personalities.
func ValidForecasterClass(class ForecasterClass) bool {
	for _, c := range AllForecasterClasses {
		if c == class {
			return true
		}
	}
	return false
}

// PhaseDurations records per-phase wall-clock milliseconds a forecaster's
// synthesis call reported, stored as JSONB since Postgres has no native
// map type.
type PhaseDurations map[string]int64

// Scan implements sql.Scanner for reading a JSONB phase_durations column.
func (d *PhaseDurations) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into PhaseDurations", value)
	}
	if len(bytes) == 0 {
		return nil
	}
	return json.Unmarshal(bytes, d)
}

// Value implements driver.Valuer so PhaseDurations round-trips through JSONB.
func (d PhaseDurations) Value() (driver.Value, error) {
	if d == nil {
		return nil, nil
	}
	return json.Marshal(d)
}

// ForecasterResponse is the phase-4 synthesis output for one personality,
// one row per (session_id, forecaster_class) (spec §3).
type ForecasterResponse struct {
	ID                    string          `db:"id" json:"id"`
	SessionID             string          `db:"session_id" json:"session_id"`
	ForecasterClass       ForecasterClass `db:"forecaster_class" json:"forecaster_class"`
	PredictionProbability *float64        `db:"prediction_probability" json:"prediction_probability,omitempty"`
	Confidence            *float64        `db:"confidence" json:"confidence,omitempty"`
	Reasoning             string          `db:"reasoning" json:"reasoning,omitempty"`
	KeyFactors            []string        `db:"key_factors" json:"key_factors,omitempty"`
	PhaseDurations        PhaseDurations  `db:"phase_durations" json:"phase_durations,omitempty"`
	Status                WorkerStatus    `db:"status" json:"status"`
	CreatedAt             time.Time       `db:"created_at" json:"created_at"`
}
