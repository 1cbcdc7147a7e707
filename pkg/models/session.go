// Package models defines the persisted entities of the forecasting pipeline
// and trading simulation engine (spec §3): Session, AgentLog, Factor,
// ForecasterResponse, Order, Trade, and TraderState.
package models

import "time"

// QuestionType classifies the shape of the forecasting question.
type QuestionType string

const (
	QuestionTypeBinary      QuestionType = "binary"
	QuestionTypeNumeric     QuestionType = "numeric"
	QuestionTypeCategorical QuestionType = "categorical"
)

// SessionStatus is the top-level lifecycle state of a Session.
type SessionStatus string

const (
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed    SessionStatus = "failed"
)

// Phase identifies one of the four orchestrator phases.
type Phase string

const (
	PhaseDiscovery  Phase = "discovery"
	PhaseValidation Phase = "validation"
	PhaseResearch   Phase = "research"
	PhaseSynthesis  Phase = "synthesis"
)

// Session is one end-to-end forecasting + (optional) trading run.
type Session struct {
	ID            string        `db:"id" json:"id"`
	QuestionText  string        `db:"question_text" json:"question_text"`
	QuestionType  QuestionType  `db:"question_type" json:"question_type"`
	Status        SessionStatus `db:"status" json:"status"`
	CurrentPhase  Phase         `db:"current_phase" json:"current_phase"`
	FailedPhase   *Phase        `db:"failed_phase" json:"failed_phase,omitempty"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
	StartedAt     *time.Time    `db:"started_at" json:"started_at,omitempty"`
	CompletedAt   *time.Time    `db:"completed_at" json:"completed_at,omitempty"`
	TotalTokens   int64         `db:"total_tokens" json:"total_tokens"`
	TradingActive bool          `db:"trading_active" json:"trading_active"`
}

// IsTerminal reports whether the session has reached completed or failed.
func (s *Session) IsTerminal() bool {
	return s.Status == SessionStatusCompleted || s.Status == SessionStatusFailed
}
