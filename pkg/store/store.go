// Package store defines the persistence contract spec.md treats as an
// external collaborator ("the Store (row CRUD)"). Two implementations are
// provided: postgres.go (jackc/pgx/v5 + jmoiron/sqlx, the production
// substrate) and memory.go (an in-process map, used by tests and by the
// in-memory matching-engine fallback spec.md §9 sanctions when no
// database-level SKIP LOCKED is available).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/sibylline/forecastmarket/pkg/models"
)

// ErrNotFound is returned when a row lookup misses.
var ErrNotFound = errors.New("store: not found")

// ErrAlreadyExists is returned on a unique-constraint violation (e.g. a
// second ForecasterResponse for the same (session_id, forecaster_class), or
// a Factor re-insert under an existing normalized name).
var ErrAlreadyExists = errors.New("store: already exists")

// SessionFilter narrows ListSessions (spec §6 GET /api/forecasts query params).
type SessionFilter struct {
	QuestionText string // substring match, empty = no filter
	Limit        int
	Offset       int
}

// Tx is a database transaction scoped to the methods that the matching
// engine and the atomic market-making primitive need to run serializably
// (spec §4.3, §4.4). Every Tx method operates within the same underlying
// transaction; Commit/Rollback finalize it.
type Tx interface {
	// LockActiveBids returns active bid orders for a session ordered by
	// (price DESC, created_at ASC), each row-locked (SELECT ... FOR UPDATE
	// SKIP LOCKED in the Postgres implementation) so a concurrent matching
	// invocation cannot observe the same row.
	LockActiveBids(ctx context.Context, sessionID string) ([]models.Order, error)

	// LockActiveAsks mirrors LockActiveBids, ordered by (price ASC, created_at ASC).
	LockActiveAsks(ctx context.Context, sessionID string) ([]models.Order, error)

	// CancelTraderOrders marks every active order of trader in session as
	// cancelled, returning how many rows changed (spec §4.4 step 1).
	CancelTraderOrders(ctx context.Context, sessionID, trader string) (int, error)

	// InsertOrder creates a new order row and returns its generated ID.
	InsertOrder(ctx context.Context, o *models.Order) (string, error)

	// ApplyFill advances an order's filled_quantity and recomputes status.
	ApplyFill(ctx context.Context, orderID string, newFilledQuantity int, status models.OrderStatus) error

	// InsertTrade appends an immutable Trade row.
	InsertTrade(ctx context.Context, t *models.Trade) (string, error)

	// ApplyTraderDelta upserts a TraderState row, applying position/cash
	// deltas atomically (spec §3 TraderState invariants). It does not
	// touch PnL directly — PnL is mark-to-market and recomputed via
	// RecomputeTraderPnL once the matching loop knows the latest price.
	ApplyTraderDelta(ctx context.Context, sessionID, trader string, traderType models.TraderType, positionDelta int, cashDelta string) error

	// RecomputeTraderPnL sets pnl = cash + position*markPriceCents/100,
	// i.e. mark-to-market value against a zero starting-capital convention
	// (positions and cash are notional, spec §1 Non-goals).
	RecomputeTraderPnL(ctx context.Context, sessionID, trader string, markPriceCents int) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// ensure Store embeds no RecomputeTraderPnL duplicate; the method lives on Tx.

// Store is the full row-CRUD contract used by the orchestrator, the
// forecasting workers, the round scheduler, and the API layer.
type Store interface {
	// Sessions
	CreateSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	ListSessions(ctx context.Context, f SessionFilter) ([]models.Session, int, error)
	UpdateSessionPhase(ctx context.Context, id string, phase models.Phase) error
	UpdateSessionStatus(ctx context.Context, id string, status models.SessionStatus, failedPhase *models.Phase) error
	MarkSessionStarted(ctx context.Context, id string, at time.Time) error
	MarkSessionCompleted(ctx context.Context, id string, at time.Time) error
	AddSessionTokens(ctx context.Context, id string, tokens int64) error
	SetTradingActive(ctx context.Context, id string, active bool) error
	DeleteSession(ctx context.Context, id string) error // cascades per spec §3 ownership
	FindRecentSessionByQuestion(ctx context.Context, questionText string, window time.Duration) (*models.Session, error)

	// AgentLog
	CreateAgentLog(ctx context.Context, log *models.AgentLog) error
	CompleteAgentLog(ctx context.Context, id string, status models.WorkerStatus, output []byte, errMsg string, tokens int64, at time.Time) error
	ListAgentLogs(ctx context.Context, sessionID string) ([]models.AgentLog, error)

	// Factor
	CreateFactor(ctx context.Context, f *models.Factor) error
	GetFactorByNormalizedName(ctx context.Context, sessionID, normalizedName string) (*models.Factor, error)
	ListFactors(ctx context.Context, sessionID string) ([]models.Factor, error)
	UpdateFactorImportance(ctx context.Context, id string, score float64) error
	UpdateFactorResearchSummary(ctx context.Context, id string, summary string) error

	// ForecasterResponse
	CreateForecasterResponse(ctx context.Context, r *models.ForecasterResponse) error
	CompleteForecasterResponse(ctx context.Context, id string, probability, confidence float64, reasoning string, keyFactors []string, durations map[string]int64) error
	FailForecasterResponse(ctx context.Context, id string) error
	ListForecasterResponses(ctx context.Context, sessionID string) ([]models.ForecasterResponse, error)

	// Orderbook read model
	ListOrders(ctx context.Context, sessionID string) ([]models.Order, error)
	ListTrades(ctx context.Context, sessionID string) ([]models.Trade, error)
	ListTraderStates(ctx context.Context, sessionID string) ([]models.TraderState, error)
	UpsertTraderState(ctx context.Context, ts *models.TraderState) error

	// BeginMarketTx starts a serializable transaction scoped to one session
	// for the matching engine / atomic market-making primitive (spec §4.3,
	// §4.4). The caller MUST Commit or Rollback.
	BeginMarketTx(ctx context.Context, sessionID string) (Tx, error)

	Close() error
}
