package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver for database/sql

	"github.com/sibylline/forecastmarket/pkg/models"
)

// Config holds Postgres connection settings (DSN plus pool tuning).
type Config struct {
	URL             string // STORE_URL, a full postgres:// DSN
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// PostgresStore implements Store against a real Postgres database using
// jackc/pgx/v5 as the wire driver and jmoiron/sqlx for ergonomic row
// scanning.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore opens a pooled connection and configures it per cfg.
func NewPostgresStore(ctx context.Context, cfg Config) (*PostgresStore, error) {
	sqlDB, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := RunMigrations(ctx, sqlDB); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &PostgresStore{db: sqlx.NewDb(sqlDB, "pgx")}, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func mapErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// ───────────────────────────── Sessions ─────────────────────────────

func (p *PostgresStore) CreateSession(ctx context.Context, s *models.Session) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	const q = `
		INSERT INTO sessions (id, question_text, question_type, status, current_phase, created_at, trading_active)
		VALUES (COALESCE(NULLIF(:id, ''), gen_random_uuid()::text), :question_text, :question_type, :status, COALESCE(NULLIF(:current_phase, ''), 'discovery'), :created_at, :trading_active)
		RETURNING id, created_at`
	rows, err := p.db.NamedQueryContext(ctx, q, s)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&s.ID, &s.CreatedAt); err != nil {
			return fmt.Errorf("create session scan: %w", err)
		}
	}
	return nil
}

func (p *PostgresStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var s models.Session
	err := p.db.GetContext(ctx, &s, `SELECT * FROM sessions WHERE id = $1`, id)
	if err != nil {
		return nil, mapErr(err)
	}
	return &s, nil
}

func (p *PostgresStore) ListSessions(ctx context.Context, f SessionFilter) ([]models.Session, int, error) {
	limit, offset := f.Limit, f.Offset
	if limit <= 0 {
		limit = 50
	}
	var total int
	if err := p.db.GetContext(ctx, &total,
		`SELECT count(*) FROM sessions WHERE ($1 = '' OR question_text ILIKE '%' || $1 || '%')`, f.QuestionText); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}

	var out []models.Session
	err := p.db.SelectContext(ctx, &out,
		`SELECT * FROM sessions WHERE ($1 = '' OR question_text ILIKE '%' || $1 || '%')
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, f.QuestionText, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}
	return out, total, nil
}

func (p *PostgresStore) UpdateSessionPhase(ctx context.Context, id string, phase models.Phase) error {
	res, err := p.db.ExecContext(ctx, `UPDATE sessions SET current_phase = $1 WHERE id = $2`, phase, id)
	return checkUpdated(res, err)
}

func (p *PostgresStore) UpdateSessionStatus(ctx context.Context, id string, status models.SessionStatus, failedPhase *models.Phase) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE sessions SET status = $1, failed_phase = $2,
			completed_at = CASE WHEN $1 IN ('completed','failed') THEN now() ELSE completed_at END
		WHERE id = $3`, status, failedPhase, id)
	return checkUpdated(res, err)
}

func (p *PostgresStore) MarkSessionStarted(ctx context.Context, id string, at time.Time) error {
	res, err := p.db.ExecContext(ctx, `UPDATE sessions SET started_at = $1 WHERE id = $2`, at, id)
	return checkUpdated(res, err)
}

func (p *PostgresStore) MarkSessionCompleted(ctx context.Context, id string, at time.Time) error {
	res, err := p.db.ExecContext(ctx, `UPDATE sessions SET completed_at = $1, status = 'completed' WHERE id = $2`, at, id)
	return checkUpdated(res, err)
}

func (p *PostgresStore) AddSessionTokens(ctx context.Context, id string, tokens int64) error {
	res, err := p.db.ExecContext(ctx, `UPDATE sessions SET total_tokens = total_tokens + $1 WHERE id = $2`, tokens, id)
	return checkUpdated(res, err)
}

func (p *PostgresStore) SetTradingActive(ctx context.Context, id string, active bool) error {
	res, err := p.db.ExecContext(ctx, `UPDATE sessions SET trading_active = $1 WHERE id = $2`, active, id)
	return checkUpdated(res, err)
}

func (p *PostgresStore) DeleteSession(ctx context.Context, id string) error {
	// ON DELETE CASCADE (see migrations) removes AgentLogs/Factors/
	// ForecasterResponses/Orders/Trades/TraderStates per spec §3 ownership.
	res, err := p.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	return checkUpdated(res, err)
}

func (p *PostgresStore) FindRecentSessionByQuestion(ctx context.Context, questionText string, window time.Duration) (*models.Session, error) {
	var s models.Session
	err := p.db.GetContext(ctx, &s, `
		SELECT * FROM sessions
		WHERE lower(trim(question_text)) = lower(trim($1))
		  AND created_at >= now() - $2::interval
		  AND status != 'failed'
		ORDER BY created_at DESC LIMIT 1`,
		questionText, window.String())
	if err != nil {
		return nil, mapErr(err)
	}
	return &s, nil
}

// ───────────────────────────── AgentLog ─────────────────────────────

func (p *PostgresStore) CreateAgentLog(ctx context.Context, l *models.AgentLog) error {
	const q = `
		INSERT INTO agent_logs (id, session_id, agent_name, phase, status, created_at)
		VALUES (COALESCE(:id, gen_random_uuid()::text), :session_id, :agent_name, :phase, :status, COALESCE(:created_at, now()))
		RETURNING id, created_at`
	rows, err := p.db.NamedQueryContext(ctx, q, l)
	if err != nil {
		return fmt.Errorf("create agent log: %w", err)
	}
	defer rows.Close()
	if rows.Next() {
		return rows.Scan(&l.ID, &l.CreatedAt)
	}
	return nil
}

func (p *PostgresStore) CompleteAgentLog(ctx context.Context, id string, status models.WorkerStatus, output []byte, errMsg string, tokens int64, at time.Time) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE agent_logs SET status = $1, output_data = $2, error_message = $3, tokens_used = $4, completed_at = $5
		WHERE id = $6`, status, output, errMsg, tokens, at, id)
	return checkUpdated(res, err)
}

func (p *PostgresStore) ListAgentLogs(ctx context.Context, sessionID string) ([]models.AgentLog, error) {
	var out []models.AgentLog
	err := p.db.SelectContext(ctx, &out,
		`SELECT * FROM agent_logs WHERE session_id = $1 ORDER BY agent_name, created_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list agent logs: %w", err)
	}
	return out, nil
}

// ───────────────────────────── Factor ─────────────────────────────

func (p *PostgresStore) CreateFactor(ctx context.Context, f *models.Factor) error {
	const q = `
		INSERT INTO factors (id, session_id, name, normalized_name, description, category, importance_score)
		VALUES (COALESCE(:id, gen_random_uuid()::text), :session_id, :name, lower(trim(:name)), :description, :category, :importance_score)
		ON CONFLICT (session_id, normalized_name) DO NOTHING
		RETURNING id`
	rows, err := p.db.NamedQueryContext(ctx, q, f)
	if err != nil {
		return fmt.Errorf("create factor: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return ErrAlreadyExists
	}
	return rows.Scan(&f.ID)
}

func (p *PostgresStore) GetFactorByNormalizedName(ctx context.Context, sessionID, normalizedName string) (*models.Factor, error) {
	var f models.Factor
	err := p.db.GetContext(ctx, &f,
		`SELECT * FROM factors WHERE session_id = $1 AND normalized_name = $2`, sessionID, normalizedName)
	if err != nil {
		return nil, mapErr(err)
	}
	return &f, nil
}

func (p *PostgresStore) ListFactors(ctx context.Context, sessionID string) ([]models.Factor, error) {
	var out []models.Factor
	err := p.db.SelectContext(ctx, &out, `SELECT * FROM factors WHERE session_id = $1 ORDER BY name`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list factors: %w", err)
	}
	return out, nil
}

func (p *PostgresStore) UpdateFactorImportance(ctx context.Context, id string, score float64) error {
	res, err := p.db.ExecContext(ctx, `UPDATE factors SET importance_score = $1 WHERE id = $2`, score, id)
	return checkUpdated(res, err)
}

func (p *PostgresStore) UpdateFactorResearchSummary(ctx context.Context, id string, summary string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE factors SET research_summary = $1 WHERE id = $2`, summary, id)
	return checkUpdated(res, err)
}

// ───────────────────────── ForecasterResponse ─────────────────────────

func (p *PostgresStore) CreateForecasterResponse(ctx context.Context, r *models.ForecasterResponse) error {
	const q = `
		INSERT INTO forecaster_responses (id, session_id, forecaster_class, status, created_at)
		VALUES (COALESCE(:id, gen_random_uuid()::text), :session_id, :forecaster_class, :status, COALESCE(:created_at, now()))
		ON CONFLICT (session_id, forecaster_class) DO NOTHING
		RETURNING id, created_at`
	rows, err := p.db.NamedQueryContext(ctx, q, r)
	if err != nil {
		return fmt.Errorf("create forecaster response: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return ErrAlreadyExists
	}
	return rows.Scan(&r.ID, &r.CreatedAt)
}

func (p *PostgresStore) CompleteForecasterResponse(ctx context.Context, id string, probability, confidence float64, reasoning string, keyFactors []string, durations map[string]int64) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE forecaster_responses
		SET prediction_probability = $1, confidence = $2, reasoning = $3, key_factors = $4, phase_durations = $5, status = 'completed'
		WHERE id = $6`, probability, confidence, reasoning, keyFactors, models.PhaseDurations(durations), id)
	return checkUpdated(res, err)
}

func (p *PostgresStore) FailForecasterResponse(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE forecaster_responses SET status = 'failed' WHERE id = $1`, id)
	return checkUpdated(res, err)
}

func (p *PostgresStore) ListForecasterResponses(ctx context.Context, sessionID string) ([]models.ForecasterResponse, error) {
	var out []models.ForecasterResponse
	err := p.db.SelectContext(ctx, &out,
		`SELECT * FROM forecaster_responses WHERE session_id = $1 ORDER BY forecaster_class`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list forecaster responses: %w", err)
	}
	return out, nil
}

// ───────────────────────────── Orderbook ─────────────────────────────

func (p *PostgresStore) ListOrders(ctx context.Context, sessionID string) ([]models.Order, error) {
	var out []models.Order
	err := p.db.SelectContext(ctx, &out, `SELECT * FROM orders WHERE session_id = $1 ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return out, nil
}

func (p *PostgresStore) ListTrades(ctx context.Context, sessionID string) ([]models.Trade, error) {
	var out []models.Trade
	err := p.db.SelectContext(ctx, &out, `SELECT * FROM trades WHERE session_id = $1 ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	return out, nil
}

func (p *PostgresStore) ListTraderStates(ctx context.Context, sessionID string) ([]models.TraderState, error) {
	var out []models.TraderState
	err := p.db.SelectContext(ctx, &out, `SELECT * FROM trader_states WHERE session_id = $1 ORDER BY name`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list trader states: %w", err)
	}
	return out, nil
}

func (p *PostgresStore) UpsertTraderState(ctx context.Context, ts *models.TraderState) error {
	const q = `
		INSERT INTO trader_states (id, session_id, name, trader_type, position, cash, pnl, system_prompt, updated_at)
		VALUES (COALESCE(:id, gen_random_uuid()::text), :session_id, :name, :trader_type, :position, :cash, :pnl, :system_prompt, now())
		ON CONFLICT (session_id, name) DO UPDATE SET
			position = EXCLUDED.position, cash = EXCLUDED.cash, pnl = EXCLUDED.pnl,
			system_prompt = EXCLUDED.system_prompt, updated_at = now()
		RETURNING id, updated_at`
	rows, err := p.db.NamedQueryContext(ctx, q, ts)
	if err != nil {
		return fmt.Errorf("upsert trader state: %w", err)
	}
	defer rows.Close()
	if rows.Next() {
		return rows.Scan(&ts.ID, &ts.UpdatedAt)
	}
	return nil
}

// ───────────────────────────── Market transaction ─────────────────────────────

// BeginMarketTx opens a SERIALIZABLE transaction; LockActiveBids/Asks use
// `SELECT ... FOR UPDATE SKIP LOCKED` so concurrent PlaceMMQuotes calls
// against the same session never block on each other's rows (spec §4.3,
// §9 "The matching algorithm's SKIP LOCKED semantics").
func (p *PostgresStore) BeginMarketTx(ctx context.Context, sessionID string) (Tx, error) {
	tx, err := p.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, fmt.Errorf("begin market tx: %w", err)
	}
	return &postgresTx{tx: tx}, nil
}

type postgresTx struct {
	tx *sqlx.Tx
}

func (t *postgresTx) LockActiveBids(ctx context.Context, sessionID string) ([]models.Order, error) {
	return t.lockActive(ctx, sessionID, models.SideBuy,
		`ORDER BY price DESC, created_at ASC FOR UPDATE SKIP LOCKED`)
}

func (t *postgresTx) LockActiveAsks(ctx context.Context, sessionID string) ([]models.Order, error) {
	return t.lockActive(ctx, sessionID, models.SideSell,
		`ORDER BY price ASC, created_at ASC FOR UPDATE SKIP LOCKED`)
}

func (t *postgresTx) lockActive(ctx context.Context, sessionID string, side models.Side, orderClause string) ([]models.Order, error) {
	q := fmt.Sprintf(`
		SELECT * FROM orders
		WHERE session_id = $1 AND side = $2
		  AND status IN ('open','partially_filled') AND filled_quantity < quantity
		%s`, orderClause)
	var out []models.Order
	if err := t.tx.SelectContext(ctx, &out, q, sessionID, side); err != nil {
		return nil, fmt.Errorf("lock active %s orders: %w", side, err)
	}
	return out, nil
}

func (t *postgresTx) CancelTraderOrders(ctx context.Context, sessionID, trader string) (int, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE orders SET status = 'cancelled'
		WHERE session_id = $1 AND trader_name = $2
		  AND status IN ('open','partially_filled') AND filled_quantity < quantity`, sessionID, trader)
	if err != nil {
		return 0, fmt.Errorf("cancel trader orders: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (t *postgresTx) InsertOrder(ctx context.Context, o *models.Order) (string, error) {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	const q = `
		INSERT INTO orders (id, session_id, trader_name, side, price, quantity, filled_quantity, status, created_at)
		VALUES (COALESCE(NULLIF(:id, ''), gen_random_uuid()::text), :session_id, :trader_name, :side, :price, :quantity, 0, 'open', :created_at)
		RETURNING id, created_at`
	rows, err := t.tx.NamedQuery(q, o)
	if err != nil {
		return "", fmt.Errorf("insert order: %w", err)
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&o.ID, &o.CreatedAt); err != nil {
			return "", err
		}
	}
	return o.ID, nil
}

func (t *postgresTx) ApplyFill(ctx context.Context, orderID string, newFilledQuantity int, status models.OrderStatus) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE orders SET filled_quantity = $1, status = $2 WHERE id = $3`, newFilledQuantity, status, orderID)
	return checkUpdated(res, err)
}

func (t *postgresTx) InsertTrade(ctx context.Context, tr *models.Trade) (string, error) {
	const q = `
		INSERT INTO trades (id, session_id, buyer_name, seller_name, price, quantity, created_at)
		VALUES (COALESCE(:id, gen_random_uuid()::text), :session_id, :buyer_name, :seller_name, :price, :quantity, COALESCE(:created_at, now()))
		RETURNING id, created_at`
	rows, err := t.tx.NamedQuery(q, tr)
	if err != nil {
		return "", fmt.Errorf("insert trade: %w", err)
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&tr.ID, &tr.CreatedAt); err != nil {
			return "", err
		}
	}
	return tr.ID, nil
}

func (t *postgresTx) ApplyTraderDelta(ctx context.Context, sessionID, trader string, traderType models.TraderType, positionDelta int, cashDelta string) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO trader_states (id, session_id, name, trader_type, position, cash, pnl, updated_at)
		VALUES (gen_random_uuid()::text, $1, $2, $3, $4, $5::numeric, 0, now())
		ON CONFLICT (session_id, name) DO UPDATE SET
			position = trader_states.position + EXCLUDED.position,
			cash = trader_states.cash + EXCLUDED.cash,
			updated_at = now()`,
		sessionID, trader, traderType, positionDelta, cashDelta)
	if err != nil {
		return fmt.Errorf("apply trader delta: %w", err)
	}
	return nil
}

func (t *postgresTx) RecomputeTraderPnL(ctx context.Context, sessionID, trader string, markPriceCents int) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE trader_states SET pnl = cash + (position * $1::numeric / 100.0)
		WHERE session_id = $2 AND name = $3`, markPriceCents, sessionID, trader)
	return checkUpdated(res, err)
}

func (t *postgresTx) Commit(ctx context.Context) error   { return t.tx.Commit() }
func (t *postgresTx) Rollback(ctx context.Context) error { return t.tx.Rollback() }

func checkUpdated(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
