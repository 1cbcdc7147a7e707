package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sibylline/forecastmarket/pkg/models"
)

// MemoryStore is an in-process Store, used by unit tests and as the
// reference implementation for the matching engine's session-keyed-mutex
// fallback (spec §9: "An implementation without row-level skip-locked must
// instead serialize per-session matching through a session-keyed mutex").
type MemoryStore struct {
	mu sync.RWMutex

	sessions             map[string]*models.Session
	agentLogs            map[string]*models.AgentLog
	factors              map[string]*models.Factor
	forecasterResponses  map[string]*models.ForecasterResponse
	orders               map[string]*models.Order
	trades               map[string]*models.Trade
	traderStates         map[string]*models.TraderState // keyed by sessionID+"/"+name

	marketMu map[string]*sync.Mutex // sessionID -> serializing lock (spec §4.3/§9)
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:            make(map[string]*models.Session),
		agentLogs:           make(map[string]*models.AgentLog),
		factors:             make(map[string]*models.Factor),
		forecasterResponses: make(map[string]*models.ForecasterResponse),
		orders:              make(map[string]*models.Order),
		trades:              make(map[string]*models.Trade),
		traderStates:        make(map[string]*models.TraderState),
		marketMu:            make(map[string]*sync.Mutex),
	}
}

func (m *MemoryStore) Close() error { return nil }

// ───────────────────────────── Sessions ─────────────────────────────

func (m *MemoryStore) CreateSession(ctx context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	if s.CurrentPhase == "" {
		s.CurrentPhase = models.PhaseDiscovery
	}
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *MemoryStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) ListSessions(ctx context.Context, f SessionFilter) ([]models.Session, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []models.Session
	for _, s := range m.sessions {
		if f.QuestionText != "" && !strings.Contains(strings.ToLower(s.QuestionText), strings.ToLower(f.QuestionText)) {
			continue
		}
		matched = append(matched, *s)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	total := len(matched)

	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[f.Offset:]
		}
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, total, nil
}

func (m *MemoryStore) UpdateSessionPhase(ctx context.Context, id string, phase models.Phase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.CurrentPhase = phase
	return nil
}

func (m *MemoryStore) UpdateSessionStatus(ctx context.Context, id string, status models.SessionStatus, failedPhase *models.Phase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.Status = status
	s.FailedPhase = failedPhase
	if status == models.SessionStatusCompleted || status == models.SessionStatusFailed {
		now := time.Now()
		s.CompletedAt = &now
	}
	return nil
}

func (m *MemoryStore) MarkSessionStarted(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.StartedAt = &at
	return nil
}

func (m *MemoryStore) MarkSessionCompleted(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.CompletedAt = &at
	s.Status = models.SessionStatusCompleted
	return nil
}

func (m *MemoryStore) AddSessionTokens(ctx context.Context, id string, tokens int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.TotalTokens += tokens
	return nil
}

func (m *MemoryStore) SetTradingActive(ctx context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.TradingActive = active
	return nil
}

func (m *MemoryStore) DeleteSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	for k, v := range m.agentLogs {
		if v.SessionID == id {
			delete(m.agentLogs, k)
		}
	}
	for k, v := range m.factors {
		if v.SessionID == id {
			delete(m.factors, k)
		}
	}
	for k, v := range m.forecasterResponses {
		if v.SessionID == id {
			delete(m.forecasterResponses, k)
		}
	}
	for k, v := range m.orders {
		if v.SessionID == id {
			delete(m.orders, k)
		}
	}
	for k, v := range m.trades {
		if v.SessionID == id {
			delete(m.trades, k)
		}
	}
	for k := range m.traderStates {
		if strings.HasPrefix(k, id+"/") {
			delete(m.traderStates, k)
		}
	}
	delete(m.marketMu, id)
	return nil
}

func (m *MemoryStore) FindRecentSessionByQuestion(ctx context.Context, questionText string, window time.Duration) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cutoff := time.Now().Add(-window)
	norm := strings.ToLower(strings.TrimSpace(questionText))
	var best *models.Session
	for _, s := range m.sessions {
		if strings.ToLower(strings.TrimSpace(s.QuestionText)) != norm {
			continue
		}
		if s.CreatedAt.Before(cutoff) {
			continue
		}
		if s.IsTerminal() && s.Status == models.SessionStatusFailed {
			continue
		}
		if best == nil || s.CreatedAt.After(best.CreatedAt) {
			cp := *s
			best = &cp
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best, nil
}

// ───────────────────────────── AgentLog ─────────────────────────────

func (m *MemoryStore) CreateAgentLog(ctx context.Context, log *models.AgentLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}
	cp := *log
	m.agentLogs[log.ID] = &cp
	return nil
}

func (m *MemoryStore) CompleteAgentLog(ctx context.Context, id string, status models.WorkerStatus, output []byte, errMsg string, tokens int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.agentLogs[id]
	if !ok {
		return ErrNotFound
	}
	l.Status = status
	l.OutputData = output
	l.ErrorMsg = errMsg
	l.TokensUsed = tokens
	l.CompletedAt = &at
	return nil
}

func (m *MemoryStore) ListAgentLogs(ctx context.Context, sessionID string) ([]models.AgentLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.AgentLog
	for _, l := range m.agentLogs {
		if l.SessionID == sessionID {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AgentName != out[j].AgentName {
			return out[i].AgentName < out[j].AgentName
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// ───────────────────────────── Factor ─────────────────────────────

func (m *MemoryStore) CreateFactor(ctx context.Context, f *models.Factor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	norm := f.NormalizedName()
	for _, existing := range m.factors {
		if existing.SessionID == f.SessionID && existing.NormalizedName() == norm {
			return ErrAlreadyExists
		}
	}
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	cp := *f
	m.factors[f.ID] = &cp
	return nil
}

func (m *MemoryStore) GetFactorByNormalizedName(ctx context.Context, sessionID, normalizedName string) (*models.Factor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, f := range m.factors {
		if f.SessionID == sessionID && f.NormalizedName() == normalizedName {
			cp := *f
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ListFactors(ctx context.Context, sessionID string) ([]models.Factor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Factor
	for _, f := range m.factors {
		if f.SessionID == sessionID {
			out = append(out, *f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) UpdateFactorImportance(ctx context.Context, id string, score float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.factors[id]
	if !ok {
		return ErrNotFound
	}
	f.ImportanceScore = score
	return nil
}

func (m *MemoryStore) UpdateFactorResearchSummary(ctx context.Context, id string, summary string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.factors[id]
	if !ok {
		return ErrNotFound
	}
	f.ResearchSummary = summary
	return nil
}

// ───────────────────────── ForecasterResponse ─────────────────────────

func (m *MemoryStore) CreateForecasterResponse(ctx context.Context, r *models.ForecasterResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.forecasterResponses {
		if existing.SessionID == r.SessionID && existing.ForecasterClass == r.ForecasterClass {
			return ErrAlreadyExists
		}
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	cp := *r
	m.forecasterResponses[r.ID] = &cp
	return nil
}

func (m *MemoryStore) CompleteForecasterResponse(ctx context.Context, id string, probability, confidence float64, reasoning string, keyFactors []string, durations map[string]int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.forecasterResponses[id]
	if !ok {
		return ErrNotFound
	}
	r.PredictionProbability = &probability
	r.Confidence = &confidence
	r.Reasoning = reasoning
	r.KeyFactors = keyFactors
	r.PhaseDurations = durations
	r.Status = models.WorkerStatusCompleted
	return nil
}

func (m *MemoryStore) FailForecasterResponse(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.forecasterResponses[id]
	if !ok {
		return ErrNotFound
	}
	r.Status = models.WorkerStatusFailed
	return nil
}

func (m *MemoryStore) ListForecasterResponses(ctx context.Context, sessionID string) ([]models.ForecasterResponse, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ForecasterResponse
	for _, r := range m.forecasterResponses {
		if r.SessionID == sessionID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ForecasterClass < out[j].ForecasterClass })
	return out, nil
}

// ───────────────────────────── Orderbook ─────────────────────────────

func (m *MemoryStore) ListOrders(ctx context.Context, sessionID string) ([]models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Order
	for _, o := range m.orders {
		if o.SessionID == sessionID {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) ListTrades(ctx context.Context, sessionID string) ([]models.Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Trade
	for _, t := range m.trades {
		if t.SessionID == sessionID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) ListTraderStates(ctx context.Context, sessionID string) ([]models.TraderState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.TraderState
	for _, ts := range m.traderStates {
		if ts.SessionID == sessionID {
			out = append(out, *ts)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) UpsertTraderState(ctx context.Context, ts *models.TraderState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := ts.SessionID + "/" + ts.Name
	if ts.ID == "" {
		if existing, ok := m.traderStates[key]; ok {
			ts.ID = existing.ID
		} else {
			ts.ID = uuid.New().String()
		}
	}
	ts.UpdatedAt = time.Now()
	cp := *ts
	m.traderStates[key] = &cp
	return nil
}

// ───────────────────────────── Market transaction ─────────────────────────────

func (m *MemoryStore) lockFor(sessionID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.marketMu[sessionID]
	if !ok {
		l = &sync.Mutex{}
		m.marketMu[sessionID] = l
	}
	return l
}

// BeginMarketTx acquires the session-keyed mutex (spec §9 fallback) and
// returns a Tx that mutates the MemoryStore's maps directly, recording an
// undo log so Rollback can unwind partial work.
func (m *MemoryStore) BeginMarketTx(ctx context.Context, sessionID string) (Tx, error) {
	lock := m.lockFor(sessionID)
	lock.Lock()
	return &memoryTx{store: m, sessionID: sessionID, lock: lock}, nil
}

type memoryTx struct {
	store     *MemoryStore
	sessionID string
	lock      *sync.Mutex
	undo      []func()
	done      bool
}

func (tx *memoryTx) LockActiveBids(ctx context.Context, sessionID string) ([]models.Order, error) {
	return tx.activeOrders(sessionID, models.SideBuy)
}

func (tx *memoryTx) LockActiveAsks(ctx context.Context, sessionID string) ([]models.Order, error) {
	return tx.activeOrders(sessionID, models.SideSell)
}

func (tx *memoryTx) activeOrders(sessionID string, side models.Side) ([]models.Order, error) {
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	var out []models.Order
	for _, o := range tx.store.orders {
		if o.SessionID == sessionID && o.Side == side && o.Active() {
			out = append(out, *o)
		}
	}
	if side == models.SideBuy {
		sort.Slice(out, func(i, j int) bool {
			if out[i].Price != out[j].Price {
				return out[i].Price > out[j].Price
			}
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		})
	} else {
		sort.Slice(out, func(i, j int) bool {
			if out[i].Price != out[j].Price {
				return out[i].Price < out[j].Price
			}
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		})
	}
	return out, nil
}

func (tx *memoryTx) CancelTraderOrders(ctx context.Context, sessionID, trader string) (int, error) {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	n := 0
	for _, o := range tx.store.orders {
		if o.SessionID == sessionID && o.TraderName == trader && o.Active() {
			prevStatus, prevFilled := o.Status, o.FilledQuantity
			o.Status = models.OrderStatusCancelled
			n++
			tx.undo = append(tx.undo, func() {
				o.Status = prevStatus
				o.FilledQuantity = prevFilled
			})
		}
	}
	return n, nil
}

func (tx *memoryTx) InsertOrder(ctx context.Context, o *models.Order) (string, error) {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	if o.Status == "" {
		o.Status = models.OrderStatusOpen
	}
	cp := *o
	tx.store.orders[o.ID] = &cp
	id := o.ID
	tx.undo = append(tx.undo, func() { delete(tx.store.orders, id) })
	return id, nil
}

func (tx *memoryTx) ApplyFill(ctx context.Context, orderID string, newFilledQuantity int, status models.OrderStatus) error {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	o, ok := tx.store.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	prevFilled, prevStatus := o.FilledQuantity, o.Status
	o.FilledQuantity = newFilledQuantity
	o.Status = status
	tx.undo = append(tx.undo, func() {
		o.FilledQuantity = prevFilled
		o.Status = prevStatus
	})
	return nil
}

func (tx *memoryTx) InsertTrade(ctx context.Context, t *models.Trade) (string, error) {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	cp := *t
	tx.store.trades[t.ID] = &cp
	id := t.ID
	tx.undo = append(tx.undo, func() { delete(tx.store.trades, id) })
	return id, nil
}

func (tx *memoryTx) ApplyTraderDelta(ctx context.Context, sessionID, trader string, traderType models.TraderType, positionDelta int, cashDelta string) error {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()

	delta, err := decimal.NewFromString(cashDelta)
	if err != nil {
		return fmt.Errorf("invalid cash delta %q: %w", cashDelta, err)
	}

	key := sessionID + "/" + trader
	ts, ok := tx.store.traderStates[key]
	if !ok {
		ts = &models.TraderState{
			ID:         uuid.New().String(),
			SessionID:  sessionID,
			Name:       trader,
			TraderType: traderType,
			Cash:       decimal.Zero,
			PnL:        decimal.Zero,
		}
		tx.store.traderStates[key] = ts
		id := ts.ID
		tx.undo = append(tx.undo, func() { delete(tx.store.traderStates, key); _ = id })
	}
	prevPosition, prevCash := ts.Position, ts.Cash
	ts.Position += positionDelta
	ts.Cash = ts.Cash.Add(delta)
	ts.UpdatedAt = time.Now()
	tx.undo = append(tx.undo, func() {
		ts.Position = prevPosition
		ts.Cash = prevCash
	})
	return nil
}

func (tx *memoryTx) RecomputeTraderPnL(ctx context.Context, sessionID, trader string, markPriceCents int) error {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	key := sessionID + "/" + trader
	ts, ok := tx.store.traderStates[key]
	if !ok {
		return ErrNotFound
	}
	prevPnL := ts.PnL
	mark := models.CentsToDecimal(markPriceCents, ts.Position)
	ts.PnL = ts.Cash.Add(mark)
	tx.undo = append(tx.undo, func() { ts.PnL = prevPnL })
	return nil
}

func (tx *memoryTx) Commit(ctx context.Context) error {
	if tx.done {
		return nil
	}
	tx.done = true
	tx.undo = nil
	tx.lock.Unlock()
	return nil
}

func (tx *memoryTx) Rollback(ctx context.Context) error {
	if tx.done {
		return nil
	}
	tx.done = true
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.lock.Unlock()
	return nil
}
