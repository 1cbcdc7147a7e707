// Package trading drives the 18-trader pool through repeated market-making
// rounds against a session's matching engine (spec §4.5). The round loop's
// start/stop lifecycle (fixed-size pool of goroutines, a stop-channel
// closed once, graceful drain of in-flight work) generalizes a
// quoteUpdate/tick loop from one Avellaneda-Stoikov maker per external
// market to 18 heterogeneous traders per simulated session.
package trading

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sibylline/forecastmarket/pkg/market"
	"github.com/sibylline/forecastmarket/pkg/models"
	"github.com/sibylline/forecastmarket/pkg/resources"
)

// SchedulerPhase is the round scheduler's own lifecycle phase (spec §4.5,
// distinct from the forecasting pipeline's models.Phase).
type SchedulerPhase string

const (
	PhaseInitializing SchedulerPhase = "initializing"
	PhaseRunning      SchedulerPhase = "running"
	PhaseStopped      SchedulerPhase = "stopped"
)

// DefaultTradingInterval is Δt in spec §4.5's round loop (spec §6 default
// TRADING_INTERVAL_SECONDS=30).
const DefaultTradingInterval = 30 * time.Second

// Status is GetStatus's return value (spec §4.5: "{running, phase,
// round_number}").
type Status struct {
	Running     bool
	Phase       SchedulerPhase
	RoundNumber int
}

// Scheduler drives one session's 18-trader pool through repeated rounds.
// One Scheduler instance is scoped to exactly one session.
type Scheduler struct {
	res       resources.Resources
	engine    *market.Engine
	sessionID string
	interval  time.Duration
	traders   []*Trader

	mu          sync.RWMutex
	phase       SchedulerPhase
	roundNumber int
	cancel      context.CancelFunc
	stopped     chan struct{}
}

// NewScheduler constructs a Scheduler over the fixed 18-trader taxonomy
// (spec §4.5). interval <= 0 falls back to DefaultTradingInterval.
func NewScheduler(res resources.Resources, sessionID string, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultTradingInterval
	}
	return &Scheduler{
		res:       res,
		engine:    market.NewEngine(res.Store),
		sessionID: sessionID,
		interval:  interval,
		traders:   NewTraderPool(),
		phase:     PhaseInitializing,
		stopped:   make(chan struct{}),
	}
}

// Run seeds every trader's TraderState row (spec §3 trader_type/system_prompt)
// and the 5 Fundamental traders' probabilities from the forecasting
// pipeline's Phase 4 output (spec §4.5: "await seed_probabilities ... blocks
// round 1"), then drives rounds until ctx is cancelled or Stop/Complete is
// called. It blocks; callers run it in its own goroutine.
func (s *Scheduler) Run(ctx context.Context) error {
	responses, err := s.res.Store.ListForecasterResponses(ctx, s.sessionID)
	if err != nil {
		return fmt.Errorf("trading: seed probabilities: %w", err)
	}
	probByClass := make(map[models.ForecasterClass]float64, len(responses))
	for _, r := range responses {
		if r.PredictionProbability != nil {
			probByClass[r.ForecasterClass] = *r.PredictionProbability
		}
	}
	for _, t := range s.traders {
		if t.Type != models.TraderTypeFundamental {
			continue
		}
		if p, ok := probByClass[t.Class]; ok {
			t.seedProbability(p)
		} else {
			t.seedProbability(0.5) // no synthesis output for this class: neutral prior
		}
	}

	if err := s.seedTraderStates(ctx); err != nil {
		return fmt.Errorf("trading: seed trader states: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.phase == PhaseStopped { // Stop was called before Run got this far
		s.mu.Unlock()
		cancel()
		close(s.stopped)
		return nil
	}
	s.cancel = cancel
	s.phase = PhaseRunning
	s.mu.Unlock()
	defer close(s.stopped)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.runRound(runCtx)

		select {
		case <-runCtx.Done():
			s.mu.Lock()
			s.phase = PhaseStopped
			s.mu.Unlock()
			return nil
		case <-ticker.C:
		}
	}
}

// runRound dispatches every trader's decision concurrently against the
// pre-round snapshot (spec §4.5: "each uses the pre-round snapshot" — no
// trader observes another's Round-R quotes before issuing its own).
// Back-pressure: a trader whose previous round's PlaceMMQuotes call has not
// yet returned is skipped this round rather than queued.
func (s *Scheduler) runRound(ctx context.Context) {
	snap, err := market.LoadSnapshot(ctx, s.res.Store, s.sessionID)
	if err != nil {
		slog.Error("trading: load snapshot failed", "session_id", s.sessionID, "error", err)
		return
	}

	var wg sync.WaitGroup
	for _, t := range s.traders {
		if !t.tryAcquire() {
			slog.Warn("trading: skipping trader, previous round still in flight", "trader", t.Name, "session_id", s.sessionID)
			continue
		}
		wg.Add(1)
		go func(t *Trader) {
			defer wg.Done()
			defer t.release()
			s.dispatchTrader(ctx, t, snap)
		}(t)
	}
	wg.Wait()

	s.mu.Lock()
	s.roundNumber++
	s.mu.Unlock()
}

// seedTraderStates upserts one TraderState row per pool member with its
// real trader_type and system_prompt before round 1, so the matching
// engine's ApplyTraderDelta create-on-first-write fallback never has to
// invent a trader_type (spec §3: trader_type ∈ {fundamental,noise,user}).
func (s *Scheduler) seedTraderStates(ctx context.Context) error {
	for _, t := range s.traders {
		ts := &models.TraderState{
			SessionID:    s.sessionID,
			Name:         t.Name,
			TraderType:   t.Type,
			Cash:         decimal.Zero,
			PnL:          decimal.Zero,
			SystemPrompt: t.SystemPrompt,
		}
		if err := s.res.Store.UpsertTraderState(ctx, ts); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) dispatchTrader(ctx context.Context, t *Trader, snap market.Snapshot) {
	signal, err := t.sampleSignal(s.res)
	if err != nil {
		slog.Warn("trading: signal sample failed", "trader", t.Name, "error", err)
	}

	state, _ := s.lookupTraderState(ctx, t.Name)
	bid, ask, qty := t.Decide(snap, state, signal)

	if _, err := s.engine.PlaceMMQuotes(ctx, s.sessionID, t.Name, bid, ask, qty); err != nil {
		slog.Error("trading: place quotes failed", "trader", t.Name, "session_id", s.sessionID, "error", err)
	}
}

func (s *Scheduler) lookupTraderState(ctx context.Context, name string) (models.TraderState, bool) {
	states, err := s.res.Store.ListTraderStates(ctx, s.sessionID)
	if err != nil {
		return models.TraderState{}, false
	}
	for _, st := range states {
		if st.Name == name {
			return st, true
		}
	}
	return models.TraderState{}, false
}

// Stop halts the round loop after the current round's in-flight quotes
// finish (spec §4.5: "finishes the current round's in-flight quotes, then
// exits"). Safe to call multiple times or before Run starts.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	if cancel == nil {
		s.phase = PhaseStopped
	}
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Complete is equivalent to Stop but additionally marks trading inactive in
// the store (spec §4.5: "additionally marks the Session terminal").
func (s *Scheduler) Complete(ctx context.Context) error {
	s.Stop()
	return s.res.Store.SetTradingActive(ctx, s.sessionID, false)
}

// GetStatus returns the scheduler's current {running, phase, round_number}.
func (s *Scheduler) GetStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		Running:     s.phase == PhaseRunning,
		Phase:       s.phase,
		RoundNumber: s.roundNumber,
	}
}
