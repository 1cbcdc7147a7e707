// Package forecast drives a Session through the four-phase forecasting
// pipeline (spec §4.2): discovery, validation, research, synthesis. The
// phase-barrier/fan-out shape is a dispatch-then-collect loop with AgentLog
// as the progress event stream: dispatch N fixed phase workers, barrier on
// all-terminal, advance.
package forecast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/sibylline/forecastmarket/pkg/llm"
	"github.com/sibylline/forecastmarket/pkg/models"
	"github.com/sibylline/forecastmarket/pkg/resources"
)

// Orchestrator drives one Session at a time through the phase state
// machine. It holds no per-session mutable state itself; callers may run
// multiple sessions concurrently through the same Orchestrator.
type Orchestrator struct {
	res resources.Resources
	cfg Config
}

// NewOrchestrator constructs an Orchestrator over the given Resources
// (spec §9 "explicit Resources{...} passed into the orchestrator and
// scheduler constructors" rather than reached through process-wide
// singletons).
func NewOrchestrator(res resources.Resources, cfg Config) *Orchestrator {
	return &Orchestrator{res: res, cfg: cfg}
}

// RunParams is one forecasting run's request (spec §6 POST /api/forecasts).
type RunParams struct {
	SessionID         string
	QuestionText      string
	Counts            AgentCounts
	ForecasterClasses []models.ForecasterClass
}

// RunSession drives sessionID through created -> discovery -> validation ->
// research -> synthesis -> completed, or to failed on a fatal condition
// (spec §4.2 state machine). It blocks until the session reaches a
// terminal state.
func (o *Orchestrator) RunSession(ctx context.Context, p RunParams) error {
	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	go o.watchCancellation(watchCtx, cancelWatch, p.SessionID)

	now := time.Now()
	if err := o.res.Store.MarkSessionStarted(watchCtx, p.SessionID, now); err != nil {
		return fmt.Errorf("forecast: mark session started: %w", err)
	}

	candidates, err := runPhase(watchCtx, o, p.SessionID, models.PhaseDiscovery, func(ctx context.Context) ([]FactorCandidate, error) {
		return o.runDiscovery(ctx, p.SessionID, p.QuestionText, p.Counts.Discovery)
	})
	if err != nil {
		return o.fail(ctx, p.SessionID, models.PhaseDiscovery, err)
	}

	factors, err := runPhase(watchCtx, o, p.SessionID, models.PhaseValidation, func(ctx context.Context) ([]models.Factor, error) {
		return o.runValidation(ctx, p.SessionID, candidates, o.maxFactors())
	})
	if err != nil {
		return o.fail(ctx, p.SessionID, models.PhaseValidation, err)
	}

	researched, err := runPhase(watchCtx, o, p.SessionID, models.PhaseResearch, func(ctx context.Context) ([]models.Factor, error) {
		return o.runResearch(ctx, p.SessionID, p.QuestionText, factors, p.Counts.Historical, p.Counts.Current)
	})
	if err != nil {
		return o.fail(ctx, p.SessionID, models.PhaseResearch, err)
	}
	if len(researched) == 0 {
		return o.fail(ctx, p.SessionID, models.PhaseResearch, fmt.Errorf("forecast: phase 3 research: zero factors survived"))
	}

	_, err = runPhase(watchCtx, o, p.SessionID, models.PhaseSynthesis, func(ctx context.Context) ([]models.ForecasterResponse, error) {
		return o.runSynthesis(ctx, p.SessionID, p.QuestionText, researched, p.ForecasterClasses)
	})
	if err != nil {
		return o.fail(ctx, p.SessionID, models.PhaseSynthesis, err)
	}

	return o.res.Store.MarkSessionCompleted(ctx, p.SessionID, time.Now())
}

// runPhase records current_phase, times the phase's wall-clock duration
// (spec §4.2 "the orchestrator records per-phase wall-clock duration"), and
// runs fn. A free function, not a method: Go methods cannot carry their own
// type parameters.
func runPhase[T any](ctx context.Context, o *Orchestrator, sessionID string, phase models.Phase, fn func(ctx context.Context) (T, error)) (T, error) {
	if err := o.res.Store.UpdateSessionPhase(ctx, sessionID, phase); err != nil {
		var zero T
		return zero, err
	}
	start := time.Now()
	result, err := fn(ctx)
	slog.Info("forecast: phase complete", "session_id", sessionID, "phase", phase, "duration", time.Since(start), "error", err)
	return result, err
}

func (o *Orchestrator) fail(ctx context.Context, sessionID string, phase models.Phase, cause error) error {
	slog.Error("forecast: session failed", "session_id", sessionID, "phase", phase, "error", cause)
	p := phase
	if err := o.res.Store.UpdateSessionStatus(ctx, sessionID, models.SessionStatusFailed, &p); err != nil {
		slog.Warn("forecast: failed to record session failure", "session_id", sessionID, "error", err)
	}
	return cause
}

// watchCancellation polls Session.Status and cancels cancel once it
// observes `failed` set by an external actor (spec §5 "Session-wide
// cancellation propagates by flipping the Session status to failed;
// workers must poll ... and abort at next yield").
func (o *Orchestrator) watchCancellation(ctx context.Context, cancel context.CancelFunc, sessionID string) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sess, err := o.res.Store.GetSession(ctx, sessionID)
			if err != nil {
				continue
			}
			if sess.Status == models.SessionStatusFailed {
				cancel()
				return
			}
		}
	}
}

func (o *Orchestrator) maxFactors() int {
	if o.cfg.MaxFactors <= 0 {
		return 5
	}
	return o.cfg.MaxFactors
}

// ceilingFor resolves spec §5's back-pressure default: "configurable
// ceiling, default = phase's worker count" (i.e. unbounded relative to the
// phase's own size unless MaxConcurrentLLM overrides it).
func (o *Orchestrator) ceilingFor(phaseWorkerCount int) int {
	if o.cfg.MaxConcurrentLLM > 0 {
		return o.cfg.MaxConcurrentLLM
	}
	return phaseWorkerCount
}

// callLLM adapts llm.Provider.Complete to the workerFunc shape every phase
// dispatches.
func (o *Orchestrator) callLLM(ctx context.Context, systemPrompt, userPayload string, schema json.RawMessage, webSearch bool) (map[string]interface{}, int64, int64, error) {
	result, err := o.res.LLM.Complete(ctx, llm.Request{
		SystemPrompt: systemPrompt,
		UserPayload:  userPayload,
		OutputSchema: schema,
		WebSearch:    webSearch,
		Temperature:  0.7,
		MaxRetries:   3,
	})
	if err != nil {
		return nil, 0, 0, err
	}
	return result.Object, result.PromptTokens, result.CompletionTokens, nil
}
