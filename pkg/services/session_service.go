// Package services composes the forecasting orchestrator, the trading round
// scheduler, and the store/broadcaster/metrics collaborators into the
// operations the HTTP layer calls (spec §6).
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sibylline/forecastmarket/pkg/events"
	"github.com/sibylline/forecastmarket/pkg/forecast"
	"github.com/sibylline/forecastmarket/pkg/metrics"
	"github.com/sibylline/forecastmarket/pkg/models"
	"github.com/sibylline/forecastmarket/pkg/resources"
	"github.com/sibylline/forecastmarket/pkg/store"
	"github.com/sibylline/forecastmarket/pkg/trading"
)

// dedupWindow is spec §9's "recent_window" for (question_text, recent_window)
// deduplication.
const dedupWindow = 5 * time.Minute

// CreateForecastRequest is POST /api/forecasts' / POST /api/sessions/run's
// body (spec §6).
type CreateForecastRequest struct {
	QuestionText      string
	QuestionType      models.QuestionType
	AgentCounts       *forecast.AgentCounts
	ForecasterClass   *models.ForecasterClass
	RunAllForecasters bool

	// StartTrading launches the round scheduler once the forecasting
	// pipeline completes successfully (spec §6 POST /api/sessions/run).
	// POST /api/forecasts leaves this false: forecast-only, no trading.
	StartTrading    bool
	TradingInterval time.Duration // 0 means use the service default
}

// SessionService is the single entry point the API layer calls for every
// session-scoped operation: create+run, read, stop/complete trading, and
// status projection.
type SessionService struct {
	res             resources.Resources
	broadcaster     *events.Broadcaster
	metrics         *metrics.Metrics
	idem            *IdempotencyGuard
	orchestratorCfg forecast.Config
	defaultCounts   forecast.AgentCounts
	defaultClass    models.ForecasterClass
	tradingInterval time.Duration

	mu         sync.Mutex
	schedulers map[string]*trading.Scheduler
}

// NewSessionService constructs a SessionService. broadcaster and m may be
// nil in tests that don't assert on event/metric side effects.
func NewSessionService(
	res resources.Resources,
	broadcaster *events.Broadcaster,
	m *metrics.Metrics,
	idem *IdempotencyGuard,
	orchestratorCfg forecast.Config,
	defaultCounts forecast.AgentCounts,
	defaultClass models.ForecasterClass,
	tradingInterval time.Duration,
) *SessionService {
	return &SessionService{
		res:             res,
		broadcaster:     broadcaster,
		metrics:         m,
		idem:            idem,
		orchestratorCfg: orchestratorCfg,
		defaultCounts:   defaultCounts,
		defaultClass:    defaultClass,
		tradingInterval: tradingInterval,
		schedulers:      make(map[string]*trading.Scheduler),
	}
}

// CreateForecast validates req, de-duplicates against an existing in-window
// session for the same question_text (spec §9), creates the Session row,
// and starts the orchestrator in the background. It returns as soon as the
// Session row exists; callers poll GET /api/forecasts/{id} for progress.
func (s *SessionService) CreateForecast(ctx context.Context, req CreateForecastRequest) (*models.Session, error) {
	if err := validateCreateForecastRequest(req); err != nil {
		return nil, err
	}

	if existing, err := s.findRecentSession(ctx, req.QuestionText); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	acquired, err := s.idem.TryAcquire(ctx, req.QuestionText)
	if err != nil {
		slog.Warn("services: idempotency guard unavailable, proceeding without it", "error", err)
		acquired = true
	}
	if !acquired {
		if existing, err := s.findRecentSession(ctx, req.QuestionText); err == nil && existing != nil {
			return existing, nil
		}
		return nil, fmt.Errorf("%w: a session for this question is already being created", ErrAlreadyExists)
	}

	sess := &models.Session{
		QuestionText: req.QuestionText,
		QuestionType: req.QuestionType,
		Status:       models.SessionStatusRunning,
		CurrentPhase: models.PhaseDiscovery,
	}
	if err := s.res.Store.CreateSession(ctx, sess); err != nil {
		_ = s.idem.Release(ctx, req.QuestionText)
		return nil, fmt.Errorf("services: create session: %w", err)
	}

	s.publishSessionEvent(sess)

	counts := s.resolveCounts(req.AgentCounts)
	classes := s.resolveClasses(req)

	go s.runForecast(sess.ID, req.QuestionText, counts, classes, req.StartTrading, req.TradingInterval)

	return sess, nil
}

func (s *SessionService) findRecentSession(ctx context.Context, questionText string) (*models.Session, error) {
	existing, err := s.res.Store.FindRecentSessionByQuestion(ctx, questionText, dedupWindow)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("services: dedup lookup: %w", err)
	}
	return existing, nil
}

func (s *SessionService) resolveCounts(override *forecast.AgentCounts) forecast.AgentCounts {
	if override != nil {
		return *override
	}
	return s.defaultCounts
}

func (s *SessionService) resolveClasses(req CreateForecastRequest) []models.ForecasterClass {
	if req.RunAllForecasters {
		return models.AllForecasterClasses
	}
	if req.ForecasterClass != nil {
		return []models.ForecasterClass{*req.ForecasterClass}
	}
	return []models.ForecasterClass{s.defaultClass}
}

func (s *SessionService) runForecast(sessionID, questionText string, counts forecast.AgentCounts, classes []models.ForecasterClass, startTrading bool, tradingInterval time.Duration) {
	defer func() { _ = s.idem.Release(context.Background(), questionText) }()

	started := time.Now()
	orch := forecast.NewOrchestrator(s.res, s.orchestratorCfg)
	err := orch.RunSession(context.Background(), forecast.RunParams{
		SessionID:         sessionID,
		QuestionText:      questionText,
		Counts:            counts,
		ForecasterClasses: classes,
	})

	status := models.SessionStatusCompleted
	if err != nil {
		status = models.SessionStatusFailed
		slog.Error("services: forecast run failed", "session_id", sessionID, "error", err)
	}
	if s.metrics != nil {
		s.metrics.RecordSession(string(status), time.Since(started).Seconds())
	}
	if sess, getErr := s.res.Store.GetSession(context.Background(), sessionID); getErr == nil {
		s.publishSessionEvent(sess)
	}

	if startTrading && err == nil {
		if startErr := s.StartTrading(context.Background(), sessionID, tradingInterval); startErr != nil {
			slog.Error("services: auto-start trading failed", "session_id", sessionID, "error", startErr)
		}
	}
}

func (s *SessionService) publishSessionEvent(sess *models.Session) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.Publish(events.ChannelSessions, events.SessionEvent{
		Type:      "session.updated",
		SessionID: sess.ID,
		Status:    string(sess.Status),
		Phase:     string(sess.CurrentPhase),
		Timestamp: sess.CreatedAt.Format(time.RFC3339),
	})
}

// SessionDetail is GET /api/forecasts/{id}'s payload (spec §6: "session +
// forecaster_responses + factors + agent_logs").
type SessionDetail struct {
	Session             models.Session              `json:"session"`
	ForecasterResponses []models.ForecasterResponse `json:"forecaster_responses"`
	Factors             []models.Factor             `json:"factors"`
	AgentLogs           []models.AgentLog           `json:"agent_logs"`
}

// GetForecast loads a session plus its related rows.
func (s *SessionService) GetForecast(ctx context.Context, sessionID string) (*SessionDetail, error) {
	sess, err := s.res.Store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("services: get session: %w", err)
	}
	responses, err := s.res.Store.ListForecasterResponses(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("services: list forecaster responses: %w", err)
	}
	factors, err := s.res.Store.ListFactors(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("services: list factors: %w", err)
	}
	logs, err := s.res.Store.ListAgentLogs(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("services: list agent logs: %w", err)
	}
	return &SessionDetail{
		Session:             *sess,
		ForecasterResponses: responses,
		Factors:             factors,
		AgentLogs:           logs,
	}, nil
}

// ForecastListFilter is GET /api/forecasts's query params.
type ForecastListFilter struct {
	QuestionText string
	Limit        int
	Offset       int
}

// ListForecasts lists sessions with pagination (spec §6 GET /api/forecasts).
func (s *SessionService) ListForecasts(ctx context.Context, f ForecastListFilter) ([]models.Session, int, error) {
	return s.res.Store.ListSessions(ctx, store.SessionFilter{
		QuestionText: f.QuestionText,
		Limit:        f.Limit,
		Offset:       f.Offset,
	})
}

// StartTrading launches the round scheduler for sessionID (spec §6 implicit
// trading start — a session's trading_active flips true once the forecasting
// pipeline's Phase 4 output seeds the Fundamental traders). No-op if a
// scheduler for sessionID is already running.
func (s *SessionService) StartTrading(ctx context.Context, sessionID string, interval time.Duration) error {
	s.mu.Lock()
	if _, exists := s.schedulers[sessionID]; exists {
		s.mu.Unlock()
		return nil
	}
	if interval <= 0 {
		interval = s.tradingInterval
	}
	sched := trading.NewScheduler(s.res, sessionID, interval)
	s.schedulers[sessionID] = sched
	s.mu.Unlock()

	if err := s.res.Store.SetTradingActive(ctx, sessionID, true); err != nil {
		return fmt.Errorf("services: set trading active: %w", err)
	}
	if s.metrics != nil {
		s.metrics.SetActiveTradingRuns(s.activeSchedulerCount())
	}

	go func() {
		if err := sched.Run(context.Background()); err != nil {
			slog.Error("services: trading scheduler exited with error", "session_id", sessionID, "error", err)
		}
		s.mu.Lock()
		delete(s.schedulers, sessionID)
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.SetActiveTradingRuns(s.activeSchedulerCount())
		}
	}()

	return nil
}

func (s *SessionService) activeSchedulerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.schedulers)
}

// StopTrading halts sessionID's round scheduler after its in-flight round
// finishes (spec §6 POST /api/sessions/{id}/stop).
func (s *SessionService) StopTrading(sessionID string) error {
	sched, ok := s.lookupScheduler(sessionID)
	if !ok {
		return ErrNotFound
	}
	sched.Stop()
	return nil
}

// CompleteTrading stops sessionID's scheduler and marks trading terminal
// (spec §6 POST /api/sessions/{id}/complete).
func (s *SessionService) CompleteTrading(ctx context.Context, sessionID string) error {
	sched, ok := s.lookupScheduler(sessionID)
	if !ok {
		return ErrNotFound
	}
	return sched.Complete(ctx)
}

// TradingStatus reports sessionID's scheduler status (spec §6 GET
// /api/sessions/{id}/status).
func (s *SessionService) TradingStatus(sessionID string) (trading.Status, error) {
	sched, ok := s.lookupScheduler(sessionID)
	if !ok {
		return trading.Status{}, ErrNotFound
	}
	return sched.GetStatus(), nil
}

func (s *SessionService) lookupScheduler(sessionID string) (*trading.Scheduler, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedulers[sessionID]
	return sched, ok
}

// Orderbook builds the aggregated orderbook read model for sessionID (spec
// §6 GET /api/sessions/{id}/orderbook).
func (s *SessionService) Orderbook(ctx context.Context, sessionID string) (Orderbook, error) {
	return NewOrderbookService(s.res.Store).Get(ctx, sessionID)
}

func validateCreateForecastRequest(req CreateForecastRequest) error {
	if req.QuestionText == "" {
		return NewValidationError("question_text", "required")
	}
	switch req.QuestionType {
	case models.QuestionTypeBinary, models.QuestionTypeNumeric, models.QuestionTypeCategorical:
	default:
		return NewValidationError("question_type", "must be one of binary, numeric, categorical")
	}
	if req.ForecasterClass != nil && !models.ValidForecasterClass(*req.ForecasterClass) {
		return NewValidationError("forecaster_class", "not a recognized forecaster class")
	}
	return nil
}
