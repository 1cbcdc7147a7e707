package forecast

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sibylline/forecastmarket/pkg/models"
	"github.com/sibylline/forecastmarket/pkg/store"
)

// workerFunc is one unit of work dispatched within a phase. It returns the
// worker's parsed output, token usage, and an error if the worker failed
// (timeout, transport exhaustion, or schema violation after retries).
type workerFunc func(ctx context.Context) (output map[string]interface{}, promptTokens, completionTokens int64, err error)

// workerOutcome is the barrier-collected result of one dispatched worker,
// carrying enough to support spec §5's "consumed in a deterministic
// canonical order (sorted by agent name then completion timestamp)" rule.
type workerOutcome struct {
	AgentName   string
	Output      map[string]interface{}
	Err         error
	CompletedAt time.Time
}

// dispatcher fans workers for one phase out in parallel, writing the
// AgentLog rows that make up the progress feed, enforces each worker's hard
// timeout, and bounds concurrency to a configurable ceiling (spec §5
// back-pressure).
type dispatcher struct {
	st        store.Store
	sessionID string
	phase     models.Phase
	timeout   time.Duration
	sem       chan struct{}
}

func newDispatcher(st store.Store, sessionID string, phase models.Phase, timeout time.Duration, ceiling int) *dispatcher {
	if ceiling <= 0 {
		ceiling = 1 << 20 // effectively unbounded; caller sizes workers list itself
	}
	return &dispatcher{
		st:        st,
		sessionID: sessionID,
		phase:     phase,
		timeout:   timeout,
		sem:       make(chan struct{}, ceiling),
	}
}

// dispatch runs one named worker per entry in names, honoring ctx
// cancellation (session-wide failure propagation, spec §5) and the
// dispatcher's concurrency ceiling. It blocks until every worker reaches a
// terminal state (barrier), then returns outcomes in canonical order.
func (d *dispatcher) dispatch(ctx context.Context, names []string, work func(ctx context.Context, agentName string) workerFunc) []workerOutcome {
	var wg sync.WaitGroup
	outcomes := make([]workerOutcome, len(names))

	for i, name := range names {
		wg.Add(1)
		go func(i int, agentName string) {
			defer wg.Done()
			outcomes[i] = d.runOne(ctx, agentName, work(ctx, agentName))
		}(i, name)
	}
	wg.Wait()

	sort.SliceStable(outcomes, func(i, j int) bool {
		if outcomes[i].AgentName != outcomes[j].AgentName {
			return outcomes[i].AgentName < outcomes[j].AgentName
		}
		return outcomes[i].CompletedAt.Before(outcomes[j].CompletedAt)
	})
	return outcomes
}

func (d *dispatcher) runOne(ctx context.Context, agentName string, fn workerFunc) workerOutcome {
	select {
	case d.sem <- struct{}{}:
		defer func() { <-d.sem }()
	case <-ctx.Done():
		return workerOutcome{AgentName: agentName, Err: ctx.Err(), CompletedAt: time.Now()}
	}

	log := &models.AgentLog{
		SessionID: d.sessionID,
		AgentName: agentName,
		Phase:     d.phase,
		Status:    models.WorkerStatusRunning,
	}
	if err := d.st.CreateAgentLog(ctx, log); err != nil {
		return workerOutcome{AgentName: agentName, Err: err, CompletedAt: time.Now()}
	}

	workerCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	output, promptTokens, completionTokens, err := fn(workerCtx)
	completedAt := time.Now()

	status := models.WorkerStatusCompleted
	errMsg := ""
	if err != nil {
		status = models.WorkerStatusFailed
		errMsg = reasonFor(workerCtx, err)
	}

	totalTokens := promptTokens + completionTokens
	if compErr := d.st.CompleteAgentLog(ctx, log.ID, status, nil, errMsg, totalTokens, completedAt); compErr != nil {
		if err == nil {
			err = compErr
		}
	}
	if totalTokens > 0 {
		_ = d.st.AddSessionTokens(ctx, d.sessionID, totalTokens)
	}

	return workerOutcome{AgentName: agentName, Output: output, Err: err, CompletedAt: completedAt}
}

// reasonFor labels a worker failure's AgentLog.error_message with the
// cause spec §5 names explicitly: "timeout" or "cancelled".
func reasonFor(ctx context.Context, err error) string {
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return "timeout"
	case context.Canceled:
		return "cancelled"
	default:
		return err.Error()
	}
}

// successes filters outcomes to those that produced output.
func successes(outcomes []workerOutcome) []workerOutcome {
	out := make([]workerOutcome, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Err == nil {
			out = append(out, o)
		}
	}
	return out
}
