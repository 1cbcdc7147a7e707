package forecast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sibylline/forecastmarket/pkg/llm"
	"github.com/sibylline/forecastmarket/pkg/models"
)

// FactorCandidate is a phase-1 discovery proposal, not yet persisted: it
// survives only until phase 2 deduplicates and scores it into a Factor row
// (spec §9 "tagged variants, not a single union" — discovery output is its
// own typed record, distinct from the Factor entity it eventually becomes).
type FactorCandidate struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

type discoveryOutput struct {
	Factors []FactorCandidate `json:"factors" jsonschema:"required,maxItems=5"`
}

var discoverySchema = mustSchema(&discoveryOutput{})

// runDiscovery is phase 1 (spec §4.2): N_d workers in parallel, each
// proposing up to 5 factor candidates. Non-fatal per-worker failure; the
// phase proceeds as long as at least one worker succeeded (quorum rule).
func (o *Orchestrator) runDiscovery(ctx context.Context, sessionID, question string, n int) ([]FactorCandidate, error) {
	names := agentNames("discovery", n)
	d := newDispatcher(o.res.Store, sessionID, models.PhaseDiscovery, o.cfg.AgentTimeout, o.ceilingFor(n))

	outcomes := d.dispatch(ctx, names, func(ctx context.Context, agentName string) workerFunc {
		return func(ctx context.Context) (map[string]interface{}, int64, int64, error) {
			return o.callLLM(ctx, discoveryPrompt(question), question, discoverySchema, false)
		}
	})

	ok := successes(outcomes)
	if len(ok) == 0 {
		return nil, fmt.Errorf("forecast: phase 1 discovery: zero workers succeeded out of %d", n)
	}

	var candidates []FactorCandidate
	for _, outcome := range ok {
		var parsed discoveryOutput
		if err := remarshal(outcome.Output, &parsed); err != nil {
			continue
		}
		if len(parsed.Factors) > 5 {
			parsed.Factors = parsed.Factors[:5]
		}
		candidates = append(candidates, parsed.Factors...)
	}
	return candidates, nil
}

func discoveryPrompt(question string) string {
	return "You are a forecasting research assistant. Given a forecasting question, propose up to 5 distinct " +
		"factors (drivers, risks, or base rates) relevant to answering it. For each factor give a short name, " +
		"a one-sentence description, and a category (e.g. \"economic\", \"political\", \"technological\"). " +
		"Question: " + question
}

// agentNames produces deterministic, distinguishable worker identities for
// AgentLog rows (e.g. "discovery-1", "discovery-2", ...).
func agentNames(prefix string, n int) []string {
	names := make([]string, n)
	for i := 0; i < n; i++ {
		names[i] = fmt.Sprintf("%s-%d", prefix, i+1)
	}
	return names
}

// remarshal round-trips a decoded JSON object into a typed struct, the
// cheapest way to go from llm.Result.Object's map[string]interface{} to the
// phase's tagged variant without hand-written field mapping.
func remarshal(obj map[string]interface{}, out any) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func mustSchema(v any) json.RawMessage {
	raw, err := llm.SchemaFor(v)
	if err != nil {
		panic(fmt.Sprintf("forecast: invalid schema for %T: %v", v, err))
	}
	return raw
}
