package forecast

import (
	"context"
	"fmt"
	"strings"

	"github.com/sibylline/forecastmarket/pkg/models"
)

type synthesisOutput struct {
	PredictionProbability float64  `json:"prediction_probability" jsonschema:"required"`
	Confidence            float64  `json:"confidence" jsonschema:"required"`
	Reasoning             string   `json:"reasoning" jsonschema:"required"`
	KeyFactors            []string `json:"key_factors" jsonschema:"required"`
}

var synthesisSchema = mustSchema(&synthesisOutput{})

// runSynthesis is phase 4 (spec §4.2): one synthesis worker per requested
// forecaster_class, each producing a ForecasterResponse. Runs all requested
// classes in parallel; per-class failure does not abort the others.
func (o *Orchestrator) runSynthesis(ctx context.Context, sessionID, question string, factors []models.Factor, classes []models.ForecasterClass) ([]models.ForecasterResponse, error) {
	names := make([]string, len(classes))
	for i, c := range classes {
		names[i] = "synthesis-" + string(c)
	}

	responseIDs := make(map[string]string, len(classes))
	for _, c := range classes {
		r := &models.ForecasterResponse{
			SessionID:       sessionID,
			ForecasterClass: c,
			Status:          models.WorkerStatusRunning,
		}
		if err := o.res.Store.CreateForecasterResponse(ctx, r); err != nil {
			continue // already exists for this (session, class): leave it; this class's worker still runs but its result is discarded
		}
		responseIDs["synthesis-"+string(c)] = r.ID
	}

	byName := make(map[string]models.ForecasterClass, len(classes))
	for _, c := range classes {
		byName["synthesis-"+string(c)] = c
	}

	d := newDispatcher(o.res.Store, sessionID, models.PhaseSynthesis, o.cfg.AgentTimeout, o.ceilingFor(len(names)))
	outcomes := d.dispatch(ctx, names, func(ctx context.Context, agentName string) workerFunc {
		class := byName[agentName]
		return func(ctx context.Context) (map[string]interface{}, int64, int64, error) {
			return o.callLLM(ctx, personaPrompt(class), synthesisPayload(question, factors), synthesisSchema, false)
		}
	})

	responses := make([]models.ForecasterResponse, 0, len(classes))
	for _, outcome := range outcomes {
		respID, ok := responseIDs[outcome.AgentName]
		if !ok {
			continue
		}
		class := byName[outcome.AgentName]
		if outcome.Err != nil {
			_ = o.res.Store.FailForecasterResponse(ctx, respID)
			continue
		}
		var parsed synthesisOutput
		if err := remarshal(outcome.Output, &parsed); err != nil {
			_ = o.res.Store.FailForecasterResponse(ctx, respID)
			continue
		}
		if err := o.res.Store.CompleteForecasterResponse(ctx, respID, parsed.PredictionProbability, parsed.Confidence, parsed.Reasoning, parsed.KeyFactors, nil); err != nil {
			continue
		}
		responses = append(responses, models.ForecasterResponse{
			ID:                    respID,
			SessionID:             sessionID,
			ForecasterClass:       class,
			PredictionProbability: &parsed.PredictionProbability,
			Confidence:            &parsed.Confidence,
			Reasoning:             parsed.Reasoning,
			KeyFactors:            parsed.KeyFactors,
			Status:                models.WorkerStatusCompleted,
		})
	}
	return responses, nil
}

func synthesisPayload(question string, factors []models.Factor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nResearched factors:\n", question)
	for _, f := range factors {
		fmt.Fprintf(&b, "- %s (importance %.1f/10): %s\n  Research: %s\n", f.Name, f.ImportanceScore, f.Description, f.ResearchSummary)
	}
	b.WriteString("\nProduce a prediction_probability in [0,1], a confidence in [0,1], a short reasoning, " +
		"and a list of key_factors (names drawn from the factors above) that most influenced your answer.")
	return b.String()
}
