package forecast

import (
	"context"
	"fmt"
	"strings"

	"github.com/sibylline/forecastmarket/pkg/models"
)

type researchOutput struct {
	Summary string `json:"summary" jsonschema:"required"`
}

var researchSchema = mustSchema(&researchOutput{})

// runResearch is phase 3 (spec §4.2): for each surviving factor, N_h
// historical workers analyze base-rate/precedent and N_c current workers
// gather recent evidence with web search enabled. A factor survives if at
// least one of its assigned workers produced output; its research_summary
// is the concatenation of successful workers' summaries.
func (o *Orchestrator) runResearch(ctx context.Context, sessionID, question string, factors []models.Factor, nHistorical, nCurrent int) ([]models.Factor, error) {
	total := len(factors) * (nHistorical + nCurrent)
	d := newDispatcher(o.res.Store, sessionID, models.PhaseResearch, o.cfg.AgentTimeout, o.ceilingFor(total))

	type job struct {
		factorIdx  int
		agentName  string
		historical bool
	}
	jobs := make([]job, 0, total)
	names := make([]string, 0, total)
	for fi, f := range factors {
		slug := models.NormalizeFactorName(f.Name)
		for h := 1; h <= nHistorical; h++ {
			name := fmt.Sprintf("research-historical-%s-%d", slug, h)
			jobs = append(jobs, job{factorIdx: fi, agentName: name, historical: true})
			names = append(names, name)
		}
		for c := 1; c <= nCurrent; c++ {
			name := fmt.Sprintf("research-current-%s-%d", slug, c)
			jobs = append(jobs, job{factorIdx: fi, agentName: name, historical: false})
			names = append(names, name)
		}
	}
	byName := make(map[string]job, len(jobs))
	for _, j := range jobs {
		byName[j.agentName] = j
	}

	outcomes := d.dispatch(ctx, names, func(ctx context.Context, agentName string) workerFunc {
		j := byName[agentName]
		factor := factors[j.factorIdx]
		return func(ctx context.Context) (map[string]interface{}, int64, int64, error) {
			prompt := historicalResearchPrompt(factor)
			webSearch := false
			if !j.historical {
				prompt = currentResearchPrompt(factor)
				webSearch = true
			}
			return o.callLLM(ctx, prompt, question, researchSchema, webSearch)
		}
	})

	summariesByFactor := make(map[int][]string, len(factors))
	for _, outcome := range outcomes {
		j, ok := byName[outcome.AgentName]
		if !ok || outcome.Err != nil {
			continue
		}
		var parsed researchOutput
		if err := remarshal(outcome.Output, &parsed); err != nil || parsed.Summary == "" {
			continue
		}
		summariesByFactor[j.factorIdx] = append(summariesByFactor[j.factorIdx], parsed.Summary)
	}

	survivors := make([]models.Factor, 0, len(factors))
	for i, f := range factors {
		summaries := summariesByFactor[i]
		if len(summaries) == 0 {
			continue // excluded from phase 4 input, spec §4.2 "otherwise it is excluded"
		}
		f.ResearchSummary = strings.Join(summaries, "\n\n")
		if err := o.res.Store.UpdateFactorResearchSummary(ctx, f.ID, f.ResearchSummary); err != nil {
			continue
		}
		survivors = append(survivors, f)
	}
	return survivors, nil
}

func historicalResearchPrompt(f models.Factor) string {
	return fmt.Sprintf("Analyze the base rate and historical precedent for the forecasting factor %q (%s). "+
		"Summarize in 2-4 sentences what history suggests about this factor's typical behavior.", f.Name, f.Description)
}

func currentResearchPrompt(f models.Factor) string {
	return fmt.Sprintf("Search for recent evidence relevant to the forecasting factor %q (%s). Summarize in "+
		"2-4 sentences the most relevant current developments.", f.Name, f.Description)
}
