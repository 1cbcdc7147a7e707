package forecast

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sibylline/forecastmarket/pkg/models"
)

type validatorOutput struct {
	Factors []FactorCandidate `json:"factors" jsonschema:"required"`
}

var validatorSchema = mustSchema(&validatorOutput{})

type ratedFactor struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

type ratingOutput struct {
	Ratings []ratedFactor `json:"ratings" jsonschema:"required"`
}

var ratingSchema = mustSchema(&ratingOutput{})

// runValidation is phase 2 (spec §4.2, §9 "this spec adopts the 2-agent
// design"): Validator deduplicates candidates by normalized name (merging
// semantic near-duplicates via the LLM itself), then RatingConsensus scores
// and selects the top K. Runs its two workers sequentially, not in parallel,
// since RatingConsensus's input is Validator's output.
func (o *Orchestrator) runValidation(ctx context.Context, sessionID string, candidates []FactorCandidate, k int) ([]models.Factor, error) {
	d := newDispatcher(o.res.Store, sessionID, models.PhaseValidation, o.cfg.AgentTimeout, o.ceilingFor(2))

	validated, err := o.runValidator(ctx, d, candidates)
	if err != nil {
		return nil, err
	}
	if len(validated) == 0 {
		return nil, fmt.Errorf("forecast: phase 2 validation: validator produced zero factors")
	}

	top, err := o.runRatingConsensus(ctx, d, sessionID, validated, k)
	if err != nil {
		return nil, err
	}
	return top, nil
}

func (o *Orchestrator) runValidator(ctx context.Context, d *dispatcher, candidates []FactorCandidate) ([]FactorCandidate, error) {
	outcomes := d.dispatch(ctx, []string{"validator"}, func(ctx context.Context, agentName string) workerFunc {
		return func(ctx context.Context) (map[string]interface{}, int64, int64, error) {
			return o.callLLM(ctx, validatorPrompt(), candidatesPayload(candidates), validatorSchema, false)
		}
	})
	if outcomes[0].Err != nil {
		return localDedup(candidates), nil // fall back to cheap dedup, non-fatal
	}

	var parsed validatorOutput
	if err := remarshal(outcomes[0].Output, &parsed); err != nil {
		return localDedup(candidates), nil
	}
	return localDedup(parsed.Factors), nil
}

func (o *Orchestrator) runRatingConsensus(ctx context.Context, d *dispatcher, sessionID string, candidates []FactorCandidate, k int) ([]models.Factor, error) {
	outcomes := d.dispatch(ctx, []string{"rating_consensus"}, func(ctx context.Context, agentName string) workerFunc {
		return func(ctx context.Context) (map[string]interface{}, int64, int64, error) {
			return o.callLLM(ctx, ratingPrompt(), candidatesPayload(candidates), ratingSchema, false)
		}
	})

	scores := make(map[string]float64, len(candidates))
	if outcomes[0].Err == nil {
		var parsed ratingOutput
		if err := remarshal(outcomes[0].Output, &parsed); err == nil {
			for _, r := range parsed.Ratings {
				scores[models.NormalizeFactorName(r.Name)] = r.Score
			}
		}
	}

	type scored struct {
		candidate FactorCandidate
		score     float64
	}
	all := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		score, ok := scores[models.NormalizeFactorName(c.Name)]
		if !ok {
			score = 5.0 // neutral default when the consensus worker dropped a factor
		}
		all = append(all, scored{candidate: c, score: score})
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		return all[i].candidate.Name < all[j].candidate.Name
	})
	if len(all) > k {
		all = all[:k]
	}

	factors := make([]models.Factor, 0, len(all))
	for _, s := range all {
		f := &models.Factor{
			SessionID:       sessionID,
			Name:            s.candidate.Name,
			Description:     s.candidate.Description,
			Category:        s.candidate.Category,
			ImportanceScore: s.score,
		}
		if err := o.res.Store.CreateFactor(ctx, f); err != nil {
			continue // ErrAlreadyExists or transient store error: skip, not fatal to the phase
		}
		factors = append(factors, *f)
	}
	return factors, nil
}

// localDedup collapses exact normalized-name duplicates in the Validator's
// output, and is also the non-LLM fallback applied to the raw candidates if
// the Validator worker itself fails outright (transport/schema exhaustion).
// Among duplicates it keeps the first, replaced by a longer (more specific)
// description, mirroring the spec's "preferring the more specific
// description" merge rule for the degenerate case of literal duplicates.
func localDedup(candidates []FactorCandidate) []FactorCandidate {
	byName := make(map[string]FactorCandidate)
	order := make([]string, 0, len(candidates))
	for _, c := range candidates {
		key := models.NormalizeFactorName(c.Name)
		if existing, ok := byName[key]; !ok {
			byName[key] = c
			order = append(order, key)
		} else if len(c.Description) > len(existing.Description) {
			byName[key] = c
		}
	}
	out := make([]FactorCandidate, 0, len(order))
	for _, key := range order {
		out = append(out, byName[key])
	}
	return out
}

func candidatesPayload(candidates []FactorCandidate) string {
	var b strings.Builder
	for i, c := range candidates {
		fmt.Fprintf(&b, "%d. %s (%s): %s\n", i+1, c.Name, c.Category, c.Description)
	}
	return b.String()
}

func validatorPrompt() string {
	return "You are reviewing candidate forecasting factors submitted by multiple researchers. Merge " +
		"semantic near-duplicates (same underlying consideration phrased differently), preferring the more " +
		"specific description when merging. Return the deduplicated list."
}

func ratingPrompt() string {
	return "Score each of the following forecasting factors on its importance to the question, on a scale " +
		"of 0 to 10. Return one rating per factor, using the exact factor name."
}
