package forecast

import "time"

// AgentCounts configures how many workers each phase launches (spec §6
// "Agent-counts configuration").
type AgentCounts struct {
	Discovery  int // phase_1_discovery, default 10
	Validation int // phase_2_validation, fixed 2 (Validator + RatingConsensus)
	Historical int // phase_3_historical
	Current    int // phase_3_current
	Synthesis  int // phase_4_synthesis, fixed 1 per requested forecaster_class
}

// DefaultAgentCounts matches spec §6's stated defaults. The legacy combined
// phase_3_research count is not handled here; ResolveResearchSplit applies it.
func DefaultAgentCounts() AgentCounts {
	return AgentCounts{
		Discovery:  10,
		Validation: 2,
		Historical: 3,
		Current:    3,
		Synthesis:  1,
	}
}

// ResolveResearchSplit applies the legacy phase_3_research field: if set and
// Historical/Current are both zero, split it 50/50 (spec §6).
func (c AgentCounts) ResolveResearchSplit(legacyResearch int) AgentCounts {
	if legacyResearch > 0 && c.Historical == 0 && c.Current == 0 {
		c.Historical = (legacyResearch + 1) / 2
		c.Current = legacyResearch / 2
	}
	return c
}

// Config holds orchestrator-wide tunables.
type Config struct {
	// AgentTimeout bounds a single worker's LLM call (spec §5, default 300s).
	AgentTimeout time.Duration
	// MaxConcurrentLLM bounds the number of in-flight LLM requests across a
	// phase (spec §5 back-pressure; 0 means "default to the phase's worker
	// count", i.e. effectively unbounded for that phase).
	MaxConcurrentLLM int
	// MaxFactors is K in spec §4.2 Phase 2 ("top K=5").
	MaxFactors int
}

// DefaultConfig returns spec-mandated defaults.
func DefaultConfig() Config {
	return Config{
		AgentTimeout:     300 * time.Second,
		MaxConcurrentLLM: 0,
		MaxFactors:       5,
	}
}
