package forecast

import "github.com/sibylline/forecastmarket/pkg/models"

// personaPrompt returns the personality-modulated system prompt fragment
// for a forecaster_class (spec §4.2 Phase 4, GLOSSARY "Forecaster class").
func personaPrompt(class models.ForecasterClass) string {
	switch class {
	case models.ForecasterConservative:
		return "You are a conservative forecaster: weigh base rates and historical precedent heavily, " +
			"resist recency bias, and prefer probabilities close to the unconditional base rate unless " +
			"the evidence is overwhelming."
	case models.ForecasterMomentum:
		return "You are a momentum-driven forecaster: weight recent trends and current evidence most heavily, " +
			"and be willing to move your probability substantially toward whichever direction recent factors point."
	case models.ForecasterHistorical:
		return "You are a historically-grounded forecaster: anchor primarily on analogous past events and " +
			"long-run base rates, treating current short-term evidence as a secondary adjustment."
	case models.ForecasterRealtime:
		return "You are a realtime-evidence forecaster: prioritize the most current, freshly-researched " +
			"evidence over historical base rates, since the situation is evolving quickly."
	case models.ForecasterBalanced:
		return "You are a balanced forecaster: weigh historical base rates and current evidence roughly " +
			"equally, and explicitly note where they disagree."
	default:
		return "You are a forecaster: weigh all available evidence and produce a well-calibrated probability."
	}
}
