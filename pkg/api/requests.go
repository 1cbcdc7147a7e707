package api

import "github.com/sibylline/forecastmarket/pkg/models"

// createForecastRequestBody is POST /api/forecasts' body (spec §6).
type createForecastRequestBody struct {
	QuestionText      string                `json:"question_text" binding:"required"`
	QuestionType      models.QuestionType   `json:"question_type" binding:"required"`
	AgentCounts       *agentCountsBody      `json:"agent_counts,omitempty"`
	ForecasterClass   *models.ForecasterClass `json:"forecaster_class,omitempty"`
	RunAllForecasters bool                  `json:"run_all_forecasters,omitempty"`
}

// agentCountsBody lets a caller override per-phase worker counts.
type agentCountsBody struct {
	Discovery  int `json:"discovery"`
	Validation int `json:"validation"`
	Historical int `json:"historical"`
	Current    int `json:"current"`
	Synthesis  int `json:"synthesis"`
}

// runSessionRequestBody is POST /api/sessions/run's body (spec §6): same as
// createForecastRequestBody plus the trading round interval.
type runSessionRequestBody struct {
	createForecastRequestBody
	TradingIntervalSeconds int `json:"trading_interval_seconds,omitempty"`
}
