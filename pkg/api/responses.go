package api

import "github.com/sibylline/forecastmarket/pkg/trading"

// HealthResponse is GET /health's body.
type HealthResponse struct {
	Status string `json:"status"`
}

// listForecastsResponse is GET /api/forecasts' body (spec §6:
// "{forecasts:[…], total}").
type listForecastsResponse struct {
	Forecasts interface{} `json:"forecasts"`
	Total     int         `json:"total"`
}

// runSessionResponse is POST /api/sessions/run's body (spec §6: "{session_id}").
type runSessionResponse struct {
	SessionID string `json:"session_id"`
}

// statusResponse is GET /api/sessions/{id}/status's body (spec §6:
// "{running, phase, round_number}").
type statusResponse struct {
	Running     bool                  `json:"running"`
	Phase       trading.SchedulerPhase `json:"phase"`
	RoundNumber int                   `json:"round_number"`
}

// stopResponse is POST /api/sessions/{id}/stop's body (spec §6: "{stopped:true}").
type stopResponse struct {
	Stopped bool `json:"stopped"`
}

// completeResponse is POST /api/sessions/{id}/complete's body (spec §6:
// "{completed:true}").
type completeResponse struct {
	Completed bool `json:"completed"`
}
