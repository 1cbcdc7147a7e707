package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sibylline/forecastmarket/pkg/forecast"
	"github.com/sibylline/forecastmarket/pkg/services"
)

// createForecastHandler handles POST /api/forecasts.
func (s *Server) createForecastHandler(c *gin.Context) {
	var body createForecastRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	req := toCreateForecastRequest(body, false, 0)
	sess, err := s.sessions.CreateForecast(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// getForecastHandler handles GET /api/forecasts/:id.
func (s *Server) getForecastHandler(c *gin.Context) {
	detail, err := s.sessions.GetForecast(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// listForecastsHandler handles GET /api/forecasts?limit&offset&question_text.
func (s *Server) listForecastsHandler(c *gin.Context) {
	f := services.ForecastListFilter{
		QuestionText: c.Query("question_text"),
		Limit:        atoiDefault(c.Query("limit"), 25),
		Offset:       atoiDefault(c.Query("offset"), 0),
	}
	sessions, total, err := s.sessions.ListForecasts(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, listForecastsResponse{Forecasts: sessions, Total: total})
}

// runSessionHandler handles POST /api/sessions/run: creates a forecast and
// implicitly opts the resulting session into trading once the pipeline
// completes (spec §6 — trading_interval_seconds overrides the default
// round period).
func (s *Server) runSessionHandler(c *gin.Context) {
	var body runSessionRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	interval := time.Duration(body.TradingIntervalSeconds) * time.Second
	req := toCreateForecastRequest(body.createForecastRequestBody, true, interval)
	sess, err := s.sessions.CreateForecast(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, runSessionResponse{SessionID: sess.ID})
}

// sessionStatusHandler handles GET /api/sessions/:id/status.
func (s *Server) sessionStatusHandler(c *gin.Context) {
	status, err := s.sessions.TradingStatus(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, statusResponse{Running: status.Running, Phase: status.Phase, RoundNumber: status.RoundNumber})
}

// stopSessionHandler handles POST /api/sessions/:id/stop.
func (s *Server) stopSessionHandler(c *gin.Context) {
	if err := s.sessions.StopTrading(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stopResponse{Stopped: true})
}

// completeSessionHandler handles POST /api/sessions/:id/complete.
func (s *Server) completeSessionHandler(c *gin.Context) {
	if err := s.sessions.CompleteTrading(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, completeResponse{Completed: true})
}

// orderbookHandler handles GET /api/sessions/:id/orderbook.
func (s *Server) orderbookHandler(c *gin.Context) {
	ob, err := s.sessions.Orderbook(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ob)
}

func toCreateForecastRequest(body createForecastRequestBody, startTrading bool, tradingInterval time.Duration) services.CreateForecastRequest {
	req := services.CreateForecastRequest{
		QuestionText:      body.QuestionText,
		QuestionType:      body.QuestionType,
		ForecasterClass:   body.ForecasterClass,
		RunAllForecasters: body.RunAllForecasters,
		StartTrading:      startTrading,
		TradingInterval:   tradingInterval,
	}
	if body.AgentCounts != nil {
		counts := forecast.AgentCounts{
			Discovery:  body.AgentCounts.Discovery,
			Validation: body.AgentCounts.Validation,
			Historical: body.AgentCounts.Historical,
			Current:    body.AgentCounts.Current,
			Synthesis:  body.AgentCounts.Synthesis,
		}
		req.AgentCounts = &counts
	}
	return req
}

func atoiDefault(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}
