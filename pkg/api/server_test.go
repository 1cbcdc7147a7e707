package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sibylline/forecastmarket/pkg/forecast"
	"github.com/sibylline/forecastmarket/pkg/models"
	"github.com/sibylline/forecastmarket/pkg/resources"
	"github.com/sibylline/forecastmarket/pkg/services"
	"github.com/sibylline/forecastmarket/pkg/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) (*Server, store.Store) {
	t.Helper()
	st := store.NewMemoryStore()
	res := resources.Resources{Store: st, LLM: nil}
	svc := services.NewSessionService(
		res,
		nil,
		nil,
		services.NewIdempotencyGuard(nil),
		forecast.DefaultConfig(),
		forecast.DefaultAgentCounts(),
		models.ForecasterBalanced,
		30*time.Second,
	)
	return NewServer(svc, nil, nil), st
}

func doJSON(t *testing.T, engine http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func TestHealthHandler(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s.engine, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"healthy"`)
}

func TestCreateForecastHandler_ValidationError(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s.engine, http.MethodPost, "/api/forecasts", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateForecastHandler_InvalidQuestionType(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s.engine, http.MethodPost, "/api/forecasts", map[string]string{
		"question_text": "Will X happen?",
		"question_type": "not-a-type",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetForecastHandler_NotFound(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s.engine, http.MethodGet, "/api/forecasts/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListForecastsHandler_Empty(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s.engine, http.MethodGet, "/api/forecasts?limit=10&offset=0", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body listForecastsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 0, body.Total)
}

func TestSessionStatusHandler_NotFound(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s.engine, http.MethodGet, "/api/sessions/does-not-exist/status", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStopSessionHandler_NotFound(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s.engine, http.MethodPost, "/api/sessions/does-not-exist/stop", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOrderbookHandler_EmptyBook(t *testing.T) {
	s, st := newTestServer(t)
	sess := &models.Session{QuestionText: "q", QuestionType: models.QuestionTypeBinary}
	require.NoError(t, st.CreateSession(context.Background(), sess))

	rec := doJSON(t, s.engine, http.MethodGet, "/api/sessions/"+sess.ID+"/orderbook", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"bids":[]`)
}
