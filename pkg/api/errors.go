package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sibylline/forecastmarket/pkg/services"
)

// errorBody is the JSON shape for every non-2xx response.
type errorBody struct {
	Error string `json:"error"`
}

// writeError maps a service-layer error to an HTTP status code and writes
// the JSON error body.
func writeError(c *gin.Context, err error) {
	var validErr *services.ValidationError
	switch {
	case errors.As(err, &validErr):
		c.JSON(http.StatusBadRequest, errorBody{Error: validErr.Error()})
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, errorBody{Error: "resource not found"})
	case errors.Is(err, services.ErrAlreadyExists):
		c.JSON(http.StatusConflict, errorBody{Error: "resource already exists"})
	default:
		slog.Error("unexpected service error", "error", err)
		c.JSON(http.StatusServiceUnavailable, errorBody{Error: "internal server error"})
	}
}
