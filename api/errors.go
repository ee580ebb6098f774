package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"tasklog-api/domain"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(c echo.Context, status int, msg string) error {
	return c.JSON(status, errorResponse{Error: msg})
}

// statusForError maps service errors to HTTP statuses. Unknown errors are
// reported as internal without their text.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, domain.ErrNotFound.Error()
	case errors.Is(err, domain.ErrBadInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrInternal):
		return http.StatusInternalServerError, err.Error()
	default:
		return http.StatusInternalServerError, domain.ErrInternal.Error()
	}
}

func writeServiceError(c echo.Context, err error) error {
	status, msg := statusForError(err)
	metricsFrom(c).SetErrorStage("service")
	return writeError(c, status, msg)
}
