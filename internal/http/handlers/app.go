package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/sabalioglu/ai-ugc/internal/domain"
	"github.com/sabalioglu/ai-ugc/internal/jobs"
	"github.com/sabalioglu/ai-ugc/internal/middleware"
	"github.com/sabalioglu/ai-ugc/internal/statussync"
)

// Watcher streams snapshots of one job.
type Watcher interface {
	Watch(ctx context.Context, jobID string, emit func(statussync.Snapshot) error) error
}

type App struct {
	Jobs   *jobs.Service
	Sync   Watcher
	Logger zerolog.Logger
}

func NewApp(svc *jobs.Service, sync Watcher, logger zerolog.Logger) *App {
	return &App{Jobs: svc, Sync: sync, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

// fail maps the error taxonomy onto HTTP statuses. Internal details are
// logged, never returned.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		a.error(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, domain.ErrInsufficientFunds):
		a.error(w, http.StatusPaymentRequired, "insufficient_funds", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "job not found")
	case errors.Is(err, domain.ErrConflict):
		a.error(w, http.StatusConflict, "conflict", err.Error())
	default:
		a.Logger.Error().Err(err).
			Str("request_id", middleware.RequestIDFromContext(r.Context())).
			Msgf("%s %s failed", r.Method, r.URL.Path)
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}
