package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sabalioglu/ai-ugc/internal/domain"
	"github.com/sabalioglu/ai-ugc/internal/jobs"
	"github.com/sabalioglu/ai-ugc/internal/statussync"
)

// JobEvents streams the job as Server-Sent Events until it completes or fails.
func (a *App) JobEvents(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if _, err := a.Jobs.Get(r.Context(), a.currentUserID(r), jobID); err != nil {
		a.fail(w, r, err)
		return
	}

	rc := http.NewResponseController(w)
	// The server write timeout would cut long renders short.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		a.Logger.Warn().Err(err).Msg("events: response does not support flushing")
		return
	}

	err := a.Sync.Watch(r.Context(), jobID, func(s statussync.Snapshot) error {
		view := jobs.NewView(s.Job)
		view.Mode = string(s.Mode)
		view.Overdue = s.Overdue
		return writeEvent(w, rc, "status", view)
	})
	switch {
	case err == nil:
		_ = writeEvent(w, rc, "end", map[string]string{"job_id": jobID})
	case errors.Is(err, domain.ErrNotFound):
		_ = writeEvent(w, rc, "deleted", map[string]string{"job_id": jobID})
	default:
		a.Logger.Warn().Err(err).Str("job_id", jobID).Msg("events: stream ended")
	}
}

func writeEvent(w http.ResponseWriter, rc *http.ResponseController, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	return rc.Flush()
}
