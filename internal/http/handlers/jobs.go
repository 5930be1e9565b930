package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sabalioglu/ai-ugc/internal/jobs"
	"github.com/sabalioglu/ai-ugc/internal/middleware"
)

// multipart overhead allowed on top of the image itself
const formSlack = 1 << 20

type submitResponse struct {
	JobID       string `json:"job_id"`
	Status      string `json:"status"`
	CreditsCost int    `json:"credits_cost"`
}

type listResponse struct {
	Jobs []jobs.View `json:"jobs"`
}

func (a *App) SubmitJob(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, jobs.MaxImageBytes+formSlack)
	if err := r.ParseMultipartForm(jobs.MaxImageBytes + formSlack); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.error(w, http.StatusRequestEntityTooLarge, "invalid_input", "upload too large")
			return
		}
		a.error(w, http.StatusBadRequest, "invalid_input", "expected multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	duration, err := strconv.Atoi(strings.TrimSpace(r.FormValue("duration")))
	if err != nil {
		a.error(w, http.StatusBadRequest, "invalid_input", "duration must be a number of seconds")
		return
	}
	image, header, err := formImage(r)
	if err != nil {
		a.error(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}

	job, err := a.Jobs.Submit(r.Context(), jobs.SubmitInput{
		UserID:             userID,
		UserEmail:          middleware.EmailFromContext(r.Context()),
		ProductName:        r.FormValue("product_name"),
		ProductDescription: r.FormValue("product_description"),
		TargetAudience:     r.FormValue("target_audience"),
		UGCStyle:           r.FormValue("ugc_style"),
		Platform:           r.FormValue("platform"),
		Duration:           duration,
		Image:              image,
		ImageContentType:   header.Header.Get("Content-Type"),
		ImageFilename:      header.Filename,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, submitResponse{JobID: job.JobID, Status: string(job.Status), CreditsCost: job.CreditsCost})
}

func formImage(r *http.Request) ([]byte, *multipart.FileHeader, error) {
	for _, field := range []string{"product_image", "image"} {
		f, header, err := r.FormFile(field)
		if errors.Is(err, http.ErrMissingFile) {
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read %s: %w", field, err)
		}
		defer f.Close()
		data, err := io.ReadAll(io.LimitReader(f, jobs.MaxImageBytes+1))
		if err != nil {
			return nil, nil, fmt.Errorf("read %s: %w", field, err)
		}
		return data, header, nil
	}
	return nil, nil, errors.New("product_image is required")
}

func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.Jobs.Get(r.Context(), a.currentUserID(r), chi.URLParam(r, "job_id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, jobs.NewView(job))
}

func (a *App) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			a.error(w, http.StatusBadRequest, "invalid_input", "limit must be a positive number")
			return
		}
		limit = n
	}
	list, err := a.Jobs.List(r.Context(), a.currentUserID(r), r.URL.Query().Get("status"), limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out := listResponse{Jobs: make([]jobs.View, 0, len(list))}
	for i := range list {
		out.Jobs = append(out.Jobs, jobs.NewView(&list[i]))
	}
	a.json(w, http.StatusOK, out)
}

func (a *App) DeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := a.Jobs.Delete(r.Context(), a.currentUserID(r), chi.URLParam(r, "job_id")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

