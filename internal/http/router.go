package httpapi

import (
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sabalioglu/ai-ugc/internal/http/handlers"
	"github.com/sabalioglu/ai-ugc/internal/middleware"
)

type RouterOptions struct {
	JWTSecret       string
	CORSOrigins     []string
	RateLimitPerMin int
	// SubmitLimiter counts submissions; Fallback is used when it errors.
	SubmitLimiter middleware.Limiter
	Fallback      middleware.Limiter
	// StaticDir, when set, serves locally stored uploads under /static/.
	StaticDir string
	Logger    zerolog.Logger
}

func NewRouter(app *handlers.App, opts RouterOptions) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
		middleware.CORS(opts.CORSOrigins),
	)

	r.Get("/v1/healthz", app.Health)
	r.Handle("/metrics", promhttp.Handler())
	if opts.StaticDir != "" {
		r.Handle("/static/*", stdhttp.StripPrefix("/static/", stdhttp.FileServer(stdhttp.Dir(opts.StaticDir))))
	}

	limiter := opts.SubmitLimiter
	if limiter == nil {
		limiter = middleware.NewMemoryLimiter(opts.RateLimitPerMin, time.Minute)
	}

	r.Route("/v1/jobs", func(r chi.Router) {
		r.Use(middleware.AuthJWT(opts.JWTSecret))
		r.With(middleware.RateLimit(opts.RateLimitPerMin, limiter, opts.Fallback, opts.Logger)).Post("/", app.SubmitJob)
		r.Get("/", app.ListJobs)
		r.Get("/{job_id}", app.GetJob)
		r.Delete("/{job_id}", app.DeleteJob)
		r.Get("/{job_id}/events", app.JobEvents)
	})

	return r
}
