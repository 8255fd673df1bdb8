package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/iago/lead-intel/internal/http/handlers"
	"github.com/iago/lead-intel/internal/http/middleware"
)

type RouterDependencies struct {
	API            *handlers.API
	Logger         zerolog.Logger
	AuthToken      string
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
}

func NewRouter(deps RouterDependencies) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Trace(deps.Logger))
	router.Use(chimw.Recoverer)
	router.Use(middleware.CORS(middleware.CORSConfig{AllowedOrigins: deps.CORSOrigins}))
	router.Use(middleware.RateLimit(deps.RateLimitRPS, deps.RateLimitBurst))
	router.Use(middleware.Auth(deps.AuthToken))

	router.Get("/healthz", deps.API.Health)
	router.Handle("/metrics", promhttp.Handler())

	router.Route("/v1", func(r chi.Router) {
		r.Route("/research", func(r chi.Router) {
			r.Post("/", deps.API.SubmitResearch)
			r.Get("/{jobID}", deps.API.JobStatus)
			r.Post("/{jobID}/retry-analysis", deps.API.RetryAnalysis)
			r.Post("/{jobID}/retry", deps.API.Retry)
			r.Post("/{jobID}/cancel", deps.API.Cancel)
			r.Get("/{jobID}/events", deps.API.JobEvents)
		})
		r.Post("/action-items/{itemID}/convert", deps.API.ConvertActionItem)
		r.Post("/lead-groups/{groupID}/score", deps.API.ScoreLeadGroup)
		r.Post("/lead-groups/{groupID}/promote", deps.API.PromoteLeadGroup)
		r.Post("/leads/{leadID}/promote", deps.API.PromoteLead)
		r.Put("/users/{userID}/target-profile", deps.API.SaveTargetProfile)
	})

	return router
}
