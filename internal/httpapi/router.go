package httpapi

import (
	"net/http"

	"matchd/internal/auth"
	"matchd/internal/config"
	"matchd/internal/engine"
	"matchd/internal/httpapi/handler"
	mw "matchd/internal/httpapi/middleware"
	"matchd/internal/market"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

func NewRouter(cfg config.Config, jobs *engine.Repo, marketSvc *market.Service, jwtSvc *auth.JWT) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(mw.CORS(cfg.CORSAllowedOrigins, cfg.CORSAllowCredentials))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	jh := &handler.JobsHandler{Repo: jobs}
	lh := &handler.ListingsHandler{Svc: marketSvc}

	requireSvc := auth.RequireService(jwtSvc, cfg.OpsAPIKeyHash)

	r.Route("/jobs", func(r chi.Router) {
		r.Use(requireSvc)

		r.Post("/", jh.Enqueue)
		r.Get("/dead", jh.ListDead)
		r.Post("/dead/{id}/requeue", jh.RequeueDead)
	})

	r.With(requireSvc).Post("/listings", lh.Create)

	return r
}
