package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/budgetteenhelp-blip/budgetteen-sub001/pkg/dto"
)

// RequestTimeout bounds every request routed through NewRouter.
const RequestTimeout = 30 * time.Second

// NewRouter returns a chi router with the default middleware stack and a /healthz endpoint reporting health.
func NewRouter(health dto.HealthResponse, register func(r chi.Router)) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(RequestTimeout))

	if health.Status == "" {
		health.Status = "ok"
	}
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(health)
	})

	if register != nil {
		register(r)
	}

	return r
}
