package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/medsum/platform/internal/document"
	"github.com/medsum/platform/internal/insight"
	"github.com/medsum/platform/internal/patient"
	"github.com/medsum/platform/internal/shared/metrics"
	secmiddleware "github.com/medsum/platform/internal/shared/middleware"
)

const (
	maxBodyBytes   = 1 << 20
	requestTimeout = 60 * time.Second
)

func newRouter(app *App) http.Handler {
	cfg := app.Config

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(secmiddleware.RequestLogger(app.Log))
	r.Use(middleware.Recoverer)
	r.Use(secmiddleware.SecurityHeaders)
	r.Use(metrics.Middleware)

	cors := secmiddleware.DefaultCORSConfig()
	cors.AllowedOrigins = cfg.Server.CORSOrigins
	r.Use(secmiddleware.CORS(cors))
	r.Use(secmiddleware.BodyLimit(maxBodyBytes))

	documentHandler := document.NewHandler(app.Stores.Documents, app.Log)
	userHandler := patient.NewHandler(app.Stores.Users)
	insightHandler := insight.NewHandler(app.Dispatcher, app.Aggregator, app.Stores.Documents, app.Stores.Insights)

	// Store-backed routes answer quickly; cut them off if a query hangs
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))

		r.Get("/health", healthHandler)
		r.Get("/ready", readyHandler(app))
		r.Handle("/metrics", metrics.Handler())
		r.Get("/", infoHandler)

		r.Route("/api/v1", func(r chi.Router) {
			documents := documentHandler.Routes()
			documents.Get("/{documentID}/insight", insightHandler.GetDocumentInsight)
			r.Mount("/documents", documents)
			r.Mount("/users", userHandler.Routes())
		})
	})

	// Triggers are not time-limited: patient summaries wait on the text
	// model for as long as it takes.
	limiter := secmiddleware.NewIPRateLimiter(cfg.Server.TriggerRPS, cfg.Server.TriggerBurst)
	r.Route("/internal", func(r chi.Router) {
		r.Use(limiter.Middleware)
		r.Mount("/", insightHandler.InternalRoutes())
	})

	return r
}

func infoHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"name":    "Medical Report Insights Platform",
		"version": "0.1.0",
		"docs":    "/api/v1",
	})
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
	})
}

func readyHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"server": "ready",
		}

		if err := app.Stores.Health(r.Context()); err != nil {
			checks["database"] = "not ready: " + err.Error()
		} else {
			checks["database"] = "ready"
		}

		if app.Redis != nil {
			if err := app.Redis.Ping(r.Context()).Err(); err != nil {
				checks["redis"] = "not ready: " + err.Error()
			} else {
				checks["redis"] = "ready"
			}
		} else {
			checks["redis"] = "not configured"
		}

		if app.Config.KurrentDB.Enabled {
			if err := app.Events.Health(r.Context()); err != nil {
				checks["kurrentdb"] = "not ready: " + err.Error()
			} else {
				checks["kurrentdb"] = "ready"
			}
		} else {
			checks["kurrentdb"] = "not configured"
		}

		allReady := true
		for _, status := range checks {
			if status != "ready" && status != "not configured" {
				allReady = false
				break
			}
		}

		status := http.StatusOK
		if !allReady {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"status": map[bool]string{true: "ready", false: "not ready"}[allReady],
			"checks": checks,
		})
	}
}
