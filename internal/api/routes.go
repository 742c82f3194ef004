package api

import (
	"encoding/json"
	"net/http"
	"updatehub/internal/auth"
	"updatehub/internal/models"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
)

// RouteOption configures optional route behavior.
type RouteOption func(*mux.Router)

// WithOTelMiddleware adds OpenTelemetry HTTP instrumentation middleware.
func WithOTelMiddleware(serviceName string) RouteOption {
	return func(r *mux.Router) {
		r.Use(otelmux.Middleware(serviceName,
			otelmux.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/health" &&
					r.URL.Path != "/api/v1/health" &&
					r.URL.Path != "/api/v1/ws" &&
					r.URL.Path != "/metrics"
			}),
		))
	}
}

// WithRateLimiter adds rate limiting middleware to the router.
func WithRateLimiter(middleware func(http.Handler) http.Handler) RouteOption {
	return func(r *mux.Router) {
		r.Use(middleware)
	}
}

// SetupRoutes configures the HTTP routes for the API.
func SetupRoutes(handlers *Handlers, authenticator auth.Authenticator, config *models.Config, opts ...RouteOption) *mux.Router {
	router := mux.NewRouter()

	// Identity resolution runs ahead of the optional middleware so the rate
	// limiter can key authenticated requests by subject. Mux middleware runs
	// in registration order.
	if config.Security.EnableAuth {
		router.Use(OptionalAuth(authenticator))
	}

	for _, opt := range opts {
		opt(router)
	}

	api := router.PathPrefix("/api/v1").Subrouter()

	updates := api.PathPrefix("/updates").Subrouter()
	updates.HandleFunc("/latest", handlers.GetLatestVersion).Methods("GET")
	updates.HandleFunc("/check", handlers.CheckForUpdates).Methods("GET")
	updates.HandleFunc("/download/{version}", handlers.DownloadVersion).Methods("GET")
	updates.HandleFunc("/compatibility/{version}", handlers.CheckCompatibility).Methods("GET")
	updates.HandleFunc("/delta/{from}/{to}", handlers.GetDeltaInfo).Methods("GET")
	updates.HandleFunc("/delta/{from}/{to}/download", handlers.DownloadDelta).Methods("GET")

	// The WebSocket handler does its own token check so unauthenticated
	// upgrade attempts fail before the protocol switch.
	api.HandleFunc("/ws", handlers.ServeWebSocket).Methods("GET")

	admin := api.PathPrefix("/admin").Subrouter()
	if config.Security.EnableAuth {
		admin.Use(RequireAuth(authenticator))
		admin.Use(RequireRole(auth.RoleAdmin))
	}
	admin.HandleFunc("/versions", handlers.PublishVersion).Methods("POST")
	admin.HandleFunc("/versions", handlers.ListVersions).Methods("GET")
	admin.HandleFunc("/versions/{version}/toggle-status", handlers.ToggleVersionStatus).Methods("PATCH")
	admin.HandleFunc("/versions/{version}", handlers.DeleteVersion).Methods("DELETE")
	admin.HandleFunc("/statistics", handlers.GetStatistics).Methods("GET")

	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")
	router.HandleFunc("/api/v1/health", handlers.HealthCheck).Methods("GET")

	router.Use(loggingMiddleware)
	router.Use(recoveryMiddleware)

	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusMethodNotAllowed)
		errorResp := models.NewErrorResponse("Method not allowed", models.ErrorCodeInvalidRequest)
		json.NewEncoder(w).Encode(errorResp)
	})

	return router
}
