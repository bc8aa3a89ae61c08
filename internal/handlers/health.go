package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"
)

// APIVersion is reported by the root endpoint.
const APIVersion = "1.0.0"

// HealthResponse is returned by the health endpoints.
type HealthResponse struct {
	Status      string  `json:"status"`
	Timestamp   string  `json:"timestamp"`
	Uptime      float64 `json:"uptime"`
	Environment string  `json:"environment"`
}

// Healthz reports liveness. It never touches the database or the hashing pool.
func Healthz(environment string, startedAt time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now()
		writeJSON(w, http.StatusOK, HealthResponse{
			Status:      "ok",
			Timestamp:   now.UTC().Format(time.RFC3339Nano),
			Uptime:      now.Sub(startedAt).Seconds(),
			Environment: environment,
		})
	}
}

// Root serves the API banner.
func Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Welcome to Tryhardly API",
		"version": APIVersion,
	})
}

// NotFound is the JSON 404 handler.
func NotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, ErrorResponse{
		Error:   "Not Found",
		Message: fmt.Sprintf("Route %s %s not found", r.Method, r.URL.Path),
	})
}

// Recoverer turns panics into a JSON 500. The panic value is only echoed to
// the client in development.
func Recoverer(logger *slog.Logger, development bool) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				logger.ErrorContext(r.Context(), "panic serving request",
					"method", r.Method,
					"path", r.URL.Path,
					"panic", fmt.Sprint(rec),
					"stack", string(debug.Stack()),
				)

				message := "Something went wrong"
				if development {
					message = fmt.Sprint(rec)
				}
				writeJSON(w, http.StatusInternalServerError, ErrorResponse{
					Error:   "Internal Server Error",
					Message: message,
				})
			}()
			next.ServeHTTP(w, r)
		})
	}
}
