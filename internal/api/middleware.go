package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/entrys/gateway/internal/auth"
	"github.com/entrys/gateway/internal/invoke"
	"github.com/entrys/gateway/internal/metrics"
)

// --- Auth middleware ---

// agentAuth authenticates the agent key and stores the agent in the request
// context. Rejected requests never reach the pipeline, so they leave no audit row.
func (d *Dependencies) agentAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agent, err := d.Auth.Authenticate(r.Context(), r)
		if err != nil {
			status, msg := http.StatusUnauthorized, "Missing or invalid API key"
			if errors.Is(err, auth.ErrAuthUnavailable) {
				status, msg = http.StatusServiceUnavailable, "Authentication temporarily unavailable"
			} else {
				d.Logger.Debug("agent auth failed", zap.Error(err))
			}
			writeInvokeError(w, status, invoke.CodeUnauthorized, msg)
			return
		}
		next(w, r.WithContext(auth.WithAgent(r.Context(), agent)))
	}
}

// adminOnly guards the admin API with the shared x-admin-key secret and
// resolves the {team_id} path segment.
func (d *Dependencies) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.AdminKey == "" {
			writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Admin API is disabled"})
			return
		}
		given := r.Header.Get("x-admin-key")
		if subtle.ConstantTimeCompare([]byte(given), []byte(d.AdminKey)) != 1 {
			writeJSON(w, http.StatusUnauthorized, ErrorResp{Detail: "Invalid admin key"})
			return
		}

		if teamID := r.PathValue("team_id"); teamID != "" {
			if !isUUID(teamID) {
				writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Team not found."})
				return
			}
			team, err := d.Store.GetTeam(r.Context(), teamID)
			if err != nil {
				d.Logger.Error("failed to get team", zap.Error(err))
				writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to get team"})
				return
			}
			if team == nil {
				writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Team not found."})
				return
			}
		}
		next(w, r)
	}
}

// --- JSON helpers ---

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// readJSON decodes a JSON request body into the given pointer.
func readJSON(r *http.Request, v any) error {
	defer func() { _ = r.Body.Close() }()
	return json.NewDecoder(r.Body).Decode(v)
}

// --- Request logging and metrics ---

func requestLogging(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// instrument records request metrics labelled by route pattern.
func instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next(sw, r)
		metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// --- CORS ---

func corsMiddleware(next http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions,
		},
		AllowedHeaders: []string{"Authorization", "Content-Type", "x-api-key", "x-admin-key"},
		MaxAge:         86400,
	}).Handler(next)
}
