package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/infra-logging/indexaudit/internal/analyze"
	"github.com/infra-logging/indexaudit/internal/pipeline"
	"github.com/infra-logging/indexaudit/internal/source"
)

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"service":   "indexaudit",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	if s.reporter == nil {
		s.writeError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "no report source configured")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ready",
		"service": "indexaudit",
	})
}

func (s *Server) reportHandler(w http.ResponseWriter, r *http.Request) {
	if s.reporter == nil {
		s.writeError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "no report source configured")
		return
	}

	opts, err := s.parseOptions(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_PARAMETER", err.Error())
		return
	}

	rep, err := s.reporter.Report(r.Context(), opts)
	if err != nil {
		status, code := statusFor(err)
		s.logger.Warn("Report request failed",
			zap.Int("status", status),
			zap.Error(err))
		s.writeError(w, status, code, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, rep)
}

// parseOptions applies the top and target_shard_gb query parameters to the server defaults
func (s *Server) parseOptions(r *http.Request) (analyze.Options, error) {
	opts := s.defaults
	q := r.URL.Query()

	if v := q.Get("top"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return opts, errors.New("top must be a positive integer")
		}
		opts.TopN = n
	}

	if v := q.Get("target_shard_gb"); v != "" {
		gb, err := strconv.ParseFloat(v, 64)
		if err != nil || gb <= 0 {
			return opts, errors.New("target_shard_gb must be a positive number")
		}
		opts.TargetShardGB = gb
	}

	return opts, nil
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, source.ErrNoData):
		return http.StatusBadGateway, "NO_DATA"
	case errors.Is(err, pipeline.ErrNothingToAnalyze):
		return http.StatusUnprocessableEntity, "NOTHING_TO_ANALYZE"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, code, message string) {
	s.writeJSON(w, statusCode, ErrorResponse{Code: code, Message: message})
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(clientIP(r)) {
			s.writeError(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "Rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for request logging
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}
