// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	service "github.com/aidenrawles/synergy/internal/app"
)

const maxBodyBytes = 1 << 20

// Dependencies required by HTTP handlers.
type Dependencies interface {
	RatingDependencies
	AllocationDependencies
	Ping(ctx context.Context) error
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler     *HealthHandler
	statsHandler      *StatsHandler
	ratingHandler     *RatingHandler
	allocationHandler *AllocationHandler
	allowedOrigins    []string
}

// ServerOption applies a configuration option to the Server.
type ServerOption func(*Server)

// WithAllowedOrigins restricts CORS to the given origins.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...ServerOption) *Server {
	v := newRequestValidator()
	s := &Server{
		healthHandler:     NewHealthHandler(deps),
		statsHandler:      NewStatsHandler(statsProvider),
		ratingHandler:     NewRatingHandler(deps, v),
		allocationHandler: NewAllocationHandler(deps),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	route := func(path, endpoint string, h http.HandlerFunc) {
		mux.HandleFunc(path, MetricsMiddleware(CORSMiddleware(h, s.allowedOrigins), endpoint))
	}

	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/metrics", s.healthHandler.HandleMetrics)
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	route("/v1/individual-rating", "individual_rating", s.ratingHandler.HandleIndividualRating)
	route("/v1/transcripts", "transcripts", s.ratingHandler.HandleTranscript)
	route("/v1/group-rating", "group_rating", s.ratingHandler.HandleGroupRating)
	route("/v1/allocation", "allocation", s.allocationHandler.HandleAllocation)
}

type errorResponse struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeServiceError maps service error kinds to status codes.
func writeServiceError(w http.ResponseWriter, op string, err error) {
	var (
		status int
		code   string
		kind   error
	)
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		status, code, kind = http.StatusBadRequest, "bad_request", service.ErrInvalidInput
	case errors.Is(err, service.ErrUnknownGroup):
		status, code, kind = http.StatusNotFound, "not_found", service.ErrUnknownGroup
	case errors.Is(err, service.ErrNoAllocation):
		status, code, kind = http.StatusNotFound, "not_found", service.ErrNoAllocation
	case errors.Is(err, service.ErrRunInProgress):
		status, code, kind = http.StatusConflict, "run_in_progress", service.ErrRunInProgress
	case errors.Is(err, service.ErrLockUnavailable):
		status, code, kind = http.StatusServiceUnavailable, "lock_unavailable", service.ErrLockUnavailable
	case errors.Is(err, service.ErrFetchProjects):
		status, code, kind = http.StatusInternalServerError, "fetch_projects_failed", service.ErrFetchProjects
	case errors.Is(err, service.ErrFetchPreferences):
		status, code, kind = http.StatusInternalServerError, "fetch_preferences_failed", service.ErrFetchPreferences
	case errors.Is(err, service.ErrPersistAllocation):
		status, code, kind = http.StatusInternalServerError, "persist_allocation_failed", service.ErrPersistAllocation
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
		return
	}
	// Server-side causes stay out of the response body.
	msg := kind.Error()
	if status < http.StatusInternalServerError {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// decode reads a JSON body of at most maxBodyBytes into v.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}
