package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/gray-logic-lift/internal/bridges/lift"
)

// floorParam is the query parameter carrying the requested floor.
const floorParam = "floor"

// CommandResponse is the body of a successful GET /command.
type CommandResponse struct {
	Success bool   `json:"success"`
	Sent    string `json:"sent"`
}

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(
		s.requestIDMiddleware,
		s.observeMiddleware,
		s.recoveryMiddleware,
		s.corsMiddleware,
		middleware.RequestSize(maxRequestBodySize),
	)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeMethodNotAllowed(w, "method not allowed")
	})

	// Polling endpoints
	r.Get("/", s.handleInfo)
	r.Get("/state", s.handleState)
	r.Get("/stats", s.handleStats)
	r.Get("/command", s.handleCommand)

	// Operations
	r.Get("/health", s.handleHealth)
	r.Get("/history", s.handleStateHistory)
	r.Get("/history/commands", s.handleCommandHistory)

	if s.metricsCfg.Enabled && s.metricsCfg.Path != "" {
		r.Method(http.MethodGet, s.metricsCfg.Path, promhttp.Handler())
	}

	if s.wsCfg.Path != "" {
		r.Get(s.wsCfg.Path, s.handleWebSocket)
	}

	return r
}

// handleInfo returns the static bridge summary.
func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.gateway.Info())
}

// handleState returns the full state record.
func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.gateway.FullState())
}

// handleStats returns the statistics fields of the state record.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.gateway.Stats())
}

// handleCommand forwards ?floor=<value> to the controller as GOTO:<value>.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	sent, err := s.gateway.SendCommand(queryArg(r, floorParam))
	switch {
	case errors.Is(err, lift.ErrMissingArgument):
		writeBadRequest(w, "floor argument required")
	case err != nil:
		writeInternalError(w, "failed to send command: "+commandFailureDetail(err))
	default:
		writeJSON(w, http.StatusOK, CommandResponse{Success: true, Sent: sent})
	}
}

// commandFailureDetail returns the device's own error text without the
// lift package prefix.
func commandFailureDetail(err error) string {
	var we *lift.WriteError
	if errors.As(err, &we) && we.Err != nil {
		return we.Err.Error()
	}
	return err.Error()
}

// queryArg returns the first value of a query parameter, or nil when the
// parameter is absent. "?floor=" yields a pointer to "".
func queryArg(r *http.Request, name string) *string {
	values, ok := r.URL.Query()[name]
	if !ok || len(values) == 0 {
		return nil
	}
	v := values[0]
	return &v
}
