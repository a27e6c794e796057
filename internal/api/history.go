package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-lift/internal/bridges/lift"
)

// Page sizes for /history and /history/commands.
const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

var (
	errBadLimit      = errors.New("invalid limit")
	errLimitTooLarge = errors.New("limit exceeds maximum")
)

// historyQuery is the parsed ?limit= and ?since= of a history request.
type historyQuery struct {
	limit int
	since time.Time
}

func (s *Server) handleStateHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "state history unavailable")
		return
	}
	serveHistory(s, w, r, "history", s.history.Recent,
		func(e lift.HistoryEntry) time.Time { return e.CreatedAt })
}

func (s *Server) handleCommandHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "command history unavailable")
		return
	}
	serveHistory(s, w, r, "commands", s.history.RecentCommands,
		func(e lift.CommandEntry) time.Time { return e.CreatedAt })
}

// serveHistory loads up to limit rows, newest first, drops those not after
// since and writes them under key.
func serveHistory[T any](
	s *Server,
	w http.ResponseWriter,
	r *http.Request,
	key string,
	load func(context.Context, int) ([]T, error),
	createdAt func(T) time.Time,
) {
	q, err := readHistoryQuery(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	rows, err := load(r.Context(), q.limit)
	if err != nil {
		s.logger.Error("history query failed", "kind", key, "error", err)
		writeInternalError(w, "failed to load "+key)
		return
	}
	if !q.since.IsZero() {
		kept := rows[:0]
		for _, row := range rows {
			if createdAt(row).After(q.since) {
				kept = append(kept, row)
			}
		}
		rows = kept
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"lift_id": s.gateway.LiftID(),
		key:       rows,
		"count":   len(rows),
	})
}

func readHistoryQuery(r *http.Request) (historyQuery, error) {
	params := r.URL.Query()

	limit, err := parseHistoryLimit(params.Get("limit"))
	if err != nil {
		return historyQuery{}, err
	}

	var since time.Time
	if raw := params.Get("since"); raw != "" {
		if since, err = time.Parse(time.RFC3339Nano, raw); err != nil {
			return historyQuery{}, errors.New("invalid since timestamp")
		}
	}
	return historyQuery{limit: limit, since: since}, nil
}

// parseHistoryLimit accepts 1..maxHistoryLimit; empty means the default.
func parseHistoryLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}
	n, err := strconv.Atoi(raw)
	switch {
	case err != nil, n <= 0:
		return 0, errBadLimit
	case n > maxHistoryLimit:
		return 0, errLimitTooLarge
	}
	return n, nil
}
