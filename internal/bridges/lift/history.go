package lift

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500

	// historyWriteTimeout bounds one insert from the update loop.
	historyWriteTimeout = 2 * time.Second

	// historyTimeFormat is fixed width so created_at sorts lexically.
	historyTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"
)

// HistoryEntry is one merged snapshot stored in the state_history table.
type HistoryEntry struct {
	ID        int64     `json:"id"`
	LiftID    string    `json:"lift_id"`
	State     State     `json:"state"`
	Changed   []string  `json:"changed"`
	CreatedAt time.Time `json:"created_at"`
}

// CommandEntry is one command attempt stored in the command_log table.
type CommandEntry struct {
	ID        int64     `json:"id"`
	LiftID    string    `json:"lift_id"`
	Source    string    `json:"source"`
	Floor     string    `json:"floor"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// History records merged snapshots and command attempts to SQLite as an
// audit trail.
//
// Rows are only ever appended, listed and pruned. Nothing reads them back
// into the Store: the live record always starts from DefaultState.
type History struct {
	db     *sql.DB
	liftID string

	logger   Logger
	loggerMu sync.RWMutex
}

// NewHistory creates a History writing rows for liftID.
func NewHistory(db *sql.DB, liftID string) *History {
	return &History{db: db, liftID: liftID}
}

// SetLogger sets the logger for history writes.
func (h *History) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// OnStateChange records change, logging rather than returning failures.
func (h *History) OnStateChange(ctx context.Context, change StateChange) {
	ctx, cancel := context.WithTimeout(ctx, historyWriteTimeout)
	defer cancel()

	if err := h.Record(ctx, change); err != nil {
		h.logError("failed to record state history", err)
	}
}

// OnCommand records a command attempt, logging rather than returning
// failures.
func (h *History) OnCommand(event CommandEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
	defer cancel()

	if err := h.RecordCommand(ctx, event); err != nil {
		h.logError("failed to record command", err)
	}
}

// RecordCommand inserts one command attempt.
func (h *History) RecordCommand(ctx context.Context, event CommandEvent) error {
	createdAt := event.Timestamp
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	var errText string
	if event.Err != nil {
		errText = event.Err.Error()
	}

	_, err := h.db.ExecContext(ctx,
		"INSERT INTO command_log (lift_id, source, floor, success, error, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		h.liftID,
		event.Source,
		event.Floor,
		event.Err == nil,
		errText,
		createdAt.UTC().Format(historyTimeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting command log: %w", err)
	}
	return nil
}

// RecentCommands returns up to limit command attempts, newest first.
func (h *History) RecentCommands(ctx context.Context, limit int) ([]CommandEntry, error) {
	limit = clampLimit(limit)

	rows, err := h.db.QueryContext(ctx,
		`SELECT id, lift_id, source, floor, success, error, created_at
		 FROM command_log
		 WHERE lift_id = ?
		 ORDER BY id DESC
		 LIMIT ?`,
		h.liftID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying command log: %w", err)
	}
	defer rows.Close()

	entries := make([]CommandEntry, 0, limit)
	for rows.Next() {
		var entry CommandEntry
		var createdAt string
		if err := rows.Scan(&entry.ID, &entry.LiftID, &entry.Source, &entry.Floor, &entry.Success, &entry.Error, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning command log: %w", err)
		}
		if entry.CreatedAt, err = time.Parse(historyTimeFormat, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating command log: %w", err)
	}
	return entries, nil
}

// Record inserts one snapshot.
func (h *History) Record(ctx context.Context, change StateChange) error {
	stateJSON, err := json.Marshal(change.State)
	if err != nil {
		return fmt.Errorf("marshalling state: %w", err)
	}

	createdAt := change.Timestamp
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = h.db.ExecContext(ctx,
		"INSERT INTO state_history (lift_id, state, changed, created_at) VALUES (?, ?, ?, ?)",
		h.liftID,
		string(stateJSON),
		strings.Join(change.Keys, ","),
		createdAt.UTC().Format(historyTimeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting state history: %w", err)
	}

	return nil
}

// Recent returns up to limit entries, newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - limit: Maximum entries to return (default 50, max 500)
//
// Returns:
//   - []HistoryEntry: Entries ordered newest first (may be empty)
//   - error: nil on success, otherwise the underlying query error
func (h *History) Recent(ctx context.Context, limit int) ([]HistoryEntry, error) {
	limit = clampLimit(limit)

	rows, err := h.db.QueryContext(ctx,
		`SELECT id, lift_id, state, changed, created_at
		 FROM state_history
		 WHERE lift_id = ?
		 ORDER BY id DESC
		 LIMIT ?`,
		h.liftID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying state history: %w", err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0, limit)
	for rows.Next() {
		var entry HistoryEntry
		var stateJSON, changed, createdAt string

		if err := rows.Scan(&entry.ID, &entry.LiftID, &stateJSON, &changed, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning state history: %w", err)
		}

		if err := json.Unmarshal([]byte(stateJSON), &entry.State); err != nil {
			return nil, fmt.Errorf("unmarshalling state: %w", err)
		}

		entry.Changed = []string{}
		if changed != "" {
			entry.Changed = strings.Split(changed, ",")
		}

		ts, err := time.Parse(historyTimeFormat, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		entry.CreatedAt = ts

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state history: %w", err)
	}

	return entries, nil
}

// Prune deletes snapshots and commands older than olderThan and returns how
// many rows went.
func (h *History) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(historyTimeFormat)

	var total int64
	for _, table := range []string{"state_history", "command_log"} {
		result, err := h.db.ExecContext(ctx,
			"DELETE FROM "+table+" WHERE created_at < ?",
			cutoff,
		)
		if err != nil {
			return total, fmt.Errorf("deleting from %s: %w", table, err)
		}

		n, err := result.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("checking rows affected: %w", err)
		}
		total += n
	}

	return total, nil
}

// RunPruner prunes every interval until ctx is cancelled.
func (h *History) RunPruner(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := h.Prune(ctx, retention)
			if err != nil {
				h.logError("history prune failed", err)
				continue
			}
			if n > 0 {
				if logger := h.getLogger(); logger != nil {
					logger.Info("pruned history", "rows", n)
				}
			}
		}
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}

func (h *History) getLogger() Logger {
	h.loggerMu.RLock()
	defer h.loggerMu.RUnlock()
	return h.logger
}

func (h *History) logError(msg string, err error) {
	if logger := h.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}
