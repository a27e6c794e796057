package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/gray-logic-lift/internal/bridges/lift"
)

// HealthResponse is the body of GET /health. The mqtt and database sections
// only appear when those sinks are configured.
type HealthResponse struct {
	Status        string              `json:"status"`
	Timestamp     string              `json:"timestamp"`
	Version       string              `json:"version"`
	UptimeSeconds int64               `json:"uptime_seconds"`
	Bridge        *lift.HealthMessage `json:"bridge,omitempty"`
	Commands      CommandMetrics      `json:"commands"`
	Runtime       ProcessStats        `json:"runtime"`
	WebSocket     HubStats            `json:"websocket"`
	MQTT          *LinkStatus         `json:"mqtt,omitempty"`
	Database      *PoolStats          `json:"database,omitempty"`
}

// CommandMetrics counts command writes since start.
type CommandMetrics struct {
	Sent   uint64 `json:"sent"`
	Failed uint64 `json:"failed"`
}

// ProcessStats is a small slice of runtime.MemStats plus scheduler counts.
type ProcessStats struct {
	GoVersion      string `json:"go_version"`
	Goroutines     int    `json:"goroutines"`
	HeapAllocBytes uint64 `json:"heap_alloc_bytes"`
	HeapSysBytes   uint64 `json:"heap_sys_bytes"`
	GCCycles       uint32 `json:"gc_cycles"`
}

// HubStats describes the WebSocket fan-out.
type HubStats struct {
	ConnectedClients int `json:"connected_clients"`
}

// LinkStatus reports one upstream connection.
type LinkStatus struct {
	Connected bool `json:"connected"`
}

// PoolStats mirrors the useful part of sql.DBStats.
type PoolStats struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
	WaitMillis      int64 `json:"wait_ms"`
}

// handleHealth answers 200 whenever the process can serve the request. The
// bridge section carries the serial link state and line counters, so
// monitoring should look there rather than at the status code.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	sent, failed := s.gateway.CommandCounts()

	resp := HealthResponse{
		Status:        "ok",
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.started) / time.Second),
		Commands:      CommandMetrics{Sent: sent, Failed: failed},
		Runtime:       readProcessStats(),
		WebSocket:     HubStats{ConnectedClients: s.Hub().ClientCount()},
	}
	if s.health != nil {
		bridge := s.health.Current()
		resp.Bridge = &bridge
	}
	if s.mqtt != nil {
		resp.MQTT = &LinkStatus{Connected: s.mqtt.IsConnected()}
	}
	if s.db != nil {
		st := s.db.Stats()
		resp.Database = &PoolStats{
			OpenConnections: st.OpenConnections,
			InUse:           st.InUse,
			Idle:            st.Idle,
			WaitCount:       st.WaitCount,
			WaitMillis:      st.WaitDuration.Milliseconds(),
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func readProcessStats() ProcessStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return ProcessStats{
		GoVersion:      runtime.Version(),
		Goroutines:     runtime.NumGoroutine(),
		HeapAllocBytes: m.HeapAlloc,
		HeapSysBytes:   m.HeapSys,
		GCCycles:       m.NumGC,
	}
}
