package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Line outcomes recorded by RecordLine.
const (
	LineMerged    = "merged"
	LineIgnored   = "ignored"
	LineMalformed = "malformed"
	LineOverlong  = "overlong"
)

// Command statuses recorded by RecordCommand.
const (
	CommandSent     = "sent"
	CommandFailed   = "failed"
	CommandRejected = "rejected"
)

var (
	// LinesTotal counts assembled serial lines by outcome
	LinesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liftbridge_lines_total",
			Help: "Total number of serial lines assembled, by outcome",
		},
		[]string{"lift", "outcome"},
	)

	// KeysSkippedTotal counts known keys dropped because their value had the wrong type
	KeysSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liftbridge_keys_skipped_total",
			Help: "Total number of known state keys skipped due to a type mismatch",
		},
		[]string{"lift", "key"},
	)

	// CommandsTotal counts movement commands by source and status
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liftbridge_commands_total",
			Help: "Total number of movement commands handled",
		},
		[]string{"lift", "source", "status"},
	)

	// SerialReadErrorsTotal counts read failures on the device channel
	SerialReadErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liftbridge_serial_read_errors_total",
			Help: "Total number of serial read failures",
		},
		[]string{"lift"},
	)

	// SerialConnectAttemptsTotal counts attempts to open the serial port
	SerialConnectAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liftbridge_serial_connect_attempts_total",
			Help: "Total number of attempts to open the serial port",
		},
		[]string{"lift", "result"},
	)

	// SerialConnected is 1 once the serial port is open
	SerialConnected = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "liftbridge_serial_connected",
			Help: "Whether the serial port is open (1) or not (0)",
		},
		[]string{"lift"},
	)

	// LiftPosition tracks the floor, target, direction and door codes last reported
	LiftPosition = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "liftbridge_lift_position",
			Help: "Last reported positional fields of the lift",
		},
		[]string{"lift", "field"},
	)

	// LiftCounters mirrors the device-side statistics fields
	LiftCounters = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "liftbridge_lift_statistics",
			Help: "Last reported device statistics of the lift",
		},
		[]string{"lift", "field"},
	)

	// HTTPRequestsTotal counts API requests by route pattern and status code
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liftbridge_http_requests_total",
			Help: "Total number of HTTP requests served",
		},
		[]string{"method", "route", "code"},
	)

	// HTTPRequestDuration tracks API request latency in seconds
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "liftbridge_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"method", "route"},
	)

	// ChangesDroppedTotal counts state changes dropped because a listener queue was full
	ChangesDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liftbridge_state_changes_dropped_total",
			Help: "Total number of state changes dropped for slow listeners",
		},
		[]string{"lift"},
	)

	// TelemetryWriteErrorsTotal counts failed asynchronous InfluxDB batch writes
	TelemetryWriteErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "liftbridge_telemetry_write_errors_total",
			Help: "Total number of failed InfluxDB batch writes",
		},
	)

	// WebSocketClients tracks the number of connected WebSocket clients
	WebSocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "liftbridge_websocket_clients",
			Help: "Number of connected WebSocket clients",
		},
	)
)

// RecordLine increments the line counter for the given outcome
func RecordLine(lift, outcome string) {
	LinesTotal.WithLabelValues(lift, outcome).Inc()
}

// RecordKeySkipped increments the skipped-key counter
func RecordKeySkipped(lift, key string) {
	KeysSkippedTotal.WithLabelValues(lift, key).Inc()
}

// RecordCommand increments the command counter for a source and status
func RecordCommand(lift, source, status string) {
	CommandsTotal.WithLabelValues(lift, source, status).Inc()
}

// RecordReadError increments the serial read error counter
func RecordReadError(lift string) {
	SerialReadErrorsTotal.WithLabelValues(lift).Inc()
}

// RecordConnectAttempt increments the connect attempt counter and updates the connected gauge
func RecordConnectAttempt(lift string, ok bool) {
	result := "failed"
	if ok {
		result = "ok"
	}
	SerialConnectAttemptsTotal.WithLabelValues(lift, result).Inc()
	SetSerialConnected(lift, ok)
}

// SetSerialConnected sets the serial connected gauge
func SetSerialConnected(lift string, connected bool) {
	v := 0.0
	if connected {
		v = 1
	}
	SerialConnected.WithLabelValues(lift).Set(v)
}

// SetPosition records a positional field such as floor or door
func SetPosition(lift, field string, value int) {
	LiftPosition.WithLabelValues(lift, field).Set(float64(value))
}

// SetStatistic records a device statistics field such as totalTrips
func SetStatistic(lift, field string, value float64) {
	LiftCounters.WithLabelValues(lift, field).Set(value)
}

// RecordHTTPRequest records a completed HTTP request
func RecordHTTPRequest(method, route string, code int, durationSeconds float64) {
	if route == "" {
		route = "unmatched"
	}
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(durationSeconds)
}

// RecordChangeDropped increments the dropped state change counter
func RecordChangeDropped(lift string) {
	ChangesDroppedTotal.WithLabelValues(lift).Inc()
}

// RecordTelemetryWriteError increments the InfluxDB write error counter
func RecordTelemetryWriteError() {
	TelemetryWriteErrorsTotal.Inc()
}

// SetWebSocketClients sets the number of connected WebSocket clients
func SetWebSocketClients(count int) {
	WebSocketClients.Set(float64(count))
}
