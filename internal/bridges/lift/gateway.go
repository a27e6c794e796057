package lift

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-lift/internal/infrastructure/metrics"
)

// InfoStatus is the fixed status string reported by Info.
const InfoStatus = "bridge server running"

// Command sources recorded in metrics and command events.
const (
	SourceHTTP = "http"
	SourceMQTT = "mqtt"
)

// Info is the static summary served on the root endpoint.
type Info struct {
	Status     string `json:"status"`
	SerialPort string `json:"serial_port"`
	HTTPPort   int    `json:"http_port"`
}

// GatewayConfig configures a Gateway.
type GatewayConfig struct {
	LiftID     string
	SerialPort string
	HTTPPort   int
}

// CommandEvent describes one attempted command write.
type CommandEvent struct {
	LiftID    string
	Source    string
	Floor     string
	Sent      string
	Err       error
	Timestamp time.Time
}

// CommandListener is notified after every command write attempt.
type CommandListener interface {
	OnCommand(event CommandEvent)
}

// CommandListenerFunc adapts a function to CommandListener.
type CommandListenerFunc func(event CommandEvent)

// OnCommand calls f.
func (f CommandListenerFunc) OnCommand(event CommandEvent) {
	f(event)
}

// Gateway answers state queries from the Store and writes movement commands
// to the device. It is the only thing the HTTP and MQTT surfaces talk to.
//
// Thread Safety: All methods are safe for concurrent use.
type Gateway struct {
	store  *Store
	device io.Writer
	cfg    GatewayConfig

	listeners   []CommandListener
	listenersMu sync.RWMutex

	commandsSent   atomic.Uint64
	commandsFailed atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex
}

// NewGateway creates a Gateway reading from store and writing to device
// (normally the *Channel).
func NewGateway(store *Store, device io.Writer, cfg GatewayConfig) *Gateway {
	return &Gateway{
		store:  store,
		device: device,
		cfg:    cfg,
	}
}

// FullState returns a snapshot of the whole record.
func (g *Gateway) FullState() State {
	return g.store.Snapshot()
}

// Stats returns a snapshot of the statistics fields.
func (g *Gateway) Stats() Stats {
	return g.store.Stats()
}

// Info returns the static bridge summary.
func (g *Gateway) Info() Info {
	return Info{
		Status:     InfoStatus,
		SerialPort: g.cfg.SerialPort,
		HTTPPort:   g.cfg.HTTPPort,
	}
}

// LiftID returns the lift this gateway serves.
func (g *Gateway) LiftID() string {
	return g.cfg.LiftID
}

// SendCommand writes "GOTO:<floor>\n" to the device and returns the text
// sent. The floor is passed through verbatim.
//
// Returns ErrMissingArgument (nothing written) when floor is nil, or an
// *WriteError (matching ErrWriteFailed) when the write fails. The Store is never
// touched.
func (g *Gateway) SendCommand(floor *string) (string, error) {
	return g.SendCommandFrom(SourceHTTP, floor)
}

// SendCommandFrom is SendCommand with an explicit source label.
func (g *Gateway) SendCommandFrom(source string, floor *string) (string, error) {
	if floor == nil {
		metrics.RecordCommand(g.cfg.LiftID, source, metrics.CommandRejected)
		return "", ErrMissingArgument
	}

	msg := FormatCommand(*floor)
	event := CommandEvent{
		LiftID:    g.cfg.LiftID,
		Source:    source,
		Floor:     *floor,
		Sent:      msg,
		Timestamp: time.Now().UTC(),
	}

	if _, err := g.device.Write([]byte(msg)); err != nil {
		g.commandsFailed.Add(1)
		metrics.RecordCommand(g.cfg.LiftID, source, metrics.CommandFailed)
		event.Err = &WriteError{Err: err}
		g.logError("command write failed", event.Err, "floor", *floor, "source", source)
		g.notify(event)
		return "", event.Err
	}

	g.commandsSent.Add(1)
	metrics.RecordCommand(g.cfg.LiftID, source, metrics.CommandSent)
	g.logInfo("command sent", "floor", *floor, "source", source)
	g.notify(event)
	return msg, nil
}

// CommandCounts returns how many commands were written and how many failed.
func (g *Gateway) CommandCounts() (sent, failed uint64) {
	return g.commandsSent.Load(), g.commandsFailed.Load()
}

// AddCommandListener registers l for every subsequent command attempt.
func (g *Gateway) AddCommandListener(l CommandListener) {
	g.listenersMu.Lock()
	g.listeners = append(g.listeners, l)
	g.listenersMu.Unlock()
}

// SetLogger sets the logger for the gateway.
func (g *Gateway) SetLogger(logger Logger) {
	g.loggerMu.Lock()
	g.logger = logger
	g.loggerMu.Unlock()
}

// FormatCommand builds the wire text for a move request.
func FormatCommand(floor string) string {
	return "GOTO:" + floor + "\n"
}

func (g *Gateway) notify(event CommandEvent) {
	g.listenersMu.RLock()
	listeners := g.listeners
	g.listenersMu.RUnlock()

	for _, l := range listeners {
		l.OnCommand(event)
	}
}

func (g *Gateway) logInfo(msg string, keysAndValues ...any) {
	g.loggerMu.RLock()
	logger := g.logger
	g.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (g *Gateway) logError(msg string, err error, keysAndValues ...any) {
	g.loggerMu.RLock()
	logger := g.logger
	g.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}
