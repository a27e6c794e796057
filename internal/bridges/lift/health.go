package lift

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// BridgeID identifies this bridge in health messages.
const BridgeID = "lift"

// defaultHealthInterval is used when HealthReporterConfig.Interval is zero.
const defaultHealthInterval = 30 * time.Second

// HealthPublisher is the interface for publishing health messages.
// This is typically implemented by an MQTT client.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// ChannelStatus exposes the device channel's state. *Channel implements it.
type ChannelStatus interface {
	IsConnected() bool
	PortName() string
	Stats() ChannelStats
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	LiftID  string
	Version string

	// Interval is how often to publish health status. Default: 30 seconds.
	Interval time.Duration

	// Publisher is optional. Without one the reporter only answers Current.
	// It can also be supplied later with SetPublisher.
	Publisher HealthPublisher

	Channel ChannelStatus
	Updater *Updater
	Gateway *Gateway
}

// HealthReporter assembles bridge health and publishes it periodically.
type HealthReporter struct {
	cfg       HealthReporterConfig
	startTime time.Time

	publisher   HealthPublisher
	publisherMu sync.RWMutex

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
	started  bool
	startMu  sync.Mutex

	logger   Logger
	loggerMu sync.RWMutex
}

// NewHealthReporter creates a new health reporter.
// Call Start to begin periodic publishing.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultHealthInterval
	}
	return &HealthReporter{
		cfg:       cfg,
		startTime: time.Now(),
		publisher: cfg.Publisher,
		done:      make(chan struct{}),
	}
}

// SetPublisher attaches the MQTT publisher once the broker connection
// exists. The LWT must be known before connecting, so the reporter is
// usually created first.
func (h *HealthReporter) SetPublisher(p HealthPublisher) {
	h.publisherMu.Lock()
	h.publisher = p
	h.publisherMu.Unlock()
}

func (h *HealthReporter) getPublisher() HealthPublisher {
	h.publisherMu.RLock()
	defer h.publisherMu.RUnlock()
	return h.publisher
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// Start begins periodic health reporting until ctx is cancelled or Stop is
// called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.startMu.Lock()
	defer h.startMu.Unlock()
	if h.started {
		return
	}
	h.started = true

	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes a final "stopping" status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // Best-effort during shutdown
		h.publish(h.build(HealthStopping, "bridge stopping"))
	})
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publish(h.build(HealthStarting, "bridge starting"))
}

// PublishNow publishes the current health status immediately.
func (h *HealthReporter) PublishNow() error {
	return h.publish(h.Current())
}

// Current returns the bridge health as of now.
func (h *HealthReporter) Current() HealthMessage {
	status, reason := h.determineStatus()
	return h.build(status, reason)
}

// GetLWTPayload returns the Last Will and Testament message payload.
func (h *HealthReporter) GetLWTPayload() ([]byte, error) {
	return json.Marshal(NewLWTMessage(BridgeID, h.cfg.LiftID))
}

// GetLWTTopic returns the topic for the Last Will and Testament.
func (h *HealthReporter) GetLWTTopic() string {
	return HealthTopic()
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logError("failed to publish initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.cfg.Channel == nil || !h.cfg.Channel.IsConnected() {
		return HealthDegraded, "serial disconnected"
	}
	if h.cfg.Updater != nil && !h.cfg.Updater.Stats().Running {
		return HealthDegraded, "update loop not running"
	}
	if p := h.getPublisher(); p != nil && !p.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	return HealthHealthy, ""
}

func (h *HealthReporter) build(status HealthStatus, reason string) HealthMessage {
	msg := HealthMessage{
		Bridge:        BridgeID,
		LiftID:        h.cfg.LiftID,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       h.cfg.Version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Reason:        reason,
		Statistics:    &BridgeStatistics{},
	}

	if h.cfg.Channel != nil {
		cs := h.cfg.Channel.Stats()
		serial := &SerialStatus{
			Connected: cs.Connected,
			Port:      h.cfg.Channel.PortName(),
		}
		if !cs.ConnectedAt.IsZero() {
			serial.ConnectedSince = &cs.ConnectedAt
		}
		if !cs.LastActivity.IsZero() {
			serial.LastActivity = &cs.LastActivity
		}
		msg.Serial = serial
		msg.Statistics.BytesReceived = cs.BytesRx
		msg.Statistics.BytesSent = cs.BytesTx
		msg.Statistics.ReadErrors = cs.ReadErrors
	}

	if h.cfg.Updater != nil {
		us := h.cfg.Updater.Stats()
		msg.Statistics.LinesMerged = us.Merged
		msg.Statistics.LinesIgnored = us.Ignored
		msg.Statistics.LinesMalformed = us.Malformed
	}

	if h.cfg.Gateway != nil {
		msg.Statistics.CommandsSent, msg.Statistics.CommandsFailed = h.cfg.Gateway.CommandCounts()
	}

	return msg
}

func (h *HealthReporter) publish(msg HealthMessage) error {
	publisher := h.getPublisher()
	if publisher == nil {
		return nil
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return publisher.Publish(HealthTopic(), payload, 1, true)
}

func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
