package lift

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// MQTTClient is the interface for MQTT operations.
// *mqtt.Client satisfies it.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// BridgeOptions holds configuration for creating a Bridge.
type BridgeOptions struct {
	// LiftID selects the per-lift topics.
	LiftID string

	// MQTTClient is the broker connection.
	MQTTClient MQTTClient

	// Gateway executes commands and answers state queries.
	Gateway *Gateway

	// Health is the reporter whose status is published. Optional.
	Health *HealthReporter

	// QoS for state, ack and command topics. Default: 1.
	QoS byte

	// Logger is optional structured logger.
	Logger Logger
}

// Bridge exposes the lift on MQTT:
//   - publishes each merged state (retained) on the state topic
//   - accepts movement commands on the command topic and acks them
//   - runs the health reporter
//
// It registers as a StateListener on the Updater.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	liftID  string
	qos     byte
	mqtt    MQTTClient
	gateway *Gateway
	health  *HealthReporter

	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewBridge creates a new MQTT bridge. Call Start to subscribe.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.LiftID == "" {
		return nil, fmt.Errorf("lift id is required")
	}
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}

	qos := opts.QoS
	if qos == 0 {
		qos = 1
	}

	return &Bridge{
		liftID:  opts.LiftID,
		qos:     qos,
		mqtt:    opts.MQTTClient,
		gateway: opts.Gateway,
		health:  opts.Health,
		logger:  opts.Logger,
	}, nil
}

// Start subscribes to the command topic, publishes the current state and
// begins health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if b.health != nil {
		if err := b.health.PublishStarting(); err != nil {
			b.logError("failed to publish starting status", err)
		}
	}

	commandTopic := CommandTopic(b.liftID)
	if err := b.mqtt.Subscribe(commandTopic, b.qos, b.handleCommand); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	b.publishState(StateChange{LiftID: b.liftID, State: b.gateway.FullState()})

	if b.health != nil {
		b.health.Start(ctx)
	}

	b.logInfo("mqtt bridge started", "lift_id", b.liftID)
	return nil
}

// Stop halts health reporting. Safe to call multiple times.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		if b.health != nil {
			b.health.Stop()
		}
		b.logInfo("mqtt bridge stopped")
	})
}

// OnStateChange publishes the merged record on the state topic.
func (b *Bridge) OnStateChange(_ context.Context, change StateChange) {
	b.publishState(change)
}

// SetLogger sets the logger for the bridge and its health reporter.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	if b.health != nil {
		b.health.SetLogger(logger)
	}
}

func (b *Bridge) publishState(change StateChange) {
	payload, err := json.Marshal(NewStateMessage(change))
	if err != nil {
		b.logError("failed to marshal state", err)
		return
	}

	if err := b.mqtt.Publish(StateTopic(b.liftID), payload, b.qos, true); err != nil {
		b.logError("failed to publish state", err)
	}
}

// handleCommand processes a command message from the broker.
func (b *Bridge) handleCommand(_ string, payload []byte) {
	cmd, err := ParseCommandMessage(payload)
	if err != nil {
		b.publishAck(NewAckError(cmd, b.liftID, ErrCodeInvalidCommand, err.Error()))
		return
	}

	floor, err := cmd.FloorArg()
	if err != nil {
		b.publishAck(NewAckError(cmd, b.liftID, ErrCodeInvalidCommand, err.Error()))
		return
	}

	b.logInfo("received command", "command_id", cmd.ID, "source", cmd.Source)

	sent, err := b.gateway.SendCommandFrom(SourceMQTT, floor)
	switch {
	case errors.Is(err, ErrMissingArgument):
		b.publishAck(NewAckError(cmd, b.liftID, ErrCodeMissingArgument, "floor argument required"))
	case err != nil:
		b.publishAck(NewAckError(cmd, b.liftID, ErrCodeWriteFailed, err.Error()))
	default:
		b.publishAck(NewAckMessage(cmd, b.liftID, sent))
	}
}

func (b *Bridge) publishAck(ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}

	if err := b.mqtt.Publish(AckTopic(b.liftID), payload, b.qos, false); err != nil {
		b.logError("failed to publish ack", err)
	}
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
