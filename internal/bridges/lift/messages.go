package lift

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MQTT message types exchanged between the lift bridge and the rest of
// Gray Logic. Payloads are JSON.

// Protocol is the protocol identifier carried in state messages.
const Protocol = "serial"

// CommandMessage asks the bridge to move the lift.
// Topic: graylogic/command/lift/{lift_id}
//
// Floor is passed to the device verbatim. It may be a JSON string ("3") or
// number (3); numbers are forwarded in their JSON text form.
type CommandMessage struct {
	// ID correlates the command with its ack. Generated if empty.
	ID string `json:"id"`

	// Timestamp is when the command was issued (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Floor is the destination argument.
	Floor json.RawMessage `json:"floor,omitempty"`

	// Source indicates where the command originated (e.g. "scene", "voice").
	Source string `json:"source,omitempty"`
}

// ParseCommandMessage decodes a command payload and fills in a missing ID.
func ParseCommandMessage(payload []byte) (CommandMessage, error) {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return CommandMessage{ID: uuid.NewString()}, fmt.Errorf("parsing command: %w", err)
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	return cmd, nil
}

// FloorArg returns the floor argument as text, or nil if it was absent or
// null.
func (m CommandMessage) FloorArg() (*string, error) {
	raw := bytes.TrimSpace(m.Floor)
	if len(raw) == 0 || bytes.Equal(raw, jsonNull) {
		return nil, nil
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("invalid floor: %w", err)
		}
		return &s, nil
	case '{', '[', 't', 'f':
		return nil, fmt.Errorf("invalid floor: %s", raw)
	default:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, fmt.Errorf("invalid floor: %w", err)
		}
		s := n.String()
		return &s, nil
	}
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command line was written to the device.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be written.
	AckFailed AckStatus = "failed"
)

// Error codes for command failures.
const (
	ErrCodeInvalidCommand  = "INVALID_COMMAND"
	ErrCodeMissingArgument = "MISSING_ARGUMENT"
	ErrCodeWriteFailed     = "WRITE_FAILED"
)

// AckMessage reports the outcome of a CommandMessage.
// Topic: graylogic/ack/lift/{lift_id}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	LiftID    string    `json:"lift_id"`
	Status    AckStatus `json:"status"`

	// Sent is the exact text written to the device.
	Sent string `json:"sent,omitempty"`

	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewAckMessage creates a successful acknowledgment.
func NewAckMessage(cmd CommandMessage, liftID, sent string) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		LiftID:    liftID,
		Status:    AckAccepted,
		Sent:      sent,
	}
}

// NewAckError creates a failed acknowledgment.
func NewAckError(cmd CommandMessage, liftID, code, message string) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		LiftID:    liftID,
		Status:    AckFailed,
		Error: &AckError{
			Code:    code,
			Message: message,
		},
	}
}

// StateMessage carries the full record after a merge.
// Topic: graylogic/state/lift/{lift_id}
// QoS: 1, Retained: Yes
type StateMessage struct {
	LiftID    string    `json:"lift_id"`
	Timestamp time.Time `json:"timestamp"`
	State     State     `json:"state"`

	// Changed lists the keys carried by the triggering line.
	Changed []string `json:"changed,omitempty"`

	Protocol string `json:"protocol"`
}

// NewStateMessage builds the state message for a change.
func NewStateMessage(change StateChange) StateMessage {
	ts := change.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return StateMessage{
		LiftID:    change.LiftID,
		Timestamp: ts,
		State:     change.State,
		Changed:   change.Keys,
		Protocol:  Protocol,
	}
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthOffline  HealthStatus = "offline"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports bridge status.
// Topic: graylogic/health/lift
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge        string            `json:"bridge"`
	LiftID        string            `json:"lift_id"`
	Timestamp     time.Time         `json:"timestamp"`
	Status        HealthStatus      `json:"status"`
	Version       string            `json:"version,omitempty"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Serial        *SerialStatus     `json:"serial,omitempty"`
	Statistics    *BridgeStatistics `json:"statistics,omitempty"`
	Reason        string            `json:"reason,omitempty"`
}

// SerialStatus describes the device channel.
type SerialStatus struct {
	Connected      bool       `json:"connected"`
	Port           string     `json:"port"`
	ConnectedSince *time.Time `json:"connected_since,omitempty"`
	LastActivity   *time.Time `json:"last_activity,omitempty"`
}

// BridgeStatistics contains operational counters.
type BridgeStatistics struct {
	BytesReceived  uint64 `json:"bytes_received"`
	BytesSent      uint64 `json:"bytes_sent"`
	ReadErrors     uint64 `json:"read_errors"`
	LinesMerged    uint64 `json:"lines_merged"`
	LinesIgnored   uint64 `json:"lines_ignored"`
	LinesMalformed uint64 `json:"lines_malformed"`
	CommandsSent   uint64 `json:"commands_sent"`
	CommandsFailed uint64 `json:"commands_failed"`
}

// NewLWTMessage creates the Last Will and Testament payload published by the
// broker if the bridge disappears.
func NewLWTMessage(bridgeID, liftID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		LiftID:    liftID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// Topic helpers

// TopicPrefix is the base topic for all Gray Logic messages.
const TopicPrefix = "graylogic"

// StateTopic returns the retained state topic for a lift.
func StateTopic(liftID string) string {
	return topic("state", liftID)
}

// CommandTopic returns the command topic for a lift.
func CommandTopic(liftID string) string {
	return topic("command", liftID)
}

// AckTopic returns the acknowledgment topic for a lift.
func AckTopic(liftID string) string {
	return topic("ack", liftID)
}

// HealthTopic returns the bridge health topic.
func HealthTopic() string {
	return TopicPrefix + "/health/lift"
}

func topic(kind, liftID string) string {
	return strings.Join([]string{TopicPrefix, kind, "lift", liftID}, "/")
}
