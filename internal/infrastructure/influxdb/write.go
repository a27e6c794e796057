package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the lift bridge.
const (
	MeasurementLiftState   = "lift_state"
	MeasurementLiftCommand = "lift_command"
)

// WriteLiftState records one merged lift snapshot.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - liftID: Lift identifier, stored as the "lift_id" tag
//   - mode: Coarse operating mode, stored as the "state" tag
//   - fields: Numeric state fields (floor, target, totalTrips, ...)
//   - timestamp: When the update was merged
//
// Example:
//
//	client.WriteLiftState("lift-1", "Moving",
//	    map[string]interface{}{"floor": 2, "target": 5}, time.Now())
func (c *Client) WriteLiftState(liftID, mode string, fields map[string]interface{}, timestamp time.Time) {
	if len(fields) == 0 {
		return
	}
	c.WritePoint(MeasurementLiftState,
		map[string]string{
			"lift_id": liftID,
			"state":   mode,
		},
		fields,
		timestamp,
	)
}

// WriteLiftCommand records a movement command attempt.
//
// Parameters:
//   - liftID: Lift identifier
//   - source: Where the command came from ("http", "mqtt")
//   - floor: The floor argument as sent
//   - ok: Whether the write to the device succeeded
//   - timestamp: When the command was attempted
func (c *Client) WriteLiftCommand(liftID, source, floor string, ok bool, timestamp time.Time) {
	c.WritePoint(MeasurementLiftCommand,
		map[string]string{
			"lift_id": liftID,
			"source":  source,
		},
		map[string]interface{}{
			"floor":   floor,
			"success": ok,
		},
		timestamp,
	)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the data
//   - timestamp: The time for this data point
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
