package lift

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-lift/internal/infrastructure/metrics"
)

// TelemetryWriter is the time-series sink. *influxdb.Client satisfies it.
type TelemetryWriter interface {
	WriteLiftState(liftID, mode string, fields map[string]interface{}, timestamp time.Time)
	WriteLiftCommand(liftID, source, floor string, ok bool, timestamp time.Time)
}

// Telemetry forwards merged states and command attempts to a
// TelemetryWriter. Register it with Updater.AddListener and
// Gateway.AddCommandListener.
type Telemetry struct {
	w TelemetryWriter
}

// NewTelemetry creates a Telemetry writing to w.
func NewTelemetry(w TelemetryWriter) *Telemetry {
	return &Telemetry{w: w}
}

// OnStateChange writes the numeric fields of the merged record.
func (t *Telemetry) OnStateChange(_ context.Context, change StateChange) {
	t.w.WriteLiftState(change.LiftID, change.State.State, numericFields(change.State), change.Timestamp)
}

// OnCommand writes one command point.
func (t *Telemetry) OnCommand(event CommandEvent) {
	t.w.WriteLiftCommand(event.LiftID, event.Source, event.Floor, event.Err == nil, event.Timestamp)
}

func numericFields(s State) map[string]interface{} {
	return map[string]interface{}{
		"floor":                s.Floor,
		"target":               s.Target,
		"dir":                  s.Dir,
		"door":                 s.Door,
		"totalTrips":           s.TotalTrips,
		"stopCount":            s.StopCount,
		"doorCycles":           s.DoorCycles,
		"avgTripMs":            s.AvgTripMs,
		"avgWaitMs":            s.AvgWaitMs,
		"travelDistanceFloors": s.TravelDistanceFloors,
		"uptimeMs":             s.UptimeMs,
	}
}

// RecordStateGauges mirrors a merged record into the Prometheus gauges.
// Register with Updater.AddListener(StateListenerFunc(RecordStateGauges)).
func RecordStateGauges(_ context.Context, change StateChange) {
	s := change.State
	metrics.SetPosition(change.LiftID, "floor", s.Floor)
	metrics.SetPosition(change.LiftID, "target", s.Target)
	metrics.SetPosition(change.LiftID, "dir", s.Dir)
	metrics.SetPosition(change.LiftID, "door", s.Door)

	stats := s.Stats()
	metrics.SetStatistic(change.LiftID, "totalTrips", float64(stats.TotalTrips))
	metrics.SetStatistic(change.LiftID, "stopCount", float64(stats.StopCount))
	metrics.SetStatistic(change.LiftID, "doorCycles", float64(stats.DoorCycles))
	metrics.SetStatistic(change.LiftID, "avgTripMs", stats.AvgTripMs)
	metrics.SetStatistic(change.LiftID, "avgWaitMs", stats.AvgWaitMs)
	metrics.SetStatistic(change.LiftID, "travelDistanceFloors", stats.TravelDistanceFloors)
	metrics.SetStatistic(change.LiftID, "uptimeMs", stats.UptimeMs)
}
