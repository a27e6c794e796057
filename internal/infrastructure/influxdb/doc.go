// Package influxdb provides InfluxDB connectivity for the lift bridge.
//
// It wraps the official influxdb-client-go v2 library and records:
//   - lift_state: one point per merged status line
//   - lift_command: one point per movement command attempt
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteLiftState("lift-1", "Idle", fields, time.Now())
//
// # Error Handling
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval. Asynchronous write failures are delivered to the
// SetOnError callback; connection and health check errors are returned
// directly.
package influxdb
