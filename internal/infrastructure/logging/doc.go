// Package logging builds the bridge's structured logger on log/slog.
//
// Every entry carries service=liftbridge and the build version. Components
// get a child logger tagged with their name:
//
//	logger := logging.New(cfg.Logging, version)
//	updaterLog := logger.Component("updater")
//	updaterLog.Info("update loop started", "lift_id", liftID)
//
// The YAML section:
//
//	logging:
//	  level: info     # debug, info, warn, error
//	  format: json    # json, text
//	  output: stdout  # stdout, stderr
//
// Per-request HTTP entries are logged at debug because polling clients hit
// /state several times a second. Never log the MQTT password or InfluxDB
// token.
package logging
