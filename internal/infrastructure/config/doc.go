// Package config loads the lift bridge configuration.
//
// Values are resolved in three layers: built-in defaults (COM3 at 9600 baud,
// HTTP on 8081, every optional sink off), then the YAML file, then the
// LIFTBRIDGE_* environment variables. Validate runs last and reports every
// problem in one error.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return fmt.Errorf("loading config: %w", err)
//	}
//	port := cfg.Serial.Port
//
// The file is read once at startup; nothing reloads it. Put the MQTT
// password and InfluxDB token in the environment rather than the file.
package config
