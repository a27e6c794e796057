// Package lift bridges a serial lift controller to Gray Logic.
//
// The controller streams newline-delimited JSON status objects over a
// serial port and accepts "GOTO:<floor>\n" commands. This package turns
// that stream into a single shared State record and exposes it, together
// with a command path, to the HTTP API and MQTT.
//
// # Architecture
//
//	┌────────────┐ bytes ┌──────────────┐ lines ┌─────────┐ merge ┌───────┐
//	│  Channel   │──────►│LineAssembler │──────►│ Updater │──────►│ Store │
//	│ (serial)   │       └──────────────┘       └────┬────┘       └───▲───┘
//	└─────▲──────┘                                   │ listeners       │ read
//	      │ GOTO:<floor>\n                           ▼                 │
//	      └─────────────────────────────────── Gateway ◄── HTTP / MQTT
//
// # Components
//
//   - Channel: the single serial connection, opened with a fixed-delay retry
//   - LineAssembler: byte stream to trimmed lines, with an optional length cap
//   - Updater: background loop that merges JSON status lines into the Store
//   - Store: the State record behind a read/write lock
//   - Gateway: state snapshots, statistics and the command write path
//   - Bridge: MQTT state publishing, command subscription and health
//   - History, Telemetry: SQLite and InfluxDB listeners
//
// # Status lines
//
// Only lines that start with "{" and end with "}" are considered. Known keys
// overwrite the stored value, unknown keys are ignored, and absent keys keep
// their value. A line that fails to parse is logged and dropped.
//
// # Thread Safety
//
// All exported types are safe for concurrent use unless noted otherwise.
// LineAssembler and Channel.NextByte belong to the update loop goroutine.
package lift
