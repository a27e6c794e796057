// Package api implements the HTTP API and WebSocket server for the lift bridge.
//
// This package provides:
//   - The polling endpoints: /, /state, /stats and /command
//   - /health, /history and /history/commands for operators
//   - Prometheus exposition on the configured metrics path
//   - A WebSocket hub that streams every merged state
//   - Middleware for request IDs, request metrics, panic recovery and CORS
//
// # Wire contract
//
// The polling endpoints answer with fixed, flat JSON bodies that existing
// dashboards parse directly.
// Errors are a single-key object:
//
//	{"error": "floor argument required"}
//
// GET /command takes the floor as a query parameter and forwards it to the
// controller unchanged. A present but empty value is still sent.
//
// # Lifecycle
//
//	server, err := api.New(deps)
//	updater.AddListener(server.Hub())
//	err = server.Start(ctx)
//	defer server.Close()
//
// # Graceful Degradation
//
// History, MQTT and database sections of the health response are omitted
// when those features are disabled. /history answers 503 without a
// database.
package api
