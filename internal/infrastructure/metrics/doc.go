// Package metrics defines the Prometheus collectors exported by the lift bridge.
//
// Collectors are registered with the default registry at init through
// promauto. Callers use the Record*/Set* helpers rather than touching the
// vectors directly. The API server exposes them on /metrics.
package metrics
