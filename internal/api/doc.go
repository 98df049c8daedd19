// Package api implements the operations HTTP endpoint of the access
// controller.
//
// It is read-only and meant for the local network: health probes, a JSON
// summary of the store and access log, runtime figures and the Prometheus
// exposition. User and schedule management happens over MQTT (see package
// keypad), not here.
//
//	GET /api/v1/health   liveness plus dependency checks (503 when degraded)
//	GET /api/v1/stats    store counts and today's access log summary
//	GET /api/v1/system   runtime, MQTT and database pool figures
//	GET /metrics         Prometheus exposition (path configurable)
package api
