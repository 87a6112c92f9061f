// Package api implements the HTTP REST API for Gray Logic Timedata.
//
// This package provides:
//   - Sample ingestion for devices that cannot reach the MQTT broker
//   - Historic data, energy total and energy-per-period queries
//   - Read access to learned field overrides and the conflict journal
//   - Middleware stack (request ID, logging, recovery, CORS, gzip)
//   - TLS support for production deployments
//
// # Routes
//
//	GET  /api/v1/health
//	POST /api/v1/timedata/{device}/samples
//	GET  /api/v1/timedata/{device}/history
//	GET  /api/v1/timedata/{device}/energy
//	GET  /api/v1/timedata/{device}/energy/periods
//	GET  /api/v1/timedata/overrides
//	GET  /api/v1/timedata/conflicts
//
// # Errors
//
// Errors are JSON objects with status, code and message. Invalid device
// names, channels, ranges and resolutions are 400; an unreachable InfluxDB
// is 503 and an exceeded query deadline is 504.
package api
