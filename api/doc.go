// Copyright (c) BatchFlow Authors.
// Licensed under the MIT License.

// Package api hosts the BatchFlow HTTP API.
//
// # API Overview
//
// The API exposes channel statistics, channel control and health:
//
//	GET  /health                      aggregated channel health
//	GET  /healthz                     liveness probe
//	GET  /ready                       dependency readiness (Redis, database)
//	GET  /version                     build information
//	GET  /v1/channels                 statistics of all channels
//	GET  /v1/channels/{name}          statistics of one channel
//	GET  /v1/channels/{name}/health   health report of one channel
//	POST /v1/channels/{name}/stop     stop accepting requests
//	POST /v1/channels/{name}/resume   resume a stopped channel
//	GET  /v1/channels/{name}/reports        persisted health reports (database enabled)
//	GET  /v1/channels/{name}/events/latest  last batch event (Redis enabled)
//
// Mutating routes require an X-API-Key header when API keys are configured.
// Prometheus metrics are served at /metrics on the metrics port, or on the
// API port when the metrics port is 0.
//
// Handlers live in the handlers subpackage.
package api
