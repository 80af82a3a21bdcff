// Package api hosts the HTTP server that drives harvest runs. Routes:
//   - POST /v1/runs runs a harvest from a config file on the server's disk.
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
package api
