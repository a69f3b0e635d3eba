// Package api hosts the optional status server for a running archive session.
// Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/session for the live monitor state and interim counters.
package api
