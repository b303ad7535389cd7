// Package sinks implements the progress consumers: structured logs,
// Prometheus collectors and the run repository.
package sinks
