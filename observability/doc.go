// Package observability provides an OpenTelemetry-based metrics
// extension for the automation engine. The MetricsExtension implements
// lifecycle hooks to record system-wide counters for intent executions,
// event bridge outcomes, workflow runs and step retries.
//
// For per-intent latency histograms, see the middleware package:
// middleware.Metrics().
package observability
