// Package observability provides an OpenTelemetry metrics extension for
// docflow. MetricsExtension implements the run and step lifecycle hooks
// and records counters for runs by outcome, step results by status and
// retries, plus a run duration histogram.
//
// For per-attempt tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
