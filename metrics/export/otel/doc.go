// Package otel provides OpenTelemetry metric exporter bindings for goGate counters.
//
// [NewOTelExporter] registers one Int64ObservableCounter per goGate metric plus
// gogate_audit_dropped_total. A single callback reads
// [goGate.Engine.MetricsSnapshot] on each collection cycle.
//
// # What this package must NOT do
//
//   - Own the OTel MeterProvider. Callers supply the Meter.
//   - Mutate engine state.
package otel
