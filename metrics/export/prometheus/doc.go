// Package prometheus serves goGate metrics over HTTP in Prometheus text
// exposition format.
//
// [NewPrometheusExporter] registers the engine's collector on a private
// registry together with gogate_audit_dropped_total. Mount [PrometheusExporter.Handler]
// wherever the scrape endpoint should live.
//
// # What this package must NOT do
//
//   - Register metrics in the global Prometheus registry.
//   - Mutate engine state.
package prometheus
