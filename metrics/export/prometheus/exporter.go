package prometheus

import (
	"bytes"
	"errors"
	"net/http"

	goGate "github.com/MrEthical07/goGate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
)

var ErrNilEngine = errors.New("nil engine")

type dropCounter interface {
	AuditDropped() uint64
}

// PrometheusExporter exposes one engine's metrics on a private registry.
type PrometheusExporter struct {
	registry *prometheus.Registry
}

// NewPrometheusExporter registers the engine's counters and the audit drop
// counter. Counters read zero unless metrics are enabled in the engine
// config.
func NewPrometheusExporter(engine *goGate.Engine) (*PrometheusExporter, error) {
	if engine == nil {
		return nil, ErrNilEngine
	}
	return NewPrometheusExporterFromCollector(engine.Metrics(), engine)
}

// NewPrometheusExporterFromCollector builds an exporter over any collector
// and drop counter.
func NewPrometheusExporterFromCollector(c prometheus.Collector, drops dropCounter) (*PrometheusExporter, error) {
	reg := prometheus.NewRegistry()
	if c != nil {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	if drops != nil {
		dropped := prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "gogate_audit_dropped_total",
			Help: "Dropped audit events due to dispatcher backpressure.",
		}, func() float64 { return float64(drops.AuditDropped()) })
		if err := reg.Register(dropped); err != nil {
			return nil, err
		}
	}
	return &PrometheusExporter{registry: reg}, nil
}

// Registry returns the private registry so callers can add their own
// collectors next to the engine's.
func (p *PrometheusExporter) Registry() *prometheus.Registry {
	return p.registry
}

// Handler returns an http.Handler that serves the registry.
func (p *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Render writes the current metrics in text exposition format.
func (p *PrometheusExporter) Render() (string, error) {
	if p == nil {
		return "", nil
	}
	families, err := p.registry.Gather()
	if err != nil {
		return "", err
	}
	var b bytes.Buffer
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(&b, mf); err != nil {
			return "", err
		}
	}
	return b.String(), nil
}
