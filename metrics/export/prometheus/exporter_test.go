package prometheus

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	goGate "github.com/MrEthical07/goGate"
	"github.com/MrEthical07/goGate/provider/memory"
)

type fakeDrops uint64

func (f fakeDrops) AuditDropped() uint64 { return uint64(f) }

func TestRenderIncludesCountersAndDrops(t *testing.T) {
	m := goGate.NewMetrics(goGate.MetricsConfig{Enabled: true, Namespace: "gogate"})
	m.Inc(goGate.MetricSignInSuccess)
	m.Inc(goGate.MetricSignInSuccess)

	exp, err := NewPrometheusExporterFromCollector(m, fakeDrops(4))
	if err != nil {
		t.Fatalf("new exporter: %v", err)
	}
	out, err := exp.Render()
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(out, "gogate_sign_in_success_total 2") {
		t.Fatalf("expected sign-in counter in output, got:\n%s", out)
	}
	if !strings.Contains(out, "gogate_audit_dropped_total 4") {
		t.Fatalf("expected audit dropped counter in output, got:\n%s", out)
	}
	if !strings.Contains(out, "# TYPE gogate_resolve_duration_seconds histogram") {
		t.Fatalf("expected resolve histogram in output, got:\n%s", out)
	}
}

func TestHandlerServesEngineMetrics(t *testing.T) {
	p, err := memory.New(memory.WithBcryptCost(4))
	if err != nil {
		t.Fatalf("memory provider: %v", err)
	}
	cfg := goGate.DefaultConfig()
	cfg.Metrics.Enabled = true
	engine, err := goGate.New().
		WithConfig(cfg).
		WithProvider(p).
		WithProfileStore(noProfiles{}).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer engine.Close()

	_ = engine.RequestPasswordReset(context.Background(), "nobody@example.com")

	exp, err := NewPrometheusExporter(engine)
	if err != nil {
		t.Fatalf("new exporter: %v", err)
	}
	rr := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "gogate_password_reset_request_total 1") {
		t.Fatalf("expected reset counter, got:\n%s", rr.Body.String())
	}
}

func TestNilEngineRejected(t *testing.T) {
	if _, err := NewPrometheusExporter(nil); !errors.Is(err, ErrNilEngine) {
		t.Fatalf("expected ErrNilEngine, got %v", err)
	}
}

type noProfiles struct{}

func (noProfiles) GetProfile(context.Context, string) (*goGate.Profile, error) {
	return nil, goGate.ErrProfileNotFound
}
func (noProfiles) CreateProfile(context.Context, *goGate.Profile) error { return nil }
func (noProfiles) UpdateProfile(context.Context, *goGate.Profile) error { return nil }
