// Command gogate-server runs the goGate engine behind its HTTP shell.
//
// Engine settings (resolver, limiter, mfa, intent, audit, metrics, log)
// and the "server" section are read from the same YAML file:
//
//	go run ./cmd/gogate-server -config gogate.yaml
//
// With no file it serves on :8080 with the in-memory backend and stores.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goGate "github.com/MrEthical07/goGate"
	"github.com/MrEthical07/goGate/httpapi"
	otelexport "github.com/MrEthical07/goGate/metrics/export/otel"
	promexport "github.com/MrEthical07/goGate/metrics/export/prometheus"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "YAML config file; GATE_CONFIG is used when empty")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	if configPath == "" {
		configPath = os.Getenv("GATE_CONFIG")
	}
	cfg, err := goGate.LoadConfig(configPath)
	if err != nil {
		return err
	}
	srvCfg, err := loadServerConfig(configPath)
	if err != nil {
		return err
	}

	log, err := goGate.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if srvCfg.Telemetry.Enabled {
		shutdown, err := initTelemetry(ctx, srvCfg.Telemetry.ServiceName, log)
		if err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				log.Warn("telemetry shutdown failed", zap.Error(err))
			}
		}()
	}

	d, err := wire(ctx, srvCfg, log)
	if err != nil {
		return err
	}
	defer d.close(log)

	var engine *goGate.Engine
	provider, err := relayed(d.provider, d.relay, func() *goGate.Engine { return engine })
	if err != nil {
		return fmt.Errorf("relay: %w", err)
	}

	cfg.Metrics.Enabled = true
	engine, err = goGate.New().
		WithConfig(cfg).
		WithProvider(provider).
		WithProfileStore(d.profiles).
		WithStore(d.local).
		WithLogger(log).
		Build()
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	defer engine.Close()

	prom, err := promexport.NewPrometheusExporter(engine)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	if srvCfg.Telemetry.Enabled {
		meters, err := otelexport.NewOTelExporter(otel.Meter("github.com/MrEthical07/goGate"), engine)
		if err != nil {
			return fmt.Errorf("otel metrics: %w", err)
		}
		defer func() { _ = meters.Close() }()
	}

	api, err := httpapi.New(engine,
		httpapi.WithLogger(log),
		httpapi.WithServiceName(srvCfg.Telemetry.ServiceName),
		httpapi.WithRegisterer(prom.Registry()),
		httpapi.WithMetricsHandler(prom.Handler()),
	)
	if err != nil {
		return fmt.Errorf("http: %w", err)
	}

	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	srv := &http.Server{
		Addr:              srvCfg.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", srvCfg.Addr), zap.String("provider", srvCfg.Provider.Kind))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
