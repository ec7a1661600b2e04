package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Telemetry owns the meter provider for one server cycle.
type Telemetry struct {
	provider *sdkmetric.MeterProvider
	// handler serves /metrics when the prometheus exporter is selected, nil otherwise.
	handler http.Handler
}

// newMetricsReader creates a metrics reader based on the exporter name.
// Supported exporters: prometheus, stdout, none
func newMetricsReader(name string) (sdkmetric.Reader, http.Handler, error) {
	switch name {
	case "prometheus":
		// A private registry per cycle, so a restart does not register twice.
		registry := prometheus.NewRegistry()
		exp, err := otelprom.New(otelprom.WithRegisterer(registry))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
		}
		return exp, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil

	case "stdout":
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(os.Stdout))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create stdout metrics exporter: %w", err)
		}
		return sdkmetric.NewPeriodicReader(exp), nil, nil

	case "none", "":
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(io.Discard))
		if err != nil {
			return nil, nil, err
		}
		return sdkmetric.NewPeriodicReader(exp), nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown metrics exporter: %q", name)
	}
}

// NewTelemetry builds a meter provider for the named exporter and installs it globally.
func NewTelemetry(exporter string) (*Telemetry, error) {
	reader, handler, err := newMetricsReader(exporter)
	if err != nil {
		return nil, err
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)
	return &Telemetry{provider: provider, handler: handler}, nil
}

// Meter returns a meter from the cycle's provider.
func (t *Telemetry) Meter(name string) metric.Meter {
	return t.provider.Meter(name)
}

// Handler returns the /metrics handler, or nil when metrics are not scraped.
func (t *Telemetry) Handler() http.Handler {
	return t.handler
}

// Shutdown flushes and stops the provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return t.provider.Shutdown(ctx)
}
