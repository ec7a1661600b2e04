package shortcode

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// InstrumentationName is the otel meter name engine instruments are recorded under.
const InstrumentationName = "github.com/CTAG07/shortcodes/pkg/shortcode"

type instruments struct {
	lookups     metric.Int64Counter
	renders     metric.Int64Counter
	errors      metric.Int64Counter
	diagnostics metric.Int64Counter
	renderDur   metric.Float64Histogram
}

func newInstruments(meter metric.Meter) (*instruments, error) {
	lookups, err := meter.Int64Counter(
		"shortcode.cache.lookups",
		metric.WithDescription("Cache lookups by outcome (hit, miss, evicted, stale)"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}

	renders, err := meter.Int64Counter(
		"shortcode.renders",
		metric.WithDescription("Shortcode compute invocations"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	errs, err := meter.Int64Counter(
		"shortcode.errors",
		metric.WithDescription("Dispatches that failed with an error"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	diagnostics, err := meter.Int64Counter(
		"shortcode.diagnostics",
		metric.WithDescription("Dispatches answered with placeholder text"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	renderDur, err := meter.Float64Histogram(
		"shortcode.render.duration_ms",
		metric.WithDescription("Shortcode compute duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &instruments{
		lookups:     lookups,
		renders:     renders,
		errors:      errs,
		diagnostics: diagnostics,
		renderDur:   renderDur,
	}, nil
}

func (m *instruments) lookup(ctx context.Context, display, outcome string) {
	m.lookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("shortcode.display", display),
		attribute.String("cache.outcome", outcome),
	))
}

func (m *instruments) render(ctx context.Context, display string, d time.Duration, err error) {
	opt := metric.WithAttributes(attribute.String("shortcode.display", display))
	m.renders.Add(ctx, 1, opt)
	m.renderDur.Record(ctx, float64(d.Microseconds())/1000, opt)
	if err != nil {
		m.errors.Add(ctx, 1, opt)
	}
}

func (m *instruments) diagnostic(ctx context.Context, reason string) {
	m.diagnostics.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
