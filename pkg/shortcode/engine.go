package shortcode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"
)

// MissingDisplayText replaces a shortcode invoked without a display argument.
const MissingDisplayText = "Missing display attribute"

// UnknownDisplayText is the placeholder for a display name with no registered shortcode.
func UnknownDisplayText(name string) string {
	return "Unknown shortcode display name: " + name
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithClock replaces time.Now when judging entry age.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithKeyFormat selects how arguments are canonicalized.
func WithKeyFormat(f KeyFormat) Option {
	return func(e *Engine) { e.format = f }
}

// WithMeter records engine metrics on meter instead of the global provider's.
func WithMeter(meter metric.Meter) Option {
	return func(e *Engine) { e.meter = meter }
}

// WithCoalescing makes concurrent misses for the same key share a single
// compute. Off by default: each missing caller renders its own fragment and
// the store keeps the first one written. A shared compute runs without the
// cancellation of the caller that started it.
func WithCoalescing(enabled bool) Option {
	return func(e *Engine) { e.coalesce = enabled }
}

// Engine resolves shortcode invocations through the fragment cache.
// Dispatch is safe for concurrent use.
type Engine struct {
	registry *Registry
	store    *Store
	policy   *Policy
	logger   *slog.Logger
	now      func() time.Time
	format   KeyFormat
	meter    metric.Meter
	metrics  *instruments
	coalesce bool
	group    singleflight.Group
}

// New builds an Engine over an immutable registry and an opened store.
func New(registry *Registry, store *Store, opts ...Option) (*Engine, error) {
	if registry == nil || store == nil {
		return nil, fmt.Errorf("%w: engine needs a registry and a store", ErrInvalidArgument)
	}
	e := &Engine{
		registry: registry,
		store:    store,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.meter == nil {
		e.meter = otel.GetMeterProvider().Meter(InstrumentationName)
	}
	m, err := newInstruments(e.meter)
	if err != nil {
		return nil, fmt.Errorf("creating shortcode metrics: %w", err)
	}
	e.metrics = m
	e.policy = NewPolicy(store, e.now, e.logger)
	return e, nil
}

// Registry returns the engine's registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Store returns the engine's fragment store.
func (e *Engine) Store() *Store {
	return e.store
}

// KeyFormat returns the canonicalization format keys are derived with.
func (e *Engine) KeyFormat() KeyFormat {
	return e.format
}

// Key derives the cache key for args with the engine's key format.
func (e *Engine) Key(args Args) (string, error) {
	return Key(args, e.format)
}

// Dispatch resolves one shortcode invocation.
//
// A missing or unknown display name yields placeholder text and a nil error so
// the rest of the page still renders. A fresh cache entry is returned without
// calling the shortcode. On a miss the shortcode is rendered and its output is
// stored; failing to store it is returned as an error wrapping ErrStorage.
func (e *Engine) Dispatch(ctx context.Context, args Args) (string, error) {
	display, ok, err := args.Get(DisplayArg)
	if err != nil {
		return "", err
	}
	if !ok {
		e.metrics.diagnostic(ctx, "missing_display")
		return MissingDisplayText, nil
	}

	key, err := e.Key(args)
	if err != nil {
		return "", err
	}
	ttl := args.TTLSeconds()

	decision := e.policy.Evaluate(key, ttl)
	if decision.Servable() {
		text, err := e.store.Read(key)
		if err == nil {
			outcome := "hit"
			if decision == Stale {
				outcome = "stale"
			}
			e.metrics.lookup(ctx, display, outcome)
			e.logger.Debug("Serving cached fragment", "display", display, "key", key, "ttl", ttl)
			return text, nil
		}
		if !errors.Is(err, ErrNotFound) {
			e.logger.Warn("Failed to read cached fragment, rendering again", "display", display, "key", key, "error", err)
		}
	}
	if decision == Evicted {
		e.metrics.lookup(ctx, display, "evicted")
	} else {
		e.metrics.lookup(ctx, display, "miss")
	}

	sc, ok := e.registry.Lookup(display)
	if !ok {
		e.metrics.diagnostic(ctx, "unknown_display")
		return UnknownDisplayText(display), nil
	}

	if !e.coalesce {
		return e.render(ctx, sc, display, key, args)
	}
	// The flight outlives any one caller, so it renders without their
	// cancellation. Each caller still stops waiting when its own ctx ends.
	flight := context.WithoutCancel(ctx)
	ch := e.group.DoChan(key, func() (any, error) {
		return e.render(flight, sc, display, key, args)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (e *Engine) render(ctx context.Context, sc Shortcode, display, key string, args Args) (string, error) {
	start := time.Now()
	text, err := sc.Render(ctx, args)
	e.metrics.render(ctx, display, time.Since(start), err)
	if err != nil {
		return "", fmt.Errorf("rendering shortcode %q: %w", display, err)
	}

	if err = e.store.Write(key, text); err != nil {
		e.metrics.errors.Add(ctx, 1)
		return "", fmt.Errorf("storing shortcode %q: %w", display, err)
	}
	e.logger.Debug("Stored rendered fragment", "display", display, "key", key, "bytes", len(text))
	return text, nil
}
