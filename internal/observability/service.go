package observability

import (
	"context"
	"updatehub/internal/ratelimit"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// InstrumentedLimiter wraps a ratelimit.Limiter and counts denials per
// endpoint class. Allowed requests pass through uncounted; the HTTP layer
// already measures request volume.
type InstrumentedLimiter struct {
	inner   ratelimit.Limiter
	denials metric.Int64Counter
}

// NewInstrumentedLimiter creates a limiter wrapper recording denial counts.
func NewInstrumentedLimiter(inner ratelimit.Limiter) (*InstrumentedLimiter, error) {
	meter := otel.Meter("updatehub/ratelimit")

	denials, err := meter.Int64Counter(
		"ratelimit.denials",
		metric.WithDescription("Number of requests rejected by the rate limiter"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedLimiter{inner: inner, denials: denials}, nil
}

func (l *InstrumentedLimiter) Allow(clientKey, class string) ratelimit.Decision {
	decision := l.inner.Allow(clientKey, class)
	if !decision.Allowed {
		l.denials.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("class", class)))
	}
	return decision
}

func (l *InstrumentedLimiter) Close() {
	l.inner.Close()
}

// RegisterRealtimeMetrics exposes the live WebSocket session count and the
// cumulative backpressure drop count as observable instruments. Both
// callbacks are read on every metrics collection.
func RegisterRealtimeMetrics(sessions func() int, dropped func() int64) error {
	meter := otel.Meter("updatehub/realtime")

	sessionGauge, err := meter.Int64ObservableGauge(
		"realtime.active_sessions",
		metric.WithDescription("Number of connected realtime sessions"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return err
	}

	droppedCounter, err := meter.Int64ObservableCounter(
		"realtime.events_dropped",
		metric.WithDescription("Events shed from session queues under backpressure"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return err
	}

	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(sessionGauge, int64(sessions()))
		o.ObserveInt64(droppedCounter, dropped())
		return nil
	}, sessionGauge, droppedCounter)
	return err
}
