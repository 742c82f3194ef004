package observability

import (
	"context"
	"time"
	"updatehub/internal/models"
	"updatehub/internal/storage"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentedStorage wraps a storage.Storage implementation with
// OpenTelemetry tracing and metrics instrumentation.
type InstrumentedStorage struct {
	inner     storage.Storage
	tracer    trace.Tracer
	duration  metric.Float64Histogram
	errors    metric.Int64Counter
	downloads metric.Int64Counter
	bytes     metric.Int64Counter
}

// NewInstrumentedStorage creates a new storage wrapper that records trace spans,
// operation latency histograms, and error counters for every storage method call.
func NewInstrumentedStorage(inner storage.Storage) (*InstrumentedStorage, error) {
	tracer := otel.Tracer("updatehub/storage")
	meter := otel.Meter("updatehub/storage")

	duration, err := meter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Duration of storage operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"storage.operation.errors",
		metric.WithDescription("Number of storage operation errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	downloads, err := meter.Int64Counter(
		"downloads.finished",
		metric.WithDescription("Number of download attempts reaching a terminal status"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	bytes, err := meter.Int64Counter(
		"downloads.bytes_served",
		metric.WithDescription("Total artifact bytes streamed to clients"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedStorage{
		inner:     inner,
		tracer:    tracer,
		duration:  duration,
		errors:    errCounter,
		downloads: downloads,
		bytes:     bytes,
	}, nil
}

func (s *InstrumentedStorage) startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, "storage."+operation,
		trace.WithAttributes(append([]attribute.KeyValue{
			attribute.String("storage.operation", operation),
		}, attrs...)...),
	)
	return ctx, span
}

func (s *InstrumentedStorage) record(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	elapsed := time.Since(start).Seconds()
	attrs := metric.WithAttributes(attribute.String("operation", operation))

	s.duration.Record(ctx, elapsed, attrs)

	if err != nil {
		s.errors.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

func (s *InstrumentedStorage) CreateRelease(ctx context.Context, release *models.Release) error {
	ctx, span := s.startSpan(ctx, "CreateRelease",
		attribute.String("version", release.Version),
		attribute.String("channel", release.Channel),
	)
	start := time.Now()
	err := s.inner.CreateRelease(ctx, release)
	s.record(ctx, span, "CreateRelease", start, err)
	return err
}

func (s *InstrumentedStorage) GetRelease(ctx context.Context, version string) (*models.Release, error) {
	ctx, span := s.startSpan(ctx, "GetRelease", attribute.String("version", version))
	start := time.Now()
	result, err := s.inner.GetRelease(ctx, version)
	s.record(ctx, span, "GetRelease", start, err)
	return result, err
}

func (s *InstrumentedStorage) LatestActiveRelease(ctx context.Context, channel string) (*models.Release, error) {
	ctx, span := s.startSpan(ctx, "LatestActiveRelease", attribute.String("channel", channel))
	start := time.Now()
	result, err := s.inner.LatestActiveRelease(ctx, channel)
	s.record(ctx, span, "LatestActiveRelease", start, err)
	return result, err
}

func (s *InstrumentedStorage) SetReleaseActive(ctx context.Context, version string, active bool) error {
	ctx, span := s.startSpan(ctx, "SetReleaseActive",
		attribute.String("version", version),
		attribute.Bool("active", active),
	)
	start := time.Now()
	err := s.inner.SetReleaseActive(ctx, version, active)
	s.record(ctx, span, "SetReleaseActive", start, err)
	return err
}

func (s *InstrumentedStorage) ListReleases(ctx context.Context, filter models.ReleaseFilter) ([]*models.Release, int, error) {
	ctx, span := s.startSpan(ctx, "ListReleases", attribute.String("channel", filter.Channel))
	start := time.Now()
	result, total, err := s.inner.ListReleases(ctx, filter)
	s.record(ctx, span, "ListReleases", start, err)
	return result, total, err
}

func (s *InstrumentedStorage) DeleteRelease(ctx context.Context, version string) error {
	ctx, span := s.startSpan(ctx, "DeleteRelease", attribute.String("version", version))
	start := time.Now()
	err := s.inner.DeleteRelease(ctx, version)
	s.record(ctx, span, "DeleteRelease", start, err)
	return err
}

func (s *InstrumentedStorage) CreateDownloadAttempt(ctx context.Context, attempt *models.DownloadAttempt) error {
	ctx, span := s.startSpan(ctx, "CreateDownloadAttempt",
		attribute.String("version", attempt.Version),
		attribute.String("attempt_id", attempt.ID),
	)
	start := time.Now()
	err := s.inner.CreateDownloadAttempt(ctx, attempt)
	s.record(ctx, span, "CreateDownloadAttempt", start, err)
	return err
}

func (s *InstrumentedStorage) UpdateDownloadAttempt(ctx context.Context, attempt *models.DownloadAttempt) error {
	ctx, span := s.startSpan(ctx, "UpdateDownloadAttempt",
		attribute.String("attempt_id", attempt.ID),
		attribute.String("status", attempt.Status),
	)
	start := time.Now()
	err := s.inner.UpdateDownloadAttempt(ctx, attempt)
	s.record(ctx, span, "UpdateDownloadAttempt", start, err)

	// Attempt finalization is the one place the outcome and byte count are
	// both known.
	if err == nil && attempt.IsTerminal() {
		outcome := metric.WithAttributes(
			attribute.String("status", attempt.Status),
			attribute.String("version", attempt.Version),
		)
		s.downloads.Add(ctx, 1, outcome)
		if attempt.Status == models.DownloadStatusCompleted {
			s.bytes.Add(ctx, attempt.BytesTransferred, outcome)
		}
	}
	return err
}

func (s *InstrumentedStorage) StaleDownloadAttempts(ctx context.Context, cutoff time.Time) ([]*models.DownloadAttempt, error) {
	ctx, span := s.startSpan(ctx, "StaleDownloadAttempts")
	start := time.Now()
	result, err := s.inner.StaleDownloadAttempts(ctx, cutoff)
	s.record(ctx, span, "StaleDownloadAttempts", start, err)
	return result, err
}

func (s *InstrumentedStorage) ReleaseStats(ctx context.Context) ([]*models.ReleaseStats, error) {
	ctx, span := s.startSpan(ctx, "ReleaseStats")
	start := time.Now()
	result, err := s.inner.ReleaseStats(ctx)
	s.record(ctx, span, "ReleaseStats", start, err)
	return result, err
}

func (s *InstrumentedStorage) Ping(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "Ping")
	start := time.Now()
	err := s.inner.Ping(ctx)
	s.record(ctx, span, "Ping", start, err)
	return err
}

func (s *InstrumentedStorage) Close() error {
	return s.inner.Close()
}
