package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/steveyegge/prdledger/internal/storage"
	"github.com/steveyegge/prdledger/internal/types"
)

const storageScopeName = "github.com/steveyegge/prdledger/internal/storage"

// InstrumentedStorage wraps storage.Storage with OTel tracing and metrics.
// Every method gets a span and is counted in prd.storage.* metrics.
// Use WrapStorage to create one; it returns the original store unchanged when
// telemetry is disabled.
type InstrumentedStorage struct {
	inner    storage.Storage
	tracer   trace.Tracer
	ops      metric.Int64Counter
	dur      metric.Float64Histogram
	errs     metric.Int64Counter
	prdGauge metric.Int64Gauge
}

var _ storage.Storage = (*InstrumentedStorage)(nil)

// WrapStorage returns s decorated with OTel instrumentation.
// When telemetry is disabled, s is returned as-is.
func WrapStorage(s storage.Storage) storage.Storage {
	if !Enabled() {
		return s
	}
	return newInstrumented(s)
}

func newInstrumented(s storage.Storage) *InstrumentedStorage {
	m := Meter(storageScopeName)
	ops, _ := m.Int64Counter("prd.storage.operations",
		metric.WithDescription("Total storage operations executed"),
	)
	dur, _ := m.Float64Histogram("prd.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("prd.storage.errors",
		metric.WithDescription("Total storage operation errors"),
	)
	prdGauge, _ := m.Int64Gauge("prd.count",
		metric.WithDescription("Number of PRDs by status, sampled on load"),
	)
	return &InstrumentedStorage{
		inner:    s,
		tracer:   Tracer(storageScopeName),
		ops:      ops,
		dur:      dur,
		errs:     errs,
		prdGauge: prdGauge,
	}
}

// op starts a span and records a metric for the named storage operation.
func (s *InstrumentedStorage) op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	all := append([]attribute.KeyValue{attribute.String("prd.operation", name)}, attrs...)
	ctx, span := s.tracer.Start(ctx, "storage."+name,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	s.ops.Add(ctx, 1, metric.WithAttributes(all...))
	return ctx, span, time.Now()
}

// done ends the span, records duration and optional error. ErrNoChange is a
// skipped write, not a failure.
func (s *InstrumentedStorage) done(ctx context.Context, span trace.Span, start time.Time, name string, err error) {
	attrs := metric.WithAttributes(attribute.String("prd.operation", name))
	s.dur.Record(ctx, float64(time.Since(start).Microseconds())/1000, attrs)
	if err != nil && !errors.Is(err, storage.ErrNoChange) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.errs.Add(ctx, 1, attrs)
	}
	span.End()
}

func (s *InstrumentedStorage) Layout() storage.Layout { return s.inner.Layout() }

func (s *InstrumentedStorage) LoadPRDs(ctx context.Context) (*types.PRDCollection, error) {
	ctx, span, t := s.op(ctx, "LoadPRDs")
	v, err := s.inner.LoadPRDs(ctx)
	if err == nil {
		span.SetAttributes(attribute.Int("prd.result.count", len(v.PRDs)))
		s.recordCounts(ctx, v)
	}
	s.done(ctx, span, t, "LoadPRDs", err)
	return v, err
}

func (s *InstrumentedStorage) LoadTasks(ctx context.Context) (*types.TaskCollection, error) {
	ctx, span, t := s.op(ctx, "LoadTasks")
	v, err := s.inner.LoadTasks(ctx)
	if err == nil {
		span.SetAttributes(attribute.Int("prd.result.count", len(v.Tasks)))
	}
	s.done(ctx, span, t, "LoadTasks", err)
	return v, err
}

func (s *InstrumentedStorage) GetPRD(ctx context.Context, id string) (*types.PRD, error) {
	ctx, span, t := s.op(ctx, "GetPRD", attribute.String("prd.id", id))
	v, err := s.inner.GetPRD(ctx, id)
	s.done(ctx, span, t, "GetPRD", err)
	return v, err
}

func (s *InstrumentedStorage) UpdatePRDs(ctx context.Context, fn func(prds *types.PRDCollection) error) error {
	ctx, span, t := s.op(ctx, "UpdatePRDs")
	err := s.inner.UpdatePRDs(ctx, fn)
	s.done(ctx, span, t, "UpdatePRDs", err)
	return err
}

func (s *InstrumentedStorage) UpdateTasks(ctx context.Context, fn func(tasks *types.TaskCollection) error) error {
	ctx, span, t := s.op(ctx, "UpdateTasks")
	err := s.inner.UpdateTasks(ctx, fn)
	s.done(ctx, span, t, "UpdateTasks", err)
	return err
}

func (s *InstrumentedStorage) UpdatePRDsWithTasks(ctx context.Context, fn func(prds *types.PRDCollection, tasks *types.TaskCollection) error) error {
	ctx, span, t := s.op(ctx, "UpdatePRDsWithTasks")
	err := s.inner.UpdatePRDsWithTasks(ctx, fn)
	s.done(ctx, span, t, "UpdatePRDsWithTasks", err)
	return err
}

func (s *InstrumentedStorage) UpdateBoth(ctx context.Context, fn func(prds *types.PRDCollection, tasks *types.TaskCollection) error) error {
	ctx, span, t := s.op(ctx, "UpdateBoth")
	err := s.inner.UpdateBoth(ctx, fn)
	s.done(ctx, span, t, "UpdateBoth", err)
	return err
}

func (s *InstrumentedStorage) Lock(ctx context.Context, fn func(tx storage.Tx) error) error {
	ctx, span, t := s.op(ctx, "Lock")
	err := s.inner.Lock(ctx, fn)
	s.done(ctx, span, t, "Lock", err)
	return err
}

func (s *InstrumentedStorage) Close() error { return s.inner.Close() }

func (s *InstrumentedStorage) recordCounts(ctx context.Context, prds *types.PRDCollection) {
	counts := map[types.Status]int64{}
	for _, p := range prds.PRDs {
		counts[p.Status]++
	}
	for status, n := range counts {
		s.prdGauge.Record(ctx, n, metric.WithAttributes(attribute.String("prd.status", string(status))))
	}
}
