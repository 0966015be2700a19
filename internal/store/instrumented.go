package store

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/dmitrijs2005/homesync/internal/common"
	"github.com/dmitrijs2005/homesync/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/dmitrijs2005/homesync/internal/store"

// Metrics are the Prometheus collectors of store operations.
type Metrics struct {
	Operations  *prometheus.CounterVec
	Duration    *prometheus.HistogramVec
	ScannedRows *prometheus.CounterVec
	PurgedRows  *prometheus.CounterVec
}

// NewMetrics registers the store collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "homesync_store_operations_total",
			Help: "Store operations by backend, operation and outcome",
		}, []string{"backend", "op", "outcome"}),
		Duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "homesync_store_operation_duration_seconds",
			Help:    "Duration of store operations",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
		}, []string{"backend", "op"}),
		ScannedRows: f.NewCounterVec(prometheus.CounterOpts{
			Name: "homesync_store_scanned_rows_total",
			Help: "Rows yielded by scans",
		}, []string{"backend", "kind"}),
		PurgedRows: f.NewCounterVec(prometheus.CounterOpts{
			Name: "homesync_store_purged_rows_total",
			Help: "Tombstones physically removed by the retention sweep",
		}, []string{"backend", "kind"}),
	}
}

// Outcome classifies err for metric labels.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, common.ErrorNotFound):
		return "not_found"
	case errors.Is(err, common.ErrTimeout):
		return "timeout"
	case errors.Is(err, common.ErrTenantMismatch):
		return "tenant_mismatch"
	default:
		return "error"
	}
}

// Instrumented decorates a Store with metrics and tracing spans.
type Instrumented struct {
	next    Store
	backend string
	metrics *Metrics
	tracer  trace.Tracer
}

var _ Store = (*Instrumented)(nil)

func Instrument(next Store, backend string, m *Metrics, tp trace.TracerProvider) *Instrumented {
	return &Instrumented{
		next:    next,
		backend: backend,
		metrics: m,
		tracer:  tp.Tracer(tracerName),
	}
}

func (s *Instrumented) start(ctx context.Context, op, kind, id string) (context.Context, trace.Span, time.Time) {
	attrs := []attribute.KeyValue{
		attribute.String("store.backend", s.backend),
		attribute.String("record.kind", kind),
	}
	if id != "" {
		attrs = append(attrs, attribute.String("record.id", id))
	}
	ctx, span := s.tracer.Start(ctx, "store."+op, trace.WithAttributes(attrs...))
	return ctx, span, time.Now()
}

func (s *Instrumented) finish(span trace.Span, op string, started time.Time, err error) {
	outcome := Outcome(err)
	s.metrics.Operations.WithLabelValues(s.backend, op, outcome).Inc()
	s.metrics.Duration.WithLabelValues(s.backend, op).Observe(time.Since(started).Seconds())

	span.SetAttributes(attribute.String("store.outcome", outcome))
	if err != nil && outcome != "not_found" {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *Instrumented) Get(ctx context.Context, kind, id string) (models.Record, error) {
	ctx, span, started := s.start(ctx, "get", kind, id)
	rec, err := s.next.Get(ctx, kind, id)
	s.finish(span, "get", started, err)
	return rec, err
}

func (s *Instrumented) Put(ctx context.Context, rec models.Record) error {
	ctx, span, started := s.start(ctx, "put", rec.Kind, rec.ID)
	err := s.next.Put(ctx, rec)
	s.finish(span, "put", started, err)
	return err
}

func (s *Instrumented) Mutate(ctx context.Context, kind, id string, fn MutateFunc) (models.Record, error) {
	ctx, span, started := s.start(ctx, "mutate", kind, id)
	rec, err := s.next.Mutate(ctx, kind, id, fn)
	s.finish(span, "mutate", started, err)
	return rec, err
}

// Scan keeps its span open until the caller stops iterating.
func (s *Instrumented) Scan(ctx context.Context, kind string, opts ScanOptions) iter.Seq2[models.Record, error] {
	return func(yield func(models.Record, error) bool) {
		ctx, span, started := s.start(ctx, "scan", kind, "")
		var (
			rows   int
			outErr error
		)
		defer func() {
			span.SetAttributes(attribute.Int("store.rows", rows))
			s.metrics.ScannedRows.WithLabelValues(s.backend, kind).Add(float64(rows))
			s.finish(span, "scan", started, outErr)
		}()

		for rec, err := range s.next.Scan(ctx, kind, opts) {
			if err != nil {
				outErr = err
				yield(models.Record{}, err)
				return
			}
			rows++
			if !yield(rec, nil) {
				return
			}
		}
	}
}

func (s *Instrumented) Purge(ctx context.Context, kind string, deletedBefore time.Time, limit int) ([]models.Record, error) {
	ctx, span, started := s.start(ctx, "purge", kind, "")
	recs, err := s.next.Purge(ctx, kind, deletedBefore, limit)
	s.metrics.PurgedRows.WithLabelValues(s.backend, kind).Add(float64(len(recs)))
	s.finish(span, "purge", started, err)
	return recs, err
}

func (s *Instrumented) Expired(ctx context.Context, kind string, deletedBefore time.Time, limit int) ([]models.Record, error) {
	ctx, span, started := s.start(ctx, "expired", kind, "")
	recs, err := s.next.Expired(ctx, kind, deletedBefore, limit)
	s.finish(span, "expired", started, err)
	return recs, err
}

func (s *Instrumented) Close() error {
	return s.next.Close()
}
