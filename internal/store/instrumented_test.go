package store_test

import (
	"context"
	"testing"

	"github.com/dmitrijs2005/homesync/internal/common"
	"github.com/dmitrijs2005/homesync/internal/models"
	"github.com/dmitrijs2005/homesync/internal/store"
	"github.com/dmitrijs2005/homesync/internal/store/memory"
	"github.com/dmitrijs2005/homesync/internal/store/storetest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newInstrumented(t *testing.T) (*store.Instrumented, *store.Metrics, *tracetest.SpanRecorder) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	m := store.NewMetrics(prometheus.NewRegistry())
	return store.Instrument(memory.New(), "memory", m, tp), m, sr
}

func TestInstrumented_PassesStoreSuite(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, _, _ := newInstrumented(t)
		return s
	})
}

func TestInstrumented_RecordsOutcomes(t *testing.T) {
	ctx := context.Background()
	s, m, sr := newInstrumented(t)

	_, err := s.Get(ctx, "wallets", "missing")
	require.ErrorIs(t, err, common.ErrorNotFound)

	rec := storetest.NewRecord("wallets", "w1", models.Tenant{OwnerID: "u"}, nil, 1)
	require.NoError(t, s.Put(ctx, rec))
	require.NoError(t, s.Put(ctx, storetest.NewRecord("wallets", "w2", models.Tenant{OwnerID: "u"}, nil, 2)))

	for range s.Scan(ctx, "wallets", store.ScanOptions{}) {
		break
	}

	require.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("memory", "get", "not_found")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.Operations.WithLabelValues("memory", "put", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("memory", "scan", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.ScannedRows.WithLabelValues("memory", "wallets")))

	names := make([]string, 0, 4)
	for _, span := range sr.Ended() {
		names = append(names, span.Name())
	}
	require.Equal(t, []string{"store.get", "store.put", "store.put", "store.scan"}, names)
}

func TestOutcome(t *testing.T) {
	require.Equal(t, "ok", store.Outcome(nil))
	require.Equal(t, "timeout", store.Outcome(common.ErrTimeout))
	require.Equal(t, "tenant_mismatch", store.Outcome(&common.TenantMismatchError{}))
	require.Equal(t, "error", store.Outcome(common.ErrorInternal))
}
