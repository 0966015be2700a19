package reconcile_test

import (
	"context"
	"testing"

	"github.com/dmitrijs2005/homesync/internal/common"
	"github.com/dmitrijs2005/homesync/internal/models"
	"github.com/dmitrijs2005/homesync/internal/reconcile"
	"github.com/dmitrijs2005/homesync/internal/store/memory"
	"github.com/dmitrijs2005/homesync/internal/store/storetest"
	"github.com/dmitrijs2005/homesync/internal/tenant"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func newReconciler(t *testing.T) (*reconcile.Reconciler, *memory.Store, *reconcile.Metrics) {
	t.Helper()
	s := memory.New()
	m := reconcile.NewMetrics(prometheus.NewRegistry())
	return reconcile.New(tenant.NewGuard(s), reconcile.WithMetrics(m)), s, m
}

func TestApply_CreatesMissing(t *testing.T) {
	ctx := context.Background()
	r, s, m := newReconciler(t)

	res, err := r.Apply(ctx, owner, rec(100, models.Attributes{"amount": int64(5000)}))
	require.NoError(t, err)
	require.Equal(t, reconcile.OutcomeCreated, res.Outcome)
	require.Positive(t, res.Record.Seq)
	require.Equal(t, 1, s.Len())
	require.Equal(t, 1.0, testutil.ToFloat64(m.Outcomes.WithLabelValues("personalTransactions", "created")))
}

func TestApply_NewerWinsAndCreatedAtKept(t *testing.T) {
	ctx := context.Background()
	r, s, _ := newReconciler(t)

	local := rec(100, models.Attributes{"amount": int64(5000)})
	require.NoError(t, s.Put(ctx, local))

	remote := rec(150, models.Attributes{"amount": int64(5200)})
	remote.CreatedAt = storetest.At(120)
	res, err := r.Apply(ctx, owner, remote)
	require.NoError(t, err)
	require.Equal(t, reconcile.OutcomeReplaced, res.Outcome)

	got, err := s.Get(ctx, "personalTransactions", "pt_1")
	require.NoError(t, err)
	require.Equal(t, int64(5200), got.Attributes["amount"])
	require.Equal(t, storetest.At(150), got.UpdatedAt)
	require.Equal(t, storetest.At(0), got.CreatedAt)
}

func TestApply_StaleIsKept(t *testing.T) {
	ctx := context.Background()
	r, s, _ := newReconciler(t)

	require.NoError(t, s.Put(ctx, rec(150, models.Attributes{"amount": int64(5200)})))
	before, _ := s.Get(ctx, "personalTransactions", "pt_1")

	res, err := r.Apply(ctx, owner, rec(100, models.Attributes{"amount": int64(5000)}))
	require.NoError(t, err)
	require.Equal(t, reconcile.OutcomeKept, res.Outcome)
	require.Equal(t, before, res.Record)
}

func TestApply_IdenticalIsNoop(t *testing.T) {
	ctx := context.Background()
	r, s, _ := newReconciler(t)
	v := rec(100, models.Attributes{"amount": int64(5000)})

	first, err := r.Apply(ctx, owner, v)
	require.NoError(t, err)
	second, err := r.Apply(ctx, owner, v)
	require.NoError(t, err)
	require.Equal(t, reconcile.OutcomeKept, second.Outcome)
	require.Equal(t, first.Record.Seq, second.Record.Seq)

	got, _ := s.Get(ctx, "personalTransactions", "pt_1")
	require.Equal(t, first.Record, got)
}

func TestApply_StaleResurrectionSuppressed(t *testing.T) {
	ctx := context.Background()
	r, s, _ := newReconciler(t)

	require.NoError(t, s.Put(ctx, tombstone(rec(200, models.Attributes{"amount": int64(1)}), 200)))
	res, err := r.Apply(ctx, owner, rec(150, models.Attributes{"amount": int64(2)}))
	require.NoError(t, err)
	require.Equal(t, reconcile.OutcomeKept, res.Outcome)
	require.True(t, res.Record.IsDeleted())
}

func TestApply_TenantChecks(t *testing.T) {
	ctx := context.Background()
	r, s, _ := newReconciler(t)
	require.NoError(t, s.Put(ctx, rec(100, nil)))

	// incoming claims a different owner
	foreign := rec(200, nil)
	foreign.Tenant = models.Tenant{OwnerID: "u2"}
	_, err := r.Apply(ctx, models.Tenant{OwnerID: "u2"}, foreign)
	require.ErrorIs(t, err, common.ErrTenantMismatch)

	// caller scope does not cover the record
	_, err = r.Apply(ctx, models.Tenant{OwnerID: "u2"}, rec(200, nil))
	require.ErrorIs(t, err, common.ErrTenantMismatch)

	got, _ := s.Get(ctx, "personalTransactions", "pt_1")
	require.Equal(t, storetest.At(100), got.UpdatedAt)
}

func TestApply_RejectsInvalid(t *testing.T) {
	r, _, _ := newReconciler(t)
	bad := rec(100, nil)
	bad.ID = ""
	_, err := r.Apply(context.Background(), owner, bad)
	require.ErrorIs(t, err, common.ErrInvalidRecord)

	_, err = r.Apply(context.Background(), models.Tenant{}, rec(100, nil))
	require.ErrorIs(t, err, common.ErrInvalidScope)
}
