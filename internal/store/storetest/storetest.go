// Package storetest is a behavioural test suite every store.Store backend
// must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/homesync/internal/common"
	"github.com/dmitrijs2005/homesync/internal/filter"
	"github.com/dmitrijs2005/homesync/internal/models"
	"github.com/dmitrijs2005/homesync/internal/store"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store. Cleanup is the factory's job.
type Factory func(t *testing.T) store.Store

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// At returns base + n seconds.
func At(n int) time.Time {
	return base.Add(time.Duration(n) * time.Second)
}

// NewRecord builds a valid live record for tests.
func NewRecord(kind, id string, tenant models.Tenant, attrs models.Attributes, updated int) models.Record {
	return models.Record{
		Kind:       kind,
		ID:         id,
		Tenant:     tenant,
		Attributes: attrs,
		Operation:  models.OperationInsert,
		CreatedAt:  At(0),
		UpdatedAt:  At(updated),
	}
}

func stripSeq(r models.Record) models.Record {
	r.Seq = 0
	return r
}

func ids(recs []models.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}

var (
	alice = models.Tenant{OwnerID: "alice"}
	bob   = models.Tenant{OwnerID: "bob"}
	house = models.Tenant{OwnerID: "alice", HouseholdID: "h1"}
)

// Run executes the suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("PutGet", func(t *testing.T) { testPutGet(t, newStore(t)) })
	t.Run("PutIdempotent", func(t *testing.T) { testPutIdempotent(t, newStore(t)) })
	t.Run("PutRejectsInvalid", func(t *testing.T) { testPutRejectsInvalid(t, newStore(t)) })
	t.Run("TombstoneVisibleToGet", func(t *testing.T) { testTombstone(t, newStore(t)) })
	t.Run("SeqIncreases", func(t *testing.T) { testSeq(t, newStore(t)) })
	t.Run("ScanDefaultOrder", func(t *testing.T) { testScanDefaultOrder(t, newStore(t)) })
	t.Run("ScanOptions", func(t *testing.T) { testScanOptions(t, newStore(t)) })
	t.Run("ScanFilter", func(t *testing.T) { testScanFilter(t, newStore(t)) })
	t.Run("ScanAttributeOrder", func(t *testing.T) { testScanAttributeOrder(t, newStore(t)) })
	t.Run("ScanPagination", func(t *testing.T) { testScanPagination(t, newStore(t)) })
	t.Run("ScanEarlyBreak", func(t *testing.T) { testScanEarlyBreak(t, newStore(t)) })
	t.Run("ScanWhileWriting", func(t *testing.T) { testScanWhileWriting(t, newStore) })
	t.Run("ScanBadOptions", func(t *testing.T) { testScanBadOptions(t, newStore(t)) })
	t.Run("TenantIsolation", func(t *testing.T) { testTenantIsolation(t, newStore(t)) })
	t.Run("Mutate", func(t *testing.T) { testMutate(t, newStore(t)) })
	t.Run("MutateLinearizable", func(t *testing.T) { testMutateLinearizable(t, newStore(t)) })
	t.Run("Purge", func(t *testing.T) { testPurge(t, newStore(t)) })
	t.Run("ExpiredContext", func(t *testing.T) { testExpiredContext(t, newStore(t)) })
}

func testGetMissing(t *testing.T, s store.Store) {
	_, err := s.Get(context.Background(), "wallets", "nope")
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func testPutGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	rec := NewRecord("personalTransactions", "pt_1", alice, models.Attributes{
		"amount": int64(5000),
		"note":   "groceries",
		"meta":   map[string]any{"tags": []any{"food"}},
	}, 100)

	require.NoError(t, s.Put(ctx, rec))

	got, err := s.Get(ctx, "personalTransactions", "pt_1")
	require.NoError(t, err)
	require.Positive(t, got.Seq)
	require.Equal(t, rec, stripSeq(got))

	// other kind, same id
	_, err = s.Get(ctx, "chores", "pt_1")
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func testPutIdempotent(t *testing.T, s store.Store) {
	ctx := context.Background()
	rec := NewRecord("wallets", "w1", alice, models.Attributes{"name": "cash"}, 5)

	require.NoError(t, s.Put(ctx, rec))
	once, err := store.Collect(s.Scan(ctx, "wallets", store.ScanOptions{IncludeDeleted: true}))
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, rec))
	twice, err := store.Collect(s.Scan(ctx, "wallets", store.ScanOptions{IncludeDeleted: true}))
	require.NoError(t, err)

	require.Len(t, twice, 1)
	require.Equal(t, stripSeq(once[0]), stripSeq(twice[0]))
}

func testPutRejectsInvalid(t *testing.T, s store.Store) {
	rec := NewRecord("wallets", "w1", models.Tenant{}, nil, 1)
	err := s.Put(context.Background(), rec)
	require.ErrorIs(t, err, common.ErrInvalidRecord)
}

func testTombstone(t *testing.T, s store.Store) {
	ctx := context.Background()
	rec := NewRecord("chores", "c1", house, models.Attributes{"title": "dishes"}, 10)
	deleted := At(20)
	rec.DeletedAt = &deleted
	rec.UpdatedAt = deleted
	rec.Operation = models.OperationDelete
	require.NoError(t, s.Put(ctx, rec))

	got, err := s.Get(ctx, "chores", "c1")
	require.NoError(t, err)
	require.True(t, got.IsDeleted())
	require.Equal(t, models.Attributes{"title": "dishes"}, got.Attributes)

	live, err := store.Collect(s.Scan(ctx, "chores", store.ScanOptions{}))
	require.NoError(t, err)
	require.Empty(t, live)

	all, err := store.Collect(s.Scan(ctx, "chores", store.ScanOptions{IncludeDeleted: true}))
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func testSeq(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, NewRecord("wallets", "a", alice, nil, 1)))
	require.NoError(t, s.Put(ctx, NewRecord("chores", "b", alice, nil, 1)))
	require.NoError(t, s.Put(ctx, NewRecord("wallets", "a", alice, models.Attributes{"v": int64(2)}, 2)))

	a, err := s.Get(ctx, "wallets", "a")
	require.NoError(t, err)
	b, err := s.Get(ctx, "chores", "b")
	require.NoError(t, err)
	require.Greater(t, a.Seq, b.Seq)

	after, err := store.Collect(s.Scan(ctx, "wallets", store.ScanOptions{AfterSeq: b.Seq}))
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, ids(after))

	none, err := store.Collect(s.Scan(ctx, "wallets", store.ScanOptions{AfterSeq: a.Seq}))
	require.NoError(t, err)
	require.Empty(t, none)
}

func testScanDefaultOrder(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, NewRecord("wallets", "b", alice, nil, 10)))
	require.NoError(t, s.Put(ctx, NewRecord("wallets", "a", alice, nil, 10)))
	require.NoError(t, s.Put(ctx, NewRecord("wallets", "c", alice, nil, 30)))
	require.NoError(t, s.Put(ctx, NewRecord("wallets", "d", alice, nil, 5)))

	got, err := store.Collect(s.Scan(ctx, "wallets", store.ScanOptions{}))
	require.NoError(t, err)
	require.Equal(t, []string{"c", "b", "a", "d"}, ids(got))

	// restartable: the same scan again yields the same sequence
	again, err := store.Collect(s.Scan(ctx, "wallets", store.ScanOptions{}))
	require.NoError(t, err)
	require.Equal(t, ids(got), ids(again))
}

func testScanOptions(t *testing.T, s store.Store) {
	ctx := context.Background()
	for i, id := range []string{"r1", "r2", "r3"} {
		rec := NewRecord("wallets", id, alice, nil, 10-i)
		rec.CreatedAt = At(-i)
		require.NoError(t, s.Put(ctx, rec))
	}

	tests := []struct {
		name  string
		order store.Order
		want  []string
	}{
		{"updated asc", store.Order{Field: store.OrderUpdatedAt}, []string{"r3", "r2", "r1"}},
		{"created desc", store.Order{Field: store.OrderCreatedAt, Desc: true}, []string{"r1", "r2", "r3"}},
		{"id desc", store.Order{Field: store.OrderRecordID, Desc: true}, []string{"r3", "r2", "r1"}},
		{"seq asc", store.Order{Field: store.OrderSeq}, []string{"r1", "r2", "r3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.Collect(s.Scan(ctx, "wallets", store.ScanOptions{Order: tt.order}))
			require.NoError(t, err)
			require.Equal(t, tt.want, ids(got))
		})
	}
}

func testScanFilter(t *testing.T, s store.Store) {
	ctx := context.Background()
	rows := []models.Attributes{
		{"amount": int64(5000), "currency": "EUR", "paid": true, "meta": map[string]any{"source": "bank"}},
		{"amount": int64(120), "currency": "USD", "paid": false},
		{"amount": 99.5, "currency": "EUR"},
		{"amount": "lots", "currency": "EUR"},
	}
	for i, a := range rows {
		require.NoError(t, s.Put(ctx, NewRecord("personalTransactions", fmt.Sprintf("t%d", i), alice, a, i)))
	}

	tests := []struct {
		name string
		expr filter.Expr
		want []string
	}{
		{"eq string", filter.Eq("currency", "EUR"), []string{"t3", "t2", "t0"}},
		{"numeric gt skips strings", filter.Gt("amount", 100), []string{"t1", "t0"}},
		{"float compare", filter.Lt("amount", 100), []string{"t2"}},
		{"bool", filter.Eq("paid", true), []string{"t0"}},
		{"nested", filter.Eq("meta.source", "bank"), []string{"t0"}},
		{"and", filter.AllOf(filter.Eq("currency", "EUR"), filter.Ge("amount", 99.5)), []string{"t2", "t0"}},
		{"or", filter.AnyOf(filter.Eq("currency", "USD"), filter.Eq("amount", "lots")), []string{"t3", "t1"}},
		{"not", filter.Negate(filter.Eq("currency", "EUR")), []string{"t1"}},
		{"missing attr", filter.Eq("paid", false), []string{"t1"}},
		{"not of missing", filter.Negate(filter.Eq("paid", true)), []string{"t3", "t2", "t1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.Collect(s.Scan(ctx, "personalTransactions", store.ScanOptions{Filter: tt.expr}))
			require.NoError(t, err)
			require.Equal(t, tt.want, ids(got))
		})
	}
}

func testScanAttributeOrder(t *testing.T, s store.Store) {
	ctx := context.Background()
	rows := map[string]models.Attributes{
		"n1": {"v": int64(3)},
		"n2": {"v": 1.5},
		"s1": {"v": "b"},
		"s2": {"v": "a"},
		"b1": {"v": true},
		"m1": {},
	}
	for id, a := range rows {
		require.NoError(t, s.Put(ctx, NewRecord("chores", id, alice, a, 1)))
	}

	got, err := store.Collect(s.Scan(ctx, "chores", store.ScanOptions{Order: store.Order{Field: "v"}}))
	require.NoError(t, err)
	require.Equal(t, []string{"m1", "b1", "n2", "n1", "s2", "s1"}, ids(got))

	got, err = store.Collect(s.Scan(ctx, "chores", store.ScanOptions{Order: store.Order{Field: "v", Desc: true}}))
	require.NoError(t, err)
	require.Equal(t, []string{"s1", "s2", "n1", "n2", "b1", "m1"}, ids(got))
}

func testScanPagination(t *testing.T, s store.Store) {
	ctx := context.Background()
	var want []string
	for i := 0; i < 25; i++ {
		id := fmt.Sprintf("p%02d", i)
		want = append(want, id)
		require.NoError(t, s.Put(ctx, NewRecord("wallets", id, alice, nil, 7)))
	}

	order := store.Order{Field: store.OrderRecordID}
	var paged []string
	for offset := 0; ; offset += 10 {
		page, err := store.Collect(s.Scan(ctx, "wallets", store.ScanOptions{Order: order, Limit: 10, Offset: offset}))
		require.NoError(t, err)
		paged = append(paged, ids(page)...)
		if len(page) < 10 {
			break
		}
	}
	require.Equal(t, want, paged)
}

func testScanEarlyBreak(t *testing.T, s store.Store) {
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Put(ctx, NewRecord("wallets", fmt.Sprintf("w%d", i), alice, nil, i)))
	}

	seen := 0
	for rec, err := range s.Scan(ctx, "wallets", store.ScanOptions{}) {
		require.NoError(t, err)
		// writing from inside the loop must not deadlock
		rec.Attributes = models.Attributes{"touched": true}
		require.NoError(t, s.Put(ctx, rec))
		seen++
		if seen == 2 {
			break
		}
	}
	require.Equal(t, 2, seen)

	// the store is fully usable after abandoning the scan
	all, err := store.Collect(s.Scan(ctx, "wallets", store.ScanOptions{}))
	require.NoError(t, err)
	require.Len(t, all, 5)
}

// Rewriting rows already yielded must not make a scan miss rows it has not
// reached yet, whatever the order.
func testScanWhileWriting(t *testing.T, newStore Factory) {
	orders := []store.Order{
		{Field: store.OrderSeq},
		{Field: store.OrderSeq, Desc: true},
		{Field: store.OrderUpdatedAt},
		store.DefaultOrder,
		{Field: store.OrderRecordID},
		{Field: "n"},
	}
	for _, order := range orders {
		t.Run(fmt.Sprintf("%s desc=%v", order.Field, order.Desc), func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()
			want := map[string]bool{}
			for i := 1; i <= 5; i++ {
				id := fmt.Sprintf("r%d", i)
				want[id] = true
				require.NoError(t, s.Put(ctx, NewRecord("wallets", id, alice, models.Attributes{"n": int64(i)}, i)))
			}

			seen := map[string]bool{}
			for rec, err := range s.Scan(ctx, "wallets", store.ScanOptions{Order: order}) {
				require.NoError(t, err)
				if !seen[rec.ID] {
					rec.UpdatedAt = At(100 + len(seen))
					require.NoError(t, s.Put(ctx, rec))
				}
				seen[rec.ID] = true
			}
			require.Equal(t, want, seen)
		})
	}
}

func testScanBadOptions(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, err := store.Collect(s.Scan(ctx, "wallets", store.ScanOptions{Filter: filter.Eq("bad field", 1)}))
	require.ErrorIs(t, err, common.ErrInvalidFilter)

	_, err = store.Collect(s.Scan(ctx, "wallets", store.ScanOptions{Order: store.Order{Field: "x;drop"}}))
	require.ErrorIs(t, err, common.ErrInvalidFilter)
}

func testTenantIsolation(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, NewRecord("wallets", "a1", alice, nil, 1)))
	require.NoError(t, s.Put(ctx, NewRecord("wallets", "b1", bob, nil, 2)))
	require.NoError(t, s.Put(ctx, NewRecord("wallets", "h1", house, nil, 3)))

	got, err := store.Collect(s.Scan(ctx, "wallets", store.ScanOptions{Scope: alice}))
	require.NoError(t, err)
	require.Equal(t, []string{"h1", "a1"}, ids(got))
	for _, r := range got {
		require.Equal(t, "alice", r.Tenant.OwnerID)
	}

	got, err = store.Collect(s.Scan(ctx, "wallets", store.ScanOptions{Scope: models.Tenant{HouseholdID: "h1"}}))
	require.NoError(t, err)
	require.Equal(t, []string{"h1"}, ids(got))

	got, err = store.Collect(s.Scan(ctx, "wallets", store.ScanOptions{Scope: models.Tenant{OwnerID: "bob", HouseholdID: "h1"}}))
	require.NoError(t, err)
	require.Empty(t, got)
}

func testMutate(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.Mutate(ctx, "wallets", "w1", func(cur *models.Record) (*models.Record, error) {
		require.Nil(t, cur)
		return nil, nil
	})
	require.ErrorIs(t, err, common.ErrorNotFound)

	created, err := s.Mutate(ctx, "wallets", "w1", func(cur *models.Record) (*models.Record, error) {
		rec := NewRecord("wallets", "w1", alice, models.Attributes{"balance": int64(10)}, 1)
		return &rec, nil
	})
	require.NoError(t, err)
	require.Positive(t, created.Seq)

	updated, err := s.Mutate(ctx, "wallets", "w1", func(cur *models.Record) (*models.Record, error) {
		require.NotNil(t, cur)
		next := cur.Clone()
		next.Attributes["balance"] = cur.Attributes["balance"].(int64) + 5
		next.UpdatedAt = At(2)
		next.Operation = models.OperationUpdate
		// the callback's copy must not alias stored state
		cur.Attributes["balance"] = int64(-1)
		return &next, nil
	})
	require.NoError(t, err)
	require.Equal(t, int64(15), updated.Attributes["balance"])
	require.Greater(t, updated.Seq, created.Seq)

	unchanged, err := s.Mutate(ctx, "wallets", "w1", func(cur *models.Record) (*models.Record, error) {
		return nil, nil
	})
	require.NoError(t, err)
	require.Equal(t, updated.Seq, unchanged.Seq)

	boom := errors.New("boom")
	_, err = s.Mutate(ctx, "wallets", "w1", func(*models.Record) (*models.Record, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.Mutate(ctx, "wallets", "w1", func(cur *models.Record) (*models.Record, error) {
		other := cur.Clone()
		other.ID = "w2"
		return &other, nil
	})
	require.ErrorIs(t, err, common.ErrInvalidRecord)

	got, err := s.Get(ctx, "wallets", "w1")
	require.NoError(t, err)
	require.Equal(t, int64(15), got.Attributes["balance"])
}

func testMutateLinearizable(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, NewRecord("wallets", "counter", alice, models.Attributes{"n": int64(0)}, 1)))

	const writers = 20
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Mutate(ctx, "wallets", "counter", func(cur *models.Record) (*models.Record, error) {
				next := cur.Clone()
				next.Attributes["n"] = cur.Attributes["n"].(int64) + 1
				next.UpdatedAt = cur.UpdatedAt.Add(time.Microsecond)
				return &next, nil
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := s.Get(ctx, "wallets", "counter")
	require.NoError(t, err)
	require.Equal(t, int64(writers), got.Attributes["n"])
	require.Equal(t, At(1).Add(writers*time.Microsecond), got.UpdatedAt)
}

func testPurge(t *testing.T, s store.Store) {
	ctx := context.Background()
	for i, id := range []string{"old1", "old2", "new"} {
		rec := NewRecord("chores", id, house, models.Attributes{"i": int64(i)}, 1)
		d := At(10 * (i + 1))
		if id == "new" {
			d = At(1000)
		}
		rec.DeletedAt = &d
		rec.UpdatedAt = d
		rec.Operation = models.OperationDelete
		require.NoError(t, s.Put(ctx, rec))
	}
	require.NoError(t, s.Put(ctx, NewRecord("chores", "live", house, nil, 1)))

	expired, err := s.Expired(ctx, "chores", At(500), 10)
	require.NoError(t, err)
	require.Equal(t, []string{"old1", "old2"}, ids(expired))
	expired, err = s.Expired(ctx, "chores", At(500), 1)
	require.NoError(t, err)
	require.Equal(t, []string{"old1"}, ids(expired))
	_, err = s.Get(ctx, "chores", "old1")
	require.NoError(t, err)

	purged, err := s.Purge(ctx, "chores", At(500), 1)
	require.NoError(t, err)
	require.Equal(t, []string{"old1"}, ids(purged))

	purged, err = s.Purge(ctx, "chores", At(500), 10)
	require.NoError(t, err)
	require.Equal(t, []string{"old2"}, ids(purged))
	require.Equal(t, models.Attributes{"i": int64(1)}, purged[0].Attributes)

	_, err = s.Get(ctx, "chores", "old2")
	require.ErrorIs(t, err, common.ErrorNotFound)

	left, err := store.Collect(s.Scan(ctx, "chores", store.ScanOptions{IncludeDeleted: true, Order: store.Order{Field: store.OrderRecordID}}))
	require.NoError(t, err)
	require.Equal(t, []string{"live", "new"}, ids(left))
}

func testExpiredContext(t *testing.T, s store.Store) {
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := s.Get(ctx, "wallets", "w1")
	require.ErrorIs(t, err, common.ErrTimeout)
	require.True(t, common.IsRetryable(err))

	err = s.Put(ctx, NewRecord("wallets", "w1", alice, nil, 1))
	require.ErrorIs(t, err, common.ErrTimeout)

	_, err = store.Collect(s.Scan(ctx, "wallets", store.ScanOptions{}))
	require.ErrorIs(t, err, common.ErrTimeout)
}
