// Package tenant enforces tenant scoping on top of a store.
//
// Every read through a scoped view is filtered by the caller's tenant and
// every write must carry exactly that tenant. Tenant fields of a stored
// row never change. Violations are reported as common.ErrTenantMismatch
// and are never corrected silently.
package tenant

import (
	"context"
	"iter"

	"github.com/dmitrijs2005/homesync/internal/common"
	"github.com/dmitrijs2005/homesync/internal/models"
	"github.com/dmitrijs2005/homesync/internal/store"
)

// Guard vends tenant-scoped views of a store.
type Guard struct {
	next store.ReadWriter
}

func NewGuard(next store.ReadWriter) *Guard {
	return &Guard{next: next}
}

// For returns the view of the store visible to scope. A scope with neither
// owner nor household is rejected with common.ErrInvalidScope.
func (g *Guard) For(scope models.Tenant) (*Scoped, error) {
	if scope.IsZero() {
		return nil, common.ErrInvalidScope
	}
	return &Scoped{Reader: Reader{next: g.next, scope: scope}, next: g.next}, nil
}

// Reader is a store.Reader restricted to one tenant scope.
type Reader struct {
	next  store.Reader
	scope models.Tenant
}

var _ store.Reader = (*Reader)(nil)

// NewReader scopes reads of next to scope.
func NewReader(next store.Reader, scope models.Tenant) (*Reader, error) {
	if scope.IsZero() {
		return nil, common.ErrInvalidScope
	}
	return &Reader{next: next, scope: scope}, nil
}

func (r *Reader) Scope() models.Tenant {
	return r.scope
}

func mismatch(kind, id string, expected, actual models.Tenant) error {
	return &common.TenantMismatchError{
		Kind:     kind,
		ID:       id,
		Expected: expected.String(),
		Actual:   actual.String(),
	}
}

// Get fails with a TenantMismatchError when the row exists outside the
// scope.
func (r *Reader) Get(ctx context.Context, kind, id string) (models.Record, error) {
	rec, err := r.next.Get(ctx, kind, id)
	if err != nil {
		return models.Record{}, err
	}
	if !rec.Tenant.Matches(r.scope) {
		return models.Record{}, mismatch(kind, id, r.scope, rec.Tenant)
	}
	return rec, nil
}

// Scan injects the scope. A caller-provided scope may only narrow it.
func (r *Reader) Scan(ctx context.Context, kind string, opts store.ScanOptions) iter.Seq2[models.Record, error] {
	scope, ok := narrow(r.scope, opts.Scope)
	if !ok {
		return store.Error(mismatch(kind, "", r.scope, opts.Scope))
	}
	opts.Scope = scope
	return r.next.Scan(ctx, kind, opts)
}

func narrow(scope, requested models.Tenant) (models.Tenant, bool) {
	out := scope
	if requested.OwnerID != "" {
		if scope.OwnerID != "" && scope.OwnerID != requested.OwnerID {
			return models.Tenant{}, false
		}
		out.OwnerID = requested.OwnerID
	}
	if requested.HouseholdID != "" {
		if scope.HouseholdID != "" && scope.HouseholdID != requested.HouseholdID {
			return models.Tenant{}, false
		}
		out.HouseholdID = requested.HouseholdID
	}
	return out, true
}

// Scoped is a store.ReadWriter restricted to one tenant scope.
type Scoped struct {
	Reader
	next store.ReadWriter
}

var _ store.ReadWriter = (*Scoped)(nil)

// Put writes rec after checking it against the scope and the stored row.
func (s *Scoped) Put(ctx context.Context, rec models.Record) error {
	_, err := s.Mutate(ctx, rec.Kind, rec.ID, func(*models.Record) (*models.Record, error) {
		return &rec, nil
	})
	return err
}

// Mutate wraps fn with the tenant checks: the current row must be inside
// the scope, and the replacement must be inside the scope and keep the
// current row's tenant.
func (s *Scoped) Mutate(ctx context.Context, kind, id string, fn store.MutateFunc) (models.Record, error) {
	return s.next.Mutate(ctx, kind, id, func(cur *models.Record) (*models.Record, error) {
		if cur != nil && !cur.Tenant.Matches(s.scope) {
			return nil, mismatch(kind, id, s.scope, cur.Tenant)
		}
		next, err := fn(cur)
		if err != nil || next == nil {
			return next, err
		}
		if err := s.CheckWrite(cur, *next); err != nil {
			return nil, err
		}
		return next, nil
	})
}

// CheckWrite reports whether next may replace cur (nil when absent) under
// the scope.
func (s *Scoped) CheckWrite(cur *models.Record, next models.Record) error {
	if next.Tenant.IsZero() || !next.Tenant.Matches(s.scope) {
		return mismatch(next.Kind, next.ID, s.scope, next.Tenant)
	}
	if cur != nil && cur.Tenant != next.Tenant {
		return mismatch(next.Kind, next.ID, cur.Tenant, next.Tenant)
	}
	return nil
}
