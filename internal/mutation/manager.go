// Package mutation implements the write path of the document store:
// insert, update and soft delete of records on behalf of a tenant, and the
// retention sweep that eventually removes tombstones.
package mutation

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/homesync/internal/codec"
	"github.com/dmitrijs2005/homesync/internal/common"
	"github.com/dmitrijs2005/homesync/internal/logging"
	"github.com/dmitrijs2005/homesync/internal/models"
	"github.com/dmitrijs2005/homesync/internal/tenant"
	"github.com/dmitrijs2005/homesync/internal/timex"
	"github.com/google/uuid"
)

// Manager performs tenant-scoped mutations. Every write is stamped from
// the clock and never below the stored UpdatedAt plus one microsecond.
type Manager struct {
	guard *tenant.Guard
	clock timex.Clock
	log   logging.Logger
	newID func() string
	valid func(kind string, attrs models.Attributes) error
	canon func(kind string, attrs models.Attributes) (models.Attributes, error)
}

type Option func(*Manager)

func WithClock(c timex.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

func WithLogger(l logging.Logger) Option {
	return func(m *Manager) { m.log = l.With("module", "mutation") }
}

// WithIDGenerator replaces the UUID generator used for inserts without an id.
func WithIDGenerator(f func() string) Option {
	return func(m *Manager) { m.newID = f }
}

// WithValidator checks the attributes an insert or update would store.
func WithValidator(f func(kind string, attrs models.Attributes) error) Option {
	return func(m *Manager) { m.valid = f }
}

// WithCanonicalizer rewrites attributes into their stored form before
// they are validated, e.g. timestamps into one fixed layout.
func WithCanonicalizer(f func(kind string, attrs models.Attributes) (models.Attributes, error)) Option {
	return func(m *Manager) { m.canon = f }
}

// prepare brings attrs into stored form and validates them.
func (m *Manager) prepare(kind string, attrs models.Attributes) (models.Attributes, error) {
	attrs, err := codec.Normalize(attrs)
	if err != nil {
		return nil, err
	}
	if m.canon != nil {
		if attrs, err = m.canon(kind, attrs); err != nil {
			return nil, err
		}
	}
	if m.valid != nil {
		if err := m.valid(kind, attrs); err != nil {
			return nil, err
		}
	}
	return attrs, nil
}

func NewManager(guard *tenant.Guard, opts ...Option) *Manager {
	m := &Manager{
		guard: guard,
		clock: timex.NewMonotonicClock(),
		log:   logging.Nop{},
		newID: uuid.NewString,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Manager) stamp(cur *models.Record) models.Record {
	now := m.clock.Now()
	if cur == nil {
		return models.Record{CreatedAt: now, UpdatedAt: now}
	}
	next := cur.Clone()
	next.UpdatedAt = timex.After(now, cur.UpdatedAt)
	return next
}

// Insert creates a record owned by scope. On a live row it fails with
// common.ErrAlreadyExists. On a tombstone it resurrects the record with
// the new attributes, keeping its CreatedAt. An empty id gets a UUID.
func (m *Manager) Insert(ctx context.Context, scope models.Tenant, kind, id string, attrs models.Attributes) (models.Record, error) {
	view, err := m.guard.For(scope)
	if err != nil {
		return models.Record{}, err
	}
	if id == "" {
		id = m.newID()
	}
	attrs, err = m.prepare(kind, attrs)
	if err != nil {
		return models.Record{}, fmt.Errorf("insert %s/%s: %w", kind, id, err)
	}

	resurrected := false
	rec, err := view.Mutate(ctx, kind, id, func(cur *models.Record) (*models.Record, error) {
		if cur != nil && !cur.IsDeleted() {
			return nil, common.ErrAlreadyExists
		}
		next := m.stamp(cur)
		next.Kind, next.ID = kind, id
		next.Tenant = scope
		next.Attributes = attrs
		next.Operation = models.OperationInsert
		next.DeletedAt = nil
		resurrected = cur != nil
		return &next, nil
	})
	if err != nil {
		return models.Record{}, fmt.Errorf("insert %s/%s: %w", kind, id, err)
	}

	m.log.Debug(ctx, "record inserted", "kind", kind, "id", id, "resurrected", resurrected, "seq", rec.Seq)
	return rec, nil
}

// Update applies patch to a live record with JSON merge-patch semantics:
// null removes a key and nested objects merge. Missing records and
// tombstones are common.ErrorNotFound; update never resurrects.
func (m *Manager) Update(ctx context.Context, scope models.Tenant, kind, id string, patch models.Attributes) (models.Record, error) {
	view, err := m.guard.For(scope)
	if err != nil {
		return models.Record{}, err
	}

	rec, err := view.Mutate(ctx, kind, id, func(cur *models.Record) (*models.Record, error) {
		if cur == nil || cur.IsDeleted() {
			return nil, common.ErrorNotFound
		}
		merged, err := m.prepare(kind, MergePatch(cur.Attributes, patch))
		if err != nil {
			return nil, err
		}
		next := m.stamp(cur)
		next.Attributes = merged
		next.Operation = models.OperationUpdate
		return &next, nil
	})
	if err != nil {
		return models.Record{}, fmt.Errorf("update %s/%s: %w", kind, id, err)
	}

	m.log.Debug(ctx, "record updated", "kind", kind, "id", id, "seq", rec.Seq)
	return rec, nil
}

// SoftDelete turns a live record into a tombstone. Attributes are kept so
// the tombstone stays comparable during reconciliation.
func (m *Manager) SoftDelete(ctx context.Context, scope models.Tenant, kind, id string) (models.Record, error) {
	view, err := m.guard.For(scope)
	if err != nil {
		return models.Record{}, err
	}
	return m.softDelete(ctx, view, kind, id)
}

func (m *Manager) softDelete(ctx context.Context, view *tenant.Scoped, kind, id string) (models.Record, error) {
	rec, err := view.Mutate(ctx, kind, id, func(cur *models.Record) (*models.Record, error) {
		if cur == nil || cur.IsDeleted() {
			return nil, common.ErrorNotFound
		}
		next := m.stamp(cur)
		deletedAt := next.UpdatedAt
		next.DeletedAt = &deletedAt
		next.Operation = models.OperationDelete
		return &next, nil
	})
	if err != nil {
		return models.Record{}, fmt.Errorf("delete %s/%s: %w", kind, id, err)
	}

	m.log.Debug(ctx, "record deleted", "kind", kind, "id", id, "seq", rec.Seq)
	return rec, nil
}

// BulkItem is the outcome of one id of a bulk delete.
type BulkItem struct {
	ID     string
	Record models.Record
	Err    error
}

// BulkResult lists outcomes in input order.
type BulkResult struct {
	Items []BulkItem
}

func (r BulkResult) Failed() []BulkItem {
	var out []BulkItem
	for _, it := range r.Items {
		if it.Err != nil {
			out = append(out, it)
		}
	}
	return out
}

// BulkSoftDelete deletes each id independently; one failure does not stop
// or undo the others. Only an invalid scope or a cancelled context fails
// the call as a whole.
func (m *Manager) BulkSoftDelete(ctx context.Context, scope models.Tenant, kind string, ids []string) (BulkResult, error) {
	view, err := m.guard.For(scope)
	if err != nil {
		return BulkResult{}, err
	}

	res := BulkResult{Items: make([]BulkItem, 0, len(ids))}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		rec, err := m.softDelete(ctx, view, kind, id)
		res.Items = append(res.Items, BulkItem{ID: id, Record: rec, Err: err})
	}

	if failed := len(res.Failed()); failed > 0 {
		m.log.Warn(ctx, "bulk delete finished with failures", "kind", kind, "total", len(ids), "failed", failed)
	}
	return res, nil
}
