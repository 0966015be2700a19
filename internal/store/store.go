// Package store defines the versioned document store: one row per
// (kind, id) holding the current version of a record.
package store

import (
	"context"
	"iter"
	"time"

	"github.com/dmitrijs2005/homesync/internal/filter"
	"github.com/dmitrijs2005/homesync/internal/models"
)

// Order fields other than attribute paths.
const (
	OrderUpdatedAt = "updated_at"
	OrderCreatedAt = "created_at"
	OrderRecordID  = "record_id"
	OrderSeq       = "seq"
)

// Order selects the sort key of a scan. An empty Field means UpdatedAt.
// Any other value that is not one of the Order* constants is an attribute
// path. Ties are always broken by record id in the same direction, so the
// order is total.
type Order struct {
	Field string
	Desc  bool
}

// DefaultOrder is newest first.
var DefaultOrder = Order{Field: OrderUpdatedAt, Desc: true}

// ScanOptions narrows and orders a scan.
type ScanOptions struct {
	Filter filter.Expr
	// Scope restricts the scan to records whose tenant matches. A zero
	// scope does not restrict; the tenant guard never passes one.
	Scope          models.Tenant
	Order          Order
	IncludeDeleted bool
	// AfterSeq keeps only records with Seq greater than it.
	AfterSeq int64
	Limit    int
	Offset   int
}

// MutateFunc receives the current row (nil when absent) and returns the
// row to store, or nil to leave the store untouched.
type MutateFunc func(current *models.Record) (*models.Record, error)

// Reader is the read half of a Store.
type Reader interface {
	// Get returns the current row including tombstones, or
	// common.ErrorNotFound.
	Get(ctx context.Context, kind, id string) (models.Record, error)
	// Scan lazily yields matching records. Stopping the iteration early
	// releases everything the scan holds.
	Scan(ctx context.Context, kind string, opts ScanOptions) iter.Seq2[models.Record, error]
}

// Writer is the write half shared by backends and scoped views.
type Writer interface {
	// Put upserts rec unconditionally and assigns it a new Seq.
	Put(ctx context.Context, rec models.Record) error
	// Mutate runs fn and writes its result while holding the per-key
	// write serialisation, and returns the row as stored afterwards.
	Mutate(ctx context.Context, kind, id string, fn MutateFunc) (models.Record, error)
}

type ReadWriter interface {
	Reader
	Writer
}

// Store is implemented by every backend.
type Store interface {
	ReadWriter
	// Purge physically removes up to limit tombstones of kind deleted
	// before the cutoff and returns them.
	Purge(ctx context.Context, kind string, deletedBefore time.Time, limit int) ([]models.Record, error)
	// Expired returns, without removing them, the tombstones Purge would
	// pick: oldest DeletedAt first, then record id.
	Expired(ctx context.Context, kind string, deletedBefore time.Time, limit int) ([]models.Record, error)
	Close() error
}
