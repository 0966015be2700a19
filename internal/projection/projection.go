// Package projection reconstructs typed values from stored records. All
// reads go through the tenant guard and hide tombstones unless asked.
package projection

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/dmitrijs2005/homesync/internal/codec"
	"github.com/dmitrijs2005/homesync/internal/common"
	"github.com/dmitrijs2005/homesync/internal/filter"
	"github.com/dmitrijs2005/homesync/internal/models"
	"github.com/dmitrijs2005/homesync/internal/store"
	"github.com/dmitrijs2005/homesync/internal/tenant"
	"go.einride.tech/aip/ordering"
)

// View is a typed record: the decoded attributes plus record metadata.
type View[T any] struct {
	Kind      string
	ID        string
	Tenant    models.Tenant
	Value     T
	Operation models.Operation
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
	Seq       int64
}

func (v View[T]) IsDeleted() bool {
	return v.DeletedAt != nil
}

// ViewOf decodes rec. Decode failures are *common.DecodeError naming the
// record.
func ViewOf[T any](rec models.Record) (View[T], error) {
	value, err := codec.Decode[T](rec.Attributes)
	if err != nil {
		var de *common.DecodeError
		if errors.As(err, &de) {
			de.Kind, de.ID = rec.Kind, rec.ID
			return View[T]{}, de
		}
		return View[T]{}, err
	}
	return View[T]{
		Kind:      rec.Kind,
		ID:        rec.ID,
		Tenant:    rec.Tenant,
		Value:     value,
		Operation: rec.Operation,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
		DeletedAt: rec.DeletedAt,
		Seq:       rec.Seq,
	}, nil
}

type getOptions struct {
	withDeleted bool
}

type GetOption func(*getOptions)

// WithDeleted makes Get return tombstones too.
func WithDeleted() GetOption {
	return func(o *getOptions) { o.withDeleted = true }
}

// Get returns the typed view of one record. Tombstones are
// common.ErrorNotFound unless WithDeleted is given.
func Get[T any](ctx context.Context, r store.Reader, scope models.Tenant, kind, id string, opts ...GetOption) (View[T], error) {
	var o getOptions
	for _, opt := range opts {
		opt(&o)
	}

	scoped, err := tenant.NewReader(r, scope)
	if err != nil {
		return View[T]{}, err
	}
	rec, err := scoped.Get(ctx, kind, id)
	if err != nil {
		return View[T]{}, fmt.Errorf("get %s/%s: %w", kind, id, err)
	}
	if rec.IsDeleted() && !o.withDeleted {
		return View[T]{}, fmt.Errorf("get %s/%s: %w", kind, id, common.ErrorNotFound)
	}
	return ViewOf[T](rec)
}

// Query selects records for List and Fold.
type Query struct {
	Filter      filter.Expr
	Order       store.Order
	WithDeleted bool
	Limit       int
	Offset      int
}

func (q Query) scanOptions() store.ScanOptions {
	return store.ScanOptions{
		Filter:         q.Filter,
		Order:          q.Order,
		IncludeDeleted: q.WithDeleted,
		Limit:          q.Limit,
		Offset:         q.Offset,
	}
}

// Skipped is a record that matched a query but could not be decoded.
type Skipped struct {
	Kind string
	ID   string
	Err  error
}

// Result is a page of views and the records left out because they did not
// decode.
type Result[T any] struct {
	Items   []View[T]
	Skipped []Skipped
}

// Stream lazily yields views in query order. Records that fail to decode
// are passed to skip and iteration continues; store errors end the
// stream.
func Stream[T any](ctx context.Context, r store.Reader, scope models.Tenant, kind string, q Query, skip func(Skipped)) iter.Seq2[View[T], error] {
	scoped, err := tenant.NewReader(r, scope)
	if err != nil {
		return func(yield func(View[T], error) bool) { yield(View[T]{}, err) }
	}

	return func(yield func(View[T], error) bool) {
		for rec, err := range scoped.Scan(ctx, kind, q.scanOptions()) {
			if err != nil {
				yield(View[T]{}, err)
				return
			}
			v, err := ViewOf[T](rec)
			if err != nil {
				if skip != nil {
					skip(Skipped{Kind: rec.Kind, ID: rec.ID, Err: err})
				}
				continue
			}
			if !yield(v, nil) {
				return
			}
		}
	}
}

// List collects a query into a Result. Decode failures never abort it.
func List[T any](ctx context.Context, r store.Reader, scope models.Tenant, kind string, q Query) (Result[T], error) {
	var res Result[T]
	skip := func(s Skipped) { res.Skipped = append(res.Skipped, s) }
	for v, err := range Stream[T](ctx, r, scope, kind, q, skip) {
		if err != nil {
			return res, fmt.Errorf("list %s: %w", kind, err)
		}
		res.Items = append(res.Items, v)
	}
	return res, nil
}

// Fold reduces the views of a query into an accumulator, e.g. a wallet
// balance. Undecodable records are reported, not folded.
func Fold[T, A any](ctx context.Context, r store.Reader, scope models.Tenant, kind string, q Query, init A, fn func(A, View[T]) A) (A, []Skipped, error) {
	acc := init
	var skipped []Skipped
	skip := func(s Skipped) { skipped = append(skipped, s) }
	for v, err := range Stream[T](ctx, r, scope, kind, q, skip) {
		if err != nil {
			return acc, skipped, fmt.Errorf("fold %s: %w", kind, err)
		}
		acc = fn(acc, v)
	}
	return acc, skipped, nil
}

// Joined pairs a view with the view its key points at. Right is nil when
// the target is missing, deleted or fails to decode.
type Joined[L, R any] struct {
	Left  View[L]
	Right *View[R]
}

// JoinByID resolves key(left) against rightKind for every left view, e.g.
// transactions to their wallet. Lookups are cached per id.
func JoinByID[L, R any](ctx context.Context, r store.Reader, scope models.Tenant, left []View[L], rightKind string, key func(View[L]) string) ([]Joined[L, R], error) {
	cache := map[string]*View[R]{}
	out := make([]Joined[L, R], 0, len(left))

	for _, l := range left {
		id := key(l)
		right, seen := cache[id]
		if !seen && id != "" {
			v, err := Get[R](ctx, r, scope, rightKind, id)
			switch {
			case err == nil:
				right = &v
			case errors.Is(err, common.ErrorNotFound), errors.Is(err, common.ErrDecode):
			default:
				return nil, fmt.Errorf("join %s: %w", rightKind, err)
			}
			cache[id] = right
		}
		out = append(out, Joined[L, R]{Left: l, Right: right})
	}
	return out, nil
}

// ParseFilter parses AIP-160 filter text against a kind's field schema.
func ParseFilter(schema filter.Schema, text string) (filter.Expr, error) {
	return filter.Parse(text, schema)
}

// ParseOrder reads an order_by expression such as "amount desc". A single
// field is accepted: a schema attribute or one of the record columns. An
// empty text yields store.DefaultOrder.
func ParseOrder(schema filter.Schema, text string) (store.Order, error) {
	var ob ordering.OrderBy
	if err := ob.UnmarshalString(strings.TrimSpace(text)); err != nil {
		return store.Order{}, fmt.Errorf("%w: %w", common.ErrInvalidFilter, err)
	}
	switch len(ob.Fields) {
	case 0:
		return store.DefaultOrder, nil
	case 1:
	default:
		return store.Order{}, fmt.Errorf("%w: order by a single field", common.ErrInvalidFilter)
	}

	paths := []string{store.OrderUpdatedAt, store.OrderCreatedAt, store.OrderRecordID, store.OrderSeq}
	for name := range schema {
		paths = append(paths, name)
	}
	if err := ob.ValidateForPaths(paths...); err != nil {
		return store.Order{}, fmt.Errorf("%w: %w", common.ErrInvalidFilter, err)
	}
	f := ob.Fields[0]
	return store.Order{Field: f.Path, Desc: f.Desc}.Normalize()
}
