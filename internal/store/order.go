package store

import (
	"cmp"
	"fmt"
	"iter"

	"github.com/dmitrijs2005/homesync/internal/common"
	"github.com/dmitrijs2005/homesync/internal/filter"
	"github.com/dmitrijs2005/homesync/internal/models"
)

// Normalize fills in the default field and rejects unusable ones.
func (o Order) Normalize() (Order, error) {
	if o.Field == "" {
		o.Field = OrderUpdatedAt
	}
	if !o.IsAttribute() {
		return o, nil
	}
	if !filter.ValidField(o.Field) {
		return o, fmt.Errorf("%w: bad order field %q", common.ErrInvalidFilter, o.Field)
	}
	return o, nil
}

// IsAttribute reports whether o sorts by an attribute path.
func (o Order) IsAttribute() bool {
	switch o.Field {
	case "", OrderUpdatedAt, OrderCreatedAt, OrderRecordID, OrderSeq:
		return false
	}
	return true
}

// CompareRecords orders a and b by o with the record id as tie-break. o
// must be normalised.
func CompareRecords(a, b models.Record, o Order) int {
	c := comparePrimary(a, b, o.Field)
	if c == 0 {
		c = cmp.Compare(a.ID, b.ID)
	}
	if o.Desc {
		return -c
	}
	return c
}

func comparePrimary(a, b models.Record, field string) int {
	switch field {
	case OrderUpdatedAt:
		return a.UpdatedAt.Compare(b.UpdatedAt)
	case OrderCreatedAt:
		return a.CreatedAt.Compare(b.CreatedAt)
	case OrderRecordID:
		return 0
	case OrderSeq:
		return cmp.Compare(a.Seq, b.Seq)
	}

	av, aok := filter.Lookup(a.Attributes, field)
	bv, bok := filter.Lookup(b.Attributes, field)
	if c := cmp.Compare(filter.Rank(av, aok), filter.Rank(bv, bok)); c != 0 {
		return c
	}
	c, _ := filter.Compare3(av, bv)
	return c
}

// Prepare normalises rec for storage and checks its invariants.
func Prepare(rec models.Record) (models.Record, error) {
	rec = rec.Normalized()
	if err := rec.Validate(); err != nil {
		return models.Record{}, err
	}
	return rec, nil
}

// Collect drains a scan into a slice, stopping at the first error.
func Collect(seq iter.Seq2[models.Record, error]) ([]models.Record, error) {
	var out []models.Record
	for rec, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Matches reports whether rec passes the non-ordering parts of opts. The
// filter must already be validated.
func Matches(rec models.Record, opts ScanOptions) bool {
	if rec.IsDeleted() && !opts.IncludeDeleted {
		return false
	}
	if rec.Seq <= opts.AfterSeq {
		return false
	}
	if !opts.Scope.IsZero() && !rec.Tenant.Matches(opts.Scope) {
		return false
	}
	return filter.Match(opts.Filter, rec.Attributes)
}

// Error yields a single error; scans use it to report bad options lazily.
func Error(err error) iter.Seq2[models.Record, error] {
	return func(yield func(models.Record, error) bool) {
		yield(models.Record{}, err)
	}
}
