// Package models defines the versioned record that every domain entity is
// projected onto, together with its tenant and operation types.
package models

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/homesync/internal/common"
	"github.com/dmitrijs2005/homesync/internal/timex"
)

// Operation tags the nature of the last mutation. It is kept for audit and
// plays no part in merge decisions.
type Operation string

const (
	OperationInsert Operation = "insert"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

func (o Operation) Valid() bool {
	switch o {
	case OperationInsert, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// Attributes is the open payload of a record.
type Attributes map[string]any

// Clone returns a deep copy of maps and slices; scalars are shared.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case Attributes:
		return x.Clone()
	case map[string]any:
		return map[string]any(Attributes(x).Clone())
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// Key identifies a record within a store.
type Key struct {
	Kind string
	ID   string
}

func (k Key) String() string {
	return k.Kind + "/" + k.ID
}

// Record is one row of the versioned document store: the current state of
// a (Kind, ID) pair.
type Record struct {
	Kind       string     `json:"kind"`
	ID         string     `json:"id"`
	Tenant     Tenant     `json:"tenant"`
	Attributes Attributes `json:"attributes"`
	Operation  Operation  `json:"operation"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	DeletedAt  *time.Time `json:"deletedAt,omitempty"`

	// Seq is assigned by the store on every write and only serves as a
	// replication cursor.
	Seq int64 `json:"seq,omitempty"`
}

func (r Record) Key() Key {
	return Key{Kind: r.Kind, ID: r.ID}
}

// IsDeleted reports whether r is a tombstone.
func (r Record) IsDeleted() bool {
	return r.DeletedAt != nil
}

// Clone returns a copy that shares no mutable state with r.
func (r Record) Clone() Record {
	out := r
	out.Attributes = r.Attributes.Clone()
	if r.DeletedAt != nil {
		d := *r.DeletedAt
		out.DeletedAt = &d
	}
	return out
}

// Normalized returns a clone with every timestamp in UTC at store precision.
func (r Record) Normalized() Record {
	out := r.Clone()
	out.CreatedAt = timex.Normalize(r.CreatedAt)
	out.UpdatedAt = timex.Normalize(r.UpdatedAt)
	if r.DeletedAt != nil {
		d := timex.Normalize(*r.DeletedAt)
		out.DeletedAt = &d
	}
	if out.Attributes == nil {
		out.Attributes = Attributes{}
	}
	return out
}

// Validate checks the structural invariants every stored record satisfies.
func (r Record) Validate() error {
	switch {
	case r.Kind == "":
		return fmt.Errorf("%w: empty kind", common.ErrInvalidRecord)
	case r.ID == "":
		return fmt.Errorf("%w: empty id", common.ErrInvalidRecord)
	case r.Tenant.IsZero():
		return fmt.Errorf("%w: %s: %w", common.ErrInvalidRecord, r.Key(), common.ErrInvalidScope)
	case !r.Operation.Valid():
		return fmt.Errorf("%w: %s: unknown operation %q", common.ErrInvalidRecord, r.Key(), r.Operation)
	case r.UpdatedAt.IsZero():
		return fmt.Errorf("%w: %s: zero updatedAt", common.ErrInvalidRecord, r.Key())
	case r.UpdatedAt.Before(r.CreatedAt):
		return fmt.Errorf("%w: %s: updatedAt before createdAt", common.ErrInvalidRecord, r.Key())
	}
	return nil
}
