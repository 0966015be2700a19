// Package sqlstore implements store.Store over database/sql. The SQLite
// and PostgreSQL backends share it and differ only in their Dialect.
package sqlstore

import (
	"context"

	"github.com/dmitrijs2005/homesync/internal/dbx"
	"github.com/dmitrijs2005/homesync/internal/filter"
)

// Dialect captures the engine specific SQL fragments.
type Dialect interface {
	filter.SQLDialect

	// Name is used in logs and metrics labels.
	Name() string
	// LockKey serialises writers of one (kind, id) across processes for
	// the rest of tx, including when the row does not exist yet.
	LockKey(ctx context.Context, tx dbx.DBTX, key string) error
	// LockWrites serialises the write phase of concurrent transactions so
	// that sequence numbers become visible in commit order.
	LockWrites(ctx context.Context, tx dbx.DBTX) error
	// NextSeq allocates the next change sequence number inside tx.
	NextSeq(ctx context.Context, tx dbx.DBTX) (int64, error)
	// JSONParam wraps the placeholder receiving the attributes document.
	JSONParam(placeholder string) string
	// OrderAttr returns an ORDER BY term for the attribute at path.
	OrderAttr(column string, path []string, desc bool) string
	// ForUpdate is appended to the row read inside Mutate.
	ForUpdate() string
}
