// Package postgres is the authoritative server store: the shared SQL store
// over pgx with JSONB attributes.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/homesync/internal/dbx"
	"github.com/dmitrijs2005/homesync/internal/filter"
	"github.com/dmitrijs2005/homesync/internal/store/postgres/migrations"
	"github.com/dmitrijs2005/homesync/internal/store/sqlstore"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// writeLockKey identifies the transaction-scoped advisory lock that orders
// sequence allocation with commits.
const writeLockKey int64 = 0x686f6d6573796e63

// keyLockClass is the first half of the two-part advisory lock taken per
// record key; the second half is the hashed key.
const keyLockClass int32 = 0x6873

// Open connects to dsn, verifies the connection and applies migrations.
func Open(ctx context.Context, dsn string, opts ...sqlstore.Option) (*sqlstore.Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	return New(db, opts...), nil
}

// New wraps an already migrated handle.
func New(db *sql.DB, opts ...sqlstore.Option) *sqlstore.Store {
	return sqlstore.New(db, Dialect{}, opts...)
}

func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}

	if err := goose.UpContext(ctx, db, "."); err != nil {
		return err
	}

	return nil
}

// Dialect renders SQL for PostgreSQL JSONB operators.
type Dialect struct{}

var _ sqlstore.Dialect = Dialect{}

func (Dialect) Name() string { return "postgres" }

func (Dialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (Dialect) JSONParam(placeholder string) string { return placeholder + "::jsonb" }

func (Dialect) ForUpdate() string { return " FOR UPDATE" }

func (Dialect) LockKey(ctx context.Context, tx dbx.DBTX, key string) error {
	_, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1, hashtext($2))`, keyLockClass, key)
	return err
}

func (Dialect) LockWrites(ctx context.Context, tx dbx.DBTX) error {
	_, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, writeLockKey)
	return err
}

func (Dialect) NextSeq(ctx context.Context, tx dbx.DBTX) (int64, error) {
	var seq int64
	err := tx.QueryRowContext(ctx, `SELECT nextval('records_seq')`).Scan(&seq)
	return seq, err
}

func textPath(path []string) string {
	// path segments are validated identifiers
	return "'{" + strings.Join(path, ",") + "}'"
}

func (Dialect) CompareAttr(column string, path []string, op filter.Op, value any, placeholder string) (string, any) {
	p := textPath(path)
	var jsonType, cast string
	switch value.(type) {
	case string:
		jsonType, cast = "string", ` COLLATE "C"`
	case bool:
		jsonType, cast = "boolean", "::boolean"
	default:
		jsonType, cast = "number", "::numeric"
	}
	clause := fmt.Sprintf("(CASE WHEN jsonb_typeof(%[1]s #> %[2]s) = '%[3]s' THEN (%[1]s #>> %[2]s)%[4]s %[5]s %[6]s ELSE false END)",
		column, p, jsonType, cast, op, placeholder)
	return clause, value
}

// OrderAttr sorts missing < bool < number < string < other, matching the
// in-memory store; strings compare bytewise.
func (Dialect) OrderAttr(column string, path []string, desc bool) string {
	dir := "ASC"
	if desc {
		dir = "DESC"
	}
	p := textPath(path)
	t := fmt.Sprintf("jsonb_typeof(%s #> %s)", column, p)
	v := fmt.Sprintf("(%s #>> %s)", column, p)

	terms := []string{
		fmt.Sprintf(`CASE WHEN %[1]s IS NULL OR %[1]s = 'null' THEN 0 WHEN %[1]s = 'boolean' THEN 1 WHEN %[1]s = 'number' THEN 2 WHEN %[1]s = 'string' THEN 3 ELSE 4 END %[2]s`, t, dir),
		fmt.Sprintf(`CASE WHEN %s = 'boolean' THEN %s::boolean END %s`, t, v, dir),
		fmt.Sprintf(`CASE WHEN %s = 'number' THEN %s::numeric END %s`, t, v, dir),
		fmt.Sprintf(`CASE WHEN %s = 'string' THEN %s COLLATE "C" END %s`, t, v, dir),
	}
	return strings.Join(terms, ", ")
}
