// Package sqlite is the device replica store: the shared SQL store over
// modernc.org/sqlite with the SQLite JSON1 dialect.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/homesync/internal/dbx"
	"github.com/dmitrijs2005/homesync/internal/filter"
	"github.com/dmitrijs2005/homesync/internal/store/sqlite/migrations"
	"github.com/dmitrijs2005/homesync/internal/store/sqlstore"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// Open opens (creating if needed) the replica database at dsn and brings
// its schema up to date. ":memory:" works for tests.
func Open(ctx context.Context, dsn string, opts ...sqlstore.Option) (*sqlstore.Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: SQLite allows a single writer, and an in-memory
	// database lives only as long as its connection.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}

	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}

	return sqlstore.New(db, Dialect{}, opts...), nil
}

func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	return goose.UpContext(ctx, db, ".")
}

// Dialect renders SQL for SQLite's JSON1 functions.
type Dialect struct{}

var _ sqlstore.Dialect = Dialect{}

func (Dialect) Name() string { return "sqlite" }

func (Dialect) Placeholder(int) string { return "?" }

func (Dialect) JSONParam(placeholder string) string { return placeholder }

func (Dialect) ForUpdate() string { return "" }

// LockKey and LockWrites are no-ops: the single connection already
// serialises transactions.
func (Dialect) LockKey(context.Context, dbx.DBTX, string) error { return nil }

func (Dialect) LockWrites(context.Context, dbx.DBTX) error { return nil }

func (Dialect) NextSeq(ctx context.Context, tx dbx.DBTX) (int64, error) {
	var seq int64
	err := tx.QueryRowContext(ctx, `UPDATE record_seq SET value = value + 1 WHERE id = 1 RETURNING value`).Scan(&seq)
	return seq, err
}

func jsonPath(path []string) string {
	// path segments are validated identifiers
	return "'$." + strings.Join(path, ".") + "'"
}

func (Dialect) CompareAttr(column string, path []string, op filter.Op, value any, placeholder string) (string, any) {
	p := jsonPath(path)
	var types string
	switch v := value.(type) {
	case string:
		types = "'text'"
	case bool:
		types = "'true', 'false'"
		if v {
			value = int64(1)
		} else {
			value = int64(0)
		}
	default:
		types = "'integer', 'real'"
	}
	clause := fmt.Sprintf("(CASE WHEN json_type(%[1]s, %[2]s) IN (%[3]s) THEN json_extract(%[1]s, %[2]s) %[4]s %[5]s ELSE 0 END)",
		column, p, types, op, placeholder)
	return clause, value
}

// OrderAttr sorts missing < bool < number < string < other, matching the
// in-memory store.
func (Dialect) OrderAttr(column string, path []string, desc bool) string {
	dir := "ASC"
	if desc {
		dir = "DESC"
	}
	t := fmt.Sprintf("json_type(%s, %s)", column, jsonPath(path))
	rank := fmt.Sprintf(`CASE WHEN %[1]s IS NULL OR %[1]s = 'null' THEN 0 WHEN %[1]s IN ('true', 'false') THEN 1 WHEN %[1]s IN ('integer', 'real') THEN 2 WHEN %[1]s = 'text' THEN 3 ELSE 4 END`, t)
	value := fmt.Sprintf(`CASE WHEN %s IN ('true', 'false', 'integer', 'real', 'text') THEN json_extract(%s, %s) END`, t, column, jsonPath(path))
	return fmt.Sprintf("%s %s, %s %s", rank, dir, value, dir)
}
