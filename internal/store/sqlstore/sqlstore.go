package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/dmitrijs2005/homesync/internal/codec"
	"github.com/dmitrijs2005/homesync/internal/common"
	"github.com/dmitrijs2005/homesync/internal/dbx"
	"github.com/dmitrijs2005/homesync/internal/filter"
	"github.com/dmitrijs2005/homesync/internal/keylock"
	"github.com/dmitrijs2005/homesync/internal/models"
	"github.com/dmitrijs2005/homesync/internal/store"
	"github.com/dmitrijs2005/homesync/internal/timex"
)

const (
	DefaultOpTimeout = 5 * time.Second
	DefaultBatchSize = 200

	columns = `entity_kind, record_id, owner_id, household_id, attributes, operation, created_at, updated_at, deleted_at, seq`
)

// Store is a store.Store over a SQL database.
type Store struct {
	db        *sql.DB
	dialect   Dialect
	locks     *keylock.Map
	opTimeout time.Duration
	batchSize int
}

var _ store.Store = (*Store)(nil)

type Option func(*Store)

// WithOpTimeout bounds every blocking call. Non-positive disables it.
func WithOpTimeout(d time.Duration) Option {
	return func(s *Store) { s.opTimeout = d }
}

// WithBatchSize sets how many rows a scan fetches per round trip.
func WithBatchSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

func New(db *sql.DB, d Dialect, opts ...Option) *Store {
	s := &Store{
		db:        db,
		dialect:   d,
		locks:     keylock.New(),
		opTimeout: DefaultOpTimeout,
		batchSize: DefaultBatchSize,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// DB exposes the underlying handle, e.g. for migrations.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Dialect() Dialect {
	return s.dialect
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ph(n int) string {
	return s.dialect.Placeholder(n)
}

func (s *Store) Get(ctx context.Context, kind, id string) (models.Record, error) {
	ctx, cancel := dbx.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	rec, err := s.get(ctx, s.db, kind, id, false)
	return rec, dbx.MapError(err)
}

func (s *Store) get(ctx context.Context, db dbx.DBTX, kind, id string, forUpdate bool) (models.Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM records WHERE entity_kind = %s AND record_id = %s`,
		columns, s.ph(1), s.ph(2))
	if forUpdate {
		query += s.dialect.ForUpdate()
	}

	rec, err := scanRecord(db.QueryRowContext(ctx, query, kind, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Record{}, common.ErrorNotFound
	}
	if err != nil {
		return models.Record{}, fmt.Errorf("select record %s/%s: %w", kind, id, err)
	}
	return rec, nil
}

// Put is a Mutate that ignores the current row, so it takes the same row
// and write locks in the same order.
func (s *Store) Put(ctx context.Context, rec models.Record) error {
	rec, err := store.Prepare(rec)
	if err != nil {
		return err
	}
	_, err = s.Mutate(ctx, rec.Kind, rec.ID, func(*models.Record) (*models.Record, error) {
		return &rec, nil
	})
	return err
}

func (s *Store) upsert(ctx context.Context, tx dbx.DBTX, rec models.Record) (int64, error) {
	attrs, err := codec.Marshal(rec.Attributes)
	if err != nil {
		return 0, fmt.Errorf("marshal attributes of %s: %w", rec.Key(), err)
	}

	var deletedAt sql.NullInt64
	if rec.DeletedAt != nil {
		deletedAt = sql.NullInt64{Int64: timex.Micros(*rec.DeletedAt), Valid: true}
	}

	if err := s.dialect.LockWrites(ctx, tx); err != nil {
		return 0, fmt.Errorf("lock writes: %w", err)
	}
	seq, err := s.dialect.NextSeq(ctx, tx)
	if err != nil {
		return 0, fmt.Errorf("next seq: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO records (%s)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s)
		ON CONFLICT (entity_kind, record_id)
		DO UPDATE SET
			owner_id = excluded.owner_id,
			household_id = excluded.household_id,
			attributes = excluded.attributes,
			operation = excluded.operation,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			deleted_at = excluded.deleted_at,
			seq = excluded.seq`,
		columns,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.dialect.JSONParam(s.ph(5)),
		s.ph(6), s.ph(7), s.ph(8), s.ph(9), s.ph(10))

	_, err = tx.ExecContext(ctx, query,
		rec.Kind, rec.ID, rec.Tenant.OwnerID, rec.Tenant.HouseholdID, string(attrs),
		string(rec.Operation), timex.Micros(rec.CreatedAt), timex.Micros(rec.UpdatedAt), deletedAt, seq,
	)
	if err != nil {
		return 0, fmt.Errorf("upsert record %s: %w", rec.Key(), err)
	}
	return seq, nil
}

func (s *Store) Mutate(ctx context.Context, kind, id string, fn store.MutateFunc) (models.Record, error) {
	key := models.Key{Kind: kind, ID: id}
	ctx, cancel := dbx.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	unlock, err := s.locks.Lock(ctx, key.String())
	if err != nil {
		return models.Record{}, dbx.MapError(err)
	}
	defer unlock()

	var out models.Record
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.dialect.LockKey(ctx, tx, key.String()); err != nil {
			return fmt.Errorf("lock %s: %w", key, err)
		}
		cur, err := s.get(ctx, tx, kind, id, true)
		found := err == nil
		if err != nil && !errors.Is(err, common.ErrorNotFound) {
			return err
		}

		var arg *models.Record
		if found {
			c := cur.Clone()
			arg = &c
		}

		next, err := fn(arg)
		if err != nil {
			return err
		}
		if next == nil {
			if !found {
				return common.ErrorNotFound
			}
			out = cur
			return nil
		}
		if next.Kind != kind || next.ID != id {
			return fmt.Errorf("%w: mutate of %s returned %s", common.ErrInvalidRecord, key, next.Key())
		}

		rec, err := store.Prepare(*next)
		if err != nil {
			return err
		}
		seq, err := s.upsert(ctx, tx, rec)
		if err != nil {
			return err
		}
		rec.Seq = seq
		out = rec
		return nil
	})
	if err != nil {
		return models.Record{}, dbx.MapError(err)
	}
	return out, nil
}

// Scan fetches in batches of batchSize. No cursor stays open while the
// caller's loop body runs, so abandoning the iteration needs no cleanup
// and single-connection databases stay usable from inside the loop.
//
// Writes made while a scan runs never make it skip a row that matched when
// the scan started. Column orders page by key (sort column, record_id), so
// a row rewritten behind the scan position moves without shifting the rows
// ahead. Attribute orders first read the ordered ids and then fetch the
// rows in batches by id.
func (s *Store) Scan(ctx context.Context, kind string, opts store.ScanOptions) iter.Seq2[models.Record, error] {
	q, err := s.buildScan(kind, opts)
	if err != nil {
		return store.Error(err)
	}

	if q.order.IsAttribute() {
		return s.scanByIDs(ctx, q, opts)
	}
	return s.scanByKey(ctx, q, opts)
}

func (s *Store) scanByKey(ctx context.Context, q scanQuery, opts store.ScanOptions) iter.Seq2[models.Record, error] {
	return func(yield func(models.Record, error) bool) {
		offset := max(opts.Offset, 0)
		remaining := opts.Limit
		var last *models.Record

		for {
			size := s.batchSize
			if remaining > 0 && remaining < size {
				size = remaining
			}

			page := q
			if last != nil {
				page = s.after(q, *last)
			}
			batch, err := s.fetch(ctx, page, size, offset)
			if err != nil {
				yield(models.Record{}, err)
				return
			}

			for _, rec := range batch {
				if !yield(rec, nil) {
					return
				}
			}

			if len(batch) < size {
				return
			}
			last = &batch[len(batch)-1]
			offset = 0
			if remaining > 0 {
				remaining -= len(batch)
				if remaining == 0 {
					return
				}
			}
		}
	}
}

// after narrows q to rows that sort strictly after last.
func (s *Store) after(q scanQuery, last models.Record) scanQuery {
	op := ">"
	if q.order.Desc {
		op = "<"
	}

	args := append([]any{}, q.args...)
	arg := func(v any) string {
		args = append(args, v)
		return s.ph(len(args))
	}

	var clause string
	if q.order.Field == store.OrderRecordID {
		clause = fmt.Sprintf("record_id %s %s", op, arg(last.ID))
	} else {
		v := sortValue(last, q.order.Field)
		clause = fmt.Sprintf("(%[1]s %[2]s %[3]s OR (%[1]s = %[4]s AND record_id %[2]s %[5]s))",
			q.order.Field, op, arg(v), arg(v), arg(last.ID))
	}

	q.where = append(append([]string{}, q.where...), clause)
	q.args = args
	return q
}

func sortValue(rec models.Record, field string) any {
	switch field {
	case store.OrderUpdatedAt:
		return timex.Micros(rec.UpdatedAt)
	case store.OrderCreatedAt:
		return timex.Micros(rec.CreatedAt)
	}
	return rec.Seq
}

func (s *Store) scanByIDs(ctx context.Context, q scanQuery, opts store.ScanOptions) iter.Seq2[models.Record, error] {
	return func(yield func(models.Record, error) bool) {
		ids, err := s.orderedIDs(ctx, q)
		if err != nil {
			yield(models.Record{}, err)
			return
		}
		if opts.Offset > 0 {
			ids = ids[min(opts.Offset, len(ids)):]
		}
		if opts.Limit > 0 && len(ids) > opts.Limit {
			ids = ids[:opts.Limit]
		}

		for len(ids) > 0 {
			chunk := ids[:min(s.batchSize, len(ids))]
			ids = ids[len(chunk):]

			batch, err := s.fetchIDs(ctx, q, chunk)
			if err != nil {
				yield(models.Record{}, err)
				return
			}
			// rows gone or no longer matching are dropped
			for _, id := range chunk {
				rec, ok := batch[id]
				if !ok {
					continue
				}
				if !yield(rec, nil) {
					return
				}
			}
		}
	}
}

func (s *Store) orderedIDs(ctx context.Context, q scanQuery) ([]string, error) {
	ctx, cancel := dbx.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT record_id FROM records WHERE %s ORDER BY %s`,
		strings.Join(q.where, " AND "), s.orderBy(q.order))
	rows, err := s.db.QueryContext(ctx, query, q.args...)
	if err != nil {
		return nil, dbx.MapError(fmt.Errorf("scan record ids: %w", err))
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, dbx.MapError(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, dbx.MapError(err)
	}
	return ids, nil
}

func (s *Store) fetchIDs(ctx context.Context, q scanQuery, ids []string) (map[string]models.Record, error) {
	ctx, cancel := dbx.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	args := append([]any{}, q.args...)
	marks := make([]string, len(ids))
	for i, id := range ids {
		args = append(args, id)
		marks[i] = s.ph(len(args))
	}
	query := fmt.Sprintf(`SELECT %s FROM records WHERE %s AND record_id IN (%s)`,
		columns, strings.Join(q.where, " AND "), strings.Join(marks, ", "))

	recs, err := s.queryAll(ctx, query, args...)
	if err != nil {
		return nil, dbx.MapError(fmt.Errorf("scan records: %w", err))
	}
	out := make(map[string]models.Record, len(recs))
	for _, rec := range recs {
		out[rec.ID] = rec
	}
	return out, nil
}

type scanQuery struct {
	where []string
	args  []any
	order store.Order
}

func (s *Store) buildScan(kind string, opts store.ScanOptions) (scanQuery, error) {
	order, err := opts.Order.Normalize()
	if err != nil {
		return scanQuery{}, err
	}

	args := []any{kind}
	where := []string{"entity_kind = " + s.ph(1)}
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, s.ph(len(args))))
	}

	if !opts.IncludeDeleted {
		where = append(where, "deleted_at IS NULL")
	}
	if opts.Scope.OwnerID != "" {
		add("owner_id = %s", opts.Scope.OwnerID)
	}
	if opts.Scope.HouseholdID != "" {
		add("household_id = %s", opts.Scope.HouseholdID)
	}
	if opts.AfterSeq > 0 {
		add("seq > %s", opts.AfterSeq)
	}

	cond, err := filter.ToSQL(opts.Filter, s.dialect, "attributes", len(args))
	if err != nil {
		return scanQuery{}, err
	}
	if cond.Clause != "" {
		where = append(where, cond.Clause)
		args = append(args, cond.Params...)
	}

	return scanQuery{where: where, args: args, order: order}, nil
}

func (s *Store) orderBy(o store.Order) string {
	dir := "ASC"
	if o.Desc {
		dir = "DESC"
	}
	tie := "record_id " + dir

	switch o.Field {
	case store.OrderUpdatedAt, store.OrderCreatedAt, store.OrderSeq:
		return fmt.Sprintf("%s %s, %s", o.Field, dir, tie)
	case store.OrderRecordID:
		return tie
	}
	return s.dialect.OrderAttr("attributes", strings.Split(o.Field, "."), o.Desc) + ", " + tie
}

func (s *Store) fetch(ctx context.Context, q scanQuery, limit, offset int) ([]models.Record, error) {
	ctx, cancel := dbx.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	n := len(q.args)
	query := fmt.Sprintf(`SELECT %s FROM records WHERE %s ORDER BY %s LIMIT %s OFFSET %s`,
		columns, strings.Join(q.where, " AND "), s.orderBy(q.order), s.ph(n+1), s.ph(n+2))
	args := append(append([]any{}, q.args...), limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbx.MapError(fmt.Errorf("scan records: %w", err))
	}
	defer rows.Close()

	var out []models.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, dbx.MapError(err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, dbx.MapError(err)
	}
	return out, nil
}

func (s *Store) Expired(ctx context.Context, kind string, deletedBefore time.Time, limit int) ([]models.Record, error) {
	ctx, cancel := dbx.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	recs, err := s.expired(ctx, kind, deletedBefore, limit)
	return recs, dbx.MapError(err)
}

func (s *Store) expired(ctx context.Context, kind string, deletedBefore time.Time, limit int) ([]models.Record, error) {
	if limit <= 0 {
		limit = s.batchSize
	}
	query := fmt.Sprintf(`SELECT %s FROM records
		WHERE entity_kind = %s AND deleted_at IS NOT NULL AND deleted_at < %s
		ORDER BY deleted_at, record_id LIMIT %s`,
		columns, s.ph(1), s.ph(2), s.ph(3))
	return s.queryAll(ctx, query, kind, timex.Micros(deletedBefore), limit)
}

func (s *Store) Purge(ctx context.Context, kind string, deletedBefore time.Time, limit int) ([]models.Record, error) {
	ctx, cancel := dbx.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	candidates, err := s.expired(ctx, kind, deletedBefore, limit)
	if err != nil {
		return nil, dbx.MapError(err)
	}

	var purged []models.Record
	for _, c := range candidates {
		ok, err := s.purgeOne(ctx, c, deletedBefore)
		if err != nil {
			return purged, dbx.MapError(err)
		}
		if ok {
			purged = append(purged, c)
		}
	}
	return purged, nil
}

// purgeOne deletes the row only if it is still the same old tombstone.
func (s *Store) purgeOne(ctx context.Context, rec models.Record, deletedBefore time.Time) (bool, error) {
	unlock, err := s.locks.Lock(ctx, rec.Key().String())
	if err != nil {
		return false, err
	}
	defer unlock()

	query := fmt.Sprintf(`DELETE FROM records
		WHERE entity_kind = %s AND record_id = %s AND seq = %s AND deleted_at IS NOT NULL AND deleted_at < %s`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4))
	res, err := s.db.ExecContext(ctx, query, rec.Kind, rec.ID, rec.Seq, timex.Micros(deletedBefore))
	if err != nil {
		return false, fmt.Errorf("purge record %s: %w", rec.Key(), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n == 1, nil
}

func (s *Store) queryAll(ctx context.Context, query string, args ...any) ([]models.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (models.Record, error) {
	var (
		rec       models.Record
		attrs     []byte
		op        string
		createdAt int64
		updatedAt int64
		deletedAt sql.NullInt64
	)
	if err := row.Scan(
		&rec.Kind, &rec.ID, &rec.Tenant.OwnerID, &rec.Tenant.HouseholdID, &attrs,
		&op, &createdAt, &updatedAt, &deletedAt, &rec.Seq,
	); err != nil {
		return models.Record{}, err
	}

	a, err := codec.Unmarshal(attrs)
	if err != nil {
		return models.Record{}, fmt.Errorf("attributes of %s/%s: %w", rec.Kind, rec.ID, err)
	}
	rec.Attributes = a
	rec.Operation = models.Operation(op)
	rec.CreatedAt = timex.FromMicros(createdAt)
	rec.UpdatedAt = timex.FromMicros(updatedAt)
	if deletedAt.Valid {
		d := timex.FromMicros(deletedAt.Int64)
		rec.DeletedAt = &d
	}
	return rec, nil
}
