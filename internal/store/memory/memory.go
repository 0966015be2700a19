// Package memory is an in-process Store used by tests and tools.
package memory

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/dmitrijs2005/homesync/internal/common"
	"github.com/dmitrijs2005/homesync/internal/dbx"
	"github.com/dmitrijs2005/homesync/internal/filter"
	"github.com/dmitrijs2005/homesync/internal/keylock"
	"github.com/dmitrijs2005/homesync/internal/models"
	"github.com/dmitrijs2005/homesync/internal/store"
)

type Store struct {
	mu    sync.RWMutex
	rows  map[models.Key]models.Record
	seq   int64
	locks *keylock.Map
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		rows:  make(map[models.Key]models.Record),
		locks: keylock.New(),
	}
}

func (s *Store) Get(ctx context.Context, kind, id string) (models.Record, error) {
	if err := ctx.Err(); err != nil {
		return models.Record{}, dbx.MapError(err)
	}
	s.mu.RLock()
	rec, ok := s.rows[models.Key{Kind: kind, ID: id}]
	s.mu.RUnlock()
	if !ok {
		return models.Record{}, common.ErrorNotFound
	}
	return rec.Clone(), nil
}

func (s *Store) Put(ctx context.Context, rec models.Record) error {
	if err := ctx.Err(); err != nil {
		return dbx.MapError(err)
	}
	rec, err := store.Prepare(rec)
	if err != nil {
		return err
	}

	unlock, err := s.locks.Lock(ctx, rec.Key().String())
	if err != nil {
		return dbx.MapError(err)
	}
	defer unlock()

	s.write(rec)
	return nil
}

func (s *Store) write(rec models.Record) models.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	rec.Seq = s.seq
	s.rows[rec.Key()] = rec.Clone()
	return rec
}

func (s *Store) Mutate(ctx context.Context, kind, id string, fn store.MutateFunc) (models.Record, error) {
	key := models.Key{Kind: kind, ID: id}
	unlock, err := s.locks.Lock(ctx, key.String())
	if err != nil {
		return models.Record{}, dbx.MapError(err)
	}
	defer unlock()

	if err := ctx.Err(); err != nil {
		return models.Record{}, dbx.MapError(err)
	}

	s.mu.RLock()
	cur, found := s.rows[key]
	s.mu.RUnlock()

	var arg *models.Record
	if found {
		c := cur.Clone()
		arg = &c
	}

	next, err := fn(arg)
	if err != nil {
		return models.Record{}, err
	}
	if next == nil {
		if !found {
			return models.Record{}, common.ErrorNotFound
		}
		return cur.Clone(), nil
	}
	if next.Kind != kind || next.ID != id {
		return models.Record{}, fmt.Errorf("%w: mutate of %s returned %s", common.ErrInvalidRecord, key, next.Key())
	}

	rec, err := store.Prepare(*next)
	if err != nil {
		return models.Record{}, err
	}
	if err := ctx.Err(); err != nil {
		return models.Record{}, dbx.MapError(err)
	}
	return s.write(rec), nil
}

func (s *Store) Scan(ctx context.Context, kind string, opts store.ScanOptions) iter.Seq2[models.Record, error] {
	order, err := opts.Order.Normalize()
	if err != nil {
		return store.Error(err)
	}
	if err := filter.Validate(opts.Filter); err != nil {
		return store.Error(err)
	}

	return func(yield func(models.Record, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(models.Record{}, dbx.MapError(err))
			return
		}

		// snapshot under the read lock, yield without it
		s.mu.RLock()
		var rows []models.Record
		for key, rec := range s.rows {
			if key.Kind == kind && store.Matches(rec, opts) {
				rows = append(rows, rec)
			}
		}
		s.mu.RUnlock()

		slices.SortFunc(rows, func(a, b models.Record) int {
			return store.CompareRecords(a, b, order)
		})

		if opts.Offset > 0 {
			rows = rows[min(opts.Offset, len(rows)):]
		}
		if opts.Limit > 0 && len(rows) > opts.Limit {
			rows = rows[:opts.Limit]
		}

		for _, rec := range rows {
			if err := ctx.Err(); err != nil {
				yield(models.Record{}, dbx.MapError(err))
				return
			}
			if !yield(rec.Clone(), nil) {
				return
			}
		}
	}
}

func (s *Store) Expired(ctx context.Context, kind string, deletedBefore time.Time, limit int) ([]models.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, dbx.MapError(err)
	}
	recs := s.expired(kind, deletedBefore, limit)
	for i := range recs {
		recs[i] = recs[i].Clone()
	}
	return recs, nil
}

func (s *Store) expired(kind string, deletedBefore time.Time, limit int) []models.Record {
	s.mu.RLock()
	var candidates []models.Record
	for key, rec := range s.rows {
		if key.Kind == kind && rec.IsDeleted() && rec.DeletedAt.Before(deletedBefore) {
			candidates = append(candidates, rec)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(candidates, func(a, b models.Record) int {
		if c := a.DeletedAt.Compare(*b.DeletedAt); c != 0 {
			return c
		}
		return store.CompareRecords(a, b, store.Order{Field: store.OrderRecordID})
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates
}

func (s *Store) Purge(ctx context.Context, kind string, deletedBefore time.Time, limit int) ([]models.Record, error) {
	candidates := s.expired(kind, deletedBefore, limit)

	var purged []models.Record
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return purged, dbx.MapError(err)
		}
		rec, ok, err := s.purgeOne(ctx, c.Key(), deletedBefore)
		if err != nil {
			return purged, dbx.MapError(err)
		}
		if ok {
			purged = append(purged, rec)
		}
	}
	return purged, nil
}

// purgeOne re-checks the row under its key lock; a concurrent resurrection
// wins over the sweep.
func (s *Store) purgeOne(ctx context.Context, key models.Key, deletedBefore time.Time) (models.Record, bool, error) {
	unlock, err := s.locks.Lock(ctx, key.String())
	if err != nil {
		return models.Record{}, false, err
	}
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rows[key]
	if !ok || !rec.IsDeleted() || !rec.DeletedAt.Before(deletedBefore) {
		return models.Record{}, false, nil
	}
	delete(s.rows, key)
	return rec, true, nil
}

func (s *Store) Close() error {
	return nil
}

// Len returns the number of rows, tombstones included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}
