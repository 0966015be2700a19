package mutation

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/homesync/internal/logging"
	"github.com/dmitrijs2005/homesync/internal/models"
	"github.com/dmitrijs2005/homesync/internal/store"
)

// Archiver keeps a copy of tombstones before they are removed for good.
type Archiver interface {
	Archive(ctx context.Context, kind string, recs []models.Record) error
}

// Sweeper physically removes tombstones older than the retention window.
type Sweeper struct {
	store     store.Store
	retention time.Duration
	batch     int
	archiver  Archiver
	now       func() time.Time
	log       logging.Logger
}

type SweepOption func(*Sweeper)

func WithArchiver(a Archiver) SweepOption {
	return func(s *Sweeper) { s.archiver = a }
}

func WithBatch(n int) SweepOption {
	return func(s *Sweeper) {
		if n > 0 {
			s.batch = n
		}
	}
}

func WithSweepLogger(l logging.Logger) SweepOption {
	return func(s *Sweeper) { s.log = l.With("module", "sweeper") }
}

func WithNow(now func() time.Time) SweepOption {
	return func(s *Sweeper) { s.now = now }
}

func NewSweeper(st store.Store, retention time.Duration, opts ...SweepOption) *Sweeper {
	s := &Sweeper{
		store:     st,
		retention: retention,
		batch:     500,
		now:       time.Now,
		log:       logging.Nop{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Sweep removes expired tombstones of every kind, at most one batch per
// kind per call, and returns how many rows were removed per kind. With an
// archiver configured, candidates are archived before removal; a failed
// archive leaves the kind untouched.
func (s *Sweeper) Sweep(ctx context.Context, kinds []string) (map[string]int, error) {
	cutoff := s.now().Add(-s.retention)
	removed := make(map[string]int, len(kinds))

	for _, kind := range kinds {
		n, err := s.sweepKind(ctx, kind, cutoff)
		removed[kind] = n
		if err != nil {
			return removed, fmt.Errorf("sweep %s: %w", kind, err)
		}
		if n > 0 {
			s.log.Info(ctx, "tombstones purged", "kind", kind, "count", n, "cutoff", cutoff)
		}
	}
	return removed, nil
}

func (s *Sweeper) sweepKind(ctx context.Context, kind string, cutoff time.Time) (int, error) {
	archived := map[models.Key]int64{}
	if s.archiver != nil {
		candidates, err := s.store.Expired(ctx, kind, cutoff, s.batch)
		if err != nil {
			return 0, err
		}
		if len(candidates) > 0 {
			if err := s.archiver.Archive(ctx, kind, candidates); err != nil {
				return 0, fmt.Errorf("archive: %w", err)
			}
		}
		for _, c := range candidates {
			archived[c.Key()] = c.Seq
		}
	}

	purged, err := s.store.Purge(ctx, kind, cutoff, s.batch)
	if err != nil {
		return len(purged), err
	}

	if s.archiver != nil {
		// rows that became eligible between the scan and the purge
		var late []models.Record
		for _, p := range purged {
			if seq, ok := archived[p.Key()]; !ok || seq != p.Seq {
				late = append(late, p)
			}
		}
		if len(late) > 0 {
			if err := s.archiver.Archive(ctx, kind, late); err != nil {
				s.log.Error(ctx, "late archive failed", "kind", kind, "count", len(late), "error", err)
				return len(purged), fmt.Errorf("archive: %w", err)
			}
		}
	}
	return len(purged), nil
}

