// Package replica keeps a device's local store in step with the server.
//
// A Sync pushes every local version written since the last push, applies
// the server's winners locally, then pulls each kind's changes since the
// last pull. Versions the sync wrote itself are not pushed back; any other
// local write is. Both cursors are Seq values and persist in the metadata table,
// so an interrupted sync resumes where it stopped.
package replica

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/homesync/internal/client/client"
	"github.com/dmitrijs2005/homesync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/homesync/internal/common"
	"github.com/dmitrijs2005/homesync/internal/domain"
	"github.com/dmitrijs2005/homesync/internal/logging"
	"github.com/dmitrijs2005/homesync/internal/models"
	"github.com/dmitrijs2005/homesync/internal/reconcile"
	"github.com/dmitrijs2005/homesync/internal/store"
	"github.com/dmitrijs2005/homesync/internal/tenant"
	"github.com/dmitrijs2005/homesync/internal/wire"
)

const (
	defaultPushBatch = 200
	defaultPullLimit = 200

	sessionKey = "sync/session"
)

func pushKey(kind string) string { return "sync/" + kind + "/push_seq" }
func pullKey(kind string) string { return "sync/" + kind + "/pull_seq" }

// Remote is the part of the server the syncer talks to.
type Remote interface {
	Push(ctx context.Context, recs []models.Record) ([]client.PushResult, error)
	Pull(ctx context.Context, kind string, afterSeq int64, limit int) (*wire.PullResponse, error)
}

// Failure is a record the server or the local store refused.
type Failure struct {
	Kind string
	ID   string
	Err  error
}

// Report summarises one Sync.
type Report struct {
	Pushed   int
	Pulled   int
	Outcomes map[reconcile.Outcome]int
	Skipped  []string
	Failures []Failure
}

func (r *Report) count(o reconcile.Outcome) {
	if r.Outcomes == nil {
		r.Outcomes = make(map[reconcile.Outcome]int)
	}
	r.Outcomes[o]++
}

type Syncer struct {
	local      store.Store
	remote     Remote
	meta       metadata.Repository
	reconciler *reconcile.Reconciler
	session    domain.Session
	kinds      []string
	pushBatch  int
	pullLimit  int
	log        logging.Logger

	mu sync.Mutex
}

type Option func(*Syncer)

func WithLogger(l logging.Logger) Option {
	return func(s *Syncer) { s.log = l.With("module", "replica") }
}

// WithKinds limits syncing to the given kinds. All registered kinds are
// synced by default.
func WithKinds(kinds ...string) Option {
	return func(s *Syncer) { s.kinds = kinds }
}

func WithPushBatch(n int) Option {
	return func(s *Syncer) {
		if n > 0 {
			s.pushBatch = n
		}
	}
}

func WithPullLimit(n int) Option {
	return func(s *Syncer) {
		if n > 0 {
			s.pullLimit = n
		}
	}
}

func NewSyncer(local store.Store, remote Remote, meta metadata.Repository, session domain.Session, opts ...Option) *Syncer {
	s := &Syncer{
		local:     local,
		remote:    remote,
		meta:      meta,
		session:   session,
		kinds:     domain.Kinds(),
		pushBatch: defaultPushBatch,
		pullLimit: defaultPullLimit,
		log:       logging.Nop{},
	}
	for _, o := range opts {
		o(s)
	}
	s.reconciler = reconcile.New(tenant.NewGuard(local), reconcile.WithLogger(s.log))
	return s
}

// Sync runs one push/pull round over every kind. Calls are serialised.
// Per-record failures land in the report; the returned error is set only
// when a kind could not be synced at all.
func (s *Syncer) Sync(ctx context.Context) (Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rep Report
	if err := s.checkSession(ctx); err != nil {
		return rep, err
	}

	for _, kind := range s.kinds {
		scope, err := domain.TenantFor(kind, s.session)
		if errors.Is(err, common.ErrInvalidScope) {
			s.log.Debug(ctx, "kind skipped", "kind", kind, "reason", err.Error())
			rep.Skipped = append(rep.Skipped, kind)
			continue
		}
		if err != nil {
			return rep, err
		}
		if err := s.syncKind(ctx, kind, scope, &rep); err != nil {
			return rep, fmt.Errorf("sync %s: %w", kind, err)
		}
	}

	s.log.Info(ctx, "sync finished",
		"pushed", rep.Pushed, "pulled", rep.Pulled, "failures", len(rep.Failures))
	return rep, nil
}

// checkSession drops all cursors when the replica is used by a different
// identity than the last sync.
func (s *Syncer) checkSession(ctx context.Context) error {
	want := s.session.UserID + "|" + s.session.HouseholdID
	got, ok, err := s.meta.Get(ctx, sessionKey)
	if err != nil {
		return err
	}
	if ok && got == want {
		return nil
	}
	if ok {
		s.log.Warn(ctx, "session changed, resetting sync cursors")
		for _, kind := range domain.Kinds() {
			if err := s.meta.Delete(ctx, pushKey(kind)); err != nil {
				return err
			}
			if err := s.meta.Delete(ctx, pullKey(kind)); err != nil {
				return err
			}
		}
	}
	return s.meta.Set(ctx, sessionKey, want)
}

func (s *Syncer) syncKind(ctx context.Context, kind string, scope models.Tenant, rep *Report) error {
	reader, err := tenant.NewReader(s.local, scope)
	if err != nil {
		return err
	}

	own := make(written)
	top, complete, err := s.push(ctx, reader, kind, scope, own, rep)
	if err != nil {
		return err
	}
	if err := s.pull(ctx, kind, scope, own, rep); err != nil {
		return err
	}
	if !complete {
		return nil
	}

	cursor, err := skipOwn(ctx, reader, kind, top, own)
	if err != nil {
		return err
	}
	return metadata.SetInt64(ctx, s.meta, pushKey(kind), cursor)
}

// written holds the local Seqs this sync created by applying server
// versions.
type written map[int64]struct{}

func (w written) note(res reconcile.ApplyResult) {
	if res.Outcome != reconcile.OutcomeKept {
		w[res.Record.Seq] = struct{}{}
	}
}

// skipOwn moves the push cursor from top over the versions this sync wrote
// itself. It stops at the first other local write, which is then pushed by
// the next sync.
func skipOwn(ctx context.Context, r store.Reader, kind string, top int64, own written) (int64, error) {
	cursor := top
	if len(own) == 0 {
		return cursor, nil
	}
	for rec, err := range r.Scan(ctx, kind, store.ScanOptions{
		Order:          store.Order{Field: store.OrderSeq},
		IncludeDeleted: true,
		AfterSeq:       top,
	}) {
		if err != nil {
			return top, err
		}
		if _, ok := own[rec.Seq]; !ok {
			break
		}
		cursor = rec.Seq
	}
	return cursor, nil
}

// push sends local versions with Seq above the cursor and up to the Seq
// seen when it started, and returns that mark. It reports false when a
// retryable failure left the cursor behind.
func (s *Syncer) push(ctx context.Context, reader *tenant.Reader, kind string, scope models.Tenant, own written, rep *Report) (int64, bool, error) {
	cursor, err := metadata.Int64(ctx, s.meta, pushKey(kind))
	if err != nil {
		return 0, false, err
	}
	top, err := maxSeq(ctx, reader, kind)
	if err != nil {
		return 0, false, err
	}
	if top < cursor {
		top = cursor
	}

	for cursor < top {
		batch, err := store.Collect(reader.Scan(ctx, kind, store.ScanOptions{
			Order:          store.Order{Field: store.OrderSeq},
			IncludeDeleted: true,
			AfterSeq:       cursor,
			Limit:          s.pushBatch,
		}))
		if err != nil {
			return top, false, err
		}
		for i, rec := range batch {
			if rec.Seq > top {
				batch = batch[:i]
				break
			}
		}
		if len(batch) == 0 {
			break
		}

		results, err := s.remote.Push(ctx, batch)
		if err != nil {
			return top, false, err
		}

		next := batch[len(batch)-1].Seq
		stalled := false
		for i, res := range results {
			if res.Err != nil {
				rep.Failures = append(rep.Failures, Failure{Kind: res.Kind, ID: res.ID, Err: res.Err})
				var ie *client.ItemError
				if !stalled && errors.As(res.Err, &ie) && ie.Retryable() {
					next = batch[i].Seq - 1
					stalled = true
				}
				continue
			}
			if res.Record == nil {
				continue
			}
			applied, err := s.reconciler.Apply(ctx, scope, *res.Record)
			if err != nil {
				rep.Failures = append(rep.Failures, Failure{Kind: res.Kind, ID: res.ID, Err: err})
				continue
			}
			own.note(applied)
			rep.count(applied.Outcome)
		}
		rep.Pushed += countUpTo(batch, next)

		cursor = next
		if err := metadata.SetInt64(ctx, s.meta, pushKey(kind), cursor); err != nil {
			return top, false, err
		}
		if stalled {
			s.log.Warn(ctx, "push stalled on retryable failure", "kind", kind, "cursor", cursor)
			return top, false, nil
		}
	}
	return top, true, nil
}

func countUpTo(batch []models.Record, seq int64) int {
	n := 0
	for _, r := range batch {
		if r.Seq <= seq {
			n++
		}
	}
	return n
}

// pull applies the server's changes page by page, saving the cursor after
// each page.
func (s *Syncer) pull(ctx context.Context, kind string, scope models.Tenant, own written, rep *Report) error {
	cursor, err := metadata.Int64(ctx, s.meta, pullKey(kind))
	if err != nil {
		return err
	}

	for {
		page, err := s.remote.Pull(ctx, kind, cursor, s.pullLimit)
		if err != nil {
			return err
		}
		for _, rec := range page.Records {
			applied, err := s.reconciler.Apply(ctx, scope, rec)
			if err != nil {
				if common.IsRetryable(err) || errors.Is(err, context.Canceled) {
					return err
				}
				rep.Failures = append(rep.Failures, Failure{Kind: rec.Kind, ID: rec.ID, Err: err})
				continue
			}
			own.note(applied)
			rep.count(applied.Outcome)
		}
		rep.Pulled += len(page.Records)

		if page.NextSeq > cursor {
			cursor = page.NextSeq
			if err := metadata.SetInt64(ctx, s.meta, pullKey(kind), cursor); err != nil {
				return err
			}
		}
		if !page.More || len(page.Records) == 0 {
			return nil
		}
	}
}

func maxSeq(ctx context.Context, r store.Reader, kind string) (int64, error) {
	recs, err := store.Collect(r.Scan(ctx, kind, store.ScanOptions{
		Order:          store.Order{Field: store.OrderSeq, Desc: true},
		IncludeDeleted: true,
		Limit:          1,
	}))
	if err != nil || len(recs) == 0 {
		return 0, err
	}
	return recs[0].Seq, nil
}
