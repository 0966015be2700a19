package replica

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/dmitrijs2005/homesync/internal/client/client"
	"github.com/dmitrijs2005/homesync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/homesync/internal/common"
	"github.com/dmitrijs2005/homesync/internal/domain"
	"github.com/dmitrijs2005/homesync/internal/logging"
	"github.com/dmitrijs2005/homesync/internal/models"
	"github.com/dmitrijs2005/homesync/internal/mutation"
	"github.com/dmitrijs2005/homesync/internal/reconcile"
	"github.com/dmitrijs2005/homesync/internal/server/auth"
	grpcserver "github.com/dmitrijs2005/homesync/internal/server/grpc"
	"github.com/dmitrijs2005/homesync/internal/store/memory"
	"github.com/dmitrijs2005/homesync/internal/store/sqlite"
	"github.com/dmitrijs2005/homesync/internal/store/sqlstore"
	"github.com/dmitrijs2005/homesync/internal/tenant"
	"github.com/dmitrijs2005/homesync/internal/timex"
	"github.com/dmitrijs2005/homesync/internal/wire"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/test/bufconn"
)

const testSecret = "secret"

var (
	alice = domain.Session{UserID: "alice", HouseholdID: "hh1"}
	bob   = domain.Session{UserID: "bob", HouseholdID: "hh1"}
	carol = domain.Session{UserID: "carol"}
)

type server struct {
	store *memory.Store
	lis   *bufconn.Listener
}

func startServer(t *testing.T) *server {
	t.Helper()
	st := memory.New()
	guard := tenant.NewGuard(st)
	m := mutation.NewManager(guard, mutation.WithCanonicalizer(domain.Canonicalize), mutation.WithValidator(domain.Validate))
	s := grpcserver.NewGRPCServer("bufnet", logging.Nop{}, st, m, reconcile.New(guard), testSecret)

	lis := bufconn.Listen(1 << 20)
	srv := s.NewServer()
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return &server{store: st, lis: lis}
}

type device struct {
	session domain.Session
	store   *sqlstore.Store
	meta    *metadata.SQLiteRepository
	manager *mutation.Manager
	remote  Remote
	now     time.Time
}

func newDevice(t *testing.T, srv *server, s domain.Session) *device {
	t.Helper()
	ctx := context.Background()

	st, err := sqlite.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	tok, err := auth.GenerateToken(s, []byte(testSecret), time.Hour)
	require.NoError(t, err)
	c, err := client.NewGRPCClient("passthrough:///bufnet", tok,
		client.WithDialOptions(grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return srv.lis.DialContext(ctx)
		})),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	d := &device{
		session: s,
		store:   st,
		meta:    metadata.NewSQLiteRepository(st.DB()),
		remote:  c,
		now:     time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	d.manager = mutation.NewManager(tenant.NewGuard(st),
		mutation.WithCanonicalizer(domain.Canonicalize),
		mutation.WithValidator(domain.Validate),
		mutation.WithClock(timex.NewMonotonicClockFrom(func() time.Time { return d.now })),
	)
	return d
}

func (d *device) syncer(opts ...Option) *Syncer {
	return NewSyncer(d.store, d.remote, d.meta, d.session, opts...)
}

func (d *device) scope(t *testing.T, kind string) models.Tenant {
	t.Helper()
	scope, err := domain.TenantFor(kind, d.session)
	require.NoError(t, err)
	return scope
}

func (d *device) get(t *testing.T, kind, id string) models.Record {
	t.Helper()
	rec, err := d.store.Get(context.Background(), kind, id)
	require.NoError(t, err)
	return rec
}

func (d *device) sync(t *testing.T) Report {
	t.Helper()
	rep, err := d.syncer().Sync(context.Background())
	require.NoError(t, err)
	return rep
}

func TestSync_PropagatesBetweenDevices(t *testing.T) {
	srv := startServer(t)
	phone := newDevice(t, srv, alice)
	laptop := newDevice(t, srv, alice)
	ctx := context.Background()

	_, err := phone.manager.Insert(ctx, phone.scope(t, domain.KindWallets), domain.KindWallets, "w1",
		models.Attributes{"name": "Cash", "currency": "EUR"})
	require.NoError(t, err)

	rep := phone.sync(t)
	require.Equal(t, 1, rep.Pushed)
	require.Empty(t, rep.Failures)
	require.Equal(t, []string(nil), rep.Skipped)

	onServer, err := srv.store.Get(ctx, domain.KindWallets, "w1")
	require.NoError(t, err)
	require.Equal(t, "Cash", onServer.Attributes["name"])

	rep = laptop.sync(t)
	require.Equal(t, 1, rep.Pulled)
	require.Equal(t, 1, rep.Outcomes[reconcile.OutcomeCreated])
	require.Equal(t, "Cash", laptop.get(t, domain.KindWallets, "w1").Attributes["name"])

	laptop.now = laptop.now.Add(time.Minute)
	_, err = laptop.manager.Update(ctx, laptop.scope(t, domain.KindWallets), domain.KindWallets, "w1",
		models.Attributes{"name": "Pocket"})
	require.NoError(t, err)
	laptop.sync(t)
	phone.sync(t)
	require.Equal(t, "Pocket", phone.get(t, domain.KindWallets, "w1").Attributes["name"])

	phone.now = phone.now.Add(2 * time.Minute)
	_, err = phone.manager.SoftDelete(ctx, phone.scope(t, domain.KindWallets), domain.KindWallets, "w1")
	require.NoError(t, err)
	phone.sync(t)
	laptop.sync(t)
	require.True(t, laptop.get(t, domain.KindWallets, "w1").IsDeleted())
}

func TestSync_SecondRunIsNoop(t *testing.T) {
	srv := startServer(t)
	phone := newDevice(t, srv, alice)
	ctx := context.Background()

	for _, id := range []string{"w1", "w2", "w3"} {
		_, err := phone.manager.Insert(ctx, phone.scope(t, domain.KindWallets), domain.KindWallets, id,
			models.Attributes{"name": id, "currency": "EUR"})
		require.NoError(t, err)
	}

	rep, err := phone.syncer(WithPushBatch(2), WithPullLimit(2)).Sync(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, rep.Pushed)
	require.Equal(t, 3, rep.Pulled)

	seqBefore := phone.get(t, domain.KindWallets, "w3").Seq

	rep = phone.sync(t)
	require.Zero(t, rep.Pushed)
	require.Zero(t, rep.Pulled)
	require.Equal(t, seqBefore, phone.get(t, domain.KindWallets, "w3").Seq)
}

func TestSync_ConcurrentEditsConverge(t *testing.T) {
	srv := startServer(t)
	phone := newDevice(t, srv, alice)
	laptop := newDevice(t, srv, alice)
	ctx := context.Background()
	kind := domain.KindWallets

	_, err := phone.manager.Insert(ctx, phone.scope(t, kind), kind, "w1", models.Attributes{"name": "Cash", "currency": "EUR"})
	require.NoError(t, err)
	phone.sync(t)
	laptop.sync(t)

	// both edit offline; the laptop's edit is later
	phone.now = phone.now.Add(time.Minute)
	_, err = phone.manager.Update(ctx, phone.scope(t, kind), kind, "w1", models.Attributes{"name": "Phone"})
	require.NoError(t, err)
	laptop.now = laptop.now.Add(5 * time.Minute)
	_, err = laptop.manager.Update(ctx, laptop.scope(t, kind), kind, "w1", models.Attributes{"name": "Laptop"})
	require.NoError(t, err)

	laptop.sync(t)
	rep := phone.sync(t)
	require.Equal(t, 1, rep.Pushed)
	require.GreaterOrEqual(t, rep.Outcomes[reconcile.OutcomeReplaced], 1)

	onServer, err := srv.store.Get(ctx, kind, "w1")
	require.NoError(t, err)
	require.Equal(t, "Laptop", onServer.Attributes["name"])
	require.Equal(t, "Laptop", phone.get(t, kind, "w1").Attributes["name"])

	laptop.sync(t)
	require.True(t, reconcile.Same(phone.get(t, kind, "w1"), laptop.get(t, kind, "w1")))
}

func TestSync_HouseholdSharing(t *testing.T) {
	srv := startServer(t)
	a := newDevice(t, srv, alice)
	b := newDevice(t, srv, bob)
	c := newDevice(t, srv, carol)
	ctx := context.Background()

	_, err := a.manager.Insert(ctx, a.scope(t, domain.KindChores), domain.KindChores, "c1", models.Attributes{"title": "Dishes"})
	require.NoError(t, err)
	_, err = a.manager.Insert(ctx, a.scope(t, domain.KindWallets), domain.KindWallets, "w1", models.Attributes{"name": "Cash", "currency": "EUR"})
	require.NoError(t, err)
	a.sync(t)

	b.sync(t)
	require.Equal(t, "Dishes", b.get(t, domain.KindChores, "c1").Attributes["title"])
	_, err = b.store.Get(ctx, domain.KindWallets, "w1")
	require.ErrorIs(t, err, common.ErrorNotFound)

	rep := c.sync(t)
	require.Contains(t, rep.Skipped, domain.KindChores)
	_, err = c.store.Get(ctx, domain.KindChores, "c1")
	require.ErrorIs(t, err, common.ErrorNotFound)
}

// flakyRemote fails the first push of one id with a retryable item error.
type flakyRemote struct {
	Remote
	failID string
	failed bool
}

func (f *flakyRemote) Push(ctx context.Context, recs []models.Record) ([]client.PushResult, error) {
	if f.failed {
		return f.Remote.Push(ctx, recs)
	}
	var pass []models.Record
	for _, r := range recs {
		if r.ID != f.failID {
			pass = append(pass, r)
		}
	}
	got, err := f.Remote.Push(ctx, pass)
	if err != nil {
		return nil, err
	}
	out := make([]client.PushResult, 0, len(recs))
	for _, r := range recs {
		if r.ID == f.failID {
			f.failed = true
			out = append(out, client.PushResult{Kind: r.Kind, ID: r.ID, Err: &client.ItemError{Code: codes.Unavailable, Message: "store operation timed out"}})
			continue
		}
		out = append(out, got[0])
		got = got[1:]
	}
	return out, nil
}

func TestSync_RetryableFailureHoldsCursor(t *testing.T) {
	srv := startServer(t)
	phone := newDevice(t, srv, alice)
	ctx := context.Background()
	kind := domain.KindWallets

	for _, id := range []string{"w1", "w2", "w3"} {
		_, err := phone.manager.Insert(ctx, phone.scope(t, kind), kind, id, models.Attributes{"name": id, "currency": "EUR"})
		require.NoError(t, err)
	}
	w2 := phone.get(t, kind, "w2")

	phone.remote = &flakyRemote{Remote: phone.remote, failID: "w2"}
	rep := phone.sync(t)
	require.Len(t, rep.Failures, 1)
	require.Equal(t, "w2", rep.Failures[0].ID)
	require.Equal(t, 1, rep.Pushed)

	cursor, err := metadata.Int64(ctx, phone.meta, pushKey(kind))
	require.NoError(t, err)
	require.Equal(t, w2.Seq-1, cursor)

	rep = phone.sync(t)
	require.Empty(t, rep.Failures)
	_, err = srv.store.Get(ctx, kind, "w2")
	require.NoError(t, err)
}

// writingRemote runs a local write while the first pull is in flight.
type writingRemote struct {
	Remote
	write func()
	done  bool
}

func (w *writingRemote) Pull(ctx context.Context, kind string, afterSeq int64, limit int) (*wire.PullResponse, error) {
	if !w.done {
		w.done = true
		w.write()
	}
	return w.Remote.Pull(ctx, kind, afterSeq, limit)
}

func TestSync_LocalWriteDuringSyncIsPushedNextTime(t *testing.T) {
	srv := startServer(t)
	phone := newDevice(t, srv, alice)
	laptop := newDevice(t, srv, alice)
	ctx := context.Background()
	kind := domain.KindWallets
	wallet := func(name string) models.Attributes {
		return models.Attributes{"name": name, "currency": "EUR"}
	}

	_, err := laptop.manager.Insert(ctx, laptop.scope(t, kind), kind, "w0", wallet("Bank"))
	require.NoError(t, err)
	laptop.sync(t)

	_, err = phone.manager.Insert(ctx, phone.scope(t, kind), kind, "w1", wallet("Cash"))
	require.NoError(t, err)

	phone.remote = &writingRemote{Remote: phone.remote, write: func() {
		_, err := phone.manager.Insert(ctx, phone.scope(t, kind), kind, "w2", wallet("Card"))
		require.NoError(t, err)
	}}
	rep, err := phone.syncer(WithKinds(kind)).Sync(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, rep.Pushed)
	require.Equal(t, 1, rep.Outcomes[reconcile.OutcomeCreated])
	_, err = srv.store.Get(ctx, kind, "w2")
	require.ErrorIs(t, err, common.ErrorNotFound)

	rep, err = phone.syncer(WithKinds(kind)).Sync(ctx)
	require.NoError(t, err)
	require.Positive(t, rep.Pushed)
	require.Empty(t, rep.Failures)
	onServer, err := srv.store.Get(ctx, kind, "w2")
	require.NoError(t, err)
	require.Equal(t, "Card", onServer.Attributes["name"])

	rep, err = phone.syncer(WithKinds(kind)).Sync(ctx)
	require.NoError(t, err)
	require.Zero(t, rep.Pushed)
	require.Zero(t, rep.Pulled)
}

func TestSkipOwn_StopsAtForeignWrite(t *testing.T) {
	srv := startServer(t)
	phone := newDevice(t, srv, alice)
	ctx := context.Background()
	kind := domain.KindWallets

	var seqs []int64
	for _, id := range []string{"a", "b", "c", "d"} {
		rec, err := phone.manager.Insert(ctx, phone.scope(t, kind), kind, id, models.Attributes{"name": id, "currency": "EUR"})
		require.NoError(t, err)
		seqs = append(seqs, rec.Seq)
	}

	own := written{seqs[1]: {}, seqs[3]: {}}
	got, err := skipOwn(ctx, phone.store, kind, seqs[0], own)
	require.NoError(t, err)
	require.Equal(t, seqs[1], got)

	got, err = skipOwn(ctx, phone.store, kind, seqs[2], own)
	require.NoError(t, err)
	require.Equal(t, seqs[3], got)

	got, err = skipOwn(ctx, phone.store, kind, seqs[0], written{})
	require.NoError(t, err)
	require.Equal(t, seqs[0], got)
}

func TestSync_SessionChangeResetsCursors(t *testing.T) {
	srv := startServer(t)
	phone := newDevice(t, srv, alice)
	ctx := context.Background()

	_, err := phone.manager.Insert(ctx, phone.scope(t, domain.KindChores), domain.KindChores, "c1", models.Attributes{"title": "Dishes"})
	require.NoError(t, err)
	phone.sync(t)

	pull, err := metadata.Int64(ctx, phone.meta, pullKey(domain.KindChores))
	require.NoError(t, err)
	require.Positive(t, pull)

	require.NoError(t, NewSyncer(phone.store, phone.remote, phone.meta, bob).checkSession(ctx))
	pull, err = metadata.Int64(ctx, phone.meta, pullKey(domain.KindChores))
	require.NoError(t, err)
	require.Zero(t, pull)

	v, ok, err := phone.meta.Get(ctx, sessionKey)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "bob|hh1", v)
}
