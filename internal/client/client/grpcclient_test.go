package client

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/dmitrijs2005/homesync/internal/common"
	"github.com/dmitrijs2005/homesync/internal/domain"
	"github.com/dmitrijs2005/homesync/internal/logging"
	"github.com/dmitrijs2005/homesync/internal/models"
	"github.com/dmitrijs2005/homesync/internal/mutation"
	"github.com/dmitrijs2005/homesync/internal/reconcile"
	"github.com/dmitrijs2005/homesync/internal/server/auth"
	grpcserver "github.com/dmitrijs2005/homesync/internal/server/grpc"
	"github.com/dmitrijs2005/homesync/internal/store/memory"
	"github.com/dmitrijs2005/homesync/internal/tenant"
	"github.com/dmitrijs2005/homesync/internal/wire"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

const testSecret = "secret"

var alice = domain.Session{UserID: "alice", HouseholdID: "hh1"}

func startServer(t *testing.T) *bufconn.Listener {
	t.Helper()
	st := memory.New()
	guard := tenant.NewGuard(st)
	m := mutation.NewManager(guard, mutation.WithCanonicalizer(domain.Canonicalize), mutation.WithValidator(domain.Validate))
	s := grpcserver.NewGRPCServer("bufnet", logging.Nop{}, st, m, reconcile.New(guard), testSecret)

	lis := bufconn.Listen(1 << 20)
	srv := s.NewServer()
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return lis
}

func dial(t *testing.T, lis *bufconn.Listener, token string) *GRPCClient {
	t.Helper()
	c, err := NewGRPCClient("passthrough:///bufnet", token,
		WithTimeout(5*time.Second),
		WithDialOptions(grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		})),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func token(t *testing.T, s domain.Session) string {
	t.Helper()
	tok, err := auth.GenerateToken(s, []byte(testSecret), time.Hour)
	require.NoError(t, err)
	return tok
}

func TestWithAccessToken_ReplacesExisting(t *testing.T) {
	ctx := metadata.AppendToOutgoingContext(context.Background(), common.AccessTokenHeaderName, "old", "x-other", "1")
	ctx = withAccessToken(ctx, "new")

	md, ok := metadata.FromOutgoingContext(ctx)
	require.True(t, ok)
	require.Equal(t, []string{"new"}, md.Get(common.AccessTokenHeaderName))
	require.Equal(t, []string{"1"}, md.Get("x-other"))
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"not found", status.Error(codes.NotFound, "x"), common.ErrorNotFound},
		{"exists", status.Error(codes.AlreadyExists, "x"), common.ErrAlreadyExists},
		{"tenant", status.Error(codes.PermissionDenied, "x"), common.ErrTenantMismatch},
		{"invalid", status.Error(codes.InvalidArgument, "x"), common.ErrInvalidRecord},
		{"unauthenticated", status.Error(codes.Unauthenticated, "x"), ErrUnauthorized},
		{"unavailable", status.Error(codes.Unavailable, "x"), ErrUnavailable},
		{"deadline", status.Error(codes.DeadlineExceeded, "x"), ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, mapError(tt.in), tt.want)
		})
	}

	require.NoError(t, mapError(nil))
	plain := errors.New("boom")
	require.Equal(t, plain, mapError(plain))
	require.Contains(t, mapError(status.Error(codes.Internal, "internal error")).Error(), "rpc error")
}

func TestItemError(t *testing.T) {
	err := itemError(&wire.Status{Code: codes.PermissionDenied.String(), Message: "tenant mismatch"})
	require.ErrorIs(t, err, common.ErrTenantMismatch)

	var ie *ItemError
	require.True(t, errors.As(err, &ie))
	require.False(t, ie.Retryable())

	err = itemError(&wire.Status{Code: "Unavailable", Message: "store operation timed out"})
	require.True(t, errors.As(err, &ie))
	require.True(t, ie.Retryable())

	require.NoError(t, itemError(nil))
	require.Equal(t, codes.Unknown, codeFromName("Bogus"))
}

func TestGRPCClient_Lifecycle(t *testing.T) {
	lis := startServer(t)
	c := dial(t, lis, token(t, alice))
	ctx := context.Background()

	require.NoError(t, c.Ping(ctx))

	ins, err := c.Insert(ctx, domain.KindWallets, "w1", models.Attributes{"name": "Cash", "currency": "EUR"})
	require.NoError(t, err)
	require.Equal(t, models.Tenant{OwnerID: "alice"}, ins.Tenant)

	_, err = c.Insert(ctx, domain.KindWallets, "w1", models.Attributes{"name": "Cash", "currency": "EUR"})
	require.ErrorIs(t, err, common.ErrAlreadyExists)

	upd, err := c.Update(ctx, domain.KindWallets, "w1", models.Attributes{"name": "Pocket"})
	require.NoError(t, err)
	require.Equal(t, "Pocket", upd.Attributes["name"])

	got, err := c.Get(ctx, domain.KindWallets, "w1", false)
	require.NoError(t, err)
	require.Equal(t, upd.Seq, got.Seq)

	list, err := c.List(ctx, wire.ListRequest{Kind: domain.KindWallets, Filter: `name = "Pocket"`})
	require.NoError(t, err)
	require.Len(t, list.Records, 1)

	_, err = c.Delete(ctx, domain.KindWallets, "w1")
	require.NoError(t, err)
	_, err = c.Get(ctx, domain.KindWallets, "w1", false)
	require.ErrorIs(t, err, common.ErrorNotFound)

	res, err := c.BulkDelete(ctx, domain.KindWallets, []string{"w1", "missing"})
	require.NoError(t, err)
	require.Len(t, res, 2)
	require.NoError(t, res[0].Err)
	require.ErrorIs(t, res[1].Err, common.ErrorNotFound)
}

func TestGRPCClient_PushPull(t *testing.T) {
	lis := startServer(t)
	c := dial(t, lis, token(t, alice))
	ctx := context.Background()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := models.Record{
		Kind:       domain.KindWallets,
		ID:         "w1",
		Attributes: models.Attributes{"name": "Cash", "currency": "EUR"},
		CreatedAt:  at,
		UpdatedAt:  at,
		Operation:  models.OperationInsert,
	}
	bad := rec
	bad.ID = "w2"
	bad.Attributes = models.Attributes{"currency": "EUR"}

	results, err := c.Push(ctx, []models.Record{rec, bad})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.NoError(t, results[0].Err)
	require.Equal(t, string(reconcile.OutcomeCreated), results[0].Outcome)
	require.NotNil(t, results[0].Record)
	require.Equal(t, models.Tenant{OwnerID: "alice"}, results[0].Record.Tenant)
	require.ErrorIs(t, results[1].Err, common.ErrInvalidRecord)

	page, err := c.Pull(ctx, domain.KindWallets, 0, 10)
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	require.False(t, page.More)
	require.Equal(t, page.Records[0].Seq, page.NextSeq)
}

func TestGRPCClient_Unauthorized(t *testing.T) {
	lis := startServer(t)
	c := dial(t, lis, "")

	require.NoError(t, c.Ping(context.Background()))
	_, err := c.Get(context.Background(), domain.KindWallets, "w1", false)
	require.ErrorIs(t, err, ErrUnauthorized)
}
