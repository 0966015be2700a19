package client

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/homesync/internal/common"
	"github.com/dmitrijs2005/homesync/internal/models"
	"github.com/dmitrijs2005/homesync/internal/wire"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

const defaultTimeout = 10 * time.Second

type GRPCClient struct {
	endpointURL string
	conn        *grpc.ClientConn
	client      *wire.SyncServiceClient
	accessToken string
	timeout     time.Duration
	dialOpts    []grpc.DialOption
}

var _ Client = (*GRPCClient)(nil)

type Option func(*GRPCClient)

// WithTimeout bounds every call that has no earlier deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *GRPCClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithDialOptions appends dial options, e.g. a custom dialer in tests.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(c *GRPCClient) { c.dialOpts = append(c.dialOpts, opts...) }
}

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Delete(common.AccessTokenHeaderName)
	md.Set(common.AccessTokenHeaderName, token)

	return metadata.NewOutgoingContext(ctx, md)
}

func (s *GRPCClient) accessTokenInterceptor(
	ctx context.Context,
	method string,
	req, reply any,
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	if s.accessToken != "" {
		ctx = withAccessToken(ctx, s.accessToken)
	}
	return invoker(ctx, method, req, reply, cc, opts...)
}

// NewGRPCClient prepares a connection to endpointURL. No I/O happens until
// the first call.
func NewGRPCClient(endpointURL, accessToken string, opts ...Option) (*GRPCClient, error) {
	c := &GRPCClient{endpointURL: endpointURL, accessToken: accessToken, timeout: defaultTimeout}
	for _, o := range opts {
		o(c)
	}
	if err := c.InitGRPCClient(); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *GRPCClient) InitGRPCClient() error {
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(s.accessTokenInterceptor),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}, s.dialOpts...)

	conn, err := grpc.NewClient(s.endpointURL, opts...)
	if err != nil {
		return err
	}
	s.conn = conn
	s.client = wire.NewSyncServiceClient(conn)
	return nil
}

func (s *GRPCClient) Close() error {
	return s.conn.Close()
}

func (s *GRPCClient) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *GRPCClient) Ping(ctx context.Context) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	resp, err := s.client.Ping(ctx)
	if err != nil {
		return mapError(err)
	}
	if resp.Status != "OK" {
		return ErrUnavailable
	}
	return nil
}

func (s *GRPCClient) Push(ctx context.Context, recs []models.Record) ([]PushResult, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	resp, err := s.client.Push(ctx, &wire.PushRequest{Records: recs})
	if err != nil {
		return nil, mapError(err)
	}
	if len(resp.Results) != len(recs) {
		return nil, errors.New("push: result count does not match request")
	}

	out := make([]PushResult, len(resp.Results))
	for i, r := range resp.Results {
		out[i] = PushResult{Kind: r.Kind, ID: r.ID, Outcome: r.Outcome, Record: r.Record, Err: itemError(r.Error)}
	}
	return out, nil
}

func (s *GRPCClient) Pull(ctx context.Context, kind string, afterSeq int64, limit int) (*wire.PullResponse, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	resp, err := s.client.Pull(ctx, &wire.PullRequest{Kind: kind, AfterSeq: afterSeq, Limit: limit})
	if err != nil {
		return nil, mapError(err)
	}
	return resp, nil
}

func (s *GRPCClient) Insert(ctx context.Context, kind, id string, attrs models.Attributes) (models.Record, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	resp, err := s.client.Insert(ctx, &wire.InsertRequest{Kind: kind, ID: id, Attributes: attrs})
	if err != nil {
		return models.Record{}, mapError(err)
	}
	return resp.Record, nil
}

func (s *GRPCClient) Update(ctx context.Context, kind, id string, patch models.Attributes) (models.Record, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	resp, err := s.client.Update(ctx, &wire.UpdateRequest{Kind: kind, ID: id, Patch: patch})
	if err != nil {
		return models.Record{}, mapError(err)
	}
	return resp.Record, nil
}

func (s *GRPCClient) Delete(ctx context.Context, kind, id string) (models.Record, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	resp, err := s.client.Delete(ctx, &wire.DeleteRequest{Kind: kind, ID: id})
	if err != nil {
		return models.Record{}, mapError(err)
	}
	return resp.Record, nil
}

func (s *GRPCClient) BulkDelete(ctx context.Context, kind string, ids []string) ([]BulkDeleteResult, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	resp, err := s.client.BulkDelete(ctx, &wire.BulkDeleteRequest{Kind: kind, IDs: ids})
	if err != nil {
		return nil, mapError(err)
	}
	out := make([]BulkDeleteResult, len(resp.Results))
	for i, r := range resp.Results {
		out[i] = BulkDeleteResult{ID: r.ID, Record: r.Record, Err: itemError(r.Error)}
	}
	return out, nil
}

func (s *GRPCClient) Get(ctx context.Context, kind, id string, withDeleted bool) (models.Record, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	resp, err := s.client.Get(ctx, &wire.GetRequest{Kind: kind, ID: id, WithDeleted: withDeleted})
	if err != nil {
		return models.Record{}, mapError(err)
	}
	return resp.Record, nil
}

func (s *GRPCClient) List(ctx context.Context, req wire.ListRequest) (*wire.ListResponse, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	resp, err := s.client.List(ctx, &req)
	if err != nil {
		return nil, mapError(err)
	}
	return resp, nil
}
