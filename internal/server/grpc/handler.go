package grpc

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/homesync/internal/common"
	"github.com/dmitrijs2005/homesync/internal/domain"
	"github.com/dmitrijs2005/homesync/internal/models"
	"github.com/dmitrijs2005/homesync/internal/projection"
	"github.com/dmitrijs2005/homesync/internal/reconcile"
	"github.com/dmitrijs2005/homesync/internal/store"
	"github.com/dmitrijs2005/homesync/internal/tenant"
	"github.com/dmitrijs2005/homesync/internal/wire"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

func decode[T any](in *structpb.Struct) (*T, error) {
	msg := new(T)
	if err := wire.Decode(in, msg); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return msg, nil
}

func reply(msg any) (*structpb.Struct, error) {
	out, err := wire.Encode(msg)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// scope returns the tenant the caller reads and writes kind under.
func (s *GRPCServer) scope(ctx context.Context, kind string) (models.Tenant, error) {
	session, ok := sessionFrom(ctx)
	if !ok {
		return models.Tenant{}, status.Error(codes.Unauthenticated, "no session")
	}
	t, err := domain.TenantFor(kind, session)
	if err != nil {
		return models.Tenant{}, toStatus(err)
	}
	return t, nil
}

func clamp(v, def, max int) int {
	switch {
	case v <= 0:
		return def
	case v > max:
		return max
	}
	return v
}

func (s *GRPCServer) Ping(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return reply(wire.PingResponse{Status: "OK"})
}

// Push reconciles each record against the stored version. Failures are
// reported per record and do not stop the batch.
func (s *GRPCServer) Push(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := decode[wire.PushRequest](in)
	if err != nil {
		return nil, err
	}
	if len(req.Records) > maxPushBatch {
		return nil, status.Errorf(codes.InvalidArgument, "push of %d records exceeds %d", len(req.Records), maxPushBatch)
	}

	resp := wire.PushResponse{Results: make([]wire.PushResult, 0, len(req.Records))}
	for _, rec := range req.Records {
		if err := ctx.Err(); err != nil {
			return nil, toStatus(err)
		}
		result := wire.PushResult{Kind: rec.Kind, ID: rec.ID}
		applied, err := s.push(ctx, rec)
		if err != nil {
			result.Error = statusOf(err)
		} else {
			result.Outcome = string(applied.Outcome)
			result.Record = &applied.Record
		}
		resp.Results = append(resp.Results, result)
	}
	return reply(resp)
}

func (s *GRPCServer) push(ctx context.Context, rec models.Record) (reconcile.ApplyResult, error) {
	session, ok := sessionFrom(ctx)
	if !ok {
		return reconcile.ApplyResult{}, common.ErrorUnauthorized
	}
	scope, err := domain.TenantFor(rec.Kind, session)
	if err != nil {
		return reconcile.ApplyResult{}, err
	}
	if rec.Tenant.IsZero() {
		rec.Tenant = scope
	}
	if !rec.IsDeleted() {
		if err := domain.Validate(rec.Kind, rec.Attributes); err != nil {
			return reconcile.ApplyResult{}, err
		}
	}
	return s.reconciler.Apply(ctx, scope, rec)
}

// Pull returns the changes of one kind after a Seq cursor, tombstones
// included, in ascending Seq.
func (s *GRPCServer) Pull(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := decode[wire.PullRequest](in)
	if err != nil {
		return nil, err
	}
	scope, err := s.scope(ctx, req.Kind)
	if err != nil {
		return nil, err
	}
	limit := clamp(req.Limit, defaultPullLimit, maxPullLimit)

	reader, err := tenant.NewReader(s.reader, scope)
	if err != nil {
		return nil, toStatus(err)
	}

	resp := wire.PullResponse{Records: []models.Record{}, NextSeq: req.AfterSeq}
	opts := store.ScanOptions{
		Order:          store.Order{Field: store.OrderSeq},
		IncludeDeleted: true,
		AfterSeq:       req.AfterSeq,
		Limit:          limit + 1,
	}
	for rec, err := range reader.Scan(ctx, req.Kind, opts) {
		if err != nil {
			return nil, toStatus(err)
		}
		if len(resp.Records) == limit {
			resp.More = true
			break
		}
		resp.Records = append(resp.Records, rec)
		resp.NextSeq = rec.Seq
	}
	return reply(resp)
}

func (s *GRPCServer) Insert(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := decode[wire.InsertRequest](in)
	if err != nil {
		return nil, err
	}
	scope, err := s.scope(ctx, req.Kind)
	if err != nil {
		return nil, err
	}
	rec, err := s.manager.Insert(ctx, scope, req.Kind, req.ID, req.Attributes)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(wire.RecordResponse{Record: rec})
}

func (s *GRPCServer) Update(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := decode[wire.UpdateRequest](in)
	if err != nil {
		return nil, err
	}
	scope, err := s.scope(ctx, req.Kind)
	if err != nil {
		return nil, err
	}
	rec, err := s.manager.Update(ctx, scope, req.Kind, req.ID, req.Patch)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(wire.RecordResponse{Record: rec})
}

func (s *GRPCServer) Delete(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := decode[wire.DeleteRequest](in)
	if err != nil {
		return nil, err
	}
	scope, err := s.scope(ctx, req.Kind)
	if err != nil {
		return nil, err
	}
	rec, err := s.manager.SoftDelete(ctx, scope, req.Kind, req.ID)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(wire.RecordResponse{Record: rec})
}

func (s *GRPCServer) BulkDelete(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := decode[wire.BulkDeleteRequest](in)
	if err != nil {
		return nil, err
	}
	scope, err := s.scope(ctx, req.Kind)
	if err != nil {
		return nil, err
	}
	res, err := s.manager.BulkSoftDelete(ctx, scope, req.Kind, req.IDs)
	if err != nil {
		return nil, toStatus(err)
	}

	resp := wire.BulkDeleteResponse{Results: make([]wire.BulkDeleteResult, 0, len(res.Items))}
	for _, item := range res.Items {
		r := wire.BulkDeleteResult{ID: item.ID, Error: statusOf(item.Err)}
		if item.Err == nil {
			rec := item.Record
			r.Record = &rec
		}
		resp.Results = append(resp.Results, r)
	}
	return reply(resp)
}

func (s *GRPCServer) Get(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := decode[wire.GetRequest](in)
	if err != nil {
		return nil, err
	}
	scope, err := s.scope(ctx, req.Kind)
	if err != nil {
		return nil, err
	}
	reader, err := tenant.NewReader(s.reader, scope)
	if err != nil {
		return nil, toStatus(err)
	}
	rec, err := reader.Get(ctx, req.Kind, req.ID)
	if err != nil {
		return nil, toStatus(err)
	}
	if rec.IsDeleted() && !req.WithDeleted {
		return nil, toStatus(fmt.Errorf("%s: %w", rec.Key(), common.ErrorNotFound))
	}
	return reply(wire.RecordResponse{Record: rec})
}

// List pages through a kind. Records whose attributes no longer decode
// are reported in Skipped and still advance the page.
func (s *GRPCServer) List(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := decode[wire.ListRequest](in)
	if err != nil {
		return nil, err
	}
	scope, err := s.scope(ctx, req.Kind)
	if err != nil {
		return nil, err
	}
	kind, err := domain.Lookup(req.Kind)
	if err != nil {
		return nil, toStatus(err)
	}
	expr, err := projection.ParseFilter(kind.Schema, req.Filter)
	if err != nil {
		return nil, toStatus(err)
	}
	order, err := projection.ParseOrder(kind.Schema, req.OrderBy)
	if err != nil {
		return nil, toStatus(err)
	}
	offset, err := parsePageToken(req)
	if err != nil {
		return nil, toStatus(err)
	}
	size := clamp(req.PageSize, defaultPageSize, maxPageSize)

	reader, err := tenant.NewReader(s.reader, scope)
	if err != nil {
		return nil, toStatus(err)
	}

	opts := store.ScanOptions{
		Filter:         expr,
		Order:          order,
		IncludeDeleted: req.WithDeleted,
		Limit:          size + 1,
		Offset:         offset,
	}
	resp := wire.ListResponse{Records: []models.Record{}}
	n := 0
	for rec, err := range reader.Scan(ctx, req.Kind, opts) {
		if err != nil {
			return nil, toStatus(err)
		}
		if n == size {
			resp.NextPageToken = nextPageToken(req, offset+size)
			break
		}
		n++
		if err := domain.Validate(rec.Kind, rec.Attributes); err != nil {
			resp.Skipped = append(resp.Skipped, wire.Skipped{ID: rec.ID, Error: err.Error()})
			continue
		}
		resp.Records = append(resp.Records, rec)
	}
	return reply(resp)
}
