package wire

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "homesync.v1.SyncService"

// Full method names, as seen by interceptors.
const (
	MethodPing       = "/" + ServiceName + "/Ping"
	MethodPush       = "/" + ServiceName + "/Push"
	MethodPull       = "/" + ServiceName + "/Pull"
	MethodInsert     = "/" + ServiceName + "/Insert"
	MethodUpdate     = "/" + ServiceName + "/Update"
	MethodDelete     = "/" + ServiceName + "/Delete"
	MethodBulkDelete = "/" + ServiceName + "/BulkDelete"
	MethodGet        = "/" + ServiceName + "/Get"
	MethodList       = "/" + ServiceName + "/List"
)

// SyncServiceServer is the server API of the sync service. Every method
// takes and returns a Struct holding one of the messages of this package.
type SyncServiceServer interface {
	Ping(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Push(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Pull(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Insert(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Update(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Delete(context.Context, *structpb.Struct) (*structpb.Struct, error)
	BulkDelete(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Get(context.Context, *structpb.Struct) (*structpb.Struct, error)
	List(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type serverMethod func(SyncServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call serverMethod) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(SyncServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(SyncServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// SyncServiceDesc describes the service for grpc.Server registration.
var SyncServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SyncServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Ping", SyncServiceServer.Ping),
		unary("Push", SyncServiceServer.Push),
		unary("Pull", SyncServiceServer.Pull),
		unary("Insert", SyncServiceServer.Insert),
		unary("Update", SyncServiceServer.Update),
		unary("Delete", SyncServiceServer.Delete),
		unary("BulkDelete", SyncServiceServer.BulkDelete),
		unary("Get", SyncServiceServer.Get),
		unary("List", SyncServiceServer.List),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "homesync/v1/sync.proto",
}

func RegisterSyncServiceServer(s grpc.ServiceRegistrar, srv SyncServiceServer) {
	s.RegisterService(&SyncServiceDesc, srv)
}

// SyncServiceClient calls the sync service with typed messages.
type SyncServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewSyncServiceClient(cc grpc.ClientConnInterface) *SyncServiceClient {
	return &SyncServiceClient{cc: cc}
}

// Call encodes in, invokes method and decodes the reply into out.
func (c *SyncServiceClient) Call(ctx context.Context, method string, in, out any, opts ...grpc.CallOption) error {
	req, err := Encode(in)
	if err != nil {
		return err
	}
	resp := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, req, resp, opts...); err != nil {
		return err
	}
	return Decode(resp, out)
}

func (c *SyncServiceClient) Ping(ctx context.Context, opts ...grpc.CallOption) (*PingResponse, error) {
	out := &PingResponse{}
	return out, c.Call(ctx, MethodPing, PingRequest{}, out, opts...)
}

func (c *SyncServiceClient) Push(ctx context.Context, in *PushRequest, opts ...grpc.CallOption) (*PushResponse, error) {
	out := &PushResponse{}
	return out, c.Call(ctx, MethodPush, in, out, opts...)
}

func (c *SyncServiceClient) Pull(ctx context.Context, in *PullRequest, opts ...grpc.CallOption) (*PullResponse, error) {
	out := &PullResponse{}
	return out, c.Call(ctx, MethodPull, in, out, opts...)
}

func (c *SyncServiceClient) Insert(ctx context.Context, in *InsertRequest, opts ...grpc.CallOption) (*RecordResponse, error) {
	out := &RecordResponse{}
	return out, c.Call(ctx, MethodInsert, in, out, opts...)
}

func (c *SyncServiceClient) Update(ctx context.Context, in *UpdateRequest, opts ...grpc.CallOption) (*RecordResponse, error) {
	out := &RecordResponse{}
	return out, c.Call(ctx, MethodUpdate, in, out, opts...)
}

func (c *SyncServiceClient) Delete(ctx context.Context, in *DeleteRequest, opts ...grpc.CallOption) (*RecordResponse, error) {
	out := &RecordResponse{}
	return out, c.Call(ctx, MethodDelete, in, out, opts...)
}

func (c *SyncServiceClient) BulkDelete(ctx context.Context, in *BulkDeleteRequest, opts ...grpc.CallOption) (*BulkDeleteResponse, error) {
	out := &BulkDeleteResponse{}
	return out, c.Call(ctx, MethodBulkDelete, in, out, opts...)
}

func (c *SyncServiceClient) Get(ctx context.Context, in *GetRequest, opts ...grpc.CallOption) (*RecordResponse, error) {
	out := &RecordResponse{}
	return out, c.Call(ctx, MethodGet, in, out, opts...)
}

func (c *SyncServiceClient) List(ctx context.Context, in *ListRequest, opts ...grpc.CallOption) (*ListResponse, error) {
	out := &ListResponse{}
	return out, c.Call(ctx, MethodList, in, out, opts...)
}
