// Package ledgerv1 defines the novaledger.v1.LedgerService gRPC contract.
// Requests and responses are google.protobuf.Struct documents whose fields are
// described on each method; helpers in this package convert them to and from
// ledger types.
package ledgerv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "novaledger.v1.LedgerService"

// Full method names.
const (
	AppendFullMethod        = "/" + ServiceName + "/Append"
	VerifyChainFullMethod   = "/" + ServiceName + "/VerifyChain"
	GetEntryFullMethod      = "/" + ServiceName + "/GetEntry"
	GetBySequenceFullMethod = "/" + ServiceName + "/GetBySequence"
	ListLatestFullMethod    = "/" + ServiceName + "/ListLatest"
	ListByTypeFullMethod    = "/" + ServiceName + "/ListByType"
	ListByAuthorFullMethod  = "/" + ServiceName + "/ListByAuthor"
	SearchFullMethod        = "/" + ServiceName + "/Search"
	CountFullMethod         = "/" + ServiceName + "/Count"
	StatusFullMethod        = "/" + ServiceName + "/Status"
)

// LedgerServiceServer is the server API for LedgerService.
type LedgerServiceServer interface {
	// Append: {entry_type, author_role, author_member_id, content_json,
	// supersedes?, emergency_designation?} -> entry.
	Append(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// VerifyChain: {} -> {valid, entries_verified, message, failure?}.
	VerifyChain(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// GetEntry: {id} -> {found, entry?}.
	GetEntry(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// GetBySequence: {sequence_number} -> {found, entry?}.
	GetBySequence(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// ListLatest: {limit?} -> {entries}.
	ListLatest(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// ListByType: {entry_type, limit?, offset?} -> {entries}.
	ListByType(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// ListByAuthor: {author_role, limit?} -> {entries}.
	ListByAuthor(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// Search: {query, entry_type?, limit?} -> {entries}.
	Search(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// Count: {} -> {count}.
	Count(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// Status: {} -> {healthy, checks, checked_at?, message}.
	Status(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// UnimplementedLedgerServiceServer can be embedded for forward compatibility.
type UnimplementedLedgerServiceServer struct{}

func unimplemented(method string) error {
	return status.Errorf(codes.Unimplemented, "method %s not implemented", method)
}

func (UnimplementedLedgerServiceServer) Append(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented("Append")
}

func (UnimplementedLedgerServiceServer) VerifyChain(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented("VerifyChain")
}

func (UnimplementedLedgerServiceServer) GetEntry(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented("GetEntry")
}

func (UnimplementedLedgerServiceServer) GetBySequence(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented("GetBySequence")
}

func (UnimplementedLedgerServiceServer) ListLatest(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented("ListLatest")
}

func (UnimplementedLedgerServiceServer) ListByType(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented("ListByType")
}

func (UnimplementedLedgerServiceServer) ListByAuthor(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented("ListByAuthor")
}

func (UnimplementedLedgerServiceServer) Search(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented("Search")
}

func (UnimplementedLedgerServiceServer) Count(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented("Count")
}

func (UnimplementedLedgerServiceServer) Status(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented("Status")
}

type unaryCall func(LedgerServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func handler(fullMethod string, call unaryCall) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(LedgerServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(LedgerServiceServer), ctx, req.(*structpb.Struct))
		})
	}
}

// LedgerServiceDesc describes LedgerService for grpc.Server.RegisterService.
var LedgerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Append", Handler: handler(AppendFullMethod, LedgerServiceServer.Append)},
		{MethodName: "VerifyChain", Handler: handler(VerifyChainFullMethod, LedgerServiceServer.VerifyChain)},
		{MethodName: "GetEntry", Handler: handler(GetEntryFullMethod, LedgerServiceServer.GetEntry)},
		{MethodName: "GetBySequence", Handler: handler(GetBySequenceFullMethod, LedgerServiceServer.GetBySequence)},
		{MethodName: "ListLatest", Handler: handler(ListLatestFullMethod, LedgerServiceServer.ListLatest)},
		{MethodName: "ListByType", Handler: handler(ListByTypeFullMethod, LedgerServiceServer.ListByType)},
		{MethodName: "ListByAuthor", Handler: handler(ListByAuthorFullMethod, LedgerServiceServer.ListByAuthor)},
		{MethodName: "Search", Handler: handler(SearchFullMethod, LedgerServiceServer.Search)},
		{MethodName: "Count", Handler: handler(CountFullMethod, LedgerServiceServer.Count)},
		{MethodName: "Status", Handler: handler(StatusFullMethod, LedgerServiceServer.Status)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "novaledger/v1/ledger.proto",
}

// RegisterLedgerServiceServer registers srv with s.
func RegisterLedgerServiceServer(s grpc.ServiceRegistrar, srv LedgerServiceServer) {
	s.RegisterService(&LedgerServiceDesc, srv)
}

// LedgerServiceClient is the client API for LedgerService.
type LedgerServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewLedgerServiceClient wraps a connection.
func NewLedgerServiceClient(cc grpc.ClientConnInterface) *LedgerServiceClient {
	return &LedgerServiceClient{cc: cc}
}

func (c *LedgerServiceClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if in == nil {
		in = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *LedgerServiceClient) Append(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, AppendFullMethod, in, opts...)
}

func (c *LedgerServiceClient) VerifyChain(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, VerifyChainFullMethod, in, opts...)
}

func (c *LedgerServiceClient) GetEntry(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, GetEntryFullMethod, in, opts...)
}

func (c *LedgerServiceClient) GetBySequence(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, GetBySequenceFullMethod, in, opts...)
}

func (c *LedgerServiceClient) ListLatest(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, ListLatestFullMethod, in, opts...)
}

func (c *LedgerServiceClient) ListByType(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, ListByTypeFullMethod, in, opts...)
}

func (c *LedgerServiceClient) ListByAuthor(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, ListByAuthorFullMethod, in, opts...)
}

func (c *LedgerServiceClient) Search(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, SearchFullMethod, in, opts...)
}

func (c *LedgerServiceClient) Count(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, CountFullMethod, in, opts...)
}

func (c *LedgerServiceClient) Status(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, StatusFullMethod, in, opts...)
}
