package service

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "bpt.v1.IndexService"

// Full method names
const (
	IndexService_Find_FullMethodName         = "/bpt.v1.IndexService/Find"
	IndexService_FindMultiple_FullMethodName = "/bpt.v1.IndexService/FindMultiple"
	IndexService_Info_FullMethodName         = "/bpt.v1.IndexService/Info"
)

// IndexServiceServer is the server API for the index service.
// Messages are protobuf well-known types:
//
//	Find(BytesValue key) returns (BytesValue value)
//	FindMultiple(BytesValue key) returns (ListValue of base64 values)
//	Info(Empty) returns (Struct)
type IndexServiceServer interface {
	Find(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	FindMultiple(context.Context, *wrapperspb.BytesValue) (*structpb.ListValue, error)
	Info(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// RegisterIndexServiceServer registers srv on s
func RegisterIndexServiceServer(s grpc.ServiceRegistrar, srv IndexServiceServer) {
	s.RegisterService(&IndexService_ServiceDesc, srv)
}

func _IndexService_Find_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IndexServiceServer).Find(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: IndexService_Find_FullMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(IndexServiceServer).Find(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _IndexService_FindMultiple_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IndexServiceServer).FindMultiple(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: IndexService_FindMultiple_FullMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(IndexServiceServer).FindMultiple(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _IndexService_Info_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IndexServiceServer).Info(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: IndexService_Info_FullMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(IndexServiceServer).Info(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// IndexService_ServiceDesc is the grpc.ServiceDesc for the index service
var IndexService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*IndexServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Find",
			Handler:    _IndexService_Find_Handler,
		},
		{
			MethodName: "FindMultiple",
			Handler:    _IndexService_FindMultiple_Handler,
		},
		{
			MethodName: "Info",
			Handler:    _IndexService_Info_Handler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "bpt/v1/index.proto",
}

// IndexServiceClient is the client API for the index service
type IndexServiceClient interface {
	Find(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	FindMultiple(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*structpb.ListValue, error)
	Info(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type indexServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewIndexServiceClient returns a client stub over cc
func NewIndexServiceClient(cc grpc.ClientConnInterface) IndexServiceClient {
	return &indexServiceClient{cc}
}

func (c *indexServiceClient) Find(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, IndexService_Find_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *indexServiceClient) FindMultiple(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, IndexService_FindMultiple_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *indexServiceClient) Info(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, IndexService_Info_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
