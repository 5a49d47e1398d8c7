package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/KevoDB/bpt/pkg/bpt"
	"github.com/KevoDB/bpt/pkg/bpt/header"
	"github.com/KevoDB/bpt/pkg/common/log"
)

// Index is the part of *bpt.Index the service needs
type Index interface {
	Name() string
	Header() header.Header
	ValSize() int
	KeySize() int
	FindContext(ctx context.Context, key []byte, valSize int) ([]byte, bool, error)
	FindMultipleContext(ctx context.Context, key []byte, valSize int) ([][]byte, error)
	Checksum() (uint64, error)
	Stats() map[string]interface{}
}

var _ Index = (*bpt.Index)(nil)

// IndexServer implements IndexServiceServer over one open index
type IndexServer struct {
	index  Index
	logger log.Logger
}

var _ IndexServiceServer = (*IndexServer)(nil)

// NewIndexServer creates a service serving index
func NewIndexServer(index Index, logger log.Logger) *IndexServer {
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	return &IndexServer{
		index:  index,
		logger: logger.WithField("service", ServiceName),
	}
}

// Find returns the value stored under the requested key
func (s *IndexServer) Find(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	key := req.GetValue()
	if len(key) == 0 {
		return nil, status.Error(codes.InvalidArgument, "key must not be empty")
	}

	val, found, err := s.index.FindContext(ctx, key, s.index.ValSize())
	if err != nil {
		return nil, s.toStatus(err)
	}
	if !found {
		return nil, status.Errorf(codes.NotFound, "key %q not found in %s", key, s.index.Name())
	}

	return wrapperspb.Bytes(val), nil
}

// FindMultiple returns every value stored under the requested key as base64
// strings. A missing key yields an empty list.
func (s *IndexServer) FindMultiple(ctx context.Context, req *wrapperspb.BytesValue) (*structpb.ListValue, error) {
	key := req.GetValue()
	if len(key) == 0 {
		return nil, status.Error(codes.InvalidArgument, "key must not be empty")
	}

	vals, err := s.index.FindMultipleContext(ctx, key, s.index.ValSize())
	if err != nil {
		return nil, s.toStatus(err)
	}

	list := &structpb.ListValue{Values: make([]*structpb.Value, 0, len(vals))}
	for _, v := range vals {
		list.Values = append(list.Values, structpb.NewStringValue(base64.StdEncoding.EncodeToString(v)))
	}
	return list, nil
}

// Info describes the served index
func (s *IndexServer) Info(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	hdr := s.index.Header()

	fields := map[string]interface{}{
		"name":       s.index.Name(),
		"block_size": hdr.BlockSize,
		"key_size":   hdr.KeySize,
		"val_size":   hdr.ValSize,
		"item_count": hdr.ItemCount,
		"byte_order": hdr.Order.String(),
	}

	sum, err := s.index.Checksum()
	if err != nil {
		return nil, s.toStatus(err)
	}
	fields["checksum"] = fmt.Sprintf("%016x", sum)

	// Only flat counters are exported
	for name, v := range s.index.Stats() {
		if n, ok := v.(uint64); ok {
			fields["stats_"+name] = n
		}
	}

	info, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode info: %v", err)
	}
	return info, nil
}

// toStatus maps index errors to gRPC status codes
func (s *IndexServer) toStatus(err error) error {
	switch {
	case errors.Is(err, bpt.ErrFormat):
		s.logger.Error("Index is corrupt: %v", err)
		return status.Error(codes.DataLoss, err.Error())
	case errors.Is(err, bpt.ErrSizeMismatch):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, bpt.ErrClosed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		s.logger.Error("Lookup failed: %v", err)
		return status.Error(codes.Internal, err.Error())
	}
}
