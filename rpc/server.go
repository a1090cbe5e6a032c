package rpc

import (
	"context"
	"encoding/json"

	"github.com/pilosa/erpdk"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// RegisterResolver exposes r on s under ServiceName, so that any
// erpdk.Resolver (e.g. a test double or a caching proxy) can be reached by a
// Client.
func RegisterResolver(s *grpc.Server, r erpdk.Resolver) {
	s.RegisterService(&serviceDesc, r)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*erpdk.Resolver)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "AddRecord", Handler: addRecordHandler},
		{MethodName: "GetRedoRecord", Handler: getRedoRecordHandler},
		{MethodName: "ProcessRedoRecord", Handler: processRedoRecordHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func addRecordHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := &AddRecordRequest{}
	if err := dec(req); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		r := req.(*AddRecordRequest)
		res, err := srv.(erpdk.Resolver).AddRecord(ctx, r.DataSource, r.RecordID, r.Record, r.Flags&FlagWithInfo != 0)
		return infoResponse(res, r.Flags, err)
	}
	if interceptor == nil {
		return handler(ctx, req)
	}
	return interceptor(ctx, req, &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodAddRecord}, handler)
}

func getRedoRecordHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := &GetRedoRecordRequest{}
	if err := dec(req); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		unit, err := srv.(erpdk.Resolver).GetRedoRecord(ctx)
		if err != nil {
			return nil, toStatus(err)
		}
		return &GetRedoRecordResponse{RedoRecord: string(unit)}, nil
	}
	if interceptor == nil {
		return handler(ctx, req)
	}
	return interceptor(ctx, req, &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodGetRedoRecord}, handler)
}

func processRedoRecordHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := &ProcessRedoRecordRequest{}
	if err := dec(req); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		r := req.(*ProcessRedoRecordRequest)
		res, err := srv.(erpdk.Resolver).ProcessRedoRecord(ctx, erpdk.RedoUnit(r.RedoRecord), r.Flags&FlagWithInfo != 0)
		return infoResponse(res, r.Flags, err)
	}
	if interceptor == nil {
		return handler(ctx, req)
	}
	return interceptor(ctx, req, &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodProcessRedoRecord}, handler)
}

func infoResponse(res *erpdk.Result, flags int64, err error) (*InfoResponse, error) {
	if err != nil {
		return nil, toStatus(err)
	}
	if flags&FlagWithInfo == 0 || res == nil {
		return &InfoResponse{}, nil
	}
	out := *res
	if out.AffectedEntities == nil {
		out.AffectedEntities = []erpdk.AffectedEntity{}
	}
	info, err := json.Marshal(&out)
	if err != nil {
		return nil, status.Error(codes.Internal, errors.Wrap(err, "encoding info").Error())
	}
	return &InfoResponse{Result: string(info)}, nil
}

func toStatus(err error) error {
	if erpdk.KindOf(err) == erpdk.ErrInvalidRecord {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return status.Error(codes.Unavailable, err.Error())
}
