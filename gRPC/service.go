// Package proto exposes the capture node over gRPC. Messages are protobuf
// well-known types, so the service descriptor below is declared by hand.
package proto

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const ServiceName = "facemocap.CaptureService"

const (
	CaptureService_Calibrate_FullMethodName        = "/facemocap.CaptureService/Calibrate"
	CaptureService_CalibrateHead_FullMethodName    = "/facemocap.CaptureService/CalibrateHead"
	CaptureService_ResetCalibration_FullMethodName = "/facemocap.CaptureService/ResetCalibration"
	CaptureService_Latest_FullMethodName           = "/facemocap.CaptureService/Latest"
	CaptureService_SetSmoothing_FullMethodName     = "/facemocap.CaptureService/SetSmoothing"
	CaptureService_Shutdown_FullMethodName         = "/facemocap.CaptureService/Shutdown"
	CaptureService_PushLandmarks_FullMethodName    = "/facemocap.CaptureService/PushLandmarks"
)

type CaptureServiceServer interface {
	Calibrate(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	CalibrateHead(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ResetCalibration(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Latest(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	SetSmoothing(context.Context, *wrapperspb.BoolValue) (*emptypb.Empty, error)
	Shutdown(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	PushLandmarks(grpc.ClientStreamingServer[structpb.Struct, emptypb.Empty]) error
}

func RegisterCaptureServiceServer(s grpc.ServiceRegistrar, srv CaptureServiceServer) {
	s.RegisterService(&CaptureService_ServiceDesc, srv)
}

// unary builds a method handler for a unary call taking Req.
func unary[Req any, Res any](fullMethod string, call func(CaptureServiceServer, context.Context, *Req) (*Res, error)) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(CaptureServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(CaptureServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func _CaptureService_PushLandmarks_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(CaptureServiceServer).PushLandmarks(&grpc.GenericServerStream[structpb.Struct, emptypb.Empty]{ServerStream: stream})
}

var CaptureService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CaptureServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Calibrate",
			Handler:    unary(CaptureService_Calibrate_FullMethodName, CaptureServiceServer.Calibrate),
		},
		{
			MethodName: "CalibrateHead",
			Handler:    unary(CaptureService_CalibrateHead_FullMethodName, CaptureServiceServer.CalibrateHead),
		},
		{
			MethodName: "ResetCalibration",
			Handler:    unary(CaptureService_ResetCalibration_FullMethodName, CaptureServiceServer.ResetCalibration),
		},
		{
			MethodName: "Latest",
			Handler:    unary(CaptureService_Latest_FullMethodName, CaptureServiceServer.Latest),
		},
		{
			MethodName: "SetSmoothing",
			Handler:    unary(CaptureService_SetSmoothing_FullMethodName, CaptureServiceServer.SetSmoothing),
		},
		{
			MethodName: "Shutdown",
			Handler:    unary(CaptureService_Shutdown_FullMethodName, CaptureServiceServer.Shutdown),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "PushLandmarks",
			Handler:       _CaptureService_PushLandmarks_Handler,
			ClientStreams: true,
		},
	},
	Metadata: "facemocap/capture.proto",
}

type CaptureServiceClient interface {
	Calibrate(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
	CalibrateHead(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
	ResetCalibration(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
	Latest(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
	SetSmoothing(ctx context.Context, in *wrapperspb.BoolValue, opts ...grpc.CallOption) (*emptypb.Empty, error)
	Shutdown(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error)
	PushLandmarks(ctx context.Context, opts ...grpc.CallOption) (grpc.ClientStreamingClient[structpb.Struct, emptypb.Empty], error)
}

type captureServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewCaptureServiceClient(cc grpc.ClientConnInterface) CaptureServiceClient {
	return &captureServiceClient{cc}
}

func (c *captureServiceClient) Calibrate(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, CaptureService_Calibrate_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *captureServiceClient) CalibrateHead(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, CaptureService_CalibrateHead_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *captureServiceClient) ResetCalibration(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, CaptureService_ResetCalibration_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *captureServiceClient) Latest(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, CaptureService_Latest_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *captureServiceClient) SetSmoothing(ctx context.Context, in *wrapperspb.BoolValue, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, CaptureService_SetSmoothing_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *captureServiceClient) Shutdown(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, CaptureService_Shutdown_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *captureServiceClient) PushLandmarks(ctx context.Context, opts ...grpc.CallOption) (grpc.ClientStreamingClient[structpb.Struct, emptypb.Empty], error) {
	stream, err := c.cc.NewStream(ctx, &CaptureService_ServiceDesc.Streams[0], CaptureService_PushLandmarks_FullMethodName, opts...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[structpb.Struct, emptypb.Empty]{ClientStream: stream}, nil
}
