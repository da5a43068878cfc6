package proto

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"FaceMocap/engine"
	iface "FaceMocap/interface"
	"FaceMocap/logger"
	"FaceMocap/monitor"
	"FaceMocap/source"
)

// Server implements CaptureServiceServer on top of a running engine. Push may
// be nil when the node captures from a camera; PushLandmarks then fails with
// Unavailable.
type Server struct {
	Ctrl iface.Controller
	Push *source.Push
	// OnShutdown is invoked once the Shutdown reply has been sent.
	OnShutdown func()
}

func recordStruct(rec map[string]float64) (*structpb.Struct, error) {
	fields := make(map[string]interface{}, len(rec))
	for k, v := range rec {
		fields[k] = v
	}
	return structpb.NewStruct(fields)
}

func controlError(err error) error {
	switch {
	case errors.Is(err, engine.ErrNoFrame), errors.Is(err, engine.ErrNoPose), errors.Is(err, engine.ErrChannelInvalid):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func (s *Server) Calibrate(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	monitor.GRPCTotal.Inc()
	rec, err := s.Ctrl.CalibrateFacial()
	if err != nil {
		return nil, controlError(err)
	}
	return recordStruct(rec)
}

func (s *Server) CalibrateHead(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	monitor.GRPCTotal.Inc()
	rec, err := s.Ctrl.CalibrateHead()
	if err != nil {
		return nil, controlError(err)
	}
	return recordStruct(rec)
}

func (s *Server) ResetCalibration(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	monitor.GRPCTotal.Inc()
	if err := s.Ctrl.ResetCalibration(); err != nil {
		return nil, controlError(err)
	}
	return structpb.NewStruct(map[string]interface{}{"success": true, "message": "Calibration reset"})
}

func (s *Server) Latest(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	monitor.GRPCTotal.Inc()
	latest := s.Ctrl.Latest()
	if latest == nil {
		return nil, status.Error(codes.NotFound, engine.ErrNoFrame.Error())
	}
	return recordStruct(latest)
}

func (s *Server) SetSmoothing(ctx context.Context, req *wrapperspb.BoolValue) (*emptypb.Empty, error) {
	monitor.GRPCTotal.Inc()
	s.Ctrl.SetSmoothing(req.GetValue())
	return &emptypb.Empty{}, nil
}

func (s *Server) Shutdown(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	monitor.GRPCTotal.Inc()
	logger.Log().Warn("Shutting down in 1 second...")
	if s.OnShutdown != nil {
		time.AfterFunc(time.Second, s.OnShutdown)
	}
	return &emptypb.Empty{}, nil
}

// PushLandmarks accepts frames of the form
// {"width": w, "height": h, "points": [x0, y0, z0, x1, y1, z1, ...]}.
// A frame with no points means no face and is skipped.
func (s *Server) PushLandmarks(stream grpc.ClientStreamingServer[structpb.Struct, emptypb.Empty]) error {
	monitor.GRPCTotal.Inc()
	if s.Push == nil {
		return status.Error(codes.Unavailable, "landmark ingest is not enabled on this node")
	}
	log := logger.Named("grpc")
	received, dropped := 0, 0
	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			log.Debug("landmark stream closed", zap.Int("received", received), zap.Int("dropped", dropped))
			return stream.SendAndClose(&emptypb.Empty{})
		}
		if err != nil {
			return err
		}
		frame, err := FrameFromStruct(msg)
		if err != nil {
			return status.Error(codes.InvalidArgument, err.Error())
		}
		frame.Timestamp = time.Now()
		received++
		if len(frame.Landmarks) == 0 {
			monitor.FramesSkipped.Inc()
			continue
		}
		wasDropped, err := s.Push.Offer(frame)
		if err != nil {
			return status.Error(codes.Unavailable, err.Error())
		}
		if wasDropped {
			dropped++
		}
	}
}

// FrameFromStruct decodes one pushed landmark frame.
func FrameFromStruct(msg *structpb.Struct) (iface.Frame, error) {
	fields := msg.GetFields()
	width, err := intField(fields, "width")
	if err != nil {
		return iface.Frame{}, err
	}
	height, err := intField(fields, "height")
	if err != nil {
		return iface.Frame{}, err
	}
	values := fields["points"].GetListValue().GetValues()
	if len(values)%3 != 0 {
		return iface.Frame{}, fmt.Errorf("points: want a multiple of 3 values, got %d", len(values))
	}
	lm := make(iface.Landmarks, len(values)/3)
	for i := range lm {
		var xyz [3]float64
		for j := range xyz {
			v, ok := values[i*3+j].GetKind().(*structpb.Value_NumberValue)
			if !ok {
				return iface.Frame{}, fmt.Errorf("points[%d]: not a number", i*3+j)
			}
			xyz[j] = v.NumberValue
		}
		lm[i] = iface.Landmark{X: xyz[0], Y: xyz[1], Z: xyz[2]}
	}
	return iface.Frame{Landmarks: lm, Width: width, Height: height}, nil
}

// StructFromFrame is the inverse of FrameFromStruct, used by push clients.
func StructFromFrame(f iface.Frame) *structpb.Struct {
	points := make([]*structpb.Value, 0, len(f.Landmarks)*3)
	for _, p := range f.Landmarks {
		points = append(points, structpb.NewNumberValue(p.X), structpb.NewNumberValue(p.Y), structpb.NewNumberValue(p.Z))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"width":  structpb.NewNumberValue(float64(f.Width)),
		"height": structpb.NewNumberValue(float64(f.Height)),
		"points": structpb.NewListValue(&structpb.ListValue{Values: points}),
	}}
}

func intField(fields map[string]*structpb.Value, name string) (int, error) {
	v, ok := fields[name].GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("%s: missing or not a number", name)
	}
	n := v.NumberValue
	if n <= 0 || n != math.Trunc(n) {
		return 0, fmt.Errorf("%s: want a positive integer, got %v", name, n)
	}
	return int(n), nil
}

// StartGRPCServer listens on port and serves srv in the background.
func StartGRPCServer(port int, srv *Server) (*grpc.Server, error) {
	addr := fmt.Sprintf(":%d", port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	s := grpc.NewServer()
	RegisterCaptureServiceServer(s, srv)
	go func() {
		logger.Log().Info("gRPC server listening", zap.String("addr", addr))
		if err := s.Serve(lis); err != nil {
			logger.Log().Error("gRPC server stopped", zap.Error(err))
		}
	}()
	return s, nil
}
