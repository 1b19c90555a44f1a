package grpcapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"strconv"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/PRsofteng/start-control-access/internal/events"
	"github.com/PRsofteng/start-control-access/internal/portunus/door"
	"github.com/PRsofteng/start-control-access/internal/portunus/service"
	"github.com/PRsofteng/start-control-access/internal/portunus/store"
	"github.com/PRsofteng/start-control-access/internal/portunus/types"
)

type Dependencies struct {
	Logger      *slog.Logger
	Coordinator *service.Coordinator
	Hub         *events.Hub
}

type Server struct {
	logger *slog.Logger
	coord  *service.Coordinator
	hub    *events.Hub
	grpc   *grpc.Server
	health *health.Server

	quit     chan struct{} // closed by Stop to end Watch streams
	quitOnce sync.Once
}

func NewServer(d Dependencies) *Server {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	s := &Server{
		logger: d.Logger,
		coord:  d.Coordinator,
		hub:    d.Hub,
		health: health.NewServer(),
		quit:   make(chan struct{}),
	}
	s.grpc = grpc.NewServer(
		grpc.ChainUnaryInterceptor(recoverUnary(d.Logger), logUnary(d.Logger)),
	)
	s.grpc.RegisterService(&serviceDesc, s)
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return s
}

// Serve blocks until the listener fails or Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	err := s.grpc.Serve(lis)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

// Stop ends Watch streams, then drains in-flight calls, falling back to
// a hard stop when ctx expires first. It is safe to call more than once.
func (s *Server) Stop(ctx context.Context) {
	s.health.Shutdown()
	s.quitOnce.Do(func() { close(s.quit) })

	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpc.Stop()
		<-done
	}
}

func (s *Server) PresentTag(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	uid, err := tagUIDField(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	resp, err := s.coord.PresentTag(ctx, types.AccessRequest{
		TagUID:      uid,
		EventID:     stringField(in, "event_id"),
		PresentedAt: stringField(in, "presented_at"),
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(resp)
}

func (s *Server) ManualOpen(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	resp, err := s.coord.ManualOpen(ctx, types.ManualOpenRequest{
		Operator: stringField(in, "operator"),
		EventID:  stringField(in, "event_id"),
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(resp)
}

// Watch streams every hub notification, starting with the current door
// status, until the client goes away, the hub closes or the server stops.
func (s *Server) Watch(_ *emptypb.Empty, stream grpc.ServerStream) error {
	if s.hub == nil {
		return status.Error(codes.Unavailable, "notification stream is not configured")
	}
	ch, cancel := s.hub.Subscribe(64)
	defer cancel()

	first, err := toStruct(map[string]any{
		"kind": "door_status",
		"door": s.coord.DoorStatus(),
	})
	if err != nil {
		return err
	}
	if err := stream.SendMsg(first); err != nil {
		return err
	}

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.quit:
			return nil
		case n, ok := <-ch:
			if !ok {
				return nil
			}
			m, err := toStruct(n)
			if err != nil {
				return err
			}
			if err := stream.SendMsg(m); err != nil {
				return err
			}
		}
	}
}

func tagUIDField(in *structpb.Struct) (uint64, error) {
	v, ok := in.GetFields()["tag_uid"]
	if !ok {
		return 0, service.ErrInvalidTagUID
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		f := k.NumberValue
		if f < 1 || f >= 1<<64 || f != math.Trunc(f) {
			return 0, service.ErrInvalidTagUID
		}
		return uint64(f), nil
	case *structpb.Value_StringValue:
		// Values above 2^53 lose precision as doubles; send them as strings.
		uid, err := strconv.ParseUint(k.StringValue, 10, 64)
		if err != nil || uid == 0 {
			return 0, service.ErrInvalidTagUID
		}
		return uid, nil
	default:
		return 0, service.ErrInvalidTagUID
	}
}

func stringField(in *structpb.Struct, name string) string {
	return in.GetFields()[name].GetStringValue()
}

// toStruct converts v through its JSON form so the stream carries the
// same field names as the HTTP API.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encode: %v", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode: %v", err)
	}
	return out, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidTagUID):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, door.ErrDoorBusy):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, store.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, service.ErrPersistence):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func logUnary(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Info("grpc request",
			"method", info.FullMethod,
			"code", status.Code(err).String(),
			"dur", time.Since(start),
		)
		return resp, err
	}
}

func recoverUnary(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("grpc handler panic", "method", info.FullMethod, "panic", fmt.Sprint(r))
				err = status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}
