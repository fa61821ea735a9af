package grpc

import (
	context "context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"gitlab.com/linkinlog/rxprefs/env"
	"gitlab.com/linkinlog/rxprefs/prefs"
	"gitlab.com/linkinlog/rxprefs/store"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

func NewGRPCServer(l *slog.Logger) *GRPCServer {
	return &GRPCServer{
		log:      l,
		stop:     make(chan struct{}),
		stopOnce: &sync.Once{},
	}
}

type GRPCServer struct {
	p   *prefs.Preferences
	log *slog.Logger

	gs  *grpc.Server
	err chan error

	// stop is closed by Close to end open watches.
	stop     chan struct{}
	stopOnce *sync.Once
}

func (s *GRPCServer) Get(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	key := stringField(req, "key")
	if key == "" {
		return nil, status.Error(codes.InvalidArgument, "invalid key")
	}

	val, ok := s.p.Store().Get(key)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "no such key %q", key)
	}

	if kind := stringField(req, "kind"); kind != "" && kind != val.Kind().String() {
		return nil, status.Errorf(codes.FailedPrecondition, "%q holds %s", key, val.Kind())
	}

	return encodeEntry(key, val)
}

func (s *GRPCServer) Put(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	key := stringField(req, "key")
	if key == "" {
		return nil, status.Error(codes.InvalidArgument, "invalid key")
	}

	val, err := decodeEntry(req)
	if err != nil {
		return nil, toStatus(err)
	}

	err = <-s.p.Commit(ctx, func(e *prefs.Editor) {
		e.Set(key, val.Interface())
	})
	if err != nil {
		return nil, toStatus(err)
	}

	return &emptypb.Empty{}, nil
}

func (s *GRPCServer) Delete(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	key := stringField(req, "key")
	if key == "" {
		return nil, status.Error(codes.InvalidArgument, "invalid key")
	}

	err := <-s.p.Commit(ctx, func(e *prefs.Editor) {
		e.Remove(key)
	})
	if err != nil {
		return nil, toStatus(err)
	}

	return &emptypb.Empty{}, nil
}

// Watch sends the current value of the key and then every change, until the
// client cancels or the stored kind stops matching.
func (s *GRPCServer) Watch(req *structpb.Struct, stream grpc.ServerStream) error {
	key := stringField(req, "key")
	if key == "" {
		return status.Error(codes.InvalidArgument, "invalid key")
	}

	kind, err := store.ParseKind(stringField(req, "kind"))
	if err != nil {
		return toStatus(err)
	}

	def, err := store.Zero(kind)
	if err != nil {
		return toStatus(err)
	}
	if raw, ok := req.GetFields()["default"]; ok {
		if def, err = store.FromJSON(kind, raw.AsInterface()); err != nil {
			return toStatus(err)
		}
	}

	ctx, cancel := context.WithCancel(stream.Context())
	defer cancel()
	go func() {
		select {
		case <-s.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	values, errs := s.p.ObserveValue(ctx, key, def)
	for v := range values {
		msg, err := encodeEntry(key, v)
		if err != nil {
			return status.Error(codes.Internal, err.Error())
		}
		if err := stream.SendMsg(msg); err != nil {
			return err
		}
	}

	if err := <-errs; err != nil {
		return toStatus(err)
	}

	return nil
}

func (s *GRPCServer) Start(p *prefs.Preferences) <-chan error {
	s.p = p
	s.err = make(chan error, 1)

	s.gs = grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))

	RegisterPreferencesServer(s.gs, s)

	go func() {
		lis, err := net.Listen("tcp", env.FrontendPort())
		if err != nil {
			s.err <- fmt.Errorf("can't hear shit! %w", err)
			return
		}

		if err := s.gs.Serve(lis); err != nil {
			s.err <- fmt.Errorf("failed to serve game! %w", err)
		}
	}()

	return s.err
}

func (s *GRPCServer) Close(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })

	if s.gs == nil {
		return nil
	}

	stopped := make(chan struct{})
	go func() {
		s.gs.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		s.gs.Stop()
		return ctx.Err()
	}
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, store.ErrUnsupportedType), errors.Is(err, store.ErrTypeMismatch):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, store.ErrCommitFailed):
		return status.Error(codes.Internal, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	}
	return status.Error(codes.Unknown, err.Error())
}
