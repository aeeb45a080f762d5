package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	api "github.com/nixpig/jobsearch/api/v1"
	"github.com/nixpig/jobsearch/internal/taskmanager"
	"github.com/nixpig/jobsearch/internal/tlsconfig"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type server struct {
	api.UnimplementedTaskServiceServer

	manager    *taskmanager.Manager
	logger     *slog.Logger
	grpcServer *grpc.Server
	health     *health.Server
}

func newServer(
	manager *taskmanager.Manager,
	logger *slog.Logger,
	cfg *config,
) (*server, error) {
	tlsCreds, err := loadTLSCreds(cfg.Server)
	if err != nil {
		return nil, fmt.Errorf("load TLS credentials: %w", err)
	}

	s := &server{
		manager: manager,
		logger:  logger,
		health:  health.NewServer(),
	}

	s.grpcServer = grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			contextCheckUnaryInterceptor,
			authUnaryInterceptor(logger),
		),
		grpc.ChainStreamInterceptor(
			contextCheckStreamInterceptor,
			authStreamInterceptor(logger),
		),
		grpc.Creds(tlsCreds),
	)

	api.RegisterTaskServiceServer(s.grpcServer, s)
	healthpb.RegisterHealthServer(s.grpcServer, s.health)

	s.health.SetServingStatus(api.ServiceName, healthpb.HealthCheckResponse_SERVING)

	return s, nil
}

func (s *server) start(listener net.Listener) error {
	return s.grpcServer.Serve(listener)
}

// shutdown stops accepting RPCs and waits for those in flight until ctx is
// done, after which they are cancelled.
func (s *server) shutdown(ctx context.Context) {
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		s.logger.Warn("graceful stop timed out, cancelling RPCs")
		s.grpcServer.Stop()
		<-stopped
	}
}

func (s *server) StartTask(
	ctx context.Context,
	in *structpb.Struct,
) (*wrapperspb.StringValue, error) {
	req, err := api.Decode[api.StartRequest](in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	id, err := s.manager.StartTask(ctx, taskmanager.Input{
		CVPath:    req.CVPath,
		Companies: req.Companies,
	})
	if err != nil {
		return nil, s.mapError(ctx, "start task", err)
	}

	return wrapperspb.String(id), nil
}

func (s *server) QueryTask(
	ctx context.Context,
	in *wrapperspb.StringValue,
) (*structpb.Struct, error) {
	if in.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "id is empty")
	}

	taskStatus, err := s.manager.QueryTask(in.GetValue())
	if err != nil {
		return nil, s.mapError(ctx, "query task", err)
	}

	out, err := api.Encode(toAPIStatus(taskStatus))
	if err != nil {
		return nil, s.mapError(ctx, "encode task status", err)
	}

	return out, nil
}

func (s *server) RemoveTask(
	ctx context.Context,
	in *wrapperspb.StringValue,
) (*emptypb.Empty, error) {
	if in.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "id is empty")
	}

	if err := s.manager.RemoveTask(in.GetValue()); err != nil {
		return nil, s.mapError(ctx, "remove task", err)
	}

	return &emptypb.Empty{}, nil
}

func (s *server) WatchTask(
	in *wrapperspb.StringValue,
	stream grpc.ServerStreamingServer[structpb.Struct],
) error {
	ctx := stream.Context()

	id := in.GetValue()
	if id == "" {
		return status.Error(codes.InvalidArgument, "id is empty")
	}

	sub, err := s.manager.StreamTaskLog(id)
	if err != nil {
		return s.mapError(ctx, "watch task", err)
	}

	// Unblocks Next when the client goes away.
	stop := context.AfterFunc(ctx, func() { sub.Close() })
	defer func() {
		if stop() {
			sub.Close()
		}
	}()

	for {
		line, err := sub.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return s.mapError(ctx, "read task log", err)
			}

			if ctxErr := ctx.Err(); ctxErr != nil {
				return status.FromContextError(ctxErr).Err()
			}

			return nil
		}

		msg, err := api.Encode(toAPILogLine(line))
		if err != nil {
			return s.mapError(ctx, "encode log line", err)
		}

		if err := stream.Send(msg); err != nil {
			s.logger.WarnContext(ctx, "stream log to client", "task_id", id, "err", err)
			return status.Error(codes.DataLoss, "failed to stream log")
		}
	}
}

// mapError translates taskmanager errors to gRPC errors.
func (s *server) mapError(ctx context.Context, logMsg string, err error) error {
	switch {
	case errors.Is(err, taskmanager.ErrTaskNotFound):
		s.logger.WarnContext(ctx, logMsg, "err", err)
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, taskmanager.ErrInvalidInput):
		s.logger.WarnContext(ctx, logMsg, "err", err)
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.As(err, new(taskmanager.InvalidStateError)):
		s.logger.WarnContext(ctx, logMsg, "err", err)
		return status.Error(codes.FailedPrecondition, err.Error())

	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()

	default:
		s.logger.ErrorContext(ctx, logMsg, "err", err)
		return status.Error(codes.Internal, "internal server error")
	}
}

// loadTLSCreds creates the gRPC transport credentials with mTLS enabled.
func loadTLSCreds(cfg serverConfig) (credentials.TransportCredentials, error) {
	tlsConfig, err := tlsconfig.SetupTLS(&tlsconfig.Config{
		CertPath:   cfg.CertPath,
		KeyPath:    cfg.KeyPath,
		CACertPath: cfg.CACertPath,
		Server:     true,
	})
	if err != nil {
		return nil, err
	}

	return credentials.NewTLS(tlsConfig), nil
}
