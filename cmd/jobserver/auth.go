package main

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/nixpig/jobsearch/internal/auth"
	"github.com/nixpig/jobsearch/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Health checks are open to any client holding a certificate from the CA.
const healthServicePrefix = "/grpc.health.v1.Health/"

// authorise checks that the caller's certificate role may call method. The
// returned context logs the client's Common Name.
func authorise(
	ctx context.Context,
	method string,
	logger *slog.Logger,
) (context.Context, error) {
	cn, err := auth.Authorise(ctx, method)
	if err != nil {
		if cn == "" {
			logger.Warn("failed to get client identity", "method", method, "err", err)
			return ctx, status.Error(codes.Unauthenticated, "not authenticated")
		}

		logger.Warn(
			"failed to authorise client",
			"cn", cn,
			"method", method,
			"err", err,
		)

		if errors.Is(err, auth.ErrUnknownMethod) {
			return ctx, status.Error(codes.Unimplemented, "unknown method")
		}

		return ctx, status.Error(codes.PermissionDenied, "not authorised")
	}

	logger.Debug("authorised client request", "cn", cn, "method", method)

	return logging.ContextAttrs(ctx, slog.String("client", cn)), nil
}

func authUnaryInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		if strings.HasPrefix(info.FullMethod, healthServicePrefix) {
			return handler(ctx, req)
		}

		ctx, err := authorise(ctx, info.FullMethod, logger)
		if err != nil {
			return nil, err
		}

		return handler(ctx, req)
	}
}

func authStreamInterceptor(logger *slog.Logger) grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		if strings.HasPrefix(info.FullMethod, healthServicePrefix) {
			return handler(srv, ss)
		}

		ctx, err := authorise(ss.Context(), info.FullMethod, logger)
		if err != nil {
			return err
		}

		return handler(srv, &identifiedStream{ServerStream: ss, ctx: ctx})
	}
}

// contextCheckUnaryInterceptor rejects requests with a cancelled context.
func contextCheckUnaryInterceptor(
	ctx context.Context,
	req any,
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (any, error) {
	if ctx.Err() != nil {
		return nil, status.FromContextError(ctx.Err()).Err()
	}

	return handler(ctx, req)
}

// contextCheckStreamInterceptor rejects streams with a cancelled context.
func contextCheckStreamInterceptor(
	srv any,
	ss grpc.ServerStream,
	info *grpc.StreamServerInfo,
	handler grpc.StreamHandler,
) error {
	if err := ss.Context().Err(); err != nil {
		return status.FromContextError(err).Err()
	}

	return handler(srv, ss)
}

// identifiedStream carries the authorised client in its context.
type identifiedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *identifiedStream) Context() context.Context {
	return s.ctx
}
