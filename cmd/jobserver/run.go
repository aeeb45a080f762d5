package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/nixpig/jobsearch/internal/auth"
	"github.com/nixpig/jobsearch/internal/broadcast"
	"github.com/nixpig/jobsearch/internal/logging"
	"github.com/nixpig/jobsearch/internal/taskmanager"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout   = 10 * time.Second
	redisPingTimeout  = 2 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// runServer serves until ctx is cancelled or a server fails, then stops
// accepting requests, shuts down the Manager (failing any running Tasks) and
// flushes pending events.
func runServer(ctx context.Context, cfg *config, logOut io.Writer) error {
	logger, err := logging.New(logOut, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}

	publisher, closePublisher := newPublisher(ctx, cfg.Redis, logger)
	defer closePublisher()

	manager, err := taskmanager.NewManager(
		cfg.Worker.taskConfig(),
		taskmanager.WithPublisher(publisher),
		taskmanager.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("create task manager: %w", err)
	}
	defer manager.Shutdown()

	grpcServer, err := newServer(manager, logger, cfg)
	if err != nil {
		return err
	}

	var httpServer *http.Server

	if cfg.HTTP.Addr != "" {
		tokens, err := auth.NewTokens(cfg.HTTP.JWTSecret)
		if err != nil {
			return err
		}

		httpServer = &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           newHTTPHandler(manager, tokens, logger),
			ReadHeaderTimeout: readHeaderTimeout,
		}
	}

	listener, err := net.Listen("tcp", cfg.Server.addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Server.addr(), err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("gRPC server listening", "addr", listener.Addr().String())
		return grpcServer.start(listener)
	})

	if httpServer != nil {
		g.Go(func() error {
			logger.Info("HTTP server listening", "addr", cfg.HTTP.Addr)

			if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve HTTP: %w", err)
			}

			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()

		logger.Info("shutting down", "cause", context.Cause(gctx))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if httpServer != nil {
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn("shutdown HTTP server", "err", err)
			}
		}

		grpcServer.shutdown(shutdownCtx)

		return nil
	})

	return g.Wait()
}

// newPublisher returns the Redis publisher if configured, otherwise one that
// discards events. The returned func flushes and releases it.
func newPublisher(
	ctx context.Context,
	cfg redisConfig,
	logger *slog.Logger,
) (taskmanager.EventPublisher, func()) {
	if cfg.Addr == "" {
		return broadcast.Nop{}, func() {}
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Addr})

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()

	// Events are best effort, so an unreachable Redis is not fatal.
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.Warn("ping redis", "addr", cfg.Addr, "err", err)
	}

	p := broadcast.NewRedis(rdb, cfg.ChannelPrefix, logger)

	return p, func() {
		if err := p.Close(); err != nil {
			logger.Warn("close event publisher", "err", err)
		}

		if dropped := p.Dropped(); dropped > 0 {
			logger.Warn("task events dropped", "count", dropped)
		}

		if err := rdb.Close(); err != nil {
			logger.Warn("close redis client", "err", err)
		}
	}
}
