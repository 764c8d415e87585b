package main

import (
	"context"
	"net"
	"time"

	"github.com/outofforest/logger"
	"github.com/outofforest/parallel"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
	"go.uber.org/zap"

	"logstreamer/api"
	"logstreamer/config"
	"logstreamer/middleware"
	"logstreamer/receiver"
	"logstreamer/registry"
	"logstreamer/server"
)

func serveCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if listen := c.String("listen"); listen != "" {
		cfg.Server.Listen = listen
	}
	if advertise := c.String("advertise"); advertise != "" {
		cfg.Server.Advertise = advertise
	}
	if tokens := c.StringSlice("token"); len(tokens) > 0 {
		cfg.Tokens = tokens
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	ctx, err = withLogger(ctx, cfg)
	if err != nil {
		return err
	}
	return ignoreCancel(serve(ctx, cfg))
}

// serve runs the receiver until ctx is done, then shuts the server down gracefully.
func serve(ctx context.Context, cfg config.Config) error {
	log := logger.Get(ctx)

	var reg registry.Registry
	if len(cfg.Etcd.Endpoints) > 0 {
		etcdRegistry, err := registry.NewEtcdRegistry(cfg.Etcd.Endpoints, cfg.Etcd.DialTimeout, log)
		if err != nil {
			return err
		}
		defer etcdRegistry.Close()
		reg = etcdRegistry
	}

	rcv := receiver.New(cfg.Server.ReceiverBuffer, log)
	srv := newServer(cfg, log)
	if err := srv.Register(api.BindService(rcv)); err != nil {
		return err
	}

	lis, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		return errors.WithStack(err)
	}

	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("server", parallel.Fail, func(ctx context.Context) error {
			// Handlers must outlive the group context, Shutdown drains them.
			return srv.Serve(context.WithoutCancel(ctx), lis, cfg.Server.AdvertiseAddr(), reg)
		})
		spawn("receiver", parallel.Fail, func(ctx context.Context) error {
			return rcv.Run(ctx, receiver.LogSink(log))
		})
		spawn("status", parallel.Fail, func(ctx context.Context) error {
			return reportStatus(ctx, cfg.Server.StatusInterval, rcv, log)
		})
		spawn("shutdown", parallel.Fail, func(ctx context.Context) error {
			<-ctx.Done()

			log.Info("Shutting down", zap.Uint64("received", rcv.Count()))
			if err := srv.Shutdown(cfg.Server.ShutdownTimeout); err != nil {
				return err
			}
			return errors.WithStack(ctx.Err())
		})
		return nil
	})
}

// reportStatus logs the number of received lines every interval until ctx is done.
func reportStatus(ctx context.Context, interval time.Duration, rcv *receiver.Receiver, log *zap.Logger) error {
	if interval <= 0 {
		<-ctx.Done()
		return errors.WithStack(ctx.Err())
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		case <-ticker.C:
			log.Info("Status", zap.Uint64("received", rcv.Count()))
		}
	}
}

func newServer(cfg config.Config, log *zap.Logger) *server.Server {
	srv := server.NewServer(
		server.WithLogger(log),
		server.WithInstance(cfg.Server.Weight, cfg.Server.Version),
		server.WithRegistryTTL(cfg.Server.RegistryTTL),
	)

	srv.Use(middleware.Recovery(log))
	srv.Use(middleware.Logging(log))
	srv.Use(middleware.Auth(cfg.Tokens...))
	if cfg.Server.RateLimit > 0 {
		srv.Use(middleware.RateLimit(cfg.Server.RateLimit, cfg.Server.Burst))
	}
	if cfg.Server.Timeout > 0 {
		srv.Use(middleware.Timeout(cfg.Server.Timeout))
	}
	return srv
}
