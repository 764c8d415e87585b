package main

import (
	"bufio"
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/outofforest/logger"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
	"go.uber.org/zap"

	"logstreamer/api"
	"logstreamer/client"
	"logstreamer/codec"
	"logstreamer/config"
	"logstreamer/loadbalance"
	"logstreamer/middleware"
	"logstreamer/receiver"
	"logstreamer/registry"
	"logstreamer/rpc"
	"logstreamer/writer"
)

const (
	modeBlocking = "blocking"
	modeAsync    = "async"
	modeFuture   = "future"
	modeLogger   = "logger"
)

type sendOptions struct {
	mode     string
	path     string
	filename string
}

func sendCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.IsSet("addr") {
		cfg.Client.Address = c.String("addr")
	} else if len(cfg.Etcd.Endpoints) > 0 {
		cfg.Client.Address = ""
	}
	if c.IsSet("timeout") {
		cfg.Client.Timeout = c.Duration("timeout")
	}
	if c.IsSet("codec") {
		cfg.Client.Codec = c.String("codec")
	}
	if c.IsSet("compression") {
		cfg.Client.Compression = c.String("compression")
	}
	if c.IsSet("balancer") {
		cfg.Client.Balancer = c.String("balancer")
	}
	if c.IsSet("token") {
		cfg.Token = c.String("token")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	opts := sendOptions{mode: c.String("mode"), path: c.String("path"), filename: c.String("filename")}

	ctx, cancel := signalContext()
	defer cancel()

	ctx, err = withLogger(ctx, cfg)
	if err != nil {
		return err
	}

	var lines []string
	if c.NArg() > 0 {
		lines = c.Args()
	} else {
		if lines, err = readLines(os.Stdin); err != nil {
			return err
		}
	}
	return ignoreCancel(send(ctx, cfg, opts, lines))
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, errors.WithStack(scanner.Err())
}

// send ships lines with the selected stub flavour and stops at the first failure.
func send(ctx context.Context, cfg config.Config, opts sendOptions, lines []string) error {
	log := logger.Get(ctx)

	ch, closeChannel, err := newChannel(cfg, log)
	if err != nil {
		return err
	}
	defer closeChannel()

	callOptions := rpc.DefaultCallOptions().
		WithInterceptors(middleware.ClientLogging(log)).
		WithCompression(cfg.Client.Compression).
		WithRoutingKey(opts.path + "/" + opts.filename)
	if cfg.Token != "" {
		callOptions = callOptions.WithCredentials(rpc.TokenCredentials(cfg.Token))
	}
	withDeadline := func(o rpc.CallOptions) rpc.CallOptions {
		if cfg.Client.Timeout > 0 {
			return o.WithDeadlineAfter(cfg.Client.Timeout)
		}
		return o
	}
	request := func(line string) *api.LogRequest {
		return &api.LogRequest{Path: opts.path, Filename: opts.filename, Line: line}
	}

	switch opts.mode {
	case modeBlocking:
		stub := api.NewBlockingStub(ch)
		for _, line := range lines {
			resp, err := stub.WithCallOptions(withDeadline(callOptions)).Log(ctx, request(line))
			if err != nil {
				return err
			}
			if err := accepted(resp); err != nil {
				return err
			}
		}
	case modeAsync:
		stub := api.NewStub(ch).WithCallOptions(withDeadline(callOptions))
		var wg sync.WaitGroup
		var mu sync.Mutex
		var firstErr error
		for _, line := range lines {
			wg.Add(1)
			stub.Log(ctx, request(line), func(resp *api.LogResponse, err error) {
				defer wg.Done()
				if err == nil {
					err = accepted(resp)
				}
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
				}
			})
		}
		wg.Wait()
		return firstErr
	case modeFuture:
		stub := api.NewFutureStub(ch).WithCallOptions(withDeadline(callOptions))
		futures := make([]*rpc.Future[*api.LogResponse], 0, len(lines))
		for _, line := range lines {
			futures = append(futures, stub.Log(ctx, request(line)))
		}
		for _, f := range futures {
			resp, err := f.Get(ctx)
			if err != nil {
				return err
			}
			if err := accepted(resp); err != nil {
				return err
			}
		}
	case modeLogger:
		w := writer.New(api.NewBlockingStub(ch).WithCallOptions(callOptions), opts.path, opts.filename, cfg.Client.Timeout)
		shipped := writer.NewLogger(w, zap.InfoLevel)
		for _, line := range lines {
			shipped.Info(line)
		}
		return errors.WithStack(shipped.Sync())
	default:
		return errors.Errorf("unknown mode %q", opts.mode)
	}

	log.Info("Lines sent", zap.Int("count", len(lines)), zap.String("mode", opts.mode))
	return nil
}

func accepted(resp *api.LogResponse) error {
	if resp.GetRes() != receiver.Accepted {
		return errors.Errorf("line not accepted: %q", resp.GetRes())
	}
	return nil
}

// newChannel returns the channel and a function releasing it together with the registry.
func newChannel(cfg config.Config, log *zap.Logger) (*client.Channel, func(), error) {
	codecType, err := codec.ParseCodecType(cfg.Client.Codec)
	if err != nil {
		return nil, nil, err
	}

	chConfig := client.Config{
		Address:     cfg.Client.Address,
		Codec:       codecType,
		PoolSize:    cfg.Client.PoolSize,
		DialTimeout: cfg.Client.DialTimeout,
		Log:         log,
		Middlewares: []middleware.Middleware{
			middleware.Retry(cfg.Client.Retries, 100*time.Millisecond, log),
		},
	}
	if chConfig.Address != "" {
		ch, err := client.New(chConfig)
		if err != nil {
			return nil, nil, err
		}
		return ch, func() { _ = ch.Close() }, nil
	}

	balancer, err := loadbalance.New(cfg.Client.Balancer)
	if err != nil {
		return nil, nil, err
	}
	reg, err := registry.NewEtcdRegistry(cfg.Etcd.Endpoints, cfg.Etcd.DialTimeout, log)
	if err != nil {
		return nil, nil, err
	}
	chConfig.Registry = reg
	chConfig.Balancer = balancer

	ch, err := client.New(chConfig)
	if err != nil {
		_ = reg.Close()
		return nil, nil, err
	}
	return ch, func() {
		_ = ch.Close()
		_ = reg.Close()
	}, nil
}
