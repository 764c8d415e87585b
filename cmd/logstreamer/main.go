// Command logstreamer runs a log streamer receiver or sends lines to one.
//
//	logstreamer serve --listen 127.0.0.1:9090
//	tail -f app.log | logstreamer send --addr 127.0.0.1:9090 --path /var/log --filename app.log
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"logstreamer/config"
)

func main() {
	app := cli.NewApp()
	app.Name = "logstreamer"
	app.Usage = "stream log lines to a LogStreamer receiver"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "YAML configuration file, defaults are used when empty",
		},
		cli.StringFlag{
			Name:  "log-level",
			Usage: "Override the configured log level",
		},
		cli.StringSliceFlag{
			Name:  "etcd",
			Usage: "etcd endpoint used for service discovery, may be repeated",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:   "serve",
			Usage:  "Receive log lines and print them",
			Action: serveCommand,
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "listen, l",
					Usage: "Listen address",
				},
				cli.StringFlag{
					Name:  "advertise",
					Usage: "Address registered in etcd, the listen address by default",
				},
				cli.StringSliceFlag{
					Name:  "token",
					Usage: "Accepted bearer token, may be repeated; no token disables authentication",
				},
			},
		},
		{
			Name:      "send",
			Usage:     "Send lines given as arguments or read from stdin",
			ArgsUsage: "[line...]",
			Action:    sendCommand,
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "addr, a",
					Usage: "Static receiver address, etcd discovery is used when empty",
				},
				cli.StringFlag{
					Name:  "mode, m",
					Value: modeBlocking,
					Usage: "Call flavour: blocking, async, future or logger",
				},
				cli.DurationFlag{
					Name:  "timeout, t",
					Usage: "Deadline of each call",
				},
				cli.StringFlag{
					Name:  "codec",
					Usage: "Envelope codec: json or binary",
				},
				cli.StringFlag{
					Name:  "compression",
					Usage: "Payload compression: zstd or empty",
				},
				cli.StringFlag{
					Name:  "balancer",
					Usage: "round_robin, weighted_random or consistent_hash",
				},
				cli.StringFlag{
					Name:  "token",
					Usage: "Bearer token sent with each call",
				},
				cli.StringFlag{
					Name:  "path",
					Usage: "Directory of the shipped file",
				},
				cli.StringFlag{
					Name:  "filename, f",
					Usage: "Name of the shipped file, also the routing key",
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}

// loadConfig reads the configuration file and applies the global flag overrides.
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg := config.Default()
	if path := c.GlobalString("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return config.Config{}, err
		}
	}
	if level := c.GlobalString("log-level"); level != "" {
		cfg.LogLevel = level
	}
	if endpoints := c.GlobalStringSlice("etcd"); len(endpoints) > 0 {
		cfg.Etcd.Endpoints = endpoints
	}
	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// ignoreCancel treats interruption as a clean exit.
func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
