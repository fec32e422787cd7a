// streamclient connects to an alert stream and prints every inbound
// message to stdout, one JSON document per line.
// Usage: go run ./cmd/streamclient --config configs/streamclient.example.yaml
//
// Required environment variables (when referenced by the config):
//
//	TRACE_TOKEN - bearer token for the stream endpoint
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/trace-stream/internal/config"
	"github.com/rickgao/trace-stream/internal/connection"
	"github.com/rickgao/trace-stream/internal/inbox"
	"github.com/rickgao/trace-stream/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "streamclient: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("streamclient", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "configs/streamclient.example.yaml", "path to config file")
	send := fs.String("send", "", "JSON message to send after every (re)connect")
	verbose := fs.Bool("verbose", false, "pretty-print messages")
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *showVersion {
		fmt.Fprintln(stdout, version.String())
		return nil
	}

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		return err
	}

	logger, err := cfg.Log.NewLogger(stderr)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	logger.Info("starting streamclient", version.Attr())

	var greeting any
	if *send != "" {
		if err := json.Unmarshal([]byte(*send), &greeting); err != nil {
			return fmt.Errorf("parse -send: %w", err)
		}
	}

	box := inbox.New(1024)
	exhausted := make(chan error, 1)

	var client *connection.Client
	observer := connection.ObserverFuncs{
		OnStateChange: func(ev connection.StateEvent) {
			logger.Debug("state changed", "from", ev.From, "to", ev.To, "attempt", ev.Attempt)
			if ev.To == connection.StateConnected && greeting != nil {
				if err := client.Send(greeting); err != nil {
					logger.Warn("failed to send greeting", "error", err)
				}
			}
		},
		OnError: func(err error) {
			if errors.Is(err, connection.ErrReconnectExhausted) {
				select {
				case exhausted <- err:
				default:
				}
			}
		},
	}

	client, err = connection.NewClient(cfg.ConnectionConfig(),
		connection.WithObserver(observer),
		connection.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	client.Subscribe(box.Handler())
	if err := client.Connect(cfg.Target()); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	// Printer
	g.Go(func() error {
		for {
			msg, ok := box.Receive()
			if !ok {
				return nil
			}
			if err := printMessage(stdout, msg, *verbose); err != nil {
				logger.Warn("failed to print message", "error", err)
			}
		}
	})

	// Supervisor
	g.Go(func() error {
		var result error
		select {
		case <-gctx.Done():
			logger.Info("received shutdown signal")
		case result = <-exhausted:
		}

		client.Disconnect()
		box.Close()

		stats := client.Stats()
		logger.Info("shutdown complete",
			"opens", stats.Opens,
			"connects", stats.Connects,
			"frames_received", stats.FramesReceived,
			"decode_errors", stats.DecodeErrors,
			"messages_sent", stats.MessagesSent,
		)
		return result
	})

	return g.Wait()
}

func printMessage(w io.Writer, msg any, verbose bool) error {
	var data []byte
	var err error
	if verbose {
		data, err = json.MarshalIndent(msg, "", "  ")
	} else {
		data, err = json.Marshal(msg)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}
