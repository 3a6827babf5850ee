// Command relayd serves the streaming completion relay over HTTP.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/casualjim/relay/internal/broker"
	"github.com/casualjim/relay/internal/config"
	"github.com/casualjim/relay/internal/server"
	"github.com/casualjim/relay/pkg/natsx"
	"github.com/casualjim/relay/pkg/slogx"
	"github.com/casualjim/relay/provider/fallback"
	"github.com/casualjim/relay/provider/openai"
	"github.com/casualjim/relay/relay"
	"github.com/casualjim/relay/sessionlog"
	"github.com/fogfish/opts"
	_ "github.com/joho/godotenv/autoload"
	"github.com/openai/openai-go/option"
	"github.com/phsym/zeroslog"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 10 * time.Second

func setupLogging(level slog.Level) {
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Stamp}
	log := zerolog.New(output).With().Timestamp().Logger()
	slog.SetDefault(slog.New(
		zeroslog.NewHandler(log, &zeroslog.HandlerOptions{Level: level}),
	))
}

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)
	slog.Info("starting relayd", slog.Any("config", cfg))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("relayd stopped", slogx.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	brk, closeBroker, err := newBroker(cfg)
	if err != nil {
		return err
	}
	defer closeBroker()

	rl := relay.New(sessionlog.New(), relayOptions(cfg)...)
	if rl.FallbackMode() {
		slog.Warn("no upstream credential configured, answering in fallback mode")
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.New(rl, server.WithBroker(brk), server.WithCORSOrigin(cfg.CORSOrigin)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", slog.String("addr", cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func relayOptions(cfg config.Config) []opts.Option[relay.Relay] {
	options := []opts.Option[relay.Relay]{
		relay.WithCredential(cfg.OpenAIAPIKey),
		relay.WithPolicy(cfg.Policy()),
		relay.WithRequestDefaults(cfg.Request()),
		relay.WithFallback(fallback.New(fallback.Interval(cfg.FallbackInterval))),
	}
	if !cfg.HasCredential() {
		return options
	}

	providerOpts := []opts.Option[openai.Provider]{
		openai.Timeout(cfg.Timeout),
		openai.StreamTimeout(cfg.StreamTimeout),
		openai.Defaults(cfg.Request()),
	}
	if cfg.OpenAIBaseURL != "" {
		providerOpts = append(providerOpts, openai.RequestOptions(option.WithBaseURL(cfg.OpenAIBaseURL)))
	}
	return append(options, relay.WithProvider(openai.New(cfg.OpenAIAPIKey, providerOpts...)))
}

func newBroker(cfg config.Config) (broker.Broker, func(), error) {
	if cfg.NATSURL == "" {
		return broker.Local(), func() {}, nil
	}
	conn, err := natsx.Connect(cfg.NATSURL)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("publishing session deltas over nats", slog.String("url", conn.ConnectedUrl()))
	return broker.NATS(conn), func() {
		if err := conn.Drain(); err != nil {
			slog.Warn("failed to drain nats connection", slogx.Error(err))
		}
	}, nil
}
