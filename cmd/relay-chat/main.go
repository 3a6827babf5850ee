// Command relay-chat is a terminal client for relayd.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/casualjim/relay/pkg/slogx"
	"github.com/casualjim/relay/pkg/stdx"
	"github.com/charmbracelet/glamour"
	_ "github.com/joho/godotenv/autoload"
	"github.com/phsym/zeroslog"
	"github.com/rs/zerolog"
)

func init() {
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Stamp}
	log := zerolog.New(output).With().Timestamp().Logger()
	slog.SetDefault(slog.New(
		zeroslog.NewHandler(log, &zeroslog.HandlerOptions{Level: slog.LevelWarn}),
	))
}

func main() {
	addr := flag.String("addr", envOr("RELAY_URL", "http://localhost:8787"), "relayd base url")
	sender := flag.String("sender", "User", "name attached to your messages")
	flag.Parse()

	glam := stdx.Must1(glamour.NewTermRenderer(glamour.WithAutoStyle()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	c := &chat{
		client:   &http.Client{},
		endpoint: *addr + "/stream",
		sender:   *sender,
		out:      os.Stdout,
		render:   glam.Render,
	}
	if err := c.Run(ctx, os.Stdin); err != nil {
		slog.Error("chat ended", slogx.Error(err))
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}
