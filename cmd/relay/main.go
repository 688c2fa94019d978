package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/orchestra-mcp/relay/config"
	"github.com/orchestra-mcp/relay/providers"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "path to config yaml (optional)")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	logger := newLogger(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	relay := providers.NewRelayPlugin(cfg, logger)
	if err := relay.Activate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("activate relay")
	}

	srv := &fasthttp.Server{
		Name:    relay.Name(),
		Handler: relay.FastHTTPHandler(relay.NewApp()),
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("listen", cfg.Listen).Str("channel", cfg.ChannelPath).Msg("listening")
		errCh <- srv.ListenAndServe(cfg.Listen)
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server stopped")
	}

	// Deactivate first so realtime connections close and the server can drain.
	if err := relay.Deactivate(); err != nil {
		logger.Error().Err(err).Msg("deactivate relay")
	}
	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := srv.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("server shutdown")
	}
}

func newLogger(cfg *config.RelayConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if cfg.LogFormat == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
