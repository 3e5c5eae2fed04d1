package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/chatrelay/internal/chat"
	"github.com/Tyrowin/chatrelay/internal/logging"
	"github.com/Tyrowin/chatrelay/internal/mirror"
	"github.com/Tyrowin/chatrelay/internal/server"
)

func main() {
	cfg, err := server.LoadConfig(os.Getenv("CHATRELAY_CONFIG"))
	if err != nil {
		l := logging.L()
		l.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(cfg.Log)
	logger := logging.L()

	var opts []chat.RouterOption
	mirrorSink := startMirror(cfg.Mirror, logger)
	if mirrorSink != nil {
		opts = append(opts, chat.WithObserver(mirrorSink))
	}

	relay := server.NewRelay(cfg.Relay, logger, opts...)
	go relay.Run()

	handlers := server.NewHandlers(relay, *cfg, logger)
	httpServer := server.CreateServer(cfg.Server, server.SetupRoutes(handlers))

	go func() {
		if err := server.StartServer(httpServer, logger); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.Shutdown.Timeout,
		map[string]gfshutdown.Operation{
			"http-server": func(ctx context.Context) error {
				return server.ShutdownServer(ctx, httpServer, logger)
			},
			"relay": func(ctx context.Context) error {
				if err := relay.Shutdown(remaining(ctx, cfg.Shutdown.Timeout)); err != nil {
					return err
				}
				if mirrorSink != nil {
					return mirrorSink.Close(ctx)
				}
				return nil
			},
		},
	)

	exitCode := <-wait
	logger.Info().Int("exit_code", exitCode).Msg("chat relay exited")
	os.Exit(exitCode)
}

// startMirror connects the optional Redis mirror. A broker that cannot be
// reached is logged and the relay runs without it.
func startMirror(cfg mirror.Config, logger zerolog.Logger) *mirror.Mirror {
	if !cfg.Enabled() {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pub, err := mirror.NewRedisPublisher(ctx, cfg)
	if err != nil {
		logger.Warn().Err(err).Msg("event mirror disabled")
		return nil
	}

	m := mirror.New(pub, cfg, logger)
	m.Start()
	logger.Info().Str("redis_address", cfg.RedisAddress).Str("channel", cfg.Channel).Msg("event mirror enabled")
	return m
}

func remaining(ctx context.Context, fallback time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		return time.Until(deadline)
	}
	return fallback
}
