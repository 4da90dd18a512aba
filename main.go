package main

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"roomhub/config"
	"roomhub/db"
	"roomhub/history"
	"roomhub/hub"
	"roomhub/server"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg)

	database, err := db.New(cfg.DBPath, cfg.MaxHistory)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("failed to initialize database")
	}

	store, closeStore, err := openHistory(cfg, database)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.HistoryBackend).Msg("failed to open history store")
	}

	manager := hub.NewManager(hub.Options{
		RequireAuth:       cfg.RequireAuth,
		ColorCount:        cfg.ColorCount,
		MaxHistory:        cfg.MaxHistory,
		MaxNickChanges:    cfg.MaxNickChanges,
		MinNickLength:     cfg.MinNickLength,
		MaxNickLength:     cfg.MaxNickLength,
		MaxRoomNameLength: cfg.MaxRoomNameLength,
		MaxMessageLength:  cfg.MaxMessageLength,
		SendBuffer:        cfg.SendBuffer,
		StoreTimeout:      cfg.HistoryTimeoutDuration(),
	}, database, store)

	srv := server.New(manager, store, &server.ServerConfig{
		Port:           cfg.Port,
		ReadTimeout:    cfg.ReadTimeoutDuration(),
		WriteTimeout:   cfg.WriteTimeoutDuration(),
		HistoryTimeout: cfg.HistoryTimeoutDuration(),
		MaxFrameSize:   cfg.MaxFrameSize,
		MaxHistory:     cfg.MaxHistory,
		MaxRoomName:    cfg.MaxRoomNameLength,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	ctx, stopHub := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	hubDone := make(chan struct{})
	g.Go(func() error {
		defer close(hubDone)
		return manager.Run(gctx)
	})
	g.Go(srv.Start)

	go func() {
		if err := g.Wait(); err != nil {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	ctl := &controller{
		stats:   srv.GetStats,
		hub:     manager,
		history: store,
		stop: func() {
			// hand over to the signal-driven shutdown below
			_ = syscall.Kill(os.Getpid(), syscall.SIGTERM)
		},
	}
	go func() {
		if err := ctl.listen(cfg.ControlSocket); err != nil {
			log.Error().Err(err).Str("path", cfg.ControlSocket).Msg("control socket unavailable")
		}
	}()

	log.Info().
		Int("port", cfg.Port).
		Str("history", cfg.HistoryBackend).
		Bool("require_auth", cfg.RequireAuth).
		Msg("roomhub started")

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeoutDuration(),
		map[string]gfshutdown.Operation{
			"http": func(ctx context.Context) error {
				return srv.Shutdown(ctx)
			},
			"hub": func(ctx context.Context) error {
				return ctl.shutdownHub(ctx, stopHub, hubDone)
			},
			"control-socket": func(ctx context.Context) error {
				return ctl.close()
			},
		},
	)

	exitCode := <-wait
	if err := closeStore(); err != nil {
		log.Error().Err(err).Msg("close history store")
	}
	if err := database.Close(); err != nil {
		log.Error().Err(err).Msg("close database")
	}
	log.Info().Int("code", exitCode).Msg("roomhub exited")
	os.Exit(exitCode)
}

func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if cfg.LogFormat == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
}

// openHistory picks the message store. The sqlite database doubles as the
// default history backend.
func openHistory(cfg *config.Config, database *db.DB) (hub.HistoryStore, func() error, error) {
	noop := func() error { return nil }

	switch cfg.HistoryBackend {
	case "memory":
		return history.NewMemory(cfg.MaxHistory), noop, nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
		}
		return history.NewRedis(client, "", cfg.MaxHistory), client.Close, nil
	default:
		return database, noop, nil
	}
}
