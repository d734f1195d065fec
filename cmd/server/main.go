package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/clipforge/clipforge/internal/api"
	"github.com/clipforge/clipforge/internal/config"
	"github.com/clipforge/clipforge/internal/encoder"
	"github.com/clipforge/clipforge/internal/jobstore"
	"github.com/clipforge/clipforge/internal/probe"
	"github.com/clipforge/clipforge/internal/progress"
	"github.com/clipforge/clipforge/internal/queue"
	"github.com/clipforge/clipforge/internal/storage"
	"github.com/clipforge/clipforge/internal/supervisor"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "clipforge.yml", "path to config file")
	flag.Parse()

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	exec := encoder.NewExecutor(cfg.FFmpegPath)
	if err := exec.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("failed to validate ffmpeg")
	}

	rdb, err := connectRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer rdb.Close()

	jobs, err := jobstore.Open(cfg.DBPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open job store")
	}
	defer jobs.Close()

	store := progress.NewRedisStore(rdb)
	renderer := &supervisor.Renderer{
		Exec:     exec,
		Jobs:     jobs,
		Progress: store,
		Store:    storage.NewLocal(cfg.StorageDir),
		Prober:   probe.NewProber(cfg.FFprobePath),
		WorkDir:  cfg.WorkDir,
		Logger:   logger,
	}

	server := api.NewServer(api.ServerConfig{
		Addr:     cfg.ListenAddr,
		Renderer: renderer,
		Jobs:     jobs,
		Records:  jobs,
		Queue:    queue.New(rdb, cfg.QueuePrefix, cfg.Visibility, cfg.MaxDeliveries, logger),
		Progress: store,
		Logger:   logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Fatal().Err(err).Msg("server failed")
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown failed")
		}
	}
}

func connectRedis(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return rdb, nil
}
