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

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("worker_id", workerID()).Logger()

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

	q := queue.New(rdb, cfg.QueuePrefix, cfg.Visibility, cfg.MaxDeliveries, logger)

	worker := &supervisor.Worker{
		Renderer: &supervisor.Renderer{
			Exec:     exec,
			Jobs:     jobs,
			Progress: progress.NewRedisStore(rdb),
			Store:    storage.NewLocal(cfg.StorageDir),
			Prober:   probe.NewProber(cfg.FFprobePath),
			WorkDir:  cfg.WorkDir,
			Logger:   logger,
		},
		Queue:        q,
		Capacity:     cfg.Capacity,
		PollWait:     cfg.PollWait,
		DrainTimeout: cfg.DrainTimeout,
		Logger:       logger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go q.StartReaper(ctx, cfg.ReapInterval)

	if err := worker.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("worker exited with error")
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

func workerID() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return hostname + "_" + time.Now().Format("20060102150405")
}
