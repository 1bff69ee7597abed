package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/npezzotti/devpair/internal/api"
	"github.com/npezzotti/devpair/internal/config"
	"github.com/npezzotti/devpair/internal/database"
	"github.com/npezzotti/devpair/internal/executor"
	"github.com/npezzotti/devpair/internal/server"
	"github.com/npezzotti/devpair/internal/stats"
	"golang.org/x/sync/errgroup"
)

const defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

func main() {
	var (
		opts           config.Options
		allowedOrigins stringSliceFlag
	)

	flag.StringVar(&opts.ServerAddr, "addr", "localhost:8000", "server address")
	flag.StringVar(&opts.DatabaseDriver, "db-driver", config.DriverSQLite, "database driver (postgres or sqlite)")
	flag.StringVar(&opts.DatabaseDSN, "dsn", "data/devpair.db", "database connection string or sqlite file path")
	flag.StringVar(&opts.SigningKey, "signing-key", defaultSigningKey, "base64 encoded signing key")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.StringVar(&opts.RedisAddr, "redis-addr", "", "redis address for the session cache, empty disables caching")
	flag.DurationVar(&opts.CacheTTL, "cache-ttl", config.DefaultCacheTTL, "session cache TTL")
	flag.StringVar(&opts.ExecuteURL, "execute-url", config.DefaultExecuteURL, "base URL of the code execution service")
	flag.DurationVar(&opts.HeartbeatInterval, "heartbeat-interval", config.DefaultHeartbeatInterval, "interval between heartbeat events")
	flag.DurationVar(&opts.HeartbeatTimeout, "heartbeat-timeout", 0, "close connections silent for this long, 0 disables")
	flag.Float64Var(&opts.RateLimit, "rate-limit", config.DefaultRateLimit, "inbound messages per second per connection")
	flag.IntVar(&opts.RateBurst, "rate-burst", config.DefaultRateBurst, "inbound message burst per connection")
	flag.Parse()

	opts.AllowedOrigins = allowedOrigins

	logger := log.New(os.Stderr, "[devpair] ", log.LstdFlags)

	cfg, err := config.NewConfig(opts)
	if err != nil {
		logger.Fatal("config:", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			logger.Println("db close:", err)
		}
	}()

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux, logger)

	hub := server.NewHub(logger, statsUpdater, server.Options{
		HeartbeatInterval: cfg.HeartbeatInterval,
		HeartbeatTimeout:  cfg.HeartbeatTimeout,
		RateLimit:         cfg.RateLimit,
		RateBurst:         cfg.RateBurst,
	})

	app := api.NewDevPairApp(mux, logger, hub, repo, executor.NewClient(cfg.ExecuteURL), statsUpdater, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run()
		return nil
	})

	g.Go(func() error {
		if err := app.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Println("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return errors.Join(app.Shutdown(shutdownCtx), hub.Shutdown(shutdownCtx))
	})

	if err := g.Wait(); err != nil {
		logger.Println("server:", err)
	}

	logger.Println("shutdown complete")
}

// openRepository opens the configured SQL store and, when a redis address
// is set, fronts it with the session cache.
func openRepository(ctx context.Context, cfg *config.Config, logger *log.Logger) (database.Repository, error) {
	var (
		repo *database.SQLRepository
		err  error
	)

	switch cfg.DatabaseDriver {
	case config.DriverPostgres:
		repo, err = database.NewPgRepository(cfg.DatabaseDSN)
	default:
		repo, err = database.NewSQLiteRepository(cfg.DatabaseDSN)
	}
	if err != nil {
		return nil, err
	}

	if cfg.RedisAddr == "" {
		return repo, nil
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cache, err := database.NewRedisCache(pingCtx, cfg.RedisAddr)
	if err != nil {
		repo.Close()
		return nil, err
	}

	logger.Printf("caching sessions in redis at %s for %s", cfg.RedisAddr, cfg.CacheTTL)
	return database.NewCachedRepository(repo, cache, cfg.CacheTTL, logger), nil
}
