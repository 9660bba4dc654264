package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/unkn0wn-root/capcache"
	"github.com/unkn0wn-root/capcache/backend"
	"github.com/unkn0wn-root/capcache/backend/bigcache"
	"github.com/unkn0wn-root/capcache/backend/breaker"
	"github.com/unkn0wn-root/capcache/backend/memory"
	redisbackend "github.com/unkn0wn-root/capcache/backend/redis"
	"github.com/unkn0wn-root/capcache/backend/ristretto"
	"github.com/unkn0wn-root/capcache/capacity"
	"github.com/unkn0wn-root/capcache/codec"
	"github.com/unkn0wn-root/capcache/internal/config"
	"github.com/unkn0wn-root/capcache/internal/httpapi"
	zaplog "github.com/unkn0wn-root/capcache/log/zap"
)

func main() {
	path := flag.String("config", os.Getenv("CAPCACHE_CONFIG"), "path to YAML config")
	flag.Parse()

	if err := run(*path); err != nil {
		fmt.Fprintln(os.Stderr, "capcached:", err)
		os.Exit(1)
	}
}

func run(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var rdb goredis.UniversalClient
	if cfg.Backend == config.BackendRedis || cfg.Guard == config.GuardRedis {
		rdb = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			DB:       cfg.Redis.DB,
			Password: cfg.Redis.Password,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
		}
	}

	be, err := newBackend(cfg, rdb, log)
	if err != nil {
		return err
	}
	guard, err := newGuard(cfg, rdb)
	if err != nil {
		_ = be.Close(context.Background())
		return err
	}

	eng, err := capcache.New(capcache.Options{
		Backend:      be,
		Guard:        guard,
		Prefix:       cfg.Prefix,
		DefaultTTL:   cfg.DefaultTTL(),
		MaxTTL:       cfg.MaxTTL(),
		ReapInterval: cfg.ReapInterval,
		ReapBatch:    cfg.ReapBatch,
		Logger:       zaplog.New(log),
	})
	if err != nil {
		return err
	}

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           httpapi.New(eng, log).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening",
			zap.String("addr", cfg.Listen),
			zap.String("backend", cfg.Backend),
			zap.String("guard", cfg.Guard),
			zap.Int64("maxEntries", cfg.MaxEntries))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			_ = eng.Close(context.Background())
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return errors.Join(srv.Shutdown(shutdownCtx), eng.Close(shutdownCtx))
}

func newLogger(c config.LogConfig) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if c.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

func newBackend(cfg config.Config, rdb goredis.UniversalClient, log *zap.Logger) (backend.Backend, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return memory.New(memory.Config{Ceiling: cfg.MaxEntries}), nil
	case config.BackendRistretto:
		return ristretto.New(ristretto.Config{
			NumCounters: cfg.MaxEntries * 10,
			MaxCost:     cfg.MaxEntries,
			BufferItems: 64,
		})
	case config.BackendBigcache:
		c, err := codec.ForStore(cfg.Codec, cfg.CodecMaxDecodeBytes)
		if err != nil {
			return nil, err
		}
		// the engine clamps every TTL to cfg.MaxTTL(), so nothing outlives the window
		return bigcache.New(bigcache.Config{LifeWindow: cfg.MaxTTL(), Codec: c})
	case config.BackendRedis:
		c, err := codec.ForStore(cfg.Codec, cfg.CodecMaxDecodeBytes)
		if err != nil {
			return nil, err
		}
		r, err := redisbackend.New(redisbackend.Config{Client: rdb, Namespace: cfg.Redis.Namespace, Codec: c})
		if err != nil {
			return nil, err
		}
		if !cfg.Breaker.Enabled {
			return r, nil
		}
		return breaker.New(r, breaker.Config{
			Name:                "redis",
			ConsecutiveFailures: cfg.Breaker.ConsecutiveFailures,
			Timeout:             cfg.Breaker.Timeout,
			OnStateChange: func(name, from, to string) {
				log.Warn("breaker state change", zap.String("name", name), zap.String("from", from), zap.String("to", to))
			},
		}), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func newGuard(cfg config.Config, rdb goredis.UniversalClient) (capacity.Guard, error) {
	if cfg.Guard == config.GuardRedis {
		return capacity.NewRedis(capacity.RedisConfig{
			Client:    rdb,
			Namespace: cfg.Redis.Namespace,
			Max:       cfg.MaxEntries,
		})
	}
	return capacity.NewLocal(cfg.MaxEntries)
}
