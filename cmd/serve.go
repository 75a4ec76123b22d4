package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rubiojr/pulse/pkg/api"
	"github.com/rubiojr/pulse/pkg/auth"
	"github.com/rubiojr/pulse/pkg/bus"
	"github.com/rubiojr/pulse/pkg/config"
	"github.com/rubiojr/pulse/pkg/counters"
	"github.com/rubiojr/pulse/pkg/log"
	"github.com/rubiojr/pulse/pkg/metrics"
	"github.com/rubiojr/pulse/pkg/storage"
	"github.com/rubiojr/pulse/pkg/stream"
	"github.com/rubiojr/pulse/pkg/tracing"
	"github.com/urfave/cli/v3"
)

const checkpointInterval = time.Hour

// ServeCommand creates the serve command
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the HTTP API and push server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen",
				Usage: "Address to listen on (overrides config listen)",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return serve(ctx, c.String("config"), c.String("listen"), c.Bool("debug"))
		},
	}
}

func serve(ctx context.Context, configPath, listen string, debugFlag bool) error {
	logger := log.ForService("serve")

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.Secret == "" {
		return errors.New("auth.secret is not set, run 'pulse init' or edit the config file")
	}
	if listen == "" {
		listen = cfg.Listen
	}
	log.SetGlobalDebug(debugFlag || cfg.Debug)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing.OTLPEndpoint, "pulse", cfg.Tracing.SampleRatio)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warnf("Failed to flush traces: %v", err)
		}
	}()

	store, err := storage.Open(cfg.DBPath())
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warnf("Failed to close database: %v", err)
		}
	}()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	counterStore, closeCounters, err := newCounterStore(ctx, cfg, store)
	if err != nil {
		return err
	}
	defer closeCounters()

	m := metrics.New()
	policy, err := bus.ParseOverflowPolicy(cfg.Stream.OverflowPolicy)
	if err != nil {
		return err
	}
	b := bus.New(
		bus.WithBufferSize(cfg.Stream.BufferSize),
		bus.WithOverflowPolicy(policy),
		bus.WithObserver(m),
	)
	defer b.Close()

	verifier := auth.NewJWTVerifier(cfg.Auth.Secret, cfg.Auth.Issuer)
	streams := stream.NewManager(b, verifier, stream.Options{
		Heartbeat:      cfg.Stream.HeartbeatInterval.Duration,
		WriteTimeout:   cfg.Stream.WriteTimeout.Duration,
		MaxConnections: cfg.Stream.MaxConnections,
		Metrics:        m,
	})
	apiServer := api.NewServer(api.Config{
		Store:    store,
		Counters: counterStore,
		Bus:      b,
		Verifier: verifier,
		Metrics:  m,
		MaxBatch: cfg.Ingest.MaxBatch,
	})

	mux := http.NewServeMux()
	apiServer.RegisterRoutes(mux)
	streams.RegisterRoutes(mux)
	mux.Handle("GET /metrics", m.Handler())

	handler := api.CorsMiddleware(tracing.Handler(mux, "pulse", "/events", "/events/ws"))

	// Streams set their own per-frame write deadlines, so the server-wide
	// WriteTimeout stays off.
	server := &http.Server{
		Addr:              listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	server.RegisterOnShutdown(streams.Close)

	if _, err := os.Stat(configPath); err == nil {
		go func() {
			err := config.Watch(ctx, configPath, func(newCfg *config.Config) {
				applyReload(verifier, newCfg, debugFlag)
			})
			if err != nil {
				logger.Warnf("Config hot reload disabled: %v", err)
			}
		}()
	}

	go checkpointLoop(ctx, store)

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Starting pulse on http://%s (counters: %s)", listen, cfg.Counters.Backend)
		logger.Infof("Endpoints:")
		logger.Infof("  GET  /events, /events/ws - live push stream")
		logger.Infof("  GET  /posts, /posts/{id}, /users/{id}")
		logger.Infof("  POST /posts, /posts/{id}/like, /posts/{id}/comments")
		logger.Infof("  POST /analytics/post-impressions, /analytics/profile-view")
		logger.Infof("  GET  /health, /metrics")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Infof("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// newCounterStore builds the configured counter backend and returns its
// cleanup function.
func newCounterStore(ctx context.Context, cfg *config.Config, store *storage.Store) (counters.Store, func(), error) {
	logger := log.ForService("serve")

	if cfg.Counters.Backend != "redis" {
		return counters.NewSQLStore(store.DB()), func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.Counters.RedisAddr,
		DB:   cfg.Counters.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Counters.RedisAddr, err)
	}
	logger.Infof("Using redis counters at %s (db %d)", cfg.Counters.RedisAddr, cfg.Counters.RedisDB)

	closeFn := func() {
		if err := rdb.Close(); err != nil {
			logger.Warnf("Failed to close redis client: %v", err)
		}
	}
	return counters.NewRedisStore(rdb, store, "pulse"), closeFn, nil
}

// applyReload applies the settings that can change without a restart.
func applyReload(verifier *auth.JWTVerifier, cfg *config.Config, debugFlag bool) {
	if cfg.Auth.Secret != "" {
		verifier.SetSecret(cfg.Auth.Secret)
	} else {
		log.ForService("serve").Warnf("Ignoring empty auth.secret in reloaded config")
	}
	log.SetGlobalDebug(debugFlag || cfg.Debug)
}

func checkpointLoop(ctx context.Context, store *storage.Store) {
	logger := log.ForService("serve")
	ticker := time.NewTicker(checkpointInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.WALCheckpoint(ctx); err != nil {
				logger.Warnf("WAL checkpoint failed: %v", err)
			} else {
				logger.Debugf("WAL checkpoint completed")
			}
		}
	}
}
