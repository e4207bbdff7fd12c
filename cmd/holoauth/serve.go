// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	"github.com/spf13/cobra"

	"github.com/holomush/holoauth/internal/admission"
	"github.com/holomush/holoauth/internal/auth"
	"github.com/holomush/holoauth/internal/auth/postgres"
	"github.com/holomush/holoauth/internal/config"
	"github.com/holomush/holoauth/internal/httpapi"
	"github.com/holomush/holoauth/internal/logging"
	"github.com/holomush/holoauth/internal/observability"
	"github.com/holomush/holoauth/internal/store"
)

const (
	serviceName = "holoauth"
	// readinessTimeout bounds the database ping behind /healthz/readiness.
	readinessTimeout = 2 * time.Second
)

// Database is the part of *pgxpool.Pool the service uses.
type Database interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// RedisClient is the part of *redis.Client the admission limiter uses.
type RedisClient interface {
	redis.Cmdable
	Close() error
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values use their default implementations.
type ServeDeps struct {
	// DatabaseFactory connects to PostgreSQL.
	// Default: store.Connect
	DatabaseFactory func(ctx context.Context, url string, backoff retry.Backoff) (Database, error)

	// RedisFactory connects to the rate-limit counter store.
	// Default: admission.NewRedisClient
	RedisFactory func(ctx context.Context, cfg admission.RedisConfig, backoff retry.Backoff) (RedisClient, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readiness observability.ReadinessChecker) ObservabilityServer

	// ListenerFactory binds the API listener.
	// Default: net.Listen
	ListenerFactory func(network, address string) (net.Listener, error)

	// LogWriter receives structured logs.
	// Default: os.Stderr
	LogWriter io.Writer

	// Ready is called with the bound API address once the server accepts requests.
	Ready func(addr string)
}

func (d *ServeDeps) withDefaults() *ServeDeps {
	out := ServeDeps{}
	if d != nil {
		out = *d
	}
	if out.DatabaseFactory == nil {
		out.DatabaseFactory = func(ctx context.Context, url string, backoff retry.Backoff) (Database, error) {
			return store.Connect(ctx, url, backoff)
		}
	}
	if out.RedisFactory == nil {
		out.RedisFactory = func(ctx context.Context, cfg admission.RedisConfig, backoff retry.Backoff) (RedisClient, error) {
			return admission.NewRedisClient(ctx, cfg, backoff)
		}
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, readiness observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, readiness)
		}
	}
	if out.ListenerFactory == nil {
		out.ListenerFactory = net.Listen
	}
	if out.LogWriter == nil {
		out.LogWriter = os.Stderr
	}
	return &out
}

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return newServeCmdWithDeps(nil)
}

func newServeCmdWithDeps(deps *ServeDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the authentication API",
		Long: `Run the HTTP authentication API together with the metrics and
health server. Stops gracefully on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configOptions(cmd))
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServeWithDeps(ctx, cfg, cmd, deps)
		},
	}
}

// runServeWithDeps runs the service until ctx is cancelled or a server fails.
// cfg must already be validated.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	deps = deps.withDefaults()

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger := logging.SetDefault(serviceName, version, cfg.Log.Format, level, deps.LogWriter)
	logger.Info("starting holoauth",
		"addr", cfg.HTTP.Addr,
		"metrics_addr", cfg.Metrics.Addr,
		"ratelimit_enabled", cfg.RateLimit.Enabled,
	)

	db, err := deps.DatabaseFactory(ctx, cfg.Database.URL, cfg.RetryBackoff())
	if err != nil {
		return oops.With("operation", "connect to database").Wrap(err)
	}
	defer db.Close()

	codec, err := auth.NewTokenCodec(cfg.JWT.Secret, cfg.AccessTTL(), cfg.RefreshTTL())
	if err != nil {
		return err
	}
	svc, err := auth.NewAuthServiceWithLogger(
		postgres.NewUserRepository(db),
		postgres.NewRefreshTokenRepository(db),
		auth.NewArgon2idHasher(),
		codec,
		logger,
	)
	if err != nil {
		return oops.Code("AUTH_SERVICE_INIT_FAILED").Wrap(err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTimeout := cfg.HTTP.ShutdownTimeout.Std()

	var metrics *observability.Metrics
	var obsServer ObservabilityServer
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, store.ReadinessCheck(db, readinessTimeout))
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").With("addr", cfg.Metrics.Addr).Wrap(err)
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer stopCancel()
			if err := obsServer.Stop(stopCtx); err != nil {
				logger.Warn("error stopping observability server", "error", err)
			}
		}()
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		metrics = obsServer.Metrics()
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	var limiter *admission.Limiter
	if cfg.RateLimit.Enabled {
		var counter admission.Counter
		if cfg.Redis.Host == "" {
			mem := admission.NewMemoryCounter(admission.DefaultCleanupInterval)
			defer mem.Close()
			counter = mem
			logger.Warn("redis.host is empty, rate-limit windows are kept per process")
		} else {
			client, err := deps.RedisFactory(ctx, cfg.RedisOptions(), cfg.RetryBackoff())
			if err != nil {
				return oops.With("operation", "connect to redis").Wrap(err)
			}
			defer func() {
				if err := client.Close(); err != nil {
					logger.Debug("error closing redis client", "error", err)
				}
			}()
			counter = admission.NewRedisCounter(client)
		}

		limiter, err = admission.NewLimiter(counter, cfg.Admission(),
			admission.WithMetrics(metrics),
			admission.WithLogger(logger),
			admission.WithRejectHandler(httpapi.RejectRateLimited),
		)
		if err != nil {
			return err
		}
		logger.Info("admission limiter enabled",
			"strategy", string(limiter.Strategy()),
			"requests_per_window", cfg.RateLimit.RequestsPerWindow,
			"window", cfg.RateLimit.Window.Std().String(),
		)
	}

	listener, err := deps.ListenerFactory("tcp", cfg.HTTP.Addr)
	if err != nil {
		return oops.Code("LISTEN_FAILED").With("addr", cfg.HTTP.Addr).Wrap(err)
	}

	server := &http.Server{
		Handler: httpapi.NewRouter(httpapi.RouterConfig{
			Service: svc,
			Limiter: limiter,
			Metrics: metrics,
			Logger:  logger,
		}),
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout.Std(),
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	errChan := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	addr := listener.Addr().String()
	logger.Info("holoauth ready", "addr", addr)
	cmd.Println("holoauth listening on", addr)
	if deps.Ready != nil {
		deps.Ready(addr)
	}

	var serveErr error
	select {
	case err := <-errChan:
		serveErr = oops.Code("HTTP_SERVE_FAILED").Wrap(err)
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error shutting down http server", "error", err)
	}

	logger.Info("shutdown complete")
	return serveErr
}

// monitorServerErrors cancels ctx when a background server fails. It exits
// when an error arrives, the channel closes, or ctx is done.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
