// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/holomush/holoauth/internal/admission"
	"github.com/holomush/holoauth/internal/auth"
	authpg "github.com/holomush/holoauth/internal/auth/postgres"
	"github.com/holomush/holoauth/internal/httpapi"
	"github.com/holomush/holoauth/internal/store"
)

const testSecret = "integration-secret-0123456789abcdef"

// testEnv holds the resources shared by the end-to-end specs.
type testEnv struct {
	ctx       context.Context
	cancel    context.CancelFunc
	container testcontainers.Container
	pool      *pgxpool.Pool
	redis     *miniredis.Miniredis
	client    *redis.Client
	server    *httptest.Server
}

// setupTestEnv starts PostgreSQL, applies migrations and serves the API
// against real repositories and a Redis-backed admission limiter.
func setupTestEnv(limit int64) (*testEnv, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	env := &testEnv{ctx: ctx, cancel: cancel}

	container, err := postgres.Run(ctx,
		"postgres:18-alpine",
		postgres.WithDatabase("holoauth_test"),
		postgres.WithUsername("holoauth"),
		postgres.WithPassword("holoauth"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		cancel()
		return nil, err
	}
	env.container = container

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		env.cleanup()
		return nil, err
	}

	migrator, err := store.NewMigrator(connStr)
	if err != nil {
		env.cleanup()
		return nil, err
	}
	if err := migrator.Up(); err != nil {
		_ = migrator.Close()
		env.cleanup()
		return nil, err
	}
	_ = migrator.Close()

	env.pool, err = store.Connect(ctx, connStr, store.ConnectBackoff(5, 200*time.Millisecond))
	if err != nil {
		env.cleanup()
		return nil, err
	}

	env.redis, err = miniredis.Run()
	if err != nil {
		env.cleanup()
		return nil, err
	}
	env.client = redis.NewClient(&redis.Options{Addr: env.redis.Addr()})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	codec, err := auth.NewTokenCodec(testSecret, 15*time.Minute, 7*24*time.Hour)
	if err != nil {
		env.cleanup()
		return nil, err
	}
	svc, err := auth.NewAuthServiceWithLogger(
		authpg.NewUserRepository(env.pool),
		authpg.NewRefreshTokenRepository(env.pool),
		auth.NewArgon2idHasher(),
		codec,
		logger,
	)
	if err != nil {
		env.cleanup()
		return nil, err
	}

	limiter, err := admission.NewLimiter(admission.NewRedisCounter(env.client), admission.Config{
		RequestsPerWindow: limit,
		Window:            time.Minute,
		Strategy:          admission.StrategyTokenOrIPWithPath,
		ExemptPaths:       []string{httpapi.HealthPath},
	}, admission.WithLogger(logger), admission.WithRejectHandler(httpapi.RejectRateLimited))
	if err != nil {
		env.cleanup()
		return nil, err
	}

	env.server = httptest.NewServer(httpapi.NewRouter(httpapi.RouterConfig{
		Service: svc,
		Limiter: limiter,
		Logger:  logger,
	}))
	return env, nil
}

func (e *testEnv) cleanup() {
	if e.server != nil {
		e.server.Close()
	}
	if e.client != nil {
		_ = e.client.Close()
	}
	if e.redis != nil {
		e.redis.Close()
	}
	if e.pool != nil {
		e.pool.Close()
	}
	if e.container != nil {
		_ = e.container.Terminate(context.Background())
	}
	e.cancel()
}

// reset clears users, sessions and rate-limit counters between specs.
func (e *testEnv) reset() error {
	e.redis.FlushAll()
	_, err := e.pool.Exec(e.ctx, "TRUNCATE users CASCADE")
	return err
}

// call sends a JSON request and decodes the envelope.
func (e *testEnv) call(method, path, bearer string, body any) (int, http.Header, httpapi.Envelope, error) {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, httpapi.Envelope{}, err
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(e.ctx, method, e.server.URL+path, rdr)
	if err != nil {
		return 0, nil, httpapi.Envelope{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := e.server.Client().Do(req)
	if err != nil {
		return 0, nil, httpapi.Envelope{}, err
	}
	defer resp.Body.Close()

	var env httpapi.Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil && err != io.EOF {
		return resp.StatusCode, resp.Header, env, err
	}
	return resp.StatusCode, resp.Header, env, nil
}
