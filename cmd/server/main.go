// Copyright 2026 The Bastion Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bastion-admin/bastion/internal/audit"
	"github.com/bastion-admin/bastion/internal/authz"
	"github.com/bastion-admin/bastion/internal/config"
	"github.com/bastion-admin/bastion/internal/identity"
	"github.com/bastion-admin/bastion/internal/impersonation"
	"github.com/bastion-admin/bastion/internal/observability/logger"
	"github.com/bastion-admin/bastion/internal/observability/metrics"
	"github.com/bastion-admin/bastion/internal/observability/tracing"
	"github.com/bastion-admin/bastion/internal/session"
	"github.com/bastion-admin/bastion/internal/store/postgres"
	"github.com/bastion-admin/bastion/internal/token"
	transportHTTP "github.com/bastion-admin/bastion/internal/transport/http"
)

const usage = "usage: bastion [serve|migrate|sync-permissions|bootstrap]"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger.InitLogger(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: cfg.Observability.ServiceName,
		Bridge:      cfg.Observability.Enabled,
	})

	cmd := "serve"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	ctx := context.Background()
	switch cmd {
	case "serve":
		err = runServe(ctx, cfg)
	case "migrate":
		err = runMigrate(ctx, cfg)
	case "sync-permissions":
		err = runSyncPermissions(ctx, cfg)
	case "bootstrap":
		err = runBootstrap(ctx, cfg)
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		slog.Error("command failed", slog.String("command", cmd), logger.Error(err))
		os.Exit(1)
	}
}

// app holds the wired services shared by every command
type app struct {
	db        *postgres.DB
	meter     *metrics.Meter
	recorder  *audit.Recorder
	activity  *postgres.ActivityRepository
	evaluator *authz.Evaluator
	seeder    *authz.Seeder
	roles     *authz.RoleService
	identity  *identity.Service
	tokens    *token.Service
	bootstrap *identity.BootstrapService
}

func newApp(ctx context.Context, cfg *config.Config, meter *metrics.Meter) (*app, error) {
	db, err := postgres.New(ctx, postgres.Config{
		DSN:             cfg.Database.DSN(),
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("connected to database", logger.Component("postgres"))

	if meter == nil {
		meter, err = metrics.New(metrics.Config{ServiceName: cfg.Observability.ServiceName})
		if err != nil {
			db.Close()
			return nil, err
		}
	}

	roleRepo := postgres.NewRoleRepository(db)
	assignmentRepo := postgres.NewAssignmentRepository(db)
	catalogRepo := postgres.NewCatalogRepository(db)
	userRepo := postgres.NewUserRepository(db)
	tokenRepo := postgres.NewTokenRepository(db)
	activityRepo := postgres.NewActivityRepository(db)

	recorder := audit.NewRecorder(activityRepo, audit.NewSlogSink())
	evaluator := authz.NewEvaluator(assignmentRepo,
		authz.WithCacheTTL(cfg.Authz.CacheTTL),
		authz.WithMeter(meter.GetMeter()),
	)
	roleService := authz.NewRoleService(roleRepo, assignmentRepo, evaluator, recorder)

	hasher := identity.NewPasswordHasher(
		cfg.Security.Argon2Memory,
		cfg.Security.Argon2Iterations,
		cfg.Security.Argon2Parallelism,
		cfg.Security.Argon2SaltLength,
		cfg.Security.Argon2KeyLength,
	)
	identityService := identity.NewService(
		userRepo,
		hasher,
		recorder,
		cfg.Security.LockoutMaxAttempts,
		cfg.Security.LockoutDuration,
	)

	return &app{
		db:        db,
		meter:     meter,
		recorder:  recorder,
		activity:  activityRepo,
		evaluator: evaluator,
		seeder:    authz.NewSeeder(catalogRepo, roleRepo, evaluator),
		roles:     roleService,
		identity:  identityService,
		tokens:    token.NewService(tokenRepo, []byte(cfg.Token.Secret), cfg.Token.Issuer, recorder),
		bootstrap: identity.NewBootstrapService(identityService, assignmentRepo, roleService),
	}, nil
}

func (a *app) Close() {
	a.db.Close()
}

func runMigrate(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.db.Migrate(ctx); err != nil {
		return err
	}
	slog.Info("migrations applied")
	return nil
}

func runSyncPermissions(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.seeder.Seed(ctx); err != nil {
		return err
	}
	slog.Info("permission catalog synchronized")
	return nil
}

func runBootstrap(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.seeder.Seed(ctx); err != nil {
		return err
	}
	return a.runBootstrap(ctx, cfg.Bootstrap)
}

func (a *app) runBootstrap(ctx context.Context, b config.BootstrapConfig) error {
	created, err := a.bootstrap.Bootstrap(ctx, identity.BootstrapAdmin{
		Email:    b.AdminEmail,
		Name:     b.AdminName,
		Password: b.AdminPassword,
	})
	if err != nil {
		return err
	}
	if created {
		slog.Info("bootstrap super-admin assigned", slog.String("email", b.AdminEmail))
	}
	return nil
}

func runServe(ctx context.Context, cfg *config.Config) error {
	slog.Info("starting bastion", slog.String("version", cfg.Observability.ServiceVersion))

	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.Enabled,
		Endpoint:       cfg.Observability.Endpoint,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SamplingRate:   1.0,
	})
	if err != nil {
		slog.Error("failed to initialize tracer", logger.Error(err))
	} else {
		defer func() {
			if err := tracer.Shutdown(context.Background()); err != nil {
				slog.Error("tracer shutdown error", logger.Error(err))
			}
		}()
	}

	meter, err := metrics.New(metrics.Config{
		Enabled:     cfg.Observability.Enabled,
		ServiceName: cfg.Observability.ServiceName,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize meter: %w", err)
	}

	a, err := newApp(ctx, cfg, meter)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.db.Migrate(ctx); err != nil {
		return err
	}
	if err := a.seeder.Seed(ctx); err != nil {
		return err
	}
	// A misconfigured bootstrap admin must not keep the service down.
	if err := a.runBootstrap(ctx, cfg.Bootstrap); err != nil {
		slog.Error("bootstrap failed", logger.Error(err))
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	sessions := session.NewStore(redisClient, session.Options{
		CookieName:  cfg.Session.CookieName,
		Lifetime:    cfg.Session.Lifetime,
		IdleTimeout: cfg.Session.IdleTimeout,
		Secure:      cfg.Session.CookieSecure,
	})

	rateLimiter := transportHTTP.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	defer rateLimiter.Close()

	handler := transportHTTP.NewHandler(transportHTTP.Deps{
		Identity:      a.identity,
		Roles:         a.roles,
		Evaluator:     a.evaluator,
		Tokens:        a.tokens,
		Impersonation: impersonation.NewManager(a.identity, a.evaluator, a.recorder),
		Sessions:      sessions,
		Activity:      a.activity,
		AuditLogger:   a.recorder,
		Security:      logger.NewSecurityLogger(slog.Default()),
		Meter:         meter,
		HealthChecks: map[string]transportHTTP.HealthCheck{
			"postgres": a.db.Ping,
			"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		},
	})

	router := transportHTTP.NewRouter(handler, transportHTTP.RouterConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Production:     cfg.Server.Production,
		RequestTimeout: cfg.Server.WriteTimeout,
		LoginPerMinute: cfg.RateLimit.LoginPerMinute,
		RateLimiter:    rateLimiter,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", logger.Component("server"), slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		slog.Info("shutting down server", slog.String("signal", sig.String()))
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

func shutdownTimeout(cfg *config.Config) time.Duration {
	if cfg.Server.ShutdownTimeout > 0 {
		return cfg.Server.ShutdownTimeout
	}
	return 30 * time.Second
}
