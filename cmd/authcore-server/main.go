// Command authcore-server serves the authcore login, account and session
// API over HTTP. Durable state lives in Postgres, sessions and rate limit
// counters in Redis, and audit entries are optionally published to AMQP.
//
// Run:
//
//	authcore-server -config authcore.yaml
//
// Then:
//
//	curl -i -c jar.txt -X POST localhost:8080/v1/login \
//	  -H 'Content-Type: application/json' \
//	  -d '{"email":"nina@clinic.example","password":"..."}'
//
//	curl -i -b jar.txt localhost:8080/v1/me
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/MrEthical07/authcore"
	auditamqp "github.com/MrEthical07/authcore/audit/amqp"
	"github.com/MrEthical07/authcore/config"
	"github.com/MrEthical07/authcore/internal/telemetry"
	"github.com/MrEthical07/authcore/middleware"
	"github.com/MrEthical07/authcore/store/postgres"
	authredis "github.com/MrEthical07/authcore/store/redis"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("authcore-server exited", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: telemetry.ParseLevel(cfg.Server.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, shutdownTracing, err := telemetry.InitTracing(ctx, logger, telemetry.TracingOptions{
		ServiceName: "authcore",
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracing shutdown", "error", err)
		}
	}()

	db, err := postgres.Open(ctx, cfg.Postgres.DSN, logger)
	if err != nil {
		return err
	}
	defer db.Close()
	if cfg.Postgres.Migrate {
		if err := db.Migrate(ctx); err != nil {
			return err
		}
	}

	rdb, err := authredis.Open(ctx, authredis.Options{
		Addr:     cfg.Redis.Addr,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err != nil {
		return err
	}
	defer rdb.Close()
	sessions := authredis.NewSessions(rdb, cfg.Session.RedisPrefix)

	builder := authcore.New().
		WithConfig(cfg.Config).
		WithLogger(logger).
		WithTracerProvider(tp).
		WithPrincipalStore(db).
		WithSessionStore(sessions).
		WithMembershipStore(db).
		WithHistoryStore(db).
		WithCounterStore(authredis.NewCounters(rdb, cfg.Session.RedisPrefix)).
		WithAuditStore(db).
		WithCapabilities(cfg.Access.Capabilities).
		WithRoles(cfg.Access.Roles)

	if cfg.AMQP.URL != "" {
		sink, err := auditamqp.Dial(auditamqp.Config{
			URL:      cfg.AMQP.URL,
			Exchange: cfg.AMQP.Exchange,
			Queue:    cfg.AMQP.Queue,
		}, logger)
		if err != nil {
			return err
		}
		defer sink.Close()
		builder = builder.WithAuditSink(sink)
	}

	engine, err := builder.Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	srv := &server{
		engine: engine,
		opts:   middleware.Options{TrustForwardedFor: cfg.Server.TrustForwardedFor},
		logger: logger,
		health: map[string]pinger{"postgres": db, "redis": sessions},
	}
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.routes(cfg.Telemetry.MetricsPath),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(sctx)
}
