// Package main runs the fee ledger HTTP service.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"

	"github.com/R3E-Network/token_ledger/internal/audit"
	"github.com/R3E-Network/token_ledger/internal/config"
	"github.com/R3E-Network/token_ledger/internal/events"
	"github.com/R3E-Network/token_ledger/internal/feeledger"
	"github.com/R3E-Network/token_ledger/internal/httpapi"
	"github.com/R3E-Network/token_ledger/internal/logging"
	"github.com/R3E-Network/token_ledger/internal/middleware"
	"github.com/R3E-Network/token_ledger/internal/storage"
	"github.com/R3E-Network/token_ledger/internal/storage/memory"
	"github.com/R3E-Network/token_ledger/internal/storage/migrations"
	"github.com/R3E-Network/token_ledger/internal/storage/postgres"
	"github.com/R3E-Network/token_ledger/internal/token"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	envFile := flag.String("env-file", ".env", "optional dotenv file")
	auditEvents := flag.Bool("audit-events", true, "log every committed ledger event")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		logging.Default("ledgerd").WithError(err).Fatal("Failed to load configuration")
	}

	logger := logging.New("ledgerd", cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, db, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open store")
	}
	if db != nil {
		defer db.Close()
	}

	deployer, feeAddress, pairs, err := cfg.Token.Genesis()
	if err != nil {
		logger.WithError(err).Fatal("Invalid token configuration")
	}

	opts := []feeledger.Option{
		feeledger.WithLogger(logger.WithField("component", "feeledger")),
		feeledger.WithEventBuffer(events.NewRingBuffer(cfg.Token.EventBuffer)),
	}
	if *auditEvents {
		opts = append(opts, feeledger.WithPublisher(events.NewLogPublisher(logger.WithField("component", "events"))))
	} else {
		opts = append(opts, feeledger.WithPublisher(events.NoOpPublisher{}))
	}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Fatal("Failed to reach Redis")
		}
		forwarder := events.NewRedisPublisher(rdb, cfg.Redis.Channel, cfg.Redis.QueueLength, logger.WithField("component", "redis"))
		defer forwarder.Close()
		opts = append(opts, feeledger.WithPublisher(forwarder))
		logger.WithField("channel", cfg.Redis.Channel).Info("Forwarding ledger events to Redis")
	}

	ledger, err := feeledger.New(ctx, feeledger.Config{
		Name:       cfg.Token.Name,
		Symbol:     cfg.Token.Symbol,
		Deployer:   deployer,
		FeeRateBps: uint16(cfg.Token.FeeRateBps),
		FeeAddress: feeAddress,
		Pairs:      pairs,
	}, store, opts...)
	if err != nil {
		logger.WithError(err).Fatal("Failed to start ledger")
	}

	if cfg.Audit.Schedule != "" {
		auditor, err := audit.New(ledger, cfg.Audit.Schedule, logger.WithField("component", "audit"))
		if err != nil {
			logger.WithError(err).Fatal("Failed to schedule ledger audit")
		}
		if err := auditor.RunOnce(); err != nil {
			logger.WithError(err).Fatal("Ledger failed its startup conservation check")
		}
		auditor.Start()
		defer auditor.Stop(context.Background())
	}

	publicKey, err := cfg.Auth.LoadPublicKey()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load auth public key")
	}

	var limiter *middleware.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, logger)
	}

	api := httpapi.New(ledger, httpapi.Options{
		Logger:         logger,
		Auth:           middleware.NewAuthMiddleware(publicKey, logger, nil),
		RateLimiter:    limiter,
		AllowedOrigins: cfg.Server.Origins(),
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		info := ledger.Info()
		logger.WithFields(map[string]interface{}{
			"addr":         server.Addr,
			"symbol":       info.Symbol,
			"owner":        token.FormatAccount(info.Owner),
			"fee_rate_bps": info.FeeRateBps,
			"paused":       info.Paused,
		}).Info("Ledger service listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case err := <-errCh:
		if err != nil {
			logger.WithError(err).Error("HTTP server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Graceful shutdown failed")
	}
}

// openStore returns the PostgreSQL store when a DSN is configured and the
// in-memory store otherwise. db is nil for the in-memory store.
func openStore(ctx context.Context, cfg config.DatabaseConfig, logger *logging.Logger) (storage.Store, *sql.DB, error) {
	if cfg.DSN == "" {
		logger.Warn("No database DSN configured; ledger state will not survive a restart")
		return memory.New(), nil, nil
	}

	db, err := postgres.Open(ctx, cfg.DSN, postgres.Options{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})
	if err != nil {
		return nil, nil, err
	}

	if cfg.Migrate {
		if err := migrations.Apply(ctx, db); err != nil {
			db.Close()
			return nil, nil, err
		}
		logger.Info("Database migrations applied")
	}
	return postgres.New(db), db, nil
}
