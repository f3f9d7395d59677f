package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/tawsellah/driverportal-sub000/internal/chargecode"
	"github.com/tawsellah/driverportal-sub000/internal/config"
	"github.com/tawsellah/driverportal-sub000/internal/db"
	"github.com/tawsellah/driverportal-sub000/internal/email"
	"github.com/tawsellah/driverportal-sub000/internal/logger"
	"github.com/tawsellah/driverportal-sub000/internal/server"
	"github.com/tawsellah/driverportal-sub000/internal/store/dynamo"
	"github.com/tawsellah/driverportal-sub000/internal/store/memstore"
	"github.com/tawsellah/driverportal-sub000/internal/user"
	"github.com/tawsellah/driverportal-sub000/internal/wallet"
)

// backend is the storage selected by STORE_BACKEND.
type backend struct {
	codes   chargecode.Store
	wallets wallet.Repository
	users   user.Repository
	ready   func(ctx context.Context) error
	close   func()
}

// @title Driver Portal API
// @version 1.0
// @description Driver wallet, charge-code redemption and ledger API.
// @host localhost:8080
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	logger.Init()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	logger.Configure(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	logger.Info("starting driver portal", "backend", cfg.StoreBackend, "port", cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openBackend(ctx, cfg)
	if err != nil {
		logger.Fatalf("Failed to open %s backend: %v", cfg.StoreBackend, err)
	}
	defer store.close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unavailable, failed-attempt throttling and receipts degrade", "addr", cfg.RedisAddr, "error", err)
	}

	emailService := email.New(rdb, email.SMTPConfig{
		From:     cfg.EmailFrom,
		FromName: cfg.EmailFromName,
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		User:     cfg.SMTPUser,
		Pass:     cfg.SMTPPass,
	})
	go emailService.Start(ctx)

	users := user.NewService(store.users, cfg.JWTSecret)
	codes := chargecode.NewService(store.codes, chargecode.NewGenerator(), chargecode.Options{
		BatchMax:   cfg.CodeBatchMax,
		Failures:   chargecode.NewRedisFailureTracker(rdb, cfg.RedeemMaxFailures, cfg.RedeemFailureWindow),
		Receipts:   emailService,
		Recipients: users,
	})

	srv := server.New(cfg, server.Services{
		Users:   users,
		Codes:   codes,
		Wallets: wallet.NewService(store.wallets),
		Email:   emailService,
		Ready:   store.ready,
	})

	serverErrChan := make(chan error, 1)
	go func() {
		logger.Infof("Server listening on :%s", cfg.Port)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Infof("Received signal: %v", sig)
	case err := <-serverErrChan:
		logger.Errorf("Server error: %v", err)
	}

	logger.Info("Shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Error during server shutdown: %v", err)
	}
	cancel()

	logger.Info("Server stopped")
}

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		logger.Warn("memory backend selected, data is lost on restart")
		mem := memstore.New(cfg.WalletCurrency)
		return &backend{codes: mem, wallets: mem, users: mem, close: func() {}}, nil

	case config.BackendDynamoDB:
		// Accounts stay in Postgres; codes and wallets live in DynamoDB.
		database, err := openPostgres(ctx, cfg)
		if err != nil {
			return nil, err
		}
		client, err := dynamo.NewClient(ctx, cfg.AWSRegion, cfg.DynamoDBEndpoint)
		if err != nil {
			database.Close()
			return nil, err
		}
		ddb := dynamo.New(client, dynamo.Tables{
			Codes:        cfg.DynamoDBCodesTable,
			Wallets:      cfg.DynamoDBWalletsTable,
			Transactions: cfg.DynamoDBTransactionsTable,
		}, cfg.WalletCurrency)
		return &backend{
			codes:   ddb,
			wallets: ddb,
			users:   user.NewRepository(database),
			ready:   database.PingContext,
			close:   func() { database.Close() },
		}, nil

	default:
		database, err := openPostgres(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &backend{
			codes:   chargecode.NewRepository(database),
			wallets: wallet.NewRepository(database),
			users:   user.NewRepository(database),
			ready:   database.PingContext,
			close:   func() { database.Close() },
		}, nil
	}
}

func openPostgres(ctx context.Context, cfg *config.Config) (*sqlx.DB, error) {
	database, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.RunMigrations(database, "migrations"); err != nil {
		database.Close()
		return nil, err
	}
	logger.Info("database connected and migrated")
	return database, nil
}
