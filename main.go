package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/stratumhq/stratum-engine/pkg/adapters/datasource"
	"github.com/stratumhq/stratum-engine/pkg/audit"
	"github.com/stratumhq/stratum-engine/pkg/config"
	"github.com/stratumhq/stratum-engine/pkg/crypto"
	"github.com/stratumhq/stratum-engine/pkg/database"
	"github.com/stratumhq/stratum-engine/pkg/handlers"
	"github.com/stratumhq/stratum-engine/pkg/logging"
	"github.com/stratumhq/stratum-engine/pkg/middleware"
	"github.com/stratumhq/stratum-engine/pkg/repositories"
	"github.com/stratumhq/stratum-engine/pkg/services"

	// Adapter registrations. Each init call adds a type descriptor to the
	// datasource registry.
	_ "github.com/stratumhq/stratum-engine/pkg/adapters/datasource/httpapi"
	_ "github.com/stratumhq/stratum-engine/pkg/adapters/datasource/mssql"
	_ "github.com/stratumhq/stratum-engine/pkg/adapters/datasource/natsqueue"
	_ "github.com/stratumhq/stratum-engine/pkg/adapters/datasource/postgres"
	_ "github.com/stratumhq/stratum-engine/pkg/adapters/datasource/redisstore"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck // stderr sync failure at exit is harmless

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("store", cfg.Store.Host),
		zap.Int("store_port", cfg.Store.Port))

	migrationDB, err := sql.Open("pgx", cfg.Store.URL())
	if err != nil {
		logger.Fatal("Failed to open migration connection", zap.Error(err))
	}
	if err := database.RunMigrations(migrationDB, cfg.MigrationsPath, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	migrationDB.Close() //nolint:errcheck // one-shot connection

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Store.URL(),
		MaxConnections: cfg.Store.MaxConns,
	})
	if err != nil {
		logger.Fatal("Failed to connect to metadata store", zap.Error(err))
	}
	defer db.Close()

	encryptor, err := crypto.NewCredentialEncryptor(cfg.CredentialsKey)
	if err != nil {
		logger.Fatal("Failed to initialize credential encryption", zap.Error(err))
	}

	manager := datasource.NewManager(datasource.ManagerConfig{
		MaxPoolsPerUser: cfg.Pool.MaxPoolsPerUser,
		Pool: datasource.PoolConfig{
			MinSize:        int(cfg.Pool.MinConns),
			MaxSize:        int(cfg.Pool.MaxConns),
			IdleTimeout:    time.Duration(cfg.Pool.IdleTimeoutMinutes) * time.Minute,
			MaxLifetime:    time.Duration(cfg.Pool.MaxLifetimeMinutes) * time.Minute,
			AcquireTimeout: time.Duration(cfg.Pool.AcquireTimeoutSeconds) * time.Second,
		},
	}, logger)
	defer manager.Close() //nolint:errcheck // drains pools at shutdown

	factory := datasource.NewFactory(manager, logger)

	dsRepo := repositories.NewDatasourceRepository()
	svcRepo := repositories.NewAPIServiceRepository()
	versionRepo := repositories.NewVersionRepository()
	selectionRepo := repositories.NewTableSelectionRepository()
	auditRepo := repositories.NewAuditRepository()

	trail := services.NewAuditTrailService(auditRepo, logger)
	go trail.RunRetentionSweep(ctx, db,
		time.Duration(cfg.Audit.RetentionDays)*24*time.Hour, 6*time.Hour)
	dsService := services.NewDatasourceService(dsRepo, encryptor, factory, logger)
	draftService := services.NewAPIServiceService(svcRepo, selectionRepo, dsRepo, trail, logger)
	lifecycleService := services.NewLifecycleService(svcRepo, versionRepo, dsRepo, trail, logger)
	execService := services.NewExecutionService(svcRepo, versionRepo, dsService, factory,
		audit.NewSecurityAuditor(logger), trail, logger)

	apiMux := http.NewServeMux()
	handlers.NewDatasourceHandler(dsService, logger).RegisterRoutes(apiMux)
	handlers.NewAPIServiceHandler(draftService, lifecycleService, execService, trail, logger).RegisterRoutes(apiMux)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, manager, logger).RegisterRoutes(mux)
	mux.Handle("/api/", middleware.TenantContext(db, logger)(apiMux))

	server := &http.Server{
		Addr:              cfg.BindAddr + ":" + cfg.Port,
		Handler:           middleware.RequestLogger(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting stratum-engine",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}
}
