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

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"

	"treasury-service/internal/authz"
	"treasury-service/internal/config"
	"treasury-service/internal/database"
	"treasury-service/internal/handlers"
	"treasury-service/internal/logger"
	"treasury-service/internal/models"
	"treasury-service/internal/repositories"
	"treasury-service/internal/repositories/memory"
	"treasury-service/internal/services"
)

func main() {
	migrateCmd := flag.String("migrate", "", "Migration command (up/down/version)")
	steps := flag.Int("steps", 0, "Number of migration steps (0 means all)")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if *migrateCmd != "" {
		handleMigration(cfg, log, *migrateCmd, *steps)
		return
	}

	store, closeStore := openStore(cfg, log)
	defer closeStore()

	resolver := authz.NewResolver(authz.DefaultCatalog())
	if cfg.Permissions.File != "" {
		if cfg.Permissions.Watch {
			err = authz.Watch(cfg.Permissions.File, resolver, log)
		} else {
			var cat *authz.Catalog
			if cat, err = authz.LoadCatalog(cfg.Permissions.File); err == nil {
				err = resolver.Reload(cat)
			}
		}
		if err != nil {
			log.Warn("using built-in permission catalog", zap.String("file", cfg.Permissions.File), zap.Error(err))
		}
	}

	separation, err := services.ParseSeparationPolicy(cfg.Workflow.SeparationOfDuties)
	if err != nil {
		log.Fatal("invalid separation of duties policy", zap.Error(err))
	}

	ledger := services.NewLedgerService(store, resolver, log)
	svc := handlers.Services{
		Ledger:    ledger,
		Ingestion: services.NewIngestionService(store, resolver, ledger, log),
		Reports: services.NewReportService(store, resolver, ledger, services.ReportPolicy{
			NationalFundID:       cfg.Workflow.NationalFundID,
			ContributorTolerance: cfg.Workflow.ContributorTolerance,
			DepositTolerance:     cfg.Workflow.DepositTolerance,
		}, log),
		FundEvents: services.NewFundEventService(store, resolver, ledger, separation, log),
		Churches:   services.NewChurchService(store, resolver, log),
	}

	router := handlers.SetupRouter(svc, handlers.NewAuthenticator(cfg.JWTSecret, log), log)

	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info("server is running", zap.String("address", cfg.ServerAddress), zap.String("storage", cfg.StorageDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("server shutdown failed", zap.Error(err))
	}
	log.Info("server exited gracefully")
}

// openStore returns the configured store and a function releasing it.
func openStore(cfg *config.Config, log *zap.Logger) (repositories.Store, func()) {
	if cfg.StorageDriver == config.StorageMemory {
		store := memory.New()
		if err := seedNationalFund(store); err != nil {
			log.Fatal("failed to seed national fund", zap.Error(err))
		}
		log.Warn("using in-memory storage, data is lost on exit")
		return store, func() {}
	}

	db, err := database.NewConnection(cfg, log)
	if err != nil {
		log.Fatal("error connecting to database", zap.Error(err))
	}
	return repositories.NewStore(db), func() { db.Close() }
}

// seedNationalFund mirrors the row inserted by the first migration.
func seedNationalFund(store repositories.Store) error {
	return store.WithinTx(context.Background(), func(tx repositories.Store) error {
		return tx.Funds().Insert(context.Background(), &models.Fund{
			Name:      "National Fund",
			Type:      models.FundTypeNational,
			Active:    true,
			CreatedBy: "system",
		})
	})
}

func handleMigration(cfg *config.Config, log *zap.Logger, command string, steps int) {
	db, err := database.NewConnection(cfg, log)
	if err != nil {
		log.Fatal("failed to ensure database exists", zap.Error(err))
	}
	db.Close()

	m, err := migrate.New(
		fmt.Sprintf("file://%s", cfg.Migration.Dir),
		cfg.GetMigrationDBURL(),
	)
	if err != nil {
		log.Fatal("failed to initialize migrate", zap.Error(err))
	}
	defer m.Close()

	switch command {
	case "up":
		if steps > 0 {
			err = m.Steps(steps)
		} else {
			err = m.Up()
		}
	case "down":
		if steps > 0 {
			err = m.Steps(-steps)
		} else {
			err = m.Down()
		}
	case "version":
		version, dirty, verErr := m.Version()
		if verErr != nil {
			if errors.Is(verErr, migrate.ErrNilVersion) {
				log.Info("no migrations have been applied yet")
				return
			}
			log.Fatal("failed to get version", zap.Error(verErr))
		}
		fmt.Printf("Current migration version: %d (dirty: %v)\n", version, dirty)
		return
	default:
		log.Fatal("invalid migration command", zap.String("command", command))
	}

	if err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info("no migration changes to apply")
			return
		}
		log.Fatal("migration failed", zap.Error(err))
	}

	log.Info("migration completed successfully")
}
