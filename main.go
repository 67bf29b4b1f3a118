package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/stroymon/stroymon-engine/pkg/config"
	"github.com/stroymon/stroymon-engine/pkg/database"
	"github.com/stroymon/stroymon-engine/pkg/logging"
	"github.com/stroymon/stroymon-engine/pkg/repositories"
	"github.com/stroymon/stroymon-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	feedDir := flag.String("dir", "", "feed directory (overrides config)")
	feedFile := flag.String("file", "", "process a single feed file instead of a directory")
	flag.Parse()

	cfg, err := config.Load(*configPath, Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting stroymon-engine",
		zap.String("version", cfg.Version),
		zap.String("env", cfg.Env),
		zap.String("database", cfg.Database.Database))

	ctx := context.Background()

	// Migrations run over database/sql with the pgx stdlib driver; the
	// engine itself uses the pgxpool connection.
	migrationDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		logger.Fatal("failed to open migration connection",
			zap.String("error", logging.SanitizeError(err)))
	}
	if err := database.RunMigrations(migrationDB, cfg.Database.MigrationsPath, logger); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}
	if err := migrationDB.Close(); err != nil {
		logger.Warn("failed to close migration connection", zap.Error(err))
	}

	db, err := database.Connect(ctx, &database.Config{
		DSN:      cfg.Database.ConnectionString(),
		MaxConns: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("failed to connect to database",
			zap.String("error", logging.SanitizeError(err)))
	}
	defer db.Close()

	projectRepo := repositories.NewProjectRepository(db)
	taxonomyRepo := repositories.NewTaxonomyRepository(db)
	stageRepo := repositories.NewStageRecordRepository(db)
	controlPointRepo := repositories.NewControlPointRepository(db)
	implStageRepo := repositories.NewImplementationStageRepository(db)
	changeLogRepo := repositories.NewChangeLogRepository(db)
	statusHistoryRepo := repositories.NewStatusHistoryRepository(db)

	changeLog := services.NewChangeLogService(changeLogRepo, logger)
	taxonomy := services.NewTaxonomyResolver(taxonomyRepo, logger)
	entities := services.NewEntityResolver(projectRepo, logger)
	upserts := services.NewUpsertEngine(projectRepo, stageRepo, controlPointRepo, statusHistoryRepo, changeLog, logger)
	hierarchy := services.NewHierarchySynchronizer(
		taxonomyRepo, controlPointRepo, implStageRepo, projectRepo,
		cfg.Hierarchy.MappedParents, cfg.Risk.ApproachingDeadline, logger)
	sweeper := services.NewRiskSweeper(
		projectRepo, stageRepo, controlPointRepo, changeLog,
		cfg.Risk.ApproachingDeadline, cfg.Risk.LateThreshold, logger)
	readiness := services.NewReadinessRecomputer(projectRepo, implStageRepo, logger)

	ingestor := services.NewIngestor(
		entities, taxonomy, upserts, hierarchy, changeLog,
		cfg.Ingest.Workers, cfg.Ingest.ErrorSamples, logger)

	var result *services.RunResult
	if *feedFile != "" {
		result, err = ingestor.ProcessFile(ctx, *feedFile)
	} else {
		dir := cfg.Ingest.Dir
		if *feedDir != "" {
			dir = *feedDir
		}
		result, err = ingestor.Run(ctx, dir)
	}
	if err != nil {
		logger.Fatal("ingest run failed", zap.Error(err))
	}

	// Scheduled job chain: deadline flags, then readiness, then the
	// hierarchy read-model, each a full idempotent recompute.
	if err := sweeper.Sweep(ctx); err != nil {
		logger.Error("risk sweep failed", zap.Error(err))
	}
	if err := readiness.Recompute(ctx); err != nil {
		logger.Error("readiness recompute failed", zap.Error(err))
	}
	if err := hierarchy.SyncAll(ctx); err != nil {
		logger.Error("hierarchy sync failed", zap.Error(err))
	}

	logger.Info("run finished", result.LogFields()...)
	if result.Failed > 0 {
		os.Exit(1)
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
