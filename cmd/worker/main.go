package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/court-registry/backend/internal/config"
	"github.com/court-registry/backend/internal/db"
	"github.com/court-registry/backend/internal/events"
	"github.com/court-registry/backend/internal/repositories"
	"github.com/court-registry/backend/internal/services"
	"github.com/court-registry/backend/internal/storage"
	"go.uber.org/zap"
)

// The worker runs the periodic integrity sweeps: replaying the audit hash
// chain and re-hashing signed artifacts.
func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, cfg.StatementTimeout, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	auditRepo := repositories.NewAuditRepo(pool)
	decisionRepo := repositories.NewDecisionRepo(pool)

	publisher := events.NewRedisPublisher(rdb, log)
	artifacts := storage.NewFileStore(cfg.ArtifactDir)

	auditService := services.NewAuditService(auditRepo, publisher, cfg.ExportMaxRows, log)
	integrityService := services.NewIntegrityService(decisionRepo, artifacts, auditService, publisher, log)

	log.Info("worker started",
		zap.Duration("chain_verify_interval", cfg.ChainVerifyInterval),
		zap.Duration("artifact_verify_interval", cfg.ArtifactVerifyInterval),
	)

	chainTicker := time.NewTicker(cfg.ChainVerifyInterval)
	artifactTicker := time.NewTicker(cfg.ArtifactVerifyInterval)
	defer chainTicker.Stop()
	defer artifactTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-chainTicker.C:
			runChainVerification(ctx, auditService, log)
		case <-artifactTicker.C:
			runArtifactSweep(ctx, integrityService, cfg.ArtifactVerifyBatch, log)
		case <-sigCh:
			log.Info("shutting down worker")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}

func runChainVerification(ctx context.Context, auditService *services.AuditService, log *zap.Logger) {
	start := time.Now()
	report, err := auditService.VerifyIntegrity(ctx, 0, 0)
	if err != nil {
		log.Error("chain verification failed", zap.Error(err))
		return
	}
	if !report.OK {
		log.Error("audit chain is broken",
			zap.Int("total", report.Total),
			zap.Int("valid", report.Valid),
			zap.Int64p("first_broken_seq", report.FirstBrokenSeq),
		)
		return
	}
	log.Info("audit chain verified",
		zap.Int("entries", report.Total),
		zap.Duration("took", time.Since(start)),
	)
}

func runArtifactSweep(ctx context.Context, integrityService *services.IntegrityService, batch int, log *zap.Logger) {
	start := time.Now()
	checked, failed, err := integrityService.SweepArtifacts(ctx, batch)
	if err != nil {
		log.Error("artifact sweep failed", zap.Error(err))
		return
	}
	log.Info("artifact sweep finished",
		zap.Int("checked", checked),
		zap.Int("failed", failed),
		zap.Duration("took", time.Since(start)),
	)
}
