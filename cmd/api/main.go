package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/court-registry/backend/internal/config"
	"github.com/court-registry/backend/internal/db"
	"github.com/court-registry/backend/internal/events"
	apphttp "github.com/court-registry/backend/internal/http"
	"github.com/court-registry/backend/internal/http/handlers"
	"github.com/court-registry/backend/internal/models"
	"github.com/court-registry/backend/internal/rbac"
	"github.com/court-registry/backend/internal/repositories"
	"github.com/court-registry/backend/internal/services"
	"github.com/court-registry/backend/internal/signature"
	"github.com/court-registry/backend/internal/storage"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, cfg.StatementTimeout, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, pool, "migrations", log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repositories
	userRepo := repositories.NewUserRepo(pool)
	if err := bootstrapAdmin(ctx, cfg, userRepo, log); err != nil {
		log.Fatal("failed to bootstrap admin account", zap.Error(err))
	}
	caseRepo := repositories.NewCaseRepo(pool)
	decisionRepo := repositories.NewDecisionRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	// Signing and artifact storage
	signer := signature.NewProvider(signature.NewFileCertStore(cfg.CertificateDir), log)
	artifacts := storage.NewFileStore(cfg.ArtifactDir)

	// Services
	auditService := services.NewAuditService(auditRepo, publisher, cfg.ExportMaxRows, log)
	decisionService := services.NewDecisionService(decisionRepo, caseRepo, signer, artifacts, auditService, publisher, cfg.MinContentLength, log)
	integrityService := services.NewIntegrityService(decisionRepo, artifacts, auditService, publisher, log)

	// Handlers
	authHandler := handlers.NewAuthHandler(userRepo, auditService, cfg, log)
	decisionHandler := handlers.NewDecisionHandler(decisionService, integrityService, log)
	auditHandler := handlers.NewAuditHandler(auditService, log)
	adminHandler := handlers.NewAdminHandler(userRepo, caseRepo, auditService, log)
	wsHub := handlers.NewWSHub(cfg, subscriber, log)

	// Start WS hub
	wsHub.Start(ctx)

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, authHandler, decisionHandler, auditHandler, adminHandler, wsHub)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}

// bootstrapAdmin creates the initial administrator when ADMIN_USERNAME and
// ADMIN_PASSWORD are set and the account does not exist yet. Every other
// account is provisioned through the admin API.
func bootstrapAdmin(ctx context.Context, cfg *config.Config, userRepo *repositories.UserRepo, log *zap.Logger) error {
	if cfg.AdminUsername == "" || cfg.AdminPassword == "" {
		return nil
	}

	_, err := userRepo.GetByUsername(ctx, cfg.AdminUsername)
	if err == nil {
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	admin := &repositories.User{
		Username:     cfg.AdminUsername,
		PasswordHash: string(hash),
		Role:         rbac.RoleAdmin,
	}
	if err := userRepo.Create(ctx, admin); err != nil {
		return err
	}
	log.Info("bootstrap admin created", zap.String("username", cfg.AdminUsername))
	return nil
}
