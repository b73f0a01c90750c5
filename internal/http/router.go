package http

import (
	"time"

	"github.com/court-registry/backend/internal/config"
	"github.com/court-registry/backend/internal/http/handlers"
	"github.com/court-registry/backend/internal/middleware"
	"github.com/court-registry/backend/internal/rbac"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	authHandler *handlers.AuthHandler,
	decisionHandler *handlers.DecisionHandler,
	auditHandler *handlers.AuditHandler,
	adminHandler *handlers.AdminHandler,
	wsHub *handlers.WSHub,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1")

	// Login is rate-limited harder than the rest of the API.
	api.Post("/auth/login", middleware.RateLimitMiddleware(rdb, 10, time.Minute), authHandler.Login)

	api.Use(middleware.RateLimitMiddleware(rdb, 100, time.Minute))

	// Protected endpoints
	protected := api.Group("", middleware.AuthMiddleware(cfg, log))

	// Decisions
	protected.Post("/decisions", middleware.RequirePermission(rbac.PermCreateDecision), decisionHandler.Create)
	protected.Get("/decisions", decisionHandler.List)
	protected.Get("/decisions/:id", decisionHandler.Get)
	protected.Put("/decisions/:id", middleware.RequirePermission(rbac.PermEditDecision), decisionHandler.Update)
	protected.Delete("/decisions/:id", middleware.RequirePermission(rbac.PermAnnulDecision), decisionHandler.Annul)
	protected.Post("/decisions/:id/prepare", middleware.RequirePermission(rbac.PermSignDecision), decisionHandler.Prepare)
	protected.Post("/decisions/:id/revert", middleware.RequirePermission(rbac.PermSignDecision), decisionHandler.Revert)
	protected.Post("/decisions/:id/sign", middleware.RequirePermission(rbac.PermSignDecision), decisionHandler.Sign)
	protected.Get("/decisions/:id/history", decisionHandler.History)
	protected.Get("/decisions/:id/artifact", decisionHandler.Artifact)
	protected.Get("/decisions/:id/verify", middleware.RequirePermission(rbac.PermVerifyChain), decisionHandler.Verify)

	// Audit log
	protected.Get("/audit", middleware.RequirePermission(rbac.PermViewAudit), auditHandler.List)
	protected.Get("/audit/export", middleware.RequirePermission(rbac.PermExportAudit), auditHandler.ExportCSV)
	protected.Get("/audit/verify", middleware.RequirePermission(rbac.PermVerifyChain), auditHandler.VerifyChain)

	// Provisioning (admin)
	admin := protected.Group("", middleware.RequirePermission(rbac.PermManageRegistry))
	admin.Post("/users", adminHandler.CreateUser)
	admin.Post("/cases", adminHandler.CreateCase)
	admin.Put("/cases/:ref/assignment", adminHandler.ReassignCase)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(wsHub.HandleWS))
}
