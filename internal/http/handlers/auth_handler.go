package handlers

import (
	"errors"

	"github.com/court-registry/backend/internal/auth"
	"github.com/court-registry/backend/internal/config"
	"github.com/court-registry/backend/internal/http/dto"
	"github.com/court-registry/backend/internal/models"
	"github.com/court-registry/backend/internal/repositories"
	"github.com/court-registry/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type AuthHandler struct {
	userRepo *repositories.UserRepo
	audit    *services.AuditService
	cfg      *config.Config
	log      *zap.Logger
}

func NewAuthHandler(userRepo *repositories.UserRepo, audit *services.AuditService, cfg *config.Config, log *zap.Logger) *AuthHandler {
	return &AuthHandler{userRepo: userRepo, audit: audit, cfg: cfg, log: log}
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}
	if req.Username == "" || req.Password == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "username and password are required"})
	}

	user, err := h.userRepo.GetByUsername(c.Context(), req.Username)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			h.recordLogin(c, req.Username, false)
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: "invalid credentials"})
		}
		h.log.Error("failed to load user", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal server error"})
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		h.recordLogin(c, req.Username, false)
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: "invalid credentials"})
	}

	token, err := auth.GenerateJWT(h.cfg.JWTSecret, user.ID, user.Role, h.cfg.JWTExpiration)
	if err != nil {
		h.log.Error("failed to generate jwt", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal server error"})
	}

	h.recordLogin(c, req.Username, true)
	return c.JSON(dto.AuthResponse{Token: token, User: user})
}

func (h *AuthHandler) recordLogin(c *fiber.Ctx, username string, ok bool) {
	eventType := "login_succeeded"
	severity := models.SeverityInfo
	if !ok {
		eventType = "login_failed"
		severity = models.SeverityWarning
	}
	if _, err := h.audit.Append(c.Context(), models.AuditEvent{
		ActorAddr:   c.IP(),
		EventType:   eventType,
		Module:      "auth",
		Description: "login attempt for " + username,
		Severity:    severity,
	}); err != nil {
		h.log.Warn("failed to record login event", zap.Error(err))
	}
}
