package handlers

import (
	"github.com/court-registry/backend/internal/http/dto"
	"github.com/court-registry/backend/internal/middleware"
	"github.com/court-registry/backend/internal/models"
	"github.com/court-registry/backend/internal/rbac"
	"github.com/court-registry/backend/internal/repositories"
	"github.com/court-registry/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// AdminHandler covers provisioning: user accounts and case assignments.
// In production deployments cases usually arrive from the case-management
// system; this surface exists for bootstrap and small installations.
type AdminHandler struct {
	users *repositories.UserRepo
	cases *repositories.CaseRepo
	audit *services.AuditService
	log   *zap.Logger
}

func NewAdminHandler(users *repositories.UserRepo, cases *repositories.CaseRepo, audit *services.AuditService, log *zap.Logger) *AdminHandler {
	return &AdminHandler{users: users, cases: cases, audit: audit, log: log}
}

func (h *AdminHandler) CreateUser(c *fiber.Ctx) error {
	var req dto.CreateUserRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}
	if req.Username == "" || len(req.Password) < 12 {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "username required and password must be at least 12 characters"})
	}
	if !rbac.IsValidRole(req.Role) {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "unknown role"})
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.log.Error("failed to hash password", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal server error"})
	}

	user := &repositories.User{Username: req.Username, PasswordHash: string(hash), Role: req.Role}
	if err := h.users.Create(c.Context(), user); err != nil {
		h.log.Error("failed to create user", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal server error"})
	}

	h.record(c, "user_created", map[string]any{"user_id": user.ID.String(), "role": user.Role})
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: user})
}

func (h *AdminHandler) CreateCase(c *fiber.Ctx) error {
	var req dto.CreateCaseRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}
	judgeID, err := uuid.Parse(req.AssignedJudgeID)
	if req.CaseRef == "" || req.JudgePseudonym == "" || err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "case_ref, assigned_judge_id and judge_pseudonym are required"})
	}

	kase := &models.Case{CaseRef: req.CaseRef, AssignedJudgeID: judgeID, JudgePseudonym: req.JudgePseudonym}
	if err := h.cases.Create(c.Context(), kase); err != nil {
		h.log.Error("failed to create case", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal server error"})
	}

	h.record(c, "case_created", map[string]any{"case_ref": kase.CaseRef})
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: kase})
}

func (h *AdminHandler) ReassignCase(c *fiber.Ctx) error {
	caseRef := c.Params("ref")
	var req dto.ReassignCaseRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}
	judgeID, err := uuid.Parse(req.AssignedJudgeID)
	if req.JudgePseudonym == "" || err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "assigned_judge_id and judge_pseudonym are required"})
	}

	if err := h.cases.Reassign(c.Context(), caseRef, judgeID, req.JudgePseudonym); err != nil {
		h.log.Error("failed to reassign case", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal server error"})
	}

	h.record(c, "case_reassigned", map[string]any{"case_ref": caseRef})
	return c.JSON(dto.SuccessResponse{OK: true})
}

func (h *AdminHandler) record(c *fiber.Ctx, eventType string, payload map[string]any) {
	actorID := middleware.GetUserID(c)
	if _, err := h.audit.Append(c.Context(), models.AuditEvent{
		ActorID:     &actorID,
		ActorRole:   middleware.GetRole(c),
		ActorAddr:   c.IP(),
		EventType:   eventType,
		Module:      "admin",
		Description: eventType,
		Severity:    models.SeverityInfo,
		Payload:     payload,
	}); err != nil {
		h.log.Warn("failed to record admin event", zap.Error(err))
	}
}
