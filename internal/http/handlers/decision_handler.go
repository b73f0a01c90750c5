package handlers

import (
	"context"
	"errors"

	"github.com/court-registry/backend/internal/http/dto"
	"github.com/court-registry/backend/internal/middleware"
	"github.com/court-registry/backend/internal/models"
	"github.com/court-registry/backend/internal/repositories"
	"github.com/court-registry/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type DecisionHandler struct {
	decisions *services.DecisionService
	integrity *services.IntegrityService
	log       *zap.Logger
}

func NewDecisionHandler(decisions *services.DecisionService, integrity *services.IntegrityService, log *zap.Logger) *DecisionHandler {
	return &DecisionHandler{decisions: decisions, integrity: integrity, log: log}
}

func actorFromCtx(c *fiber.Ctx) services.Actor {
	return services.Actor{
		ID:   middleware.GetUserID(c),
		Role: middleware.GetRole(c),
		Addr: c.IP(),
	}
}

// errStatus maps service errors onto HTTP statuses.
func errStatus(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, models.ErrNotAuthorized):
		return fiber.StatusForbidden
	case errors.Is(err, models.ErrInvalidState),
		errors.Is(err, models.ErrNotEditable),
		errors.Is(err, models.ErrAlreadySigned):
		return fiber.StatusConflict
	case errors.Is(err, models.ErrContentTooShort),
		errors.Is(err, models.ErrNoCertificate),
		errors.Is(err, models.ErrCertificateExpired):
		return fiber.StatusUnprocessableEntity
	default:
		return fiber.StatusInternalServerError
	}
}

func (h *DecisionHandler) fail(c *fiber.Ctx, err error) error {
	status := errStatus(err)
	msg := err.Error()
	if status == fiber.StatusInternalServerError {
		h.log.Error("decision handler error", zap.String("path", c.Path()), zap.Error(err))
		msg = "internal server error"
	}
	return c.Status(status).JSON(dto.ErrorResponse{Error: msg})
}

func parseID(c *fiber.Ctx) (uuid.UUID, error) {
	return uuid.Parse(c.Params("id"))
}

func (h *DecisionHandler) Create(c *fiber.Ctx) error {
	var req dto.CreateDecisionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}
	if req.CaseRef == "" || req.Kind == "" || req.Title == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "case_ref, kind and title are required"})
	}

	d, err := h.decisions.Create(c.Context(), actorFromCtx(c), req.CaseRef, req.Kind, req.Title, req.Content)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: d})
}

func (h *DecisionHandler) List(c *fiber.Ctx) error {
	f := repositories.DecisionFilter{
		Limit:  c.QueryInt("limit", 50),
		Offset: c.QueryInt("offset", 0),
	}
	if v := c.Query("case_ref"); v != "" {
		f.CaseRef = &v
	}
	if v := c.Query("state"); v != "" {
		f.State = &v
	}

	decisions, err := h.decisions.List(c.Context(), f)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: decisions})
}

func (h *DecisionHandler) Get(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid decision id"})
	}
	d, err := h.decisions.Get(c.Context(), actorFromCtx(c), id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: d})
}

func (h *DecisionHandler) Update(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid decision id"})
	}
	var req dto.UpdateDecisionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}
	if req.Title == nil && req.Content == nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "nothing to update"})
	}

	d, err := h.decisions.Update(c.Context(), actorFromCtx(c), id, req.Title, req.Content)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: d})
}

func (h *DecisionHandler) Prepare(c *fiber.Ctx) error {
	return h.transition(c, h.decisions.Prepare)
}

func (h *DecisionHandler) Revert(c *fiber.Ctx) error {
	return h.transition(c, h.decisions.Revert)
}

func (h *DecisionHandler) Sign(c *fiber.Ctx) error {
	return h.transition(c, h.decisions.Sign)
}

// Annul handles DELETE. The record is retained in the annulled state; no
// row is ever removed.
func (h *DecisionHandler) Annul(c *fiber.Ctx) error {
	return h.transition(c, h.decisions.Annul)
}

func (h *DecisionHandler) transition(c *fiber.Ctx, op func(ctx context.Context, actor services.Actor, id uuid.UUID) (*models.Decision, error)) error {
	id, err := parseID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid decision id"})
	}
	d, err := op(c.Context(), actorFromCtx(c), id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: d})
}

func (h *DecisionHandler) History(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid decision id"})
	}
	hist, err := h.decisions.History(c.Context(), actorFromCtx(c), id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: hist})
}

// Artifact serves the signed document, signature block included, exactly as
// stored on disk.
func (h *DecisionHandler) Artifact(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid decision id"})
	}
	data, err := h.decisions.GetArtifact(c.Context(), id)
	if err != nil {
		return h.fail(c, err)
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.Send(data)
}

// Verify recomputes the artifact hash of one signed decision on demand.
func (h *DecisionHandler) Verify(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid decision id"})
	}
	result, err := h.integrity.VerifyDecision(c.Context(), id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: result})
}
