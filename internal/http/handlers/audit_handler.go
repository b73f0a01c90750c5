package handlers

import (
	"strconv"
	"time"

	"github.com/court-registry/backend/internal/http/dto"
	"github.com/court-registry/backend/internal/repositories"
	"github.com/court-registry/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type AuditHandler struct {
	audit *services.AuditService
	log   *zap.Logger
}

func NewAuditHandler(audit *services.AuditService, log *zap.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, log: log}
}

func auditFilterFromQuery(c *fiber.Ctx) (repositories.AuditFilter, error) {
	var f repositories.AuditFilter
	if v := c.Query("actor"); v != "" {
		f.ActorID = &v
	}
	if v := c.Query("event_type"); v != "" {
		f.EventType = &v
	}
	if v := c.Query("module"); v != "" {
		f.Module = &v
	}
	if v := c.Query("case_ref"); v != "" {
		f.CaseRef = &v
	}
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, err
		}
		f.From = &t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, err
		}
		f.To = &t
	}
	return f, nil
}

func (h *AuditHandler) List(c *fiber.Ctx) error {
	f, err := auditFilterFromQuery(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "from/to must be RFC3339 timestamps"})
	}
	page := c.QueryInt("page", 1)
	pageSize := c.QueryInt("page_size", 50)
	if pageSize > 500 {
		pageSize = 500
	}

	entries, total, err := h.audit.Query(c.Context(), f, page, pageSize)
	if err != nil {
		h.log.Error("audit query failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal server error"})
	}
	return c.JSON(dto.PaginatedResponse{OK: true, Data: entries, Total: total, Page: page, PageSize: pageSize})
}

func (h *AuditHandler) ExportCSV(c *fiber.Ctx) error {
	f, err := auditFilterFromQuery(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "from/to must be RFC3339 timestamps"})
	}

	data, err := h.audit.ExportCSV(c.Context(), f)
	if err != nil {
		h.log.Error("audit export failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal server error"})
	}

	c.Set(fiber.HeaderContentType, "text/csv")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="audit-log.csv"`)
	return c.Send(data)
}

// VerifyChain replays the hash chain over an optional [from, to] seq range
// and reports the first break.
func (h *AuditHandler) VerifyChain(c *fiber.Ctx) error {
	fromSeq, err := strconv.ParseInt(c.Query("from_seq", "0"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "from_seq must be an integer"})
	}
	toSeq, err := strconv.ParseInt(c.Query("to_seq", "0"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "to_seq must be an integer"})
	}

	report, err := h.audit.VerifyIntegrity(c.Context(), fromSeq, toSeq)
	if err != nil {
		h.log.Error("chain verification failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal server error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: report})
}
