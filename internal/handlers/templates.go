package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/Ananth-NQI/signdesk-backend/internal/apperr"
	"github.com/Ananth-NQI/signdesk-backend/internal/middleware"
	"github.com/Ananth-NQI/signdesk-backend/internal/services"
)

// TemplateHandler handles signing template requests
type TemplateHandler struct {
	templates *services.TemplateService
}

func NewTemplateHandler(templates *services.TemplateService) *TemplateHandler {
	return &TemplateHandler{templates: templates}
}

// CreateTemplate handles POST /api/signing/templates
func (h *TemplateHandler) CreateTemplate(c *fiber.Ctx) error {
	var req services.CreateTemplateRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.InvalidArgument("invalid request body")
	}

	template, err := h.templates.CreateTemplate(c.UserContext(), middleware.CallerFrom(c), req)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"templateId":         template.ID,
		"providerTemplateId": template.ProviderTemplateID,
		"template":           template,
	})
}
