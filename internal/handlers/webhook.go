package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/Ananth-NQI/signdesk-backend/internal/services"
)

// WebhookHandler receives signing provider events.
type WebhookHandler struct {
	webhooks *services.WebhookService
	header   string
}

// NewWebhookHandler creates a handler that reads the signature from header.
func NewWebhookHandler(webhooks *services.WebhookService, header string) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks, header: header}
}

// HandleEvent handles POST /webhook/signing. The signature is checked over the
// raw body exactly as received.
func (h *WebhookHandler) HandleEvent(c *fiber.Ctx) error {
	// fasthttp reuses the request buffer after the handler returns
	body := append([]byte(nil), c.Body()...)

	result, err := h.webhooks.HandleEvent(c.UserContext(), body, c.Get(h.header))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"received": true, "result": result})
}
