package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/Ananth-NQI/signdesk-backend/internal/middleware"
	"github.com/Ananth-NQI/signdesk-backend/internal/services"
)

// NotificationHandler lists in-app notifications.
type NotificationHandler struct {
	notifications *services.NotificationService
}

func NewNotificationHandler(notifications *services.NotificationService) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

// List handles GET /api/notifications?limit=N
func (h *NotificationHandler) List(c *fiber.Ctx) error {
	list, err := h.notifications.List(c.UserContext(), middleware.CallerFrom(c), c.QueryInt("limit", 50))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"notifications": list, "count": len(list)})
}
