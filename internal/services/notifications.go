package services

import (
	"context"

	"github.com/Ananth-NQI/signdesk-backend/internal/apperr"
	"github.com/Ananth-NQI/signdesk-backend/internal/models"
	"github.com/Ananth-NQI/signdesk-backend/internal/storage"
)

const maxNotifications = 100

// NotificationService reads in-app notifications.
type NotificationService struct {
	store storage.Store
}

func NewNotificationService(store storage.Store) *NotificationService {
	return &NotificationService{store: store}
}

// List returns the caller's newest notifications, addressed by email or user id.
func (n *NotificationService) List(ctx context.Context, caller *models.Caller, limit int) ([]*models.Notification, error) {
	if caller == nil || (caller.Email == "" && caller.UserID == "") {
		return nil, apperr.Unauthenticated("caller identity required")
	}
	if limit <= 0 || limit > maxNotifications {
		limit = maxNotifications
	}
	list, err := n.store.ListNotifications(ctx, models.NormalizeEmail(caller.Email), caller.UserID, limit)
	if err != nil {
		return nil, apperr.Unavailable(err, "storage temporarily unavailable")
	}
	if list == nil {
		list = []*models.Notification{}
	}
	return list, nil
}
