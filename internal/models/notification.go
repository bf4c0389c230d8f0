package models

import "time"

// Notification is an in-app notification shown in the dashboard.
type Notification struct {
	ID             string    `json:"id" gorm:"primaryKey;size:64"`
	Type           string    `json:"type" gorm:"index;size:64;not null"`
	RecipientEmail string    `json:"recipient_email,omitempty" gorm:"index;size:320"`
	RecipientID    string    `json:"recipient_id,omitempty" gorm:"index;size:128"`
	TransactionID  string    `json:"transaction_id,omitempty" gorm:"index;size:128"`
	SessionID      string    `json:"session_id,omitempty" gorm:"index;size:64"`
	SignerEmail    string    `json:"signer_email,omitempty"`
	Message        string    `json:"message"`
	Read           bool      `json:"read" gorm:"not null;default:false"`
	CreatedAt      time.Time `json:"created_at"`
}

// Notification types
const (
	NotificationSignatureRequest = "signature_request"
	NotificationDocumentSigned   = "document_signed"
	NotificationSessionCompleted = "session_completed"
	NotificationDocumentDeclined = "document_declined"
	NotificationSessionExpired   = "session_expired"
	NotificationSessionCancelled = "session_cancelled"
	NotificationReminderSent     = "reminder_sent"
)
