package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/Ananth-NQI/signdesk-backend/internal/models"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrInvalidTransition = errors.New("invalid state transition")
)

// SessionTransition describes a conditional move of a session's status.
// The update only applies while the stored status still equals From.
type SessionTransition struct {
	From string
	To   string
	At   time.Time

	Reason     string // decline or cancel reason
	DeclinedBy string

	SignedDocumentPath string
	AuditDocumentPath  string
}

// SignerActivity is the client metadata reported with a signer event.
type SignerActivity struct {
	At        time.Time
	IPAddress string
	UserAgent string
}

// Store defines the persistence operations of the signing engine. Every mutation
// is a conditional update scoped to one signer row or to the session status, and
// reports whether it was applied.
type Store interface {
	// Template operations
	CreateTemplate(ctx context.Context, template *models.SigningTemplate) error
	GetTemplate(ctx context.Context, id string) (*models.SigningTemplate, error)

	// Session operations
	CreateSession(ctx context.Context, session *models.SigningSession) error
	GetSession(ctx context.Context, id string) (*models.SigningSession, error)
	GetSessionByEnvelope(ctx context.Context, envelopeID string) (*models.SigningSession, error)
	ListExpirableSessions(ctx context.Context, now time.Time, limit int) ([]*models.SigningSession, error)
	TransitionSession(ctx context.Context, id string, t SessionTransition) (bool, error)
	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)

	// Signer operations
	MarkSignerViewed(ctx context.Context, sessionID, email string, at time.Time) (bool, error)
	MarkSignerSigned(ctx context.Context, sessionID, email string, activity SignerActivity) (bool, error)

	// OTP operations
	SetSignerOTP(ctx context.Context, sessionID, email, hash string, expiresAt time.Time) (bool, error)
	// RecordOTPFailure also reports whether the signer is locked afterwards.
	RecordOTPFailure(ctx context.Context, sessionID, email, hash string, maxAttempts int) (applied, locked bool, err error)
	ConsumeOTP(ctx context.Context, sessionID, email, hash string, now time.Time) (bool, error)

	// Notification operations
	CreateNotification(ctx context.Context, notification *models.Notification) error
	ListNotifications(ctx context.Context, email, userID string, limit int) ([]*models.Notification, error)

	// Webhook audit
	SaveWebhookReceipt(ctx context.Context, receipt *models.WebhookReceipt) error
}

func validateTransition(t SessionTransition) error {
	if !models.CanTransition(t.From, t.To) {
		return errors.Wrapf(ErrInvalidTransition, "%s -> %s", t.From, t.To)
	}
	return nil
}
