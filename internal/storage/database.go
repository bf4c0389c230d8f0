package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Ananth-NQI/signdesk-backend/internal/models"
)

// DatabaseStore implements Store on top of gorm.
type DatabaseStore struct {
	db *gorm.DB
}

// NewDatabaseStore creates a store backed by an open gorm connection.
func NewDatabaseStore(db *gorm.DB) *DatabaseStore {
	return &DatabaseStore{db: db}
}

var _ Store = (*DatabaseStore)(nil)

// pendingSessionExists restricts signer updates to rows whose session is still pending.
const pendingSessionExists = "EXISTS (SELECT 1 FROM signing_sessions WHERE signing_sessions.id = signers.session_id AND signing_sessions.status = ?)"

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// Template operations
func (d *DatabaseStore) CreateTemplate(ctx context.Context, template *models.SigningTemplate) error {
	return errors.Wrap(d.db.WithContext(ctx).Create(template).Error, "create template")
}

func (d *DatabaseStore) GetTemplate(ctx context.Context, id string) (*models.SigningTemplate, error) {
	var template models.SigningTemplate
	if err := d.db.WithContext(ctx).First(&template, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &template, nil
}

// Session operations

// CreateSession writes the session, its signers and the transaction link in one
// database transaction.
func (d *DatabaseStore) CreateSession(ctx context.Context, session *models.SigningSession) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range session.Signers {
			session.Signers[i].SessionID = session.ID
		}
		if err := tx.Create(session).Error; err != nil {
			return errors.Wrap(err, "insert session")
		}

		link := models.Transaction{
			ID:                      session.TransactionID,
			CurrentSigningSessionID: session.ID,
			UpdatedAt:               time.Now(),
		}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"current_signing_session_id", "updated_at"}),
		}).Create(&link).Error
		return errors.Wrap(err, "link transaction")
	})
}

func (d *DatabaseStore) GetSession(ctx context.Context, id string) (*models.SigningSession, error) {
	var session models.SigningSession
	err := d.db.WithContext(ctx).
		Preload("Signers", func(db *gorm.DB) *gorm.DB { return db.Order("sign_order ASC") }).
		First(&session, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &session, nil
}

func (d *DatabaseStore) GetSessionByEnvelope(ctx context.Context, envelopeID string) (*models.SigningSession, error) {
	var session models.SigningSession
	err := d.db.WithContext(ctx).
		Preload("Signers", func(db *gorm.DB) *gorm.DB { return db.Order("sign_order ASC") }).
		First(&session, "envelope_id = ?", envelopeID).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &session, nil
}

func (d *DatabaseStore) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	var txn models.Transaction
	if err := d.db.WithContext(ctx).First(&txn, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &txn, nil
}

func (d *DatabaseStore) ListExpirableSessions(ctx context.Context, now time.Time, limit int) ([]*models.SigningSession, error) {
	var sessions []*models.SigningSession
	query := d.db.WithContext(ctx).
		Preload("Signers", func(db *gorm.DB) *gorm.DB { return db.Order("sign_order ASC") }).
		Where("status = ? AND expires_at <= ?", models.SessionStatusPending, now).
		Order("expires_at ASC, id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&sessions).Error; err != nil {
		return nil, errors.Wrap(err, "list expirable sessions")
	}
	return sessions, nil
}

func (d *DatabaseStore) TransitionSession(ctx context.Context, id string, t SessionTransition) (bool, error) {
	if err := validateTransition(t); err != nil {
		return false, err
	}

	updates := map[string]interface{}{
		"status":     t.To,
		"updated_at": time.Now(),
	}
	switch t.To {
	case models.SessionStatusCompleted:
		updates["completed_at"] = t.At
		if t.SignedDocumentPath != "" || t.AuditDocumentPath != "" {
			updates["signed_document_path"] = t.SignedDocumentPath
			updates["audit_document_path"] = t.AuditDocumentPath
			updates["documents_stored_at"] = t.At
		}
	case models.SessionStatusDeclined:
		updates["declined_at"] = t.At
		updates["decline_reason"] = t.Reason
		updates["declined_by"] = t.DeclinedBy
	case models.SessionStatusExpired:
		updates["expired_at"] = t.At
	case models.SessionStatusCancelled:
		updates["cancelled_at"] = t.At
		updates["cancel_reason"] = t.Reason
	}

	result := d.db.WithContext(ctx).Model(&models.SigningSession{}).
		Where("id = ? AND status = ?", id, t.From).
		Updates(updates)
	if result.Error != nil {
		return false, errors.Wrap(result.Error, "transition session")
	}
	if result.RowsAffected == 1 {
		return true, nil
	}
	return false, d.sessionExists(ctx, id)
}

func (d *DatabaseStore) sessionExists(ctx context.Context, id string) error {
	var count int64
	if err := d.db.WithContext(ctx).Model(&models.SigningSession{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return errors.Wrap(err, "count session")
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}

func (d *DatabaseStore) signerExists(ctx context.Context, sessionID, email string) error {
	var count int64
	err := d.db.WithContext(ctx).Model(&models.Signer{}).
		Where("session_id = ? AND email = ?", sessionID, email).
		Count(&count).Error
	if err != nil {
		return errors.Wrap(err, "count signer")
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}

// updateSigner applies a conditional update to one signer row. A zero row count is
// reported as not applied unless the signer does not exist at all.
func (d *DatabaseStore) updateSigner(ctx context.Context, sessionID, email string, scope func(*gorm.DB) *gorm.DB, updates map[string]interface{}) (bool, error) {
	updates["updated_at"] = time.Now()
	query := d.db.WithContext(ctx).Model(&models.Signer{}).
		Where("session_id = ? AND email = ?", sessionID, email)
	result := scope(query).Updates(updates)
	if result.Error != nil {
		return false, errors.Wrap(result.Error, "update signer")
	}
	if result.RowsAffected == 1 {
		return true, nil
	}
	return false, d.signerExists(ctx, sessionID, email)
}

// Signer operations
func (d *DatabaseStore) MarkSignerViewed(ctx context.Context, sessionID, email string, at time.Time) (bool, error) {
	return d.updateSigner(ctx, sessionID, email, func(db *gorm.DB) *gorm.DB {
		return db.Where("status = ?", models.SignerStatusPending).
			Where(pendingSessionExists, models.SessionStatusPending)
	}, map[string]interface{}{
		"status":    models.SignerStatusViewed,
		"viewed_at": at,
	})
}

func (d *DatabaseStore) MarkSignerSigned(ctx context.Context, sessionID, email string, activity SignerActivity) (bool, error) {
	return d.updateSigner(ctx, sessionID, email, func(db *gorm.DB) *gorm.DB {
		return db.Where("status IN ?", []string{models.SignerStatusPending, models.SignerStatusViewed}).
			Where(pendingSessionExists, models.SessionStatusPending)
	}, map[string]interface{}{
		"status":     models.SignerStatusSigned,
		"signed_at":  activity.At,
		"ip_address": activity.IPAddress,
		"user_agent": activity.UserAgent,
	})
}

// OTP operations
func (d *DatabaseStore) SetSignerOTP(ctx context.Context, sessionID, email, hash string, expiresAt time.Time) (bool, error) {
	return d.updateSigner(ctx, sessionID, email, func(db *gorm.DB) *gorm.DB {
		return db.Where("locked = ?", false)
	}, map[string]interface{}{
		"otp_hash":        hash,
		"otp_expires_at":  expiresAt,
		"failed_attempts": 0,
	})
}

// RecordOTPFailure increments the counter only while the stored hash is still the
// one the caller compared against, and locks the signer when the limit is reached.
// The lock state is read back in the same transaction.
func (d *DatabaseStore) RecordOTPFailure(ctx context.Context, sessionID, email, hash string, maxAttempts int) (applied, locked bool, err error) {
	err = d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Signer{}).
			Where("session_id = ? AND email = ?", sessionID, email).
			Where("otp_hash = ? AND otp_hash <> '' AND locked = ?", hash, false).
			Updates(map[string]interface{}{
				"failed_attempts": gorm.Expr("failed_attempts + 1"),
				"locked":          gorm.Expr("failed_attempts + 1 >= ?", maxAttempts),
				"updated_at":      time.Now(),
			})
		if result.Error != nil {
			return errors.Wrap(result.Error, "record otp failure")
		}
		applied = result.RowsAffected == 1

		var states []bool
		if err := tx.Model(&models.Signer{}).
			Where("session_id = ? AND email = ?", sessionID, email).
			Pluck("locked", &states).Error; err != nil {
			return errors.Wrap(err, "read signer lock")
		}
		if len(states) == 0 {
			return ErrNotFound
		}
		locked = states[0]
		return nil
	})
	if err != nil {
		return false, false, err
	}
	return applied, locked, nil
}

func (d *DatabaseStore) ConsumeOTP(ctx context.Context, sessionID, email, hash string, now time.Time) (bool, error) {
	return d.updateSigner(ctx, sessionID, email, func(db *gorm.DB) *gorm.DB {
		return db.Where("otp_hash = ? AND otp_hash <> '' AND locked = ? AND otp_expires_at > ?", hash, false, now)
	}, map[string]interface{}{
		"otp_hash":        "",
		"otp_expires_at":  nil,
		"failed_attempts": 0,
		"otp_verified":    true,
	})
}

// Notification operations
func (d *DatabaseStore) CreateNotification(ctx context.Context, notification *models.Notification) error {
	if notification.ID == "" {
		notification.ID = uuid.NewString()
	}
	return errors.Wrap(d.db.WithContext(ctx).Create(notification).Error, "create notification")
}

func (d *DatabaseStore) ListNotifications(ctx context.Context, email, userID string, limit int) ([]*models.Notification, error) {
	var notifications []*models.Notification
	query := d.db.WithContext(ctx).Order("created_at DESC")
	switch {
	case email != "" && userID != "":
		query = query.Where("recipient_email = ? OR recipient_id = ?", email, userID)
	case email != "":
		query = query.Where("recipient_email = ?", email)
	case userID != "":
		query = query.Where("recipient_id = ?", userID)
	default:
		return nil, nil
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&notifications).Error; err != nil {
		return nil, errors.Wrap(err, "list notifications")
	}
	return notifications, nil
}

// Webhook audit
func (d *DatabaseStore) SaveWebhookReceipt(ctx context.Context, receipt *models.WebhookReceipt) error {
	return errors.Wrap(d.db.WithContext(ctx).Create(receipt).Error, "save webhook receipt")
}
