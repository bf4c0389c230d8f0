package services

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Ananth-NQI/signdesk-backend/internal/models"
	"github.com/Ananth-NQI/signdesk-backend/internal/storage"
)

// Notifier fans session events out to email, SMS and in-app notifications.
// Delivery failures are logged and never fail the calling operation, except for
// OTP delivery which the signer cannot do without.
type Notifier struct {
	store  storage.Store
	mailer *Mailer
	sms    SMSSender
	appURL string
}

// NewNotifier creates a notifier. sms may be nil.
func NewNotifier(store storage.Store, mailer *Mailer, sms SMSSender, appURL string) *Notifier {
	return &Notifier{store: store, mailer: mailer, sms: sms, appURL: appURL}
}

func (n *Notifier) signURL(session *models.SigningSession, email string, signingURLs map[string]string) string {
	if u := signingURLs[email]; u != "" {
		return u
	}
	return fmt.Sprintf("%s/sign/%s?email=%s", n.appURL, session.ID, url.QueryEscape(email))
}

func (n *Notifier) documentURL(session *models.SigningSession) string {
	return fmt.Sprintf("%s/transactions/%s/documents/%s", n.appURL, session.TransactionID, session.ID)
}

func (n *Notifier) mail(to, templateName string, data MailData) {
	if to == "" {
		return
	}
	if err := n.mailer.Send(to, templateName, data); err != nil {
		log.Error().Err(err).Str("to", to).Str("template", templateName).Msg("failed to send email")
	}
}

func (n *Notifier) inApp(ctx context.Context, notification *models.Notification) {
	if err := n.store.CreateNotification(ctx, notification); err != nil {
		log.Error().Err(err).
			Str("type", notification.Type).
			Str("session_id", notification.SessionID).
			Msg("failed to create in-app notification")
	}
}

// SignatureRequested tells every signer that a document waits for them.
func (n *Notifier) SignatureRequested(ctx context.Context, session *models.SigningSession, signingURLs map[string]string) {
	for _, signer := range session.Signers {
		n.mail(signer.Email, MailSignatureRequest, MailData{
			SignerName:  signer.Name,
			SessionName: session.Name,
			ActionURL:   n.signURL(session, signer.Email, signingURLs),
			ExpiresAt:   session.ExpiresAt.Format("January 2, 2006"),
		})
		n.inApp(ctx, &models.Notification{
			Type:           models.NotificationSignatureRequest,
			RecipientEmail: signer.Email,
			TransactionID:  session.TransactionID,
			SessionID:      session.ID,
			SignerEmail:    signer.Email,
			Message:        fmt.Sprintf("You have a document to sign: %s", session.Name),
		})
	}
}

// SendOTP delivers a verification code by email, and by SMS when the signer has a phone.
func (n *Notifier) SendOTP(ctx context.Context, session *models.SigningSession, signer *models.Signer, code string, ttl time.Duration) error {
	err := n.mailer.Send(signer.Email, MailOTP, MailData{
		SignerName:  signer.Name,
		SessionName: session.Name,
		Code:        code,
		ValidFor:    fmt.Sprintf("%d minutes", int(ttl.Minutes())),
	})

	if n.sms != nil && signer.Phone != "" {
		body := fmt.Sprintf("Your signing verification code is %s. It expires in %d minutes.", code, int(ttl.Minutes()))
		if smsErr := n.sms.SendSMS(ctx, signer.Phone, body); smsErr != nil {
			log.Error().Err(smsErr).Str("session_id", session.ID).Msg("failed to send otp sms")
		} else if err != nil {
			log.Warn().Err(err).Str("session_id", session.ID).Msg("otp email failed, delivered by sms")
			return nil
		}
	}
	return err
}

// SignerSigned records that one signer finished.
func (n *Notifier) SignerSigned(ctx context.Context, session *models.SigningSession, email string) {
	name := email
	if signer := session.FindSigner(email); signer != nil && signer.Name != "" {
		name = signer.Name
	}
	n.mail(session.CreatorEmail, MailSignerCompleted, MailData{SignerName: name, SessionName: session.Name})
	n.inApp(ctx, &models.Notification{
		Type:          models.NotificationDocumentSigned,
		RecipientID:   session.CreatedBy,
		TransactionID: session.TransactionID,
		SessionID:     session.ID,
		SignerEmail:   email,
		Message:       fmt.Sprintf("%s has signed the document", email),
	})
}

// SessionCompleted tells every signer that all parties signed.
func (n *Notifier) SessionCompleted(ctx context.Context, session *models.SigningSession) {
	for _, signer := range session.Signers {
		n.mail(signer.Email, MailSessionCompleted, MailData{
			SignerName:  signer.Name,
			SessionName: session.Name,
			ActionURL:   n.documentURL(session),
		})
		n.inApp(ctx, &models.Notification{
			Type:           models.NotificationSessionCompleted,
			RecipientEmail: signer.Email,
			TransactionID:  session.TransactionID,
			SessionID:      session.ID,
			Message:        fmt.Sprintf("All parties have signed %s", session.Name),
		})
	}
	n.inApp(ctx, &models.Notification{
		Type:          models.NotificationSessionCompleted,
		RecipientID:   session.CreatedBy,
		TransactionID: session.TransactionID,
		SessionID:     session.ID,
		Message:       fmt.Sprintf("All parties have signed %s", session.Name),
	})
}

// SessionDeclined tells every signer and the creator that a signer declined.
func (n *Notifier) SessionDeclined(ctx context.Context, session *models.SigningSession, declinedBy, reason string) {
	for _, signer := range session.Signers {
		n.mail(signer.Email, MailSessionDeclined, MailData{
			SignerName:  signer.Name,
			SessionName: session.Name,
			DeclinedBy:  declinedBy,
			Reason:      reason,
		})
	}
	n.inApp(ctx, &models.Notification{
		Type:          models.NotificationDocumentDeclined,
		RecipientID:   session.CreatedBy,
		TransactionID: session.TransactionID,
		SessionID:     session.ID,
		SignerEmail:   declinedBy,
		Message:       fmt.Sprintf("%s has declined to sign the document", declinedBy),
	})
}

// SessionExpired records one notification for the owning transaction.
func (n *Notifier) SessionExpired(ctx context.Context, session *models.SigningSession) {
	n.mail(session.CreatorEmail, MailSessionExpired, MailData{SessionName: session.Name})
	n.inApp(ctx, &models.Notification{
		Type:          models.NotificationSessionExpired,
		RecipientID:   session.CreatedBy,
		TransactionID: session.TransactionID,
		SessionID:     session.ID,
		Message:       fmt.Sprintf("Signing session %s has expired", session.Name),
	})
}

// SessionCancelled tells every signer that the request was withdrawn.
func (n *Notifier) SessionCancelled(ctx context.Context, session *models.SigningSession, reason string) {
	for _, signer := range session.Signers {
		n.mail(signer.Email, MailSessionCancelled, MailData{
			SignerName:  signer.Name,
			SessionName: session.Name,
			Reason:      reason,
		})
		n.inApp(ctx, &models.Notification{
			Type:           models.NotificationSessionCancelled,
			RecipientEmail: signer.Email,
			TransactionID:  session.TransactionID,
			SessionID:      session.ID,
			Message:        fmt.Sprintf("Signing request %s was cancelled", session.Name),
		})
	}
}

// ReminderSent emails a reminder to one signer.
func (n *Notifier) ReminderSent(ctx context.Context, session *models.SigningSession, signer *models.Signer) {
	n.mail(signer.Email, MailReminder, MailData{
		SignerName:  signer.Name,
		SessionName: session.Name,
		ActionURL:   n.signURL(session, signer.Email, nil),
	})
	n.inApp(ctx, &models.Notification{
		Type:           models.NotificationReminderSent,
		RecipientEmail: signer.Email,
		TransactionID:  session.TransactionID,
		SessionID:      session.ID,
		SignerEmail:    signer.Email,
		Message:        fmt.Sprintf("Reminder: %s is waiting for your signature", session.Name),
	})
}
