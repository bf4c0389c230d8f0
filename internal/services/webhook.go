package services

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/Ananth-NQI/signdesk-backend/internal/apperr"
	"github.com/Ananth-NQI/signdesk-backend/internal/metrics"
	"github.com/Ananth-NQI/signdesk-backend/internal/models"
	"github.com/Ananth-NQI/signdesk-backend/internal/storage"
	"github.com/Ananth-NQI/signdesk-backend/internal/utils"
)

// WebhookResult reports what an accepted event did.
type WebhookResult struct {
	SessionID string `json:"sessionId,omitempty"`
	EventType string `json:"type"`
	Outcome   string `json:"outcome"`
}

// WebhookService authenticates provider events and applies them to sessions.
type WebhookService struct {
	store     storage.Store
	documents *DocumentService
	notifier  *Notifier
	secret    string

	Now func() time.Time
}

func NewWebhookService(store storage.Store, documents *DocumentService, notifier *Notifier, secret string) *WebhookService {
	return &WebhookService{
		store:     store,
		documents: documents,
		notifier:  notifier,
		secret:    secret,
		Now:       time.Now,
	}
}

// HandleEvent verifies the HMAC signature of rawBody and applies the event. Every
// call leaves a webhook receipt, whether it was accepted or not.
func (w *WebhookService) HandleEvent(ctx context.Context, rawBody []byte, signature string) (*WebhookResult, error) {
	receipt := &models.WebhookReceipt{
		BodySHA256: utils.SHA256Hex(rawBody),
		ReceivedAt: w.Now(),
	}

	if !utils.VerifyHexSignature(w.secret, rawBody, signature) {
		log.Warn().
			Str("body_sha256", receipt.BodySHA256).
			Bool("signature_present", signature != "").
			Int("body_size", len(rawBody)).
			Msg("rejected webhook with invalid signature")
		receipt.Outcome = models.ReceiptRejected
		w.finish(ctx, receipt)
		return nil, apperr.Unauthenticated("invalid webhook signature")
	}
	receipt.SignatureValid = true

	var event models.ProviderEvent
	if err := json.Unmarshal(rawBody, &event); err != nil || event.EnvelopeID == "" {
		receipt.Outcome = models.ReceiptInvalid
		w.finish(ctx, receipt)
		return nil, apperr.InvalidArgument("webhook body must be JSON with an envelopeId")
	}

	eventType := strings.TrimPrefix(event.Type, "envelope.")
	receipt.EventID = event.EventID
	receipt.EnvelopeID = event.EnvelopeID
	receipt.EventType = eventType
	receipt.SignerEmail = models.NormalizeEmail(event.SignerEmail)

	session, err := w.store.GetSessionByEnvelope(ctx, event.EnvelopeID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			log.Warn().Str("envelope_id", event.EnvelopeID).Str("type", eventType).Msg("no session found for envelope")
			receipt.Outcome = models.ReceiptNotFound
		} else {
			receipt.Outcome = models.ReceiptFailed
			receipt.Detail = err.Error()
		}
		w.finish(ctx, receipt)
		return nil, storeError(err, "session")
	}

	at := w.Now()
	if event.Timestamp != nil {
		at = *event.Timestamp
	}

	var outcome string
	switch eventType {
	case models.EventViewed:
		outcome, err = w.handleViewed(ctx, session, receipt.SignerEmail, at)
	case models.EventSigned:
		outcome, err = w.handleSigned(ctx, session, receipt.SignerEmail, storage.SignerActivity{
			At:        at,
			IPAddress: event.IPAddress,
			UserAgent: event.UserAgent,
		})
	case models.EventCompleted:
		outcome, err = w.handleCompleted(ctx, session, event.Documents, at)
	case models.EventDeclined:
		outcome, err = w.handleDeclined(ctx, session, receipt.SignerEmail, event.Reason, at)
	default:
		log.Info().Str("type", event.Type).Str("session_id", session.ID).Msg("unhandled webhook event type")
		outcome = models.ReceiptIgnored
	}

	receipt.Outcome = outcome
	if err != nil {
		receipt.Outcome = models.ReceiptFailed
		receipt.Detail = err.Error()
		log.Error().Err(err).Str("session_id", session.ID).Str("type", eventType).Msg("failed to apply webhook event")
	}
	w.finish(ctx, receipt)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("session_id", session.ID).
		Str("type", eventType).
		Str("signer", receipt.SignerEmail).
		Str("outcome", outcome).
		Msg("webhook event processed")
	return &WebhookResult{SessionID: session.ID, EventType: eventType, Outcome: outcome}, nil
}

func (w *WebhookService) finish(ctx context.Context, receipt *models.WebhookReceipt) {
	eventType := receipt.EventType
	if eventType == "" {
		eventType = "unknown"
	}
	metrics.WebhookEvents.WithLabelValues(eventType, receipt.Outcome).Inc()
	if err := w.store.SaveWebhookReceipt(context.WithoutCancel(ctx), receipt); err != nil {
		log.Error().Err(err).Str("envelope_id", receipt.EnvelopeID).Msg("failed to save webhook receipt")
	}
}

// signerUpdate maps the result of a conditional signer update to an outcome.
func signerUpdate(applied bool, err error) (string, error) {
	if errors.Is(err, storage.ErrNotFound) {
		return models.ReceiptIgnored, nil
	}
	if err != nil {
		return "", apperr.Unavailable(err, "storage temporarily unavailable")
	}
	if !applied {
		return models.ReceiptNoop, nil
	}
	return models.ReceiptApplied, nil
}

func (w *WebhookService) handleViewed(ctx context.Context, session *models.SigningSession, email string, at time.Time) (string, error) {
	if session.IsTerminal() {
		return models.ReceiptNoop, nil
	}
	return signerUpdate(w.store.MarkSignerViewed(ctx, session.ID, email, at))
}

func (w *WebhookService) handleSigned(ctx context.Context, session *models.SigningSession, email string, activity storage.SignerActivity) (string, error) {
	if session.IsTerminal() {
		return models.ReceiptNoop, nil
	}
	outcome, err := signerUpdate(w.store.MarkSignerSigned(ctx, session.ID, email, activity))
	if err == nil && outcome == models.ReceiptApplied {
		w.notifier.SignerSigned(ctx, session, email)
	}
	return outcome, err
}

// handleCompleted stores the artifacts before the status changes so a completed
// session always has its documents. A storage failure is returned as Unavailable
// and the provider redelivers the event.
func (w *WebhookService) handleCompleted(ctx context.Context, session *models.SigningSession, docs *models.ProviderDocuments, at time.Time) (string, error) {
	if session.IsTerminal() {
		return models.ReceiptNoop, nil
	}

	signedPath, auditPath, err := w.documents.StoreArtifacts(ctx, session, docs)
	if err != nil {
		return "", apperr.Unavailable(err, "failed to store signed documents")
	}
	if signedPath == "" && auditPath == "" {
		log.Warn().Str("session_id", session.ID).Msg("completed event carried no documents")
	}

	applied, err := w.store.TransitionSession(ctx, session.ID, storage.SessionTransition{
		From:               models.SessionStatusPending,
		To:                 models.SessionStatusCompleted,
		At:                 at,
		SignedDocumentPath: signedPath,
		AuditDocumentPath:  auditPath,
	})
	if err != nil {
		return "", storeError(err, "session")
	}
	if !applied {
		return models.ReceiptNoop, nil
	}

	metrics.SessionTransitions.WithLabelValues(models.SessionStatusCompleted, "webhook").Inc()
	w.notifier.SessionCompleted(ctx, session)
	return models.ReceiptApplied, nil
}

func (w *WebhookService) handleDeclined(ctx context.Context, session *models.SigningSession, email, reason string, at time.Time) (string, error) {
	if session.IsTerminal() {
		return models.ReceiptNoop, nil
	}
	if reason == "" {
		reason = "No reason provided"
	}

	applied, err := w.store.TransitionSession(ctx, session.ID, storage.SessionTransition{
		From:       models.SessionStatusPending,
		To:         models.SessionStatusDeclined,
		At:         at,
		Reason:     reason,
		DeclinedBy: email,
	})
	if err != nil {
		return "", storeError(err, "session")
	}
	if !applied {
		return models.ReceiptNoop, nil
	}

	metrics.SessionTransitions.WithLabelValues(models.SessionStatusDeclined, "webhook").Inc()
	w.notifier.SessionDeclined(ctx, session, email, reason)
	return models.ReceiptApplied, nil
}
