package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc/codes"

	"github.com/Ananth-NQI/signdesk-backend/internal/apperr"
	"github.com/Ananth-NQI/signdesk-backend/internal/metrics"
	"github.com/Ananth-NQI/signdesk-backend/internal/models"
	"github.com/Ananth-NQI/signdesk-backend/internal/storage"
)

const (
	MinExpirationDays   = 1
	MaxExpirationDays   = 30
	DefaultReminderDays = 2

	idempotencyTTL     = 24 * time.Hour
	idempotencyLockTTL = 2 * time.Minute
)

// SignerInput is one signer of a create request.
type SignerInput struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role,omitempty"`
	Phone string `json:"phone,omitempty"`
	Order int    `json:"order,omitempty"`
}

// SessionOptions are the optional knobs of a create request.
type SessionOptions struct {
	ExpirationDays int               `json:"expirationDays,omitempty"`
	ReminderDays   int               `json:"reminderDays,omitempty"`
	Name           string            `json:"name,omitempty"`
	EmailSubject   string            `json:"emailSubject,omitempty"`
	EmailMessage   string            `json:"emailMessage,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// CreateSessionRequest is the input of CreateSession.
type CreateSessionRequest struct {
	TransactionID  string         `json:"transactionId"`
	TemplateID     string         `json:"templateId"`
	Signers        []SignerInput  `json:"signers"`
	Options        SessionOptions `json:"options"`
	IdempotencyKey string         `json:"-"`
}

// CreateSessionResult is returned to the caller of CreateSession.
type CreateSessionResult struct {
	SessionID   string            `json:"sessionId"`
	EnvelopeID  string            `json:"envelopeId"`
	SigningURLs map[string]string `json:"signingUrls"`
}

// SigningService orchestrates signing sessions.
type SigningService struct {
	store             storage.Store
	gateway           EnvelopeGateway
	notifier          *Notifier
	idempotency       storage.IdempotencyStore
	publicBaseURL     string
	defaultExpiryDays int
	timeout           time.Duration

	Now   func() time.Time
	NewID func() string
}

// SigningConfig holds the settings of a SigningService.
type SigningConfig struct {
	PublicBaseURL     string
	DefaultExpiryDays int
	GatewayTimeout    time.Duration
}

// NewSigningService creates the orchestrator. idempotency may be nil.
func NewSigningService(store storage.Store, gateway EnvelopeGateway, notifier *Notifier, idempotency storage.IdempotencyStore, cfg SigningConfig) *SigningService {
	if cfg.DefaultExpiryDays == 0 {
		cfg.DefaultExpiryDays = 7
	}
	return &SigningService{
		store:             store,
		gateway:           gateway,
		notifier:          notifier,
		idempotency:       idempotency,
		publicBaseURL:     strings.TrimRight(cfg.PublicBaseURL, "/"),
		defaultExpiryDays: cfg.DefaultExpiryDays,
		timeout:           cfg.GatewayTimeout,
		Now:               time.Now,
		NewID:             uuid.NewString,
	}
}

func (s *SigningService) gatewayContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// validate normalises signer emails and fills defaults.
func (s *SigningService) validate(req *CreateSessionRequest) error {
	if strings.TrimSpace(req.TransactionID) == "" {
		return apperr.InvalidArgument("transactionId is required")
	}
	if strings.TrimSpace(req.TemplateID) == "" {
		return apperr.InvalidArgument("templateId is required")
	}
	if len(req.Signers) == 0 {
		return apperr.InvalidArgument("at least one signer is required")
	}

	seen := make(map[string]bool, len(req.Signers))
	for i := range req.Signers {
		signer := &req.Signers[i]
		signer.Email = models.NormalizeEmail(signer.Email)
		signer.Name = strings.TrimSpace(signer.Name)
		if signer.Email == "" || !strings.Contains(signer.Email, "@") {
			return apperr.Newf(codes.InvalidArgument, "signer %d has an invalid email", i+1)
		}
		if signer.Name == "" {
			return apperr.Newf(codes.InvalidArgument, "signer %d is missing a name", i+1)
		}
		if seen[signer.Email] {
			return apperr.Newf(codes.InvalidArgument, "signer %s is listed more than once", signer.Email)
		}
		seen[signer.Email] = true
		if signer.Order <= 0 {
			signer.Order = i + 1
		}
		if signer.Role == "" {
			signer.Role = "Signer"
		}
	}

	if req.Options.ExpirationDays == 0 {
		req.Options.ExpirationDays = s.defaultExpiryDays
	}
	if req.Options.ExpirationDays < MinExpirationDays || req.Options.ExpirationDays > MaxExpirationDays {
		return apperr.Newf(codes.InvalidArgument, "expirationDays must be between %d and %d", MinExpirationDays, MaxExpirationDays)
	}
	if req.Options.ReminderDays == 0 {
		req.Options.ReminderDays = DefaultReminderDays
	}
	if req.Options.ReminderDays < 0 {
		return apperr.InvalidArgument("reminderDays must not be negative")
	}
	if req.Options.Name == "" {
		req.Options.Name = fmt.Sprintf("Contract - Transaction %s", req.TransactionID)
	}
	return nil
}

// CreateSession creates the remote envelope, persists the session and notifies
// every signer. Nothing is persisted when the envelope cannot be created.
func (s *SigningService) CreateSession(ctx context.Context, caller *models.Caller, req CreateSessionRequest) (*CreateSessionResult, error) {
	if !caller.IsStaff() {
		return nil, apperr.PermissionDenied("only agents and admins can create signing sessions")
	}
	if err := s.validate(&req); err != nil {
		return nil, err
	}

	if req.IdempotencyKey == "" || s.idempotency == nil {
		return s.createSession(ctx, caller, req)
	}

	key := caller.UserID + ":" + req.IdempotencyKey
	if cached, err := s.cachedResult(ctx, key); err != nil || cached != nil {
		return cached, err
	}

	if err := s.idempotency.Begin(ctx, key, idempotencyLockTTL); err != nil {
		if errors.Is(err, storage.ErrRequestInFlight) {
			return nil, apperr.FailedPrecondition("a request with this idempotency key is already in progress")
		}
		return nil, apperr.Unavailable(err, "idempotency store unavailable")
	}

	// a request that completed after the lookup above has already released the key
	cached, err := s.cachedResult(ctx, key)
	if err != nil || cached != nil {
		if abortErr := s.idempotency.Abort(context.WithoutCancel(ctx), key); abortErr != nil {
			log.Warn().Err(abortErr).Msg("failed to release idempotency key")
		}
		return cached, err
	}

	result, err := s.createSession(ctx, caller, req)
	if err != nil {
		if abortErr := s.idempotency.Abort(context.WithoutCancel(ctx), key); abortErr != nil {
			log.Warn().Err(abortErr).Msg("failed to release idempotency key")
		}
		return nil, err
	}

	payload, _ := json.Marshal(result)
	if err := s.idempotency.Complete(context.WithoutCancel(ctx), key, payload, idempotencyTTL); err != nil {
		log.Warn().Err(err).Str("session_id", result.SessionID).Msg("failed to store idempotent response")
	}
	return result, nil
}

// cachedResult returns the stored response for key, or nil when there is none.
func (s *SigningService) cachedResult(ctx context.Context, key string) (*CreateSessionResult, error) {
	cached, found, err := s.idempotency.Get(ctx, key)
	if err != nil {
		return nil, apperr.Unavailable(err, "idempotency store unavailable")
	}
	if !found {
		return nil, nil
	}
	var result CreateSessionResult
	if err := json.Unmarshal(cached, &result); err != nil {
		return nil, apperr.Internal(err)
	}
	log.Info().Str("session_id", result.SessionID).Msg("replaying idempotent create session")
	return &result, nil
}

func (s *SigningService) createSession(ctx context.Context, caller *models.Caller, req CreateSessionRequest) (*CreateSessionResult, error) {
	template, err := s.store.GetTemplate(ctx, req.TemplateID)
	if err != nil {
		return nil, storeError(err, "template")
	}
	if !template.Active {
		return nil, apperr.FailedPrecondition("template is not active")
	}

	envelopeReq := EnvelopeRequest{
		Name:           req.Options.Name,
		TemplateID:     template.ProviderTemplateID,
		ExpirationDays: req.Options.ExpirationDays,
		ReminderDays:   req.Options.ReminderDays,
		Subject:        req.Options.EmailSubject,
		Message:        req.Options.EmailMessage,
		WebhookURL:     s.publicBaseURL + "/webhook/signing",
		WebhookEvents:  WebhookEvents,
	}
	for _, signer := range req.Signers {
		envelopeReq.Signers = append(envelopeReq.Signers, EnvelopeSigner{
			Email: signer.Email,
			Name:  signer.Name,
			Role:  signer.Role,
			Order: signer.Order,
		})
	}

	gctx, cancel := s.gatewayContext(ctx)
	envelope, err := s.gateway.CreateEnvelope(gctx, envelopeReq)
	cancel()
	if err != nil {
		log.Error().Err(err).Str("transaction_id", req.TransactionID).Msg("failed to create envelope")
		return nil, gatewayError(err)
	}

	now := s.Now()
	session := &models.SigningSession{
		ID:            s.NewID(),
		EnvelopeID:    envelope.ID,
		TransactionID: req.TransactionID,
		TemplateID:    template.ID,
		Name:          req.Options.Name,
		Status:        models.SessionStatusPending,
		CreatedBy:     caller.UserID,
		CreatorEmail:  models.NormalizeEmail(caller.Email),
		Metadata:      req.Options.Metadata,
		ReminderDays:  req.Options.ReminderDays,
		CreatedAt:     now,
		ExpiresAt:     now.AddDate(0, 0, req.Options.ExpirationDays),
	}
	for _, signer := range req.Signers {
		session.Signers = append(session.Signers, models.Signer{
			Email:     signer.Email,
			Name:      signer.Name,
			Role:      signer.Role,
			Phone:     signer.Phone,
			SignOrder: signer.Order,
			Status:    models.SignerStatusPending,
		})
	}

	if err := s.store.CreateSession(ctx, session); err != nil {
		log.Error().Err(err).
			Str("envelope_id", envelope.ID).
			Str("transaction_id", req.TransactionID).
			Msg("session persistence failed after envelope creation, envelope needs reconciliation")
		s.compensateEnvelope(ctx, envelope.ID)
		return nil, apperr.Unavailable(err, "failed to save signing session")
	}

	metrics.SessionsCreated.Inc()
	log.Info().
		Str("session_id", session.ID).
		Str("envelope_id", envelope.ID).
		Str("transaction_id", session.TransactionID).
		Int("signers", len(session.Signers)).
		Msg("signing session created")

	s.notifier.SignatureRequested(ctx, session, envelope.SigningURLs)

	urls := envelope.SigningURLs
	if urls == nil {
		urls = map[string]string{}
	}
	return &CreateSessionResult{SessionID: session.ID, EnvelopeID: envelope.ID, SigningURLs: urls}, nil
}

// compensateEnvelope cancels an envelope that has no local session.
func (s *SigningService) compensateEnvelope(ctx context.Context, envelopeID string) {
	gctx, cancel := s.gatewayContext(context.WithoutCancel(ctx))
	defer cancel()
	if err := s.gateway.CancelEnvelope(gctx, envelopeID, "session could not be recorded"); err != nil {
		log.Error().Err(err).Str("envelope_id", envelopeID).Msg("compensating envelope cancel failed, manual reconciliation required")
		return
	}
	log.Warn().Str("envelope_id", envelopeID).Msg("orphaned envelope cancelled")
}

func canManage(caller *models.Caller, session *models.SigningSession) bool {
	return caller.IsStaff() || (caller != nil && caller.UserID != "" && caller.UserID == session.CreatedBy)
}

func canView(caller *models.Caller, session *models.SigningSession) bool {
	if canManage(caller, session) {
		return true
	}
	return caller != nil && caller.Email != "" && session.FindSigner(models.NormalizeEmail(caller.Email)) != nil
}

// GetSession returns a session visible to the caller.
func (s *SigningService) GetSession(ctx context.Context, caller *models.Caller, sessionID string) (*models.SigningSession, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, storeError(err, "session")
	}
	if !canView(caller, session) {
		return nil, apperr.PermissionDenied("not allowed to view this session")
	}
	return session, nil
}

// CancelSession withdraws a pending session at the provider and locally.
func (s *SigningService) CancelSession(ctx context.Context, caller *models.Caller, sessionID, reason string) (*models.SigningSession, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, storeError(err, "session")
	}
	if !canManage(caller, session) {
		return nil, apperr.PermissionDenied("not allowed to cancel this session")
	}
	if session.Status != models.SessionStatusPending {
		return nil, apperr.Newf(codes.FailedPrecondition, "session is already %s", session.Status)
	}
	if reason == "" {
		reason = "Cancelled by sender"
	}

	gctx, cancel := s.gatewayContext(ctx)
	err = s.gateway.CancelEnvelope(gctx, session.EnvelopeID, reason)
	cancel()
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Str("envelope_id", session.EnvelopeID).Msg("failed to cancel envelope")
		return nil, gatewayError(err)
	}

	applied, err := s.store.TransitionSession(ctx, sessionID, storage.SessionTransition{
		From:   models.SessionStatusPending,
		To:     models.SessionStatusCancelled,
		At:     s.Now(),
		Reason: reason,
	})
	if err != nil {
		return nil, storeError(err, "session")
	}
	if !applied {
		return nil, apperr.FailedPrecondition("session is no longer pending")
	}
	metrics.SessionTransitions.WithLabelValues(models.SessionStatusCancelled, "api").Inc()
	log.Info().Str("session_id", sessionID).Str("by", caller.UserID).Msg("signing session cancelled")

	updated, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, storeError(err, "session")
	}
	s.notifier.SessionCancelled(ctx, updated, reason)
	return updated, nil
}

// ResendReminder re-sends the signing request to one signer, or to every signer
// who has not signed yet when email is empty. Returns the reminded emails.
func (s *SigningService) ResendReminder(ctx context.Context, caller *models.Caller, sessionID, email string) ([]string, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, storeError(err, "session")
	}
	if !canManage(caller, session) {
		return nil, apperr.PermissionDenied("not allowed to send reminders for this session")
	}
	if session.Status != models.SessionStatusPending {
		return nil, apperr.Newf(codes.FailedPrecondition, "session is already %s", session.Status)
	}

	var targets []*models.Signer
	if email = models.NormalizeEmail(email); email != "" {
		signer := session.FindSigner(email)
		if signer == nil {
			return nil, apperr.NotFound("signer not found")
		}
		if signer.Status == models.SignerStatusSigned {
			return nil, apperr.FailedPrecondition("signer has already signed")
		}
		targets = append(targets, signer)
	} else {
		for i := range session.Signers {
			if session.Signers[i].Status != models.SignerStatusSigned {
				targets = append(targets, &session.Signers[i])
			}
		}
	}

	reminded := make([]string, 0, len(targets))
	for _, signer := range targets {
		gctx, cancel := s.gatewayContext(ctx)
		err := s.gateway.SendReminder(gctx, session.EnvelopeID, signer.Email)
		cancel()
		if err != nil {
			log.Error().Err(err).Str("session_id", sessionID).Str("email", signer.Email).Msg("failed to send provider reminder")
			return reminded, gatewayError(err)
		}
		s.notifier.ReminderSent(ctx, session, signer)
		reminded = append(reminded, signer.Email)
	}
	log.Info().Str("session_id", sessionID).Strs("signers", reminded).Msg("reminders sent")
	return reminded, nil
}
