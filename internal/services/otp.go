package services

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Ananth-NQI/signdesk-backend/internal/apperr"
	"github.com/Ananth-NQI/signdesk-backend/internal/metrics"
	"github.com/Ananth-NQI/signdesk-backend/internal/models"
	"github.com/Ananth-NQI/signdesk-backend/internal/storage"
	"github.com/Ananth-NQI/signdesk-backend/internal/utils"
)

// OTPService issues and verifies signer one-time passcodes.
type OTPService struct {
	store    storage.Store
	gateway  EnvelopeGateway
	hasher   *utils.OTPHasher
	notifier *Notifier
	timeout  time.Duration

	// Now is the clock; replaced in tests.
	Now func() time.Time
	// GenerateCode produces the plaintext code; replaced in tests.
	GenerateCode func() (string, error)
}

func NewOTPService(store storage.Store, gateway EnvelopeGateway, hasher *utils.OTPHasher, notifier *Notifier, timeout time.Duration) *OTPService {
	return &OTPService{
		store:        store,
		gateway:      gateway,
		hasher:       hasher,
		notifier:     notifier,
		timeout:      timeout,
		Now:          time.Now,
		GenerateCode: utils.GenerateSecureOTP,
	}
}

func (s *OTPService) loadSigner(ctx context.Context, sessionID, email string) (*models.SigningSession, *models.Signer, error) {
	if sessionID == "" || email == "" {
		return nil, nil, apperr.InvalidArgument("sessionId and email are required")
	}
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, storeError(err, "session")
	}
	signer := session.FindSigner(email)
	if signer == nil {
		return nil, nil, apperr.NotFound("signer not found")
	}
	return session, signer, nil
}

// IssueOTP generates a fresh code for one signer, replacing any previous one, and
// sends it out of band. The code is never returned to the caller.
func (s *OTPService) IssueOTP(ctx context.Context, sessionID, email string) error {
	email = models.NormalizeEmail(email)
	session, signer, err := s.loadSigner(ctx, sessionID, email)
	if err != nil {
		return err
	}
	if signer.Locked {
		return apperr.PermissionDenied("signer is locked after too many failed attempts")
	}
	if session.Status != models.SessionStatusPending {
		return apperr.FailedPrecondition("session is no longer pending")
	}

	code, err := s.GenerateCode()
	if err != nil {
		return apperr.Internal(err)
	}
	expiresAt := s.Now().Add(models.OTPTTL)

	applied, err := s.store.SetSignerOTP(ctx, sessionID, email, s.hasher.Hash(sessionID, email, code), expiresAt)
	if err != nil {
		return storeError(err, "signer")
	}
	if !applied {
		return apperr.PermissionDenied("signer is locked after too many failed attempts")
	}

	if err := s.notifier.SendOTP(ctx, session, signer, code, models.OTPTTL); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Str("email", email).Msg("failed to deliver otp")
		return apperr.Unavailable(err, "failed to deliver verification code")
	}

	metrics.OTPIssued.Inc()
	log.Info().Str("session_id", sessionID).Str("email", email).Time("expires_at", expiresAt).Msg("otp issued")
	return nil
}

// VerifyOTP checks a code and, on success, returns the signer's signing URL.
func (s *OTPService) VerifyOTP(ctx context.Context, sessionID, email, code string) (string, error) {
	email = models.NormalizeEmail(email)
	code = strings.TrimSpace(code)
	if code == "" {
		return "", apperr.InvalidArgument("code is required")
	}

	session, signer, err := s.loadSigner(ctx, sessionID, email)
	if err != nil {
		return "", err
	}
	if signer.Locked {
		metrics.OTPVerifications.WithLabelValues(metrics.ResultLocked).Inc()
		return "", apperr.PermissionDenied("signer is locked after too many failed attempts")
	}
	now := s.Now()
	if signer.OTPHash == "" || signer.OTPExpiresAt == nil || !now.Before(*signer.OTPExpiresAt) {
		metrics.OTPVerifications.WithLabelValues(metrics.ResultExpired).Inc()
		return "", apperr.FailedPrecondition("no valid verification code pending, request a new one")
	}
	if session.Status != models.SessionStatusPending {
		return "", apperr.FailedPrecondition("session is no longer pending")
	}

	stored := signer.OTPHash
	if !s.hasher.Equal(s.hasher.Hash(sessionID, email, code), stored) {
		return "", s.rejectCode(ctx, sessionID, email, stored)
	}

	applied, err := s.store.ConsumeOTP(ctx, sessionID, email, stored, now)
	if err != nil {
		return "", storeError(err, "signer")
	}
	if !applied {
		return "", apperr.FailedPrecondition("verification code is no longer valid")
	}
	metrics.OTPVerifications.WithLabelValues(metrics.ResultOK).Inc()

	gctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	signingURL, err := s.gateway.GetSigningURL(gctx, session.EnvelopeID, email)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Str("envelope_id", session.EnvelopeID).Msg("failed to get signing url")
		return "", gatewayError(err)
	}

	log.Info().Str("session_id", sessionID).Str("email", email).Msg("otp verified")
	return signingURL, nil
}

// rejectCode counts a failed attempt against the hash that was compared and
// reports whether the signer is now locked.
func (s *OTPService) rejectCode(ctx context.Context, sessionID, email, stored string) error {
	metrics.OTPVerifications.WithLabelValues(metrics.ResultInvalid).Inc()

	applied, locked, err := s.store.RecordOTPFailure(ctx, sessionID, email, stored, models.OTPMaxAttempts)
	if err != nil {
		return storeError(err, "signer")
	}
	if locked {
		if applied {
			log.Warn().Str("session_id", sessionID).Str("email", email).Msg("signer locked after failed otp attempts")
		}
		return apperr.PermissionDenied("too many failed attempts, signer is locked")
	}
	return apperr.InvalidArgument("invalid verification code")
}
