package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"

	"github.com/Ananth-NQI/signdesk-backend/internal/apperr"
	"github.com/Ananth-NQI/signdesk-backend/internal/models"
	"github.com/Ananth-NQI/signdesk-backend/internal/services"
	"github.com/Ananth-NQI/signdesk-backend/internal/testutil"
)

func TestIssueAndVerifyOTP(t *testing.T) {
	h := testutil.NewHarness(t)
	ctx := context.Background()
	created := h.CreateSession(t, "txn-1", "a@example.com")

	require.NoError(t, h.OTP.IssueOTP(ctx, created.SessionID, "A@Example.com"))

	signer := h.Session(t, created.SessionID).FindSigner("a@example.com")
	require.NotNil(t, signer)
	assert.NotEmpty(t, signer.OTPHash)
	assert.NotContains(t, signer.OTPHash, h.Code)
	assert.Equal(t, h.Clock.Now().Add(models.OTPTTL), *signer.OTPExpiresAt)

	mails := h.Mail.SentMails()
	last := mails[len(mails)-1]
	assert.Equal(t, "Your verification code", last.Subject)
	assert.Contains(t, string(last.HTML), h.Code)

	url, err := h.OTP.VerifyOTP(ctx, created.SessionID, "a@example.com", h.Code)
	require.NoError(t, err)
	assert.Equal(t, testutil.SigningURL(created.EnvelopeID, "a@example.com"), url)

	signer = h.Session(t, created.SessionID).FindSigner("a@example.com")
	assert.True(t, signer.OTPVerified)
	assert.Empty(t, signer.OTPHash)

	// single use
	_, err = h.OTP.VerifyOTP(ctx, created.SessionID, "a@example.com", h.Code)
	assert.Equal(t, codes.FailedPrecondition, apperr.CodeOf(err))
}

func TestOTPLockout(t *testing.T) {
	h := testutil.NewHarness(t)
	ctx := context.Background()
	created := h.CreateSession(t, "txn-1", "a@example.com")
	require.NoError(t, h.OTP.IssueOTP(ctx, created.SessionID, "a@example.com"))

	for i := 1; i < models.OTPMaxAttempts; i++ {
		_, err := h.OTP.VerifyOTP(ctx, created.SessionID, "a@example.com", "000000")
		assert.Equal(t, codes.InvalidArgument, apperr.CodeOf(err), "attempt %d", i)
	}
	_, err := h.OTP.VerifyOTP(ctx, created.SessionID, "a@example.com", "000000")
	assert.Equal(t, codes.PermissionDenied, apperr.CodeOf(err))

	signer := h.Session(t, created.SessionID).FindSigner("a@example.com")
	assert.True(t, signer.Locked)
	assert.Equal(t, models.OTPMaxAttempts, signer.FailedAttempts)

	// the right code no longer helps
	_, err = h.OTP.VerifyOTP(ctx, created.SessionID, "a@example.com", h.Code)
	assert.Equal(t, codes.PermissionDenied, apperr.CodeOf(err))

	// and a locked signer cannot get a new one
	err = h.OTP.IssueOTP(ctx, created.SessionID, "a@example.com")
	assert.Equal(t, codes.PermissionDenied, apperr.CodeOf(err))
}

func TestOTPReissueResetsAttempts(t *testing.T) {
	h := testutil.NewHarness(t)
	ctx := context.Background()
	created := h.CreateSession(t, "txn-1", "a@example.com")

	require.NoError(t, h.OTP.IssueOTP(ctx, created.SessionID, "a@example.com"))
	for i := 1; i < models.OTPMaxAttempts; i++ {
		_, err := h.OTP.VerifyOTP(ctx, created.SessionID, "a@example.com", "999999")
		require.Error(t, err)
	}

	h.Code = "654321"
	require.NoError(t, h.OTP.IssueOTP(ctx, created.SessionID, "a@example.com"))
	assert.Zero(t, h.Session(t, created.SessionID).FindSigner("a@example.com").FailedAttempts)

	// the previous code is gone
	_, err := h.OTP.VerifyOTP(ctx, created.SessionID, "a@example.com", "123456")
	assert.Equal(t, codes.InvalidArgument, apperr.CodeOf(err))

	_, err = h.OTP.VerifyOTP(ctx, created.SessionID, "a@example.com", "654321")
	assert.NoError(t, err)
}

func TestOTPExpiry(t *testing.T) {
	h := testutil.NewHarness(t)
	ctx := context.Background()
	created := h.CreateSession(t, "txn-1", "a@example.com")
	require.NoError(t, h.OTP.IssueOTP(ctx, created.SessionID, "a@example.com"))

	h.Clock.Advance(models.OTPTTL)
	_, err := h.OTP.VerifyOTP(ctx, created.SessionID, "a@example.com", h.Code)
	assert.Equal(t, codes.FailedPrecondition, apperr.CodeOf(err))

	// expiry does not count as a failed attempt
	assert.Zero(t, h.Session(t, created.SessionID).FindSigner("a@example.com").FailedAttempts)
}

func TestOTPRequiresPendingSession(t *testing.T) {
	h := testutil.NewHarness(t)
	ctx := context.Background()
	created := h.CreateSession(t, "txn-1", "a@example.com")
	require.NoError(t, h.OTP.IssueOTP(ctx, created.SessionID, "a@example.com"))

	_, err := h.Signing.CancelSession(ctx, testutil.Agent, created.SessionID, "")
	require.NoError(t, err)

	_, err = h.OTP.VerifyOTP(ctx, created.SessionID, "a@example.com", h.Code)
	assert.Equal(t, codes.FailedPrecondition, apperr.CodeOf(err))
	err = h.OTP.IssueOTP(ctx, created.SessionID, "a@example.com")
	assert.Equal(t, codes.FailedPrecondition, apperr.CodeOf(err))
}

func TestOTPUnknownSigner(t *testing.T) {
	h := testutil.NewHarness(t)
	ctx := context.Background()
	created := h.CreateSession(t, "txn-1", "a@example.com")

	err := h.OTP.IssueOTP(ctx, created.SessionID, "stranger@example.com")
	assert.Equal(t, codes.NotFound, apperr.CodeOf(err))
	err = h.OTP.IssueOTP(ctx, "missing", "a@example.com")
	assert.Equal(t, codes.NotFound, apperr.CodeOf(err))
	_, err = h.OTP.VerifyOTP(ctx, created.SessionID, "a@example.com", " ")
	assert.Equal(t, codes.InvalidArgument, apperr.CodeOf(err))
}

func TestOTPDeliveredBySMS(t *testing.T) {
	h := testutil.NewHarness(t)
	ctx := context.Background()
	created, err := h.Signing.CreateSession(ctx, testutil.Agent, services.CreateSessionRequest{
		TransactionID: "txn-1",
		TemplateID:    testutil.TemplateID,
		Signers:       []services.SignerInput{{Email: "a@example.com", Name: "A", Phone: "+15550001111"}},
	})
	require.NoError(t, err)

	require.NoError(t, h.OTP.IssueOTP(ctx, created.SessionID, "a@example.com"))
	sent := h.SMS.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "+15550001111", sent[0].To)
	assert.Contains(t, sent[0].Body, h.Code)
}

func TestOTPDeliveryFailure(t *testing.T) {
	h := testutil.NewHarness(t)
	ctx := context.Background()
	created := h.CreateSession(t, "txn-1", "a@example.com")

	h.Mail.Err = assert.AnError
	err := h.OTP.IssueOTP(ctx, created.SessionID, "a@example.com")
	assert.Equal(t, codes.Unavailable, apperr.CodeOf(err))
}

func TestOTPSigningURLUnavailable(t *testing.T) {
	h := testutil.NewHarness(t)
	ctx := context.Background()
	created := h.CreateSession(t, "txn-1", "a@example.com")
	require.NoError(t, h.OTP.IssueOTP(ctx, created.SessionID, "a@example.com"))

	h.Gateway.SigningURLErr = assert.AnError
	h.Clock.Advance(time.Minute)
	_, err := h.OTP.VerifyOTP(ctx, created.SessionID, "a@example.com", h.Code)
	assert.Equal(t, codes.Unavailable, apperr.CodeOf(err))
}
