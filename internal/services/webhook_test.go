package services_test

import (
	"context"
	"math/rand"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"

	"github.com/Ananth-NQI/signdesk-backend/internal/apperr"
	"github.com/Ananth-NQI/signdesk-backend/internal/models"
	"github.com/Ananth-NQI/signdesk-backend/internal/services"
	"github.com/Ananth-NQI/signdesk-backend/internal/storage"
	"github.com/Ananth-NQI/signdesk-backend/internal/testutil"
	"github.com/Ananth-NQI/signdesk-backend/internal/utils"
)

func lastReceipt(t *testing.T, h *testutil.Harness) models.WebhookReceipt {
	t.Helper()
	receipts := h.Store.Receipts()
	require.NotEmpty(t, receipts)
	return receipts[len(receipts)-1]
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	h := testutil.NewHarness(t)
	created := h.CreateSession(t, "txn-1", "a@example.com")
	body, _ := h.Event(t, models.ProviderEvent{EnvelopeID: created.EnvelopeID, Type: "envelope.signed", SignerEmail: "a@example.com"})

	for _, sig := range []string{"", "deadbeef", "sha256=00"} {
		_, err := h.Webhooks.HandleEvent(context.Background(), body, sig)
		assert.Equal(t, codes.Unauthenticated, apperr.CodeOf(err))
	}

	receipt := lastReceipt(t, h)
	assert.Equal(t, models.ReceiptRejected, receipt.Outcome)
	assert.False(t, receipt.SignatureValid)
	assert.Len(t, h.Store.Receipts(), 3)

	signer := h.Session(t, created.SessionID).FindSigner("a@example.com")
	assert.Equal(t, models.SignerStatusPending, signer.Status)
}

func TestWebhookRejectsMalformedBody(t *testing.T) {
	h := testutil.NewHarness(t)
	body := []byte(`{"type": "envelope.signed"`)
	_, err := h.Webhooks.HandleEvent(context.Background(), body, utils.SignHex(testutil.WebhookSecret, body))
	assert.Equal(t, codes.InvalidArgument, apperr.CodeOf(err))
	assert.Equal(t, models.ReceiptInvalid, lastReceipt(t, h).Outcome)
}

func TestWebhookUnknownEnvelope(t *testing.T) {
	h := testutil.NewHarness(t)
	_, err := h.Deliver(t, models.ProviderEvent{EnvelopeID: "env-unknown", Type: "envelope.viewed"})
	assert.Equal(t, codes.NotFound, apperr.CodeOf(err))

	receipt := lastReceipt(t, h)
	assert.Equal(t, models.ReceiptNotFound, receipt.Outcome)
	assert.True(t, receipt.SignatureValid)
}

func TestWebhookViewedAndSigned(t *testing.T) {
	h := testutil.NewHarness(t)
	created := h.CreateSession(t, "txn-1", "a@example.com", "b@example.com")

	result, err := h.Deliver(t, models.ProviderEvent{EnvelopeID: created.EnvelopeID, Type: "envelope.viewed", SignerEmail: "A@example.com"})
	require.NoError(t, err)
	assert.Equal(t, models.ReceiptApplied, result.Outcome)
	assert.Equal(t, "viewed", result.EventType)

	session := h.Session(t, created.SessionID)
	assert.Equal(t, models.SignerStatusViewed, session.FindSigner("a@example.com").Status)
	assert.Equal(t, models.SignerStatusPending, session.FindSigner("b@example.com").Status)

	result, err = h.Deliver(t, models.ProviderEvent{
		EnvelopeID:  created.EnvelopeID,
		Type:        "envelope.signed",
		SignerEmail: "a@example.com",
		IPAddress:   "203.0.113.7",
		UserAgent:   "Mozilla/5.0",
	})
	require.NoError(t, err)
	assert.Equal(t, models.ReceiptApplied, result.Outcome)

	signer := h.Session(t, created.SessionID).FindSigner("a@example.com")
	assert.Equal(t, models.SignerStatusSigned, signer.Status)
	assert.Equal(t, "203.0.113.7", signer.IPAddress)
	require.NotNil(t, signer.SignedAt)

	// a late viewed event does not move the signer back
	result, err = h.Deliver(t, models.ProviderEvent{EnvelopeID: created.EnvelopeID, Type: "viewed", SignerEmail: "a@example.com"})
	require.NoError(t, err)
	assert.Equal(t, models.ReceiptNoop, result.Outcome)
	assert.Equal(t, models.SignerStatusSigned, h.Session(t, created.SessionID).FindSigner("a@example.com").Status)
}

func TestWebhookReplayNotifiesOnce(t *testing.T) {
	h := testutil.NewHarness(t)
	created := h.CreateSession(t, "txn-1", "a@example.com", "b@example.com")
	event := models.ProviderEvent{EnvelopeID: created.EnvelopeID, Type: "envelope.signed", SignerEmail: "a@example.com"}

	first, err := h.Deliver(t, event)
	require.NoError(t, err)
	second, err := h.Deliver(t, event)
	require.NoError(t, err)

	assert.Equal(t, models.ReceiptApplied, first.Outcome)
	assert.Equal(t, models.ReceiptNoop, second.Outcome)
	assert.Equal(t, 1, h.NotificationsOfType(created.SessionID, models.NotificationDocumentSigned))
}

func TestWebhookUnknownSignerIgnored(t *testing.T) {
	h := testutil.NewHarness(t)
	created := h.CreateSession(t, "txn-1", "a@example.com")

	result, err := h.Deliver(t, models.ProviderEvent{EnvelopeID: created.EnvelopeID, Type: "envelope.signed", SignerEmail: "mallory@example.com"})
	require.NoError(t, err)
	assert.Equal(t, models.ReceiptIgnored, result.Outcome)

	result, err = h.Deliver(t, models.ProviderEvent{EnvelopeID: created.EnvelopeID, Type: "envelope.reassigned"})
	require.NoError(t, err)
	assert.Equal(t, models.ReceiptIgnored, result.Outcome)
}

func TestWebhookTwoSignersComplete(t *testing.T) {
	h := testutil.NewHarness(t)
	ctx := context.Background()
	created := h.CreateSession(t, "txn-42", "a@example.com", "b@example.com")

	signedPDF := []byte("%PDF-1.7 signed contract")
	auditPDF := []byte("%PDF-1.7 audit trail")
	h.Gateway.Documents["https://files.opensign.test/signed.pdf"] = signedPDF
	h.Gateway.Documents["https://files.opensign.test/audit.pdf"] = auditPDF

	for _, email := range []string{"a@example.com", "b@example.com"} {
		_, err := h.Deliver(t, models.ProviderEvent{EnvelopeID: created.EnvelopeID, Type: "envelope.signed", SignerEmail: email})
		require.NoError(t, err)
	}
	assert.Equal(t, models.SessionStatusPending, h.Session(t, created.SessionID).Status)

	completed := models.ProviderEvent{
		EnvelopeID: created.EnvelopeID,
		Type:       "envelope.completed",
		Documents: &models.ProviderDocuments{
			Signed: "https://files.opensign.test/signed.pdf",
			Audit:  "https://files.opensign.test/audit.pdf",
		},
	}
	result, err := h.Deliver(t, completed)
	require.NoError(t, err)
	assert.Equal(t, models.ReceiptApplied, result.Outcome)

	session := h.Session(t, created.SessionID)
	assert.Equal(t, models.SessionStatusCompleted, session.Status)
	require.NotNil(t, session.CompletedAt)
	assert.Equal(t, services.ArtifactPath("txn-42", created.SessionID, models.DocumentKindSigned), session.SignedDocumentPath)
	assert.Equal(t, services.ArtifactPath("txn-42", created.SessionID, models.DocumentKindAudit), session.AuditDocumentPath)

	// stored encrypted
	raw, err := h.Blobs.Get(ctx, session.SignedDocumentPath)
	require.NoError(t, err)
	assert.NotEqual(t, signedPDF, raw)

	link, err := h.Documents.GetDownloadURL(ctx, testutil.Agent, created.SessionID, models.DocumentKindSigned)
	require.NoError(t, err)
	u, err := url.Parse(link.URL)
	require.NoError(t, err)
	data, err := h.Documents.OpenArtifact(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, signedPDF, data)

	// 2 signers plus the creator
	assert.Equal(t, 3, h.NotificationsOfType(created.SessionID, models.NotificationSessionCompleted))

	replay, err := h.Deliver(t, completed)
	require.NoError(t, err)
	assert.Equal(t, models.ReceiptNoop, replay.Outcome)
	assert.Equal(t, 3, h.NotificationsOfType(created.SessionID, models.NotificationSessionCompleted))
}

func TestWebhookCompletedStorageFailureIsRetryable(t *testing.T) {
	h := testutil.NewHarness(t)
	created := h.CreateSession(t, "txn-1", "a@example.com")
	h.Gateway.Documents["https://files.opensign.test/signed.pdf"] = []byte("%PDF signed")

	completed := models.ProviderEvent{
		EnvelopeID: created.EnvelopeID,
		Type:       "envelope.completed",
		Documents:  &models.ProviderDocuments{Signed: "https://files.opensign.test/signed.pdf"},
	}

	h.Gateway.DownloadErr = assert.AnError
	_, err := h.Deliver(t, completed)
	assert.Equal(t, codes.Unavailable, apperr.CodeOf(err))
	assert.Equal(t, models.ReceiptFailed, lastReceipt(t, h).Outcome)
	assert.Equal(t, models.SessionStatusPending, h.Session(t, created.SessionID).Status)

	h.Gateway.DownloadErr = nil
	result, err := h.Deliver(t, completed)
	require.NoError(t, err)
	assert.Equal(t, models.ReceiptApplied, result.Outcome)

	session := h.Session(t, created.SessionID)
	assert.Equal(t, models.SessionStatusCompleted, session.Status)
	assert.NotEmpty(t, session.SignedDocumentPath)
	assert.Empty(t, session.AuditDocumentPath)
}

func TestWebhookDeclined(t *testing.T) {
	h := testutil.NewHarness(t)
	created := h.CreateSession(t, "txn-1", "a@example.com", "b@example.com")

	result, err := h.Deliver(t, models.ProviderEvent{EnvelopeID: created.EnvelopeID, Type: "envelope.declined", SignerEmail: "b@example.com"})
	require.NoError(t, err)
	assert.Equal(t, models.ReceiptApplied, result.Outcome)

	session := h.Session(t, created.SessionID)
	assert.Equal(t, models.SessionStatusDeclined, session.Status)
	assert.Equal(t, "b@example.com", session.DeclinedBy)
	assert.Equal(t, "No reason provided", session.DeclineReason)

	// signer events after a terminal status change nothing
	result, err = h.Deliver(t, models.ProviderEvent{EnvelopeID: created.EnvelopeID, Type: "envelope.signed", SignerEmail: "a@example.com"})
	require.NoError(t, err)
	assert.Equal(t, models.ReceiptNoop, result.Outcome)
	assert.Equal(t, models.SignerStatusPending, h.Session(t, created.SessionID).FindSigner("a@example.com").Status)

	result, err = h.Deliver(t, models.ProviderEvent{EnvelopeID: created.EnvelopeID, Type: "envelope.completed"})
	require.NoError(t, err)
	assert.Equal(t, models.ReceiptNoop, result.Outcome)
	assert.Equal(t, models.SessionStatusDeclined, h.Session(t, created.SessionID).Status)
	assert.Equal(t, 1, h.NotificationsOfType(created.SessionID, models.NotificationDocumentDeclined))
}

// TestSessionStatusNeverLeavesTerminal feeds random event sequences and checks
// that the first terminal status sticks.
func TestSessionStatusNeverLeavesTerminal(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	emails := []string{"a@example.com", "b@example.com", "c@example.com"}
	types := []string{"envelope.viewed", "envelope.signed", "envelope.completed", "envelope.declined"}

	for run := 0; run < 25; run++ {
		h := testutil.NewHarness(t)
		ctx := context.Background()
		created := h.CreateSession(t, "txn-1", emails...)

		var terminal string
		for step := 0; step < 20; step++ {
			switch n := rng.Intn(10); {
			case n < 8:
				_, err := h.Deliver(t, models.ProviderEvent{
					EnvelopeID:  created.EnvelopeID,
					Type:        types[rng.Intn(len(types))],
					SignerEmail: emails[rng.Intn(len(emails))],
				})
				require.NoError(t, err)
			case n == 8:
				_, _ = h.Signing.CancelSession(ctx, testutil.Agent, created.SessionID, "")
			default:
				_, err := h.Store.TransitionSession(ctx, created.SessionID, storage.SessionTransition{
					From: models.SessionStatusPending,
					To:   models.SessionStatusExpired,
					At:   h.Clock.Now(),
				})
				require.NoError(t, err)
			}

			status := h.Session(t, created.SessionID).Status
			if terminal != "" {
				require.Equal(t, terminal, status, "run %d step %d", run, step)
			} else if models.IsTerminalStatus(status) {
				terminal = status
			}
		}
	}
}
