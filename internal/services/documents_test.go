package services_test

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"

	"github.com/Ananth-NQI/signdesk-backend/internal/apperr"
	"github.com/Ananth-NQI/signdesk-backend/internal/models"
	"github.com/Ananth-NQI/signdesk-backend/internal/testutil"
)

func completeSession(t *testing.T, h *testutil.Harness, emails ...string) *models.SigningSession {
	t.Helper()
	created := h.CreateSession(t, "txn-7", emails...)
	h.Gateway.Documents["https://files.opensign.test/s.pdf"] = []byte("%PDF signed")
	h.Gateway.Documents["https://files.opensign.test/a.pdf"] = []byte("%PDF audit")
	_, err := h.Deliver(t, models.ProviderEvent{
		EnvelopeID: created.EnvelopeID,
		Type:       "envelope.completed",
		Documents: &models.ProviderDocuments{
			Signed: "https://files.opensign.test/s.pdf",
			Audit:  "https://files.opensign.test/a.pdf",
		},
	})
	require.NoError(t, err)
	return h.Session(t, created.SessionID)
}

func TestDownloadURLAuthorization(t *testing.T) {
	h := testutil.NewHarness(t)
	ctx := context.Background()
	session := completeSession(t, h, "buyer@example.com")

	tests := []struct {
		name   string
		caller *models.Caller
		code   codes.Code
	}{
		{"creator", testutil.Agent, codes.OK},
		{"admin", testutil.Admin, codes.OK},
		{"signer", testutil.Client, codes.OK},
		{"stranger", &models.Caller{UserID: "u-2", Email: "nosy@example.com", Role: models.RoleClient}, codes.PermissionDenied},
		{"other agent", &models.Caller{UserID: "agent-2", Email: "x@brokerage.test", Role: models.RoleAgent}, codes.OK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			link, err := h.Documents.GetDownloadURL(ctx, tt.caller, session.ID, models.DocumentKindAudit)
			assert.Equal(t, tt.code, apperr.CodeOf(err))
			if tt.code == codes.OK {
				assert.Contains(t, link.URL, testutil.BlobBaseURL)
				assert.Equal(t, h.Clock.Now().Add(15*time.Minute), link.ExpiresAt)
			}
		})
	}
}

func TestDownloadURLErrors(t *testing.T) {
	h := testutil.NewHarness(t)
	ctx := context.Background()
	pending := h.CreateSession(t, "txn-1", "a@example.com")

	_, err := h.Documents.GetDownloadURL(ctx, testutil.Agent, pending.SessionID, models.DocumentKindSigned)
	assert.Equal(t, codes.NotFound, apperr.CodeOf(err))

	_, err = h.Documents.GetDownloadURL(ctx, testutil.Agent, pending.SessionID, "draft")
	assert.Equal(t, codes.InvalidArgument, apperr.CodeOf(err))

	_, err = h.Documents.GetDownloadURL(ctx, testutil.Agent, "missing", models.DocumentKindSigned)
	assert.Equal(t, codes.NotFound, apperr.CodeOf(err))
}

func TestOpenArtifactRejectsTamperedLink(t *testing.T) {
	h := testutil.NewHarness(t)
	ctx := context.Background()
	session := completeSession(t, h, "a@example.com")

	link, err := h.Documents.GetDownloadURL(ctx, testutil.Agent, session.ID, models.DocumentKindSigned)
	require.NoError(t, err)
	u, err := url.Parse(link.URL)
	require.NoError(t, err)

	q := u.Query()
	q.Set("obj", session.AuditDocumentPath)
	u.RawQuery = q.Encode()
	_, err = h.Documents.OpenArtifact(ctx, u)
	assert.Equal(t, codes.PermissionDenied, apperr.CodeOf(err))
}
