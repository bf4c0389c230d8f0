package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/memblob"

	"github.com/Ananth-NQI/signdesk-backend/internal/models"
	"github.com/Ananth-NQI/signdesk-backend/internal/services"
	"github.com/Ananth-NQI/signdesk-backend/internal/storage"
	"github.com/Ananth-NQI/signdesk-backend/internal/utils"
)

const (
	WebhookSecret = "test-webhook-secret"
	BlobBaseURL   = "http://localhost:8080/blobs"
	TemplateID    = "TPL-purchase"
)

var (
	Agent  = &models.Caller{UserID: "agent-1", Email: "agent@brokerage.test", Role: models.RoleAgent}
	Admin  = &models.Caller{UserID: "admin-1", Email: "admin@brokerage.test", Role: models.RoleAdmin}
	Client = &models.Caller{UserID: "client-1", Email: "buyer@example.com", Role: models.RoleClient}
)

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Harness wires every service on top of the memory store and fakes.
type Harness struct {
	Store       *storage.MemoryStore
	Gateway     *FakeGateway
	Mail        *services.MockMailTransport
	SMS         *services.MockSMSSender
	Blobs       *storage.BucketStore
	Idempotency *storage.MemoryIdempotencyStore
	Clock       *Clock
	Notifier    *services.Notifier

	Signing       *services.SigningService
	OTP           *services.OTPService
	Documents     *services.DocumentService
	Webhooks      *services.WebhookService
	Templates     *services.TemplateService
	Notifications *services.NotificationService

	// Code is what the OTP service hands out next.
	Code string
}

// NewHarness builds a harness whose clock starts at 2024-03-01 09:00 UTC and
// which holds one active template with id TemplateID.
func NewHarness(t *testing.T) *Harness {
	t.Helper()

	h := &Harness{
		Store:       storage.NewMemoryStore(),
		Gateway:     NewFakeGateway(),
		Mail:        services.NewMockMailTransport(),
		SMS:         &services.MockSMSSender{},
		Idempotency: storage.NewMemoryIdempotencyStore(),
		Clock:       NewClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)),
		Code:        "123456",
	}

	mailer, err := services.NewMailer(h.Mail, "contracts@signdesk.test")
	require.NoError(t, err)
	hasher, err := utils.NewOTPHasher("test-otp-secret")
	require.NoError(t, err)
	cipher, err := utils.NewDocumentCipher("test-document-key")
	require.NoError(t, err)

	bucket := memblob.OpenBucket(nil)
	h.Blobs, err = storage.NewBucketStore(bucket, BlobBaseURL, []byte("test-blob-secret"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Blobs.Close() })

	h.Notifier = services.NewNotifier(h.Store, mailer, h.SMS, "https://app.signdesk.test")

	h.Signing = services.NewSigningService(h.Store, h.Gateway, h.Notifier, h.Idempotency, services.SigningConfig{
		PublicBaseURL:     "https://api.signdesk.test",
		DefaultExpiryDays: 7,
		GatewayTimeout:    time.Second,
	})
	h.Signing.Now = h.Clock.Now
	var seq int
	var seqMu sync.Mutex
	h.Signing.NewID = func() string {
		seqMu.Lock()
		defer seqMu.Unlock()
		seq++
		return fmt.Sprintf("sess-%d", seq)
	}

	h.OTP = services.NewOTPService(h.Store, h.Gateway, hasher, h.Notifier, time.Second)
	h.OTP.Now = h.Clock.Now
	h.OTP.GenerateCode = func() (string, error) { return h.Code, nil }

	h.Documents = services.NewDocumentService(h.Store, h.Blobs, cipher, h.Gateway, 15*time.Minute, time.Second)
	h.Documents.Now = h.Clock.Now

	h.Webhooks = services.NewWebhookService(h.Store, h.Documents, h.Notifier, WebhookSecret)
	h.Webhooks.Now = h.Clock.Now

	h.Templates = services.NewTemplateService(h.Store, h.Gateway, time.Second)
	h.Notifications = services.NewNotificationService(h.Store)

	require.NoError(t, h.Store.CreateTemplate(context.Background(), &models.SigningTemplate{
		ID:                 TemplateID,
		Name:               "Purchase agreement",
		Category:           "purchase_agreement",
		ProviderTemplateID: "ptpl-purchase",
		Active:             true,
	}))
	return h
}

// CreateSession creates a session for txn with the given signer emails.
func (h *Harness) CreateSession(t *testing.T, txn string, emails ...string) *services.CreateSessionResult {
	t.Helper()
	req := services.CreateSessionRequest{TransactionID: txn, TemplateID: TemplateID}
	for i, email := range emails {
		req.Signers = append(req.Signers, services.SignerInput{Email: email, Name: fmt.Sprintf("Signer %d", i+1)})
	}
	result, err := h.Signing.CreateSession(context.Background(), Agent, req)
	require.NoError(t, err)
	return result
}

// Session reads a session straight from the store.
func (h *Harness) Session(t *testing.T, id string) *models.SigningSession {
	t.Helper()
	session, err := h.Store.GetSession(context.Background(), id)
	require.NoError(t, err)
	return session
}

// Event builds a signed webhook body.
func (h *Harness) Event(t *testing.T, event models.ProviderEvent) ([]byte, string) {
	t.Helper()
	body, err := json.Marshal(event)
	require.NoError(t, err)
	return body, utils.SignHex(WebhookSecret, body)
}

// Deliver signs and applies one webhook event.
func (h *Harness) Deliver(t *testing.T, event models.ProviderEvent) (*services.WebhookResult, error) {
	t.Helper()
	body, sig := h.Event(t, event)
	return h.Webhooks.HandleEvent(context.Background(), body, sig)
}

// NotificationsOfType counts in-app notifications of one type for a session.
func (h *Harness) NotificationsOfType(sessionID, kind string) int {
	n := 0
	for _, notification := range h.Store.Notifications() {
		if notification.SessionID == sessionID && notification.Type == kind {
			n++
		}
	}
	return n
}
