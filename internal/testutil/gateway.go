// Package testutil holds fakes shared by service, job and handler tests.
package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/Ananth-NQI/signdesk-backend/internal/services"
)

// FakeGateway is an in-memory signing provider.
type FakeGateway struct {
	mu        sync.Mutex
	next      int
	envelopes map[string]services.EnvelopeRequest
	cancelled []string
	reminders []string
	templates []services.TemplateRequest

	// Documents maps a download URL to the bytes served for it.
	Documents map[string][]byte

	CreateErr     error
	CancelErr     error
	SigningURLErr error
	ReminderErr   error
	TemplateErr   error
	DownloadErr   error
}

var _ services.EnvelopeGateway = (*FakeGateway)(nil)

func NewFakeGateway() *FakeGateway {
	return &FakeGateway{
		envelopes: make(map[string]services.EnvelopeRequest),
		Documents: make(map[string][]byte),
	}
}

func (g *FakeGateway) CreateEnvelope(_ context.Context, req services.EnvelopeRequest) (*services.Envelope, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.CreateErr != nil {
		return nil, g.CreateErr
	}
	g.next++
	id := fmt.Sprintf("env-%d", g.next)
	g.envelopes[id] = req

	urls := make(map[string]string, len(req.Signers))
	for _, signer := range req.Signers {
		urls[signer.Email] = SigningURL(id, signer.Email)
	}
	return &services.Envelope{ID: id, SigningURLs: urls}, nil
}

func (g *FakeGateway) CancelEnvelope(_ context.Context, envelopeID, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.CancelErr != nil {
		return g.CancelErr
	}
	g.cancelled = append(g.cancelled, envelopeID)
	return nil
}

func (g *FakeGateway) GetSigningURL(_ context.Context, envelopeID, signerEmail string) (string, error) {
	if g.SigningURLErr != nil {
		return "", g.SigningURLErr
	}
	return SigningURL(envelopeID, signerEmail), nil
}

func (g *FakeGateway) SendReminder(_ context.Context, envelopeID, signerEmail string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ReminderErr != nil {
		return g.ReminderErr
	}
	g.reminders = append(g.reminders, envelopeID+"/"+signerEmail)
	return nil
}

func (g *FakeGateway) CreateTemplate(_ context.Context, req services.TemplateRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.TemplateErr != nil {
		return "", g.TemplateErr
	}
	g.templates = append(g.templates, req)
	return fmt.Sprintf("ptpl-%d", len(g.templates)), nil
}

func (g *FakeGateway) DownloadDocument(_ context.Context, documentURL string) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.DownloadErr != nil {
		return nil, g.DownloadErr
	}
	data, ok := g.Documents[documentURL]
	if !ok {
		return nil, &services.ProviderError{Operation: "download document", StatusCode: 404}
	}
	return data, nil
}

// Envelope returns the request an envelope was created from.
func (g *FakeGateway) Envelope(id string) (services.EnvelopeRequest, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	req, ok := g.envelopes[id]
	return req, ok
}

// EnvelopeCount is the number of envelopes created so far.
func (g *FakeGateway) EnvelopeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.envelopes)
}

func (g *FakeGateway) Cancelled() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.cancelled...)
}

func (g *FakeGateway) Reminders() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.reminders...)
}

// SigningURL is the link the fake provider hands out for one signer.
func SigningURL(envelopeID, email string) string {
	return fmt.Sprintf("https://sign.test/%s/%s", envelopeID, email)
}
