package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/Ananth-NQI/signdesk-backend/internal/metrics"
)

// EnvelopeSigner is one party sent to the signing provider.
type EnvelopeSigner struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
	Order int    `json:"order"`
}

// EnvelopeRequest describes a new envelope built from a provider template.
type EnvelopeRequest struct {
	Name           string           `json:"name"`
	TemplateID     string           `json:"templateId"`
	Signers        []EnvelopeSigner `json:"signers"`
	ExpirationDays int              `json:"expirationDays"`
	ReminderDays   int              `json:"reminderDays"`
	Subject        string           `json:"subject,omitempty"`
	Message        string           `json:"message,omitempty"`
	WebhookURL     string           `json:"webhookUrl"`
	WebhookEvents  []string         `json:"webhookEvents"`
}

// Envelope is the provider's answer to a create call.
type Envelope struct {
	ID          string            `json:"objectId"`
	SigningURLs map[string]string `json:"signingUrls"`
}

// TemplateRequest registers an uploaded document as a provider template.
type TemplateRequest struct {
	Name        string            `json:"name"`
	DocumentURL string            `json:"documentUrl"`
	Category    string            `json:"category"`
	CreatedBy   string            `json:"createdBy"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// EnvelopeGateway is the signing provider as seen by the engine.
type EnvelopeGateway interface {
	CreateEnvelope(ctx context.Context, req EnvelopeRequest) (*Envelope, error)
	CancelEnvelope(ctx context.Context, envelopeID, reason string) error
	GetSigningURL(ctx context.Context, envelopeID, signerEmail string) (string, error)
	SendReminder(ctx context.Context, envelopeID, signerEmail string) error
	CreateTemplate(ctx context.Context, req TemplateRequest) (string, error)
	DownloadDocument(ctx context.Context, documentURL string) ([]byte, error)
}

// WebhookEvents is the event set every envelope is registered for.
var WebhookEvents = []string{"envelope.viewed", "envelope.signed", "envelope.completed", "envelope.declined"}

const maxDocumentSize = 50 << 20

// ProviderError is a non-2xx answer from the provider.
type ProviderError struct {
	Operation  string
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s returned %d: %s", e.Operation, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s returned %d", e.Operation, e.StatusCode)
}

// OpenSignClient talks to the OpenSign Parse REST API.
type OpenSignClient struct {
	BaseURL   string
	AppID     string
	MasterKey string
	HTTP      *http.Client
	// DocumentHosts lists extra hosts DownloadDocument may fetch from.
	// The host of BaseURL is always allowed.
	DocumentHosts []string
}

var _ EnvelopeGateway = (*OpenSignClient)(nil)

// NewOpenSignClient creates a client whose requests are bounded by timeout.
func NewOpenSignClient(baseURL, appID, masterKey string, timeout time.Duration) *OpenSignClient {
	return &OpenSignClient{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		AppID:     appID,
		MasterKey: masterKey,
		HTTP:      &http.Client{Timeout: timeout},
	}
}

func (c *OpenSignClient) CreateEnvelope(ctx context.Context, req EnvelopeRequest) (*Envelope, error) {
	var out Envelope
	if err := c.post(ctx, "create envelope", "/classes/Envelope", req, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, errors.New("create envelope: provider returned no envelope id")
	}
	return &out, nil
}

func (c *OpenSignClient) CancelEnvelope(ctx context.Context, envelopeID, reason string) error {
	body := map[string]string{"envelopeId": envelopeID, "reason": reason}
	return c.post(ctx, "cancel envelope", "/functions/cancelEnvelope", body, nil)
}

func (c *OpenSignClient) GetSigningURL(ctx context.Context, envelopeID, signerEmail string) (string, error) {
	var out struct {
		Result struct {
			URL string `json:"url"`
		} `json:"result"`
	}
	body := map[string]string{"envelopeId": envelopeID, "signerEmail": signerEmail}
	if err := c.post(ctx, "get signing url", "/functions/getSigningUrl", body, &out); err != nil {
		return "", err
	}
	if out.Result.URL == "" {
		return "", errors.New("get signing url: provider returned no url")
	}
	return out.Result.URL, nil
}

func (c *OpenSignClient) SendReminder(ctx context.Context, envelopeID, signerEmail string) error {
	body := map[string]string{"envelopeId": envelopeID, "signerEmail": signerEmail}
	return c.post(ctx, "send reminder", "/functions/sendReminder", body, nil)
}

func (c *OpenSignClient) CreateTemplate(ctx context.Context, req TemplateRequest) (string, error) {
	payload := struct {
		TemplateRequest
		Fields []interface{} `json:"fields"`
	}{TemplateRequest: req, Fields: []interface{}{}}

	var out struct {
		ObjectID string `json:"objectId"`
	}
	if err := c.post(ctx, "create template", "/classes/Template", payload, &out); err != nil {
		return "", err
	}
	if out.ObjectID == "" {
		return "", errors.New("create template: provider returned no template id")
	}
	return out.ObjectID, nil
}

// DownloadDocument fetches a finished artifact from the link carried by a webhook.
func (c *OpenSignClient) DownloadDocument(ctx context.Context, documentURL string) ([]byte, error) {
	target, err := url.Parse(documentURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse document url")
	}
	if target.Scheme != "https" && target.Scheme != "http" {
		return nil, errors.Errorf("download document: unsupported scheme %q", target.Scheme)
	}
	providerHost := c.providerHost()
	if !strings.EqualFold(target.Host, providerHost) && !c.documentHostAllowed(target.Host) {
		return nil, errors.Errorf("download document: host %q is not a provider host", target.Host)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "build download request")
	}
	if strings.EqualFold(target.Host, providerHost) {
		req.Header.Set("X-Parse-Application-Id", c.AppID)
		req.Header.Set("X-Parse-Master-Key", c.MasterKey)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "download document")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, &ProviderError{Operation: "download document", StatusCode: resp.StatusCode}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize+1))
	if err != nil {
		return nil, errors.Wrap(err, "read document")
	}
	if len(data) > maxDocumentSize {
		return nil, errors.New("download document: document too large")
	}
	return data, nil
}

func (c *OpenSignClient) providerHost() string {
	base, err := url.Parse(c.BaseURL)
	if err != nil {
		return ""
	}
	return base.Host
}

func (c *OpenSignClient) documentHostAllowed(host string) bool {
	for _, allowed := range c.DocumentHosts {
		if strings.EqualFold(host, allowed) {
			return true
		}
	}
	return false
}

func (c *OpenSignClient) post(ctx context.Context, op, path string, in, out interface{}) (err error) {
	start := time.Now()
	defer func() {
		result := metrics.ResultOK
		if err != nil {
			result = metrics.ResultError
		}
		metrics.GatewayRequests.WithLabelValues(op, result).Observe(time.Since(start).Seconds())
	}()

	b, err := json.Marshal(in)
	if err != nil {
		return errors.Wrapf(err, "%s: encode request", op)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return errors.Wrapf(err, "%s: build request", op)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Parse-Application-Id", c.AppID)
	req.Header.Set("X-Parse-Master-Key", c.MasterKey)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return errors.Wrap(err, op)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var failure struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&failure)
		return &ProviderError{Operation: op, StatusCode: resp.StatusCode, Message: failure.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "%s: decode response", op)
	}
	return nil
}
