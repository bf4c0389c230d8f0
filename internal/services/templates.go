package services

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Ananth-NQI/signdesk-backend/internal/apperr"
	"github.com/Ananth-NQI/signdesk-backend/internal/models"
	"github.com/Ananth-NQI/signdesk-backend/internal/storage"
)

// Template categories offered in the dashboard
var TemplateCategories = map[string]string{
	"purchase_agreement": "Purchase agreement",
	"listing_agreement":  "Listing agreement",
	"lease":              "Lease",
	"disclosure":         "Disclosure",
	"addendum":           "Addendum",
	"other":              "Other",
}

// CreateTemplateRequest registers an uploaded document for signing.
type CreateTemplateRequest struct {
	DocumentID   string `json:"documentId"`
	DocumentName string `json:"documentName"`
	DocumentURL  string `json:"documentURL"`
	Category     string `json:"category,omitempty"`
}

// TemplateService handles signing template operations
type TemplateService struct {
	store   storage.Store
	gateway EnvelopeGateway
	timeout time.Duration
}

// NewTemplateService creates a new template service
func NewTemplateService(store storage.Store, gateway EnvelopeGateway, timeout time.Duration) *TemplateService {
	return &TemplateService{store: store, gateway: gateway, timeout: timeout}
}

// CreateTemplate registers the document with the provider and stores an active template.
func (t *TemplateService) CreateTemplate(ctx context.Context, caller *models.Caller, req CreateTemplateRequest) (*models.SigningTemplate, error) {
	if !caller.IsStaff() {
		return nil, apperr.PermissionDenied("only agents and admins can create templates")
	}
	req.DocumentID = strings.TrimSpace(req.DocumentID)
	req.DocumentName = strings.TrimSpace(req.DocumentName)
	req.DocumentURL = strings.TrimSpace(req.DocumentURL)
	if req.DocumentID == "" || req.DocumentName == "" || req.DocumentURL == "" {
		return nil, apperr.InvalidArgument("documentId, documentName and documentURL are required")
	}
	if req.Category == "" {
		req.Category = "other"
	}
	if _, ok := TemplateCategories[req.Category]; !ok {
		return nil, apperr.InvalidArgument("unknown template category")
	}

	gctx, cancel := context.WithTimeout(ctx, t.timeout)
	providerID, err := t.gateway.CreateTemplate(gctx, TemplateRequest{
		Name:        req.DocumentName,
		DocumentURL: req.DocumentURL,
		Category:    req.Category,
		CreatedBy:   caller.UserID,
		Metadata: map[string]string{
			"documentId": req.DocumentID,
			"uploadedAt": time.Now().UTC().Format(time.RFC3339),
		},
	})
	cancel()
	if err != nil {
		log.Error().Err(err).Str("document_id", req.DocumentID).Msg("failed to create provider template")
		return nil, gatewayError(err)
	}

	template := &models.SigningTemplate{
		Name:               req.DocumentName,
		Category:           req.Category,
		ProviderTemplateID: providerID,
		DocumentID:         req.DocumentID,
		DocumentURL:        req.DocumentURL,
		CreatedBy:          caller.UserID,
		Active:             true,
	}
	if err := t.store.CreateTemplate(ctx, template); err != nil {
		return nil, apperr.Unavailable(err, "failed to save template")
	}

	log.Info().Str("template_id", template.ID).Str("provider_template_id", providerID).Msg("template created")
	return template, nil
}
