package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// SigningTemplate links a document to the provider template used to build envelopes.
type SigningTemplate struct {
	ID                 string    `json:"id" gorm:"primaryKey;size:64"`
	Name               string    `json:"name" gorm:"not null"`
	Category           string    `json:"category"`
	ProviderTemplateID string    `json:"provider_template_id" gorm:"size:128;not null"`
	DocumentID         string    `json:"document_id" gorm:"index"`
	DocumentURL        string    `json:"document_url"`
	CreatedBy          string    `json:"created_by"`
	Active             bool      `json:"active" gorm:"not null"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func (t *SigningTemplate) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = fmt.Sprintf("TPL%d", time.Now().UnixNano())
	}
	if t.Category == "" {
		t.Category = "other"
	}
	return nil
}
