package models

import "time"

// ProviderEvent is the part of a provider webhook body the engine reads.
type ProviderEvent struct {
	EventID     string             `json:"eventId,omitempty"`
	EnvelopeID  string             `json:"envelopeId"`
	Type        string             `json:"type"`
	SignerEmail string             `json:"signerEmail,omitempty"`
	Timestamp   *time.Time         `json:"timestamp,omitempty"`
	Documents   *ProviderDocuments `json:"documents,omitempty"`
	Reason      string             `json:"reason,omitempty"`
	IPAddress   string             `json:"ipAddress,omitempty"`
	UserAgent   string             `json:"userAgent,omitempty"`
}

// ProviderDocuments holds download links for the final artifacts.
type ProviderDocuments struct {
	Signed string `json:"signed"`
	Audit  string `json:"audit"`
}

// Provider event types
const (
	EventViewed    = "viewed"
	EventSigned    = "signed"
	EventCompleted = "completed"
	EventDeclined  = "declined"
)

// WebhookReceipt is the audit record kept for every inbound webhook, valid or not.
type WebhookReceipt struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	EventID        string    `json:"event_id,omitempty" gorm:"index;size:128"`
	EnvelopeID     string    `json:"envelope_id" gorm:"index;size:128"`
	EventType      string    `json:"event_type" gorm:"size:64"`
	SignerEmail    string    `json:"signer_email,omitempty"`
	BodySHA256     string    `json:"body_sha256" gorm:"size:64"`
	SignatureValid bool      `json:"signature_valid"`
	Outcome        string    `json:"outcome" gorm:"size:32"`
	Detail         string    `json:"detail,omitempty"`
	ReceivedAt     time.Time `json:"received_at"`
}

// Receipt outcomes
const (
	ReceiptRejected = "rejected"
	ReceiptInvalid  = "invalid"
	ReceiptNotFound = "not_found"
	ReceiptApplied  = "applied"
	ReceiptNoop     = "noop"
	ReceiptIgnored  = "ignored"
	ReceiptFailed   = "failed"
)
