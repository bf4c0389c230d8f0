package models

import (
	"strings"
	"time"
)

// SigningSession is one multi-party signing request backed by a provider envelope.
type SigningSession struct {
	ID            string            `json:"id" gorm:"primaryKey;size:64"`
	EnvelopeID    string            `json:"envelope_id" gorm:"uniqueIndex;size:128;not null"`
	TransactionID string            `json:"transaction_id" gorm:"index;size:128;not null"`
	TemplateID    string            `json:"template_id" gorm:"size:128"`
	Name          string            `json:"name"`
	Status        string            `json:"status" gorm:"index;size:16;not null;default:pending"`
	Signers       []Signer          `json:"signers" gorm:"foreignKey:SessionID;references:ID"`
	CreatedBy     string            `json:"created_by" gorm:"index"`
	CreatorEmail  string            `json:"creator_email,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty" gorm:"serializer:json"`
	ReminderDays  int               `json:"reminder_days"`

	// Timestamps
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ExpiresAt   time.Time  `json:"expires_at" gorm:"index;not null"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DeclinedAt  *time.Time `json:"declined_at,omitempty"`
	ExpiredAt   *time.Time `json:"expired_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`

	DeclineReason string `json:"decline_reason,omitempty"`
	DeclinedBy    string `json:"declined_by,omitempty"`
	CancelReason  string `json:"cancel_reason,omitempty"`

	// Stored artifacts, set together with the completed transition
	SignedDocumentPath string     `json:"-"`
	AuditDocumentPath  string     `json:"-"`
	DocumentsStoredAt  *time.Time `json:"documents_stored_at,omitempty"`
}

// Signer is a single party of a session. Rows are addressed by (SessionID, Email)
// so that one signer's update never rewrites another's.
type Signer struct {
	SessionID string `json:"-" gorm:"primaryKey;size:64"`
	Email     string `json:"email" gorm:"primaryKey;size:320"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	Phone     string `json:"phone,omitempty"`
	SignOrder int    `json:"sign_order"`

	Status    string     `json:"status" gorm:"size:16;not null;default:pending"`
	ViewedAt  *time.Time `json:"viewed_at,omitempty"`
	SignedAt  *time.Time `json:"signed_at,omitempty"`
	IPAddress string     `json:"ip_address,omitempty" gorm:"column:ip_address"`
	UserAgent string     `json:"user_agent,omitempty"`

	// OTP state. The plaintext code is never stored.
	OTPHash        string     `json:"-" gorm:"column:otp_hash"`
	OTPExpiresAt   *time.Time `json:"-" gorm:"column:otp_expires_at"`
	FailedAttempts int        `json:"failed_attempts" gorm:"not null;default:0"`
	Locked         bool       `json:"locked" gorm:"not null;default:false"`
	OTPVerified    bool       `json:"otp_verified" gorm:"column:otp_verified;not null;default:false"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Session status constants
const (
	SessionStatusPending   = "pending"
	SessionStatusCompleted = "completed"
	SessionStatusDeclined  = "declined"
	SessionStatusExpired   = "expired"
	SessionStatusCancelled = "cancelled"

	SignerStatusPending = "pending"
	SignerStatusViewed  = "viewed"
	SignerStatusSigned  = "signed"
)

// Document kinds produced when a session completes
const (
	DocumentKindSigned = "signed"
	DocumentKindAudit  = "audit"
)

// IsTerminalStatus reports whether no further session transition is allowed.
func IsTerminalStatus(status string) bool {
	switch status {
	case SessionStatusCompleted, SessionStatusDeclined, SessionStatusExpired, SessionStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether the session reached a terminal status.
func (s *SigningSession) IsTerminal() bool {
	return IsTerminalStatus(s.Status)
}

// FindSigner returns the signer with the given (normalised) email.
func (s *SigningSession) FindSigner(email string) *Signer {
	for i := range s.Signers {
		if s.Signers[i].Email == email {
			return &s.Signers[i]
		}
	}
	return nil
}

// DocumentPath returns the stored artifact path for the given kind, or "".
func (s *SigningSession) DocumentPath(kind string) string {
	switch kind {
	case DocumentKindSigned:
		return s.SignedDocumentPath
	case DocumentKindAudit:
		return s.AuditDocumentPath
	}
	return ""
}

// Clone returns a deep copy so callers can't mutate stored state.
func (s *SigningSession) Clone() *SigningSession {
	if s == nil {
		return nil
	}
	out := *s
	out.Signers = make([]Signer, len(s.Signers))
	for i, signer := range s.Signers {
		out.Signers[i] = signer.clone()
	}
	if s.Metadata != nil {
		out.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	out.CompletedAt = cloneTime(s.CompletedAt)
	out.DeclinedAt = cloneTime(s.DeclinedAt)
	out.ExpiredAt = cloneTime(s.ExpiredAt)
	out.CancelledAt = cloneTime(s.CancelledAt)
	out.DocumentsStoredAt = cloneTime(s.DocumentsStoredAt)
	return &out
}

func (s Signer) clone() Signer {
	s.ViewedAt = cloneTime(s.ViewedAt)
	s.SignedAt = cloneTime(s.SignedAt)
	s.OTPExpiresAt = cloneTime(s.OTPExpiresAt)
	return s
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// CanTransition reports whether a session may move from one status to another.
// The only legal moves are pending to one of the terminal statuses.
func CanTransition(from, to string) bool {
	return from == SessionStatusPending && IsTerminalStatus(to)
}

// NormalizeEmail is the canonical form used to key signers.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
