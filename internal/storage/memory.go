package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/Ananth-NQI/signdesk-backend/internal/models"
)

// MemoryStore holds all data in memory. Used for local runs and tests; every
// conditional update runs under a single lock so it has the same semantics as the
// database store.
type MemoryStore struct {
	mu sync.RWMutex

	templates     map[string]*models.SigningTemplate
	sessions      map[string]*models.SigningSession
	envelopes     map[string]string // envelope id -> session id
	transactions  map[string]*models.Transaction
	notifications []*models.Notification
	receipts      []*models.WebhookReceipt
}

// NewMemoryStore creates a new in-memory storage
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		templates:    make(map[string]*models.SigningTemplate),
		sessions:     make(map[string]*models.SigningSession),
		envelopes:    make(map[string]string),
		transactions: make(map[string]*models.Transaction),
	}
}

var _ Store = (*MemoryStore)(nil)

// Template operations
func (m *MemoryStore) CreateTemplate(_ context.Context, template *models.SigningTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if template.ID == "" {
		template.ID = "TPL" + uuid.NewString()
	}
	if _, exists := m.templates[template.ID]; exists {
		return errors.Errorf("template %s already exists", template.ID)
	}
	now := time.Now()
	template.CreatedAt = now
	template.UpdatedAt = now
	copied := *template
	m.templates[template.ID] = &copied
	return nil
}

func (m *MemoryStore) GetTemplate(_ context.Context, id string) (*models.SigningTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	template, exists := m.templates[id]
	if !exists {
		return nil, ErrNotFound
	}
	copied := *template
	return &copied, nil
}

// Session operations
func (m *MemoryStore) CreateSession(_ context.Context, session *models.SigningSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[session.ID]; exists {
		return errors.Errorf("session %s already exists", session.ID)
	}
	if _, exists := m.envelopes[session.EnvelopeID]; exists {
		return errors.Errorf("envelope %s already linked", session.EnvelopeID)
	}
	seen := make(map[string]bool, len(session.Signers))
	for i := range session.Signers {
		if seen[session.Signers[i].Email] {
			return errors.Errorf("duplicate signer %s", session.Signers[i].Email)
		}
		seen[session.Signers[i].Email] = true
		session.Signers[i].SessionID = session.ID
	}

	now := time.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	m.sessions[session.ID] = session.Clone()
	m.envelopes[session.EnvelopeID] = session.ID
	m.transactions[session.TransactionID] = &models.Transaction{
		ID:                      session.TransactionID,
		CurrentSigningSessionID: session.ID,
		UpdatedAt:               now,
	}
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (*models.SigningSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[id]
	if !exists {
		return nil, ErrNotFound
	}
	return session.Clone(), nil
}

func (m *MemoryStore) GetSessionByEnvelope(_ context.Context, envelopeID string) (*models.SigningSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, exists := m.envelopes[envelopeID]
	if !exists {
		return nil, ErrNotFound
	}
	return m.sessions[id].Clone(), nil
}

// GetTransaction returns the signing link of a transaction.
func (m *MemoryStore) GetTransaction(_ context.Context, id string) (*models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	txn, exists := m.transactions[id]
	if !exists {
		return nil, ErrNotFound
	}
	copied := *txn
	return &copied, nil
}

func (m *MemoryStore) ListExpirableSessions(_ context.Context, now time.Time, limit int) ([]*models.SigningSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []*models.SigningSession
	for _, session := range m.sessions {
		if session.Status == models.SessionStatusPending && !session.ExpiresAt.After(now) {
			results = append(results, session.Clone())
		}
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].ExpiresAt.Equal(results[j].ExpiresAt) {
			return results[i].ID < results[j].ID
		}
		return results[i].ExpiresAt.Before(results[j].ExpiresAt)
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (m *MemoryStore) TransitionSession(_ context.Context, id string, t SessionTransition) (bool, error) {
	if err := validateTransition(t); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[id]
	if !exists {
		return false, ErrNotFound
	}
	if session.Status != t.From {
		return false, nil
	}

	at := t.At
	session.Status = t.To
	session.UpdatedAt = time.Now()
	switch t.To {
	case models.SessionStatusCompleted:
		session.CompletedAt = &at
		if t.SignedDocumentPath != "" || t.AuditDocumentPath != "" {
			session.SignedDocumentPath = t.SignedDocumentPath
			session.AuditDocumentPath = t.AuditDocumentPath
			stored := at
			session.DocumentsStoredAt = &stored
		}
	case models.SessionStatusDeclined:
		session.DeclinedAt = &at
		session.DeclineReason = t.Reason
		session.DeclinedBy = t.DeclinedBy
	case models.SessionStatusExpired:
		session.ExpiredAt = &at
	case models.SessionStatusCancelled:
		session.CancelledAt = &at
		session.CancelReason = t.Reason
	}
	return true, nil
}

// Signer operations

// signerLocked returns the live signer record. Caller holds m.mu.
func (m *MemoryStore) signerLocked(sessionID, email string) (*models.SigningSession, *models.Signer, error) {
	session, exists := m.sessions[sessionID]
	if !exists {
		return nil, nil, ErrNotFound
	}
	signer := session.FindSigner(email)
	if signer == nil {
		return nil, nil, ErrNotFound
	}
	return session, signer, nil
}

func (m *MemoryStore) MarkSignerViewed(_ context.Context, sessionID, email string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, signer, err := m.signerLocked(sessionID, email)
	if err != nil {
		return false, err
	}
	if session.Status != models.SessionStatusPending || signer.Status != models.SignerStatusPending {
		return false, nil
	}
	signer.Status = models.SignerStatusViewed
	signer.ViewedAt = &at
	signer.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryStore) MarkSignerSigned(_ context.Context, sessionID, email string, activity SignerActivity) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, signer, err := m.signerLocked(sessionID, email)
	if err != nil {
		return false, err
	}
	if session.Status != models.SessionStatusPending || signer.Status == models.SignerStatusSigned {
		return false, nil
	}
	at := activity.At
	signer.Status = models.SignerStatusSigned
	signer.SignedAt = &at
	signer.IPAddress = activity.IPAddress
	signer.UserAgent = activity.UserAgent
	signer.UpdatedAt = time.Now()
	return true, nil
}

// OTP operations
func (m *MemoryStore) SetSignerOTP(_ context.Context, sessionID, email, hash string, expiresAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, signer, err := m.signerLocked(sessionID, email)
	if err != nil {
		return false, err
	}
	if signer.Locked {
		return false, nil
	}
	signer.OTPHash = hash
	signer.OTPExpiresAt = &expiresAt
	signer.FailedAttempts = 0
	signer.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryStore) RecordOTPFailure(_ context.Context, sessionID, email, hash string, maxAttempts int) (bool, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, signer, err := m.signerLocked(sessionID, email)
	if err != nil {
		return false, false, err
	}
	if signer.Locked || signer.OTPHash == "" || signer.OTPHash != hash {
		return false, signer.Locked, nil
	}
	signer.FailedAttempts++
	if signer.FailedAttempts >= maxAttempts {
		signer.Locked = true
	}
	signer.UpdatedAt = time.Now()
	return true, signer.Locked, nil
}

func (m *MemoryStore) ConsumeOTP(_ context.Context, sessionID, email, hash string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, signer, err := m.signerLocked(sessionID, email)
	if err != nil {
		return false, err
	}
	if signer.Locked || signer.OTPHash == "" || signer.OTPHash != hash {
		return false, nil
	}
	if signer.OTPExpiresAt == nil || !signer.OTPExpiresAt.After(now) {
		return false, nil
	}
	signer.OTPHash = ""
	signer.OTPExpiresAt = nil
	signer.FailedAttempts = 0
	signer.OTPVerified = true
	signer.UpdatedAt = time.Now()
	return true, nil
}

// Notification operations
func (m *MemoryStore) CreateNotification(_ context.Context, notification *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if notification.ID == "" {
		notification.ID = uuid.NewString()
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now()
	}
	copied := *notification
	m.notifications = append(m.notifications, &copied)
	return nil
}

func (m *MemoryStore) ListNotifications(_ context.Context, email, userID string, limit int) ([]*models.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []*models.Notification
	for i := len(m.notifications) - 1; i >= 0; i-- {
		n := m.notifications[i]
		if (email != "" && n.RecipientEmail == email) || (userID != "" && n.RecipientID == userID) {
			copied := *n
			results = append(results, &copied)
			if limit > 0 && len(results) == limit {
				break
			}
		}
	}
	return results, nil
}

// Notifications returns every stored notification, oldest first.
func (m *MemoryStore) Notifications() []models.Notification {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Notification, 0, len(m.notifications))
	for _, n := range m.notifications {
		out = append(out, *n)
	}
	return out
}

// Webhook audit
func (m *MemoryStore) SaveWebhookReceipt(_ context.Context, receipt *models.WebhookReceipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	receipt.ID = uint(len(m.receipts) + 1)
	copied := *receipt
	m.receipts = append(m.receipts, &copied)
	return nil
}

// Receipts returns every stored webhook receipt, oldest first.
func (m *MemoryStore) Receipts() []models.WebhookReceipt {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.WebhookReceipt, 0, len(m.receipts))
	for _, r := range m.receipts {
		out = append(out, *r)
	}
	return out
}
