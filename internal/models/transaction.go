package models

import "time"

// Transaction is the owning business record; only its signing link is kept here.
type Transaction struct {
	ID                      string    `json:"id" gorm:"primaryKey;size:128"`
	CurrentSigningSessionID string    `json:"current_signing_session_id" gorm:"size:64"`
	UpdatedAt               time.Time `json:"updated_at"`
}
