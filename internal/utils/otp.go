package utils

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
)

const otpSpace = 1000000

// GenerateSecureOTP returns a uniformly random 6-digit code, leading zeros included.
func GenerateSecureOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(otpSpace))
	if err != nil {
		return "", fmt.Errorf("failed to generate random number: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// OTPHasher computes keyed hashes of one-time passcodes. The key is derived from a
// secret that is never shared with webhook verification.
type OTPHasher struct {
	key []byte
}

// NewOTPHasher derives the hashing key from secret.
func NewOTPHasher(secret string) (*OTPHasher, error) {
	key, err := DeriveKey([]byte(secret), "signdesk/otp-hash/v1", 32)
	if err != nil {
		return nil, err
	}
	return &OTPHasher{key: key}, nil
}

// Hash binds the code to one signer of one session.
func (h *OTPHasher) Hash(sessionID, email, code string) string {
	mac := hmac.New(sha256.New, h.key)
	mac.Write([]byte(sessionID))
	mac.Write([]byte{0})
	mac.Write([]byte(email))
	mac.Write([]byte{0})
	mac.Write([]byte(code))
	return hex.EncodeToString(mac.Sum(nil))
}

// Equal compares two hex hashes in constant time.
func (h *OTPHasher) Equal(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return hmac.Equal([]byte(a), []byte(b))
}
