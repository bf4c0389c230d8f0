package utils

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sixDigits = regexp.MustCompile(`^[0-9]{6}$`)

func TestGenerateSecureOTP_Format(t *testing.T) {
	for i := 0; i < 200; i++ {
		code, err := GenerateSecureOTP()
		require.NoError(t, err)
		assert.Regexp(t, sixDigits, code)
	}
}

func TestOTPHasher_BindsSessionAndSigner(t *testing.T) {
	h, err := NewOTPHasher("otp-secret")
	require.NoError(t, err)

	base := h.Hash("sess-1", "a@example.com", "123456")
	assert.Equal(t, base, h.Hash("sess-1", "a@example.com", "123456"))
	assert.NotEqual(t, base, h.Hash("sess-2", "a@example.com", "123456"))
	assert.NotEqual(t, base, h.Hash("sess-1", "b@example.com", "123456"))
	assert.NotEqual(t, base, h.Hash("sess-1", "a@example.com", "123457"))
	assert.True(t, h.Equal(base, h.Hash("sess-1", "a@example.com", "123456")))
	assert.False(t, h.Equal(base, ""))
}

func TestOTPHasher_KeyDependsOnSecret(t *testing.T) {
	h1, err := NewOTPHasher("otp-secret")
	require.NoError(t, err)
	h2, err := NewOTPHasher("webhook-secret")
	require.NoError(t, err)

	assert.NotEqual(t, h1.Hash("s", "e", "000000"), h2.Hash("s", "e", "000000"))

	_, err = NewOTPHasher("")
	assert.Error(t, err)
}

func TestDocumentCipher(t *testing.T) {
	c, err := NewDocumentCipher("document-key")
	require.NoError(t, err)

	plaintext := []byte("%PDF-1.7 signed contract")
	aad := []byte("contracts/txn-1/sess-1/signed.pdf")

	blob, err := c.Encrypt(plaintext, aad)
	require.NoError(t, err)
	assert.NotContains(t, string(blob), "signed contract")

	out, err := c.Decrypt(blob, aad)
	require.NoError(t, err)
	assert.Equal(t, plaintext, out)

	_, err = c.Decrypt(blob, []byte("contracts/txn-1/sess-1/audit.pdf"))
	assert.Error(t, err, "ciphertext moved to another path must not open")

	blob[len(blob)-1] ^= 0xff
	_, err = c.Decrypt(blob, aad)
	assert.Error(t, err)

	_, err = c.Decrypt([]byte("short"), aad)
	assert.Error(t, err)
}

func TestVerifyHexSignature(t *testing.T) {
	body := []byte(`{"envelopeId":"env-1","type":"signed"}`)
	sig := SignHex("topsecret", body)

	assert.True(t, VerifyHexSignature("topsecret", body, sig))
	assert.True(t, VerifyHexSignature("topsecret", body, "sha256="+sig))
	assert.False(t, VerifyHexSignature("other", body, sig))
	assert.False(t, VerifyHexSignature("topsecret", append(body, ' '), sig))
	assert.False(t, VerifyHexSignature("topsecret", body, ""))
	assert.False(t, VerifyHexSignature("", body, sig))
	assert.False(t, VerifyHexSignature("topsecret", body, "zzzz"))
}
