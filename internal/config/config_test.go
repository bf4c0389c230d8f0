package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("INSTANCE_CONNECTION_NAME", "test")
	t.Setenv("JWT_SECRET", "jwt-secret")
	t.Setenv("WEBHOOK_SECRET", "webhook-secret")
	t.Setenv("OTP_HASH_SECRET", "otp-secret")
	t.Setenv("DOCUMENT_ENCRYPTION_KEY", "document-key")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "X-Signature", cfg.WebhookHeader)
	assert.Equal(t, 15*time.Second, cfg.GatewayTimeout)
	assert.Equal(t, 15*time.Minute, cfg.DownloadURLTTL)
	assert.Equal(t, 2, cfg.SweepHour)
	assert.Equal(t, 100, cfg.SweepBatchSize)
	assert.Equal(t, 7, cfg.DefaultExpiryDays)
}

func TestLoad_MissingSecret(t *testing.T) {
	setRequired(t)
	t.Setenv("OTP_HASH_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OTP_HASH_SECRET")
}

func TestLoad_RejectsSharedWebhookAndOTPSecret(t *testing.T) {
	setRequired(t)
	t.Setenv("OTP_HASH_SECRET", "webhook-secret")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must differ")
}

func TestLoad_RejectsReusedSecrets(t *testing.T) {
	cases := map[string][2]string{
		"jwt and webhook":      {"JWT_SECRET", "webhook-secret"},
		"jwt and document":     {"JWT_SECRET", "document-key"},
		"document and webhook": {"DOCUMENT_ENCRYPTION_KEY", "webhook-secret"},
		"document and otp":     {"DOCUMENT_ENCRYPTION_KEY", "otp-secret"},
		"blob signing and jwt": {"BLOB_SIGNING_SECRET", "jwt-secret"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tc[0], tc[1])

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "must differ")
		})
	}
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("GATEWAY_TIMEOUT", "3s")
	t.Setenv("SWEEP_BATCH_SIZE", "25")
	t.Setenv("PUBLIC_BASE_URL", "https://sign.example.com/")
	t.Setenv("OPENSIGN_DOCUMENT_HOSTS", "files.opensign.test, ,cdn.opensign.test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3*time.Second, cfg.GatewayTimeout)
	assert.Equal(t, 25, cfg.SweepBatchSize)
	assert.Equal(t, "https://sign.example.com", cfg.PublicBaseURL)
	assert.Equal(t, []string{"files.opensign.test", "cdn.opensign.test"}, cfg.ProviderDocumentHosts)
}

func TestDSN_PrefersDatabaseURL(t *testing.T) {
	cfg := Config{DatabaseURL: "postgres://u:p@db/signdesk", DBHost: "ignored"}
	assert.Equal(t, "postgres://u:p@db/signdesk", cfg.DSN())

	cfg = Config{DBHost: "localhost", DBPort: "5432", DBUser: "postgres", DBName: "signdesk"}
	assert.Contains(t, cfg.DSN(), "dbname=signdesk")
}
