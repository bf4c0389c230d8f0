package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config contains runtime configuration values.
type Config struct {
	Environment string
	Port        string
	LogLevel    string

	// Storage
	UseMemoryStore bool
	DatabaseURL    string
	DBHost         string
	DBPort         string
	DBUser         string
	DBPass         string
	DBName         string
	CloudSQLName   string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Secrets. Each one guards a different trust boundary and must be provisioned separately.
	JWTSecret             string
	WebhookSecret         string
	WebhookHeader         string
	OTPHashSecret         string
	DocumentEncryptionKey string

	// Signing provider
	ProviderURL           string
	// Hosts besides ProviderURL's that may serve finished documents
	ProviderDocumentHosts []string
	ProviderAppID         string
	ProviderMasterKey     string
	GatewayTimeout        time.Duration

	PublicBaseURL string
	AppURL        string

	// Blob storage
	BlobDir           string
	BlobBucketURL     string
	BlobSigningSecret string
	DownloadURLTTL    time.Duration

	// Outbound messaging
	SMTPHost        string
	SMTPPort        int
	SMTPUser        string
	SMTPPass        string
	FromEmail       string
	TwilioSID       string
	TwilioAuthToken string
	TwilioSMSFrom   string

	// Scheduling and limits
	SweepHour          int
	SweepBatchSize     int
	DefaultExpiryDays  int
	OTPRateLimitPerMin int
}

// Load reads .env files (local development) and then the process environment.
func Load() (Config, error) {
	if os.Getenv("INSTANCE_CONNECTION_NAME") == "" {
		if err := godotenv.Load(".env"); err != nil {
			if err := godotenv.Load("environments/.env.development"); err != nil {
				log.Debug().Msg("no .env file found, using process environment")
			}
		}
	}

	cfg := Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Port:        getEnv("PORT", "8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		UseMemoryStore: getBool("USE_MEMORY_STORE", false),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPass:         os.Getenv("DB_PASS"),
		DBName:         getEnv("DB_NAME", "signdesk"),
		CloudSQLName:   os.Getenv("INSTANCE_CONNECTION_NAME"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getInt("REDIS_DB", 0),

		JWTSecret:             os.Getenv("JWT_SECRET"),
		WebhookSecret:         os.Getenv("WEBHOOK_SECRET"),
		WebhookHeader:         getEnv("WEBHOOK_SIGNATURE_HEADER", "X-Signature"),
		OTPHashSecret:         os.Getenv("OTP_HASH_SECRET"),
		DocumentEncryptionKey: os.Getenv("DOCUMENT_ENCRYPTION_KEY"),

		ProviderURL:           getEnv("OPENSIGN_API_URL", "http://localhost:1337/parse"),
		ProviderAppID:         getEnv("OPENSIGN_APP_ID", "signdesk-opensign-app"),
		ProviderMasterKey:     os.Getenv("OPENSIGN_MASTER_KEY"),
		ProviderDocumentHosts: getList("OPENSIGN_DOCUMENT_HOSTS"),
		GatewayTimeout:        getDuration("GATEWAY_TIMEOUT", 15*time.Second),

		PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		AppURL:        strings.TrimRight(getEnv("APP_URL", "http://localhost:3000"), "/"),

		BlobDir:           getEnv("BLOB_DIR", "./data/blobs"),
		BlobBucketURL:     os.Getenv("BLOB_BUCKET_URL"),
		BlobSigningSecret: os.Getenv("BLOB_SIGNING_SECRET"),
		DownloadURLTTL:    getDuration("DOWNLOAD_URL_TTL", 15*time.Minute),

		SMTPHost:        os.Getenv("SMTP_HOST"),
		SMTPPort:        getInt("SMTP_PORT", 587),
		SMTPUser:        os.Getenv("SMTP_USER"),
		SMTPPass:        os.Getenv("SMTP_PASS"),
		FromEmail:       getEnv("FROM_EMAIL", "contracts@signdesk.local"),
		TwilioSID:       os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken: os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioSMSFrom:   os.Getenv("TWILIO_SMS_FROM"),

		SweepHour:          getInt("SWEEP_HOUR", 2),
		SweepBatchSize:     getInt("SWEEP_BATCH_SIZE", 100),
		DefaultExpiryDays:  getInt("SESSION_DEFAULT_EXPIRY_DAYS", 7),
		OTPRateLimitPerMin: getInt("OTP_RATE_LIMIT_PER_MINUTE", 10),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks required secrets and value ranges.
func (c Config) Validate() error {
	required := map[string]string{
		"JWT_SECRET":              c.JWTSecret,
		"WEBHOOK_SECRET":          c.WebhookSecret,
		"OTP_HASH_SECRET":         c.OTPHashSecret,
		"DOCUMENT_ENCRYPTION_KEY": c.DocumentEncryptionKey,
	}
	secrets := []string{"JWT_SECRET", "WEBHOOK_SECRET", "OTP_HASH_SECRET", "DOCUMENT_ENCRYPTION_KEY"}
	for _, name := range secrets {
		if strings.TrimSpace(required[name]) == "" {
			return fmt.Errorf("%s is required", name)
		}
	}
	// each secret guards its own boundary
	if c.BlobSigningSecret != "" {
		required["BLOB_SIGNING_SECRET"] = c.BlobSigningSecret
		secrets = append(secrets, "BLOB_SIGNING_SECRET")
	}
	for i, a := range secrets {
		for _, b := range secrets[i+1:] {
			if required[a] == required[b] {
				return fmt.Errorf("%s must differ from %s", b, a)
			}
		}
	}
	if c.SweepHour < 0 || c.SweepHour > 23 {
		return fmt.Errorf("SWEEP_HOUR must be between 0 and 23")
	}
	if c.SweepBatchSize <= 0 {
		return fmt.Errorf("SWEEP_BATCH_SIZE must be positive")
	}
	if c.DefaultExpiryDays < 1 || c.DefaultExpiryDays > 30 {
		return fmt.Errorf("SESSION_DEFAULT_EXPIRY_DAYS must be between 1 and 30")
	}
	return nil
}

// IsDevelopment reports whether the service runs locally.
func (c Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// DSN builds the postgres connection string, preferring DATABASE_URL.
func (c Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	if c.CloudSQLName != "" {
		// Cloud Run connects through the Cloud SQL unix socket
		return fmt.Sprintf("host=/cloudsql/%s user=%s password=%s dbname=%s sslmode=disable",
			c.CloudSQLName, c.DBUser, c.DBPass, c.DBName)
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		c.DBHost, c.DBUser, c.DBPass, c.DBName, c.DBPort)
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("invalid integer, using default")
		return fallback
	}
	return n
}

func getBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("invalid duration, using default")
		return fallback
	}
	return d
}
