package main

import (
	"context"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/Ananth-NQI/signdesk-backend/database"
	"github.com/Ananth-NQI/signdesk-backend/internal/config"
	"github.com/Ananth-NQI/signdesk-backend/internal/handlers"
	"github.com/Ananth-NQI/signdesk-backend/internal/jobs"
	"github.com/Ananth-NQI/signdesk-backend/internal/routes"
	"github.com/Ananth-NQI/signdesk-backend/internal/services"
	"github.com/Ananth-NQI/signdesk-backend/internal/storage"
	"github.com/Ananth-NQI/signdesk-backend/internal/utils"
)

// application holds every long-lived component of a running process.
type application struct {
	cfg         config.Config
	db          *gorm.DB
	redis       redis.UniversalClient
	store       storage.Store
	idempotency storage.IdempotencyStore
	blobs       *storage.BucketStore
	gateway     services.EnvelopeGateway
	notifier    *services.Notifier

	signing       *services.SigningService
	otp           *services.OTPService
	documents     *services.DocumentService
	webhooks      *services.WebhookService
	templates     *services.TemplateService
	notifications *services.NotificationService
	sweeper       *jobs.ExpirationSweeper
}

func newApplication(ctx context.Context, cfg config.Config) (*application, error) {
	a := &application{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	// Initialize storage
	if cfg.UseMemoryStore {
		log.Warn().Msg("using in-memory storage, data is lost on restart")
		a.store = storage.NewMemoryStore()
	} else {
		db, err := database.Connect(cfg)
		if err != nil {
			return nil, err
		}
		a.db = db
		if err := database.Migrate(db); err != nil {
			return nil, err
		}
		a.store = storage.NewDatabaseStore(db)
	}

	if cfg.RedisAddr != "" {
		a.redis = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.RedisAddr},
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return nil, errors.Wrap(err, "connect redis")
		}
		a.idempotency = storage.NewRedisIdempotencyStore(a.redis)
		log.Info().Str("addr", cfg.RedisAddr).Msg("idempotency keys stored in redis")
	} else {
		a.idempotency = storage.NewMemoryIdempotencyStore()
	}

	bucket, err := storage.OpenBucket(ctx, cfg.BlobBucketURL, cfg.BlobDir)
	if err != nil {
		return nil, err
	}
	signingSecret := []byte(cfg.BlobSigningSecret)
	if len(signingSecret) == 0 {
		if signingSecret, err = utils.DeriveKey([]byte(cfg.DocumentEncryptionKey), "signdesk/blob-url/v1", 32); err != nil {
			return nil, err
		}
	}
	if a.blobs, err = storage.NewBucketStore(bucket, cfg.PublicBaseURL+"/blobs", signingSecret); err != nil {
		_ = bucket.Close()
		return nil, err
	}

	cipher, err := utils.NewDocumentCipher(cfg.DocumentEncryptionKey)
	if err != nil {
		return nil, errors.Wrap(err, "document cipher")
	}
	hasher, err := utils.NewOTPHasher(cfg.OTPHashSecret)
	if err != nil {
		return nil, errors.Wrap(err, "otp hasher")
	}

	var transport services.MailTransport = services.LogTransport{}
	if cfg.SMTPHost != "" {
		transport = services.NewSMTPTransport(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass)
	} else {
		log.Warn().Msg("SMTP_HOST not set, outgoing mail is only logged")
	}
	mailer, err := services.NewMailer(transport, cfg.FromEmail)
	if err != nil {
		return nil, err
	}

	twilioService, err := services.NewTwilioService(cfg.TwilioSID, cfg.TwilioAuthToken, cfg.TwilioSMSFrom)
	if err != nil {
		return nil, err
	}
	var sms services.SMSSender
	if twilioService != nil {
		sms = twilioService
		log.Info().Msg("twilio sms delivery enabled")
	}

	openSign := services.NewOpenSignClient(cfg.ProviderURL, cfg.ProviderAppID, cfg.ProviderMasterKey, cfg.GatewayTimeout)
	openSign.DocumentHosts = cfg.ProviderDocumentHosts
	a.gateway = openSign
	a.notifier = services.NewNotifier(a.store, mailer, sms, cfg.AppURL)

	a.signing = services.NewSigningService(a.store, a.gateway, a.notifier, a.idempotency, services.SigningConfig{
		PublicBaseURL:     cfg.PublicBaseURL,
		DefaultExpiryDays: cfg.DefaultExpiryDays,
		GatewayTimeout:    cfg.GatewayTimeout,
	})
	a.otp = services.NewOTPService(a.store, a.gateway, hasher, a.notifier, cfg.GatewayTimeout)
	a.documents = services.NewDocumentService(a.store, a.blobs, cipher, a.gateway, cfg.DownloadURLTTL, cfg.GatewayTimeout)
	a.webhooks = services.NewWebhookService(a.store, a.documents, a.notifier, cfg.WebhookSecret)
	a.templates = services.NewTemplateService(a.store, a.gateway, cfg.GatewayTimeout)
	a.notifications = services.NewNotificationService(a.store)
	a.sweeper = jobs.NewExpirationSweeper(a.store, a.gateway, a.notifier, jobs.SweeperConfig{
		Hour:           cfg.SweepHour,
		BatchSize:      cfg.SweepBatchSize,
		GatewayTimeout: cfg.GatewayTimeout,
	})

	ok = true
	return a, nil
}

func (a *application) storageType() string {
	if a.db == nil {
		return "memory"
	}
	return "postgres"
}

func (a *application) healthChecks() map[string]handlers.Check {
	checks := map[string]handlers.Check{
		"blobs": func(ctx context.Context) error {
			_, err := a.blobs.Exists(ctx, ".health")
			return err
		},
	}
	if a.db != nil {
		checks["database"] = func(context.Context) error { return database.Ping(a.db) }
	}
	if a.redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.redis.Ping(ctx).Err() }
	}
	return checks
}

func (a *application) routes() routes.Handlers {
	return routes.Handlers{
		Health:        handlers.NewHealthHandler(Version, a.storageType(), a.healthChecks()),
		Signing:       handlers.NewSigningHandler(a.signing, a.otp, a.documents),
		Templates:     handlers.NewTemplateHandler(a.templates),
		Notifications: handlers.NewNotificationHandler(a.notifications),
		Webhooks:      handlers.NewWebhookHandler(a.webhooks, a.cfg.WebhookHeader),
		Blobs:         handlers.NewBlobHandler(a.documents),
	}
}

func (a *application) close() {
	if a.blobs != nil {
		if err := a.blobs.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close blob bucket")
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
