package database

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Ananth-NQI/signdesk-backend/internal/config"
	"github.com/Ananth-NQI/signdesk-backend/internal/models"
)

// Connect opens the postgres connection described by cfg.
func Connect(cfg config.Config) (*gorm.DB, error) {
	if cfg.CloudSQLName != "" {
		log.Info().Str("instance", cfg.CloudSQLName).Msg("connecting to Cloud SQL via socket")
	} else {
		log.Info().Str("host", cfg.DBHost).Msg("connecting to PostgreSQL")
	}

	gormConfig := &gorm.Config{}
	if !cfg.IsDevelopment() {
		gormConfig.Logger = logger.Default.LogMode(logger.Silent)
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), gormConfig)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	log.Info().Msg("database connected")
	return db, nil
}

// Migrate creates or updates every table the service owns.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.SigningTemplate{},
		&models.SigningSession{},
		&models.Signer{},
		&models.Transaction{},
		&models.Notification{},
		&models.WebhookReceipt{},
	)
	if err != nil {
		return errors.Wrap(err, "migrate database")
	}
	log.Info().Msg("database migrations completed")
	return nil
}

// Ping checks that the underlying connection pool is reachable.
func Ping(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return errors.Wrap(err, "database handle")
	}
	return errors.Wrap(sqlDB.Ping(), "ping database")
}
