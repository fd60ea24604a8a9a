package database

import (
	"fmt"

	"github.com/VdotR/polling-system/config"
	"github.com/VdotR/polling-system/logging"
	"github.com/VdotR/polling-system/migrations"
	"github.com/VdotR/polling-system/models"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// InitDB opens the configured database, migrates the schema and repairs
// rows whose short id disagrees with their availability.
func InitDB(cfg config.DBConfig, development bool) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "mysql":
		log.Info().Str("host", cfg.Host).Str("name", cfg.Name).Msg("using MySQL database")
		dialector = mysql.Open(cfg.MySQLDSN())
	default:
		log.Info().Str("path", cfg.SQLitePath).Msg("using SQLite database")
		dialector = sqlite.Open(cfg.SQLitePath)
	}

	level := gormlogger.Warn
	if development {
		level = gormlogger.Info
	}

	db, err := Open(dialector, logging.GormLogger(level))
	if err != nil {
		return nil, err
	}

	if err := migrations.EnsureShortIDInvariant(db); err != nil {
		return nil, fmt.Errorf("short id migration failed: %w", err)
	}

	if cfg.SeedSample && development {
		if err := createSampleData(db); err != nil {
			log.Warn().Err(err).Msg("could not create sample data")
		}
	}

	log.Info().Msg("database connected and migrated")
	return db, nil
}

// Open connects through dialector and auto-migrates every model.
func Open(dialector gorm.Dialector, logger gormlogger.Interface) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := db.AutoMigrate(models.All()...); err != nil {
		return nil, fmt.Errorf("migrate models: %w", err)
	}
	return db, nil
}

// createSampleData creates a demo account and one open poll on an empty database.
func createSampleData(db *gorm.DB) error {
	var count int64
	if err := db.Model(&models.Poll{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		log.Debug().Msg("database already has polls, skipping sample data")
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte("demo1234"), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	owner := models.User{Email: "demo@example.com", Username: "demo", Password: string(hash)}
	if err := db.Create(&owner).Error; err != nil {
		return fmt.Errorf("create sample user: %w", err)
	}

	correct := 1
	poll := models.NewPoll("What is 2+2?", []string{"3", "4", "5"}, &correct, owner.ID)
	poll.Available = true
	if err := db.Create(poll).Error; err != nil {
		return fmt.Errorf("create sample poll: %w", err)
	}

	ref := models.UserPollRef{UserID: owner.ID, PollID: poll.ID, Kind: models.RefCreated}
	if err := db.Create(&ref).Error; err != nil {
		return fmt.Errorf("link sample poll: %w", err)
	}

	log.Info().Str("poll", poll.ID).Str("shortId", *poll.ShortID).Msg("sample data created")
	return nil
}

// CloseDB closes the underlying connection pool.
func CloseDB(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		log.Error().Err(err).Msg("could not get database handle")
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Error().Err(err).Msg("could not close database")
		return
	}
	log.Info().Msg("database connection closed")
}
