package db

import (
	"context"
	"fmt"
	"time"

	"gatekeeper/internal/apperr"
	"gatekeeper/internal/config"
	"gatekeeper/internal/model"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Service is a token record store backed by a relational database. It
// satisfies token.RevocationIndex.
type Service interface {
	Save(ctx context.Context, record model.TokenRecord) error
	Exists(ctx context.Context, token string) (bool, error)
	Delete(ctx context.Context, token string) error
	Sweep(ctx context.Context, now time.Time) (int, error)
	GetDB() *gorm.DB
}

type service struct {
	db *gorm.DB
}

// NewService opens the database described by cfg and migrates the token
// record table.
func NewService(cfg config.DatabaseConfig) (Service, error) {
	var dialector gorm.Dialector
	switch cfg.Type {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&model.TokenRecord{}); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate database: %w", err)
	}

	return &service{db: db}, nil
}

func (s *service) GetDB() *gorm.DB {
	return s.db
}

// Save stores record. Times are kept in UTC so expiry comparisons do not
// depend on how the driver renders time zones.
func (s *service) Save(ctx context.Context, record model.TokenRecord) error {
	record.IssuedAt = record.IssuedAt.UTC()
	record.ExpiresAt = record.ExpiresAt.UTC()
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("failed to save token record: %w", err)
	}
	return nil
}

func (s *service) Exists(ctx context.Context, token string) (bool, error) {
	var count int64
	result := s.db.WithContext(ctx).Model(&model.TokenRecord{}).
		Where("token_hash = ?", model.HashToken(token)).
		Count(&count)
	if result.Error != nil {
		return false, fmt.Errorf("failed to look up token record: %w", result.Error)
	}
	return count > 0, nil
}

// Delete removes the record for token. It returns apperr.ErrTokenNotFound
// when nothing was deleted.
func (s *service) Delete(ctx context.Context, token string) error {
	result := s.db.WithContext(ctx).
		Where("token_hash = ?", model.HashToken(token)).
		Delete(&model.TokenRecord{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete token record: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperr.ErrTokenNotFound
	}
	return nil
}

// Sweep deletes the records of expired tokens.
func (s *service) Sweep(ctx context.Context, now time.Time) (int, error) {
	result := s.db.WithContext(ctx).
		Where("expires_at <= ?", now.UTC()).
		Delete(&model.TokenRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to sweep expired token records: %w", result.Error)
	}
	return int(result.RowsAffected), nil
}
