package kv

import (
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/trailog/recorder/internal/config"
	"gorm.io/gorm"
)

// New creates the general-purpose store selected by cfg.KVType. db backs the
// sqlite type and may be nil for the others.
func New(cfg config.StorageConfig, db *gorm.DB) (Store, error) {
	switch cfg.KVType {
	case "memory":
		return NewMemory(), nil
	case "sqlite", "":
		if db == nil {
			return nil, fmt.Errorf("sqlite kv store requires a database")
		}
		return NewSQLite(db)
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return NewRedis(client, cfg.Redis.Prefix), nil
	default:
		return nil, fmt.Errorf("unknown kv store type: %s", cfg.KVType)
	}
}

// NewCredentialStore returns the store for secrets: the encrypted file store
// backed by general when secure storage is enabled and usable, otherwise
// general alone.
func NewCredentialStore(cfg config.StorageConfig, general Store, logger *slog.Logger) Store {
	if !cfg.SecureEnabled || cfg.SecurePassphrase == "" {
		return general
	}
	secure, err := OpenSecure(cfg.SecurePath, cfg.SecurePassphrase)
	if err != nil {
		logger.Warn("Secure store unavailable, credentials use general storage", "error", err)
		return general
	}
	return &Fallback{Primary: secure, Secondary: general, Logger: logger}
}
