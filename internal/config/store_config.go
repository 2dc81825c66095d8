package config

import (
	"encoding/hex"
	"fmt"
)

const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreRedis  = "redis"
)

type StoreConfig interface {
	GetStoreKind() string
	GetSessionFile() string
	GetSessionKey() (*[32]byte, error)
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisPrefix() string
}

type Store struct {
	Kind          string `env:"SESSION_STORE" env-default:"file" validate:"oneof=memory file redis" env-description:"session persistence backend"`
	File          string `env:"SESSION_FILE" env-default:"./data/session.json" env-description:"session file for the file backend"`
	Key           string `env:"SESSION_KEY" validate:"omitempty,hexadecimal,len=64" env-description:"hex encoded 32 byte key sealing the session file"`
	RedisAddr     string `env:"REDIS_ADDR" env-default:"localhost:6379" env-description:"redis address for the redis backend"`
	RedisPassword string `env:"REDIS_PASSWORD" env-description:"redis password"`
	RedisPrefix   string `env:"REDIS_PREFIX" env-default:"idynic:auth:" env-description:"redis key prefix"`
}

var _ StoreConfig = Store{}

func (s Store) GetStoreKind() string {
	return s.Kind
}

func (s Store) GetSessionFile() string {
	return s.File
}

// GetSessionKey returns nil when no key is configured, in which case the file is stored unsealed.
func (s Store) GetSessionKey() (*[32]byte, error) {
	if s.Key == "" {
		return nil, nil
	}
	raw, err := hex.DecodeString(s.Key)
	if err != nil {
		return nil, fmt.Errorf("SESSION_KEY: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("SESSION_KEY: want 32 bytes, got %d", len(raw))
	}
	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}

func (s Store) GetRedisAddr() string {
	return s.RedisAddr
}

func (s Store) GetRedisPassword() string {
	return s.RedisPassword
}

func (s Store) GetRedisPrefix() string {
	return s.RedisPrefix
}
