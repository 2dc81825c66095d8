package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
)

type Config interface {
	EnvConfig
	IdentityConfig
	SessionConfig
	StoreConfig
}

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
}

type IdentityConfig interface {
	GetIdentityBaseURL() string
	GetIdentityTimeout() time.Duration
	GetRedirectURI() string
	GetCallbackAddr() string
	GetOIDCIssuer() string
	GetOIDCClientID() string
}

// mainConfig is filled from the environment by cleanenv and exposed through the getter interfaces.
type mainConfig struct {
	EnvVars
	Identity
	Session
	Store
}

// New loads the configuration from environment variables, applying defaults, and validates it.
func New() (Config, error) {
	var c mainConfig
	if err := cleanenv.ReadEnv(&c); err != nil {
		return nil, fmt.Errorf("[config.New] read environment: %w", err)
	}
	if err := validator.New().Struct(c); err != nil {
		return nil, fmt.Errorf("[config.New] invalid configuration: %w", err)
	}
	return c, nil
}

// Usage describes every supported environment variable.
func Usage() string {
	var c mainConfig
	text, err := cleanenv.GetDescription(&c, nil)
	if err != nil {
		return ""
	}
	return text
}
