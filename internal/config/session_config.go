package config

import "time"

type SessionConfig interface {
	GetRefreshRatio() float64
	GetRefreshTimeout() time.Duration
	GetHandshakeTTL() time.Duration
}

type Session struct {
	// RefreshRatio is the fraction of the nominal access-token lifetime after which the
	// proactive timer renews the session.
	RefreshRatio   float64       `env:"REFRESH_RATIO" env-default:"0.92" validate:"gt=0,lt=1" env-description:"fraction of token lifetime before proactive renewal"`
	RefreshTimeout time.Duration `env:"REFRESH_TIMEOUT" env-default:"15s" validate:"gt=0" env-description:"upper bound for one refresh call"`
	HandshakeTTL   time.Duration `env:"HANDSHAKE_TTL" env-default:"10m" validate:"gt=0" env-description:"lifetime of an unconsumed federated login handshake"`
}

var _ SessionConfig = Session{}

func (s Session) GetRefreshRatio() float64 {
	return s.RefreshRatio
}

func (s Session) GetRefreshTimeout() time.Duration {
	return s.RefreshTimeout
}

func (s Session) GetHandshakeTTL() time.Duration {
	return s.HandshakeTTL
}
