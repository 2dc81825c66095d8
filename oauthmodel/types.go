package oauthmodel

import (
	"fmt"
	"strings"

	autherrors "github.com/atriumn/idynic-web-sub000/internal/errors"
)

// GrantType represents the grant type sent to the refresh endpoint.
type GrantType string

const (
	RefreshTokenGrant GrantType = "refresh_token"
)

// Provider is a third-party identity provider supported by the federated flow.
type Provider string

const (
	ProviderGoogle    Provider = "google"
	ProviderApple     Provider = "apple"
	ProviderMicrosoft Provider = "microsoft"
)

// Providers lists the supported providers.
func Providers() []Provider {
	return []Provider{ProviderGoogle, ProviderApple, ProviderMicrosoft}
}

// ParseProvider parses a provider name, case-insensitively.
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("[ParseProvider] %q: %w", s, autherrors.ErrUnsupportedProvider)
	}
	return p, nil
}

func (p Provider) Valid() bool {
	switch p {
	case ProviderGoogle, ProviderApple, ProviderMicrosoft:
		return true
	}
	return false
}

func (p Provider) String() string {
	return string(p)
}
