package oauthmodel

import (
	"time"

	"github.com/atriumn/idynic-web-sub000/internal/utils"
)

// TokenResponse is the token set returned by login, refresh and federated callback.
type TokenResponse struct {
	// AccessToken is the short-lived bearer credential.
	AccessToken string `json:"access_token"`

	// RefreshToken is absent when the service does not rotate it on refresh.
	RefreshToken *string `json:"refresh_token,omitempty"`

	// IdToken carries identity claims used for display only.
	IdToken *string `json:"id_token,omitempty"`

	TokenType string `json:"token_type,omitempty"`

	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int `json:"expires_in"`

	// UserProfile is only returned by the federated callback.
	UserProfile *UserProfile `json:"user_profile,omitempty"`
}

// UserProfile is the optional profile block of a federated exchange.
type UserProfile struct {
	ID         string            `json:"id,omitempty"`
	Email      string            `json:"email,omitempty"`
	Name       string            `json:"name,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Lifetime returns ExpiresIn as a duration.
func (t TokenResponse) Lifetime() time.Duration {
	return time.Duration(t.ExpiresIn) * time.Second
}

func (t TokenResponse) GetRefreshToken() string {
	return utils.Value(t.RefreshToken)
}

func (t TokenResponse) GetIdToken() string {
	return utils.Value(t.IdToken)
}
