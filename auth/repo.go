package auth

import (
	"context"

	"github.com/atriumn/idynic-web-sub000/federated"
	"github.com/atriumn/idynic-web-sub000/identity"
	"github.com/atriumn/idynic-web-sub000/oauthmodel"
	"github.com/atriumn/idynic-web-sub000/sessions"
	"github.com/atriumn/idynic-web-sub000/token/refresh"
)

var (
	_ IdentityService = (*identity.Client)(nil)
	_ TokenManager    = (*refresh.Refresher)(nil)
	_ FederatedFlow   = (*federated.Coordinator)(nil)
)

// IdentityService is the remote identity API. identity.Client satisfies it.
type IdentityService interface {
	Login(ctx context.Context, username, password string) (*oauthmodel.TokenResponse, error)
	Signup(ctx context.Context, req oauthmodel.SignupRequest) (*oauthmodel.SignupResponse, error)
	ConfirmSignup(ctx context.Context, username, code string) error
	ResendConfirmation(ctx context.Context, identifier string) (*oauthmodel.CodeDelivery, error)
	Logout(ctx context.Context, accessToken string) error
	Me(ctx context.Context, accessToken string) (*oauthmodel.MeResponse, error)
}

// TokenManager owns session writes and renewal. refresh.Refresher satisfies it.
type TokenManager interface {
	EnsureFresh(ctx context.Context) (*sessions.Session, error)
	ForceRefresh(ctx context.Context, rejectedToken string) (*sessions.Session, error)
	Adopt(ctx context.Context, s *sessions.Session) error
	Schedule(s *sessions.Session)
	Cancel()
	OnExpired(fn func())
}

// FederatedFlow runs third-party logins. federated.Coordinator satisfies it.
type FederatedFlow interface {
	Initiate(ctx context.Context, provider oauthmodel.Provider) (string, error)
	HandleCallback(ctx context.Context, provider oauthmodel.Provider, code, state string) (*sessions.Session, error)
	HandleProviderError(ctx context.Context, provider oauthmodel.Provider, code, description string) error
	Discard(ctx context.Context) error
}
