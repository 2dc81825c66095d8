package refresh

import (
	"context"

	"github.com/atriumn/idynic-web-sub000/oauthmodel"
)

// Exchanger redeems a refresh token at the identity service.
// identity.Client satisfies it.
type Exchanger interface {
	Refresh(ctx context.Context, refreshToken string) (*oauthmodel.TokenResponse, error)
}
