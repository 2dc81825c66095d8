package idtoken

import (
	"context"
	"crypto"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jonboulle/clockwork"
)

// Verifier checks the signature, issuer, audience and expiry of identity tokens
// returned by a federated exchange.
type Verifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewVerifier discovers the issuer's signing keys over OIDC discovery.
func NewVerifier(ctx context.Context, issuer, clientID string) (*Verifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("[NewVerifier] oidc discovery for %s: %w", issuer, err)
	}
	return &Verifier{verifier: provider.Verifier(&oidc.Config{ClientID: clientID})}, nil
}

// NewStaticVerifier verifies against a fixed set of public keys.
func NewStaticVerifier(issuer, clientID string, clock clockwork.Clock, keys ...crypto.PublicKey) *Verifier {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	keySet := &oidc.StaticKeySet{PublicKeys: keys}
	return &Verifier{verifier: oidc.NewVerifier(issuer, keySet, &oidc.Config{
		ClientID: clientID,
		Now:      clock.Now,
	})}
}

// Verify validates raw and returns its claims.
func (v *Verifier) Verify(ctx context.Context, raw string) (*Claims, error) {
	if _, err := v.verifier.Verify(ctx, raw); err != nil {
		return nil, fmt.Errorf("[Verifier.Verify] %w", err)
	}
	return ParseClaims(raw)
}
