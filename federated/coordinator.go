// Package federated drives the OAuth2 authorization-code login with third-party
// identity providers, binding each callback to the login it answers with a
// single-use nonce.
package federated

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/atriumn/idynic-web-sub000/idtoken"
	autherrors "github.com/atriumn/idynic-web-sub000/internal/errors"
	"github.com/atriumn/idynic-web-sub000/internal/metrics"
	"github.com/atriumn/idynic-web-sub000/oauthmodel"
	"github.com/atriumn/idynic-web-sub000/sessions"
	"github.com/atriumn/idynic-web-sub000/users"
)

const (
	DefaultHandshakeTTL = 10 * time.Minute
	nonceBytes          = 32
)

// Service is the identity service's federated endpoints. identity.Client
// satisfies it.
type Service interface {
	FederatedInitiate(ctx context.Context, req oauthmodel.FederatedInitiateRequest) (*oauthmodel.FederatedInitiateResponse, error)
	FederatedCallback(ctx context.Context, req oauthmodel.FederatedCallbackRequest) (*oauthmodel.TokenResponse, error)
}

// Adopter takes ownership of a new session. refresh.Refresher satisfies it.
type Adopter interface {
	Adopt(ctx context.Context, s *sessions.Session) error
}

// Navigator sends the user agent to the provider's authorization page.
type Navigator interface {
	Navigate(ctx context.Context, authURL string) error
}

type NavigatorFunc func(ctx context.Context, authURL string) error

func (f NavigatorFunc) Navigate(ctx context.Context, authURL string) error {
	return f(ctx, authURL)
}

// TokenVerifier checks identity tokens. idtoken.Verifier satisfies it.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (*idtoken.Claims, error)
}

type Coordinator struct {
	service     Service
	adopter     Adopter
	handshakes  HandshakeRepo
	redirectURI string

	navigator Navigator
	verifier  TokenVerifier
	ttl       time.Duration
	clock     clockwork.Clock
	nonce     func() (string, error)
	metrics   *metrics.Metrics

	lock  sync.Mutex
	state State
}

type Option func(*Coordinator)

func WithNavigator(n Navigator) Option {
	return func(c *Coordinator) {
		c.navigator = n
	}
}

// WithVerifier requires and verifies an identity token on every exchange.
func WithVerifier(v TokenVerifier) Option {
	return func(c *Coordinator) {
		c.verifier = v
	}
}

// WithHandshakeTTL sets how long a handshake stays valid.
func WithHandshakeTTL(ttl time.Duration) Option {
	return func(c *Coordinator) {
		c.ttl = ttl
	}
}

func WithClock(clock clockwork.Clock) Option {
	return func(c *Coordinator) {
		c.clock = clock
	}
}

// WithNonceFunc replaces the nonce generator.
func WithNonceFunc(fn func() (string, error)) Option {
	return func(c *Coordinator) {
		c.nonce = fn
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

func NewCoordinator(service Service, adopter Adopter, handshakes HandshakeRepo, redirectURI string, opts ...Option) (*Coordinator, error) {
	if service == nil {
		return nil, errors.New("[NewCoordinator] service is required")
	}
	if adopter == nil {
		return nil, errors.New("[NewCoordinator] adopter is required")
	}
	if handshakes == nil {
		return nil, errors.New("[NewCoordinator] handshake repo is required")
	}
	if redirectURI == "" {
		return nil, errors.New("[NewCoordinator] redirect uri is required")
	}

	c := &Coordinator{
		service:     service,
		adopter:     adopter,
		handshakes:  handshakes,
		redirectURI: redirectURI,
		ttl:         DefaultHandshakeTTL,
		clock:       clockwork.NewRealClock(),
		nonce:       NewNonce,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewNonce returns 32 random bytes, base64url encoded.
func NewNonce() (string, error) {
	b := make([]byte, nonceBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("[NewNonce] %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func (c *Coordinator) State() State {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.state
}

func (c *Coordinator) setState(s State) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.state = s
}

// Initiate starts a login with provider. It stores a fresh handshake, which
// supersedes any earlier one, and returns the provider authorization URL after
// handing it to the navigator.
func (c *Coordinator) Initiate(ctx context.Context, provider oauthmodel.Provider) (string, error) {
	if !provider.Valid() {
		return "", fmt.Errorf("[Coordinator.Initiate] %q: %w", provider, autherrors.ErrUnsupportedProvider)
	}
	c.setState(Initiating)

	nonce, err := c.nonce()
	if err != nil {
		c.setState(Idle)
		return "", fmt.Errorf("[Coordinator.Initiate] %w", err)
	}

	h := &Handshake{
		Provider:    provider,
		Nonce:       nonce,
		RedirectURI: c.redirectURI,
		CreatedAt:   c.clock.Now(),
	}
	if err := c.handshakes.Put(ctx, h); err != nil {
		c.setState(Idle)
		return "", fmt.Errorf("[Coordinator.Initiate] %w", err)
	}

	resp, err := c.service.FederatedInitiate(ctx, oauthmodel.FederatedInitiateRequest{
		Provider:    provider,
		RedirectURI: c.redirectURI,
		State:       nonce,
	})
	if err != nil {
		c.abandon(ctx, Idle)
		return "", fmt.Errorf("[Coordinator.Initiate] %w", err)
	}
	if resp.State != "" && !nonceEqual(resp.State, nonce) {
		c.abandon(ctx, Idle)
		log.Warn().Str("provider", provider.String()).Msg("identity service echoed a different state")
		return "", fmt.Errorf("[Coordinator.Initiate] %w", autherrors.ErrCSRFMismatch)
	}

	if c.navigator != nil {
		if err := c.navigator.Navigate(ctx, resp.AuthorizationURL); err != nil {
			c.abandon(ctx, Idle)
			return "", fmt.Errorf("[Coordinator.Initiate] navigate: %w", err)
		}
	}

	c.setState(AwaitingCallback)
	log.Info().Str("provider", provider.String()).Msg("federated login initiated")
	return resp.AuthorizationURL, nil
}

// HandleCallback completes a login. The handshake is consumed whatever the
// outcome. A missing, expired or mismatched handshake rejects the callback
// with ErrCSRFMismatch before any exchange is attempted, as do an unknown
// provider (ErrUnsupportedProvider) and a missing code (ErrInvalidRequest).
func (c *Coordinator) HandleCallback(ctx context.Context, provider oauthmodel.Provider, code, returnedState string) (*sessions.Session, error) {
	h, err := c.handshakes.Take(ctx)
	if err != nil {
		c.setState(Idle)
		c.metrics.Callback(metrics.CallbackFailed)
		return nil, fmt.Errorf("[Coordinator.HandleCallback] %w", err)
	}

	if err := c.verdict(h, provider, code, returnedState); err != nil {
		c.setState(Rejected)
		c.metrics.Callback(metrics.CallbackRejected)
		log.Warn().Str("provider", provider.String()).Str("reason", err.Error()).Msg("federated callback rejected")
		return nil, fmt.Errorf("[Coordinator.HandleCallback] %w", err)
	}
	c.setState(Verified)

	s, err := c.exchange(ctx, h, code, returnedState)
	if err != nil {
		c.setState(Idle)
		c.metrics.Callback(metrics.CallbackFailed)
		return nil, fmt.Errorf("[Coordinator.HandleCallback] %w", err)
	}

	c.setState(Complete)
	c.metrics.Callback(metrics.CallbackComplete)
	log.Info().Str("provider", provider.String()).Msg("federated login complete")
	return s, nil
}

// HandleProviderError handles a redirect that carries an error instead of a
// code. The handshake is discarded.
func (c *Coordinator) HandleProviderError(ctx context.Context, provider oauthmodel.Provider, code, description string) error {
	c.abandon(ctx, Rejected)
	c.metrics.Callback(metrics.CallbackRejected)
	log.Warn().Str("provider", provider.String()).Str("error", code).Msg("identity provider returned an error")
	if description != "" {
		return fmt.Errorf("[Coordinator.HandleProviderError] %s: %s: %w", code, description, autherrors.ErrProviderDenied)
	}
	return fmt.Errorf("[Coordinator.HandleProviderError] %s: %w", code, autherrors.ErrProviderDenied)
}

// Discard drops any pending handshake and returns to Idle.
func (c *Coordinator) Discard(ctx context.Context) error {
	c.setState(Idle)
	if err := c.handshakes.Discard(ctx); err != nil {
		return fmt.Errorf("[Coordinator.Discard] %w", err)
	}
	return nil
}

// verdict reports why a callback must be rejected, or nil when it may be
// exchanged.
func (c *Coordinator) verdict(h *Handshake, provider oauthmodel.Provider, code, returnedState string) error {
	if !provider.Valid() {
		return fmt.Errorf("%q: %w", provider, autherrors.ErrUnsupportedProvider)
	}
	if reason := c.mismatch(h, provider, returnedState); reason != "" {
		return fmt.Errorf("%s: %w", reason, autherrors.ErrCSRFMismatch)
	}
	if code == "" {
		return fmt.Errorf("missing authorization code: %w", autherrors.ErrInvalidRequest)
	}
	return nil
}

func (c *Coordinator) mismatch(h *Handshake, provider oauthmodel.Provider, returnedState string) string {
	switch {
	case h == nil:
		return "no pending handshake"
	case c.clock.Since(h.CreatedAt) > c.ttl:
		return "handshake expired"
	case h.Provider != provider:
		return "provider mismatch"
	case returnedState == "" || !nonceEqual(returnedState, h.Nonce):
		return "state mismatch"
	}
	return ""
}

func (c *Coordinator) exchange(ctx context.Context, h *Handshake, code, returnedState string) (*sessions.Session, error) {
	c.setState(Exchanging)
	tr, err := c.service.FederatedCallback(ctx, oauthmodel.FederatedCallbackRequest{
		Provider:    h.Provider,
		Code:        code,
		State:       returnedState,
		RedirectURI: h.RedirectURI,
	})
	if err != nil {
		return nil, err
	}

	claims, err := c.claims(ctx, tr.GetIdToken())
	if err != nil {
		return nil, err
	}

	s := sessions.New(*tr, c.clock.Now())
	s.Provider = h.Provider
	s.User = profileUser(claims, tr.UserProfile)

	if err := c.adopter.Adopt(ctx, s); err != nil {
		return nil, err
	}
	return s.Clone(), nil
}

func (c *Coordinator) claims(ctx context.Context, raw string) (*idtoken.Claims, error) {
	if c.verifier != nil {
		if raw == "" {
			return nil, fmt.Errorf("exchange returned no identity token: %w", autherrors.ErrProviderDenied)
		}
		claims, err := c.verifier.Verify(ctx, raw)
		if err != nil {
			return nil, fmt.Errorf("identity token rejected: %v: %w", err, autherrors.ErrProviderDenied)
		}
		return claims, nil
	}
	if raw == "" {
		return nil, nil
	}
	claims, err := idtoken.ParseClaims(raw)
	if err != nil {
		log.Warn().Err(err).Msg("identity token claims unreadable")
		return nil, nil
	}
	return claims, nil
}

func (c *Coordinator) abandon(ctx context.Context, next State) {
	if err := c.handshakes.Discard(ctx); err != nil {
		log.Err(err).Msg("failed to discard handshake")
	}
	c.setState(next)
}

// profileUser merges identity-token claims with the exchange's profile block.
// Claims take precedence.
func profileUser(claims *idtoken.Claims, profile *oauthmodel.UserProfile) *users.User {
	var u *users.User
	if claims != nil {
		u = claims.User()
	}
	if profile == nil {
		return u
	}
	if u == nil {
		u = users.New(profile.ID, nil)
	}
	if u.ID == "" {
		u.ID = profile.ID
	}
	fill := func(k, v string) {
		if _, ok := u.Attributes[k]; !ok && v != "" {
			u.Attributes[k] = v
		}
	}
	fill(users.AttrEmail, profile.Email)
	fill(users.AttrName, profile.Name)
	for k, v := range profile.Attributes {
		fill(k, v)
	}
	return u
}

func nonceEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
