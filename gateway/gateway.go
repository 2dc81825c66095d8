// Package gateway sends requests to the protected application API with the
// session's bearer token, repairing an expired token with one refresh and one
// resend at most.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	autherrors "github.com/atriumn/idynic-web-sub000/internal/errors"
	"github.com/atriumn/idynic-web-sub000/internal/metrics"
	"github.com/atriumn/idynic-web-sub000/sessions"
)

// ErrRejectedAfterRefresh is the cause of an AuthFailure raised when a freshly
// refreshed token is rejected too.
var ErrRejectedAfterRefresh = errors.New("request rejected after token refresh")

// TokenProvider supplies access tokens. refresh.Refresher satisfies it.
type TokenProvider interface {
	EnsureFresh(ctx context.Context) (*sessions.Session, error)
	ForceRefresh(ctx context.Context, rejectedToken string) (*sessions.Session, error)
}

// AuthFailure reports a request the API refused to authorize.
type AuthFailure struct {
	StatusCode int
	Retried    bool
	Err        error
}

func (e *AuthFailure) Error() string {
	if e.Retried {
		return fmt.Sprintf("authorization failed (status %d) after retry: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("authorization failed (status %d): %v", e.StatusCode, e.Err)
}

func (e *AuthFailure) Unwrap() error {
	return e.Err
}

// Result is the outcome of Send. Exactly one of Response and Err is set.
type Result struct {
	Response *http.Response
	Retried  bool
	Err      error
}

type Gateway struct {
	client  *http.Client
	tokens  TokenProvider
	metrics *metrics.Metrics
}

type Option func(*Gateway)

func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) {
		g.client = c
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

func New(tokens TokenProvider, opts ...Option) (*Gateway, error) {
	if tokens == nil {
		return nil, errors.New("[gateway.New] token provider is required")
	}
	g := &Gateway{
		client: http.DefaultClient,
		tokens: tokens,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Send issues req with the current access token. On a 401 the token is
// refreshed and req is resent once; a second 401 is returned as an
// *AuthFailure with Retried set. The request body is buffered so it can be
// replayed.
func (g *Gateway) Send(req *http.Request) Result {
	ctx := req.Context()

	body, err := bufferBody(req)
	if err != nil {
		return Result{Err: fmt.Errorf("[Gateway.Send] read body: %w", err)}
	}

	s, err := g.tokens.EnsureFresh(ctx)
	if err != nil {
		return Result{Err: g.tokenError(err)}
	}

	resp, err := g.do(req, body, s.AccessToken)
	if err != nil {
		return Result{Err: networkError(err)}
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return Result{Response: resp}
	}
	discard(resp)

	log.Debug().Str("url", req.URL.Redacted()).Msg("access token rejected, refreshing")
	s, err = g.tokens.ForceRefresh(ctx, s.AccessToken)
	if err != nil {
		return Result{Err: g.tokenError(err)}
	}

	g.metrics.Retry()
	resp, err = g.do(req, body, s.AccessToken)
	if err != nil {
		return Result{Retried: true, Err: networkError(err)}
	}
	if resp.StatusCode == http.StatusUnauthorized {
		discard(resp)
		g.metrics.AuthFailure()
		log.Warn().Str("url", req.URL.Redacted()).Msg("refreshed access token rejected")
		return Result{Retried: true, Err: &AuthFailure{
			StatusCode: http.StatusUnauthorized,
			Retried:    true,
			Err:        ErrRejectedAfterRefresh,
		}}
	}
	return Result{Response: resp, Retried: true}
}

// Do is Send in the shape of http.Client.Do.
func (g *Gateway) Do(req *http.Request) (*http.Response, error) {
	res := g.Send(req)
	return res.Response, res.Err
}

// tokenError converts a token provider failure. Session errors become an
// AuthFailure; anything else is reported as a network or server error.
func (g *Gateway) tokenError(err error) error {
	if autherrors.Is(err, autherrors.ErrSessionExpired) || autherrors.Is(err, autherrors.ErrNoSession) {
		g.metrics.AuthFailure()
		return &AuthFailure{StatusCode: http.StatusUnauthorized, Err: err}
	}
	return networkError(err)
}

func (g *Gateway) do(orig *http.Request, body []byte, accessToken string) (*http.Response, error) {
	req := orig.Clone(orig.Context())
	if body != nil {
		req.Body = io.NopCloser(bytes.NewReader(body))
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
		req.ContentLength = int64(len(body))
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	return g.client.Do(req)
}

func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer req.Body.Close()
	return io.ReadAll(req.Body)
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

func networkError(err error) error {
	return fmt.Errorf("[Gateway.Send] %w: %w", autherrors.ErrNetworkOrServer, err)
}
