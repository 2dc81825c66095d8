// Package identity is the HTTP client for the remote identity service.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	autherrors "github.com/atriumn/idynic-web-sub000/internal/errors"
	"github.com/atriumn/idynic-web-sub000/oauthmodel"
)

// Endpoint paths, relative to the service base URL.
const (
	PathLogin             = "/auth/login"
	PathSignup            = "/auth/signup"
	PathConfirmSignup     = "/auth/signup/confirm"
	PathResend            = "/auth/resend-confirmation"
	PathRefresh           = "/auth/refresh"
	PathLogout            = "/auth/logout"
	PathMe                = "/auth/me"
	PathFederatedInitiate = "/auth/federated/initiate"
	PathFederatedCallback = "/auth/federated/callback"

	RequestIDHeader = "X-Request-ID"

	defaultTimeout = 10 * time.Second
	maxErrorBody   = 64 << 10
)

// Client calls the identity service. Every call is bounded by the HTTP client
// timeout.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-call timeout on a copy of the http client, so a
// client passed to WithHTTPClient is left as it was.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		hc := *c.httpClient
		hc.Timeout = d
		c.httpClient = &hc
	}
}

func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login exchanges credentials for a token set.
func (c *Client) Login(ctx context.Context, username, password string) (*oauthmodel.TokenResponse, error) {
	req := oauthmodel.LoginRequest{Username: username, Password: password}
	var out oauthmodel.TokenResponse
	if err := c.call(ctx, opLogin, http.MethodPost, PathLogin, "", req, &out); err != nil {
		return nil, fmt.Errorf("[Client.Login] %w", err)
	}
	if err := checkTokens(&out); err != nil {
		return nil, fmt.Errorf("[Client.Login] %w", err)
	}
	return &out, nil
}

func (c *Client) Signup(ctx context.Context, req oauthmodel.SignupRequest) (*oauthmodel.SignupResponse, error) {
	var out oauthmodel.SignupResponse
	if err := c.call(ctx, opSignup, http.MethodPost, PathSignup, "", req, &out); err != nil {
		return nil, fmt.Errorf("[Client.Signup] %w", err)
	}
	return &out, nil
}

func (c *Client) ConfirmSignup(ctx context.Context, username, code string) error {
	req := oauthmodel.ConfirmSignupRequest{Username: username, ConfirmationCode: code}
	var out oauthmodel.ConfirmSignupResponse
	if err := c.call(ctx, opConfirm, http.MethodPost, PathConfirmSignup, "", req, &out); err != nil {
		return fmt.Errorf("[Client.ConfirmSignup] %w", err)
	}
	if !out.Success {
		return fmt.Errorf("[Client.ConfirmSignup] confirmation not accepted: %w", autherrors.ErrConfirmationCodeInvalid)
	}
	return nil
}

// ResendConfirmation asks for a new confirmation code. identifier may be a
// username or an email address.
func (c *Client) ResendConfirmation(ctx context.Context, identifier string) (*oauthmodel.CodeDelivery, error) {
	req := oauthmodel.ResendConfirmationRequest{Username: identifier}
	if strings.Contains(identifier, "@") {
		req = oauthmodel.ResendConfirmationRequest{Email: identifier}
	}
	var out oauthmodel.CodeDelivery
	if err := c.call(ctx, opResend, http.MethodPost, PathResend, "", req, &out); err != nil {
		return nil, fmt.Errorf("[Client.ResendConfirmation] %w", err)
	}
	return &out, nil
}

// Refresh redeems a refresh token. A rejected token yields ErrRefreshRejected.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*oauthmodel.TokenResponse, error) {
	req := oauthmodel.RefreshRequest{GrantType: oauthmodel.RefreshTokenGrant, RefreshToken: refreshToken}
	var out oauthmodel.TokenResponse
	if err := c.call(ctx, opRefresh, http.MethodPost, PathRefresh, "", req, &out); err != nil {
		return nil, fmt.Errorf("[Client.Refresh] %w", err)
	}
	if err := checkTokens(&out); err != nil {
		return nil, fmt.Errorf("[Client.Refresh] %w", err)
	}
	return &out, nil
}

func (c *Client) Logout(ctx context.Context, accessToken string) error {
	req := oauthmodel.LogoutRequest{AccessToken: accessToken}
	if err := c.call(ctx, opLogout, http.MethodPost, PathLogout, accessToken, req, nil); err != nil {
		return fmt.Errorf("[Client.Logout] %w", err)
	}
	return nil
}

// Me fetches the current user's profile.
func (c *Client) Me(ctx context.Context, accessToken string) (*oauthmodel.MeResponse, error) {
	var out oauthmodel.MeResponse
	if err := c.call(ctx, opMe, http.MethodGet, PathMe, accessToken, nil, &out); err != nil {
		return nil, fmt.Errorf("[Client.Me] %w", err)
	}
	return &out, nil
}

func (c *Client) FederatedInitiate(ctx context.Context, req oauthmodel.FederatedInitiateRequest) (*oauthmodel.FederatedInitiateResponse, error) {
	var out oauthmodel.FederatedInitiateResponse
	if err := c.call(ctx, opFederated, http.MethodPost, PathFederatedInitiate, "", req, &out); err != nil {
		return nil, fmt.Errorf("[Client.FederatedInitiate] %w", err)
	}
	if out.AuthorizationURL == "" {
		return nil, fmt.Errorf("[Client.FederatedInitiate] no authorization url: %w", autherrors.ErrNetworkOrServer)
	}
	return &out, nil
}

// FederatedCallback exchanges an authorization code for a token set.
func (c *Client) FederatedCallback(ctx context.Context, req oauthmodel.FederatedCallbackRequest) (*oauthmodel.TokenResponse, error) {
	var out oauthmodel.TokenResponse
	if err := c.call(ctx, opFederated, http.MethodPost, PathFederatedCallback, "", req, &out); err != nil {
		return nil, fmt.Errorf("[Client.FederatedCallback] %w", err)
	}
	if err := checkTokens(&out); err != nil {
		return nil, fmt.Errorf("[Client.FederatedCallback] %w", err)
	}
	return &out, nil
}

func checkTokens(tr *oauthmodel.TokenResponse) error {
	if tr.AccessToken == "" {
		return fmt.Errorf("response carried no access token: %w", autherrors.ErrNetworkOrServer)
	}
	return nil
}

// call sends one JSON request. Transport failures wrap ErrNetworkOrServer;
// non-2xx answers wrap the kind chosen by classify together with the *APIError.
func (c *Client) call(ctx context.Context, op operation, method, path, bearer string, in, out any) error {
	var body io.Reader
	if in != nil {
		if err := oauthmodel.Validate(in); err != nil {
			return fmt.Errorf("%v: %w", err, autherrors.ErrInvalidRequest)
		}
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set(RequestIDHeader, requestID)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Warn().Str("request_id", requestID).Str("path", path).Err(err).Msg("identity service unreachable")
		return fmt.Errorf("%s %s: %w: %w", method, path, autherrors.ErrNetworkOrServer, err)
	}
	defer resp.Body.Close()

	log.Debug().
		Str("request_id", requestID).
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("identity service call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := decodeError(resp)
		return fmt.Errorf("%s %s: %w: %w", method, path, classify(op, apiErr), apiErr)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w: %w", method, path, autherrors.ErrNetworkOrServer, err)
	}
	return nil
}

func decodeError(resp *http.Response) *APIError {
	apiErr := &APIError{Status: resp.StatusCode}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var er oauthmodel.ErrorResponse
	if json.Unmarshal(b, &er) == nil {
		apiErr.Code = er.Code
		if apiErr.Code == "" {
			apiErr.Code = er.Error
		}
		apiErr.Message = er.Message
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
