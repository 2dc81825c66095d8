package server_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/atriumn/idynic-web-sub000/federated"
	"github.com/atriumn/idynic-web-sub000/internal/config"
	autherrors "github.com/atriumn/idynic-web-sub000/internal/errors"
	"github.com/atriumn/idynic-web-sub000/internal/metrics"
	"github.com/atriumn/idynic-web-sub000/oauthmodel"
	"github.com/atriumn/idynic-web-sub000/server"
	"github.com/atriumn/idynic-web-sub000/sessions"
)

type call struct {
	provider oauthmodel.Provider
	code     string
	state    string
	failed   bool
}

type fakeCompleter struct {
	lock  sync.Mutex
	calls []call
	err   error
	panic bool
}

func (f *fakeCompleter) CompleteFederated(_ context.Context, provider oauthmodel.Provider, code, state string) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	if f.panic {
		panic("boom")
	}
	f.calls = append(f.calls, call{provider: provider, code: code, state: state})
	return f.err
}

func (f *fakeCompleter) FailFederated(_ context.Context, provider oauthmodel.Provider, code, _ string) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.calls = append(f.calls, call{provider: provider, code: code, failed: true})
	return autherrors.ErrProviderDenied
}

func (f *fakeCompleter) Calls() []call {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]call(nil), f.calls...)
}

type testFixture struct {
	completer *fakeCompleter
	server    *server.Server
	http      *httptest.Server
}

func setup(t *testing.T) *testFixture {
	t.Helper()
	f := &testFixture{completer: &fakeCompleter{}}
	s, err := server.New(config.EnvVars{Env: "TEST"}, f.completer)
	require.NoError(t, err)
	f.server = s
	f.http = httptest.NewServer(s)
	t.Cleanup(f.http.Close)
	return f
}

func (f *testFixture) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(f.http.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(b)
}

func TestNew_RequiresCompleter(t *testing.T) {
	_, err := server.New(config.EnvVars{}, nil)
	require.Error(t, err)
}

func TestCallback_Success(t *testing.T) {
	f := setup(t)

	resp, body := f.get(t, "/callback/google?code=c1&state=s1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, "Signed in")
	require.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	require.NotEmpty(t, resp.Header.Get(server.RequestIDHeader))

	require.Equal(t, []call{{provider: oauthmodel.ProviderGoogle, code: "c1", state: "s1"}}, f.completer.Calls())

	outcome := <-f.server.Outcomes()
	require.Equal(t, oauthmodel.ProviderGoogle, outcome.Provider)
	require.NoError(t, outcome.Err)
}

func TestCallback_ProviderFromQuery(t *testing.T) {
	f := setup(t)

	resp, _ := f.get(t, "/callback?provider=apple&code=c1&state=s1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, oauthmodel.ProviderApple, f.completer.Calls()[0].provider)
}

func TestCallback_FormPost(t *testing.T) {
	f := setup(t)

	resp, err := http.PostForm(f.http.URL+"/callback/microsoft", url.Values{"code": {"c1"}, "state": {"s1"}})
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []call{{provider: oauthmodel.ProviderMicrosoft, code: "c1", state: "s1"}}, f.completer.Calls())
}

func TestCallback_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		err        error
		wantStatus int
		wantCalls  int
		wantKind   error
	}{
		{name: "unknown provider", path: "/callback/myspace?code=c&state=s", err: autherrors.ErrUnsupportedProvider, wantStatus: http.StatusBadRequest, wantCalls: 1, wantKind: autherrors.ErrUnsupportedProvider},
		{name: "missing code", path: "/callback/google?state=s", err: autherrors.ErrInvalidRequest, wantStatus: http.StatusBadRequest, wantCalls: 1, wantKind: autherrors.ErrInvalidRequest},
		{name: "provider error", path: "/callback/google?error=access_denied&error_description=no", wantStatus: http.StatusBadRequest, wantCalls: 1, wantKind: autherrors.ErrProviderDenied},
		{name: "state mismatch", path: "/callback/google?code=c&state=forged", err: autherrors.ErrCSRFMismatch, wantStatus: http.StatusBadRequest, wantCalls: 1, wantKind: autherrors.ErrCSRFMismatch},
		{name: "service down", path: "/callback/google?code=c&state=s", err: autherrors.ErrNetworkOrServer, wantStatus: http.StatusBadGateway, wantCalls: 1, wantKind: autherrors.ErrNetworkOrServer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			f.completer.err = tt.err

			resp, body := f.get(t, tt.path)
			require.Equal(t, tt.wantStatus, resp.StatusCode)
			require.NotContains(t, body, "forged", "request values are not echoed")
			require.Len(t, f.completer.Calls(), tt.wantCalls)

			outcome := <-f.server.Outcomes()
			require.ErrorIs(t, outcome.Err, tt.wantKind)
		})
	}
}

// coordinatorCompleter drives a federated.Coordinator directly.
type coordinatorCompleter struct {
	c *federated.Coordinator
}

func (cc coordinatorCompleter) CompleteFederated(ctx context.Context, provider oauthmodel.Provider, code, state string) error {
	_, err := cc.c.HandleCallback(ctx, provider, code, state)
	return err
}

func (cc coordinatorCompleter) FailFederated(ctx context.Context, provider oauthmodel.Provider, code, description string) error {
	return cc.c.HandleProviderError(ctx, provider, code, description)
}

type stubService struct{}

func (stubService) FederatedInitiate(_ context.Context, req oauthmodel.FederatedInitiateRequest) (*oauthmodel.FederatedInitiateResponse, error) {
	return &oauthmodel.FederatedInitiateResponse{AuthorizationURL: "https://idp.example.com/authorize", State: req.State}, nil
}

func (stubService) FederatedCallback(context.Context, oauthmodel.FederatedCallbackRequest) (*oauthmodel.TokenResponse, error) {
	return &oauthmodel.TokenResponse{AccessToken: "A1", ExpiresIn: 3600}, nil
}

type nopAdopter struct{}

func (nopAdopter) Adopt(context.Context, *sessions.Session) error { return nil }

func TestCallback_IncompleteRedirectConsumesHandshake(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		wantKind error
	}{
		{name: "missing state", path: "/callback/google?code=attacker", wantKind: autherrors.ErrCSRFMismatch},
		{name: "missing code", path: "/callback/google?state=n1", wantKind: autherrors.ErrInvalidRequest},
		{name: "unknown provider", path: "/callback/myspace?code=attacker&state=n1", wantKind: autherrors.ErrUnsupportedProvider},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handshakes := federated.NewMemoryHandshakeRepo()
			c, err := federated.NewCoordinator(stubService{}, nopAdopter{}, handshakes, "http://127.0.0.1/callback",
				federated.WithNonceFunc(func() (string, error) { return "n1", nil }))
			require.NoError(t, err)
			s, err := server.New(config.EnvVars{Env: "TEST"}, coordinatorCompleter{c: c})
			require.NoError(t, err)
			ts := httptest.NewServer(s)
			t.Cleanup(ts.Close)

			_, err = c.Initiate(context.Background(), oauthmodel.ProviderGoogle)
			require.NoError(t, err)
			require.Equal(t, federated.AwaitingCallback, c.State())

			resp, err := http.Get(ts.URL + tt.path)
			require.NoError(t, err)
			resp.Body.Close()
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
			require.Equal(t, federated.Rejected, c.State())

			h, err := handshakes.Take(context.Background())
			require.NoError(t, err)
			require.Nil(t, h, "handshake consumed")

			outcome := <-s.Outcomes()
			require.ErrorIs(t, outcome.Err, tt.wantKind)
		})
	}
}

func TestCallback_RecoversFromPanic(t *testing.T) {
	f := setup(t)
	f.completer.panic = true

	resp, _ := f.get(t, "/callback/google?code=c&state=s")
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	resp, _ = f.get(t, server.RouteHealth)
	require.Equal(t, http.StatusNoContent, resp.StatusCode, "server still serving")
}

func TestOutcomes_DroppedWithoutReceiver(t *testing.T) {
	f := setup(t)

	f.get(t, "/callback/google?code=c1&state=s1")
	f.get(t, "/callback/google?code=c2&state=s2")
	require.Len(t, f.completer.Calls(), 2)

	outcome := <-f.server.Outcomes()
	require.NoError(t, outcome.Err)
	select {
	case <-f.server.Outcomes():
		t.Fatal("second outcome should have been dropped")
	default:
	}
}

func TestStartAndShutdown(t *testing.T) {
	s, err := server.New(config.EnvVars{Env: "DEV"}, &fakeCompleter{})
	require.NoError(t, err)
	require.Empty(t, s.Addr())

	require.NoError(t, s.Start("127.0.0.1:0"))
	addr := s.Addr()
	require.True(t, strings.HasPrefix(addr, "127.0.0.1:"))

	resp, err := http.Get("http://" + addr + server.RouteHealth)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	require.NoError(t, s.Shutdown(context.Background()))
	require.Empty(t, s.Addr())
	require.NoError(t, s.Shutdown(context.Background()), "second shutdown is a no-op")
}

func TestMetricsRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.Refresh(metrics.OutcomeSuccess)

	s, err := server.New(config.EnvVars{}, &fakeCompleter{}, server.WithMetrics(reg))
	require.NoError(t, err)
	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + server.RouteMetrics)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(b), "idynic_auth_")

	without := setup(t)
	resp, _ = without.get(t, server.RouteMetrics)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
