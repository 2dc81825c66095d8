package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"github.com/atriumn/idynic-web-sub000/auth"
	"github.com/atriumn/idynic-web-sub000/federated"
	"github.com/atriumn/idynic-web-sub000/gateway"
	"github.com/atriumn/idynic-web-sub000/identity"
	"github.com/atriumn/idynic-web-sub000/idtoken"
	"github.com/atriumn/idynic-web-sub000/internal/config"
	autherrors "github.com/atriumn/idynic-web-sub000/internal/errors"
	"github.com/atriumn/idynic-web-sub000/internal/metrics"
	"github.com/atriumn/idynic-web-sub000/oauthmodel"
	"github.com/atriumn/idynic-web-sub000/server"
	"github.com/atriumn/idynic-web-sub000/sessions"
	"github.com/atriumn/idynic-web-sub000/token/refresh"
)

// app wires the session core from configuration.
type app struct {
	config    config.Config
	registry  *prometheus.Registry
	redis     *redis.Client
	refresher *refresh.Refresher
	gateway   *gateway.Gateway
	sessions  *auth.SessionService
	stdin     *bufio.Reader
	prompts   io.Writer

	// readPassword is set when stdin is a terminal and reads without echo.
	readPassword func() ([]byte, error)
}

func newApp(ctx context.Context, c config.Config) (*app, error) {
	a := &app{
		config:   c,
		registry: prometheus.NewRegistry(),
		stdin:    bufio.NewReader(os.Stdin),
		prompts:  os.Stderr,
	}
	if fd := int(os.Stdin.Fd()); term.IsTerminal(fd) {
		a.readPassword = func() ([]byte, error) { return term.ReadPassword(fd) }
	}
	m := metrics.New(a.registry)

	store, err := a.newStore(c)
	if err != nil {
		return nil, err
	}

	client := identity.NewClient(c.GetIdentityBaseURL(), identity.WithTimeout(c.GetIdentityTimeout()))

	a.refresher, err = refresh.NewRefresher(store, client,
		refresh.WithRatio(c.GetRefreshRatio()),
		refresh.WithTimeout(c.GetRefreshTimeout()),
		refresh.WithMetrics(m),
	)
	if err != nil {
		return nil, err
	}

	coordinator, err := a.newCoordinator(ctx, c, client, m)
	if err != nil {
		return nil, err
	}

	a.gateway, err = gateway.New(a.refresher, gateway.WithMetrics(m))
	if err != nil {
		return nil, err
	}

	a.sessions, err = auth.NewSessionService(client, a.refresher, store,
		auth.WithFederated(coordinator),
		auth.WithOnSignedOut(func() {
			fmt.Fprintln(os.Stderr, "Your session has expired. Run `authctl login` to sign in again.")
		}),
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) newStore(c config.StoreConfig) (sessions.Store, error) {
	switch c.GetStoreKind() {
	case config.StoreMemory:
		return sessions.NewMemoryStore(), nil
	case config.StoreRedis:
		return sessions.NewRedisStore(a.redisClient(c), c.GetRedisPrefix()), nil
	default:
		key, err := c.GetSessionKey()
		if err != nil {
			return nil, err
		}
		if key == nil {
			log.Warn().Str("path", c.GetSessionFile()).Msg("SESSION_KEY not set, session file is stored unsealed")
		}
		return sessions.NewFileStore(c.GetSessionFile(), sessions.WithEncryptionKey(key)), nil
	}
}

func (a *app) redisClient(c config.StoreConfig) *redis.Client {
	if a.redis == nil {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     c.GetRedisAddr(),
			Password: c.GetRedisPassword(),
		})
	}
	return a.redis
}

func (a *app) newCoordinator(ctx context.Context, c config.Config, client *identity.Client, m *metrics.Metrics) (*federated.Coordinator, error) {
	var handshakes federated.HandshakeRepo = federated.NewMemoryHandshakeRepo()
	if c.GetStoreKind() == config.StoreRedis {
		handshakes = federated.NewRedisHandshakeRepo(a.redisClient(c), c.GetRedisPrefix(), c.GetHandshakeTTL())
	}

	opts := []federated.Option{
		federated.WithHandshakeTTL(c.GetHandshakeTTL()),
		federated.WithMetrics(m),
		federated.WithNavigator(federated.NavigatorFunc(func(_ context.Context, authURL string) error {
			fmt.Printf("Open this address in your browser to continue:\n\n  %s\n\n", authURL)
			return nil
		})),
	}
	if issuer := c.GetOIDCIssuer(); issuer != "" {
		verifier, err := idtoken.NewVerifier(ctx, issuer, c.GetOIDCClientID())
		if err != nil {
			return nil, err
		}
		opts = append(opts, federated.WithVerifier(verifier))
	}
	return federated.NewCoordinator(client, a.refresher, handshakes, c.GetRedirectURI(), opts...)
}

func (a *app) Close() {
	a.refresher.Cancel()
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			log.Err(err).Msg("failed to close redis client")
		}
	}
}

func (a *app) dispatch(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "login":
		return a.login(ctx, args)
	case "signup":
		return a.signup(ctx, args)
	case "confirm":
		return a.confirm(ctx, args)
	case "resend":
		return a.resend(ctx, args)
	case "whoami":
		return a.whoami(ctx)
	case "refresh":
		return a.renew(ctx)
	case "logout":
		return a.sessions.Logout(ctx)
	case "federated":
		return a.federatedLogin(ctx, args)
	case "get":
		return a.get(ctx, args)
	}
	fmt.Fprint(os.Stderr, usage)
	return fmt.Errorf("unknown command %q", cmd)
}

func need(args []string, n int, names string) error {
	if len(args) != n {
		return fmt.Errorf("expected %s: %w", names, autherrors.ErrInvalidRequest)
	}
	return nil
}

func (a *app) readSecret(prompt string) (string, error) {
	fmt.Fprint(a.prompts, prompt)
	if a.readPassword != nil {
		b, err := a.readPassword()
		fmt.Fprintln(a.prompts)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}
	line, err := a.stdin.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (a *app) login(ctx context.Context, args []string) error {
	if err := need(args, 1, "<username>"); err != nil {
		return err
	}
	password, err := a.readSecret("Password: ")
	if err != nil {
		return err
	}
	if err := a.sessions.Login(ctx, args[0], password); err != nil {
		return explain(err)
	}
	fmt.Printf("Signed in as %s\n", a.sessions.CurrentUser().DisplayName())
	return nil
}

func (a *app) signup(ctx context.Context, args []string) error {
	if err := need(args, 1, "<email>"); err != nil {
		return err
	}
	password, err := a.readSecret("Choose a password: ")
	if err != nil {
		return err
	}
	resp, err := a.sessions.Signup(ctx, args[0], password, nil)
	if err != nil {
		return explain(err)
	}
	fmt.Printf("Account %s created. Check your email for a confirmation code.\n", resp.UserID)
	return nil
}

func (a *app) confirm(ctx context.Context, args []string) error {
	if err := need(args, 2, "<username> <code>"); err != nil {
		return err
	}
	if err := a.sessions.ConfirmSignup(ctx, args[0], args[1]); err != nil {
		return explain(err)
	}
	fmt.Println("Account confirmed. You can now sign in.")
	return nil
}

func (a *app) resend(ctx context.Context, args []string) error {
	if err := need(args, 1, "<username>"); err != nil {
		return err
	}
	delivery, err := a.sessions.ResendConfirmation(ctx, args[0])
	if err != nil {
		return explain(err)
	}
	fmt.Printf("A new code was sent by %s to %s\n", strings.ToLower(delivery.DeliveryMedium), delivery.Destination)
	return nil
}

func (a *app) whoami(ctx context.Context) error {
	if err := a.sessions.Start(ctx); err != nil {
		return explain(err)
	}
	st := a.sessions.State()
	if st.Status != auth.Authenticated {
		fmt.Println("Not signed in")
		return nil
	}
	fmt.Printf("%s <%s>\n", st.User.DisplayName(), st.User.Email())
	if next := a.refresher.NextRenewal(); !next.IsZero() {
		fmt.Printf("session renews at %s\n", next.Local().Format("15:04:05"))
	}
	return nil
}

func (a *app) renew(ctx context.Context) error {
	if err := a.sessions.RefreshToken(ctx); err != nil {
		return explain(err)
	}
	fmt.Println("Session renewed")
	return nil
}

// federatedLogin runs the loopback callback server until the provider redirects
// back, the handshake lapses or the user interrupts.
func (a *app) federatedLogin(ctx context.Context, args []string) error {
	if err := need(args, 1, "<provider>"); err != nil {
		return err
	}
	provider, err := oauthmodel.ParseProvider(args[0])
	if err != nil {
		return err
	}

	srv, err := server.New(a.config, a.sessions, server.WithMetrics(a.registry))
	if err != nil {
		return err
	}
	if err := srv.Start(a.config.GetCallbackAddr()); err != nil {
		return err
	}
	defer func() {
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Err(err).Msg("callback server shutdown")
		}
	}()

	if _, err := a.sessions.StartFederated(ctx, provider); err != nil {
		return explain(err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.GetHandshakeTTL())
	defer cancel()
	select {
	case outcome := <-srv.Outcomes():
		if outcome.Err != nil {
			return explain(outcome.Err)
		}
		fmt.Printf("Signed in as %s\n", a.sessions.CurrentUser().DisplayName())
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for the provider redirect: %w", ctx.Err())
	}
}

func (a *app) get(ctx context.Context, args []string) error {
	if err := need(args, 1, "<url>"); err != nil {
		return err
	}
	if err := a.sessions.Start(ctx); err != nil {
		return explain(err)
	}
	if a.sessions.State().Status != auth.Authenticated {
		return autherrors.ErrNoSession
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, args[0], nil)
	if err != nil {
		return err
	}
	res := a.gateway.Send(req)
	if res.Err != nil {
		return explain(res.Err)
	}
	defer res.Response.Body.Close()

	log.Debug().Int("status", res.Response.StatusCode).Bool("retried", res.Retried).Msg("protected call")
	_, err = io.Copy(os.Stdout, res.Response.Body)
	return err
}

// explain swaps an error for the message the user should see. Kinds without
// a dedicated message are returned unchanged.
func explain(err error) error {
	if autherrors.Terminal(err) {
		if autherrors.Is(err, autherrors.ErrSessionExpired) {
			return errors.New("your session has expired, sign in again")
		}
		return errors.New("the login could not be verified, start again")
	}
	if !autherrors.UserFacing(err) {
		return err
	}
	switch {
	case autherrors.Is(err, autherrors.ErrInvalidCredentials):
		return errors.New("incorrect username or password")
	case autherrors.Is(err, autherrors.ErrAccountNotConfirmed):
		return errors.New("this account is not confirmed yet, run `authctl confirm`")
	case autherrors.Is(err, autherrors.ErrConfirmationCodeInvalid):
		return errors.New("that code is invalid or has expired, run `authctl resend` for a new one")
	}
	return autherrors.ErrDuplicateAccount
}
