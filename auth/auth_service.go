// Package auth is the session façade used by the application: login, signup,
// logout and federated login, exposed as one observable session state.
package auth

import (
	"context"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/atriumn/idynic-web-sub000/idtoken"
	autherrors "github.com/atriumn/idynic-web-sub000/internal/errors"
	"github.com/atriumn/idynic-web-sub000/oauthmodel"
	"github.com/atriumn/idynic-web-sub000/sessions"
	"github.com/atriumn/idynic-web-sub000/users"
)

// SessionService composes the identity service, the token manager and the
// federated flow into a single session state.
type SessionService struct {
	identity  IdentityService
	tokens    TokenManager
	store     sessions.Store
	federated FederatedFlow
	clock     clockwork.Clock

	lock        sync.RWMutex
	state       State
	subscribers map[int]func(State)
	nextSubID   int
	onSignedOut []func()
}

// SessionServiceOption defines a function type to modify the SessionService instance.
type SessionServiceOption func(*SessionService)

// WithFederated enables federated login.
func WithFederated(f FederatedFlow) SessionServiceOption {
	return func(s *SessionService) {
		s.federated = f
	}
}

// WithClock sets the clock used to stamp new sessions (primarily for testing).
func WithClock(clock clockwork.Clock) SessionServiceOption {
	return func(s *SessionService) {
		s.clock = clock
	}
}

// WithOnSignedOut registers fn to run when the session ends without a logout,
// typically to send the user to the sign-in entry point.
func WithOnSignedOut(fn func()) SessionServiceOption {
	return func(s *SessionService) {
		s.onSignedOut = append(s.onSignedOut, fn)
	}
}

func NewSessionService(identity IdentityService, tokens TokenManager, store sessions.Store, options ...SessionServiceOption) (*SessionService, error) {
	if identity == nil {
		return nil, errors.New("[NewSessionService] identity service is required")
	}
	if tokens == nil {
		return nil, errors.New("[NewSessionService] token manager is required")
	}
	if store == nil {
		return nil, errors.New("[NewSessionService] store is required")
	}

	s := &SessionService{
		identity:    identity,
		tokens:      tokens,
		store:       store,
		clock:       clockwork.NewRealClock(),
		state:       unauthenticated(),
		subscribers: map[int]func(State){},
	}
	for _, opt := range options {
		opt(s)
	}

	tokens.OnExpired(s.sessionExpired)
	return s, nil
}

// State returns the current session state.
func (s *SessionService) State() State {
	s.lock.RLock()
	defer s.lock.RUnlock()
	st := s.state
	st.User = st.User.Clone()
	return st
}

func (s *SessionService) CurrentUser() *users.User {
	return s.State().User
}

func (s *SessionService) Loading() bool {
	return s.State().Loading
}

// Subscribe calls fn on every state change until the returned function is called.
func (s *SessionService) Subscribe(fn func(State)) (unsubscribe func()) {
	s.lock.Lock()
	defer s.lock.Unlock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	return func() {
		s.lock.Lock()
		defer s.lock.Unlock()
		delete(s.subscribers, id)
	}
}

func (s *SessionService) setState(st State) {
	s.lock.Lock()
	s.state = st
	subs := make([]func(State), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.lock.Unlock()

	for _, fn := range subs {
		st.User = st.User.Clone()
		fn(st)
	}
}

// Start restores a persisted session, renewing it when due. Without a usable
// session the state becomes Unauthenticated. A network failure leaves the
// persisted session in place for the next start.
func (s *SessionService) Start(ctx context.Context) error {
	s.setState(loading())

	persisted, err := s.store.Read(ctx)
	if err != nil {
		s.setState(unauthenticated())
		return errors.Wrap(err, "[SessionService.Start] read session")
	}
	if persisted == nil {
		s.setState(unauthenticated())
		return nil
	}

	fresh, err := s.tokens.EnsureFresh(ctx)
	if err != nil {
		s.setState(unauthenticated())
		if autherrors.Is(err, autherrors.ErrSessionExpired) || autherrors.Is(err, autherrors.ErrNoSession) {
			return nil
		}
		return errors.Wrap(err, "[SessionService.Start]")
	}

	user, err := s.resolveUser(ctx, fresh, "")
	if err != nil {
		s.setState(unauthenticated())
		if autherrors.Is(err, autherrors.ErrSessionExpired) {
			s.teardown(ctx)
			return nil
		}
		return errors.Wrap(err, "[SessionService.Start] resolve user")
	}

	if fresh.User == nil {
		if err := s.tokens.Adopt(ctx, fresh.WithUser(user)); err != nil {
			s.setState(unauthenticated())
			return errors.Wrap(err, "[SessionService.Start]")
		}
	} else {
		s.tokens.Schedule(fresh)
	}

	s.setState(authenticated(user))
	log.Info().Str("user_id", user.ID).Msg("session restored")
	return nil
}

// Login exchanges credentials for a session. Credential errors are returned
// with their kind unchanged.
func (s *SessionService) Login(ctx context.Context, username, password string) error {
	prev := s.State()
	s.setState(loading())

	tr, err := s.identity.Login(ctx, username, password)
	if err != nil {
		s.setState(prev)
		return errors.Wrap(err, "[SessionService.Login]")
	}

	session := sessions.New(*tr, s.clock.Now())
	user, err := s.resolveUser(ctx, session, username)
	if err != nil {
		s.setState(prev)
		return errors.Wrap(err, "[SessionService.Login] resolve user")
	}
	session.User = user

	if err := s.tokens.Adopt(ctx, session); err != nil {
		s.setState(prev)
		return errors.Wrap(err, "[SessionService.Login]")
	}

	s.setState(authenticated(user))
	log.Info().Str("user_id", user.ID).Msg("logged in")
	return nil
}

// Signup registers an account. It does not sign the user in.
func (s *SessionService) Signup(ctx context.Context, email, password string, attributes map[string]string) (*oauthmodel.SignupResponse, error) {
	resp, err := s.identity.Signup(ctx, oauthmodel.SignupRequest{
		Email:      email,
		Password:   password,
		Attributes: attributes,
	})
	if err != nil {
		return nil, errors.Wrap(err, "[SessionService.Signup]")
	}
	return resp, nil
}

func (s *SessionService) ConfirmSignup(ctx context.Context, username, code string) error {
	if err := s.identity.ConfirmSignup(ctx, username, code); err != nil {
		return errors.Wrap(err, "[SessionService.ConfirmSignup]")
	}
	return nil
}

func (s *SessionService) ResendConfirmation(ctx context.Context, username string) (*oauthmodel.CodeDelivery, error) {
	delivery, err := s.identity.ResendConfirmation(ctx, username)
	if err != nil {
		return nil, errors.Wrap(err, "[SessionService.ResendConfirmation]")
	}
	return delivery, nil
}

// Logout ends the session locally first and then tells the identity service.
// The local teardown always happens; a failed remote logout is only logged.
func (s *SessionService) Logout(ctx context.Context) error {
	captured, err := s.store.Read(ctx)
	if err != nil {
		log.Err(err).Msg("failed to read session before logout")
	}

	clearErr := s.teardown(ctx)
	s.setState(unauthenticated())

	if captured != nil && captured.AccessToken != "" {
		if err := s.identity.Logout(ctx, captured.AccessToken); err != nil {
			log.Warn().Err(err).Msg("remote logout failed")
		}
	}
	log.Info().Msg("logged out")

	if clearErr != nil {
		return errors.Wrap(clearErr, "[SessionService.Logout]")
	}
	return nil
}

// RefreshToken renews the current session now.
func (s *SessionService) RefreshToken(ctx context.Context) error {
	current, err := s.store.Read(ctx)
	if err != nil {
		return errors.Wrap(err, "[SessionService.RefreshToken]")
	}
	if current == nil {
		return errors.Wrap(autherrors.ErrNoSession, "[SessionService.RefreshToken]")
	}
	if _, err := s.tokens.ForceRefresh(ctx, current.AccessToken); err != nil {
		return errors.Wrap(err, "[SessionService.RefreshToken]")
	}
	return nil
}

// StartFederated begins a login with provider and returns the authorization URL.
func (s *SessionService) StartFederated(ctx context.Context, provider oauthmodel.Provider) (string, error) {
	if s.federated == nil {
		return "", errors.Wrap(autherrors.ErrUnsupportedProvider, "[SessionService.StartFederated] federated login disabled")
	}
	url, err := s.federated.Initiate(ctx, provider)
	if err != nil {
		return "", errors.Wrap(err, "[SessionService.StartFederated]")
	}
	return url, nil
}

// CompleteFederated finishes a federated login from the provider's redirect.
func (s *SessionService) CompleteFederated(ctx context.Context, provider oauthmodel.Provider, code, state string) error {
	if s.federated == nil {
		return errors.Wrap(autherrors.ErrUnsupportedProvider, "[SessionService.CompleteFederated] federated login disabled")
	}
	prev := s.State()
	s.setState(loading())

	session, err := s.federated.HandleCallback(ctx, provider, code, state)
	if err != nil {
		s.setState(prev)
		return errors.Wrap(err, "[SessionService.CompleteFederated]")
	}

	user, err := s.resolveUser(ctx, session, session.User.Email())
	if err != nil {
		s.setState(prev)
		return errors.Wrap(err, "[SessionService.CompleteFederated] resolve user")
	}
	if session.User == nil || session.User.DisplayName() == "" {
		if err := s.tokens.Adopt(ctx, session.WithUser(user)); err != nil {
			s.setState(prev)
			return errors.Wrap(err, "[SessionService.CompleteFederated]")
		}
	}

	s.setState(authenticated(user))
	log.Info().Str("user_id", user.ID).Str("provider", provider.String()).Msg("logged in")
	return nil
}

// FailFederated records a provider error redirect.
func (s *SessionService) FailFederated(ctx context.Context, provider oauthmodel.Provider, code, description string) error {
	if s.federated == nil {
		return errors.Wrap(autherrors.ErrUnsupportedProvider, "[SessionService.FailFederated] federated login disabled")
	}
	return errors.Wrap(s.federated.HandleProviderError(ctx, provider, code, description), "[SessionService.FailFederated]")
}

// teardown cancels renewal, clears the store and drops any handshake.
func (s *SessionService) teardown(ctx context.Context) error {
	s.tokens.Cancel()
	clearErr := s.store.Clear(ctx)
	if clearErr != nil {
		log.Err(clearErr).Msg("failed to clear session store")
	}
	if s.federated != nil {
		if err := s.federated.Discard(ctx); err != nil {
			log.Err(err).Msg("failed to discard federated handshake")
		}
	}
	return clearErr
}

// sessionExpired runs when the token manager ends the session.
func (s *SessionService) sessionExpired() {
	s.setState(unauthenticated())

	s.lock.RLock()
	hooks := append([]func(){}, s.onSignedOut...)
	s.lock.RUnlock()

	log.Info().Msg("session expired")
	for _, fn := range hooks {
		fn()
	}
}

// resolveUser derives the display user: the session's own user, then the
// identity token claims, then the identity service. When none yields a
// display name, identifier stands in for username and display name.
func (s *SessionService) resolveUser(ctx context.Context, session *sessions.Session, identifier string) (*users.User, error) {
	base := session.User
	if base != nil && base.DisplayName() != "" {
		return base.Clone(), nil
	}

	if session.IDToken != "" {
		claims, err := idtoken.ParseClaims(session.IDToken)
		if err != nil {
			log.Warn().Err(err).Msg("identity token claims unreadable")
		} else {
			u := claims.User()
			if u.DisplayName() != "" {
				return u, nil
			}
			if base == nil {
				base = u
			}
		}
	}

	me, err := s.identity.Me(ctx, session.AccessToken)
	if err == nil {
		attrs := map[string]string{users.AttrUsername: me.Username}
		for k, v := range me.Attributes {
			attrs[k] = v
		}
		u := users.New(me.Username, attrs)
		if base != nil && base.ID != "" {
			u.ID = base.ID
		}
		return users.WithLoginFallback(u, identifier), nil
	}

	if identifier != "" {
		log.Debug().Err(err).Msg("user profile unavailable, using login identifier")
		return users.WithLoginFallback(base, identifier), nil
	}
	if base != nil {
		return base.Clone(), nil
	}
	return nil, err
}
