// Package refresh keeps the stored session fresh. A Refresher is the only
// writer of renewed sessions: it deduplicates concurrent refresh demands and
// runs the proactive renewal timer.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	autherrors "github.com/atriumn/idynic-web-sub000/internal/errors"
	"github.com/atriumn/idynic-web-sub000/internal/metrics"
	"github.com/atriumn/idynic-web-sub000/sessions"
)

const (
	DefaultRatio   = 0.92
	DefaultTimeout = 15 * time.Second
)

// Refresher owns the single in-flight refresh and the proactive timer.
type Refresher struct {
	store     sessions.Store
	exchanger Exchanger
	clock     clockwork.Clock
	ratio     float64
	timeout   time.Duration
	metrics   *metrics.Metrics

	group    singleflight.Group
	inflight atomic.Bool

	// lock guards generation, the timer and the expiry listeners. A store
	// write of a refreshed session happens under lock so that Cancel cannot
	// interleave between the generation check and the write.
	lock        sync.Mutex
	generation  uint64
	timer       clockwork.Timer
	nextRenewal time.Time
	onExpired   []func()
}

type Option func(*Refresher)

// WithClock sets the clock used for expiry checks and the renewal timer.
func WithClock(clock clockwork.Clock) Option {
	return func(r *Refresher) {
		r.clock = clock
	}
}

// WithRatio sets the fraction of the token lifetime after which a session is renewed.
func WithRatio(ratio float64) Option {
	return func(r *Refresher) {
		r.ratio = ratio
	}
}

// WithTimeout bounds each refresh call.
func WithTimeout(d time.Duration) Option {
	return func(r *Refresher) {
		r.timeout = d
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Refresher) {
		r.metrics = m
	}
}

func NewRefresher(store sessions.Store, exchanger Exchanger, opts ...Option) (*Refresher, error) {
	if store == nil {
		return nil, errors.New("[NewRefresher] store is required")
	}
	if exchanger == nil {
		return nil, errors.New("[NewRefresher] exchanger is required")
	}

	r := &Refresher{
		store:     store,
		exchanger: exchanger,
		clock:     clockwork.NewRealClock(),
		ratio:     DefaultRatio,
		timeout:   DefaultTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.ratio <= 0 || r.ratio >= 1 {
		return nil, fmt.Errorf("[NewRefresher] ratio %v must be between 0 and 1", r.ratio)
	}
	return r, nil
}

// OnExpired registers fn to run whenever a failed refresh ends the session.
func (r *Refresher) OnExpired(fn func()) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.onExpired = append(r.onExpired, fn)
}

// EnsureFresh returns the stored session, refreshing it first when it has
// entered its renewal window. Concurrent callers share one refresh.
func (r *Refresher) EnsureFresh(ctx context.Context) (*sessions.Session, error) {
	s, err := r.store.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("[Refresher.EnsureFresh] %w", err)
	}
	if s == nil {
		return nil, fmt.Errorf("[Refresher.EnsureFresh] %w", autherrors.ErrNoSession)
	}
	if !r.due(s) {
		return s, nil
	}
	return r.refresh(ctx, r.currentGeneration(), r.due)
}

// ForceRefresh renews the session after the service rejected rejectedToken.
// When the stored access token already differs, another caller has renewed it
// and the stored session is returned without a network call. A rejected
// session that cannot be renewed is ended with ErrSessionExpired.
func (r *Refresher) ForceRefresh(ctx context.Context, rejectedToken string) (*sessions.Session, error) {
	s, err := r.store.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("[Refresher.ForceRefresh] %w", err)
	}
	if s == nil {
		return nil, fmt.Errorf("[Refresher.ForceRefresh] %w", autherrors.ErrSessionExpired)
	}
	stillRejected := func(current *sessions.Session) bool {
		return current.AccessToken == rejectedToken
	}
	if !stillRejected(s) {
		return s, nil
	}

	gen := r.currentGeneration()
	if !s.CanRefresh() {
		// The rejected token cannot be replaced, so the session is over.
		r.expire(gen, errors.New("rejected session has no refresh token"))
		return nil, fmt.Errorf("[Refresher.ForceRefresh] %w", autherrors.ErrSessionExpired)
	}

	next, err := r.refresh(ctx, gen, stillRejected)
	if err != nil {
		return nil, err
	}
	if stillRejected(next) {
		r.expire(gen, errors.New("rejected access token was not replaced"))
		return nil, fmt.Errorf("[Refresher.ForceRefresh] %w", autherrors.ErrSessionExpired)
	}
	return next, nil
}

// Adopt replaces the stored session with s and arms the renewal timer. Any
// refresh still in flight for the previous session is discarded.
func (r *Refresher) Adopt(ctx context.Context, s *sessions.Session) error {
	if s == nil {
		return fmt.Errorf("[Refresher.Adopt] %w", sessions.ErrNilSession)
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	r.generation++
	r.stopTimerLocked()
	if err := r.store.Write(ctx, s); err != nil {
		return fmt.Errorf("[Refresher.Adopt] %w", err)
	}
	r.armLocked(s)
	return nil
}

// Schedule arms the renewal timer for s, replacing any armed timer.
func (r *Refresher) Schedule(s *sessions.Session) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.armLocked(s)
}

// Cancel disarms the timer. A refresh in flight completes but its result is
// not stored.
func (r *Refresher) Cancel() {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.generation++
	r.stopTimerLocked()
}

// NextRenewal reports when the armed timer fires, or the zero time.
func (r *Refresher) NextRenewal() time.Time {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.nextRenewal
}

func (r *Refresher) due(s *sessions.Session) bool {
	at := s.RenewAt(r.ratio)
	return !at.IsZero() && !r.clock.Now().Before(at)
}

func (r *Refresher) currentGeneration() uint64 {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.generation
}

// refresh joins or starts the flight for gen. Flights are keyed by generation
// so that a flight started before a logout or a new login is never joined
// after it. A flight that finds needed false for the stored session returns it
// unchanged.
func (r *Refresher) refresh(ctx context.Context, gen uint64, needed func(*sessions.Session) bool) (*sessions.Session, error) {
	if r.inflight.Load() {
		r.metrics.RefreshJoined()
	}

	ch := r.group.DoChan(strconv.FormatUint(gen, 10), func() (any, error) {
		r.inflight.Store(true)
		defer r.inflight.Store(false)
		return r.doRefresh(gen, needed)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*sessions.Session).Clone(), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("[Refresher.refresh] %w", ctx.Err())
	}
}

// doRefresh performs one refresh call. It runs detached from any caller's
// context and is bounded by the refresher timeout.
func (r *Refresher) doRefresh(gen uint64, needed func(*sessions.Session) bool) (*sessions.Session, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	current, err := r.store.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("[Refresher.refresh] read session: %w", err)
	}
	if current == nil {
		return nil, fmt.Errorf("[Refresher.refresh] %w", autherrors.ErrSessionExpired)
	}
	if !needed(current) {
		return current, nil
	}

	if !current.CanRefresh() {
		if !current.Expired(r.clock.Now()) {
			return current, nil
		}
		r.expire(gen, errors.New("session has no refresh token"))
		return nil, fmt.Errorf("[Refresher.refresh] %w", autherrors.ErrSessionExpired)
	}

	log.Debug().Uint64("generation", gen).Msg("refreshing session")
	tr, err := r.exchanger.Refresh(ctx, current.RefreshToken)
	if err != nil {
		r.metrics.Refresh(metrics.OutcomeFailure)
		r.expire(gen, err)
		return nil, fmt.Errorf("[Refresher.refresh] %v: %w", err, autherrors.ErrSessionExpired)
	}

	next := current.Renewed(*tr, r.clock.Now())

	r.lock.Lock()
	if r.generation != gen {
		r.lock.Unlock()
		r.metrics.Refresh(metrics.OutcomeDiscarded)
		log.Info().Msg("session ended while refreshing, discarding refreshed tokens")
		return nil, fmt.Errorf("[Refresher.refresh] %w", autherrors.ErrSessionExpired)
	}
	if err := r.store.Write(ctx, next); err != nil {
		r.lock.Unlock()
		// The stored refresh token may already be spent.
		r.metrics.Refresh(metrics.OutcomeFailure)
		r.expire(gen, fmt.Errorf("write session: %w", err))
		return nil, fmt.Errorf("[Refresher.refresh] write session: %v: %w", err, autherrors.ErrSessionExpired)
	}
	r.armLocked(next)
	r.lock.Unlock()

	r.metrics.Refresh(metrics.OutcomeSuccess)
	log.Info().Time("expires_at", next.ExpiresAt()).Msg("session refreshed")
	return next, nil
}

// expire tears the session down after a failed refresh, unless a logout or a
// new login has happened since gen was captured.
func (r *Refresher) expire(gen uint64, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	r.lock.Lock()
	if r.generation != gen {
		r.lock.Unlock()
		return
	}
	r.generation++
	r.stopTimerLocked()
	clearErr := r.store.Clear(ctx)
	listeners := append([]func(){}, r.onExpired...)
	r.lock.Unlock()

	log.Warn().Err(cause).Msg("refresh failed, session ended")
	if clearErr != nil {
		log.Err(clearErr).Msg("failed to clear session store")
	}
	for _, fn := range listeners {
		fn()
	}
}

func (r *Refresher) armLocked(s *sessions.Session) {
	r.stopTimerLocked()
	if s == nil || !s.CanRefresh() {
		return
	}
	at := s.RenewAt(r.ratio)
	if at.IsZero() {
		return
	}

	delay := at.Sub(r.clock.Now())
	if delay < 0 {
		delay = 0
	}
	gen := r.generation
	r.nextRenewal = at
	r.timer = r.clock.AfterFunc(delay, func() {
		go r.renew(gen)
	})
}

func (r *Refresher) stopTimerLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.nextRenewal = time.Time{}
}

// renew is the timer callback. It is a no-op when the session has changed or
// was already renewed by another caller.
func (r *Refresher) renew(gen uint64) {
	if r.currentGeneration() != gen {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	s, err := r.store.Read(ctx)
	if err != nil || s == nil || !r.due(s) {
		return
	}
	if _, err := r.refresh(ctx, gen, r.due); err != nil {
		log.Err(err).Msg("proactive renewal failed")
	}
}
