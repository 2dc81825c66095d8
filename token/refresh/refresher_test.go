package refresh_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	autherrors "github.com/atriumn/idynic-web-sub000/internal/errors"
	"github.com/atriumn/idynic-web-sub000/internal/metrics"
	"github.com/atriumn/idynic-web-sub000/oauthmodel"
	"github.com/atriumn/idynic-web-sub000/sessions"
	"github.com/atriumn/idynic-web-sub000/token/refresh"
	"github.com/atriumn/idynic-web-sub000/token/refresh/refreshfake"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

type testFixture struct {
	clock     *clockwork.FakeClock
	store     *sessions.MemoryStore
	exchanger *refreshfake.FakeExchanger
	metrics   *metrics.Metrics
	refresher *refresh.Refresher
	expired   atomic.Int32
}

func setup(t *testing.T, opts ...refresh.Option) *testFixture {
	t.Helper()
	f := &testFixture{
		clock:     clockwork.NewFakeClockAt(t0),
		store:     sessions.NewMemoryStore(),
		exchanger: refreshfake.NewFakeExchanger(2),
		metrics:   metrics.New(prometheus.NewRegistry()),
	}
	t.Cleanup(f.exchanger.Release)

	opts = append([]refresh.Option{refresh.WithClock(f.clock), refresh.WithMetrics(f.metrics)}, opts...)
	r, err := refresh.NewRefresher(f.store, f.exchanger, opts...)
	require.NoError(t, err)
	r.OnExpired(func() { f.expired.Add(1) })
	f.refresher = r
	return f
}

func session(access, refreshToken string, issuedAt time.Time) *sessions.Session {
	return &sessions.Session{
		AccessToken:  access,
		RefreshToken: refreshToken,
		IssuedAt:     issuedAt,
		ExpiresIn:    time.Hour,
	}
}

// seed writes s straight to the store, without arming a timer.
func (f *testFixture) seed(t *testing.T, s *sessions.Session) {
	t.Helper()
	require.NoError(t, f.store.Write(context.Background(), s))
}

func (f *testFixture) stored(t *testing.T) *sessions.Session {
	t.Helper()
	s, err := f.store.Read(context.Background())
	require.NoError(t, err)
	return s
}

func TestNewRefresher(t *testing.T) {
	_, err := refresh.NewRefresher(nil, refreshfake.NewFakeExchanger(1))
	require.Error(t, err)

	_, err = refresh.NewRefresher(sessions.NewMemoryStore(), nil)
	require.Error(t, err)

	_, err = refresh.NewRefresher(sessions.NewMemoryStore(), refreshfake.NewFakeExchanger(1), refresh.WithRatio(1))
	require.Error(t, err)
}

func TestEnsureFresh(t *testing.T) {
	t.Run("no session", func(t *testing.T) {
		f := setup(t)
		_, err := f.refresher.EnsureFresh(context.Background())
		require.ErrorIs(t, err, autherrors.ErrNoSession)
	})

	t.Run("fresh session returned as is", func(t *testing.T) {
		f := setup(t)
		f.seed(t, session("A1", "R1", t0.Add(-10*time.Minute)))

		s, err := f.refresher.EnsureFresh(context.Background())
		require.NoError(t, err)
		require.Equal(t, "A1", s.AccessToken)
		require.Zero(t, f.exchanger.Calls())
	})

	t.Run("session in renewal window is refreshed", func(t *testing.T) {
		f := setup(t)
		f.seed(t, session("A1", "R1", t0.Add(-56*time.Minute)))

		s, err := f.refresher.EnsureFresh(context.Background())
		require.NoError(t, err)
		require.Equal(t, "A2", s.AccessToken)
		require.Equal(t, "R2", s.RefreshToken)
		require.Equal(t, []string{"R1"}, f.exchanger.Received())

		stored := f.stored(t)
		require.Equal(t, "A2", stored.AccessToken)
		require.Equal(t, "R2", stored.RefreshToken)
		require.True(t, t0.Equal(stored.IssuedAt))
		require.Equal(t, t0.Add(3312*time.Second), f.refresher.NextRenewal())
		require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RefreshCounter(metrics.OutcomeSuccess)))
	})
}

func TestEnsureFresh_ConcurrentCallersShareOneRefresh(t *testing.T) {
	f := setup(t)
	f.seed(t, session("A1", "R1", t0.Add(-2*time.Hour)))
	f.exchanger.Hold()

	const n = 10
	var wg sync.WaitGroup
	tokens := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := f.refresher.EnsureFresh(context.Background())
			errs[i] = err
			if err == nil {
				tokens[i] = s.AccessToken
			}
		}(i)
	}

	<-f.exchanger.Started()
	time.Sleep(50 * time.Millisecond)
	f.exchanger.Release()
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, "A2", tokens[i])
	}
	require.Equal(t, 1, f.exchanger.Calls())
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RefreshCounter(metrics.OutcomeSuccess)))
}

func TestProactiveRenewal(t *testing.T) {
	f := setup(t)
	require.NoError(t, f.refresher.Adopt(context.Background(), session("A1", "R1", t0)))
	require.Equal(t, t0.Add(3312*time.Second), f.refresher.NextRenewal())

	f.clock.Advance(3000 * time.Second)
	require.Never(t, func() bool { return f.exchanger.Calls() > 0 }, 100*time.Millisecond, 10*time.Millisecond)

	f.clock.Advance(312 * time.Second)
	require.Eventually(t, func() bool { return f.exchanger.Calls() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		s, err := f.store.Read(context.Background())
		return err == nil && s != nil && s.AccessToken == "A2"
	}, time.Second, 5*time.Millisecond)

	// the timer is re-armed relative to the renewed session
	require.Eventually(t, func() bool {
		return f.refresher.NextRenewal().Equal(t0.Add(2 * 3312 * time.Second))
	}, time.Second, 5*time.Millisecond)
}

func TestCancel_DisarmsTimer(t *testing.T) {
	f := setup(t)
	require.NoError(t, f.refresher.Adopt(context.Background(), session("A1", "R1", t0)))

	f.refresher.Cancel()
	require.True(t, f.refresher.NextRenewal().IsZero())

	f.clock.Advance(2 * time.Hour)
	require.Never(t, func() bool { return f.exchanger.Calls() > 0 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestRefreshFailure_EndsSession(t *testing.T) {
	f := setup(t)
	f.exchanger.Fail(autherrors.ErrRefreshRejected)
	f.seed(t, session("A1", "R1", t0.Add(-2*time.Hour)))

	_, err := f.refresher.EnsureFresh(context.Background())
	require.ErrorIs(t, err, autherrors.ErrSessionExpired)
	require.Nil(t, f.stored(t))
	require.EqualValues(t, 1, f.expired.Load())
	require.True(t, f.refresher.NextRenewal().IsZero())

	// never retried
	_, err = f.refresher.EnsureFresh(context.Background())
	require.ErrorIs(t, err, autherrors.ErrNoSession)
	require.Equal(t, 1, f.exchanger.Calls())
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RefreshCounter(metrics.OutcomeFailure)))
}

func TestRefreshTimeout_EndsSession(t *testing.T) {
	f := setup(t, refresh.WithTimeout(50*time.Millisecond))
	f.exchanger.Hold()
	f.seed(t, session("A1", "R1", t0.Add(-2*time.Hour)))

	_, err := f.refresher.EnsureFresh(context.Background())
	require.ErrorIs(t, err, autherrors.ErrSessionExpired)
	require.Nil(t, f.stored(t))
	require.EqualValues(t, 1, f.expired.Load())
}

func TestCancelDuringRefresh_DoesNotResurrect(t *testing.T) {
	f := setup(t)
	f.exchanger.Hold()
	f.seed(t, session("A1", "R1", t0.Add(-2*time.Hour)))

	errCh := make(chan error, 1)
	go func() {
		_, err := f.refresher.EnsureFresh(context.Background())
		errCh <- err
	}()

	<-f.exchanger.Started()
	f.refresher.Cancel()
	require.NoError(t, f.store.Clear(context.Background()))
	f.exchanger.Release()

	require.ErrorIs(t, <-errCh, autherrors.ErrSessionExpired)
	require.Nil(t, f.stored(t))
	require.True(t, f.refresher.NextRenewal().IsZero())
	require.Zero(t, f.expired.Load(), "a discarded refresh is not an expiry")
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RefreshCounter(metrics.OutcomeDiscarded)))
}

func TestAdoptDuringRefresh_KeepsNewSession(t *testing.T) {
	f := setup(t)
	f.exchanger.Hold()
	f.seed(t, session("A1", "R1", t0.Add(-2*time.Hour)))

	errCh := make(chan error, 1)
	go func() {
		_, err := f.refresher.EnsureFresh(context.Background())
		errCh <- err
	}()

	<-f.exchanger.Started()
	require.NoError(t, f.refresher.Adopt(context.Background(), session("B1", "RB1", t0)))
	f.exchanger.Release()

	require.ErrorIs(t, <-errCh, autherrors.ErrSessionExpired)
	require.Equal(t, "B1", f.stored(t).AccessToken)
}

func TestForceRefresh(t *testing.T) {
	t.Run("stale rejection short circuits", func(t *testing.T) {
		f := setup(t)
		f.seed(t, session("A2", "R2", t0))

		s, err := f.refresher.ForceRefresh(context.Background(), "A1")
		require.NoError(t, err)
		require.Equal(t, "A2", s.AccessToken)
		require.Zero(t, f.exchanger.Calls())
	})

	t.Run("current token rejected", func(t *testing.T) {
		f := setup(t)
		f.seed(t, session("A1", "R1", t0))

		s, err := f.refresher.ForceRefresh(context.Background(), "A1")
		require.NoError(t, err)
		require.Equal(t, "A2", s.AccessToken)
		require.Equal(t, []string{"R1"}, f.exchanger.Received())
	})

	t.Run("no session", func(t *testing.T) {
		f := setup(t)
		_, err := f.refresher.ForceRefresh(context.Background(), "A1")
		require.ErrorIs(t, err, autherrors.ErrSessionExpired)
	})

	t.Run("rejected token without refresh token ends the session", func(t *testing.T) {
		f := setup(t)
		f.seed(t, session("A1", "", t0))

		_, err := f.refresher.ForceRefresh(context.Background(), "A1")
		require.ErrorIs(t, err, autherrors.ErrSessionExpired)
		require.Nil(t, f.stored(t))
		require.EqualValues(t, 1, f.expired.Load())
		require.Zero(t, f.exchanger.Calls())
	})
}

// failingStore refuses writes once failWrites is set.
type failingStore struct {
	*sessions.MemoryStore
	failWrites atomic.Bool
}

func (s *failingStore) Write(ctx context.Context, session *sessions.Session) error {
	if s.failWrites.Load() {
		return errors.New("disk full")
	}
	return s.MemoryStore.Write(ctx, session)
}

func TestRefresh_StoreWriteFailureEndsSession(t *testing.T) {
	store := &failingStore{MemoryStore: sessions.NewMemoryStore()}
	require.NoError(t, store.Write(context.Background(), session("A1", "R1", t0.Add(-2*time.Hour))))
	store.failWrites.Store(true)

	exchanger := refreshfake.NewFakeExchanger(2)
	r, err := refresh.NewRefresher(store, exchanger, refresh.WithClock(clockwork.NewFakeClockAt(t0)))
	require.NoError(t, err)
	var expired atomic.Int32
	r.OnExpired(func() { expired.Add(1) })

	_, err = r.EnsureFresh(context.Background())
	require.ErrorIs(t, err, autherrors.ErrSessionExpired)
	require.Equal(t, 1, exchanger.Calls())
	require.EqualValues(t, 1, expired.Load())

	s, err := store.Read(context.Background())
	require.NoError(t, err)
	require.Nil(t, s, "spent refresh token is not kept")
}

func TestRefresh_WithoutRotation(t *testing.T) {
	f := setup(t)
	f.exchanger.Respond(func(int, string) (*oauthmodel.TokenResponse, error) {
		return &oauthmodel.TokenResponse{AccessToken: "A2", ExpiresIn: 3600}, nil
	})
	f.seed(t, session("A1", "R1", t0.Add(-2*time.Hour)))

	s, err := f.refresher.EnsureFresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, "A2", s.AccessToken)
	require.Equal(t, "R1", s.RefreshToken)
	require.Equal(t, "R1", f.stored(t).RefreshToken)
}

func TestSessionWithoutRefreshToken(t *testing.T) {
	f := setup(t)
	f.seed(t, session("A1", "", t0.Add(-58*time.Minute)))

	s, err := f.refresher.EnsureFresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, "A1", s.AccessToken, "usable until expiry")
	require.Zero(t, f.exchanger.Calls())

	f.clock.Advance(2 * time.Minute)
	_, err = f.refresher.EnsureFresh(context.Background())
	require.ErrorIs(t, err, autherrors.ErrSessionExpired)
	require.Nil(t, f.stored(t), "discarded, not patched")
	require.Zero(t, f.exchanger.Calls())
}

func TestEnsureFresh_CallerContext(t *testing.T) {
	f := setup(t)
	f.exchanger.Hold()
	f.seed(t, session("A1", "R1", t0.Add(-2*time.Hour)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.refresher.EnsureFresh(ctx)
	require.True(t, errors.Is(err, context.Canceled))
	<-f.exchanger.Started()

	// the abandoned refresh still completes for the next caller
	f.exchanger.Release()
	s, err := f.refresher.EnsureFresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, "A2", s.AccessToken)
	require.Equal(t, 1, f.exchanger.Calls())
}

func TestTokenSource(t *testing.T) {
	f := setup(t)
	f.seed(t, session("A1", "R1", t0))

	tok, err := f.refresher.TokenSource(context.Background()).Token()
	require.NoError(t, err)
	require.Equal(t, "A1", tok.AccessToken)
	require.Equal(t, t0.Add(time.Hour), tok.Expiry)
}
