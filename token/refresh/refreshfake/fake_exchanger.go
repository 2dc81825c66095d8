package refreshfake

import (
	"context"
	"fmt"
	"sync"

	"github.com/atriumn/idynic-web-sub000/internal/utils"
	"github.com/atriumn/idynic-web-sub000/oauthmodel"
	"github.com/atriumn/idynic-web-sub000/token/refresh"
)

var _ refresh.Exchanger = (*FakeExchanger)(nil)

// ResponseFunc produces the answer for the n-th call, counting from 1.
type ResponseFunc func(n int, refreshToken string) (*oauthmodel.TokenResponse, error)

// FakeExchanger is an in-memory refresh endpoint for tests.
type FakeExchanger struct {
	lock     sync.Mutex
	respond  ResponseFunc
	received []string
	gate     chan struct{}
	started  chan struct{}
}

// NewFakeExchanger answers call n with access token A<first+n-1> and refresh
// token R<first+n-1>, valid for an hour.
func NewFakeExchanger(first int) *FakeExchanger {
	return &FakeExchanger{
		respond: func(n int, _ string) (*oauthmodel.TokenResponse, error) {
			i := first + n - 1
			return &oauthmodel.TokenResponse{
				AccessToken:  fmt.Sprintf("A%d", i),
				RefreshToken: utils.Ptr(fmt.Sprintf("R%d", i)),
				ExpiresIn:    3600,
			}, nil
		},
		started: make(chan struct{}, 64),
	}
}

// Respond replaces the response function.
func (f *FakeExchanger) Respond(fn ResponseFunc) *FakeExchanger {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.respond = fn
	return f
}

// Fail makes every call return err.
func (f *FakeExchanger) Fail(err error) *FakeExchanger {
	return f.Respond(func(int, string) (*oauthmodel.TokenResponse, error) {
		return nil, err
	})
}

// Hold makes calls block until Release.
func (f *FakeExchanger) Hold() *FakeExchanger {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.gate = make(chan struct{})
	return f
}

func (f *FakeExchanger) Release() {
	f.lock.Lock()
	defer f.lock.Unlock()
	if f.gate != nil {
		close(f.gate)
		f.gate = nil
	}
}

// Started receives once for every call that has begun.
func (f *FakeExchanger) Started() <-chan struct{} {
	return f.started
}

func (f *FakeExchanger) Calls() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return len(f.received)
}

// Received lists the refresh tokens presented, in call order.
func (f *FakeExchanger) Received() []string {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]string(nil), f.received...)
}

func (f *FakeExchanger) Refresh(ctx context.Context, refreshToken string) (*oauthmodel.TokenResponse, error) {
	f.lock.Lock()
	f.received = append(f.received, refreshToken)
	n := len(f.received)
	gate := f.gate
	respond := f.respond
	f.lock.Unlock()

	select {
	case f.started <- struct{}{}:
	default:
	}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return respond(n, refreshToken)
}
