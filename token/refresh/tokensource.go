package refresh

import (
	"context"

	"golang.org/x/oauth2"
)

type tokenSource struct {
	ctx context.Context
	r   *Refresher
}

// TokenSource exposes the refresher as an oauth2.TokenSource, so the session
// can back an oauth2.NewClient.
func (r *Refresher) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, r: r}
}

func (ts *tokenSource) Token() (*oauth2.Token, error) {
	s, err := ts.r.EnsureFresh(ts.ctx)
	if err != nil {
		return nil, err
	}
	return s.Token(), nil
}
