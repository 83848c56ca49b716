package docsig

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// TokenCache is a bearer token together with the instant it stops being valid.
// It has no locking of its own; TokenCredentials serializes access to it.
type TokenCache struct {
	Token  string
	Expiry time.Time
}

// Get returns the cached token if it is still valid at now.
func (c *TokenCache) Get(now time.Time) (string, bool) {
	if c.Token == "" || !now.Before(c.Expiry) {
		return "", false
	}
	return c.Token, true
}

// Refresh replaces the cached token with one that expires expiresIn after now.
func (c *TokenCache) Refresh(token string, expiresIn time.Duration, now time.Time) {
	c.Token = token
	c.Expiry = now.Add(expiresIn)
}

// TokenFetcher obtains a fresh bearer token.
type TokenFetcher interface {
	FetchToken(ctx context.Context) (token string, expiresIn time.Duration, err error)
}

// TokenCredentials is the OAuth variant of CredentialSource: the static
// signing keys are combined with a bearer token that is refetched once it
// expires. Concurrent refreshes are collapsed into one fetch.
type TokenCredentials struct {
	base    Credentials
	fetcher TokenFetcher
	now     func() time.Time

	mu    sync.Mutex
	cache TokenCache

	group singleflight.Group
}

// NewTokenCredentials builds a source around base; base.Token is ignored.
func NewTokenCredentials(base Credentials, fetcher TokenFetcher) *TokenCredentials {
	base.Token = ""
	return &TokenCredentials{
		base:    base,
		fetcher: fetcher,
		now:     time.Now,
	}
}

func (tc *TokenCredentials) Credentials(ctx context.Context) (Credentials, error) {
	token, err := tc.token(ctx)
	if err != nil {
		return Credentials{}, err
	}
	creds := tc.base
	creds.Token = token
	return creds, nil
}

func (tc *TokenCredentials) token(ctx context.Context) (string, error) {
	tc.mu.Lock()
	token, ok := tc.cache.Get(tc.now())
	tc.mu.Unlock()
	if ok {
		return token, nil
	}

	// the fetch outlives the caller that started it; every caller waits on
	// its own ctx
	ch := tc.group.DoChan("token", func() (any, error) {
		// a caller that missed the cache just before the previous refresh
		// landed must not fetch again
		tc.mu.Lock()
		token, ok := tc.cache.Get(tc.now())
		tc.mu.Unlock()
		if ok {
			return token, nil
		}

		token, expiresIn, err := tc.fetcher.FetchToken(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}

		tc.mu.Lock()
		tc.cache.Refresh(token, expiresIn, tc.now())
		tc.mu.Unlock()

		return token, nil
	})

	select {
	case <-ctx.Done():
		return "", newError(KindRequestFailed, 0, nil, ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			return "", r.Err
		}
		return r.Val.(string), nil
	}
}
