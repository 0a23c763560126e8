package transfer

import (
	"context"
	"errors"

	"golang.org/x/oauth2"
)

// TokenProvider yields the bearer token for a transfer. It may block; it
// should return promptly once ctx is done.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// TokenProviderFunc adapts a function to TokenProvider.
type TokenProviderFunc func(ctx context.Context) (string, error)

func (f TokenProviderFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

var errNoToken = errors.New("token provider returned no token")

type oauth2Tokens struct {
	ts oauth2.TokenSource
}

// OAuth2Tokens adapts an oauth2.TokenSource. Refreshing sources such as the
// ones built by oauth2.Config work unchanged. oauth2.TokenSource takes no
// context, so Token returns as soon as ctx is done but the pending source call
// keeps running in the background until it returns on its own.
func OAuth2Tokens(ts oauth2.TokenSource) TokenProvider {
	return &oauth2Tokens{ts: ts}
}

// StaticToken always yields token. An empty token makes every transfer fail
// with KindAuthenticationUnavailable.
func StaticToken(token string) TokenProvider {
	return OAuth2Tokens(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
}

func (p *oauth2Tokens) Token(ctx context.Context) (string, error) {
	type result struct {
		tok *oauth2.Token
		err error
	}

	ch := make(chan result, 1)

	go func() {
		tok, err := p.ts.Token()
		ch <- result{tok: tok, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.err != nil {
			return "", res.err
		}

		if !res.tok.Valid() {
			return "", errNoToken
		}

		return res.tok.AccessToken, nil
	}
}
