package auth

import (
	"context"

	"github.com/gasops/gasd/internal/debug"
	"github.com/gasops/gasd/internal/types"
)

// CachedTokenSource serves access tokens from the Store, refreshing
// through the acquirer when the cached token has expired. It satisfies
// the Remote client's TokenSource interface.
type CachedTokenSource struct {
	store     *Store
	acquirer  *Acquirer
	principal string
}

// NewCachedTokenSource builds a token source for one principal.
func NewCachedTokenSource(store *Store, acquirer *Acquirer, principal string) *CachedTokenSource {
	return &CachedTokenSource{store: store, acquirer: acquirer, principal: principal}
}

// AccessToken returns a live access token, refreshing if needed.
func (s *CachedTokenSource) AccessToken(ctx context.Context) (string, error) {
	tok, err := s.store.Load(s.principal)
	if err != nil {
		return "", err
	}
	if tok.Valid() {
		return tok.AccessToken, nil
	}
	if tok != nil && tok.RefreshToken != "" {
		debug.Logf("access token expired for %s, refreshing", s.principal)
		next, err := s.acquirer.Refresh(ctx, s.principal)
		if err != nil {
			return "", err
		}
		return next.AccessToken, nil
	}
	return "", types.NewError(types.CodeAuth, "not authorized",
		"run `gasd auth` to authorize")
}
