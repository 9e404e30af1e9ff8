package auth

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gasops/gasd/internal/config"
	"github.com/gasops/gasd/internal/types"
)

func TestVerifierShapeAndChallenge(t *testing.T) {
	v, err := newVerifier()
	require.NoError(t, err)
	assert.Len(t, v, 128, "96 random bytes encode to the RFC 7636 maximum length")
	_, err = base64.RawURLEncoding.DecodeString(v)
	assert.NoError(t, err)

	v2, err := newVerifier()
	require.NoError(t, err)
	assert.NotEqual(t, v, v2)

	// Appendix B of RFC 7636.
	assert.Equal(t, "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM",
		challengeS256("dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"))
}

func TestStoreRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tokens")
	store := NewStore(dir)

	tok, err := store.Load("dev@example.com")
	require.NoError(t, err)
	assert.Nil(t, tok, "missing token is not an error")

	want := &types.Token{
		AccessToken:  "at-123",
		RefreshToken: "rt-456",
		ExpiresAt:    time.Now().Add(time.Hour).Round(time.Second),
		TokenType:    "Bearer",
	}
	require.NoError(t, store.Save("dev@example.com", want))

	got, err := store.Load("dev@example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.AccessToken, got.AccessToken)
	assert.Equal(t, want.RefreshToken, got.RefreshToken)
	assert.True(t, got.Valid())

	// Tokens are private to the user.
	info, err := os.Stat(filepath.Join(dir, "dev@example.com.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	dinfo, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), dinfo.Mode().Perm())

	names, err := store.Principals()
	require.NoError(t, err)
	assert.Equal(t, []string{"dev@example.com"}, names)

	require.NoError(t, store.Delete("dev@example.com"))
	require.NoError(t, store.Delete("dev@example.com"), "delete is idempotent")
}

func newTestAcquirer(t *testing.T, tokenURL string) *Acquirer {
	t.Helper()
	cfg := config.NewForRoot(t.TempDir())
	a := NewAcquirer(cfg, NewStore(cfg.TokenDir()))
	a.clientID = "test-client"
	a.port = 0 // let the kernel pick
	if tokenURL != "" {
		a.TokenURL = tokenURL
	}
	return a
}

func startFlow(t *testing.T, a *Acquirer) (callbackURL, state string) {
	t.Helper()
	authURL, err := a.Start(context.Background())
	require.NoError(t, err)

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))
	assert.Equal(t, a.redirectURI(), q.Get("redirect_uri"))
	// The advertised redirect host must match the bound loopback
	// address exactly; providers register the IP literal.
	assert.True(t, strings.HasPrefix(q.Get("redirect_uri"), "http://127.0.0.1:"),
		"redirect_uri %q must use the loopback IP literal", q.Get("redirect_uri"))
	return a.redirectURI(), q.Get("state")
}

func fakeIDToken(email string) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"email":"` + email + `"}`))
	return header + "." + payload + ".sig"
}

func TestFullFlowExchangesCode(t *testing.T) {
	var gotForm url.Values
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-xyz","refresh_token":"rt-xyz","expires_in":3600,` +
			`"token_type":"Bearer","id_token":"` + fakeIDToken("dev@example.com") + `"}`))
	}))
	defer ts.Close()

	a := newTestAcquirer(t, ts.URL)
	callbackURL, state := startFlow(t, a)

	resp, err := http.Get(callbackURL + "?state=" + state + "&code=auth-code-1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tok, principal, err := a.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "at-xyz", tok.AccessToken)
	assert.Equal(t, "rt-xyz", tok.RefreshToken)
	assert.True(t, tok.Valid())
	assert.Equal(t, "dev@example.com", principal)
	assert.Equal(t, StateCompleted, a.State())

	// The exchange carried the verifier, not the challenge, and the
	// same loopback-IP redirect the authorization leg advertised.
	assert.Equal(t, "authorization_code", gotForm.Get("grant_type"))
	assert.Equal(t, "auth-code-1", gotForm.Get("code"))
	assert.NotEmpty(t, gotForm.Get("code_verifier"))
	assert.True(t, strings.HasPrefix(gotForm.Get("redirect_uri"), "http://127.0.0.1:"))
}

func TestCallbackRejectsStateMismatch(t *testing.T) {
	a := newTestAcquirer(t, "")
	callbackURL, _ := startFlow(t, a)

	resp, err := http.Get(callbackURL + "?state=not-the-state&code=whatever")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err = a.Wait(ctx)
	require.Error(t, err)
	assert.Equal(t, types.CodeAuth, types.AsError(err, types.CodeFatal).Code)
	assert.Contains(t, err.Error(), "state parameter mismatch")
	assert.Equal(t, StateFailed, a.State())
}

func TestDuplicateCallbackIsIgnored(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token":"at","expires_in":3600,"token_type":"Bearer"}`))
	}))
	defer ts.Close()

	a := newTestAcquirer(t, ts.URL)
	callbackURL, state := startFlow(t, a)

	resp, err := http.Get(callbackURL + "?state=" + state + "&code=c1")
	require.NoError(t, err)
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tok, principal, err := a.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "at", tok.AccessToken)
	assert.Equal(t, "default", principal, "no id_token falls back to the default principal")

	// A refresh of the success page must not restart the exchange. The
	// server may already be down; both outcomes are fine.
	resp2, err := http.Get(callbackURL + "?state=" + state + "&code=c2")
	if err == nil {
		resp2.Body.Close()
		assert.Equal(t, http.StatusOK, resp2.StatusCode)
	}
	select {
	case <-a.result:
		t.Fatal("duplicate callback produced a second result")
	default:
	}
}

func TestWaitTimesOut(t *testing.T) {
	a := newTestAcquirer(t, "")
	_, _ = startFlow(t, a)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, _, err := a.Wait(ctx)
	require.Error(t, err)
	assert.Equal(t, types.CodeAuth, types.AsError(err, types.CodeFatal).Code)
	assert.Equal(t, StateFailed, a.State())
}

func TestRefreshKeepsRefreshToken(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "rt-old", r.PostForm.Get("refresh_token"))
		// Providers commonly omit refresh_token on refresh.
		w.Write([]byte(`{"access_token":"at-new","expires_in":3600,"token_type":"Bearer"}`))
	}))
	defer ts.Close()

	a := newTestAcquirer(t, ts.URL)
	require.NoError(t, a.store.Save("dev@example.com", &types.Token{
		AccessToken:  "at-old",
		RefreshToken: "rt-old",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}))

	tok, err := a.Refresh(context.Background(), "dev@example.com")
	require.NoError(t, err)
	assert.Equal(t, "at-new", tok.AccessToken)
	assert.Equal(t, "rt-old", tok.RefreshToken)

	// And the cache was updated in place.
	cached, err := a.store.Load("dev@example.com")
	require.NoError(t, err)
	assert.Equal(t, "at-new", cached.AccessToken)
}

func TestCachedTokenSource(t *testing.T) {
	a := newTestAcquirer(t, "")
	src := NewCachedTokenSource(a.store, a, "dev@example.com")

	_, err := src.AccessToken(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.CodeAuth, types.AsError(err, types.CodeFatal).Code)

	require.NoError(t, a.store.Save("dev@example.com", &types.Token{
		AccessToken: "at-live",
		ExpiresAt:   time.Now().Add(time.Hour),
	}))
	got, err := src.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "at-live", got)
}
