package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/browser"
	"golang.org/x/term"

	"github.com/gasops/gasd/internal/config"
	"github.com/gasops/gasd/internal/debug"
	"github.com/gasops/gasd/internal/types"
)

// FlowState is the acquirer's observable lifecycle position.
type FlowState string

const (
	StateIdle       FlowState = "idle"
	StateWaiting    FlowState = "waiting_for_callback"
	StateValidating FlowState = "validating"
	StateExchanging FlowState = "exchanging_code"
	StateCompleted  FlowState = "completed"
	StateFailed     FlowState = "failed"
)

const (
	defaultAuthURL  = "https://accounts.google.com/o/oauth2/v2/auth"
	defaultTokenURL = "https://oauth2.googleapis.com/token"

	// expirySkew is subtracted from expires_in so a token is treated as
	// expired slightly before the Remote would reject it.
	expirySkew = 60 * time.Second

	// closeGrace bounds the callback server's graceful shutdown before
	// open connections are force-closed.
	closeGrace = 2 * time.Second
)

type flowResult struct {
	token     *types.Token
	principal string
	err       error
}

// Acquirer runs one interactive PKCE authorization: a one-shot loopback
// HTTP server receives the redirect, the authorization code is
// exchanged with the verifier, and the token lands in the Store.
// An Acquirer is single-use.
type Acquirer struct {
	clientID string
	scopes   []string
	port     int
	store    *Store

	// Overridable for tests.
	AuthURL  string
	TokenURL string
	HTTP     *http.Client

	mu        sync.Mutex
	state     FlowState
	verifier  string
	csrf      string
	processed bool

	listener net.Listener
	server   *http.Server
	result   chan flowResult
}

// NewAcquirer builds an acquirer from daemon configuration.
func NewAcquirer(cfg *config.Config, store *Store) *Acquirer {
	return &Acquirer{
		clientID: cfg.OAuthClientID(),
		scopes:   cfg.OAuthScopes(),
		port:     cfg.OAuthPort(),
		store:    store,
		AuthURL:  defaultAuthURL,
		TokenURL: defaultTokenURL,
		HTTP:     &http.Client{Timeout: 30 * time.Second},
		state:    StateIdle,
		result:   make(chan flowResult, 1),
	}
}

// State returns the current lifecycle position.
func (a *Acquirer) State() FlowState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Acquirer) setState(s FlowState) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// Start generates the PKCE material, binds the loopback server, and
// returns the authorization URL the user must visit.
func (a *Acquirer) Start(ctx context.Context) (string, error) {
	if a.clientID == "" {
		return "", types.NewError(types.CodeAuth, "no OAuth client id configured",
			"set oauth.client-id in the config file or GAS_OAUTH_CLIENT_ID")
	}

	verifier, err := newVerifier()
	if err != nil {
		return "", err
	}
	a.mu.Lock()
	a.verifier = verifier
	a.csrf = uuid.NewString()
	a.state = StateWaiting
	a.mu.Unlock()

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", a.port))
	if err != nil {
		return "", types.NewError(types.CodeAuth,
			fmt.Sprintf("failed to bind callback port %d: %v", a.port, err),
			"close whatever is holding the port, or configure oauth.port")
	}
	a.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", a.handleCallback)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})
	mux.HandleFunc("/favicon.ico", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	a.server = &http.Server{Handler: mux}
	go func() {
		if err := a.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			debug.Warnf("callback server error: %v", err)
		}
	}()

	q := url.Values{
		"client_id":             {a.clientID},
		"redirect_uri":          {a.redirectURI()},
		"response_type":         {"code"},
		"scope":                 {strings.Join(a.scopes, " ")},
		"state":                 {a.csrf},
		"code_challenge":        {challengeS256(verifier)},
		"code_challenge_method": {"S256"},
		"access_type":           {"offline"},
		"prompt":                {"consent"},
	}
	return a.AuthURL + "?" + q.Encode(), nil
}

// redirectURI reports the bound callback address. Valid after Start.
func (a *Acquirer) redirectURI() string {
	port := a.port
	if a.listener != nil {
		port = a.listener.Addr().(*net.TCPAddr).Port
	}
	return fmt.Sprintf("http://127.0.0.1:%d/callback", port)
}

// handleCallback processes the OAuth redirect exactly once; duplicate
// hits (browser refresh, favicon prefetch races) get a static page.
func (a *Acquirer) handleCallback(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	if a.processed {
		a.mu.Unlock()
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "<html><body>Authorization already processed. You can close this tab.</body></html>")
		return
	}
	a.processed = true
	a.state = StateValidating
	csrf := a.csrf
	a.mu.Unlock()

	fail := func(status int, msg string) {
		a.setState(StateFailed)
		w.WriteHeader(status)
		fmt.Fprintf(w, "<html><body>Authorization failed: %s</body></html>", msg)
		a.result <- flowResult{err: types.NewError(types.CodeAuth, msg)}
		go a.shutdown()
	}

	qp := r.URL.Query()
	if errParam := qp.Get("error"); errParam != "" {
		fail(http.StatusBadRequest, "provider returned error: "+errParam)
		return
	}
	if qp.Get("state") != csrf {
		fail(http.StatusBadRequest, "state parameter mismatch (possible CSRF)")
		return
	}
	code := qp.Get("code")
	if code == "" {
		fail(http.StatusBadRequest, "missing authorization code")
		return
	}

	a.setState(StateExchanging)
	tok, principal, err := a.exchange(r.Context(), code)
	if err != nil {
		fail(http.StatusBadGateway, "code exchange failed: "+err.Error())
		return
	}

	a.setState(StateCompleted)
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "<html><body>Authorization complete. You can close this tab and return to your editor.</body></html>")
	a.result <- flowResult{token: tok, principal: principal}
	go a.shutdown()
}

// exchange redeems the authorization code with the stored verifier.
func (a *Acquirer) exchange(ctx context.Context, code string) (*types.Token, string, error) {
	a.mu.Lock()
	verifier := a.verifier
	a.mu.Unlock()

	form := url.Values{
		"client_id":     {a.clientID},
		"code":          {code},
		"code_verifier": {verifier},
		"grant_type":    {"authorization_code"},
		"redirect_uri":  {a.redirectURI()},
	}
	body, err := a.postForm(ctx, form)
	if err != nil {
		return nil, "", err
	}

	var resp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
		Scope        string `json:"scope"`
		TokenType    string `json:"token_type"`
		IDToken      string `json:"id_token"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, "", types.NewError(types.CodeAuth, "malformed token response: "+err.Error())
	}
	if resp.AccessToken == "" {
		return nil, "", types.NewError(types.CodeAuth, "token response carried no access token")
	}

	tok := &types.Token{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(resp.ExpiresIn)*time.Second - expirySkew),
		Scope:        resp.Scope,
		TokenType:    resp.TokenType,
	}
	return tok, emailFromIDToken(resp.IDToken), nil
}

// postForm posts to the token endpoint and returns the raw body.
func (a *Acquirer) postForm(ctx context.Context, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.TokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.HTTP.Do(req)
	if err != nil {
		return nil, types.NewError(types.CodeAuth, "token endpoint unreachable: "+err.Error())
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 400 {
		return nil, types.NewError(types.CodeAuth,
			fmt.Sprintf("token endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}
	return body, nil
}

// Wait blocks until the callback delivers a result or ctx expires.
func (a *Acquirer) Wait(ctx context.Context) (*types.Token, string, error) {
	select {
	case res := <-a.result:
		return res.token, res.principal, res.err
	case <-ctx.Done():
		a.setState(StateFailed)
		a.shutdown()
		return nil, "", types.NewError(types.CodeAuth,
			"authorization timed out waiting for the browser callback",
			"re-run `gasd auth` and complete the consent screen")
	}
}

// Authorize runs the whole flow: start, open the browser (TTY only),
// wait for the callback, and cache the token.
func (a *Acquirer) Authorize(ctx context.Context) (*types.Token, string, error) {
	authURL, err := a.Start(ctx)
	if err != nil {
		return nil, "", err
	}

	if term.IsTerminal(int(os.Stdin.Fd())) {
		if err := browser.OpenURL(authURL); err != nil {
			debug.Warnf("failed to open browser: %v", err)
		}
	}
	if !debug.IsQuiet() {
		fmt.Fprintf(os.Stderr, "Visit this URL to authorize:\n\n  %s\n\n", authURL)
	}

	tok, principal, err := a.Wait(ctx)
	if err != nil {
		return nil, "", err
	}
	if err := a.store.Save(principal, tok); err != nil {
		return nil, "", err
	}
	debug.Logf("authorization complete for %s", principal)
	return tok, principal, nil
}

// shutdown stops the callback server, force-closing after a short grace.
func (a *Acquirer) shutdown() {
	a.mu.Lock()
	srv := a.server
	a.server = nil
	a.mu.Unlock()
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), closeGrace)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		_ = srv.Close()
	}
}

// Refresh redeems the principal's refresh token and re-caches the
// result. The refresh token is kept when the provider omits a new one.
func (a *Acquirer) Refresh(ctx context.Context, principal string) (*types.Token, error) {
	tok, err := a.store.Load(principal)
	if err != nil {
		return nil, err
	}
	if tok == nil || tok.RefreshToken == "" {
		return nil, types.NewError(types.CodeAuth, "no refresh token cached",
			"run `gasd auth` to authorize")
	}

	form := url.Values{
		"client_id":     {a.clientID},
		"refresh_token": {tok.RefreshToken},
		"grant_type":    {"refresh_token"},
	}
	body, err := a.postForm(ctx, form)
	if err != nil {
		return nil, err
	}

	var resp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
		Scope        string `json:"scope"`
		TokenType    string `json:"token_type"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, types.NewError(types.CodeAuth, "malformed refresh response: "+err.Error())
	}
	if resp.AccessToken == "" {
		return nil, types.NewError(types.CodeAuth, "refresh response carried no access token")
	}

	next := &types.Token{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(resp.ExpiresIn)*time.Second - expirySkew),
		Scope:        resp.Scope,
		TokenType:    resp.TokenType,
	}
	if next.RefreshToken == "" {
		next.RefreshToken = tok.RefreshToken
	}
	if err := a.store.Save(principal, next); err != nil {
		return nil, err
	}
	return next, nil
}

// emailFromIDToken pulls the email claim out of an unverified id_token.
// Identity here only names the cache file; the Remote re-verifies every
// call, so signature checking would add nothing.
func emailFromIDToken(idToken string) string {
	parts := strings.Split(idToken, ".")
	if len(parts) != 3 {
		return "default"
	}
	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return "default"
	}
	var claims struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil || claims.Email == "" {
		return "default"
	}
	return claims.Email
}
