// Package gas is the SDK for the Remote script-hosting API. The write
// pipeline consumes the Client interface; the HTTP implementation talks
// to the real service, and tests substitute the in-memory Fake.
package gas

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/gasops/gasd/internal/debug"
	"github.com/gasops/gasd/internal/types"
)

// Client is the Remote surface the core consumes. Project content is
// always replaced atomically as a whole file list.
type Client interface {
	// GetProjectContent returns the full ordered file list with content.
	GetProjectContent(ctx context.Context, scriptID string) ([]types.File, error)
	// UpdateProjectContent atomically replaces the project's files.
	UpdateProjectContent(ctx context.Context, scriptID string, files []types.File) error
	// ListDeployments returns deployment ids (used by the in-Remote executor).
	ListDeployments(ctx context.Context, scriptID string) ([]Deployment, error)
	// UpdateDeployment repoints a deployment at a version.
	UpdateDeployment(ctx context.Context, scriptID string, dep Deployment) error
}

// Deployment is the minimal deployment descriptor the executor needs.
type Deployment struct {
	DeploymentID string `json:"deploymentId"`
	VersionNum   int    `json:"versionNumber,omitempty"`
	Description  string `json:"description,omitempty"`
}

// TokenSource supplies a bearer token per request.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource for a caller-supplied access token.
type StaticToken string

// AccessToken implements TokenSource.
func (s StaticToken) AccessToken(ctx context.Context) (string, error) {
	if s == "" {
		return "", types.NewError(types.CodeAuth, "no access token available",
			"run `gasd auth` to authorize")
	}
	return string(s), nil
}

// HTTPClient is the production Client. Read-only calls retry with
// bounded exponential backoff; writes fail fast.
type HTTPClient struct {
	endpoint string
	tokens   TokenSource
	http     *http.Client
}

// NewHTTPClient builds a client against the given API endpoint.
func NewHTTPClient(endpoint string, tokens TokenSource, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPClient{
		endpoint: endpoint,
		tokens:   tokens,
		http:     &http.Client{Timeout: timeout},
	}
}

type contentPayload struct {
	ScriptID string       `json:"scriptId,omitempty"`
	Files    []types.File `json:"files"`
}

// GetProjectContent implements Client.
func (c *HTTPClient) GetProjectContent(ctx context.Context, scriptID string) ([]types.File, error) {
	var payload contentPayload
	op := func() error {
		return c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/projects/%s/content", scriptID), nil, &payload)
	}
	if err := c.retryReadOnly(ctx, op); err != nil {
		return nil, err
	}
	return payload.Files, nil
}

// UpdateProjectContent implements Client. No retries: the call is a
// full-replace write and the pipeline owns rollback.
func (c *HTTPClient) UpdateProjectContent(ctx context.Context, scriptID string, files []types.File) error {
	body := contentPayload{Files: files}
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/v1/projects/%s/content", scriptID), &body, nil)
}

// ListDeployments implements Client.
func (c *HTTPClient) ListDeployments(ctx context.Context, scriptID string) ([]Deployment, error) {
	var payload struct {
		Deployments []Deployment `json:"deployments"`
	}
	op := func() error {
		return c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/projects/%s/deployments", scriptID), nil, &payload)
	}
	if err := c.retryReadOnly(ctx, op); err != nil {
		return nil, err
	}
	return payload.Deployments, nil
}

// UpdateDeployment implements Client.
func (c *HTTPClient) UpdateDeployment(ctx context.Context, scriptID string, dep Deployment) error {
	return c.do(ctx, http.MethodPut,
		fmt.Sprintf("/v1/projects/%s/deployments/%s", scriptID, dep.DeploymentID), &dep, nil)
}

// retryReadOnly wraps a read-only call in bounded exponential backoff.
func (c *HTTPClient) retryReadOnly(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 4 * time.Second
	b.MaxElapsedTime = 20 * time.Second
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		var se *types.Error
		if asStructured(err, &se) && se.Code != types.CodeRemote {
			return backoff.Permanent(err) // auth/validation never retries
		}
		debug.Logf("remote read retrying: %v", err)
		return err
	}, backoff.WithContext(b, ctx))
}

func asStructured(err error, target **types.Error) bool {
	se, ok := err.(*types.Error)
	if ok {
		*target = se
	}
	return ok
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return types.NewError(types.CodeRemote, fmt.Sprintf("remote request failed: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return types.NewError(types.CodeAuth,
			fmt.Sprintf("remote rejected credentials (%d)", resp.StatusCode),
			"token may be expired; run `gasd auth`")
	}
	if resp.StatusCode == http.StatusNotFound {
		return types.NewError(types.CodeNotFound, fmt.Sprintf("remote resource not found: %s", path))
	}
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return types.NewError(types.CodeRemote,
			fmt.Sprintf("remote returned %d: %s", resp.StatusCode, string(msg)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return types.NewError(types.CodeRemote, fmt.Sprintf("failed to decode remote response: %v", err))
		}
	}
	return nil
}
