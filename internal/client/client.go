// Package client is an authenticated HTTP client for the DevInsight API.
//
// A 401 on any endpoint except login, register and refresh triggers a single
// token refresh. Requests that fail or arrive while the refresh is in flight
// wait in a FIFO queue and are replayed one after another with the new token
// once it resolves. If the refresh fails, every waiter gets
// ErrSessionExpired, the token store is cleared and the logout hook fires.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/devinsight/devinsight/internal/client/state"
)

// DefaultTimeout bounds every round trip of the default http.Client.
const DefaultTimeout = 30 * time.Second

const (
	pathLogin    = "/api/v1/auth/login"
	pathRegister = "/api/v1/auth/register"
	pathRefresh  = "/api/v1/auth/refresh"
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithTokenStore sets where credentials are kept. Defaults to memory.
func WithTokenStore(s state.TokenStore) Option {
	return func(c *Client) { c.tokens = s }
}

// WithCache enables response caching for read endpoints.
func WithCache(cache *state.Cache, ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = cache
		c.cacheTTL = ttl
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithOnLogout registers the hook fired when a refresh fails and the
// session is dropped.
func WithOnLogout(fn func()) Option {
	return func(c *Client) { c.onLogout = fn }
}

// Client is safe for concurrent use.
type Client struct {
	baseURL  string
	basePath string
	http     *http.Client
	timeout  time.Duration
	tokens   state.TokenStore
	cache    *state.Cache
	cacheTTL time.Duration
	logger   *slog.Logger
	onLogout func()
	now      func() time.Time

	mu         sync.Mutex
	refreshing bool
	queue      []*waiter
	generation uint64
}

type refreshResult struct {
	token *oauth2.Token
	err   error
}

// waiter is a request parked until the in-flight refresh resolves. The
// drainer hands it the outcome on ready and waits on dispatched before
// releasing the next waiter.
type waiter struct {
	ready      chan refreshResult
	dispatched chan struct{}
}

func newWaiter() *waiter {
	return &waiter{ready: make(chan refreshResult, 1), dispatched: make(chan struct{})}
}

// New creates a Client for the API at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: DefaultTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: c.timeout}
	}
	if c.tokens == nil {
		c.tokens = state.NewMemoryTokenStore()
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	c.logger = c.logger.With("component", "client")
	if u, err := url.Parse(c.baseURL); err == nil {
		c.basePath = strings.TrimRight(u.Path, "/")
	}
	return c
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Do sends req with the stored access token and runs the refresh flow on a
// 401. The request body is buffered so it can be replayed. A 401 on the
// replay is returned as an error matching ErrUnauthorized; every other
// status is returned as a response for the caller to inspect.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	body, err := bufferBody(req)
	if err != nil {
		return nil, err
	}
	exempt := c.isAuthExempt(req.URL.Path)

	if !exempt {
		c.mu.Lock()
		if c.refreshing {
			w := c.enqueueLocked()
			c.mu.Unlock()
			return c.awaitReplay(ctx, w, req, body)
		}
		c.mu.Unlock()
	}

	gen := c.currentGeneration()
	var tok *oauth2.Token
	if !exempt {
		tok = c.loadToken(ctx)
	}
	resp, err := c.send(ctx, req, body, tok)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || exempt {
		return resp, nil
	}
	drainBody(resp)
	return c.recoverUnauthorized(ctx, req, body, gen)
}

// recoverUnauthorized handles a first-attempt 401. gen is the token
// generation the failed attempt was sent with.
func (c *Client) recoverUnauthorized(ctx context.Context, req *http.Request, body []byte, gen uint64) (*http.Response, error) {
	c.mu.Lock()
	if c.refreshing {
		w := c.enqueueLocked()
		c.mu.Unlock()
		return c.awaitReplay(ctx, w, req, body)
	}
	if c.generation != gen {
		// A refresh finished after this request was sent.
		c.mu.Unlock()
		return c.replay(ctx, req, body, c.loadToken(ctx))
	}
	c.refreshing = true
	c.mu.Unlock()

	tok, err := c.refreshOnce(ctx)
	if err != nil {
		c.failQueue(ctx, err)
		return nil, err
	}

	resp, err := c.replay(ctx, req, body, tok)
	go c.drain(tok)
	return resp, err
}

// Refresh exchanges the stored refresh token for a new access token. It
// joins a refresh already in flight instead of starting a second one.
func (c *Client) Refresh(ctx context.Context) (*oauth2.Token, error) {
	c.mu.Lock()
	if c.refreshing {
		w := c.enqueueLocked()
		c.mu.Unlock()
		select {
		case res := <-w.ready:
			close(w.dispatched)
			return res.token, res.err
		case <-ctx.Done():
			c.abandon(w)
			return nil, ctx.Err()
		}
	}
	c.refreshing = true
	c.mu.Unlock()

	tok, err := c.refreshOnce(ctx)
	if err != nil {
		c.failQueue(ctx, err)
		return nil, err
	}
	go c.drain(tok)
	return tok, nil
}

func (c *Client) enqueueLocked() *waiter {
	w := newWaiter()
	c.queue = append(c.queue, w)
	return w
}

func (c *Client) awaitReplay(ctx context.Context, w *waiter, req *http.Request, body []byte) (*http.Response, error) {
	select {
	case res := <-w.ready:
		defer close(w.dispatched)
		if res.err != nil {
			return nil, res.err
		}
		return c.replay(ctx, req, body, res.token)
	case <-ctx.Done():
		c.abandon(w)
		return nil, ctx.Err()
	}
}

// abandon removes a cancelled waiter from the queue. If the drainer already
// popped it, the handoff is acknowledged so the queue keeps moving.
func (c *Client) abandon(w *waiter) {
	c.mu.Lock()
	for i, q := range c.queue {
		if q == w {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			c.mu.Unlock()
			return
		}
	}
	c.mu.Unlock()
	<-w.ready
	close(w.dispatched)
}

// drain releases waiters in arrival order. Each one is dispatched only after
// the previous replay has its response headers. Requests arriving during the
// drain join the tail of the queue.
func (c *Client) drain(tok *oauth2.Token) {
	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.refreshing = false
			c.mu.Unlock()
			return
		}
		w := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()

		w.ready <- refreshResult{token: tok}
		<-w.dispatched
	}
}

// failQueue rejects every waiter, drops the session and fires the logout
// hook once.
func (c *Client) failQueue(ctx context.Context, cause error) {
	c.logger.Warn("token_refresh_failed", "error", cause)
	c.dropSession(ctx)

	c.mu.Lock()
	queue := c.queue
	c.queue = nil
	c.refreshing = false
	c.mu.Unlock()

	for _, w := range queue {
		w.ready <- refreshResult{err: cause}
	}
	if c.onLogout != nil {
		c.onLogout()
	}
}

// refreshOnce performs the refresh call. The caller must own the
// refreshing flag.
func (c *Client) refreshOnce(ctx context.Context) (*oauth2.Token, error) {
	current, err := c.tokens.Load(ctx)
	if err != nil || current.RefreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token", ErrSessionExpired)
	}

	// Waiters depend on this call, so it outlives the initiator's context.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(rctx, http.MethodPost, c.baseURL+pathRefresh, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+current.RefreshToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %v", ErrSessionExpired, ErrNetwork, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %w", ErrSessionExpired, decodeError(resp))
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := decodeEnvelope(resp, &payload); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSessionExpired, err)
	}
	if payload.AccessToken == "" {
		return nil, fmt.Errorf("%w: empty access token", ErrSessionExpired)
	}

	tok := &oauth2.Token{
		AccessToken:  payload.AccessToken,
		TokenType:    payload.TokenType,
		RefreshToken: current.RefreshToken,
		Expiry:       c.expiry(payload.ExpiresIn),
	}
	if err := c.storeToken(ctx, tok); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSessionExpired, err)
	}
	c.logger.Debug("token_refreshed")
	return tok, nil
}

// replay resends a request that has already used its one refresh.
func (c *Client) replay(ctx context.Context, req *http.Request, body []byte, tok *oauth2.Token) (*http.Response, error) {
	resp, err := c.send(ctx, req, body, tok)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, decodeError(resp)
	}
	return resp, nil
}

func (c *Client) send(ctx context.Context, req *http.Request, body []byte, tok *oauth2.Token) (*http.Response, error) {
	r := req.Clone(ctx)
	if body != nil {
		r.Body = io.NopCloser(bytes.NewReader(body))
		r.ContentLength = int64(len(body))
		r.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}
	if tok != nil && tok.AccessToken != "" {
		tok.SetAuthHeader(r)
	}

	resp, err := c.http.Do(r)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	return resp, nil
}

func (c *Client) currentGeneration() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

func (c *Client) loadToken(ctx context.Context) *oauth2.Token {
	tok, err := c.tokens.Load(ctx)
	if err != nil {
		if !errors.Is(err, state.ErrNoToken) {
			c.logger.Warn("token_load_failed", "error", err)
		}
		return nil
	}
	return tok
}

func (c *Client) storeToken(ctx context.Context, tok *oauth2.Token) error {
	if err := c.tokens.Save(ctx, tok); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	c.mu.Lock()
	c.generation++
	c.mu.Unlock()
	return nil
}

// dropSession clears credentials and cached state. Bumping the generation
// makes requests still in flight with the old token fail with
// ErrUnauthorized instead of starting another refresh.
func (c *Client) dropSession(ctx context.Context) {
	if err := c.tokens.Clear(context.WithoutCancel(ctx)); err != nil {
		c.logger.Warn("token_clear_failed", "error", err)
	}
	if c.cache != nil {
		c.cache.Clear()
	}
	c.mu.Lock()
	c.generation++
	c.mu.Unlock()
}

func (c *Client) expiry(expiresIn int64) time.Time {
	if expiresIn <= 0 {
		return time.Time{}
	}
	return c.now().Add(time.Duration(expiresIn) * time.Second)
}

// isAuthExempt reports whether path is an auth endpoint whose 401 must not
// trigger a refresh. path is relative to the host, so the server_url prefix
// is stripped first.
func (c *Client) isAuthExempt(path string) bool {
	if c.basePath != "" {
		rest, ok := strings.CutPrefix(path, c.basePath)
		if !ok {
			return false
		}
		path = rest
	}
	switch strings.TrimRight(path, "/") {
	case pathLogin, pathRegister, pathRefresh:
		return true
	}
	return false
}

func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer req.Body.Close()
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	return body, nil
}

func drainBody(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

// decodeEnvelope unwraps the data field of a success envelope into out and
// closes the body.
func decodeEnvelope(resp *http.Response, out any) error {
	defer resp.Body.Close()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}
