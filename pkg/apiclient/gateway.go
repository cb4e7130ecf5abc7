package apiclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/tourbook/pkg/credstore"
	"github.com/aussiebroadwan/tourbook/pkg/jwtx"
	"github.com/aussiebroadwan/tourbook/pkg/reqid"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultRefreshPath    = "/auth/refresh-token"
	DefaultRefreshTimeout = 10 * time.Second
	DefaultRequestTimeout = 30 * time.Second

	// maxRetryDepth bounds replays after a refresh. A second 401 goes back
	// to the caller untouched.
	maxRetryDepth = 1

	// exchangedTTL is how long a successful exchange is remembered for
	// callers that read the old refresh credential before it was replaced.
	exchangedTTL = 30 * time.Second
)

// Config configures a Gateway. Only BaseURL is required.
type Config struct {
	// BaseURL is the backend root every endpoint is relative to,
	// e.g. "https://api.example.com/api/v1".
	BaseURL string

	// HTTPClient is used for all backend calls. Defaults to a client with
	// DefaultRequestTimeout.
	HTTPClient *http.Client

	// RefreshPath is the credential-refresh endpoint. Defaults to DefaultRefreshPath.
	RefreshPath string

	// RefreshTimeout bounds one refresh exchange independently of any
	// caller's context. A timed-out refresh fails with KindUnavailable and
	// leaves stored credentials alone.
	RefreshTimeout time.Duration

	// AccessMaxAge and RefreshMaxAge size the stored credentials.
	AccessMaxAge  time.Duration
	RefreshMaxAge time.Duration

	// Production marks written credentials Secure.
	Production bool
}

// Gateway is the authenticated fetch gateway. One instance is shared by
// every request in the process; the credential store is per call.
type Gateway struct {
	baseURL        string
	httpClient     *http.Client
	refreshPath    string
	refreshTimeout time.Duration
	accessAttrs    credstore.Attributes
	refreshAttrs   credstore.Attributes

	// flight coordinates refreshes keyed by refresh credential, so callers
	// sharing a session share one exchange and other sessions never wait on it.
	flight singleflight.Group

	mu        sync.Mutex
	exchanged map[string]exchangedResult // keyed by the spent refresh credential
	now       func() time.Time
}

// New validates cfg and returns a ready Gateway.
func New(cfg Config) (*Gateway, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("apiclient: base URL is required")
	}

	g := &Gateway{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:     cfg.HTTPClient,
		refreshPath:    cfg.RefreshPath,
		refreshTimeout: cfg.RefreshTimeout,
		exchanged:      make(map[string]exchangedResult),
		now:            time.Now,
	}
	if g.httpClient == nil {
		g.httpClient = &http.Client{Timeout: DefaultRequestTimeout}
	}
	if g.refreshPath == "" {
		g.refreshPath = DefaultRefreshPath
	}
	if g.refreshTimeout <= 0 {
		g.refreshTimeout = DefaultRefreshTimeout
	}

	accessAge := cfg.AccessMaxAge
	if accessAge <= 0 {
		accessAge = jwtx.DefaultAccessTokenTTL
	}
	refreshAge := cfg.RefreshMaxAge
	if refreshAge <= 0 {
		refreshAge = jwtx.DefaultRefreshTokenTTL
	}
	g.accessAttrs = credstore.AccessAttributes(cfg.Production, accessAge)
	g.refreshAttrs = credstore.RefreshAttributes(cfg.Production, refreshAge)

	return g, nil
}

// BaseURL returns the backend root the gateway talks to.
func (g *Gateway) BaseURL() string { return g.baseURL }

// Request describes one backend call.
type Request struct {
	Method   string
	Endpoint string // relative to the base URL, e.g. "/bookings"
	Header   http.Header

	// Body is nil, []byte, string, io.Reader, json.RawMessage, *Multipart,
	// or any value to be JSON-encoded.
	Body any

	// Token overrides the stored access credential for the first attempt.
	// A replay after refresh always uses the store.
	Token string

	// Store overrides the store attached to the context.
	Store credstore.Store
}

// Do sends req and returns the backend's response. The caller closes the body.
//
// A 401 on a call that carried a credential triggers one shared refresh and
// a single replay. Refresh failures come back as *RefreshError; every other
// status is returned as-is.
func (g *Gateway) Do(ctx context.Context, req Request) (*http.Response, error) {
	body, err := encodeBody(req.Body)
	if err != nil {
		return nil, err
	}

	store := req.Store
	if store == nil {
		store, _ = credstore.FromContext(ctx)
	}

	return g.send(ctx, req, body, store, 0)
}

func (g *Gateway) send(ctx context.Context, req Request, body payload, store credstore.Store, depth int) (*http.Response, error) {
	token := req.Token
	if token == "" && store != nil {
		token, _ = store.Get(ctx, credstore.AccessToken)
	}

	httpReq, err := g.newRequest(ctx, req, body, token)
	if err != nil {
		return nil, err
	}

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("apiclient: %s %s: %w", httpReq.Method, req.Endpoint, err)
	}

	if resp.StatusCode != http.StatusUnauthorized || token == "" || depth >= maxRetryDepth {
		return resp, nil
	}

	discard(resp)

	if _, err := g.refresh(ctx, store, token); err != nil {
		return nil, err
	}

	next := req
	next.Token = ""
	return g.send(ctx, next, body, store, depth+1)
}

func (g *Gateway) newRequest(ctx context.Context, req Request, body payload, token string) (*http.Request, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, g.url(req.Endpoint), body.reader())
	if err != nil {
		return nil, fmt.Errorf("apiclient: build request: %w", err)
	}

	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}

	switch {
	case body.forced:
		httpReq.Header.Set("Content-Type", body.contentType)
	case body.contentType != "" && httpReq.Header.Get("Content-Type") == "":
		httpReq.Header.Set("Content-Type", body.contentType)
	}

	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	reqid.Propagate(ctx, httpReq)

	return httpReq, nil
}

// Ping checks the backend answers at all. Any response below 500 counts.
func (g *Gateway) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL, nil)
	if err != nil {
		return fmt.Errorf("apiclient: build ping: %w", err)
	}
	reqid.Propagate(ctx, req)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("apiclient: ping: %w", err)
	}
	discard(resp)

	if resp.StatusCode >= http.StatusInternalServerError {
		return &APIError{StatusCode: resp.StatusCode}
	}
	return nil
}

func (g *Gateway) url(endpoint string) string {
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return g.baseURL + endpoint
}

// discard drains and closes a response we are not handing to the caller so
// the connection can be reused.
func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
