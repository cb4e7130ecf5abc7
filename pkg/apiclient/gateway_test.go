package apiclient_test

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/tourbook/pkg/apiclient"
	"github.com/aussiebroadwan/tourbook/pkg/credstore"
	"github.com/aussiebroadwan/tourbook/pkg/reqid"
	"github.com/stretchr/testify/require"
)

// backend is a fake marketplace API. /bookings accepts only the current
// access token; /auth/refresh-token is driven by onRefresh.
type backend struct {
	srv *httptest.Server

	mu      sync.Mutex
	current string
	calls   []string
	seen    []string

	unauthorized atomic.Int32
	refreshHits  atomic.Int32

	onRefresh func(w http.ResponseWriter, r *http.Request)
}

func newBackend(t *testing.T, current string) *backend {
	t.Helper()

	b := &backend{current: current}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/bookings", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.calls = append(b.calls, "bookings")
		b.seen = append(b.seen, r.Header.Get("Authorization"))
		ok := r.Header.Get("Authorization") == "Bearer "+b.current
		b.mu.Unlock()

		if !ok {
			b.unauthorized.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"success":false,"message":"jwt expired"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"success":true,"data":[{"id":"b1"}]}`)
	})
	mux.HandleFunc("/api/v1/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		b.refreshHits.Add(1)
		b.mu.Lock()
		b.calls = append(b.calls, "refresh")
		b.mu.Unlock()
		b.onRefresh(w, r)
	})

	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)
	return b
}

func (b *backend) rotate(token string) {
	b.mu.Lock()
	b.current = token
	b.mu.Unlock()
}

func (b *backend) callLog() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

func (b *backend) authHeaders() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.seen...)
}

func (b *backend) gateway(t *testing.T, cfg apiclient.Config) *apiclient.Gateway {
	t.Helper()
	cfg.BaseURL = b.srv.URL + "/api/v1"
	gw, err := apiclient.New(cfg)
	require.NoError(t, err)
	return gw
}

func issue(b *backend, access string) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Authorization") != "Bearer R1" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		b.rotate(access)
		_, _ = io.WriteString(w, `{"success":true,"data":{"accessToken":"`+access+`"}}`)
	}
}

func seeded(t *testing.T, access, refresh string) *credstore.MemoryStore {
	t.Helper()
	ctx := context.Background()
	s := credstore.NewMemoryStore()
	if access != "" {
		require.NoError(t, s.Set(ctx, credstore.AccessToken, access, credstore.Attributes{}))
	}
	if refresh != "" {
		require.NoError(t, s.Set(ctx, credstore.RefreshToken, refresh, credstore.Attributes{}))
	}
	return s
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := apiclient.New(apiclient.Config{})
	require.Error(t, err)

	gw, err := apiclient.New(apiclient.Config{BaseURL: "http://backend/api/v1/"})
	require.NoError(t, err)
	require.Equal(t, "http://backend/api/v1", gw.BaseURL())
}

func TestDoValidTokenSingleRequest(t *testing.T) {
	b := newBackend(t, "T1")
	b.onRefresh = issue(b, "T2")
	gw := b.gateway(t, apiclient.Config{})
	store := seeded(t, "T1", "R1")

	resp, err := gw.Do(context.Background(), apiclient.Request{Endpoint: "/bookings", Store: store})
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []string{"bookings"}, b.callLog())
	require.Zero(t, b.refreshHits.Load())
}

func TestDoRefreshesAndRetriesOnce(t *testing.T) {
	b := newBackend(t, "T2")
	b.onRefresh = issue(b, "T2")
	gw := b.gateway(t, apiclient.Config{})
	store := seeded(t, "T1", "R1")
	ctx := credstore.WithStore(context.Background(), store)

	resp, err := gw.Do(ctx, apiclient.Request{Endpoint: "/bookings"})
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []string{"bookings", "refresh", "bookings"}, b.callLog())
	require.Equal(t, []string{"Bearer T1", "Bearer T2"}, b.authHeaders())

	v, ok := store.Get(ctx, credstore.AccessToken)
	require.True(t, ok)
	require.Equal(t, "T2", v)

	attrs, ok := store.Attributes(credstore.AccessToken)
	require.True(t, ok)
	require.True(t, attrs.HTTPOnly)
	require.Equal(t, credstore.SameSiteLax, attrs.SameSite)
	require.Equal(t, "/", attrs.Path)
	require.False(t, attrs.Secure)
}

func TestDoConcurrentExpiryRefreshesOnce(t *testing.T) {
	const callers = 5

	b := newBackend(t, "T2")
	b.onRefresh = func(w http.ResponseWriter, r *http.Request) {
		// Hold the exchange open until every caller has seen its 401.
		deadline := time.Now().Add(2 * time.Second)
		for b.unauthorized.Load() < callers && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		time.Sleep(50 * time.Millisecond)
		issue(b, "T2")(w, r)
	}
	gw := b.gateway(t, apiclient.Config{})
	store := seeded(t, "T1", "R1")
	ctx := credstore.WithStore(context.Background(), store)

	var wg sync.WaitGroup
	statuses := make([]int, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := gw.Do(ctx, apiclient.Request{Endpoint: "/bookings"})
			errs[i] = err
			if err == nil {
				statuses[i] = resp.StatusCode
				resp.Body.Close()
			}
		}(i)
	}
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		require.Equal(t, http.StatusOK, statuses[i])
	}
	require.EqualValues(t, 1, b.refreshHits.Load())
	require.EqualValues(t, callers, b.unauthorized.Load())

	var retries int
	for _, h := range b.authHeaders() {
		if h == "Bearer T2" {
			retries++
		}
	}
	require.Equal(t, callers, retries)
}

// rotating answers the refresh endpoint only for the current refresh
// credential, replacing it on every exchange the way a rotating backend does.
func rotating(b *backend, access, next string) func(http.ResponseWriter, *http.Request) {
	var mu sync.Mutex
	refresh := "R1"
	return func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer "+refresh {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"success":false,"message":"refresh token revoked"}`)
			return
		}
		refresh = next
		b.rotate(access)
		_, _ = io.WriteString(w, `{"success":true,"data":{"accessToken":"`+access+`","refreshToken":"`+next+`"}}`)
	}
}

// slowStore holds the first access credential write until released.
type slowStore struct {
	*credstore.MemoryStore

	held    atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (s *slowStore) Set(ctx context.Context, name, value string, attrs credstore.Attributes) error {
	if name == credstore.AccessToken && s.held.CompareAndSwap(false, true) {
		close(s.entered)
		<-s.release
	}
	return s.MemoryStore.Set(ctx, name, value, attrs)
}

func TestDoLateCallerAdoptsCompletedRefresh(t *testing.T) {
	b := newBackend(t, "T2")
	b.onRefresh = rotating(b, "T2", "R2")
	gw := b.gateway(t, apiclient.Config{})

	store := &slowStore{
		MemoryStore: seeded(t, "T1", "R1"),
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}

	first := make(chan error, 1)
	go func() {
		resp, err := gw.Do(context.Background(), apiclient.Request{Endpoint: "/bookings", Store: store})
		if err == nil {
			resp.Body.Close()
		}
		first <- err
	}()

	select {
	case <-store.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first caller never wrote the refreshed credential")
	}

	// The store still holds T1 and R1, and R1 has already been spent.
	resp, err := gw.Do(context.Background(), apiclient.Request{Endpoint: "/bookings", Store: store})
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	close(store.release)
	require.NoError(t, <-first)

	require.EqualValues(t, 1, b.refreshHits.Load())
	v, ok := store.Get(context.Background(), credstore.AccessToken)
	require.True(t, ok)
	require.Equal(t, "T2", v)
	v, ok = store.Get(context.Background(), credstore.RefreshToken)
	require.True(t, ok)
	require.Equal(t, "R2", v)
}

func TestDoStaleCookiesAdoptCompletedRefresh(t *testing.T) {
	b := newBackend(t, "T2")
	b.onRefresh = rotating(b, "T2", "R2")
	gw := b.gateway(t, apiclient.Config{})

	// Two requests from one browser, both sent before the rotated cookies arrived.
	for _, store := range []*credstore.MemoryStore{seeded(t, "T1", "R1"), seeded(t, "T1", "R1")} {
		resp, err := gw.Do(context.Background(), apiclient.Request{Endpoint: "/bookings", Store: store})
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		v, _ := store.Get(context.Background(), credstore.RefreshToken)
		require.Equal(t, "R2", v)
	}
	require.EqualValues(t, 1, b.refreshHits.Load())
}

func TestDoRefreshRejectedClearsSession(t *testing.T) {
	b := newBackend(t, "T2")
	b.onRefresh = func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}
	gw := b.gateway(t, apiclient.Config{})
	store := seeded(t, "T1", "R1")

	resp, err := gw.Do(context.Background(), apiclient.Request{Endpoint: "/bookings", Store: store})
	require.Nil(t, resp)
	require.ErrorIs(t, err, apiclient.ErrRefreshFailed)

	var rerr *apiclient.RefreshError
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, apiclient.KindRejected, rerr.Kind)
	require.Equal(t, http.StatusForbidden, rerr.Status)

	_, ok := store.Get(context.Background(), credstore.AccessToken)
	require.False(t, ok)
	_, ok = store.Get(context.Background(), credstore.RefreshToken)
	require.False(t, ok)
	require.Equal(t, []string{"bookings", "refresh"}, b.callLog())
}

func TestDoMissingRefreshClearsSession(t *testing.T) {
	b := newBackend(t, "T2")
	b.onRefresh = issue(b, "T2")
	gw := b.gateway(t, apiclient.Config{})
	store := seeded(t, "T1", "")

	_, err := gw.Do(context.Background(), apiclient.Request{Endpoint: "/bookings", Store: store})

	var rerr *apiclient.RefreshError
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, apiclient.KindMissingRefresh, rerr.Kind)
	require.Zero(t, b.refreshHits.Load())

	_, ok := store.Get(context.Background(), credstore.AccessToken)
	require.False(t, ok)
}

func TestDoMalformedRefreshKeepsSession(t *testing.T) {
	b := newBackend(t, "T2")
	b.onRefresh = func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"success":true,"data":{}}`)
	}
	gw := b.gateway(t, apiclient.Config{})
	store := seeded(t, "T1", "R1")

	_, err := gw.Do(context.Background(), apiclient.Request{Endpoint: "/bookings", Store: store})

	var rerr *apiclient.RefreshError
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, apiclient.KindMalformed, rerr.Kind)

	v, ok := store.Get(context.Background(), credstore.RefreshToken)
	require.True(t, ok)
	require.Equal(t, "R1", v)
}

func TestDoRefreshTimeoutKeepsSession(t *testing.T) {
	b := newBackend(t, "T2")
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	b.onRefresh = func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}
	gw := b.gateway(t, apiclient.Config{RefreshTimeout: 50 * time.Millisecond})
	store := seeded(t, "T1", "R1")

	_, err := gw.Do(context.Background(), apiclient.Request{Endpoint: "/bookings", Store: store})

	var rerr *apiclient.RefreshError
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, apiclient.KindUnavailable, rerr.Kind)

	v, ok := store.Get(context.Background(), credstore.AccessToken)
	require.True(t, ok)
	require.Equal(t, "T1", v)
	v, ok = store.Get(context.Background(), credstore.RefreshToken)
	require.True(t, ok)
	require.Equal(t, "R1", v)
}

func TestDoCallerCancelledWhileWaiting(t *testing.T) {
	b := newBackend(t, "T2")
	release := make(chan struct{})
	b.onRefresh = func(w http.ResponseWriter, r *http.Request) {
		<-release
		issue(b, "T2")(w, r)
	}
	gw := b.gateway(t, apiclient.Config{})
	store := seeded(t, "T1", "R1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := gw.Do(ctx, apiclient.Request{Endpoint: "/bookings", Store: store})
		done <- err
	}()

	require.Eventually(t, func() bool { return b.refreshHits.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after cancellation")
	}
	close(release)

	v, _ := store.Get(context.Background(), credstore.AccessToken)
	require.Equal(t, "T1", v)
}

func TestDoSecondUnauthorizedReturnedAsIs(t *testing.T) {
	b := newBackend(t, "never")
	b.onRefresh = func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"success":true,"data":{"accessToken":"T2"}}`)
	}
	gw := b.gateway(t, apiclient.Config{})
	store := seeded(t, "T1", "R1")

	resp, err := gw.Do(context.Background(), apiclient.Request{Endpoint: "/bookings", Store: store})
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.JSONEq(t, `{"success":false,"message":"jwt expired"}`, string(body))
	require.Equal(t, []string{"bookings", "refresh", "bookings"}, b.callLog())
}

func TestDoWithoutTokenDoesNotRefresh(t *testing.T) {
	b := newBackend(t, "T1")
	b.onRefresh = issue(b, "T2")
	gw := b.gateway(t, apiclient.Config{})
	store := seeded(t, "", "R1")

	resp, err := gw.Do(context.Background(), apiclient.Request{Endpoint: "/bookings", Store: store})
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Zero(t, b.refreshHits.Load())
	require.Equal(t, []string{""}, b.authHeaders())
}

func TestDoOverrideTokenFirstAttemptOnly(t *testing.T) {
	b := newBackend(t, "T2")
	b.onRefresh = issue(b, "T2")
	gw := b.gateway(t, apiclient.Config{})
	store := seeded(t, "T1", "R1")

	resp, err := gw.Do(context.Background(), apiclient.Request{Endpoint: "/bookings", Store: store, Token: "T1"})
	require.NoError(t, err)
	resp.Body.Close()

	require.Equal(t, []string{"Bearer T1", "Bearer T2"}, b.authHeaders())
}

func TestDoServerErrorNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	gw, err := apiclient.New(apiclient.Config{BaseURL: srv.URL})
	require.NoError(t, err)

	resp, err := gw.Do(context.Background(), apiclient.Request{Endpoint: "/listings", Store: seeded(t, "T1", "R1")})
	require.NoError(t, err)
	resp.Body.Close()

	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.EqualValues(t, 1, hits.Load())
}

func TestDoRotatedRefreshPersisted(t *testing.T) {
	b := newBackend(t, "T2")
	b.onRefresh = func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"success":true,"data":{"accessToken":"T2","refreshToken":"R2"}}`)
	}
	gw := b.gateway(t, apiclient.Config{})
	store := seeded(t, "T1", "R1")

	resp, err := gw.Do(context.Background(), apiclient.Request{Endpoint: "/bookings", Store: store})
	require.NoError(t, err)
	resp.Body.Close()

	v, ok := store.Get(context.Background(), credstore.RefreshToken)
	require.True(t, ok)
	require.Equal(t, "R2", v)
}

func TestDoHeaders(t *testing.T) {
	type captured struct {
		contentType string
		accept      string
		requestID   string
		body        string
	}
	got := make(chan captured, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- captured{
			contentType: r.Header.Get("Content-Type"),
			accept:      r.Header.Get("Accept"),
			requestID:   r.Header.Get(reqid.Header),
			body:        string(body),
		}
	}))
	t.Cleanup(srv.Close)

	gw, err := apiclient.New(apiclient.Config{BaseURL: srv.URL})
	require.NoError(t, err)

	do := func(t *testing.T, ctx context.Context, req apiclient.Request) captured {
		t.Helper()
		resp, err := gw.Do(ctx, req)
		require.NoError(t, err)
		resp.Body.Close()
		return <-got
	}

	t.Run("json body gets json content type", func(t *testing.T) {
		c := do(t, context.Background(), apiclient.Request{Method: http.MethodPost, Endpoint: "/bookings", Body: map[string]int{"guests": 2}})
		require.Equal(t, "application/json", c.contentType)
		require.Equal(t, "application/json", c.accept)
		require.JSONEq(t, `{"guests":2}`, c.body)
	})

	t.Run("caller content type wins for json", func(t *testing.T) {
		c := do(t, context.Background(), apiclient.Request{
			Method:   http.MethodPatch,
			Endpoint: "/bookings/1",
			Header:   http.Header{"Content-Type": {"application/merge-patch+json"}},
			Body:     map[string]string{"status": "CANCELLED"},
		})
		require.Equal(t, "application/merge-patch+json", c.contentType)
	})

	t.Run("multipart boundary is never overridden", func(t *testing.T) {
		mp, err := apiclient.NewMultipart(func(w *multipart.Writer) error {
			return w.WriteField("title", "Harbour walk")
		})
		require.NoError(t, err)

		c := do(t, context.Background(), apiclient.Request{
			Method:   http.MethodPost,
			Endpoint: "/listings",
			Header:   http.Header{"Content-Type": {"application/json"}},
			Body:     mp,
		})
		require.Equal(t, mp.ContentType, c.contentType)
		require.True(t, strings.HasPrefix(c.contentType, "multipart/form-data; boundary="))
		require.Contains(t, c.body, "Harbour walk")
	})

	t.Run("raw string body has no content type", func(t *testing.T) {
		c := do(t, context.Background(), apiclient.Request{Method: http.MethodPost, Endpoint: "/raw", Body: "hello"})
		require.Empty(t, c.contentType)
		require.Equal(t, "hello", c.body)
	})

	t.Run("request id propagated", func(t *testing.T) {
		id := reqid.New()
		c := do(t, reqid.WithContext(context.Background(), id), apiclient.Request{Endpoint: "/listings"})
		require.Equal(t, id.String(), c.requestID)
	})
}

func TestRefreshErrorIs(t *testing.T) {
	err := error(&apiclient.RefreshError{Kind: apiclient.KindRejected, Status: 401})
	require.True(t, errors.Is(err, apiclient.ErrRefreshFailed))
	require.Contains(t, err.Error(), "rejected")
	require.Contains(t, err.Error(), "status=401")

	wrapped := &apiclient.RefreshError{Kind: apiclient.KindUnavailable, Err: context.DeadlineExceeded}
	require.ErrorIs(t, wrapped, context.DeadlineExceeded)
}
