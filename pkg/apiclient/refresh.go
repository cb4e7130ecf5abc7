package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aussiebroadwan/tourbook/pkg/credstore"
	"github.com/aussiebroadwan/tourbook/pkg/reqid"
	"github.com/aussiebroadwan/tourbook/pkg/slogx"
)

const maxRefreshBody = 1 << 20

type refreshData struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

type refreshResult struct {
	access  string
	refresh string
}

// refresh obtains a new access credential for the session held in store and
// writes it back before returning. stale is the access credential the
// backend just rejected.
//
// Callers presenting the same refresh credential while an exchange is in
// flight wait for that exchange instead of starting their own, and each
// adopts the shared outcome into its own store.
func (g *Gateway) refresh(ctx context.Context, store credstore.Store, stale string) (string, error) {
	log := slogx.FromContext(ctx)

	if store == nil {
		return "", &RefreshError{Kind: KindMissingRefresh}
	}

	// Someone sharing this store already rotated the credential.
	if current, ok := store.Get(ctx, credstore.AccessToken); ok && current != stale {
		return current, nil
	}

	rt, ok := store.Get(ctx, credstore.RefreshToken)
	if !ok {
		g.clear(ctx, store)
		return "", &RefreshError{Kind: KindMissingRefresh}
	}

	// The credential may have been spent by an exchange that finished while
	// this caller was on its way here.
	if out, ok := g.lookupExchanged(rt); ok && out.access != stale {
		log.Debug("adopting completed session refresh")
		return g.adopt(ctx, store, rt, out)
	}

	// The exchange must outlive any one waiter: a leader whose client hangs
	// up would otherwise fail everybody queued behind it.
	detached := context.WithoutCancel(ctx)
	ch := g.flight.DoChan(rt, func() (any, error) {
		out, err := g.exchange(detached, rt)
		if err != nil {
			return nil, err
		}
		// Recorded before the flight settles, so no caller can find the
		// key free and the result missing.
		g.rememberExchanged(rt, out)
		return out, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			var rerr *RefreshError
			if errors.As(res.Err, &rerr) && rerr.SessionEnded() {
				g.clear(ctx, store)
			}
			log.Warn("session refresh failed", "err", res.Err, "shared", res.Shared)
			return "", res.Err
		}

		log.Debug("session refreshed", "shared", res.Shared)
		return g.adopt(ctx, store, rt, res.Val.(refreshResult))
	}
}

// adopt writes a refresh outcome into store. spent is the refresh
// credential that was exchanged.
func (g *Gateway) adopt(ctx context.Context, store credstore.Store, spent string, out refreshResult) (string, error) {
	if err := store.Set(ctx, credstore.AccessToken, out.access, g.accessAttrs); err != nil {
		return "", fmt.Errorf("apiclient: persist refreshed access credential: %w", err)
	}
	if out.refresh != "" && out.refresh != spent {
		if err := store.Set(ctx, credstore.RefreshToken, out.refresh, g.refreshAttrs); err != nil {
			return "", fmt.Errorf("apiclient: persist rotated refresh credential: %w", err)
		}
	}
	return out.access, nil
}

type exchangedResult struct {
	out     refreshResult
	expires time.Time
}

func (g *Gateway) rememberExchanged(spent string, out refreshResult) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for k, e := range g.exchanged {
		if !now.Before(e.expires) {
			delete(g.exchanged, k)
		}
	}
	g.exchanged[spent] = exchangedResult{out: out, expires: now.Add(exchangedTTL)}
}

func (g *Gateway) lookupExchanged(spent string) (refreshResult, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.exchanged[spent]
	if !ok || !g.now().Before(e.expires) {
		return refreshResult{}, false
	}
	return e.out, true
}

// exchange performs the single network round-trip to the refresh endpoint.
func (g *Gateway) exchange(ctx context.Context, refreshToken string) (refreshResult, error) {
	ctx, cancel := context.WithTimeout(ctx, g.refreshTimeout)
	defer cancel()

	start := time.Now()
	slogx.FromContext(ctx).Debug("refreshing access credential", "endpoint", g.refreshPath)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url(g.refreshPath), nil)
	if err != nil {
		return refreshResult{}, &RefreshError{Kind: KindUnavailable, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+refreshToken)
	req.Header.Set("Accept", "application/json")
	reqid.Propagate(ctx, req)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return refreshResult{}, &RefreshError{Kind: KindUnavailable, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return refreshResult{}, &RefreshError{Kind: KindRejected, Status: resp.StatusCode}
	}

	var env Envelope[refreshData]
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxRefreshBody)).Decode(&env); err != nil {
		return refreshResult{}, &RefreshError{Kind: KindMalformed, Err: fmt.Errorf("decode refresh response: %w", err)}
	}
	if !env.Success || env.Data.AccessToken == "" {
		return refreshResult{}, &RefreshError{Kind: KindMalformed, Err: errors.New("refresh response carried no access token")}
	}

	slogx.FromContext(ctx).Debug("access credential refreshed", "duration_ms", time.Since(start).Milliseconds())
	return refreshResult{access: env.Data.AccessToken, refresh: env.Data.RefreshToken}, nil
}

func (g *Gateway) clear(ctx context.Context, store credstore.Store) {
	if err := credstore.Clear(ctx, store); err != nil {
		slogx.FromContext(ctx).Warn("failed to clear session credentials", "err", err)
	}
}
