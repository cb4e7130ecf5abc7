/*
Package apiclient talks to the marketplace REST backend on behalf of a
signed-in user.

Every call attaches the user's access credential as a bearer token. When the
backend answers 401 the gateway exchanges the refresh credential for a new
access credential and replays the call once. Concurrent calls that hit the
same expiry share a single exchange:

	gw, err := apiclient.New(apiclient.Config{BaseURL: "https://api.example.com/api/v1"})
	if err != nil {
		return err
	}

	ctx = credstore.WithStore(ctx, credstore.NewCookieStore(w, r))
	bookings, err := apiclient.GetJSON[[]Booking](ctx, gw, "/bookings/my-bookings")
	if errors.Is(err, apiclient.ErrRefreshFailed) {
		// session is gone; send the user to /login
	}

Non-401 failures are never retried or reinterpreted by Do; the typed helpers
(GetJSON, SendJSON, DecodeEnvelope) turn them into *APIError.
*/
package apiclient
