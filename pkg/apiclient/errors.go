package apiclient

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrRefreshFailed matches every *RefreshError via errors.Is.
var ErrRefreshFailed = errors.New("apiclient: session refresh failed")

// RefreshKind classifies why a refresh did not produce a new access credential.
type RefreshKind string

const (
	// KindMissingRefresh: no refresh credential in the store.
	KindMissingRefresh RefreshKind = "missing_refresh"
	// KindRejected: the backend answered the refresh call with a non-2xx status.
	KindRejected RefreshKind = "rejected"
	// KindMalformed: 2xx, but the body did not carry a usable access credential.
	KindMalformed RefreshKind = "malformed"
	// KindUnavailable: transport failure or timeout; the session may still be good.
	KindUnavailable RefreshKind = "unavailable"
)

// RefreshError is surfaced to every caller that waited on a failed refresh.
type RefreshError struct {
	Kind   RefreshKind
	Status int // HTTP status for KindRejected
	Err    error
}

func (e *RefreshError) Error() string {
	msg := fmt.Sprintf("apiclient: session refresh failed (%s)", e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" status=%d", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RefreshError) Is(target error) bool { return target == ErrRefreshFailed }

func (e *RefreshError) Unwrap() error { return e.Err }

// SessionEnded reports whether this failure proves the stored credentials
// are unusable. Transport problems and odd bodies leave them in place.
func (e *RefreshError) SessionEnded() bool {
	return e.Kind == KindMissingRefresh || e.Kind == KindRejected
}

// APIError is a non-2xx backend response decoded by the typed helpers.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("apiclient: backend returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("apiclient: backend returned %d: %s", e.StatusCode, e.Message)
}
