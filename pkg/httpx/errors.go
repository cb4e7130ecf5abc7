package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Error codes written in the "error" field of JSON error bodies.
const (
	ErrorCodeInvalidRequest     = "invalid_request"
	ErrorCodeInvalidCredentials = "invalid_credentials"
	ErrorCodeUnauthorized       = "unauthorized"
	ErrorCodeBackend            = "backend_error"
	ErrorCodeServerError        = "server_error"
)

// Error is a JSON error response.
type Error struct {
	StatusCode  int    `json:"-"`
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// WriteError writes e to w.
func (e *Error) WriteError(w http.ResponseWriter) {
	NoCache(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode)
	_ = json.NewEncoder(w).Encode(e)
}

// WithDescription returns a copy of e with a different description.
func (e *Error) WithDescription(desc string) *Error {
	return &Error{StatusCode: e.StatusCode, Code: e.Code, Description: desc}
}

var (
	ErrInvalidRequest = &Error{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeInvalidRequest,
		Description: "the request is malformed or missing required parameters",
	}

	ErrInvalidCredentials = &Error{
		StatusCode:  http.StatusUnauthorized,
		Code:        ErrorCodeInvalidCredentials,
		Description: "email or password is incorrect",
	}

	ErrUnauthorized = &Error{
		StatusCode:  http.StatusUnauthorized,
		Code:        ErrorCodeUnauthorized,
		Description: "sign in required",
	}

	ErrBadGateway = &Error{
		StatusCode:  http.StatusBadGateway,
		Code:        ErrorCodeBackend,
		Description: "the marketplace backend could not be reached",
	}

	ErrServerError = &Error{
		StatusCode:  http.StatusInternalServerError,
		Code:        ErrorCodeServerError,
		Description: "an unexpected error occurred",
	}
)
