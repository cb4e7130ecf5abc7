package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const maxEnvelopeBody = 8 << 20

// Envelope is the backend's uniform response wrapper.
type Envelope[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Meta    *Meta  `json:"meta,omitempty"`
	Data    T      `json:"data"`
}

// Meta carries pagination for list endpoints.
type Meta struct {
	Page      int `json:"page"`
	Limit     int `json:"limit"`
	Total     int `json:"total"`
	TotalPage int `json:"totalPage,omitempty"`
}

// DecodeEnvelope reads and closes resp. Non-2xx responses become *APIError
// carrying the backend's message when it sent one.
func DecodeEnvelope[T any](resp *http.Response) (Envelope[T], error) {
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxEnvelopeBody))
	if err != nil {
		return Envelope[T]{}, fmt.Errorf("apiclient: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var failure struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &failure) == nil {
			apiErr.Message = failure.Message
		}
		return Envelope[T]{}, apiErr
	}

	var env Envelope[T]
	if len(bytes.TrimSpace(raw)) == 0 {
		return env, nil
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope[T]{}, fmt.Errorf("apiclient: decode response: %w", err)
	}
	return env, nil
}

// GetJSON fetches endpoint and returns the envelope's data.
func GetJSON[T any](ctx context.Context, g *Gateway, endpoint string) (T, error) {
	return SendJSON[T](ctx, g, http.MethodGet, endpoint, nil)
}

// SendJSON sends body to endpoint and returns the envelope's data.
func SendJSON[T any](ctx context.Context, g *Gateway, method, endpoint string, body any) (T, error) {
	var zero T

	resp, err := g.Do(ctx, Request{Method: method, Endpoint: endpoint, Body: body})
	if err != nil {
		return zero, err
	}

	env, err := DecodeEnvelope[T](resp)
	if err != nil {
		return zero, err
	}
	return env.Data, nil
}
