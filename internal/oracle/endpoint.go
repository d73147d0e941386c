package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"attestra/internal/oracle/models"
)

// Endpoint performs a single oracle request. Implementations return a
// *StatusError for non-2xx replies and any other error for transport
// failures; retry policy lives in Client.
type Endpoint interface {
	Request(ctx context.Context, requestID string, params models.Params) (*models.EndpointResponse, error)
}

// StatusError reports a non-2xx gateway reply.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("oracle gateway returned %d: %s", e.StatusCode, e.Body)
}

// HTTPEndpoint posts requests to an oracle gateway as JSON.
type HTTPEndpoint struct {
	url    string
	client *http.Client
}

// NewHTTPEndpoint creates an endpoint for the given gateway URL.
func NewHTTPEndpoint(url string, timeout time.Duration) *HTTPEndpoint {
	if timeout <= 0 {
		timeout = DefaultAttemptTimeout
	}
	return &HTTPEndpoint{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type endpointRequest struct {
	ID     string        `json:"id"`
	Params models.Params `json:"data"`
}

const maxResponseBytes = 1 << 20

func (h *HTTPEndpoint) Request(ctx context.Context, requestID string, params models.Params) (*models.EndpointResponse, error) {
	body, err := json.Marshal(endpointRequest{ID: requestID, Params: params})
	if err != nil {
		return nil, fmt.Errorf("encode oracle request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build oracle request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read oracle response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(raw))}
	}

	var out models.EndpointResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode oracle response: %w", err)
	}
	return &out, nil
}
