// Package remote is the HTTP client for the authoritative board store.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	kerrors "github.com/alexjbarnes/kanban-sync/internal/errors"
	"github.com/alexjbarnes/kanban-sync/internal/models"
	"github.com/tidwall/gjson"
)

// TransientError wraps an error that is likely temporary: the request
// never reached the server or the server reported it was unavailable.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err (or any error in its chain) is a
// TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// ConflictError is a rejected write whose base version was stale.
// ServerEntity is the entity as the server currently has it.
type ConflictError struct {
	EntityType   string
	ID           string
	ServerEntity json.RawMessage
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s %s", e.EntityType, e.ID)
}

func (e *ConflictError) Unwrap() error { return kerrors.ErrConflict }

// List decodes the server entity as a list.
func (e *ConflictError) List() (models.List, error) {
	var l models.List
	if err := json.Unmarshal(e.ServerEntity, &l); err != nil {
		return l, fmt.Errorf("decoding server list: %w", kerrors.ErrAPIResponse)
	}

	return l, nil
}

// Card decodes the server entity as a card.
func (e *ConflictError) Card() (models.Card, error) {
	var c models.Card
	if err := json.Unmarshal(e.ServerEntity, &c); err != nil {
		return c, fmt.Errorf("decoding server card: %w", kerrors.ErrAPIResponse)
	}

	return c, nil
}

// AsConflict returns the ConflictError in err's chain.
func AsConflict(err error) (*ConflictError, bool) {
	var ce *ConflictError
	ok := errors.As(err, &ce)

	return ce, ok
}

const (
	// httpClientTimeout is the timeout for the default HTTP client.
	httpClientTimeout = 30 * time.Second

	// maxAPIResponseBytes caps response body reads. A full board state
	// is the largest payload.
	maxAPIResponseBytes = 8 * 1024 * 1024
)

// Client talks to the board store's REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates an API client for baseURL. If httpClient is nil, a
// client with a 30-second timeout is used.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: httpClientTimeout}
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}


// sanitizeResponseBody truncates and sanitizes a response body for
// inclusion in error messages. Limits to 256 bytes and replaces
// non-printable characters to prevent log injection.
func sanitizeResponseBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var clean []byte

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return string(clean)
}

// do sends a JSON request and decodes a 2xx response into result.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshalling request body: %w", err)
		}

		reader = bytes.NewReader(payload)
	}

	endpoint := method + " " + path

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network errors (timeouts, connection refused, DNS failures)
		// are transient by nature.
		return &TransientError{Err: fmt.Errorf("sending %s: %w", endpoint, err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponseBytes))
	if err != nil {
		return &TransientError{Err: fmt.Errorf("reading response from %s: %w", endpoint, err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(endpoint, resp.StatusCode, respBody)
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response from %s: %w: %w", endpoint, kerrors.ErrAPIResponse, err)
		}
	}

	return nil
}

func statusError(endpoint string, code int, body []byte) error {
	msg := gjson.GetBytes(body, "message").String()
	if msg == "" {
		msg = gjson.GetBytes(body, "error").String()
	}

	if msg == "" {
		msg = sanitizeResponseBody(body)
	}

	switch {
	case code == http.StatusConflict:
		return &ConflictError{
			EntityType:   gjson.GetBytes(body, "entityType").String(),
			ID:           gjson.GetBytes(body, "id").String(),
			ServerEntity: json.RawMessage(gjson.GetBytes(body, "serverEntity").Raw),
		}
	case code == http.StatusNotFound:
		return fmt.Errorf("%s: %s: %w", endpoint, msg, kerrors.ErrNotFound)
	case isTransientStatus(code):
		return &TransientError{Err: fmt.Errorf("%s returned status %d: %s: %w", endpoint, code, msg, kerrors.ErrAPIRequest)}
	default:
		return fmt.Errorf("%s returned status %d: %s: %w", endpoint, code, msg, kerrors.ErrAPIRequest)
	}
}

// isTransientStatus returns true for HTTP status codes that indicate a
// temporary server-side problem.
func isTransientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}

	return false
}
