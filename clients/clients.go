// Package clients holds the HTTP collaborators of the pipeline: speech
// recognition, face detection, chat and the visualization service.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Service availability errors, mapped from transport failures and status
// codes.
var (
	// ErrUnavailable reports a service that could not be reached.
	ErrUnavailable = errors.New("service unavailable")
	// ErrUnauthorized reports a 401 or 403.
	ErrUnauthorized = errors.New("service refused access")
	// ErrNotReady reports a 503: the service is up but still loading.
	ErrNotReady = errors.New("service not ready")
)

type HTTP struct{ c *http.Client }

func NewHTTP() *HTTP { return NewHTTPTimeout(60 * time.Second) }

// NewHTTPTimeout returns a client whose requests time out after d.
func NewHTTPTimeout(d time.Duration) *HTTP { return &HTTP{c: &http.Client{Timeout: d}} }

// postJSON posts in as JSON to url and decodes the response into out.
func (h *HTTP) postJSON(ctx context.Context, what, url string, in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s encode: %w", what, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return h.do(req, what, out)
}

func (h *HTTP) do(req *http.Request, what string, out any) error {
	resp, err := h.c.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", what, ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: %w: %s", what, resp.Status, statusErr(resp.StatusCode), string(body))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s decode: %w", what, err)
	}
	return nil
}

func statusErr(code int) error {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusServiceUnavailable:
		return ErrNotReady
	default:
		return ErrUnavailable
	}
}
