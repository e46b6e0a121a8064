// Package api is the single outbound gateway to the queue/sign/moderator
// HTTP API. Every request goes through one client that attaches whichever
// credential is present and normalizes error handling.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/jawaracloud/akim-queue/internal/credentials"
)

// ErrUnauthorized marks a 401 from the server. The gateway only flags it;
// whether to re-authenticate or bail is the caller's decision.
var ErrUnauthorized = errors.New("unauthorized")

// StatusError is a non-2xx response, carrying the server-supplied message
// when one was present.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api: status %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("api: status %d", e.Code)
}

func (e *StatusError) Unwrap() error {
	if e.Code == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return nil
}

// IsNotFound reports whether err is the expected-transient class of
// failure seen while a sign session races its first poll: a 404, or a
// server message saying the session is not there yet.
func IsNotFound(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	if se.Code == http.StatusNotFound {
		return true
	}
	msg := strings.ToLower(se.Message)
	return strings.Contains(msg, "not found") || strings.Contains(msg, "initialized")
}

// AlreadyJoined reports whether err is the server refusing a second join
// for a session that is already queued.
func AlreadyJoined(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	if se.Code == http.StatusConflict {
		return true
	}
	return strings.Contains(strings.ToLower(se.Message), "already")
}

// Client is the shared HTTP gateway. Safe for concurrent use.
type Client struct {
	baseURL string
	httpc   *http.Client
	creds   *credentials.Store
	log     zerolog.Logger
}

// NewClient builds a gateway against one base origin. creds decides the
// Authorization header per request: Basic when an admin credential exists,
// else Bearer when a token exists, else nothing.
func NewClient(baseURL string, creds *credentials.Store, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: 15 * time.Second},
		creds:   creds,
		log:     log,
	}
}

// WithHTTPClient swaps the underlying http.Client, mainly for tests.
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.httpc = h
	return c
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if cred, ok := c.creds.AdminCredential(); ok && cred != "" {
		req.Header.Set("Authorization", "Basic "+cred)
	} else if token, ok := c.creds.Token(); ok && token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// doJSON issues the request and decodes a JSON body into out (which may be
// nil). Non-2xx responses come back as *StatusError.
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := c.newRequest(ctx, method, path, query, reader)
	if err != nil {
		return err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		c.log.Debug().Err(err).Str("method", method).Str("path", path).Msg("request failed")
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.statusError(resp, method, path)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) statusError(resp *http.Response, method, path string) error {
	se := &StatusError{Code: resp.StatusCode}
	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
		se.Message = body.Message
	}

	ev := c.log.Error().Int("status", se.Code).Str("method", method).Str("path", path)
	if se.Message != "" {
		ev = ev.Str("message", se.Message)
	}
	if se.Code == http.StatusUnauthorized {
		ev.Msg("session expired, log in again")
	} else {
		ev.Msg("api error")
	}
	return se
}

// QRImage is a fetched QR code held in a temp file. The holder owns
// exactly one live image at a time and must Release a superseded or
// abandoned one; Release is idempotent.
type QRImage struct {
	path        string
	contentType string
	released    atomic.Bool
}

// Path is the on-disk location of the image.
func (q *QRImage) Path() string { return q.path }

// ContentType is the server-reported media type, possibly empty.
func (q *QRImage) ContentType() string { return q.contentType }

// Release deletes the backing file. Subsequent calls are no-ops.
func (q *QRImage) Release() error {
	if q.released.Swap(true) {
		return nil
	}
	return os.Remove(q.path)
}

// FetchQR downloads the QR image for a sign session into a temp file.
func (c *Client) FetchQR(ctx context.Context, sessionID string) (*QRImage, error) {
	query := url.Values{"sessionId": {sessionID}}
	req, err := c.newRequest(ctx, http.MethodGet, "/api/qr", query, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "image/*")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.statusError(resp, http.MethodGet, "/api/qr")
	}

	f, err := os.CreateTemp("", "akim-qr-*.img")
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, err
	}

	ct := resp.Header.Get("Content-Type")
	if ct != "" && !strings.HasPrefix(ct, "image/") {
		c.log.Warn().Str("contentType", ct).Msg("qr endpoint did not return image/*")
	}
	return &QRImage{path: f.Name(), contentType: ct}, nil
}
