// Package client is a Go client for the bitflip HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/KanavDutta/bitflip/api"
	"github.com/KanavDutta/bitflip/core"
)

// APIError is a non-2xx response that does not map to a core error.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("bitflip: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("bitflip: HTTP %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Client talks to one bitflip server. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithRateLimit paces outgoing requests to rps with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// New returns a client for the server at baseURL, e.g. "http://localhost:8080".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Flip toggles the bit at index.
func (c *Client) Flip(ctx context.Context, index uint) error {
	path := "/flip/" + strconv.FormatUint(uint64(index), 10)
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// FlipBits toggles every index in one all-or-nothing batch.
func (c *Client) FlipBits(ctx context.Context, indices []uint) error {
	if indices == nil {
		indices = []uint{}
	}
	body, err := json.Marshal(api.FlipBitsRequest{Indices: &indices})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return c.do(ctx, http.MethodPost, "/flip_bits", body, nil)
}

// Snapshot fetches the packed vector and decodes it.
func (c *Client) Snapshot(ctx context.Context) (*core.Snapshot, error) {
	var resp api.SnapshotResponse
	if err := c.do(ctx, http.MethodGet, "/snapshot", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Encoding != api.EncodingPacked {
		return nil, fmt.Errorf("%w: unexpected encoding %q", core.ErrInvalidSnapshot, resp.Encoding)
	}
	return core.SnapshotFromBytes(resp.Data, resp.Length)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Length  uint   `json:"length"`
}

// Health calls GET /health.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var body api.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil {
		apiErr.Code = body.Error
		apiErr.Message = body.Message
	}

	if apiErr.Code == "out_of_bounds" {
		return fmt.Errorf("%w: %s", core.ErrOutOfBounds, apiErr.Message)
	}
	return apiErr
}
