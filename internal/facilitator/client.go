// Package facilitator talks to the remote x402 facilitator service that
// verifies payment authorizations and settles them on chain. The service
// itself never touches keys or chain state; this client is the only boundary.
package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/basedotnews/basepost/internal/paywall"
)

const (
	defaultVerifyTimeout = 5 * time.Second
	defaultSettleTimeout = 30 * time.Second
)

// Client is an HTTP client for a facilitator service exposing /verify and
// /settle. It implements paywall.Facilitator.
type Client struct {
	baseURL    string
	httpClient *http.Client

	verifyTimeout time.Duration
	settleTimeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) { client.httpClient = c }
}

// WithTimeouts overrides the per-call deadlines. Settlement waits for an
// on-chain transaction and needs a much longer window than verification.
func WithTimeouts(verify, settle time.Duration) Option {
	return func(client *Client) {
		client.verifyTimeout = verify
		client.settleTimeout = settle
	}
}

// NewClient creates a facilitator client for the given base URL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:       baseURL,
		httpClient:    &http.Client{},
		verifyTimeout: defaultVerifyTimeout,
		settleTimeout: defaultSettleTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Verify asks the facilitator whether the payment authorization is valid and
// funded. A reachable facilitator that declines the payment is not an error;
// the decline reason comes back in the response. Transport failures are
// marked with paywall.ErrFacilitatorUnavailable.
func (c *Client) Verify(ctx context.Context, req *paywall.VerifyRequest) (*paywall.VerifyResponse, error) {
	var resp paywall.VerifyResponse
	if err := c.post(ctx, "/verify", c.verifyTimeout, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Settle submits the payment authorization for on-chain execution.
func (c *Client) Settle(ctx context.Context, req *paywall.SettleRequest) (*paywall.SettleResponse, error) {
	var resp paywall.SettleResponse
	if err := c.post(ctx, "/settle", c.settleTimeout, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, path string, timeout time.Duration, body, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	data, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "marshal facilitator request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return errors.Wrap(err, "build facilitator request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "facilitator %s", path), paywall.ErrFacilitatorUnavailable)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "read facilitator %s response", path), paywall.ErrFacilitatorUnavailable)
	}

	if httpResp.StatusCode >= 500 {
		return errors.Mark(
			errors.Newf("facilitator %s returned %d: %s", path, httpResp.StatusCode, respBody),
			paywall.ErrFacilitatorUnavailable)
	}
	if httpResp.StatusCode != http.StatusOK {
		return errors.Newf("facilitator %s returned %d: %s", path, httpResp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return errors.Wrapf(err, "decode facilitator %s response", path)
	}
	return nil
}
