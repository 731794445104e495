package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/CoreumFoundation/coreum-tools/pkg/retry"
)

// ClientConfig is the config for the retryable JSON client.
type ClientConfig struct {
	// RequestTimeout bounds one HTTP round trip.
	RequestTimeout time.Duration
	// CallTimeout bounds the whole call including retries.
	CallTimeout time.Duration
	// RetryDelay is the pause between attempts.
	RetryDelay time.Duration
}

// DefaultClientConfig returns the default ClientConfig.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		RequestTimeout: 5 * time.Second,
		CallTimeout:    30 * time.Second,
		RetryDelay:     300 * time.Millisecond,
	}
}

// Client is an HTTP application/json client that retries transport errors
// and non-2xx responses until the call timeout is spent.
type Client struct {
	cfg  ClientConfig
	http *http.Client
}

// NewClient returns a new Client.
func NewClient(cfg ClientConfig) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{},
	}
}

// DoJSON executes the request and hands the response body to resDecoder.
func (c *Client) DoJSON(ctx context.Context, method, url string, reqBody any, resDecoder func([]byte) error) error {
	callCtx, callCtxCancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer callCtxCancel()
	return retry.Do(callCtx, c.cfg.RetryDelay, func() error {
		reqCtx, reqCtxCancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer reqCtxCancel()

		return c.doJSON(reqCtx, method, url, reqBody, resDecoder)
	})
}

func (c *Client) doJSON(ctx context.Context, method, url string, reqBody any, resDecoder func([]byte) error) error {
	reqBodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return errors.Wrap(err, "failed to marshal request body")
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(reqBodyBytes))
	if err != nil {
		return errors.Wrap(err, "failed to build the request")
	}

	// re-dialing per request avoids EOFs from stale keep-alive connections
	req.Close = true
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return retry.Retryable(errors.Wrap(err, "failed to perform the request"))
	}

	defer resp.Body.Close()
	bodyData, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read the response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return retry.Retryable(errors.Errorf("request failed, code:%d, body:%s", resp.StatusCode, string(bodyData)))
	}

	return resDecoder(bodyData)
}
