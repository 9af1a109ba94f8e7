// Package command implements the JSON command channel of the proxy: the
// generic request/response primitive and the session handshake.
package command

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"sxs-link/internal/protocol"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	DefaultTimeout = 10 * time.Second

	maxResponseBody = 4 * 1024 * 1024
	requestIDHeader = "X-Request-Id"
)

// Client posts command envelopes to one proxy instance.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for baseURL. The http.Client is process-scoped and
// shared; a nil value gets one with DefaultTimeout.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient(DefaultTimeout)
	}
	return &Client{baseURL: baseURL, httpClient: httpClient}
}

// NewHTTPClient returns the client used for command traffic.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// BaseURL returns the command endpoint.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Send posts env, injecting token when non-empty, and decodes the response.
// Application-level failures are returned as a response with IsSuccess=false
// and a nil error; only transport problems produce an error here.
func (c *Client) Send(ctx context.Context, env protocol.Envelope, token string) (*protocol.Response, error) {
	env = env.WithToken(token)

	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", env.Command, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Command: env.Command, Err: err}
	}
	requestID := uuid.New().String()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(requestIDHeader, requestID)

	logger := log.With().Str("command", env.Command).Str("request_id", requestID).Logger()
	logger.Debug().Bool("token", env.SessionToken != "").Msg("sending command")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Warn().Err(err).Msg("command transport failure")
		return nil, &TransportError{Command: env.Command, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, &TransportError{Command: env.Command, Err: fmt.Errorf("read response: %w", err)}
	}

	var out protocol.Response
	if err := json.Unmarshal(data, &out); err != nil {
		logger.Warn().Int("status", resp.StatusCode).Msg("malformed command response")
		return nil, &TransportError{
			Command: env.Command,
			Err:     fmt.Errorf("malformed response (HTTP %d): %w", resp.StatusCode, err),
		}
	}

	logger.Debug().Bool("success", out.IsSuccess).Msg("command response")
	return &out, nil
}

// Do sends env and folds an unsuccessful response into a RejectionError.
func (c *Client) Do(ctx context.Context, env protocol.Envelope, token string) (*protocol.Response, error) {
	resp, err := c.Send(ctx, env, token)
	if err != nil {
		return nil, err
	}
	if err := Rejection(env.Command, resp); err != nil {
		return resp, err
	}
	return resp, nil
}
