package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/tunnelagent/pkg/messages"
	"go.uber.org/zap"
)

// maxResponseBytes caps how much of a response body is buffered. Control
// plane answers are small; anything bigger fails to parse.
const maxResponseBytes = 1 << 20

// Client talks to the agent control-plane API. It holds no per-call state and
// is safe for concurrent use.
type Client struct {
	apiBase     string
	agentSecret string
	httpClient  *http.Client
	logger      *zap.Logger
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets the http.Client used for every call. Timeouts, proxies
// and connection reuse are whatever hc is configured with.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return errors.New("nil http client")
		}
		c.httpClient = hc
		return nil
	}
}

// WithAgentSecret authenticates every call with the agent secret obtained
// from a claim exchange. An empty secret leaves the client unauthenticated.
func WithAgentSecret(secret string) Option {
	return func(c *Client) error {
		c.agentSecret = secret
		return nil
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) error {
		if logger == nil {
			logger = zap.NewNop()
		}
		c.logger = logger
		return nil
	}
}

// WithInsecureSkipVerify disables TLS certificate verification. It keeps the
// timeout of the http.Client configured so far.
// Only use this in development against a local control plane.
func WithInsecureSkipVerify() Option {
	return func(c *Client) error {
		c.httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy:           http.ProxyFromEnvironment,
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
			},
			Timeout: c.httpClient.Timeout,
		}
		return nil
	}
}

// New creates a Client that posts every request to apiBase.
//
//	c, err := client.New("https://api.example.net/agent",
//	    client.WithAgentSecret(secret),
//	    client.WithLogger(logger),
//	)
func New(apiBase string, opts ...Option) (*Client, error) {
	u, err := url.Parse(apiBase)
	if err != nil {
		return nil, fmt.Errorf("parse api base: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api base %q: scheme must be http or https", apiBase)
	}

	c := &Client{
		apiBase:    apiBase,
		httpClient: &http.Client{},
		logger:     zap.NewNop(),
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(apiBase string, opts ...Option) *Client {
	c, err := New(apiBase, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Authenticated reports whether calls carry an agent secret.
func (c *Client) Authenticated() bool {
	return c.agentSecret != ""
}

// do sends req to the API base and decodes the answer. It returns either a
// response or an *Error, never both.
func (c *Client) do(ctx context.Context, req messages.Request) (messages.Response, error) {
	op := req.RequestType()

	payload, err := encodeRequest(req)
	if err != nil {
		return nil, parseError(op, err)
	}

	requestID := uuid.NewString()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase, bytes.NewReader(payload))
	if err != nil {
		return nil, transportError(op, fmt.Errorf("build request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-Id", requestID)
	if c.agentSecret != "" {
		httpReq.Header.Set("Authorization", "agent-key "+c.agentSecret)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportError(op, fmt.Errorf("HTTP request failed: %w", err))
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, transportError(op, fmt.Errorf("read response: %w", err))
	}

	c.logger.Debug("agent api call",
		zap.String("operation", string(op)),
		zap.String("request_id", requestID),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)),
		zap.Duration("latency", time.Since(start)),
	)

	out, werr, err := decodeEnvelope(body)
	if err != nil {
		c.logger.Error("failed to parse response",
			zap.Error(err),
			zap.String("content", lossyText(body)),
			zap.String("operation", string(op)),
			zap.String("request_id", requestID),
			zap.Int("status", resp.StatusCode),
		)
		return nil, parseError(op, err)
	}
	if werr != nil {
		return nil, serverError(op, werr.Code, werr.Message)
	}
	return out, nil
}
