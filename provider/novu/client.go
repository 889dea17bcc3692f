// Package novu implements the delivery provider over the Novu REST API.
package novu

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/xnovu/worker/api"
	"github.com/xnovu/worker/provider"
)

type (
	// Option configures the HTTP client.
	Option func(*Client)

	// Client implements provider.Provider against the Novu events API.
	Client struct {
		baseURL string
		apiKey  string
		http    *http.Client
		retry   RetryConfig
	}

	// RetryConfig bounds in-process retries of transient trigger failures.
	RetryConfig struct {
		// MaxAttempts includes the initial attempt. 0 or 1 means no retries.
		MaxAttempts int
		// InitialBackoff is the delay before the first retry.
		InitialBackoff time.Duration
		// MaxBackoff caps the delay between retries.
		MaxBackoff time.Duration
		// BackoffMultiplier grows the delay after each retry.
		BackoffMultiplier float64
		// Jitter adds up to this fraction of randomness to each delay.
		Jitter float64
	}

	triggerRequest struct {
		Name      string         `json:"name"`
		To        []subscriber   `json:"to"`
		Payload   map[string]any `json:"payload,omitempty"`
		Overrides map[string]any `json:"overrides,omitempty"`
	}

	subscriber struct {
		SubscriberID string `json:"subscriberId"`
	}

	triggerResponse struct {
		Data struct {
			Acknowledged  bool   `json:"acknowledged"`
			Status        string `json:"status"`
			TransactionID string `json:"transactionId"`
		} `json:"data"`
	}

	apiError struct {
		Message any `json:"message"`
	}
)

// DefaultRetryConfig returns the retry policy applied when none is given.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    200 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
	}
}

// WithHTTPClient overrides the underlying *http.Client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithRetryConfig overrides the default retry policy.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(cl *Client) {
		cl.retry = cfg
	}
}

// New constructs a Client for the Novu API at baseURL authenticated with
// apiKey.
func New(baseURL, apiKey string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, api.Errorf(api.KindConfig, "novu: base URL is required")
	}
	if apiKey == "" {
		return nil, api.Errorf(api.KindConfig, "novu: API key is required")
	}
	cl := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
		retry:   DefaultRetryConfig(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cl)
		}
	}
	if cl.http == nil {
		cl.http = &http.Client{Timeout: 30 * time.Second}
	}
	return cl, nil
}

// Ensure Client implements provider.Provider.
var _ provider.Provider = (*Client)(nil)

// Trigger submits the event to POST /v1/events/trigger, retrying transient
// failures per the client's retry policy.
func (c *Client) Trigger(ctx context.Context, req provider.TriggerRequest) (provider.TriggerResult, error) {
	if req.WorkflowKey == "" {
		return provider.TriggerResult{}, api.Errorf(api.KindProviderPermanent, "novu: workflow key is required")
	}
	if len(req.Recipients) == 0 {
		return provider.TriggerResult{}, api.Errorf(api.KindNoRecipients, "novu: no recipients")
	}

	to := make([]subscriber, len(req.Recipients))
	for i, r := range req.Recipients {
		to[i] = subscriber{SubscriberID: r}
	}
	body, err := json.Marshal(triggerRequest{
		Name:      req.WorkflowKey,
		To:        to,
		Payload:   req.Payload,
		Overrides: req.Overrides,
	})
	if err != nil {
		return provider.TriggerResult{}, api.WrapError(api.KindMalformedPayload, err, "novu: encode trigger")
	}

	var res provider.TriggerResult
	attempts := c.retry.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		res, lastErr = c.trigger(ctx, body)
		if lastErr == nil {
			return res, nil
		}
		if !api.IsKind(lastErr, api.KindProviderTransient) || attempt >= attempts {
			return provider.TriggerResult{}, lastErr
		}
		select {
		case <-ctx.Done():
			return provider.TriggerResult{}, ctx.Err()
		case <-time.After(c.backoff(attempt)):
		}
	}
	return provider.TriggerResult{}, lastErr
}

func (c *Client) trigger(ctx context.Context, body []byte) (provider.TriggerResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/events/trigger", bytes.NewReader(body))
	if err != nil {
		return provider.TriggerResult{}, api.WrapError(api.KindProviderPermanent, err, "novu: build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "ApiKey "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return provider.TriggerResult{}, api.WrapError(classifyTransport(err), err, "novu: trigger")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return provider.TriggerResult{}, statusError(resp)
	}

	var decoded triggerResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return provider.TriggerResult{}, api.WrapError(api.KindProviderTransient, err, "novu: decode response")
	}
	return provider.TriggerResult{
		Acknowledged:  decoded.Data.Acknowledged,
		TransactionID: decoded.Data.TransactionID,
	}, nil
}

// statusError maps a non-2xx response to a transient or permanent error.
// Auth and validation failures never heal on retry; throttling and server
// errors may.
func statusError(resp *http.Response) error {
	kind := api.KindProviderPermanent
	switch {
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode >= 500:
		kind = api.KindProviderTransient
	}
	msg := readAPIMessage(resp.Body)
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return api.Errorf(kind, "novu: HTTP %d: %s", resp.StatusCode, msg)
}

func readAPIMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil {
		return ""
	}
	var decoded apiError
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return ""
	}
	switch m := decoded.Message.(type) {
	case string:
		return m
	case []any:
		parts := make([]string, 0, len(m))
		for _, p := range m {
			if s, ok := p.(string); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "; ")
	}
	return ""
}

func classifyTransport(err error) api.ErrorKind {
	if errors.Is(err, context.Canceled) {
		return api.KindProviderPermanent
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return api.KindProviderTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return api.KindProviderTransient
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return api.KindProviderTransient
	}
	return api.KindProviderTransient
}

func (c *Client) backoff(attempt int) time.Duration {
	d := float64(c.retry.InitialBackoff) * math.Pow(c.retry.BackoffMultiplier, float64(attempt-1))
	if ceil := float64(c.retry.MaxBackoff); c.retry.MaxBackoff > 0 && d > ceil {
		d = ceil
	}
	if c.retry.Jitter > 0 {
		d += d * c.retry.Jitter * (rand.Float64()*2 - 1) //nolint:gosec // jitter needs no crypto rand
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}
