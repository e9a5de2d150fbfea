// Package delivery posts encoded submissions to the remote webhook.
package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kalambet/incidentq/internal/payload"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "incidentq/1"
	maxDetailBytes   = 512
)

// FingerprintHeader carries payload.Payload.Fingerprint on every request.
const FingerprintHeader = "X-Submission-Fingerprint"

// Kind classifies the result of a single delivery attempt.
type Kind int

const (
	// Delivered means the endpoint answered 2xx.
	Delivered Kind = iota + 1
	// Rejected means the endpoint answered with any other status.
	Rejected
	// Unreachable means no HTTP response was received.
	Unreachable
)

func (k Kind) String() string {
	switch k {
	case Delivered:
		return "delivered"
	case Rejected:
		return "rejected"
	case Unreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// Outcome is the result of one Send.
type Outcome struct {
	Kind       Kind
	StatusCode int
	// Status is the reason phrase for StatusCode, e.g. "Bad Request".
	Status string
	// Detail holds the start of the response body for Rejected outcomes.
	Detail string
	// Err is the transport error for Unreachable outcomes.
	Err error
}

// OK reports whether the submission was accepted.
func (o Outcome) OK() bool { return o.Kind == Delivered }

func (o Outcome) String() string {
	switch o.Kind {
	case Delivered:
		return fmt.Sprintf("delivered (HTTP %d)", o.StatusCode)
	case Rejected:
		return fmt.Sprintf("rejected (HTTP %d %s)", o.StatusCode, o.Status)
	default:
		return fmt.Sprintf("unreachable: %v", o.Err)
	}
}

// Client sends payloads to one webhook URL. It never retries.
type Client struct {
	url        string
	userAgent  string
	httpClient *http.Client
}

// NewClient creates a client for url with the given network timeout. A zero
// timeout uses the default.
func NewClient(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return NewClientWithHTTP(url, &http.Client{Timeout: timeout})
}

// NewClientWithHTTP creates a client with a caller-supplied HTTP client (for testing).
func NewClientWithHTTP(url string, hc *http.Client) *Client {
	return &Client{
		url:        strings.TrimSpace(url),
		userAgent:  defaultUserAgent,
		httpClient: hc,
	}
}

// WithUserAgent overrides the User-Agent header. Empty keeps the default.
func (c *Client) WithUserAgent(ua string) *Client {
	if ua != "" {
		c.userAgent = ua
	}
	return c
}

// URL returns the webhook address.
func (c *Client) URL() string { return c.url }

// Send performs exactly one POST of p.
func (c *Client) Send(ctx context.Context, p payload.Payload) Outcome {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(p.Body))
	if err != nil {
		return Outcome{Kind: Unreachable, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Content-Type", p.ContentType)
	req.Header.Set("User-Agent", c.userAgent)
	if p.Fingerprint != "" {
		req.Header.Set(FingerprintHeader, p.Fingerprint)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Outcome{Kind: Unreachable, Err: fmt.Errorf("executing request: %w", err)}
	}
	defer resp.Body.Close()

	out := Outcome{StatusCode: resp.StatusCode, Status: statusText(resp)}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		out.Kind = Delivered
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return out
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxDetailBytes))
	out.Kind = Rejected
	out.Detail = string(detail)
	return out
}

func statusText(resp *http.Response) string {
	if t := http.StatusText(resp.StatusCode); t != "" {
		return t
	}
	return strings.TrimSpace(strings.TrimPrefix(resp.Status, fmt.Sprint(resp.StatusCode)))
}
