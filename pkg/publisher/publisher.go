// Package publisher PUTs signed IPNS records to a delegated-routing HTTP
// endpoint, retrying with exponential backoff and honoring Retry-After on
// rate-limit responses.
package publisher

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/FSM1/cipherbox-coordinator/internal/telemetry"
)

// MaxAttempts is the default attempt budget for a single publish call.
const MaxAttempts = 3

// RetryBase is the base exponential-backoff unit between non-429 retries.
const RetryBase = 1 * time.Second

// ErrRateLimited is returned when every attempt observed a 429 response.
var ErrRateLimited = errors.New("publisher: rate limited by delegated routing")

// ErrPublishFailed wraps the last non-2xx or transport error observed after
// attempts were exhausted.
type ErrPublishFailed struct {
	Err error
}

func (e *ErrPublishFailed) Error() string { return "publish failed: " + e.Err.Error() }
func (e *ErrPublishFailed) Unwrap() error { return e.Err }

// Publisher is a client for the delegated-routing IPNS record endpoint.
type Publisher struct {
	baseURL     string
	httpClient  *http.Client
	maxAttempts int
	retryBase   time.Duration

	sleep func(time.Duration) // overridable for tests
}

// Option configures a Publisher away from its defaults.
type Option func(*Publisher)

// WithMaxAttempts overrides the retry budget.
func WithMaxAttempts(n int) Option {
	return func(p *Publisher) { p.maxAttempts = n }
}

// WithRetryBase overrides the exponential-backoff base unit.
func WithRetryBase(d time.Duration) Option {
	return func(p *Publisher) { p.retryBase = d }
}

// NewPublisher creates a Publisher targeting the given delegated-routing base URL.
func NewPublisher(baseURL string, opts ...Option) *Publisher {
	p := &Publisher{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{},
		maxAttempts: MaxAttempts,
		retryBase:   RetryBase,
		sleep:       time.Sleep,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish PUTs the base64-encoded signed record for ipnsName, retrying per
// the spec's policy: 2xx succeeds immediately; 429 sleeps for Retry-After (or
// an exponential fallback) and uses up one attempt, but is not classed as a
// failure; any other non-2xx or transport error also uses up one attempt,
// is classed as a failure, and backs off exponentially. After exhaustion the last error is surfaced, collapsed
// to ErrRateLimited if every observed attempt was a 429.
func (p *Publisher) Publish(ctx context.Context, ipnsName, signedRecordB64 string) error {
	record, err := base64.StdEncoding.DecodeString(signedRecordB64)
	if err != nil {
		return fmt.Errorf("decoding signed record: %w", err)
	}

	url := fmt.Sprintf("%s/routing/v1/ipns/%s", p.baseURL, ipnsName)

	var lastErr error
	onlyRateLimited := true
	attempt := 0

	for attempt < p.maxAttempts {
		status, retryAfter, reqErr := p.put(ctx, url, record)
		if reqErr == nil && status >= 200 && status < 300 {
			return nil
		}

		if reqErr == nil && status == http.StatusTooManyRequests {
			delay := retryAfter
			if delay <= 0 {
				delay = p.retryBase << attempt
			}
			lastErr = fmt.Errorf("rate limited (status 429)")
			telemetry.PublisherRetriesTotal.WithLabelValues("rate_limited").Inc()
			p.sleep(delay)
			attempt++ // counts against the total attempt budget, not the failure classification
			continue
		}

		onlyRateLimited = false
		attempt++
		if reqErr != nil {
			lastErr = reqErr
		} else {
			lastErr = fmt.Errorf("unexpected status %d", status)
		}
		if attempt < p.maxAttempts {
			telemetry.PublisherRetriesTotal.WithLabelValues("error").Inc()
			p.sleep(p.retryBase << (attempt - 1))
		}
	}

	if onlyRateLimited {
		return ErrRateLimited
	}
	return &ErrPublishFailed{Err: lastErr}
}

// put issues one PUT attempt, returning the response status and any
// Retry-After duration present on the response.
func (p *Publisher) put(ctx context.Context, url string, record []byte) (status int, retryAfter time.Duration, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(record))
	if err != nil {
		return 0, 0, fmt.Errorf("creating publish request: %w", err)
	}
	req.Header.Set("Content-Type", "application/vnd.ipfs.ipns-record")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("executing publish request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	}
	return resp.StatusCode, retryAfter, nil
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		d := time.Until(t)
		if d > 0 {
			return d
		}
	}
	return 0
}
