package scrapers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog/log"

	"github.com/109isaque10/scraped/metrics"
)

const (
	DefaultMaxRetries        = 5
	DefaultBaseDelay         = time.Second
	DefaultMaxDelay          = 60 * time.Second
	DefaultJitter            = 0.2
	DefaultRateLimitCooldown = 5 * time.Second
	DefaultRequestTimeout    = 20 * time.Second

	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:146.0) Gecko/20100101 Firefox/146.0"
	maxPageBytes     = 20 << 20
)

var (
	// ErrRetriesExhausted means a page kept failing with retryable errors
	ErrRetriesExhausted = errors.New("retry budget exhausted")
	// ErrParseMismatch means a page did not have the shape the source parser expects
	ErrParseMismatch = errors.New("parse mismatch")
)

// HardStopError is returned for statuses that retrying cannot fix, such as 404
type HardStopError struct {
	URL        string
	StatusCode int
}

func (e *HardStopError) Error() string {
	return fmt.Sprintf("hard stop: status %d for %s", e.StatusCode, e.URL)
}

// IsHardStop reports whether err should stop the adapter instead of moving on
func IsHardStop(err error) bool {
	var hs *HardStopError
	return errors.As(err, &hs) || errors.Is(err, ErrParseMismatch)
}

// statusError is a retryable http status
type statusError struct {
	code       int
	retryAfter time.Duration
}

func (e *statusError) Error() string {
	return fmt.Sprintf("retryable status %d", e.code)
}

// FetchOptions tune retries for one source
type FetchOptions struct {
	MaxRetries        uint
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	Jitter            float64
	RateLimitCooldown time.Duration
	Timeout           time.Duration
	Headers           map[string]string
}

func (o FetchOptions) withDefaults() FetchOptions {
	if o.MaxRetries == 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.BaseDelay == 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	if o.MaxDelay == 0 {
		o.MaxDelay = DefaultMaxDelay
	}
	if o.Jitter == 0 {
		o.Jitter = DefaultJitter
	}
	if o.RateLimitCooldown == 0 {
		o.RateLimitCooldown = DefaultRateLimitCooldown
	}
	if o.Timeout == 0 {
		o.Timeout = DefaultRequestTimeout
	}
	return o
}

// backoff returns base*2^n with jitter, capped at MaxDelay. A 429 adds the cooldown on top.
func (o FetchOptions) backoff(n uint, err error) time.Duration {
	exp := float64(o.BaseDelay) * float64(uint64(1)<<min(n, 30))
	if o.Jitter > 0 {
		exp *= 1 + o.Jitter*(2*rand.Float64()-1)
	}
	delay := time.Duration(exp)
	if delay > o.MaxDelay {
		delay = o.MaxDelay
	}

	var se *statusError
	if errors.As(err, &se) && se.code == http.StatusTooManyRequests {
		delay += max(o.RateLimitCooldown, min(se.retryAfter, o.MaxDelay))
	}
	return delay
}

// Fetcher issues page requests with retries. Retry state lives in each call.
type Fetcher struct {
	client    *http.Client
	userAgent string
}

func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}
	return &Fetcher{client: client, userAgent: defaultUserAgent}
}

// Client is the transport shared with link resolution
func (f *Fetcher) Client() *http.Client {
	return f.client
}

// FetchPage GETs url, retrying transport errors, 429 and 5xx. Any other non 2xx
// status returns a *HardStopError without retrying.
func (f *Fetcher) FetchPage(ctx context.Context, url string, opts FetchOptions) ([]byte, error) {
	opts = opts.withDefaults()

	var body []byte
	attempts := 0
	err := retry.Do(
		func() error {
			attempts++
			b, err := f.fetchOnce(ctx, url, opts)
			if err != nil {
				return err
			}
			body = b
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(opts.MaxRetries+1),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return ctx.Err() == nil && isRetryable(err)
		}),
		retry.DelayType(func(n uint, err error, _ *retry.Config) time.Duration {
			return opts.backoff(n, err)
		}),
		retry.OnRetry(func(n uint, err error) {
			metrics.FetchRetries.Inc()
			log.Debug().Err(err).Str("url", url).Uint("attempt", n+1).Msg("page fetch failed, retrying")
		}),
	)
	if err == nil {
		return body, nil
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if !isRetryable(err) {
		return nil, err
	}
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, attempts, err)
}

func (f *Fetcher) fetchOnce(ctx context.Context, url string, opts FetchOptions) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &HardStopError{URL: url}
	}
	req.Header.Set("User-Agent", f.userAgent)
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &statusError{code: resp.StatusCode, retryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &HardStopError{URL: url, StatusCode: resp.StatusCode}
	}

	return io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var hs *HardStopError
	return !errors.As(err, &hs) && !errors.Is(err, ErrParseMismatch)
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t)
	}
	return 0
}
