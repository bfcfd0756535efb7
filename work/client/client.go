package client

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"iptv-curator/work/config"

	"go.uber.org/ratelimit"
)

// Max429Wait caps how long a Retry-After header can stall a request.
const Max429Wait = 60 * time.Second

// HeaderSettingClient wraps http.Client to set source headers, pace requests
// and retry 429/5xx responses.
type HeaderSettingClient struct {
	Client      *http.Client
	UserAgent   string
	ReqOrigin   string
	ReqReferrer string
	MaxRetries  int
	RetryDelay  time.Duration
	limiter     ratelimit.Limiter
}

// NewHeaderSettingClient builds a client with the global user agent and no
// pacing. Used for probes and ad-hoc playlist fetches.
func NewHeaderSettingClient(cfg *config.Config) *HeaderSettingClient {
	return &HeaderSettingClient{
		Client:     newHTTPClient(0, 0),
		UserAgent:  cfg.UserAgent,
		RetryDelay: time.Second,
		limiter:    ratelimit.NewUnlimited(),
	}
}

// ForSource builds a client carrying a source's headers, timeout, retry
// policy and request rate.
func ForSource(src *config.SourceConfig) *HeaderSettingClient {
	limiter := ratelimit.NewUnlimited()
	if src.RateLimit > 0 {
		limiter = ratelimit.New(src.RateLimit, ratelimit.WithSlack(src.RateLimit))
	}
	return &HeaderSettingClient{
		Client:      newHTTPClient(src.Timeout, src.MaxConnections),
		UserAgent:   src.UserAgent,
		ReqOrigin:   src.ReqOrigin,
		ReqReferrer: src.ReqReferrer,
		MaxRetries:  src.MaxRetries,
		RetryDelay:  src.RetryDelay,
		limiter:     limiter,
	}
}

// newHTTPClient builds a client; maxConns caps connections per host, 0 means
// unlimited.
func newHTTPClient(timeout time.Duration, maxConns int) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			MaxConnsPerHost:       maxConns,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
		},
	}
}

// Do sets headers, waits for the rate limiter and performs req once.
func (hsc *HeaderSettingClient) Do(req *http.Request) (*http.Response, error) {
	hsc.setHeaders(req)
	hsc.limiter.Take()
	return hsc.Client.Do(req)
}

// Get performs a GET with retries. Caller must close resp.Body when err == nil.
func (hsc *HeaderSettingClient) Get(ctx context.Context, url string) (*http.Response, error) {
	return hsc.DoWithRetry(ctx, http.MethodGet, url)
}

// DoWithRetry performs a body-less request and retries up to MaxRetries times
// on 429 (waiting Retry-After, capped at Max429Wait), on 5xx and on transport
// errors (waiting RetryDelay doubled per attempt). Other 4xx are returned as is.
func (hsc *HeaderSettingClient) DoWithRetry(ctx context.Context, method, url string) (*http.Response, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, url, nil)
		if err != nil {
			return nil, err
		}

		resp, err := hsc.Do(req)
		var wait time.Duration
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			wait = hsc.backoff(attempt)
		case resp.StatusCode == http.StatusTooManyRequests:
			wait = parseRetryAfter(resp.Header.Get("Retry-After"), Max429Wait)
		case resp.StatusCode >= 500:
			wait = hsc.backoff(attempt)
		default:
			return resp, nil
		}

		if attempt >= hsc.MaxRetries {
			if resp != nil {
				return resp, nil
			}
			return nil, lastErr
		}
		if resp != nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (hsc *HeaderSettingClient) backoff(attempt int) time.Duration {
	return hsc.RetryDelay * time.Duration(1<<attempt)
}

func (hsc *HeaderSettingClient) setHeaders(req *http.Request) {
	if hsc.UserAgent != "" {
		req.Header.Set("User-Agent", hsc.UserAgent)
	}
	req.Header.Set("Accept", "*/*")

	if hsc.ReqOrigin != "" {
		req.Header.Set("Origin", hsc.ReqOrigin)
	}
	if hsc.ReqReferrer != "" {
		req.Header.Set("Referer", hsc.ReqReferrer)
	}
}

// parseRetryAfter parses Retry-After (seconds or HTTP-date) capped at limit.
func parseRetryAfter(s string, limit time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Second
	}
	if sec, err := strconv.Atoi(s); err == nil && sec >= 0 {
		return min(time.Duration(sec)*time.Second, limit)
	}
	t, err := time.Parse(time.RFC1123, s)
	if err != nil {
		return time.Second
	}
	return min(max(time.Until(t), 0), limit)
}
