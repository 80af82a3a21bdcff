// Package fetch implements the shared HTTP client used by every scraper. It
// enforces per-source concurrency, politeness delay, retries and timeouts on top
// of a colly collector.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/crag-crawler/internal/harvest"
	"github.com/JakeFAU/crag-crawler/internal/metrics"
)

// Config holds the global policy and per-source overrides.
type Config struct {
	Defaults Policy
	Sources  map[string]Policy
	// Transport replaces the pooled HTTP transport, mainly for tests.
	Transport http.RoundTripper
}

// Client implements harvest.Fetcher.
type Client struct {
	cfg       Config
	transport http.RoundTripper
	gates     *gateSet
	logger    *zap.Logger
	now       func() time.Time
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// attemptResult is written by collector callbacks for a single attempt.
type attemptResult struct {
	response harvest.FetchResponse
	err      error
}

// New builds a Client. A nil logger disables logging.
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.Defaults = cfg.Defaults.WithDefaults(DefaultPolicy())
	transport := cfg.Transport
	if transport == nil {
		transport = newHTTPTransport()
	}
	c := &Client{
		cfg:       cfg,
		transport: transport,
		logger:    logger.Named("fetch"),
		now:       time.Now,
	}
	c.gates = newGateSet(c.buildGate)
	return c
}

// PolicyFor returns the effective policy for a source.
func (c *Client) PolicyFor(source string) Policy {
	if override, ok := c.cfg.Sources[source]; ok {
		return override.WithDefaults(c.cfg.Defaults)
	}
	return c.cfg.Defaults
}

func (c *Client) buildGate(source string) *gate {
	policy := c.PolicyFor(source)
	collector := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.UserAgent(policy.UserAgent),
	)
	collector.IgnoreRobotsTxt = !policy.ObeyRobots()
	// Timeout and transport live on the backend shared by every clone.
	collector.WithTransport(c.transport)
	collector.SetRequestTimeout(policy.Timeout)
	return &gate{
		policy:    policy,
		retry:     newRetryPolicy(policy),
		slots:     semaphore.NewWeighted(int64(max(policy.Concurrency, 1))),
		limiter:   newLimiter(policy),
		collector: collector,
	}
}

// Fetch performs a GET with the source's policy. It returns a response with a
// status below 400 or a *harvest.FetchError.
func (c *Client) Fetch(ctx context.Context, request harvest.FetchRequest) (harvest.FetchResponse, error) {
	target, err := buildURL(request.URL, request.Query)
	if err != nil {
		return harvest.FetchResponse{}, &harvest.FetchError{
			Source: request.Source, URL: request.URL, Kind: harvest.FetchClient, Err: err,
		}
	}
	g := c.gates.get(request.Source)
	logger := c.logger.With(zap.String("source", request.Source), zap.String("url", target))
	start := c.now()

	var (
		lastStatus int
		lastErr    error
	)
	for attempt := 1; ; attempt++ {
		if err := g.acquire(ctx); err != nil {
			return harvest.FetchResponse{}, c.fail(start, request.Source, target, lastStatus, attempt-1, harvest.FetchCanceled, err)
		}
		res, err := c.attempt(ctx, g, target, request.Headers)
		g.release()

		if err == nil && res.StatusCode < http.StatusBadRequest {
			res.Attempts = attempt
			res.Duration = c.now().Sub(start)
			metrics.ObserveFetch(request.Source, metrics.FetchOutcomeSuccess, res.Duration)
			return res, nil
		}
		lastStatus, lastErr = res.StatusCode, err
		if lastErr == nil {
			lastErr = fmt.Errorf("unexpected status %d", res.StatusCode)
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return harvest.FetchResponse{}, c.fail(start, request.Source, target, lastStatus, attempt, harvest.FetchCanceled, ctxErr)
		}
		retryable := transientStatus(res.StatusCode)
		if res.StatusCode == 0 {
			retryable = transientError(err)
		}
		if !retryable {
			return harvest.FetchResponse{}, c.fail(start, request.Source, target, lastStatus, attempt, harvest.FetchClient, lastErr)
		}
		if attempt >= g.retry.maxAttempts {
			return harvest.FetchResponse{}, c.fail(start, request.Source, target, lastStatus, attempt, harvest.FetchExhausted, lastErr)
		}

		delay := g.retry.waitFor(attempt, res.StatusCode, res.Headers, c.now())
		metrics.IncFetchRetry(request.Source)
		logger.Debug("retrying fetch",
			zap.Int("attempt", attempt),
			zap.Int("status", res.StatusCode),
			zap.Duration("delay", delay),
			zap.Error(lastErr),
		)
		if err := sleepWithContext(ctx, delay); err != nil {
			return harvest.FetchResponse{}, c.fail(start, request.Source, target, lastStatus, attempt, harvest.FetchCanceled, err)
		}
	}
}

func (c *Client) fail(
	start time.Time,
	source, target string,
	status, attempts int,
	kind harvest.FetchErrorKind,
	err error,
) *harvest.FetchError {
	outcome := metrics.FetchOutcomeError
	if kind == harvest.FetchCanceled {
		outcome = metrics.FetchOutcomeCanceled
	}
	metrics.ObserveFetch(source, outcome, c.now().Sub(start))
	return &harvest.FetchError{
		Source:     source,
		URL:        target,
		StatusCode: status,
		Attempts:   attempts,
		Kind:       kind,
		Err:        err,
	}
}

// attempt runs one request through a clone of the source collector. The
// returned response carries the status even when err is nil.
func (c *Client) attempt(ctx context.Context, g *gate, target string, headers http.Header) (harvest.FetchResponse, error) {
	result := &attemptResult{}
	collector := g.collector.Clone()
	configureCollectorHooks(collector, headers, c.now(), result)
	if err := runCollector(ctx, collector, target); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// The visit goroutine may still write to result.
			return harvest.FetchResponse{}, err
		}
		if result.response.StatusCode != 0 {
			return result.response, nil
		}
		return harvest.FetchResponse{}, err
	}
	if result.err != nil && result.response.StatusCode == 0 {
		return harvest.FetchResponse{}, result.err
	}
	return result.response, nil
}

func configureCollectorHooks(hooks collectorHooks, headers http.Header, start time.Time, result *attemptResult) {
	hooks.OnRequest(func(r *colly.Request) {
		copyHeaders(headers, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		result.response = harvest.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    cloneHeader(r.Headers),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		result.err = err
		if r != nil && r.StatusCode != 0 && r.Request != nil {
			result.response = harvest.FetchResponse{
				URL:        r.Request.URL.String(),
				StatusCode: r.StatusCode,
				Headers:    cloneHeader(r.Headers),
				Body:       append([]byte(nil), r.Body...),
				Duration:   time.Since(start),
			}
		}
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, target string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func copyHeaders(headers http.Header, r *colly.Request) {
	if headers == nil || r.Headers == nil {
		return
	}
	for key, values := range headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func cloneHeader(h *http.Header) http.Header {
	if h == nil {
		return http.Header{}
	}
	return h.Clone()
}

func buildURL(raw string, query url.Values) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("parse url %q: absolute http(s) url required", raw)
	}
	if len(query) > 0 {
		merged := u.Query()
		for key, values := range query {
			merged[key] = append([]string(nil), values...)
		}
		u.RawQuery = merged.Encode()
	}
	return u.String(), nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
