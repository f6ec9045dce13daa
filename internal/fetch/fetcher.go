// Package fetch performs the blocking GET requests used for index queries
// and artifact downloads. It wraps a synchronous colly collector so every
// request carries the configured User-Agent and returns status and body.
package fetch

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const responseKey = "response"

// Options configures a Fetcher
type Options struct {
	UserAgent         string
	Timeout           time.Duration
	RequestsPerSecond float64 // <= 0 disables throttling
	MaxBodyBytes      int
}

// Response is the outcome of a completed request
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports whether the status is 2xx
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// StatusError is returned by callers that require a 2xx response
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d for %s", e.StatusCode, e.URL)
}

// Fetcher issues GET requests one at a time
type Fetcher struct {
	collector *colly.Collector
	limiter   *rate.Limiter
	log       logrus.FieldLogger
}

// New creates a Fetcher. ctx bounds every request issued by it.
func New(ctx context.Context, opts Options, log logrus.FieldLogger) *Fetcher {
	if log == nil {
		log = logrus.StandardLogger()
	}

	collectorOpts := []colly.CollectorOption{
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.StdlibContext(ctx),
	}
	if opts.UserAgent != "" {
		collectorOpts = append(collectorOpts, colly.UserAgent(opts.UserAgent))
	}
	if opts.MaxBodyBytes > 0 {
		collectorOpts = append(collectorOpts, colly.MaxBodySize(opts.MaxBodyBytes))
	}

	c := colly.NewCollector(collectorOpts...)
	if opts.Timeout > 0 {
		c.SetRequestTimeout(opts.Timeout)
	}

	// Stash the response on the per-request context, read back after Request returns
	c.OnResponse(func(r *colly.Response) {
		r.Ctx.Put(responseKey, &Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Header:     headerOf(r),
			Body:       r.Body,
		})
	})

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}

	return &Fetcher{
		collector: c,
		limiter:   rate.NewLimiter(limit, 1),
		log:       log.WithField("component", "fetch"),
	}
}

// Get fetches url. Non-2xx responses are returned, not treated as errors;
// err is set only for transport-level failures.
func (f *Fetcher) Get(ctx context.Context, url string) (*Response, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	reqCtx := colly.NewContext()
	if err := f.collector.Request(http.MethodGet, url, nil, reqCtx, nil); err != nil {
		return nil, fmt.Errorf("get %s: %w", url, err)
	}

	resp, ok := reqCtx.GetAny(responseKey).(*Response)
	if !ok {
		return nil, fmt.Errorf("get %s: no response received", url)
	}

	f.log.Debugf("GET %s -> %d (%d bytes, %v)", url, resp.StatusCode, len(resp.Body), time.Since(start).Round(time.Millisecond))
	return resp, nil
}

func headerOf(r *colly.Response) http.Header {
	if r.Headers == nil {
		return http.Header{}
	}
	return r.Headers.Clone()
}
