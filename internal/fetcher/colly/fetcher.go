// Package collyfetcher implements the probe fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/lodestone-search/lodestone/internal/engine"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	MaxBodyBytes  int
}

// Fetcher performs plain HTTP fetches with the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

// New builds a Fetcher with a pooled transport shared across fetches.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())
	if cfg.MaxBodyBytes > 0 {
		c.MaxBodySize = cfg.MaxBodyBytes
	}
	return &Fetcher{cfg: cfg, baseCollector: c}
}

// Fetch executes a single HTTP GET. Failures come back as *engine.FetchError
// with the Transient flag set for conditions worth retrying.
func (f *Fetcher) Fetch(ctx context.Context, request engine.FetchRequest) (engine.FetchResponse, error) {
	var (
		result    engine.FetchResponse
		status    int
		fetchErr  error
		responded bool
	)
	start := time.Now()

	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !(f.cfg.RespectRobots && request.RespectRobots)
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	collector.OnRequest(func(r *colly.Request) {
		for key, value := range request.Headers {
			r.Headers.Set(key, value)
		}
	})

	collector.OnResponse(func(r *colly.Response) {
		responded = true
		result = engine.FetchResponse{
			URI:         request.URI,
			FinalURI:    r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			ContentType: r.Headers.Get("Content-Type"),
			Body:        append([]byte(nil), r.Body...),
			Duration:    time.Since(start),
		}
	})

	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(request.URI)
	}()

	select {
	case <-ctx.Done():
		return engine.FetchResponse{}, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case visitErr := <-done:
		if fetchErr == nil && visitErr != nil {
			fetchErr = visitErr
		}
		if fetchErr != nil {
			return engine.FetchResponse{}, classify(request.URI, status, fetchErr)
		}
		if !responded {
			return engine.FetchResponse{}, classify(request.URI, 0, fmt.Errorf("no response received"))
		}
		return result, nil
	}
}

// classify wraps a fetch failure as *engine.FetchError with transience
// derived from the HTTP status or the network error kind.
func classify(uri string, status int, err error) error {
	transient := false
	switch {
	case status == http.StatusTooManyRequests:
		transient = true
	case status >= 500:
		transient = true
	case status >= 400:
		transient = false
	default:
		// No HTTP status means a network-level failure. Timeouts are
		// worth retrying; so are transport errors with no clearer signal.
		var netErr net.Error
		if errors.As(err, &netErr) {
			transient = netErr.Timeout()
		} else {
			transient = true
		}
	}
	return &engine.FetchError{URI: uri, Status: status, Transient: transient, Err: err}
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
