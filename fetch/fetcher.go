// Package fetch issues single listing-page requests and classifies the
// outcome. The only contract callers may rely on is the three-way Status:
// the page was retrieved, the page is permanently gone, or the failure is
// transient and worth another attempt at the next scheduled pass.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
)

// Status classifies a fetch outcome.
type Status int

const (
	// StatusOK means the page body was retrieved.
	StatusOK Status = iota
	// StatusGone means the source signalled permanent removal. Terminal:
	// never retried, never conflated with transient failures.
	StatusGone
	// StatusTransient covers connectivity failures, timeouts and server
	// errors. Callers may retry at the next scheduled pass, not sooner.
	StatusTransient
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusGone:
		return "gone"
	default:
		return "transient"
	}
}

// Fetcher performs one GET per call with a fixed identifying User-Agent
// and a bounded timeout. It holds no state across calls and never retries
// on its own; retry policy belongs to the scheduler.
type Fetcher struct {
	base *colly.Collector
}

// New builds a Fetcher. The collector is configured once; each Fetch runs
// on a clone so per-request callbacks never leak between calls.
func New(userAgent string, timeout time.Duration, respectRobots bool) *Fetcher {
	collector := colly.NewCollector(
		colly.UserAgent(userAgent),
		colly.AllowURLRevisit(),
	)
	collector.SetRequestTimeout(timeout)
	collector.IgnoreRobotsTxt = !respectRobots
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})
	return &Fetcher{base: collector}
}

// WithTransport swaps the HTTP transport on the underlying collector.
// Used by tests to install a mock transport.
func (f *Fetcher) WithTransport(rt http.RoundTripper) {
	f.base.WithTransport(rt)
}

// Fetch issues a single GET and classifies the response. StatusGone is
// returned for explicit removal status codes (404, 410) so callers can
// distinguish "listing removed" from "try again later" without inspecting
// error text.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, Status, error) {
	if err := ctx.Err(); err != nil {
		return nil, StatusTransient, err
	}

	c := f.base.Clone()

	var (
		body       []byte
		statusCode int
		reqErr     error
	)
	c.OnResponse(func(r *colly.Response) {
		statusCode = r.StatusCode
		body = r.Body
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			statusCode = r.StatusCode
		}
		reqErr = err
	})

	visitErr := c.Visit(url)
	if reqErr == nil && statusCode == 0 && visitErr != nil {
		// Visit failed before a request was made (malformed URL and the like).
		return nil, StatusTransient, fmt.Errorf("fetch %s: %w", url, visitErr)
	}

	return classify(body, statusCode, reqErr, url)
}

func classify(body []byte, statusCode int, err error, url string) ([]byte, Status, error) {
	switch statusCode {
	case http.StatusNotFound, http.StatusGone:
		return nil, StatusGone, nil
	}

	if err == nil && statusCode >= 200 && statusCode < 300 {
		return body, StatusOK, nil
	}

	return nil, StatusTransient, fmt.Errorf("fetch %s: %w", url, classifyError(err, statusCode))
}

func classifyError(err error, statusCode int) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}

	if statusCode != 0 {
		wrapped := err
		if wrapped == nil {
			wrapped = fmt.Errorf("http status %d", statusCode)
		}
		if statusCode == http.StatusTooManyRequests {
			return ErrRateLimited{Err: wrapped}
		}
		return ErrServer{StatusCode: statusCode, Err: wrapped}
	}

	if err == nil {
		return fmt.Errorf("no response")
	}
	return err
}
