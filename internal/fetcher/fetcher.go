// Package fetcher defines the page transport used by portal units. The
// colly subpackage fetches plain HTTP; headless renders with Chrome.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Renderer names accepted in configuration.
const (
	RendererHTTP     = "http"
	RendererHeadless = "headless"
)

// Request describes one page to load.
type Request struct {
	URL     string
	Headers http.Header
	// WaitSelector is a CSS selector the headless renderer waits for before
	// capturing the DOM. Ignored by the HTTP fetcher.
	WaitSelector string
}

// Response is a fetched page.
type Response struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// Fetcher loads pages.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (Response, error)
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.StatusCode)
}

// ErrTerminated is returned by a fetcher whose browser was killed.
var ErrTerminated = errors.New("fetcher terminated")

// Retryable reports whether a failed fetch is worth another attempt. HTTP
// 429 and 5xx responses and transport errors are; other statuses,
// cancellation, an expired deadline and a killed browser are not.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, ErrTerminated) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= http.StatusInternalServerError
	}
	// Transport failures: resets, timeouts, DNS hiccups.
	return true
}
