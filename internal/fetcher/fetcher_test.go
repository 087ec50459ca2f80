package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestRetryable(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"cancelled", fmt.Errorf("visit: %w", context.Canceled), false},
		{"deadline", context.DeadlineExceeded, false},
		{"wrapped deadline", fmt.Errorf("colly fetch canceled: %w", context.DeadlineExceeded), false},
		{"terminated", ErrTerminated, false},
		{"not found", &StatusError{URL: "u", StatusCode: http.StatusNotFound}, false},
		{"forbidden", &StatusError{URL: "u", StatusCode: http.StatusForbidden}, false},
		{"too many requests", &StatusError{URL: "u", StatusCode: http.StatusTooManyRequests}, true},
		{"bad gateway", fmt.Errorf("wrapped: %w", &StatusError{URL: "u", StatusCode: http.StatusBadGateway}), true},
		{"network timeout", fmt.Errorf("dial: %w", timeoutErr{}), true},
		{"connection reset", errors.New("connection reset by peer"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, Retryable(tc.err))
		})
	}
}

func TestStatusErrorMessage(t *testing.T) {
	t.Parallel()
	err := &StatusError{URL: "https://www.bge.de/x", StatusCode: 503}
	assert.Equal(t, "GET https://www.bge.de/x: unexpected status 503", err.Error())
}
