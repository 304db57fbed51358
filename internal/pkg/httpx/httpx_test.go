package httpx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestIsRetryableHTTPStatus(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{200, false}, {400, false}, {404, false},
		{408, true}, {429, true}, {500, true}, {503, true}, {599, true},
	}
	for _, tc := range cases {
		if got := IsRetryableHTTPStatus(tc.code); got != tc.want {
			t.Fatalf("code=%d: want=%v got=%v", tc.code, tc.want, got)
		}
	}
}

func TestIsRetryableError(t *testing.T) {
	if !IsRetryableError(context.DeadlineExceeded) {
		t.Fatalf("deadline exceeded should be retryable")
	}
	if IsRetryableError(context.Canceled) {
		t.Fatalf("cancellation should not be retryable")
	}
	if IsRetryableError(errors.New("plain")) {
		t.Fatalf("plain error should not be retryable")
	}
	wrapped := fmt.Errorf("call failed: %w", &StatusError{Status: 502, Body: "bad gateway"})
	if !IsRetryableError(wrapped) {
		t.Fatalf("wrapped 502 should be retryable")
	}
	if IsRetryableError(&StatusError{Status: 401}) {
		t.Fatalf("401 should not be retryable")
	}
}

func TestRetryAfterDuration(t *testing.T) {
	resp := &http.Response{Header: http.Header{"Retry-After": []string{"3"}}}
	if got := RetryAfterDuration(resp, time.Second, 10*time.Second); got != 3*time.Second {
		t.Fatalf("retry-after header: want=3s got=%v", got)
	}
	if got := RetryAfterDuration(resp, time.Second, 2*time.Second); got != 2*time.Second {
		t.Fatalf("retry-after cap: want=2s got=%v", got)
	}
	if got := RetryAfterDuration(nil, time.Second, 0); got != time.Second {
		t.Fatalf("fallback: want=1s got=%v", got)
	}
}
