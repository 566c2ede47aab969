package fundval

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

// doerFunc implements HTTPDoer for testing.
type doerFunc func(*http.Request) (*http.Response, error)

func (f doerFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }

func textResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

func TestUpstreamGetSetsHeaders(t *testing.T) {
	var seen *http.Request
	up := newUpstream(upstreamOptions{Logger: quietLogger(), HTTPClient: doerFunc(func(req *http.Request) (*http.Response, error) {
		seen = req
		return textResponse(http.StatusOK, "ok"), nil
	})})

	body, err := up.get(context.Background(), "http://example.invalid/x", time.Second)
	if err != nil || string(body) != "ok" {
		t.Fatalf("get: %q %v", body, err)
	}
	if seen.Header.Get("User-Agent") != browserUserAgent {
		t.Fatalf("missing browser user agent: %q", seen.Header.Get("User-Agent"))
	}
	if !seen.Close {
		t.Fatalf("expected non-persistent connection")
	}
	if _, ok := seen.Context().Deadline(); !ok {
		t.Fatalf("expected request deadline")
	}
}

func TestUpstreamGetNon2xx(t *testing.T) {
	up := newUpstream(upstreamOptions{Logger: quietLogger(), HTTPClient: doerFunc(func(*http.Request) (*http.Response, error) {
		return textResponse(http.StatusBadGateway, "bad"), nil
	})})
	if _, err := up.get(context.Background(), "http://example.invalid/x", 0); !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
}

func TestUpstreamRetryStopsOnCancel(t *testing.T) {
	up := newUpstream(upstreamOptions{Logger: quietLogger(), RetryDelay: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := up.retry(ctx, "svc", "000001", 3, func(context.Context) error {
		calls++
		cancel()
		return NewError(ErrCodeUpstreamUnavailable, "down")
	})
	if calls != 1 {
		t.Fatalf("expected a single attempt after cancel, got %d", calls)
	}
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
}

func TestUpstreamCooldown(t *testing.T) {
	up := newUpstream(upstreamOptions{
		Logger:        quietLogger(),
		FailThreshold: 2,
		FailWindow:    time.Minute,
		Cooldown:      time.Hour,
	})
	up.sleep = func(context.Context, time.Duration) error { return nil }
	failing := func(context.Context) error { return NewError(ErrCodeUpstreamUnavailable, "down") }

	_ = up.retry(context.Background(), "svc", "a", 1, failing)
	if !up.serviceAvailable("svc") {
		t.Fatalf("expected service available after one failure")
	}
	_ = up.retry(context.Background(), "svc", "a", 1, failing)
	if up.serviceAvailable("svc") {
		t.Fatalf("expected cooldown after threshold")
	}

	calls := 0
	err := up.retry(context.Background(), "svc", "a", 3, func(context.Context) error {
		calls++
		return nil
	})
	if calls != 0 || !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("expected short-circuit during cooldown, calls=%d err=%v", calls, err)
	}
	if !up.serviceAvailable("other") {
		t.Fatalf("cooldown must be per service")
	}

	up.recordServiceSuccess("svc")
	if !up.serviceAvailable("svc") {
		t.Fatalf("expected success to clear cooldown")
	}
}

func TestUpstreamBreakerDisabledByDefault(t *testing.T) {
	up := newUpstream(upstreamOptions{Logger: quietLogger()})
	for i := 0; i < 10; i++ {
		up.recordServiceFailure("svc")
	}
	if !up.serviceAvailable("svc") {
		t.Fatalf("breaker should be disabled without a threshold")
	}
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := sleepContext(context.Background(), 0); err != nil {
		t.Fatalf("zero sleep: %v", err)
	}
}
