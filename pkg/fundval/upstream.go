package fundval

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxResponseSize limits upstream responses to 1MB to prevent memory exhaustion.
const maxResponseSize = 1 << 20

const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// HTTPDoer is an interface for making HTTP requests. It enables dependency
// injection for testing without network calls.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

type upstreamOptions struct {
	Logger        *slog.Logger
	HTTPClient    HTTPDoer
	RateLimit     float64
	RateBurst     int
	RetryDelay    time.Duration
	FailThreshold int
	FailWindow    time.Duration
	Cooldown      time.Duration
}

// upstream is the shared transport for every fetcher: pacing, timeouts,
// retries and the per-service cooldown breaker.
type upstream struct {
	logger     *slog.Logger
	client     HTTPDoer
	limiter    *rate.Limiter
	retryDelay time.Duration
	sleep      func(context.Context, time.Duration) error

	failThreshold int
	failWindow    time.Duration
	cooldown      time.Duration
	circuitMu     sync.Mutex
	serviceState  map[string]*serviceState
}

type serviceState struct {
	failCount     int
	firstFailAt   time.Time
	cooldownUntil time.Time
}

func newUpstream(opts upstreamOptions) *upstream {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := opts.HTTPClient
	if client == nil {
		// Per-request deadlines come from the caller's context.
		client = &http.Client{}
	}
	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return &upstream{
		logger:        logger,
		client:        client,
		limiter:       limiter,
		retryDelay:    opts.RetryDelay,
		sleep:         sleepContext,
		failThreshold: opts.FailThreshold,
		failWindow:    opts.FailWindow,
		cooldown:      opts.Cooldown,
		serviceState:  map[string]*serviceState{},
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// get issues a GET bounded by timeout. Transport failures and non-2xx
// statuses are reported as ErrUpstreamUnavailable.
func (u *upstream) get(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	if u.limiter != nil {
		if err := u.limiter.Wait(ctx); err != nil {
			return nil, WrapError(ErrCodeUpstreamUnavailable, "rate limiter wait", err)
		}
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, WrapError(ErrCodeInternal, "build request", err)
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Close = true
	resp, err := u.client.Do(req)
	if err != nil {
		return nil, WrapError(ErrCodeUpstreamUnavailable, "request "+url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, NewError(ErrCodeUpstreamUnavailable, fmt.Sprintf("http status %d from %s", resp.StatusCode, url))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, WrapError(ErrCodeUpstreamUnavailable, "read body from "+url, err)
	}
	return body, nil
}

// retry runs fn up to attempts times with a fixed pause between attempts.
// The exhausted error is ErrParse when the last attempt failed on response
// shape and ErrUpstreamUnavailable otherwise.
func (u *upstream) retry(ctx context.Context, service, code string, attempts int, fn func(context.Context) error) error {
	if attempts <= 0 {
		attempts = 1
	}
	if !u.serviceAvailable(service) {
		return NewError(ErrCodeUpstreamUnavailable, fmt.Sprintf("%s cooling down after repeated failures", service))
	}
	var last error
	made := 0
	for attempt := 1; attempt <= attempts; attempt++ {
		made = attempt
		err := fn(ctx)
		if err == nil {
			u.recordServiceSuccess(service)
			return nil
		}
		last = err
		u.logger.Warn("upstream fetch failed", "service", service, "code", code, "attempt", attempt, "max_attempts", attempts, "err", err)
		if ctx.Err() != nil {
			break
		}
		if attempt < attempts {
			if err := u.sleep(ctx, u.retryDelay); err != nil {
				break
			}
		}
	}
	u.recordServiceFailure(service)
	message := fmt.Sprintf("%s %s failed after %d attempts", service, code, made)
	if CodeOf(last) == ErrCodeParse {
		return WrapError(ErrCodeParse, message, last)
	}
	return WrapError(ErrCodeUpstreamUnavailable, message, last)
}

func (u *upstream) serviceAvailable(service string) bool {
	if u.failThreshold <= 0 {
		return true
	}
	u.circuitMu.Lock()
	defer u.circuitMu.Unlock()
	state, ok := u.serviceState[service]
	if !ok {
		return true
	}
	return time.Now().After(state.cooldownUntil)
}

func (u *upstream) recordServiceFailure(service string) {
	if u.failThreshold <= 0 {
		return
	}
	u.circuitMu.Lock()
	defer u.circuitMu.Unlock()
	state := u.serviceState[service]
	now := time.Now()
	if state == nil {
		state = &serviceState{firstFailAt: now}
		u.serviceState[service] = state
	}
	if now.Sub(state.firstFailAt) > u.failWindow {
		state.failCount = 0
		state.firstFailAt = now
	}
	state.failCount++
	if state.failCount >= u.failThreshold {
		state.cooldownUntil = now.Add(u.cooldown)
		u.logger.Warn("upstream entering cooldown", "service", service, "failures", state.failCount, "cooldown", u.cooldown)
	}
}

func (u *upstream) recordServiceSuccess(service string) {
	if u.failThreshold <= 0 {
		return
	}
	u.circuitMu.Lock()
	defer u.circuitMu.Unlock()
	delete(u.serviceState, service)
}
