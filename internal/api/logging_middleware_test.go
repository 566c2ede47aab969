package api

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"fundval/pkg/fundval"
)

func bufferedLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

func TestRouterLogsRequestCompleted(t *testing.T) {
	logger, buf := bufferedLogger()
	router := NewRouter(&stubValuer{}, RouterOptions{Logger: logger})

	rr := doRequest(router, http.MethodGet, "/api/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected request id header")
	}
	logs := buf.String()
	for _, want := range []string{"http request completed", "method=GET", "path=/api/health", "status=200", "request_id=", "route=/api/health"} {
		if !strings.Contains(logs, want) {
			t.Fatalf("expected %q in logs, got %q", want, logs)
		}
	}
}

func TestRouterLogsWarnWithErrorMessage(t *testing.T) {
	logger, buf := bufferedLogger()
	router := NewRouter(&stubValuer{}, RouterOptions{Logger: logger})

	rr := doRequest(router, http.MethodGet, "/api/funds/000001/history?days=abc", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	logs := buf.String()
	if !strings.Contains(logs, "level=WARN") || !strings.Contains(logs, "status=400") {
		t.Fatalf("expected warn line, got %q", logs)
	}
	if !strings.Contains(logs, "error_message=") || !strings.Contains(logs, `query="days=abc"`) || !strings.Contains(logs, "fund_code=000001") {
		t.Fatalf("expected error message, query and fund code fields, got %q", logs)
	}
}

func TestRouterLogsErrorForUpstreamFailure(t *testing.T) {
	logger, buf := bufferedLogger()
	router := NewRouter(&stubValuer{snapshotErr: fundval.NewError(fundval.ErrCodeUpstreamUnavailable, "down")}, RouterOptions{Logger: logger})

	doRequest(router, http.MethodGet, "/api/funds/000001", "")
	if !strings.Contains(buf.String(), "level=ERROR") {
		t.Fatalf("expected error level for 5xx, got %q", buf.String())
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	logger, buf := bufferedLogger()
	router := NewRouter(&stubValuer{panicOn: "PANIC"}, RouterOptions{Logger: logger})

	rr := doRequest(router, http.MethodGet, "/api/funds/PANIC", "")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if resp := decodeError(t, rr); resp.ErrorCode != "INTERNAL_ERROR" {
		t.Fatalf("unexpected error response: %+v", resp)
	}
	logs := buf.String()
	if !strings.Contains(logs, "panic recovered") || !strings.Contains(logs, "panic=boom") {
		t.Fatalf("expected panic log, got %q", logs)
	}
	if !strings.Contains(logs, "status=500") {
		t.Fatalf("expected request line with status 500, got %q", logs)
	}
}

func TestCORSPreflight(t *testing.T) {
	router := NewRouter(&stubValuer{}, RouterOptions{Logger: quietLogger(), AllowedOrigins: []string{"http://app.example"}})
	req := newPreflight("http://app.example")
	rr := serve(router, req)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://app.example" {
		t.Fatalf("expected allowed origin, got %q", got)
	}

	rr = serve(router, newPreflight("http://evil.example"))
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("expected no CORS header for a foreign origin, got %q", got)
	}
}

func newPreflight(origin string) *http.Request {
	req := httptest.NewRequest(http.MethodOptions, "/api/portfolio/calculate", nil)
	req.Header.Set("Origin", origin)
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	return req
}

func serve(router http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}
