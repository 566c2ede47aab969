package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"fundval/pkg/fundval"
)

func TestWriteSuccess(t *testing.T) {
	rr := httptest.NewRecorder()
	writeSuccess(rr, map[string]string{"ok": "yes"})

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp Response
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	data, ok := resp.Data.(map[string]any)
	if resp.Code != 0 || !ok || data["ok"] != "yes" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestWriteErrorResponse(t *testing.T) {
	t.Run("wrapped structured error", func(t *testing.T) {
		rr := httptest.NewRecorder()
		err := fmt.Errorf("fund 000001: %w", fundval.NewError(fundval.ErrCodeCacheUnavailable, "store down"))
		writeErrorResponse(rr, http.StatusInternalServerError, err)
		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", rr.Code)
		}
		resp := decodeError(t, rr)
		if resp.ErrorCode != string(fundval.ErrCodeCacheUnavailable) || resp.Code != http.StatusServiceUnavailable {
			t.Fatalf("unexpected response: %+v", resp)
		}
	})

	t.Run("plain error", func(t *testing.T) {
		rr := httptest.NewRecorder()
		writeErrorResponse(rr, http.StatusBadRequest, errors.New("bad input"))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", rr.Code)
		}
		if resp := decodeError(t, rr); resp.ErrorCode != "" || resp.Message != "bad input" {
			t.Fatalf("unexpected response: %+v", resp)
		}
	})
}

func TestMapErrorCodeToHTTPStatus(t *testing.T) {
	tests := map[fundval.ErrorCode]int{
		fundval.ErrCodeInvalidInput:        http.StatusBadRequest,
		fundval.ErrCodeUpstreamUnavailable: http.StatusBadGateway,
		fundval.ErrCodeParse:               http.StatusBadGateway,
		fundval.ErrCodeCacheUnavailable:    http.StatusServiceUnavailable,
		fundval.ErrCodeInternal:            http.StatusInternalServerError,
		fundval.ErrorCode("UNKNOWN"):       http.StatusInternalServerError,
	}
	for code, want := range tests {
		if got := mapErrorCodeToHTTPStatus(code); got != want {
			t.Fatalf("%s: expected %d, got %d", code, want, got)
		}
	}
}
