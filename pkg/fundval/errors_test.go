package fundval

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorClassification(t *testing.T) {
	base := errors.New("dial tcp: timeout")
	err := WrapError(ErrCodeUpstreamUnavailable, "quote 000001", base)

	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("expected match on code")
	}
	if errors.Is(err, ErrParse) {
		t.Fatalf("unexpected match on a different code")
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped cause to be reachable")
	}
	if err.Error() != "UPSTREAM_UNAVAILABLE: quote 000001: dial tcp: timeout" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if NewError(ErrCodeParse, "bad").Error() != "PARSE_ERROR: bad" {
		t.Fatalf("unexpected message without cause")
	}
}

func TestCodeOf(t *testing.T) {
	inner := NewError(ErrCodeParse, "shape")
	outer := fmt.Errorf("context: %w", WrapError(ErrCodeUpstreamUnavailable, "retries", inner))
	if CodeOf(outer) != ErrCodeUpstreamUnavailable {
		t.Fatalf("expected outermost code, got %s", CodeOf(outer))
	}
	if CodeOf(errors.New("plain")) != "" || CodeOf(nil) != "" {
		t.Fatalf("expected empty code for unclassified errors")
	}
}
