package services_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"voice2action/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrTransient, "graph", "list", "request failed", base)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"graph", "list", "request failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapWithoutMarkerDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("plain"), true},
		{services.Wrap(services.ErrTransient, "s", "op", "", nil), true},
		{services.Wrap(services.ErrTimeout, "s", "op", "", nil), true},
		{services.Wrap(services.ErrPermanent, "s", "op", "", nil), false},
		{services.Wrap(services.ErrValidation, "s", "op", "", nil), false},
		{services.Wrap(services.ErrConfiguration, "s", "op", "", nil), false},
		{services.Wrap(services.ErrNotFound, "s", "op", "", nil), false},
		{fmt.Errorf("step: %w", context.Canceled), false},
	}
	for _, tc := range cases {
		if got := services.Retryable(tc.err); got != tc.want {
			t.Fatalf("Retryable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestStatusMarker(t *testing.T) {
	cases := map[int]error{
		200: nil,
		204: nil,
		400: services.ErrPermanent,
		401: services.ErrConfiguration,
		404: services.ErrNotFound,
		409: services.ErrPermanent,
		429: services.ErrTransient,
		500: services.ErrTransient,
		503: services.ErrTransient,
	}
	for code, want := range cases {
		got := services.StatusMarker(code)
		if got != want {
			t.Fatalf("StatusMarker(%d) = %v, want %v", code, got, want)
		}
	}
}

func TestFailureKind(t *testing.T) {
	if kind := services.FailureKind(services.Wrap(services.ErrNotFound, "", "", "x", nil)); kind != "not_found" {
		t.Fatalf("unexpected kind %q", kind)
	}
	if kind := services.FailureKind(errors.New("x")); kind != "transient" {
		t.Fatalf("unexpected kind %q", kind)
	}
	if kind := services.FailureKind(nil); kind != "" {
		t.Fatalf("expected empty kind, got %q", kind)
	}
}
