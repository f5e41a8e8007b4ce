package main

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"voice2action/internal/preflight"
)

func TestRenderStatusLineNoColor(t *testing.T) {
	got := renderStatusLine("Token", statusError, "expired", false)
	want := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, "Token:", "[ERROR] expired")
	if got != want {
		t.Fatalf("renderStatusLine mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRenderStatusLineWithColor(t *testing.T) {
	got := renderStatusLine("Token", statusOK, "present", true)
	if !strings.HasPrefix(got, ansiGreen) {
		t.Fatalf("expected green prefix, got %q", got)
	}
	if !strings.HasSuffix(got, ansiReset) {
		t.Fatalf("expected reset suffix, got %q", got)
	}
}

func TestWriteCheckResults(t *testing.T) {
	var buf bytes.Buffer
	ok := writeCheckResults(&buf, "Preflight", []preflight.Result{
		{Name: "State directory", Passed: true, Detail: "/tmp/state"},
		{Name: "Transcription", Detail: "missing api key"},
	})
	if ok {
		t.Fatal("expected failure to be reported")
	}
	out := buf.String()
	if !strings.Contains(out, "== Preflight ==") {
		t.Fatalf("missing header: %q", out)
	}
	if !strings.Contains(out, "[OK] /tmp/state") || !strings.Contains(out, "[ERROR] missing api key") {
		t.Fatalf("unexpected lines: %q", out)
	}
	if shouldColorize(&buf) {
		t.Fatal("buffers are never colorized")
	}
}
