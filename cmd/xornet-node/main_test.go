package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestRunUsageAndUnknown(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := run(nil, &out, &errOut); code != 0 {
		t.Fatalf("no-args exit = %d, want 0", code)
	}
	if !strings.Contains(out.String(), "usage: xornet-node") {
		t.Fatalf("expected usage, got: %s", out.String())
	}

	out.Reset()
	errOut.Reset()
	if code := run([]string{"bogus"}, &out, &errOut); code != 1 {
		t.Fatalf("unknown command exit = %d, want 1", code)
	}
	if !strings.Contains(errOut.String(), "unknown command: bogus") {
		t.Fatalf("expected unknown-command error, got: %s", errOut.String())
	}
}

func TestRunNodeRequiresAddr(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := run([]string{"run"}, &out, &errOut); code != 1 {
		t.Fatalf("exit = %d, want 1", code)
	}
	if !strings.Contains(errOut.String(), "missing --addr") {
		t.Fatalf("expected missing-addr error, got: %s", errOut.String())
	}
}

func TestStatusWithoutSnapshot(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run([]string{"status", "--data", t.TempDir()}, &out, &errOut)
	if code != 1 {
		t.Fatalf("exit = %d, want 1", code)
	}
	if !strings.Contains(out.String(), "no snapshot") {
		t.Fatalf("expected no-snapshot message, got: %s", out.String())
	}
}
