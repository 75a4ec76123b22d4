package log

import (
	"bytes"
	"strings"
	"testing"
)

func newTestLogger(t *testing.T, name string) (*Logger, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	SetOutput(buf)
	return ForService(name), buf
}

func TestPrefixAndLevel(t *testing.T) {
	SetGlobalDebug(false)

	l, buf := newTestLogger(t, "prefix_component")
	l.Infof("stream %d opened", 7)

	out := buf.String()
	if !strings.Contains(out, "INFO [prefix_component] stream 7 opened") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestForServiceMemoizes(t *testing.T) {
	a := ForService("memo")
	b := ForService("memo")
	if a != b {
		t.Fatal("expected the same logger instance")
	}
	if ForService("").Name() != "pulse" {
		t.Fatalf("expected default name, got %q", ForService("").Name())
	}
}

func TestDebugPerComponent(t *testing.T) {
	SetGlobalDebug(false)

	const name = "debug_component"
	DisableDebugFor(name)
	l, buf := newTestLogger(t, name)

	l.Debugf("hidden")
	if strings.Contains(buf.String(), "hidden") {
		t.Fatal("debug line printed while disabled")
	}

	EnableDebugFor(name)
	defer DisableDebugFor(name)
	l.Debugf("visible")
	if !strings.Contains(buf.String(), "DEBUG [debug_component] visible") {
		t.Fatalf("expected debug line, got %q", buf.String())
	}
}

func TestDebugGlobal(t *testing.T) {
	const name = "debug_global"
	DisableDebugFor(name)
	l, buf := newTestLogger(t, name)

	SetGlobalDebug(true)
	defer SetGlobalDebug(false)

	l.Debugf("global")
	if !strings.Contains(buf.String(), "global") {
		t.Fatalf("expected debug line with global debug, got %q", buf.String())
	}
}

func TestWarnAndError(t *testing.T) {
	l, buf := newTestLogger(t, "levels")
	l.Warnf("slow subscriber")
	l.Errorf("write failed: %v", "eof")

	out := buf.String()
	if !strings.Contains(out, "WARN [levels] slow subscriber") {
		t.Fatalf("missing warn line: %q", out)
	}
	if !strings.Contains(out, "ERROR [levels] write failed: eof") {
		t.Fatalf("missing error line: %q", out)
	}
}
