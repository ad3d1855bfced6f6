package prettylog

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestHandleWritesMessageAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandlerWithWriter(slog.LevelDebug, &buf))

	logger.Info("sign-in completed", "provider", "corp", "error", errors.New("boom"))

	out := buf.String()
	if !strings.Contains(out, "sign-in completed") {
		t.Fatalf("message missing: %q", out)
	}
	if !strings.Contains(out, `"provider": "corp"`) {
		t.Fatalf("attribute missing: %q", out)
	}
	if !strings.Contains(out, `"error": "boom"`) {
		t.Fatalf("error not rendered as string: %q", out)
	}
}

func TestLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandlerWithWriter(slog.LevelWarn, &buf))

	logger.Debug("hidden")
	logger.Info("hidden too")
	logger.Warn("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("filtered level leaked: %q", out)
	}
	if !strings.Contains(out, "visible") {
		t.Fatalf("warn missing: %q", out)
	}
}

func TestWithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandlerWithWriter(slog.LevelDebug, &buf)).
		With("request_id", "r1").
		WithGroup("session")

	logger.Info("loaded", "id", "s1")

	out := buf.String()
	if !strings.Contains(out, `"request_id": "r1"`) {
		t.Fatalf("bound attribute missing: %q", out)
	}
	if !strings.Contains(out, `"session"`) || !strings.Contains(out, `"id": "s1"`) {
		t.Fatalf("group missing: %q", out)
	}
}
