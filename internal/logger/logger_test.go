// logger_test.go - unit tests for the logger package.
package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestNew_JSONFormat(t *testing.T) {
	l := New("json", "info")
	if l == nil {
		t.Fatal("New returned nil")
	}
	var buf bytes.Buffer
	jl := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	jl.Info("probe")
	if !strings.Contains(buf.String(), `"msg"`) {
		t.Error("expected JSON output to contain \"msg\" key")
	}
}

func TestNew_PrettyFormat(t *testing.T) {
	l := New("pretty", "info")
	if l == nil {
		t.Fatal("New returned nil")
	}
	var buf bytes.Buffer
	tl := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	tl.Info("probe")
	if !strings.Contains(buf.String(), "level=INFO") {
		t.Error("expected text output to contain level=INFO")
	}
}

func TestNew_DefaultFormat(t *testing.T) {
	// Any unrecognised format should fall back to JSON (not panic).
	l := New("unknown", "info")
	if l == nil {
		t.Fatal("New returned nil for unknown format")
	}
}

func TestNew_LevelWarn_FiltersInfo(t *testing.T) {
	var buf bytes.Buffer
	h := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})
	l := slog.New(h)
	l.Info("should not appear")
	if strings.Contains(buf.String(), "should not appear") {
		t.Error("Info message appeared at warn level, level filtering broken")
	}
}

func TestWithContext_FromContext_RoundTrip(t *testing.T) {
	original := New("json", "info")
	ctx := WithContext(context.Background(), original)
	if FromContext(ctx) != original {
		t.Error("FromContext returned a different logger than was stored")
	}
}

func TestFromContext_ReturnsDefault_WhenNotSet(t *testing.T) {
	l := FromContext(context.Background())
	if l == nil {
		t.Fatal("FromContext returned nil for empty context")
	}
	if l != slog.Default() {
		t.Error("expected slog.Default() when no logger in context")
	}
}

func TestWithContext_Nested(t *testing.T) {
	// Inner logger must shadow the outer one.
	outer := New("json", "warn")
	inner := New("pretty", "debug")
	ctx := WithContext(context.Background(), outer)
	ctx = WithContext(ctx, inner)
	if FromContext(ctx) != inner {
		t.Error("nested context did not return the innermost logger")
	}
}
