package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func plain() *bool {
	off := false
	return &off
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNew_ConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "info", Format: "text", Writer: &buf, Color: plain()})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	logger.With("component", "router").Info("lesson started", "room_id", "lesson:t1:L1", "title", "Long Division")
	logger.Debug("hidden")

	out := buf.String()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 1 {
		t.Fatalf("Expected exactly one line, got %q", out)
	}
	for _, want := range []string{"INFO", "lesson started", "component=router", "room_id=lesson:t1:L1", `title="Long Division"`} {
		if !strings.Contains(lines[0], want) {
			t.Errorf("Line %q should contain %q", lines[0], want)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Error("Color disabled output must not contain escape codes")
	}
}

func TestNew_ConsoleColor(t *testing.T) {
	var buf bytes.Buffer
	on := true
	logger, err := New(Options{Level: "debug", Writer: &buf, Color: &on})
	if err != nil {
		t.Fatal(err)
	}
	logger.Warn("slow consumer disconnected")

	if !strings.Contains(buf.String(), "\x1b[") {
		t.Errorf("Expected escape codes in colored output, got %q", buf.String())
	}
}

func TestNew_ConsoleGroups(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Writer: &buf, Color: plain()})
	if err != nil {
		t.Fatal(err)
	}

	logger.WithGroup("http").Info("listening", "port", 8080, slog.Group("tls", "enabled", false))

	out := buf.String()
	for _, want := range []string{"http.port=8080", "http.tls.enabled=false"} {
		if !strings.Contains(out, want) {
			t.Errorf("Output %q should contain %q", out, want)
		}
	}
}

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "warn", Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	logger.Info("dropped")
	logger.Error("connection refused", "user_id", "s1")

	var record map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &record); err != nil {
		t.Fatalf("Expected a single JSON record, got %q: %v", buf.String(), err)
	}
	if record["msg"] != "connection refused" || record["user_id"] != "s1" || record["level"] != "ERROR" {
		t.Errorf("Unexpected record %v", record)
	}
}

func TestNew_RejectsUnknownSettings(t *testing.T) {
	if _, err := New(Options{Level: "chatty"}); err == nil {
		t.Error("Unknown level should fail")
	}
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Error("Unknown format should fail")
	}
}
