package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLoggerAddsServiceFields(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, Config{Level: "warn"})

	log.Info().Msg("dropped")
	log.Warn().Str("order_id", "O1").Msg("kept")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line above the level, got %q", buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry["service"] != serviceName || entry["version"] != version || entry["order_id"] != "O1" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, Config{Level: "loud"})
	log.Debug().Msg("hidden")
	log.Info().Msg("shown")
	if !strings.Contains(buf.String(), "shown") || strings.Contains(buf.String(), "hidden") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestPrettyOutput(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, Config{Pretty: true})
	log.Error().Msg("boom")
	if !strings.Contains(buf.String(), colorizeLevel("error")) {
		t.Fatalf("expected a colored level, got %q", buf.String())
	}
}
