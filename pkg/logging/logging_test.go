package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestComponentTagsMessages(t *testing.T) {
	var buf bytes.Buffer
	l := Component(NewWithWriter(&buf, zerolog.DebugLevel), "locator")
	l.Info().Int("level", 2).Msg("scanning")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to decode log line %q: %v", buf.String(), err)
	}
	if entry["component"] != "locator" {
		t.Errorf("Expected component locator, got %v", entry["component"])
	}
	if entry["message"] != "scanning" {
		t.Errorf("Expected message scanning, got %v", entry["message"])
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, _, err := New(Options{Level: "loud"}); err == nil {
		t.Fatal("Expected an error for an unknown level")
	}
}

func TestNewWritesLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slideseg.log")
	l, closer, err := New(Options{Level: "info", File: path, MaxSize: 1, MaxAge: 1})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	l.Info().Msg("hello")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !bytes.Contains(data, []byte("hello")) {
		t.Errorf("Expected log file to contain the message, got %q", data)
	}
}
