package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bingo-coordinator/internal/config"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestInitWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")
	if err := Init(config.LogConfig{Level: "debug", File: path, MaxMB: 1}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { _ = Close() })

	if zerolog.GlobalLevel() != zerolog.DebugLevel {
		t.Fatalf("level = %v, want debug", zerolog.GlobalLevel())
	}
	log.Info().Str("component", "test").Msg("hello")
	if _, err := Writer().Write([]byte("raw line\n")); err != nil {
		t.Fatalf("raw write: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(b), `"component":"test"`) || !strings.Contains(string(b), "raw line") {
		t.Fatalf("unexpected log content: %s", b)
	}
}

func TestInitUnknownLevelFallsBackToInfo(t *testing.T) {
	if err := Init(config.LogConfig{Level: "chatty"}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if zerolog.GlobalLevel() != zerolog.InfoLevel {
		t.Fatalf("level = %v, want info", zerolog.GlobalLevel())
	}
}
