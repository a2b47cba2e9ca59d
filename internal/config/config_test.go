package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Pause.ResumeCommand != "#voltar" {
		t.Errorf("resume command %q", cfg.Pause.ResumeCommand)
	}
}

func TestLoadOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	// json5: comments and trailing commas allowed.
	content := `{
		// local overrides
		"pause": {"resume_command": "#bot", "echo_ttl_seconds": 15,},
		"hours": {"timezone": "UTC", "windows": {"monday": "09:00-17:00"}},
	}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Pause.ResumeCommand != "#bot" || cfg.Pause.EchoTTLSeconds != 15 {
		t.Errorf("pause config %+v", cfg.Pause)
	}
	if cfg.Hours.Timezone != "UTC" {
		t.Errorf("timezone %q", cfg.Hours.Timezone)
	}
	// Untouched sections keep defaults.
	if cfg.Responder.TimeoutSeconds != 5 {
		t.Errorf("responder timeout %d", cfg.Responder.TimeoutSeconds)
	}
}

func TestLoadRejectsBadSchedule(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"hours": {"timezone": "UTC", "windows": {"monday": "18:00-08:00"}}}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("inverted schedule window accepted")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CONVOGATE_POSTGRES_DSN", "postgres://localhost/convogate")
	t.Setenv("CONVOGATE_MIRROR_TOKEN", "secret")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Database.Mode != "postgres" {
		t.Errorf("DSN in env should switch mode, got %q", cfg.Database.Mode)
	}
	if cfg.Mirror.Token != "secret" {
		t.Error("mirror token not taken from env")
	}
}

func TestValidateRanges(t *testing.T) {
	cfg := Default()
	cfg.Responder.TimeoutSeconds = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero responder timeout accepted")
	}

	cfg = Default()
	cfg.Database.Mode = "mongodb"
	if err := cfg.Validate(); err == nil {
		t.Error("unknown database mode accepted")
	}

	cfg = Default()
	cfg.Database.Mode = "postgres"
	if err := cfg.Validate(); err == nil {
		t.Error("postgres mode without DSN accepted")
	}
}
