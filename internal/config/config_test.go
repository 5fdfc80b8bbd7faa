package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Capture.FlushIntervalMS != 2000 {
		t.Fatalf("expected default flush interval 2000, got %d", cfg.Capture.FlushIntervalMS)
	}
	if cfg.Settings.Plan != "free" {
		t.Fatalf("expected default plan free, got %s", cfg.Settings.Plan)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MEETINGMIND_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("MEETINGMIND_BUS_EMBEDDED", "false")
	t.Setenv("MEETINGMIND_CAPTURE_FLUSH_INTERVAL_MS", "3000")
	t.Setenv("MEETINGMIND_COORDINATOR_PROBE_TIMEOUT_MS", "2500")
	t.Setenv("MEETINGMIND_TRANSCRIPTION_MODE", "http")
	t.Setenv("MEETINGMIND_TRANSCRIPTION_MODEL", "whisper-large")
	t.Setenv("MEETINGMIND_SETTINGS_PLAN", "premium")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Embedded {
		t.Fatal("expected embedded override false")
	}
	if cfg.Capture.FlushIntervalMS != 3000 {
		t.Fatalf("expected flush interval 3000, got %d", cfg.Capture.FlushIntervalMS)
	}
	if cfg.Coordinator.ProbeTimeoutMS != 2500 {
		t.Fatalf("expected probe timeout 2500, got %d", cfg.Coordinator.ProbeTimeoutMS)
	}
	if cfg.Transcription.Mode != "http" || cfg.Transcription.Model != "whisper-large" {
		t.Fatalf("expected transcription overrides, got %+v", cfg.Transcription)
	}
	if cfg.Settings.Plan != "premium" {
		t.Fatalf("expected plan override, got %s", cfg.Settings.Plan)
	}
}

func TestValidateRejectsBadModes(t *testing.T) {
	t.Setenv("MEETINGMIND_TRANSCRIPTION_MODE", "grpc")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for unsupported transcription mode")
	}
}

func TestValidateRequiresSourcePath(t *testing.T) {
	t.Setenv("MEETINGMIND_CAPTURE_SOURCE", "file")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for file source with no path")
	}
}

func TestValidateFallbackFlushBound(t *testing.T) {
	t.Setenv("MEETINGMIND_COORDINATOR_FALLBACK_FLUSH_MS", "1000")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error when fallback flush is under the chunk interval")
	}
}
