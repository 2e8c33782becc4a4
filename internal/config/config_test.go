package config

import (
	"os"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"LIVE_COMPOSITOR_API_PORT",
		"LIVE_COMPOSITOR_OUTPUT_FRAMERATE",
		"LIVE_COMPOSITOR_STREAM_FALLBACK_TIMEOUT_MS",
		"LIVE_COMPOSITOR_LOGGER_LEVEL",
		"LIVE_COMPOSITOR_LOGGER_FORMAT",
	} {
		old, had := os.LookupEnv(key)
		os.Unsetenv(key)
		t.Cleanup(func() {
			if had {
				os.Setenv(key, old)
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.APIPort != 8081 {
		t.Errorf("expected default API port 8081, got %d", cfg.APIPort)
	}
	if cfg.OutputFramerate.Num != 30 || cfg.OutputFramerate.Den != 1 {
		t.Errorf("expected default framerate 30/1, got %s", cfg.OutputFramerate)
	}
	if cfg.StreamFallbackTimeoutMS != 2000 {
		t.Errorf("expected default fallback timeout 2000ms, got %d", cfg.StreamFallbackTimeoutMS)
	}
}

func TestLoad_ParsesFramerateFraction(t *testing.T) {
	clearEnv(t)
	os.Setenv("LIVE_COMPOSITOR_OUTPUT_FRAMERATE", "25/1")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.OutputFramerate.Num != 25 || cfg.OutputFramerate.Den != 1 {
		t.Errorf("expected 25/1, got %s", cfg.OutputFramerate)
	}
}

func TestLoad_ParsesFramerateBareInteger(t *testing.T) {
	clearEnv(t)
	os.Setenv("LIVE_COMPOSITOR_OUTPUT_FRAMERATE", "60")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.OutputFramerate.Num != 60 || cfg.OutputFramerate.Den != 1 {
		t.Errorf("expected 60/1, got %s", cfg.OutputFramerate)
	}
}

func TestLoad_RejectsInvalidFramerate(t *testing.T) {
	clearEnv(t)
	os.Setenv("LIVE_COMPOSITOR_OUTPUT_FRAMERATE", "0/1")
	if _, err := Load(); err == nil {
		t.Fatal("expected an error for a zero-numerator framerate")
	}
}

func TestLoad_ParsesFallbackTimeoutMilliseconds(t *testing.T) {
	clearEnv(t)
	os.Setenv("LIVE_COMPOSITOR_STREAM_FALLBACK_TIMEOUT_MS", "500")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.StreamFallbackTimeoutMS != 500 {
		t.Errorf("expected 500ms, got %d", cfg.StreamFallbackTimeoutMS)
	}
}
