// Package config loads process configuration from the environment, once,
// into a plain value threaded through constructors. There is no global
// singleton; callers hold the Config they were given.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/n0remac/video-compositor/internal/frame"
)

// Config holds every environment-tunable knob the compositor reads at
// startup. Field names mirror the LIVE_COMPOSITOR_* environment
// variables they're sourced from.
type Config struct {
	APIPort int

	LoggerLevel  string
	LoggerFormat string // "compact" or "json"

	FFmpegLoggerLevel string

	OutputFramerate frame.Framerate

	WebRendererEnable bool
	GPUEnable         bool

	StreamFallbackTimeoutMS int64
}

// Load reads LIVE_COMPOSITOR_* variables, applying the same defaults as
// the original implementation's config module.
func Load() (Config, error) {
	cfg := Config{
		LoggerLevel:             getEnv("LIVE_COMPOSITOR_LOGGER_LEVEL", "info"),
		FFmpegLoggerLevel:       getEnv("LIVE_COMPOSITOR_FFMPEG_LOGGER_LEVEL", "warn"),
		WebRendererEnable:       getBoolEnv("LIVE_COMPOSITOR_WEB_RENDERER_ENABLE", false),
		GPUEnable:               getBoolEnv("LIVE_COMPOSITOR_GPU_ENABLE", true),
		StreamFallbackTimeoutMS: 2000,
	}

	port, err := getIntEnv("LIVE_COMPOSITOR_API_PORT", 8081)
	if err != nil {
		return Config{}, err
	}
	cfg.APIPort = port

	// Compact logging when run from a checked-out source tree (the
	// original used CARGO_MANIFEST_DIR for the equivalent check); here a
	// go.mod in the working directory marks the source tree. Otherwise
	// the default is json. LIVE_COMPOSITOR_LOGGER_FORMAT overrides both.
	defaultFormat := "json"
	if _, err := os.Stat("go.mod"); err == nil {
		defaultFormat = "compact"
	}
	cfg.LoggerFormat = getEnv("LIVE_COMPOSITOR_LOGGER_FORMAT", defaultFormat)

	fr, err := parseFramerate(getEnv("LIVE_COMPOSITOR_OUTPUT_FRAMERATE", "30/1"))
	if err != nil {
		return Config{}, fmt.Errorf("LIVE_COMPOSITOR_OUTPUT_FRAMERATE: %w", err)
	}
	cfg.OutputFramerate = fr

	if raw := os.Getenv("LIVE_COMPOSITOR_STREAM_FALLBACK_TIMEOUT_MS"); raw != "" {
		ms, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Config{}, fmt.Errorf("LIVE_COMPOSITOR_STREAM_FALLBACK_TIMEOUT_MS: %w", err)
		}
		cfg.StreamFallbackTimeoutMS = int64(ms)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getIntEnv(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getBoolEnv(key string, fallback bool) bool {
	raw := strings.ToLower(os.Getenv(key))
	switch raw {
	case "1", "true":
		return true
	case "0", "false":
		return false
	default:
		return fallback
	}
}

// parseFramerate accepts either "N" or "N/D" and returns the rational
// Framerate, matching the original's output_framerate parser.
func parseFramerate(raw string) (frame.Framerate, error) {
	parts := strings.SplitN(raw, "/", 2)
	num, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return frame.Framerate{}, fmt.Errorf("invalid numerator %q: %w", parts[0], err)
	}
	den := uint64(1)
	if len(parts) == 2 {
		den, err = strconv.ParseUint(parts[1], 10, 32)
		if err != nil {
			return frame.Framerate{}, fmt.Errorf("invalid denominator %q: %w", parts[1], err)
		}
	}
	fr := frame.Framerate{Num: uint32(num), Den: uint32(den)}
	if !fr.Valid() {
		return frame.Framerate{}, fmt.Errorf("framerate must be positive, got %s", fr)
	}
	return fr, nil
}
