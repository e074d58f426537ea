package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	// Backend connection
	BackendURL      string        // NeuroVoice analysis backend base URL
	AnalysisTimeout time.Duration // long timeout for the full biomarker pipeline
	ProbeTimeout    time.Duration // short timeout for health probes
	HealthInterval  time.Duration // backend poll cadence

	// Local API server
	Port int

	// Capture behavior
	InputDevice      string        // ffmpeg input spec (e.g. "alsa:default"); empty = WebRTC mic ingest
	RecordingCeiling int           // seconds before auto-stop
	MinRecordingSec  int           // recordings shorter than this are rejected
	MinRecordingSize int           // finalized blobs below this byte count are rejected
	Language         string        // BCP-47-ish language tag sent with analysis requests
	StepInterval     time.Duration // progress ladder cadence

	// Motor test
	TapWindowSec int // tap test countdown length

	// Live monitor
	ASRSocketURL string // streaming speech recognition endpoint; empty disables transcripts
}

// Load reads configuration from environment variables with sane defaults.
func Load() Config {
	return Config{
		BackendURL:      envStr("NEUROVOICE_BACKEND_URL", "http://localhost:8000"),
		AnalysisTimeout: envDur("NEUROVOICE_ANALYSIS_TIMEOUT", 90*time.Second),
		ProbeTimeout:    envDur("NEUROVOICE_PROBE_TIMEOUT", 3*time.Second),
		HealthInterval:  envDur("NEUROVOICE_HEALTH_INTERVAL", 15*time.Second),

		Port: envInt("NEUROVOICE_PORT", 8090),

		InputDevice:      envStr("NEUROVOICE_INPUT_DEVICE", ""),
		RecordingCeiling: envInt("NEUROVOICE_RECORDING_CEILING", 30),
		MinRecordingSec:  envInt("NEUROVOICE_MIN_RECORDING_SEC", 2),
		MinRecordingSize: envInt("NEUROVOICE_MIN_RECORDING_BYTES", 4096),
		Language:         envStr("NEUROVOICE_LANGUAGE", "en"),
		StepInterval:     envDur("NEUROVOICE_STEP_INTERVAL", 900*time.Millisecond),

		TapWindowSec: envInt("NEUROVOICE_TAP_WINDOW", 15),

		ASRSocketURL: envStr("NEUROVOICE_ASR_SOCKET_URL", ""),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// envDur reads a duration either as a Go duration string ("90s") or a bare
// number of seconds.
func envDur(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
