package config

import (
	"testing"
)

func validTestConfig() *Config {
	return &Config{
		ServerBaseURL:   "http://localhost:8000",
		RecorderBackend: "chunk",
		Camera:          CameraConfig{Width: 1280, Height: 720, FrameRate: 30},
	}
}

func TestValidate_valid(t *testing.T) {
	if err := validTestConfig().Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}

func TestValidate_missingBaseURL(t *testing.T) {
	cfg := validTestConfig()
	cfg.ServerBaseURL = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing server_base_url")
	}
}

func TestValidate_nonHTTPBaseURL(t *testing.T) {
	cfg := validTestConfig()
	cfg.ServerBaseURL = "ftp://example.com"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for non-http base URL")
	}
}

func TestValidate_unknownBackend(t *testing.T) {
	cfg := validTestConfig()
	cfg.RecorderBackend = "cassette"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown recorder backend")
	}
}

func TestValidate_capwsNeedsURL(t *testing.T) {
	cfg := validTestConfig()
	cfg.RecorderBackend = "capws"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for capws backend without url")
	}
	cfg.CapWS = &CapWSConfig{URL: "ws://localhost:4456"}
	if err := cfg.Validate(); err != nil {
		t.Errorf("capws backend with url rejected: %v", err)
	}
}

func TestValidate_frameRateRange(t *testing.T) {
	cfg := validTestConfig()
	cfg.Camera.FrameRate = 500
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for out-of-range frame rate")
	}
}

func TestValidate_emptyBackendDefaultsToChunk(t *testing.T) {
	cfg := validTestConfig()
	cfg.RecorderBackend = ""
	if err := cfg.Validate(); err != nil {
		t.Errorf("empty backend should be accepted: %v", err)
	}
}

func TestBaseURLTrimsTrailingSlash(t *testing.T) {
	cfg := validTestConfig()
	cfg.ServerBaseURL = "http://localhost:8000/"
	if got := cfg.BaseURL(); got != "http://localhost:8000" {
		t.Errorf("BaseURL: got %q", got)
	}
}
