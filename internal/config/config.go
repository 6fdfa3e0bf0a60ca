// Package config loads the signcoach capture daemon configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Contractual constants shared between client, extraction and classifier.
// These are not configuration: the trained model and the capture protocol
// both assume them.
const (
	CountdownSeconds = 3
	UploadTimeout    = 120 * time.Second
	SequenceLength   = 32
	NumJoints        = 47
	NumClasses       = 67
)

// CameraConfig selects and constrains the capture device.
type CameraConfig struct {
	DeviceID  string `json:"device_id,omitempty"` // empty = first available camera
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	FrameRate int    `json:"frame_rate"`
}

// CapWSConfig configures the companion capture-app websocket backend.
type CapWSConfig struct {
	URL      string `json:"url"`
	Password string `json:"password,omitempty"`
}

// Config holds all signcoach-core configuration.
type Config struct {
	ServerBaseURL   string       `json:"server_base_url"`
	RecorderBackend string       `json:"recorder_backend"` // "chunk" or "capws"
	Camera          CameraConfig `json:"camera"`
	CapWS           *CapWSConfig `json:"capws,omitempty"`
	ClipDir         string       `json:"clip_dir,omitempty"`   // empty = temp dir
	VocabPath       string       `json:"vocab_path,omitempty"` // empty = embedded table
	InitialWord     string       `json:"initial_word,omitempty"`
}

// Load reads configuration from ~/.config/signcoach/config.json, falling
// back to configs/default-config.json if the user config doesn't exist.
func Load() (*Config, error) {
	configDir := filepath.Join(os.Getenv("HOME"), ".config", "signcoach")
	userConfigPath := filepath.Join(configDir, "config.json")

	data, err := os.ReadFile(userConfigPath)
	if err != nil {
		if os.IsNotExist(err) {
			defaultPath := "configs/default-config.json"
			data, err = os.ReadFile(defaultPath)
			if err != nil {
				return nil, fmt.Errorf("failed to load config: %w", err)
			}
			// Create user config directory for future saves.
			if err := os.MkdirAll(configDir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create config directory: %w", err)
			}
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes configuration to ~/.config/signcoach/config.json.
func Save(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	configDir := filepath.Join(os.Getenv("HOME"), ".config", "signcoach")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(configDir, "config.json"), data, 0644)
}

// Validate checks Config for validity.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ServerBaseURL) == "" {
		return fmt.Errorf("server_base_url is required")
	}
	if !strings.HasPrefix(c.ServerBaseURL, "http://") && !strings.HasPrefix(c.ServerBaseURL, "https://") {
		return fmt.Errorf("server_base_url must be an http(s) URL, got %q", c.ServerBaseURL)
	}

	switch c.RecorderBackend {
	case "", "chunk":
		// default backend needs no extra configuration
	case "capws":
		if c.CapWS == nil || strings.TrimSpace(c.CapWS.URL) == "" {
			return fmt.Errorf("recorder_backend %q requires capws.url", c.RecorderBackend)
		}
	default:
		return fmt.Errorf("unknown recorder_backend %q", c.RecorderBackend)
	}

	if c.Camera.Width < 0 || c.Camera.Height < 0 {
		return fmt.Errorf("camera dimensions must be non-negative")
	}
	if c.Camera.FrameRate < 0 || c.Camera.FrameRate > 120 {
		return fmt.Errorf("camera frame_rate must be between 0 and 120, got %d", c.Camera.FrameRate)
	}
	return nil
}

// BaseURL returns the server base URL without a trailing slash.
func (c *Config) BaseURL() string {
	return strings.TrimRight(c.ServerBaseURL, "/")
}
