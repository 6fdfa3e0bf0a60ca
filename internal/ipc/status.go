// Package ipc exchanges commands and status snapshots between the capture
// daemon and a thin UI through files under ~/.cache/signcoach.
package ipc

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// StatusSnapshot represents the complete daemon state at a point in time.
// State strings mirror capture.FeedbackState values; they are plain strings
// here so UI consumers need no dependency on the capture package.
type StatusSnapshot struct {
	State              string    `json:"state"` // idle|countdown|recording|ready|processing|correct|incorrect
	Word               string    `json:"word"`
	ExpectedClassID    string    `json:"expected_class_id,omitempty"`
	CountdownRemaining int       `json:"countdown_remaining,omitempty"`
	CameraHeld         bool      `json:"camera_held"`
	ClipAttached       bool      `json:"clip_attached"`
	AttemptID          string    `json:"attempt_id,omitempty"`
	PredictedClassID   string    `json:"predicted_class_id,omitempty"`
	PredictedWord      string    `json:"predicted_word,omitempty"`
	LastErrorKind      string    `json:"last_error_kind,omitempty"`
	LastError          string    `json:"last_error,omitempty"`
	RecorderBackend    string    `json:"recorder_backend"`
	RecorderConnected  bool      `json:"recorder_connected"`
	ServerReachable    bool      `json:"server_reachable"`
	Timestamp          time.Time `json:"timestamp"`
}

// WriteStatus persists StatusSnapshot to ~/.cache/signcoach/status.json
// using an atomic write.
func WriteStatus(status *StatusSnapshot) error {
	cacheDir := filepath.Join(os.Getenv("HOME"), ".cache", "signcoach")
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return err
	}
	return atomicWriteJSON(filepath.Join(cacheDir, "status.json"), status)
}

// ReadStatus loads StatusSnapshot from ~/.cache/signcoach/status.json.
func ReadStatus() (*StatusSnapshot, error) {
	statusPath := filepath.Join(os.Getenv("HOME"), ".cache", "signcoach", "status.json")

	data, err := os.ReadFile(statusPath)
	if err != nil {
		return nil, err
	}

	var status StatusSnapshot
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// atomicWriteJSON writes data to a file atomically using temp file + rename.
func atomicWriteJSON(path string, data interface{}) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "status-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	// Ensure cleanup on error.
	defer func() {
		if tmpFile != nil {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	tmpFile = nil // prevent defer cleanup

	return os.Rename(tmpPath, path)
}
