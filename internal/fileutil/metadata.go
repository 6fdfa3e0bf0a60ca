// Package fileutil provides clip file utilities: filename sanitization and
// the sidecar metadata JSON written alongside each saved clip.
package fileutil

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// AttemptMetadata is the sidecar metadata written alongside a saved clip.
// It is bookkeeping for the clip file itself, not a history of attempts.
type AttemptMetadata struct {
	Version          string    `json:"version"`
	AttemptID        string    `json:"attempt_id"`
	Word             string    `json:"word"`
	ExpectedClassID  string    `json:"expected_class_id"`
	PredictedClassID string    `json:"predicted_class_id,omitempty"`
	Verdict          string    `json:"verdict,omitempty"` // "correct" | "incorrect"
	ErrorKind        string    `json:"error_kind,omitempty"`
	RecordedAt       time.Time `json:"recorded_at"`
	Duration         string    `json:"duration"`
	DurationMs       int64     `json:"duration_ms"`
	RecorderBackend  string    `json:"recorder_backend"`
	ClipFile         string    `json:"clip_file"`
}

// WriteMetadata writes a <basepath>.meta.json sidecar file alongside the
// clip. Uses atomic write (temp + rename) consistent with ipc patterns.
func WriteMetadata(clipPath string, meta *AttemptMetadata) error {
	metaPath := metadataPath(clipPath)
	dir := filepath.Dir(metaPath)

	tmpFile, err := os.CreateTemp(dir, "meta-*.tmp")
	if err != nil {
		return fmt.Errorf("create metadata temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(meta); err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("sync metadata: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close metadata temp: %w", err)
	}
	success = true

	if err := os.Rename(tmpPath, metaPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename metadata: %w", err)
	}
	return nil
}

// metadataPath returns <basepath>.meta.json for a given clip file path.
func metadataPath(clipPath string) string {
	ext := filepath.Ext(clipPath)
	base := clipPath[:len(clipPath)-len(ext)]
	return base + ".meta.json"
}
