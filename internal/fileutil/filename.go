package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// SanitizeForFilename sanitizes a word or label for safe use in clip
// filenames.
func SanitizeForFilename(input string) string {
	if input == "" {
		return "attempt"
	}

	// Illegal chars: / \ : * ? " < > |
	illegalChars := regexp.MustCompile(`[\/\\:*?"<>|]`)
	sanitized := illegalChars.ReplaceAllString(input, "_")

	whitespace := regexp.MustCompile(`[\s_]+`)
	sanitized = whitespace.ReplaceAllString(sanitized, "-")

	sanitized = strings.Trim(sanitized, "-")

	if len(sanitized) > 50 {
		sanitized = sanitized[:50]
		sanitized = strings.TrimRight(sanitized, "-")
	}

	if sanitized == "" {
		return "attempt"
	}

	return strings.ToLower(sanitized)
}

// ClipFilename builds the on-disk name for a saved clip:
// YYYY-MM-DD_HHMM_<word>_<attempt-id-prefix>.<ext>
func ClipFilename(word, attemptID string, at time.Time, ext string) string {
	idPart := attemptID
	if len(idPart) > 8 {
		idPart = idPart[:8]
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return fmt.Sprintf("%s_%s_%s%s",
		at.Format("2006-01-02_1504"),
		SanitizeForFilename(word),
		idPart,
		ext,
	)
}

// SaveClip writes clip data into dir under a sanitized filename and returns
// the final path. An existing file with the same name gets a numeric suffix
// rather than being overwritten.
func SaveClip(dir string, data []byte, word, attemptID string, at time.Time, ext string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create clip directory: %w", err)
	}

	name := ClipFilename(word, attemptID, at, ext)
	path := filepath.Join(dir, name)

	if _, err := os.Stat(path); err == nil {
		base := strings.TrimSuffix(name, filepath.Ext(name))
		fileExt := filepath.Ext(name)
		for i := 2; i < 100; i++ {
			tryPath := filepath.Join(dir, fmt.Sprintf("%s_%d%s", base, i, fileExt))
			if _, err := os.Stat(tryPath); os.IsNotExist(err) {
				path = tryPath
				break
			}
		}
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write clip: %w", err)
	}
	return path, nil
}
