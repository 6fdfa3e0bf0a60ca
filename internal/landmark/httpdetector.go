package landmark

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultSidecarURL is where the holistic detection sidecar listens unless
// overridden.
const DefaultSidecarURL = "http://localhost:9001"

// HTTPDetectorConfig configures the sidecar client.
type HTTPDetectorConfig struct {
	BaseURL string
	// MinConfidence is forwarded to the sidecar as its detection threshold.
	// Zero means the sidecar default (0.5).
	MinConfidence float64
	Timeout       time.Duration
}

// HTTPDetector talks to a holistic landmark detection sidecar over HTTP.
// One frame per request: JPEG bytes in, landmark JSON out.
type HTTPDetector struct {
	baseURL       string
	minConfidence float64
	httpClient    *http.Client
}

// NewHTTPDetector creates a sidecar-backed detector.
func NewHTTPDetector(cfg HTTPDetectorConfig) *HTTPDetector {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultSidecarURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &HTTPDetector{
		baseURL:       cfg.BaseURL,
		minConfidence: cfg.MinConfidence,
		httpClient:    &http.Client{Timeout: cfg.Timeout},
	}
}

// Detect posts one JPEG frame to the sidecar's /detect endpoint.
func (d *HTTPDetector) Detect(ctx context.Context, jpegFrame []byte) (*Detection, error) {
	url := d.baseURL + "/detect"
	if d.minConfidence > 0 {
		url = fmt.Sprintf("%s?min_confidence=%g", url, d.minConfidence)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jpegFrame))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detector sidecar request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return nil, fmt.Errorf("detector sidecar returned HTTP %d: %s", resp.StatusCode, string(body))
	}

	var det Detection
	if err := json.NewDecoder(resp.Body).Decode(&det); err != nil {
		return nil, fmt.Errorf("detector sidecar returned invalid JSON: %w", err)
	}
	return &det, nil
}

// Close is a no-op; the sidecar owns its own lifecycle.
func (d *HTTPDetector) Close() error { return nil }
