// Package camera controls access to the capture device. The webcam is a
// singleton resource: exactly one stream may be open at a time, and every
// code path that acquires it must release it, including error paths and
// session resets.
package camera

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/signlab/signcoach/internal/diaglog"
)

var (
	// ErrBusy is returned when Acquire is called while the camera is
	// already held. Callers fail fast instead of queueing.
	ErrBusy = errors.New("camera is already in use")

	// ErrPermissionDenied indicates the OS refused camera access.
	ErrPermissionDenied = errors.New("camera permission denied")

	// ErrDeviceUnavailable indicates no usable capture device was found
	// or the device could not be opened.
	ErrDeviceUnavailable = errors.New("camera device unavailable")
)

// Settings describes the requested capture parameters.
type Settings struct {
	DeviceID  string
	Width     int
	Height    int
	FrameRate float64
}

// Stream is an open camera stream producing an encoded video byte stream.
type Stream interface {
	// EncodedReader returns the encoded video stream. Reading past the
	// end of the stream after Close returns io.EOF.
	EncodedReader() io.Reader

	// MimeType reports the encoding of the stream, e.g. "video/VP8".
	MimeType() string

	// Close stops capture and releases the underlying device handle.
	// Close is idempotent.
	Close() error
}

// Opener opens a camera stream. The production implementation talks to the
// capture device; tests substitute a fake.
type Opener interface {
	Open(ctx context.Context, settings Settings) (Stream, error)
}

// Manager serializes access to the camera. It guarantees the device is held
// by at most one owner and that Release is always safe to call.
type Manager struct {
	opener   Opener
	settings Settings
	logger   *diaglog.Logger

	mu     sync.Mutex
	stream Stream
}

// NewManager creates a camera manager using the given opener.
func NewManager(opener Opener, settings Settings, logger *diaglog.Logger) *Manager {
	return &Manager{
		opener:   opener,
		settings: settings,
		logger:   logger,
	}
}

// Acquire opens the camera. It fails fast with ErrBusy if the camera is
// already held; it never waits for the current holder.
func (m *Manager) Acquire(ctx context.Context) (Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stream != nil {
		return nil, ErrBusy
	}

	stream, err := m.opener.Open(ctx, m.settings)
	if err != nil {
		m.logger.Log(diaglog.LogEntry{
			Component: diaglog.ComponentCamera,
			Event:     diaglog.EventCameraAcquire,
			Payload:   map[string]interface{}{"ok": false, "error": err.Error()},
		})
		return nil, fmt.Errorf("failed to open camera: %w", err)
	}

	m.stream = stream
	m.logger.Log(diaglog.LogEntry{
		Component: diaglog.ComponentCamera,
		Event:     diaglog.EventCameraAcquire,
		Payload:   map[string]interface{}{"ok": true, "mime_type": stream.MimeType()},
	})
	return stream, nil
}

// Release closes the camera if held. Calling Release when the camera is not
// held is a no-op, so callers may release unconditionally on every exit path.
func (m *Manager) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stream == nil {
		return nil
	}

	err := m.stream.Close()
	m.stream = nil

	payload := map[string]interface{}{"ok": err == nil}
	if err != nil {
		payload["error"] = err.Error()
	}
	m.logger.Log(diaglog.LogEntry{
		Component: diaglog.ComponentCamera,
		Event:     diaglog.EventCameraRelease,
		Payload:   payload,
	})

	if err != nil {
		return fmt.Errorf("failed to close camera: %w", err)
	}
	return nil
}

// Held reports whether the camera is currently held.
func (m *Manager) Held() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream != nil
}
