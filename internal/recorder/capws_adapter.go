package recorder

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/signlab/signcoach/internal/camera"
	"github.com/signlab/signcoach/internal/capws"
	"github.com/signlab/signcoach/internal/diaglog"
)

// CapWSAdapter delegates recording to the companion capture app via a
// capws.Client. The companion app owns its own camera pipeline and writes
// the clip to disk; the resulting Clip carries a Path instead of Data.
type CapWSAdapter struct {
	client     *capws.Client
	clipID     string
	onComplete func(*Clip)
}

// NewCapWSAdapter creates an adapter wrapping the given capws.Client.
func NewCapWSAdapter(client *capws.Client) *CapWSAdapter {
	return &CapWSAdapter{client: client}
}

// Connect establishes the websocket connection to the capture app.
func (a *CapWSAdapter) Connect() error {
	return a.client.Connect()
}

// Disconnect gracefully closes the capture app connection.
func (a *CapWSAdapter) Disconnect() {
	a.client.Disconnect()
}

// Start asks the capture app to begin recording. The local camera stream is
// ignored: the companion app captures with its own device handle.
func (a *CapWSAdapter) Start(stream camera.Stream) error {
	a.clipID = uuid.NewString()
	return a.client.StartCapture(a.clipID + ".webm")
}

// Stop finalizes the capture and returns a path-backed clip. The completion
// callback fires exactly once, before Stop returns.
func (a *CapWSAdapter) Stop(reason string) (*Clip, error) {
	state := a.client.GetCaptureState()
	startedAt := state.StartTime

	clipPath, err := a.client.StopCapture(reason)
	if err != nil {
		return nil, fmt.Errorf("stop capture: %w", err)
	}

	var duration time.Duration
	if !startedAt.IsZero() {
		duration = time.Since(startedAt)
	}

	clip := &Clip{
		ID:        a.clipID,
		Path:      clipPath,
		MimeType:  "video/webm",
		Duration:  duration,
		CreatedAt: startedAt,
	}
	if a.onComplete != nil {
		a.onComplete(clip)
	}
	return clip, nil
}

// GetState returns the recorder state mapped from capws.CaptureState.
func (a *CapWSAdapter) GetState() State {
	s := a.client.GetCaptureState()
	return State{
		Recording:   s.Capturing,
		Connected:   a.client.IsConnected(),
		BackendName: "capws",
		ClipID:      a.clipID,
		StartTime:   s.StartTime,
	}
}

// IsConnected reports whether the capture app connection is identified.
func (a *CapWSAdapter) IsConnected() bool {
	return a.client.IsConnected()
}

// SetLogger injects a diaglog.Logger into the underlying capws.Client.
func (a *CapWSAdapter) SetLogger(l *diaglog.Logger) {
	a.client.SetLogger(l)
}

// OnComplete registers the clip completion callback.
func (a *CapWSAdapter) OnComplete(fn func(*Clip)) {
	a.onComplete = fn
}

// OnDisconnected registers a callback for disconnection events.
func (a *CapWSAdapter) OnDisconnected(fn func()) {
	a.client.OnDisconnected(fn)
}
