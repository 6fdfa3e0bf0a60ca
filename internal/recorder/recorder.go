// Package recorder abstracts clip recording backends behind a common
// interface. The default backend drains encoded frames from the local
// camera stream; an alternative backend delegates capture to a companion
// capture app over websocket.
package recorder

import (
	"time"

	"github.com/signlab/signcoach/internal/camera"
	"github.com/signlab/signcoach/internal/diaglog"
)

// Clip is one finalized recording attempt.
type Clip struct {
	ID        string
	Data      []byte // encoded video bytes; empty when Path is set
	MimeType  string // e.g. "video/VP8"
	Path      string // set when the backend writes directly to disk
	Duration  time.Duration
	CreatedAt time.Time
}

// State represents the current state of a recording backend.
type State struct {
	Recording   bool
	Connected   bool
	BackendName string // "chunk" | "capws"
	ClipID      string
	StartTime   time.Time
}

// Recorder is the interface that recording backends must implement.
//
// A backend emits exactly one completion event per recording: Stop finalizes
// the in-flight clip and fires the OnComplete callback once, even if Stop is
// raced from multiple goroutines.
type Recorder interface {
	Connect() error
	Disconnect()
	Start(stream camera.Stream) error
	Stop(reason string) (*Clip, error)
	GetState() State
	IsConnected() bool
	SetLogger(l *diaglog.Logger)
	OnComplete(fn func(*Clip))
	OnDisconnected(fn func())
}
