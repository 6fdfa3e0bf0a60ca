package recorder

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/signlab/signcoach/internal/camera"
	"github.com/signlab/signcoach/internal/diaglog"
)

// ChunkRecorder buffers encoded frames from the camera stream in memory.
// It is the default backend: no external process, no disk I/O until the
// clip is submitted or explicitly saved.
type ChunkRecorder struct {
	mu         sync.Mutex
	logger     *diaglog.Logger
	recording  bool
	clipID     string
	mimeType   string
	startTime  time.Time
	buf        bytes.Buffer
	stopCh     chan struct{}
	doneCh     chan struct{}
	drainErr   error
	onComplete func(*Clip)
}

// NewChunkRecorder creates a chunk recorder.
func NewChunkRecorder() *ChunkRecorder {
	return &ChunkRecorder{logger: diaglog.NewNoOp()}
}

// Connect is a no-op: the chunk backend has no external process to reach.
func (r *ChunkRecorder) Connect() error { return nil }

// Disconnect is a no-op for the chunk backend.
func (r *ChunkRecorder) Disconnect() {}

// IsConnected always reports true: there is nothing to disconnect from.
func (r *ChunkRecorder) IsConnected() bool { return true }

// SetLogger attaches a diagnostic logger.
func (r *ChunkRecorder) SetLogger(l *diaglog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l != nil {
		r.logger = l
	}
}

// OnComplete registers the clip completion callback. It fires exactly once
// per recording, from the goroutine that calls Stop.
func (r *ChunkRecorder) OnComplete(fn func(*Clip)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onComplete = fn
}

// OnDisconnected is a no-op for the chunk backend.
func (r *ChunkRecorder) OnDisconnected(fn func()) {}

// Start begins draining encoded frames from stream into the clip buffer.
func (r *ChunkRecorder) Start(stream camera.Stream) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return fmt.Errorf("recording already in progress (clip %s)", r.clipID)
	}
	if stream == nil {
		return fmt.Errorf("cannot start recording without a camera stream")
	}

	r.recording = true
	r.clipID = uuid.NewString()
	r.mimeType = stream.MimeType()
	r.startTime = time.Now()
	r.buf.Reset()
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	r.drainErr = nil

	r.logger.Log(diaglog.LogEntry{
		Component: diaglog.ComponentRecorder,
		Event:     diaglog.EventRecordingStart,
		AttemptID: r.clipID,
		Payload:   map[string]interface{}{"backend": "chunk", "mime_type": r.mimeType},
	})

	go r.drain(stream.EncodedReader(), r.stopCh, r.doneCh)
	return nil
}

// drain copies encoded bytes into the clip buffer until told to stop or the
// stream ends. Reads happen at frame boundaries, so the loop observes stopCh
// within one frame interval.
func (r *ChunkRecorder) drain(src io.Reader, stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	chunk := make([]byte, 64*1024)
	for {
		select {
		case <-stopCh:
			return
		default:
		}
		n, err := src.Read(chunk)
		if n > 0 {
			r.mu.Lock()
			r.buf.Write(chunk[:n])
			r.mu.Unlock()
		}
		if err != nil {
			if err != io.EOF {
				r.mu.Lock()
				r.drainErr = err
				r.mu.Unlock()
			}
			return
		}
	}
}

// Stop finalizes the in-flight recording and returns the clip. The
// completion callback fires exactly once, before Stop returns.
func (r *ChunkRecorder) Stop(reason string) (*Clip, error) {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return nil, fmt.Errorf("no recording in progress")
	}
	r.recording = false
	stopCh := r.stopCh
	doneCh := r.doneCh
	clipID := r.clipID
	startTime := r.startTime
	onComplete := r.onComplete
	r.mu.Unlock()

	close(stopCh)
	<-doneCh

	r.mu.Lock()
	data := make([]byte, r.buf.Len())
	copy(data, r.buf.Bytes())
	r.buf.Reset()
	drainErr := r.drainErr
	mimeType := r.mimeType
	r.mu.Unlock()

	if drainErr != nil {
		r.logger.Log(diaglog.LogEntry{
			Component: diaglog.ComponentRecorder,
			Event:     diaglog.EventClipDiscarded,
			AttemptID: clipID,
			Reason:    reason,
			Payload:   map[string]interface{}{"error": drainErr.Error()},
		})
		return nil, fmt.Errorf("camera stream failed during recording: %w", drainErr)
	}

	clip := &Clip{
		ID:        clipID,
		Data:      data,
		MimeType:  mimeType,
		Duration:  time.Since(startTime),
		CreatedAt: startTime,
	}

	r.logger.Log(diaglog.LogEntry{
		Component: diaglog.ComponentRecorder,
		Event:     diaglog.EventClipFinalized,
		AttemptID: clipID,
		Reason:    reason,
		Payload: map[string]interface{}{
			"backend":     "chunk",
			"size_bytes":  len(data),
			"duration_ms": clip.Duration.Milliseconds(),
		},
	})

	if onComplete != nil {
		onComplete(clip)
	}
	return clip, nil
}

// GetState reports the current recorder state.
func (r *ChunkRecorder) GetState() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return State{
		Recording:   r.recording,
		Connected:   true,
		BackendName: "chunk",
		ClipID:      r.clipID,
		StartTime:   r.startTime,
	}
}
