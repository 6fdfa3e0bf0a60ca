package testutil

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/signlab/signcoach/internal/camera"
)

// FakeCamera is an in-memory camera.Opener producing a stream that emits a
// small encoded chunk every millisecond until it is closed.
type FakeCamera struct {
	mu      sync.Mutex
	opens   int
	closes  int
	failErr error
}

// NewFakeCamera creates a fake camera that opens successfully.
func NewFakeCamera() *FakeCamera { return &FakeCamera{} }

// FailWith makes every subsequent Open return err.
func (f *FakeCamera) FailWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failErr = err
}

// Opens reports how many times the camera was opened.
func (f *FakeCamera) Opens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

// Closes reports how many streams were closed.
func (f *FakeCamera) Closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

// Open implements camera.Opener.
func (f *FakeCamera) Open(ctx context.Context, settings camera.Settings) (camera.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return nil, f.failErr
	}
	f.opens++
	return &fakeStream{cam: f, done: make(chan struct{})}, nil
}

type fakeStream struct {
	cam  *FakeCamera
	done chan struct{}
	once sync.Once
}

func (s *fakeStream) EncodedReader() io.Reader { return s }

func (s *fakeStream) MimeType() string { return "video/VP8" }

func (s *fakeStream) Read(p []byte) (int, error) {
	select {
	case <-s.done:
		return 0, io.EOF
	case <-time.After(time.Millisecond):
	}
	n := copy(p, []byte("frame-bytes-"))
	return n, nil
}

func (s *fakeStream) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.cam.mu.Lock()
		s.cam.closes++
		s.cam.mu.Unlock()
	})
	return nil
}
