package camera

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/signlab/signcoach/internal/diaglog"
)

type fakeStream struct {
	data     *bytes.Reader
	closed   bool
	closeErr error
	closeCnt int
}

func (s *fakeStream) EncodedReader() io.Reader { return s.data }
func (s *fakeStream) MimeType() string         { return "video/VP8" }
func (s *fakeStream) Close() error {
	s.closeCnt++
	s.closed = true
	return s.closeErr
}

type fakeOpener struct {
	stream  *fakeStream
	openErr error
	opens   int
}

func (o *fakeOpener) Open(ctx context.Context, settings Settings) (Stream, error) {
	o.opens++
	if o.openErr != nil {
		return nil, o.openErr
	}
	return o.stream, nil
}

func newTestManager(opener Opener) *Manager {
	return NewManager(opener, Settings{Width: 1280, Height: 720, FrameRate: 30}, diaglog.NewNoOp())
}

func TestAcquireRelease(t *testing.T) {
	fs := &fakeStream{data: bytes.NewReader([]byte("frames"))}
	m := newTestManager(&fakeOpener{stream: fs})

	stream, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if stream.MimeType() != "video/VP8" {
		t.Errorf("Unexpected mime type: %s", stream.MimeType())
	}
	if !m.Held() {
		t.Error("Expected Held() true after Acquire")
	}

	if err := m.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if m.Held() {
		t.Error("Expected Held() false after Release")
	}
	if !fs.closed {
		t.Error("Release did not close the stream")
	}
}

func TestAcquireWhileHeldFailsFast(t *testing.T) {
	fs := &fakeStream{data: bytes.NewReader(nil)}
	opener := &fakeOpener{stream: fs}
	m := newTestManager(opener)

	if _, err := m.Acquire(context.Background()); err != nil {
		t.Fatalf("First acquire failed: %v", err)
	}

	_, err := m.Acquire(context.Background())
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("Expected ErrBusy, got: %v", err)
	}
	if opener.opens != 1 {
		t.Errorf("Second acquire should not touch the opener, opens = %d", opener.opens)
	}
}

func TestReleaseIdempotent(t *testing.T) {
	fs := &fakeStream{data: bytes.NewReader(nil)}
	m := newTestManager(&fakeOpener{stream: fs})

	// Release without acquire is a no-op.
	if err := m.Release(); err != nil {
		t.Fatalf("Release on unheld camera returned error: %v", err)
	}

	if _, err := m.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := m.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if err := m.Release(); err != nil {
		t.Fatalf("Second release returned error: %v", err)
	}
	if fs.closeCnt != 1 {
		t.Errorf("Stream closed %d times, want 1", fs.closeCnt)
	}
}

func TestAcquireOpenError(t *testing.T) {
	m := newTestManager(&fakeOpener{openErr: ErrPermissionDenied})

	_, err := m.Acquire(context.Background())
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("Expected ErrPermissionDenied, got: %v", err)
	}
	if m.Held() {
		t.Error("Camera should not be held after failed acquire")
	}

	// A failed acquire must not leave the manager stuck.
	m2 := newTestManager(&fakeOpener{stream: &fakeStream{data: bytes.NewReader(nil)}})
	if _, err := m2.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire after failure path failed: %v", err)
	}
	m2.Release()
}

func TestReacquireAfterRelease(t *testing.T) {
	opener := &fakeOpener{stream: &fakeStream{data: bytes.NewReader(nil)}}
	m := newTestManager(opener)

	for i := 0; i < 3; i++ {
		if _, err := m.Acquire(context.Background()); err != nil {
			t.Fatalf("Acquire #%d failed: %v", i+1, err)
		}
		if err := m.Release(); err != nil {
			t.Fatalf("Release #%d failed: %v", i+1, err)
		}
	}
	if opener.opens != 3 {
		t.Errorf("Expected 3 opens, got %d", opener.opens)
	}
}
