package recorder

import (
	"bytes"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

// slowStream feeds data in fixed-size frames with a short delay, imitating
// an encoder producing frames at intervals. After Close, reads return EOF.
type slowStream struct {
	mu     sync.Mutex
	data   []byte
	pos    int
	frame  int
	delay  time.Duration
	closed bool
}

func newSlowStream(data []byte, frame int, delay time.Duration) *slowStream {
	return &slowStream{data: data, frame: frame, delay: delay}
}

func (s *slowStream) EncodedReader() io.Reader { return s }
func (s *slowStream) MimeType() string         { return "video/VP8" }

func (s *slowStream) Read(p []byte) (int, error) {
	time.Sleep(s.delay)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.pos >= len(s.data) {
		return 0, io.EOF
	}
	end := s.pos + s.frame
	if end > len(s.data) {
		end = len(s.data)
	}
	n := copy(p, s.data[s.pos:end])
	s.pos += n
	return n, nil
}

func (s *slowStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func TestChunkRecorderStartStop(t *testing.T) {
	payload := []byte(strings.Repeat("frame-data-", 100))
	stream := newSlowStream(payload, 64, time.Millisecond)

	r := NewChunkRecorder()
	var completed []*Clip
	r.OnComplete(func(c *Clip) { completed = append(completed, c) })

	if err := r.Start(stream); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !r.GetState().Recording {
		t.Error("Expected Recording true after Start")
	}

	// Let the drain loop consume the whole payload.
	time.Sleep(100 * time.Millisecond)

	clip, err := r.Stop("user")
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if clip.ID == "" {
		t.Error("Clip has no ID")
	}
	if clip.MimeType != "video/VP8" {
		t.Errorf("Unexpected mime type: %s", clip.MimeType)
	}
	if !bytes.Equal(clip.Data, payload) {
		t.Errorf("Clip data mismatch: got %d bytes, want %d", len(clip.Data), len(payload))
	}
	if clip.Duration <= 0 {
		t.Error("Clip duration not set")
	}

	if len(completed) != 1 {
		t.Fatalf("Completion callback fired %d times, want 1", len(completed))
	}
	if completed[0].ID != clip.ID {
		t.Error("Completion callback received a different clip")
	}

	if r.GetState().Recording {
		t.Error("Expected Recording false after Stop")
	}
}

func TestChunkRecorderDoubleStart(t *testing.T) {
	stream := newSlowStream([]byte("data"), 4, time.Millisecond)
	r := NewChunkRecorder()

	if err := r.Start(stream); err != nil {
		t.Fatalf("First start failed: %v", err)
	}
	defer r.Stop("cleanup")

	if err := r.Start(stream); err == nil {
		t.Error("Expected error on second Start, got nil")
	}
}

func TestChunkRecorderStopWithoutStart(t *testing.T) {
	r := NewChunkRecorder()
	if _, err := r.Stop("user"); err == nil {
		t.Error("Expected error stopping an idle recorder, got nil")
	}
}

func TestChunkRecorderSingleCompletionEvent(t *testing.T) {
	stream := newSlowStream([]byte(strings.Repeat("x", 1024)), 64, time.Millisecond)
	r := NewChunkRecorder()

	var mu sync.Mutex
	fired := 0
	r.OnComplete(func(c *Clip) {
		mu.Lock()
		fired++
		mu.Unlock()
	})

	if err := r.Start(stream); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Race Stop from several goroutines; exactly one should win.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Stop("race")
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if fired != 1 {
		t.Errorf("Completion callback fired %d times, want exactly 1", fired)
	}
}

func TestChunkRecorderReuseAfterStop(t *testing.T) {
	r := NewChunkRecorder()

	first := newSlowStream([]byte("first-clip"), 10, time.Millisecond)
	if err := r.Start(first); err != nil {
		t.Fatalf("Start #1 failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	clip1, err := r.Stop("user")
	if err != nil {
		t.Fatalf("Stop #1 failed: %v", err)
	}

	second := newSlowStream([]byte("second-clip"), 11, time.Millisecond)
	if err := r.Start(second); err != nil {
		t.Fatalf("Start #2 failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	clip2, err := r.Stop("user")
	if err != nil {
		t.Fatalf("Stop #2 failed: %v", err)
	}

	if clip1.ID == clip2.ID {
		t.Error("Expected distinct clip IDs across recordings")
	}
	if string(clip2.Data) != "second-clip" {
		t.Errorf("Second clip carries stale data: %q", clip2.Data)
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	chunk := NewChunkRecorder()
	reg.Register("chunk", chunk)

	if reg.ActiveName() != "chunk" {
		t.Errorf("First registered backend should be active, got %q", reg.ActiveName())
	}
	if reg.Active() != Recorder(chunk) {
		t.Error("Active() did not return the registered backend")
	}

	if err := reg.SetActive("missing"); err == nil {
		t.Error("Expected error selecting unknown backend")
	}

	other := NewChunkRecorder()
	reg.Register("other", other)
	if err := reg.SetActive("other"); err != nil {
		t.Fatalf("SetActive failed: %v", err)
	}
	if reg.ActiveName() != "other" {
		t.Errorf("Active backend = %q, want other", reg.ActiveName())
	}

	if got := len(reg.Backends()); got != 2 {
		t.Errorf("Backends() returned %d names, want 2", got)
	}
}
