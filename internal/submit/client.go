// Package submit uploads finalized clips to the inference service and turns
// its response into a correctness verdict for the current word.
package submit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/signlab/signcoach/internal/diaglog"
	"github.com/signlab/signcoach/internal/recorder"
)

// Config configures the submission client.
type Config struct {
	BaseURL        string
	TimeoutSeconds int // default 120
}

// Verdict is the outcome of a successful submission.
type Verdict struct {
	Correct          bool
	PredictedClassID string // dataset class id as sent on the wire
	ModelIndex       int    // raw model output index
}

// Client uploads clips to the inference service.
type Client struct {
	cfg    Config
	client *http.Client

	logger   *diaglog.Logger
	loggerMu sync.RWMutex
}

// NewClient creates a submission client.
func NewClient(cfg Config) *Client {
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 120
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg: cfg,
		// Timeout is enforced per-request via context so a caller abort
		// (word change) cancels the upload immediately.
		client: &http.Client{},
	}
}

// SetLogger injects a diaglog.Logger for debug logging.
func (c *Client) SetLogger(l *diaglog.Logger) {
	c.loggerMu.Lock()
	c.logger = l
	c.loggerMu.Unlock()
}

func (c *Client) log(entry diaglog.LogEntry) {
	c.loggerMu.RLock()
	l := c.logger
	c.loggerMu.RUnlock()
	if l == nil {
		return
	}
	if entry.Component == "" {
		entry.Component = diaglog.ComponentSubmitter
	}
	l.Log(entry)
}

// predictResponse mirrors the JSON shape returned by the inference service.
type predictResponse struct {
	Success        bool            `json:"success"`
	PredictedClass json.RawMessage `json:"predicted_class"`
	ClassIndex     int             `json:"class_id"`
	ErrorMsg       string          `json:"error"`
}

// Submit uploads clip and compares the predicted class id against
// expectedClassID. An empty expectedClassID short-circuits with
// KindUnmappedWord before any I/O.
func (c *Client) Submit(ctx context.Context, clip *recorder.Clip, expectedClassID string) (*Verdict, error) {
	if expectedClassID == "" {
		return nil, &Error{Kind: KindUnmappedWord}
	}
	if clip == nil || (len(clip.Data) == 0 && clip.Path == "") {
		return nil, &Error{Kind: KindTransport, Err: fmt.Errorf("no clip to submit")}
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(c.cfg.TimeoutSeconds)*time.Second)
	defer cancel()

	c.log(diaglog.LogEntry{
		Event:     diaglog.EventSubmitStart,
		AttemptID: clip.ID,
		Payload: map[string]interface{}{
			"expected_class_id": expectedClassID,
			"size_bytes":        len(clip.Data),
			"path":              clip.Path,
		},
	})

	resp, err := c.doSubmit(ctx, clip)
	if err != nil {
		c.log(diaglog.LogEntry{
			Event:     diaglog.EventSubmitFailed,
			AttemptID: clip.ID,
			Payload:   map[string]interface{}{"kind": string(KindOf(err)), "error": err.Error()},
		})
		return nil, err
	}

	if !resp.Success {
		err := &Error{Kind: KindInference, Message: resp.ErrorMsg}
		c.log(diaglog.LogEntry{
			Event:     diaglog.EventSubmitFailed,
			AttemptID: clip.ID,
			Payload:   map[string]interface{}{"kind": string(KindInference), "error": resp.ErrorMsg},
		})
		return nil, err
	}

	predicted := normalizeClassID(resp.PredictedClass)
	verdict := &Verdict{
		// Wire contract: class ids compare as strings, never as parsed
		// integers.
		Correct:          predicted == expectedClassID,
		PredictedClassID: predicted,
		ModelIndex:       resp.ClassIndex,
	}

	c.log(diaglog.LogEntry{
		Event:     diaglog.EventSubmitResult,
		AttemptID: clip.ID,
		Payload: map[string]interface{}{
			"correct":            verdict.Correct,
			"predicted_class_id": verdict.PredictedClassID,
			"expected_class_id":  expectedClassID,
		},
	})
	return verdict, nil
}

// doSubmit performs a single multipart POST to the predict endpoint.
func (c *Client) doSubmit(ctx context.Context, clip *recorder.Clip) (*predictResponse, error) {
	body, contentType, errCh, cleanup, err := c.multipartBody(clip)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	url := c.cfg.BaseURL + "/predict"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &Error{Kind: KindTimeout, Err: err}
		}
		return nil, &Error{Kind: KindTransport, Err: fmt.Errorf("http request: %w", err)}
	}
	defer resp.Body.Close()

	if writeErr := <-errCh; writeErr != nil {
		return nil, &Error{Kind: KindTransport, Err: fmt.Errorf("multipart write: %w", writeErr)}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &Error{Kind: KindTimeout, Err: err}
		}
		return nil, &Error{Kind: KindTransport, Err: fmt.Errorf("read response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{
			Kind:       KindTransport,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("http %d: %s", resp.StatusCode, truncate(respBody, 200)),
		}
	}

	var parsed predictResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &Error{Kind: KindTransport, Err: fmt.Errorf("decode response: %w", err)}
	}
	return &parsed, nil
}

// multipartBody streams the clip as multipart field "video" through a pipe
// so large clips are never buffered twice.
func (c *Client) multipartBody(clip *recorder.Clip) (io.Reader, string, chan error, func(), error) {
	var src io.ReadCloser
	filename := clip.ID + ".webm"

	if clip.Path != "" {
		f, err := os.Open(clip.Path)
		if err != nil {
			return nil, "", nil, nil, &Error{Kind: KindTransport, Err: fmt.Errorf("open clip file: %w", err)}
		}
		src = f
		filename = filepath.Base(clip.Path)
	} else {
		src = io.NopCloser(strings.NewReader(string(clip.Data)))
	}

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	errCh := make(chan error, 1)

	go func() {
		defer pw.Close()

		part, err := writer.CreateFormFile("video", filename)
		if err != nil {
			errCh <- fmt.Errorf("create form file: %w", err)
			return
		}
		if _, err := io.Copy(part, src); err != nil {
			errCh <- fmt.Errorf("copy clip data: %w", err)
			return
		}
		errCh <- writer.Close()
	}()

	cleanup := func() { _ = src.Close() }
	return pr, writer.FormDataContentType(), errCh, cleanup, nil
}

// Warmup probes the service root so the first real submission does not pay
// for model cold start. Failures are reported but never fatal.
func (c *Client) Warmup(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// normalizeClassID renders the wire value of predicted_class as the plain
// decimal string used for comparison, whether the server sent it as a JSON
// number or a quoted string.
func normalizeClassID(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	s = strings.Trim(s, `"`)
	return s
}

func asSubmitError(err error, target **Error) bool {
	return errors.As(err, target)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
