package extract

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/signlab/signcoach/internal/landmark"
)

// Sentinel failures surfaced to the HTTP layer. Both render as an inference
// failure on the wire, never as a transport error.
var (
	// ErrCorruptVideo means the clip could not be decoded or contained no
	// frames.
	ErrCorruptVideo = errors.New("video could not be decoded")

	// ErrNoPersonDetected means the clip decoded fine but no frame had any
	// detectable landmarks.
	ErrNoPersonDetected = errors.New("no person detected in video")
)

// Extractor decodes clips and runs per-frame landmark detection.
type Extractor struct {
	detector landmark.Detector
	log      *zap.SugaredLogger
}

// New creates an extractor around the given detector.
func New(detector landmark.Detector, log *zap.SugaredLogger) *Extractor {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Extractor{detector: detector, log: log}
}

// Extract produces the classifier input tensor for the video at path.
//
// Frames where detection finds no landmark group at all are dropped before
// resampling; if every frame is dropped the clip is unusable and
// ErrNoPersonDetected is returned. The tensor is all-or-nothing: any error
// yields a nil tensor.
func (e *Extractor) Extract(ctx context.Context, path string) (*Tensor, error) {
	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptVideo, err)
	}
	defer func() { _ = vc.Close() }()

	img := gocv.NewMat()
	defer func() { _ = img.Close() }()

	var (
		detected []landmark.Frame
		total    int
	)
	for vc.Read(&img) {
		if img.Empty() {
			continue
		}
		total++

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
		if err != nil {
			return nil, fmt.Errorf("%w: frame %d: %v", ErrCorruptVideo, total, err)
		}
		jpeg := make([]byte, len(buf.GetBytes()))
		copy(jpeg, buf.GetBytes())
		buf.Close()

		det, err := e.detector.Detect(ctx, jpeg)
		if err != nil {
			return nil, fmt.Errorf("landmark detection failed on frame %d: %w", total, err)
		}
		if det.Empty() {
			continue
		}
		detected = append(detected, det.Frame())
	}

	if total == 0 {
		return nil, fmt.Errorf("%w: video file contained no frames", ErrCorruptVideo)
	}
	if len(detected) == 0 {
		return nil, ErrNoPersonDetected
	}

	e.log.Debugw("extracted landmark sequence",
		"frames_total", total,
		"frames_detected", len(detected),
		"sequence_length", SequenceLength)

	return FromFrames(Resample(detected, SequenceLength)), nil
}
