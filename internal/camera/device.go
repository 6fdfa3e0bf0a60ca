package camera

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/mediadevices/pkg/prop"

	// Register the platform camera driver.
	_ "github.com/pion/mediadevices/pkg/driver/camera"
)

// DeviceOpener opens real capture hardware through pion/mediadevices and
// produces a VP8 encoded stream.
type DeviceOpener struct{}

// NewDeviceOpener returns an Opener backed by the platform camera driver.
func NewDeviceOpener() *DeviceOpener {
	return &DeviceOpener{}
}

// Open opens the camera described by settings and starts VP8 encoding.
func (o *DeviceOpener) Open(ctx context.Context, settings Settings) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vp8Params, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("failed to create VP8 encoder params: %w", err)
	}
	vp8Params.BitRate = 2_000_000

	codecSelector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vp8Params),
	)

	mediaStream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			if settings.DeviceID != "" {
				c.DeviceID = prop.String(settings.DeviceID)
			}
			if settings.Width > 0 {
				c.Width = prop.Int(settings.Width)
			}
			if settings.Height > 0 {
				c.Height = prop.Int(settings.Height)
			}
			if settings.FrameRate > 0 {
				c.FrameRate = prop.Float(settings.FrameRate)
			}
		},
		Codec: codecSelector,
	})
	if err != nil {
		return nil, classifyOpenError(err)
	}

	tracks := mediaStream.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, ErrDeviceUnavailable
	}
	track := tracks[0]

	mimeType := vp8Params.RTPCodec().MimeType
	reader, err := track.NewEncodedIOReader(mimeType)
	if err != nil {
		track.Close()
		return nil, fmt.Errorf("failed to start encoder: %w", err)
	}

	return &deviceStream{
		track:    track,
		reader:   reader,
		mimeType: mimeType,
	}, nil
}

// classifyOpenError maps driver failures onto the package error values so
// callers can distinguish permission problems from missing hardware.
func classifyOpenError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission") || strings.Contains(msg, "access denied") || strings.Contains(msg, "not authorized"):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case strings.Contains(msg, "failed to find") || strings.Contains(msg, "no such device") || strings.Contains(msg, "not found") || strings.Contains(msg, "busy"):
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	default:
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
}

type deviceStream struct {
	track    mediadevices.Track
	reader   io.ReadCloser
	mimeType string

	closeOnce sync.Once
	closeErr  error
}

func (s *deviceStream) EncodedReader() io.Reader { return s.reader }

func (s *deviceStream) MimeType() string { return s.mimeType }

func (s *deviceStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.reader.Close()
		if err := s.track.Close(); err != nil && s.closeErr == nil {
			s.closeErr = err
		}
	})
	return s.closeErr
}
