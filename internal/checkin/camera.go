package checkin

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// CameraState tracks camera acquisition for a session.
type CameraState string

const (
	CameraIdle      CameraState = "idle"
	CameraRequested CameraState = "requested"
	CameraReady     CameraState = "ready"
	CameraError     CameraState = "error"
)

var (
	ErrPermissionDenied = errors.New("camera permission was denied")
	ErrNoCaptureDevice  = errors.New("no capture device available")
	ErrUnreadableFrame  = errors.New("camera frame could not be read")
	ErrCaptureStore     = errors.New("camera frame could not be stored")
)

// DefaultMaxFrameBytes bounds a decoded preview frame.
const DefaultMaxFrameBytes = 2 << 20

// CaptureRequest is what the client's media subsystem reported.
type CaptureRequest struct {
	// Frame is a data URL of one preview frame, empty when nothing was captured.
	Frame string
	// Denied is set when the user refused camera access.
	Denied bool
	// Error is the client's own message, shown instead of the default one.
	Error string
}

// Capture is a bound capture: the reference a record will carry.
type Capture struct {
	Ref string
}

// CameraFailure is a reported, retryable acquisition failure.
type CameraFailure struct {
	Err    error
	Detail string
}

func (e *CameraFailure) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return e.Err.Error()
}

func (e *CameraFailure) Unwrap() error { return e.Err }

// MediaSource turns a client capture report into a bound capture.
type MediaSource interface {
	Acquire(ctx context.Context, sessionID string, req CaptureRequest) (Capture, error)
}

// CaptureStore persists preview frames somewhere addressable.
type CaptureStore interface {
	StoreCapture(ctx context.Context, key, dataURL string) (string, error)
}

// FrameSource validates preview frames and binds them, storing them through
// CaptureStore when one is configured.
type FrameSource struct {
	store    CaptureStore
	maxBytes int
}

// NewFrameSource builds a FrameSource. A nil store binds frames in place.
func NewFrameSource(store CaptureStore, maxBytes int) *FrameSource {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFrameBytes
	}
	return &FrameSource{store: store, maxBytes: maxBytes}
}

// Acquire implements MediaSource.
func (f *FrameSource) Acquire(ctx context.Context, sessionID string, req CaptureRequest) (Capture, error) {
	if req.Denied {
		return Capture{}, &CameraFailure{Err: ErrPermissionDenied, Detail: req.Error}
	}
	frame := strings.TrimSpace(req.Frame)
	if frame == "" {
		return Capture{}, &CameraFailure{Err: ErrNoCaptureDevice, Detail: req.Error}
	}
	if err := checkFrame(frame, f.maxBytes); err != nil {
		if errors.Is(err, errFrameTooLarge) {
			return Capture{}, &CameraFailure{Err: ErrUnreadableFrame, Detail: fmt.Sprintf("camera frame is larger than %d bytes", f.maxBytes)}
		}
		return Capture{}, &CameraFailure{Err: ErrUnreadableFrame}
	}
	if f.store == nil {
		return Capture{Ref: "inline:" + sessionID}, nil
	}
	url, err := f.store.StoreCapture(ctx, sessionID, frame)
	if err != nil {
		return Capture{}, &CameraFailure{Err: errors.Join(ErrCaptureStore, err), Detail: ErrCaptureStore.Error()}
	}
	return Capture{Ref: url}, nil
}

var errFrameTooLarge = errors.New("frame too large")

// checkFrame validates a data:image/...;base64, URL. The size limit is
// applied to the encoded length before anything is decoded.
func checkFrame(frame string, maxBytes int) error {
	if !strings.HasPrefix(frame, "data:image/") {
		return errors.New("not an image data URL")
	}
	idx := strings.Index(frame, ";base64,")
	if idx < 0 {
		return errors.New("data URL is not base64")
	}
	payload := frame[idx+len(";base64,"):]
	padding := len(payload) - len(strings.TrimRight(payload, "="))
	if base64.StdEncoding.DecodedLen(len(payload))-padding > maxBytes {
		return errFrameTooLarge
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return errors.New("empty frame")
	}
	return nil
}
