package checkin

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"classbeacon/internal/window"
)

// State is the submission state of a session.
type State string

const (
	StateReady      State = "ready"
	StateSubmitting State = "submitting"
	StateSubmitted  State = "submitted"
)

var (
	ErrSessionNotFound      = errors.New("check-in session not found")
	ErrSubmissionInProgress = errors.New("a check-in submission is already in progress")
	ErrAlreadySubmitted     = errors.New("attendance already submitted for this session")
	ErrNotReady             = errors.New("check-in requirements not met")
	ErrRecordFailed         = errors.New("attendance could not be recorded, try again")
)

// NotReadyError lists the dimensions that blocked a submission.
type NotReadyError struct {
	Missing []string
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("%s: %s", ErrNotReady, strings.Join(e.Missing, ", "))
}

func (e *NotReadyError) Is(target error) bool { return target == ErrNotReady }

// Session is one student's check-in attempt. Its methods are pure state
// transitions; callers serialize access.
type Session struct {
	ID     string
	UserID string

	readiness Readiness
	camera    CameraState
	cameraErr string
	capture   string
	cameraGen uint64

	state    State
	lastErr  string
	recordID string

	touchedAt time.Time
}

func newSession(id, userID string, identity bool, subjectID string, now time.Time) *Session {
	return &Session{
		ID:     id,
		UserID: userID,
		readiness: Readiness{
			IdentityPresent: identity,
			SubjectSelected: subjectID,
		},
		camera:    CameraIdle,
		state:     StateReady,
		touchedAt: now,
	}
}

// beginCamera starts a new acquisition and returns its generation. Any
// acquisition still in flight is superseded.
func (s *Session) beginCamera() uint64 {
	s.cameraGen++
	s.camera = CameraRequested
	s.cameraErr = ""
	s.readiness.CameraReady = false
	return s.cameraGen
}

// finishCamera applies an acquisition result. It returns false and changes
// nothing when gen is no longer the latest attempt.
func (s *Session) finishCamera(gen uint64, c Capture, err error) bool {
	if gen != s.cameraGen {
		return false
	}
	if err != nil {
		s.camera = CameraError
		s.cameraErr = err.Error()
		s.capture = ""
		s.readiness.CameraReady = false
		return true
	}
	s.camera = CameraReady
	s.capture = c.Ref
	s.readiness.CameraReady = true
	return true
}

func (s *Session) toggleBeacon() {
	s.readiness.BeaconPresent = ToggleBeacon(s.readiness.BeaconPresent)
}

func (s *Session) selectSubject(id string) {
	s.readiness.SubjectSelected = id
}

// beginSubmit checks the gate against windowOpen and moves to submitting.
func (s *Session) beginSubmit(windowOpen bool) error {
	switch s.state {
	case StateSubmitting:
		return ErrSubmissionInProgress
	case StateSubmitted:
		return ErrAlreadySubmitted
	}
	if !Evaluate(windowOpen, s.readiness) {
		return &NotReadyError{Missing: Missing(windowOpen, s.readiness)}
	}
	s.state = StateSubmitting
	s.lastErr = ""
	return nil
}

// finishSubmit records the outcome. A failure returns the session to ready
// with its readiness untouched so the student can retry.
func (s *Session) finishSubmit(recordID string, err error) {
	if err != nil {
		s.state = StateReady
		s.lastErr = err.Error()
		return
	}
	s.state = StateSubmitted
	s.recordID = recordID
}

// View is the client-facing state of a session.
type View struct {
	ID          string          `json:"id"`
	Readiness   Readiness       `json:"readiness"`
	Window      window.Snapshot `json:"window"`
	CanCheckIn  bool            `json:"can_check_in"`
	Missing     []string        `json:"missing"`
	Camera      CameraState     `json:"camera"`
	CameraError string          `json:"camera_error,omitempty"`
	CaptureRef  string          `json:"capture_ref,omitempty"`
	State       State           `json:"state"`
	LastError   string          `json:"last_error,omitempty"`
	RecordID    string          `json:"record_id,omitempty"`
}

func (s *Session) view(snap window.Snapshot) View {
	v := View{
		ID:          s.ID,
		Readiness:   s.readiness,
		Window:      snap,
		Camera:      s.camera,
		CameraError: s.cameraErr,
		CaptureRef:  s.capture,
		State:       s.state,
		LastError:   s.lastErr,
		RecordID:    s.recordID,
	}
	v.CanCheckIn = s.state == StateReady && Evaluate(snap.Open, s.readiness)
	v.Missing = Missing(snap.Open, s.readiness)
	return v
}
