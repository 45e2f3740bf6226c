package checkin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"classbeacon/internal/attendance"
	"classbeacon/internal/metrics"
	"classbeacon/internal/window"
)

// DefaultSessionTTL is how long an untouched session is kept.
const DefaultSessionTTL = 2 * time.Hour

// Backend is the identity and persistence collaborator.
type Backend interface {
	Profile(ctx context.Context, id string) (attendance.Profile, error)
	Subject(ctx context.Context, id string) (attendance.Subject, error)
	ListSubjects(ctx context.Context) ([]attendance.Subject, error)
	RecordCheckIn(ctx context.Context, in attendance.CheckIn) (attendance.Record, error)
}

// WindowReader is the view of the attendance window a session needs.
type WindowReader interface {
	Snapshot(ctx context.Context) window.Snapshot
}

// Service holds live sessions and drives their transitions. Collaborator
// calls never run under the lock.
type Service struct {
	backend Backend
	window  WindowReader
	media   MediaSource
	log     *slog.Logger
	ttl     time.Duration
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
	byUser   map[string]string
}

// NewService wires a Service. A zero ttl uses DefaultSessionTTL.
func NewService(backend Backend, win WindowReader, media MediaSource, ttl time.Duration, log *slog.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		backend:  backend,
		window:   win,
		media:    media,
		log:      log,
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]*Session),
		byUser:   make(map[string]string),
	}
}

// Create starts a session for userID, replacing any previous one. The
// identity flag reflects whether the user has a profile and the subject
// defaults to the first one by name.
func (s *Service) Create(ctx context.Context, userID string) (View, error) {
	identity := true
	if _, err := s.backend.Profile(ctx, userID); err != nil {
		if !errors.Is(err, attendance.ErrProfileNotFound) {
			return View{}, fmt.Errorf("load profile: %w", err)
		}
		identity = false
	}

	var subjectID string
	subjects, err := s.backend.ListSubjects(ctx)
	if err != nil {
		s.log.Warn("subject list unavailable, session starts without a subject", "user_id", userID, "error", err)
	} else if len(subjects) > 0 {
		subjectID = subjects[0].ID
	}

	sess := newSession(uuid.NewString(), userID, identity, subjectID, s.now())
	snap := s.window.Snapshot(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.byUser[userID]; ok {
		delete(s.sessions, prev)
	}
	s.sessions[sess.ID] = sess
	s.byUser[userID] = sess.ID
	metrics.ActiveSessions.Set(float64(len(s.sessions)))
	return sess.view(snap), nil
}

// Get returns the current view of a session owned by userID.
func (s *Service) Get(ctx context.Context, id, userID string) (View, error) {
	snap := s.window.Snapshot(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.lookup(id, userID)
	if err != nil {
		return View{}, err
	}
	return sess.view(snap), nil
}

// AcquireCamera runs one camera acquisition. Failures are reported in the
// returned view, not as errors. A result that arrives after a newer attempt
// started is discarded.
func (s *Service) AcquireCamera(ctx context.Context, id, userID string, req CaptureRequest) (View, error) {
	s.mu.Lock()
	sess, err := s.lookup(id, userID)
	if err != nil {
		s.mu.Unlock()
		return View{}, err
	}
	gen := sess.beginCamera()
	s.mu.Unlock()

	capture, acqErr := s.media.Acquire(ctx, id, req)

	snap := s.window.Snapshot(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err = s.lookup(id, userID)
	if err != nil {
		return View{}, err
	}
	switch {
	case !sess.finishCamera(gen, capture, acqErr):
		metrics.CameraAcquisitions.WithLabelValues("superseded").Inc()
	case acqErr != nil:
		metrics.CameraAcquisitions.WithLabelValues(cameraOutcome(acqErr)).Inc()
		s.log.Info("camera acquisition failed", "session_id", id, "error", acqErr)
	default:
		metrics.CameraAcquisitions.WithLabelValues("ready").Inc()
	}
	return sess.view(snap), nil
}

func cameraOutcome(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "denied"
	case errors.Is(err, ErrNoCaptureDevice):
		return "no_device"
	case errors.Is(err, ErrCaptureStore):
		return "store_failed"
	default:
		return "error"
	}
}

// ToggleBeacon flips the session's beacon presence.
func (s *Service) ToggleBeacon(ctx context.Context, id, userID string) (View, error) {
	snap := s.window.Snapshot(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.lookup(id, userID)
	if err != nil {
		return View{}, err
	}
	sess.toggleBeacon()
	return sess.view(snap), nil
}

// SelectSubject sets the session's subject. An empty id clears the selection.
func (s *Service) SelectSubject(ctx context.Context, id, userID, subjectID string) (View, error) {
	if subjectID != "" {
		if _, err := s.backend.Subject(ctx, subjectID); err != nil {
			return View{}, err
		}
	}
	snap := s.window.Snapshot(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.lookup(id, userID)
	if err != nil {
		return View{}, err
	}
	sess.selectSubject(subjectID)
	return sess.view(snap), nil
}

// Submit re-checks the gate against the live window and records attendance.
// A rejected submission leaves every readiness flag as it was.
func (s *Service) Submit(ctx context.Context, id, userID string) (View, attendance.Record, error) {
	snap := s.window.Snapshot(ctx)

	s.mu.Lock()
	sess, err := s.lookup(id, userID)
	if err != nil {
		s.mu.Unlock()
		return View{}, attendance.Record{}, err
	}
	if err := sess.beginSubmit(snap.Open); err != nil {
		v := sess.view(snap)
		s.mu.Unlock()
		metrics.CheckIns.WithLabelValues("blocked").Inc()
		return v, attendance.Record{}, err
	}
	in := attendance.CheckIn{
		UserID:     sess.UserID,
		SubjectID:  sess.readiness.SubjectSelected,
		CaptureURL: sess.capture,
	}
	s.mu.Unlock()

	rec, recErr := s.backend.RecordCheckIn(ctx, in)
	snap = s.window.Snapshot(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	sess.finishSubmit(rec.ID, displayError(recErr))
	sess.touchedAt = s.now()
	v := sess.view(snap)
	if recErr != nil {
		metrics.CheckIns.WithLabelValues("rejected").Inc()
		s.log.Warn("check-in rejected", "session_id", id, "user_id", userID, "error", recErr)
		return v, attendance.Record{}, recErr
	}
	metrics.CheckIns.WithLabelValues("recorded").Inc()
	s.log.Info("check-in recorded", "session_id", id, "user_id", userID, "subject_id", rec.SubjectID)
	return v, rec, nil
}

// displayError keeps domain rejections readable and hides storage details.
func displayError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, attendance.ErrDuplicateCheckIn),
		errors.Is(err, attendance.ErrSubjectNotFound),
		errors.Is(err, attendance.ErrProfileNotFound):
		return err
	}
	return ErrRecordFailed
}

// lookup finds a session owned by userID and marks it used. Callers hold mu.
func (s *Service) lookup(id, userID string) (*Session, error) {
	sess, ok := s.sessions[id]
	if !ok || sess.UserID != userID {
		return nil, ErrSessionNotFound
	}
	sess.touchedAt = s.now()
	return sess, nil
}

// Evict drops sessions untouched for longer than the TTL and returns how many
// were removed. Sessions mid-submission are kept.
func (s *Service) Evict() int {
	cutoff := s.now().Add(-s.ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sess := range s.sessions {
		if sess.state == StateSubmitting || sess.touchedAt.After(cutoff) {
			continue
		}
		delete(s.sessions, id)
		if s.byUser[sess.UserID] == id {
			delete(s.byUser, sess.UserID)
		}
		n++
	}
	metrics.ActiveSessions.Set(float64(len(s.sessions)))
	return n
}

// Run evicts expired sessions every interval until ctx is done.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Evict(); n > 0 {
				s.log.Debug("evicted idle check-in sessions", "count", n)
			}
		}
	}
}
