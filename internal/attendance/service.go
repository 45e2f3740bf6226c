package attendance

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"classbeacon/internal/auth"
)

var (
	ErrProfileNotFound     = errors.New("profile not found")
	ErrSubjectNotFound     = errors.New("subject not found")
	ErrDuplicateProfile    = errors.New("a profile with this email already exists")
	ErrDuplicateSubject    = errors.New("subject code already exists")
	ErrDuplicateCheckIn    = errors.New("attendance already recorded for this subject today")
	ErrRefreshTokenInvalid = errors.New("refresh token is invalid, revoked or expired")
	ErrInvalidProfile      = errors.New("invalid profile")
	ErrInvalidSubject      = errors.New("invalid subject")
)

// StatusPresent is the only status a check-in produces.
const StatusPresent = "present"

// Profile is the identity collaborator's view of a user.
type Profile struct {
	ID        string    `json:"id"`
	FullName  string    `json:"full_name"`
	Email     string    `json:"email"`
	StudentID string    `json:"student_id,omitempty"`
	Role      auth.Role `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// Subject is a course students check in to.
type Subject struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"created_at"`
}

// Record is one stored check-in.
type Record struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	SubjectID      string    `json:"subject_id"`
	SubjectName    string    `json:"subject_name,omitempty"`
	SubjectCode    string    `json:"subject_code,omitempty"`
	StudentID      string    `json:"student_id"`
	StudentName    string    `json:"student_name"`
	StudentEmail   *string   `json:"student_email"`
	AttendanceDate string    `json:"attendance_date"`
	CheckInTime    time.Time `json:"check_in_time"`
	CaptureURL     string    `json:"capture_url,omitempty"`
	Status         string    `json:"status"`
}

// CheckIn is a request to record attendance.
type CheckIn struct {
	UserID     string
	SubjectID  string
	CaptureURL string
}

// Service wraps the repository with validation and record construction.
type Service struct {
	repo *Repository
	now  func() time.Time
}

// NewService creates a service backed by a repository.
func NewService(repo *Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// RegisterProfile validates and stores a new profile. Registering an email
// twice returns ErrDuplicateProfile and leaves the existing row untouched.
func (s *Service) RegisterProfile(ctx context.Context, fullName, email, studentID string, role auth.Role) (Profile, error) {
	fullName = strings.TrimSpace(fullName)
	email = strings.ToLower(strings.TrimSpace(email))
	if fullName == "" {
		return Profile{}, fmt.Errorf("%w: full name required", ErrInvalidProfile)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return Profile{}, fmt.Errorf("%w: email %q", ErrInvalidProfile, email)
	}
	if _, err := auth.ParseRole(string(role)); err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	p := Profile{
		ID:        uuid.NewString(),
		FullName:  fullName,
		Email:     email,
		StudentID: strings.TrimSpace(studentID),
		Role:      role,
		CreatedAt: s.now().UTC().Truncate(time.Millisecond),
	}
	if err := s.repo.InsertProfile(ctx, p); err != nil {
		if errors.Is(err, ErrDuplicateProfile) {
			return Profile{}, err
		}
		return Profile{}, fmt.Errorf("store profile: %w", err)
	}
	return p, nil
}

// Profile returns a profile by id.
func (s *Service) Profile(ctx context.Context, id string) (Profile, error) {
	p, err := s.repo.GetProfile(ctx, id)
	if err != nil {
		return Profile{}, fmt.Errorf("load profile: %w", err)
	}
	if p == nil {
		return Profile{}, ErrProfileNotFound
	}
	return *p, nil
}

// SaveRefreshToken remembers an issued refresh token.
func (s *Service) SaveRefreshToken(ctx context.Context, profileID, token string, expiresAt time.Time) error {
	return s.repo.SaveRefreshToken(ctx, profileID, token, expiresAt)
}

// RotateRefreshToken revokes token and returns the owning profile.
func (s *Service) RotateRefreshToken(ctx context.Context, token string) (Profile, error) {
	profileID, err := s.repo.ConsumeRefreshToken(ctx, token, s.now())
	if err != nil {
		return Profile{}, err
	}
	return s.Profile(ctx, profileID)
}

// CreateSubject validates and stores a subject.
func (s *Service) CreateSubject(ctx context.Context, name, code string) (Subject, error) {
	name = strings.TrimSpace(name)
	code = strings.ToUpper(strings.TrimSpace(code))
	if name == "" || code == "" {
		return Subject{}, fmt.Errorf("%w: name and code required", ErrInvalidSubject)
	}
	sub := Subject{ID: uuid.NewString(), Name: name, Code: code, CreatedAt: s.now().UTC()}
	if err := s.repo.InsertSubject(ctx, sub); err != nil {
		return Subject{}, err
	}
	return sub, nil
}

// ListSubjects returns subjects ordered by name.
func (s *Service) ListSubjects(ctx context.Context) ([]Subject, error) {
	subjects, err := s.repo.ListSubjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	if subjects == nil {
		subjects = []Subject{}
	}
	return subjects, nil
}

// Subject returns a subject by id.
func (s *Service) Subject(ctx context.Context, id string) (Subject, error) {
	sub, err := s.repo.GetSubject(ctx, id)
	if err != nil {
		return Subject{}, fmt.Errorf("load subject: %w", err)
	}
	if sub == nil {
		return Subject{}, ErrSubjectNotFound
	}
	return *sub, nil
}

// RecordCheckIn stores a check-in tagged with the student's identity, the
// subject and the current time.
func (s *Service) RecordCheckIn(ctx context.Context, in CheckIn) (Record, error) {
	profile, err := s.Profile(ctx, in.UserID)
	if err != nil {
		return Record{}, err
	}
	subject, err := s.Subject(ctx, in.SubjectID)
	if err != nil {
		return Record{}, err
	}

	now := s.now().UTC()
	rec := Record{
		ID:             uuid.NewString(),
		UserID:         profile.ID,
		SubjectID:      subject.ID,
		SubjectName:    subject.Name,
		SubjectCode:    subject.Code,
		StudentID:      profile.StudentID,
		StudentName:    profile.FullName,
		AttendanceDate: now.Format(time.DateOnly),
		CheckInTime:    now,
		CaptureURL:     in.CaptureURL,
		Status:         StatusPresent,
	}
	if rec.StudentID == "" {
		rec.StudentID = "temp_" + profile.ID
	}
	if profile.Email != "" {
		email := profile.Email
		rec.StudentEmail = &email
	}
	if err := s.repo.InsertRecord(ctx, rec); err != nil {
		if errors.Is(err, ErrDuplicateCheckIn) {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("insert record: %w", err)
	}
	return rec, nil
}

// ListRecords returns a subject's records.
func (s *Service) ListRecords(ctx context.Context, subjectID string, limit, offset int) ([]Record, error) {
	if _, err := s.Subject(ctx, subjectID); err != nil {
		return nil, err
	}
	records, err := s.repo.ListRecords(ctx, subjectID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	if records == nil {
		records = []Record{}
	}
	return records, nil
}
