package attendance

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"classbeacon/internal/auth"
	"classbeacon/internal/store"
)

// Repository persists profiles, subjects and attendance records.
type Repository struct {
	db *store.DB
}

// NewRepository creates a repo.
func NewRepository(db *store.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) q(query string) string { return r.db.Rebind(query) }

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

// InsertProfile writes a new profile. An email that is already registered
// returns ErrDuplicateProfile.
func (r *Repository) InsertProfile(ctx context.Context, p Profile) error {
	_, err := r.db.Client.ExecContext(ctx, r.q(`
		INSERT INTO profiles (id, full_name, email, student_id, role, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), p.ID, p.FullName, p.Email, p.StudentID, string(p.Role), toMillis(p.CreatedAt))
	if store.IsUniqueViolation(err) {
		return ErrDuplicateProfile
	}
	return err
}

const profileColumns = `id, full_name, email, student_id, role, created_at`

func scanProfile(row interface{ Scan(...any) error }) (*Profile, error) {
	var p Profile
	var role string
	var created int64
	if err := row.Scan(&p.ID, &p.FullName, &p.Email, &p.StudentID, &role, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	p.Role = auth.Role(role)
	p.CreatedAt = fromMillis(created)
	return &p, nil
}

// GetProfile returns a profile by id, or nil when absent.
func (r *Repository) GetProfile(ctx context.Context, id string) (*Profile, error) {
	return scanProfile(r.db.Client.QueryRowContext(ctx,
		r.q(`SELECT `+profileColumns+` FROM profiles WHERE id = ?`), id))
}

// SaveRefreshToken stores a refresh token for rotation checks.
func (r *Repository) SaveRefreshToken(ctx context.Context, profileID, token string, expiresAt time.Time) error {
	_, err := r.db.Client.ExecContext(ctx, r.q(`
		INSERT INTO refresh_tokens (token, profile_id, expires_at)
		VALUES (?, ?, ?)
	`), token, profileID, toMillis(expiresAt))
	return err
}

// ConsumeRefreshToken revokes an active token and returns its profile id.
// It returns ErrRefreshTokenInvalid for unknown, revoked or expired tokens.
func (r *Repository) ConsumeRefreshToken(ctx context.Context, token string, now time.Time) (string, error) {
	res, err := r.db.Client.ExecContext(ctx, r.q(`
		UPDATE refresh_tokens SET revoked_at = ?
		WHERE token = ? AND revoked_at IS NULL AND expires_at > ?
	`), toMillis(now), token, toMillis(now))
	if err != nil {
		return "", err
	}
	if n, err := res.RowsAffected(); err != nil {
		return "", err
	} else if n == 0 {
		return "", ErrRefreshTokenInvalid
	}
	var profileID string
	if err := r.db.Client.QueryRowContext(ctx,
		r.q(`SELECT profile_id FROM refresh_tokens WHERE token = ?`), token,
	).Scan(&profileID); err != nil {
		return "", err
	}
	return profileID, nil
}

// InsertSubject writes a subject. Duplicate codes return ErrDuplicateSubject.
func (r *Repository) InsertSubject(ctx context.Context, s Subject) error {
	_, err := r.db.Client.ExecContext(ctx, r.q(`
		INSERT INTO subjects (id, name, code, created_at) VALUES (?, ?, ?, ?)
	`), s.ID, s.Name, s.Code, toMillis(s.CreatedAt))
	if store.IsUniqueViolation(err) {
		return ErrDuplicateSubject
	}
	return err
}

// GetSubject returns a subject by id, or nil when absent.
func (r *Repository) GetSubject(ctx context.Context, id string) (*Subject, error) {
	var s Subject
	var created int64
	err := r.db.Client.QueryRowContext(ctx,
		r.q(`SELECT id, name, code, created_at FROM subjects WHERE id = ?`), id,
	).Scan(&s.ID, &s.Name, &s.Code, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.CreatedAt = fromMillis(created)
	return &s, nil
}

// ListSubjects returns all subjects ordered by name.
func (r *Repository) ListSubjects(ctx context.Context) ([]Subject, error) {
	rows, err := r.db.Client.QueryContext(ctx, `SELECT id, name, code, created_at FROM subjects ORDER BY name, code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subjects []Subject
	for rows.Next() {
		var s Subject
		var created int64
		if err := rows.Scan(&s.ID, &s.Name, &s.Code, &created); err != nil {
			return nil, err
		}
		s.CreatedAt = fromMillis(created)
		subjects = append(subjects, s)
	}
	return subjects, rows.Err()
}

// InsertRecord writes an attendance record. A second record for the same
// user, subject and date returns ErrDuplicateCheckIn.
func (r *Repository) InsertRecord(ctx context.Context, rec Record) error {
	_, err := r.db.Client.ExecContext(ctx, r.q(`
		INSERT INTO attendance_records (
			id, user_id, subject_id, student_id, student_name, student_email,
			attendance_date, check_in_time, capture_url, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), rec.ID, rec.UserID, rec.SubjectID, rec.StudentID, rec.StudentName, rec.StudentEmail,
		rec.AttendanceDate, toMillis(rec.CheckInTime), rec.CaptureURL, rec.Status)
	if store.IsUniqueViolation(err) {
		return ErrDuplicateCheckIn
	}
	return err
}

// ListRecords returns a subject's records, newest day first and latest
// check-in first within a day.
func (r *Repository) ListRecords(ctx context.Context, subjectID string, limit, offset int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.db.Client.QueryContext(ctx, r.q(`
		SELECT a.id, a.user_id, a.subject_id, s.name, s.code, a.student_id, a.student_name,
		       a.student_email, a.attendance_date, a.check_in_time, a.capture_url, a.status
		FROM attendance_records a
		JOIN subjects s ON s.id = a.subject_id
		WHERE a.subject_id = ?
		ORDER BY a.attendance_date DESC, a.check_in_time DESC
		LIMIT ? OFFSET ?
	`), subjectID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var email sql.NullString
		var checkIn int64
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.SubjectID, &rec.SubjectName, &rec.SubjectCode,
			&rec.StudentID, &rec.StudentName, &email, &rec.AttendanceDate, &checkIn,
			&rec.CaptureURL, &rec.Status); err != nil {
			return nil, err
		}
		if email.Valid {
			rec.StudentEmail = &email.String
		}
		rec.CheckInTime = fromMillis(checkIn)
		records = append(records, rec)
	}
	return records, rows.Err()
}
