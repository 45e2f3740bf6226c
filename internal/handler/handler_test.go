package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"classbeacon/internal/attendance"
	"classbeacon/internal/attendance/migrations"
	"classbeacon/internal/auth"
	"classbeacon/internal/checkin"
	"classbeacon/internal/store"
	"classbeacon/internal/window"
)

var frame = "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("png-bytes"))

type testServer struct {
	router    http.Handler
	win       *window.Window
	db        *store.DB
	accessLog *lockedBuffer
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	db, err := store.NewDB(ctx, "sqlite::memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.ApplyMigrations(ctx, migrations.FS, "."); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	att := attendance.NewService(attendance.NewRepository(db))
	win := window.New(window.NewMemorySlot(), window.WithMaxMinutes(240), window.WithLogger(log))
	sessions := checkin.NewService(att, win, checkin.NewFrameSource(nil, 0), time.Hour, log)
	accessLog := &lockedBuffer{}
	h := New(Deps{
		Attendance:   att,
		Window:       win,
		Sessions:     sessions,
		Issuer:       auth.NewIssuer("test", "secret", time.Minute, time.Hour),
		Logger:       log,
		PollInterval: 50 * time.Millisecond,
		Checks:       map[string]HealthCheck{"db": db.Healthy},
		AccessLog:    accessLog,
	})
	return &testServer{router: h.Router(nil), win: win, db: db, accessLog: accessLog}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

func (s *testServer) register(t *testing.T, name, email, role string) tokenResponse {
	t.Helper()
	w := s.do(t, http.MethodPost, "/v1/identities", "", gin.H{"full_name": name, "email": email, "role": role})
	if w.Code != http.StatusCreated {
		t.Fatalf("register %s = %d %s", email, w.Code, w.Body.String())
	}
	return decode[tokenResponse](t, w)
}

func TestRoleGating(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	student := s.register(t, "Stu Dent", "stu@example.edu", "student")
	prof := s.register(t, "Pro Fessor", "prof@example.edu", "professor")

	if w := s.do(t, http.MethodPost, "/v1/window", student.AccessToken, gin.H{"duration_minutes": 5}); w.Code != http.StatusForbidden {
		t.Fatalf("student open window = %d, want 403", w.Code)
	}
	if w := s.do(t, http.MethodPost, "/v1/sessions", prof.AccessToken, nil); w.Code != http.StatusForbidden {
		t.Fatalf("professor start session = %d, want 403", w.Code)
	}
	if w := s.do(t, http.MethodGet, "/v1/window", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous window = %d, want 401", w.Code)
	}
	w := s.do(t, http.MethodPost, "/v1/window", prof.AccessToken, gin.H{"duration_minutes": 5})
	if w.Code != http.StatusOK {
		t.Fatalf("professor open window = %d %s", w.Code, w.Body.String())
	}
	snap := decode[window.Snapshot](t, w)
	if !snap.Open || snap.Remaining != "05:00" {
		t.Fatalf("snapshot = %+v", snap)
	}
	if w := s.do(t, http.MethodGet, "/v1/window", student.AccessToken, nil); w.Code != http.StatusOK {
		t.Fatalf("student view window = %d", w.Code)
	}
}

func TestWindowValidation(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	prof := s.register(t, "Pro Fessor", "prof@example.edu", "professor")

	w := s.do(t, http.MethodPost, "/v1/window", prof.AccessToken, gin.H{})
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "DurationMinutes") {
		t.Fatalf("missing duration = %d %s", w.Code, w.Body.String())
	}
	for _, d := range []float64{0, -3, 241} {
		if w := s.do(t, http.MethodPost, "/v1/window", prof.AccessToken, gin.H{"duration_minutes": d}); w.Code != http.StatusBadRequest {
			t.Fatalf("duration %v = %d, want 400", d, w.Code)
		}
	}
	w = s.do(t, http.MethodDelete, "/v1/window", prof.AccessToken, nil)
	if w.Code != http.StatusOK || decode[window.Snapshot](t, w).Open {
		t.Fatalf("close closed window = %d %s", w.Code, w.Body.String())
	}
}

func TestCheckInFlow(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	student := s.register(t, "Stu Dent", "stu@example.edu", "student")
	prof := s.register(t, "Pro Fessor", "prof@example.edu", "professor")

	w := s.do(t, http.MethodPost, "/v1/subjects", prof.AccessToken, gin.H{"name": "Distributed Systems", "code": "cs452"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create subject = %d %s", w.Code, w.Body.String())
	}
	subject := decode[attendance.Subject](t, w)

	w = s.do(t, http.MethodPost, "/v1/sessions", student.AccessToken, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create session = %d %s", w.Code, w.Body.String())
	}
	sess := decode[checkin.View](t, w)
	if sess.Readiness.SubjectSelected != subject.ID || !sess.Readiness.IdentityPresent {
		t.Fatalf("new session readiness = %+v", sess.Readiness)
	}
	base := "/v1/sessions/" + sess.ID

	w = s.do(t, http.MethodPost, base+"/camera", student.AccessToken, gin.H{"denied": true})
	if w.Code != http.StatusOK {
		t.Fatalf("denied camera = %d", w.Code)
	}
	if v := decode[checkin.View](t, w); v.Camera != checkin.CameraError || v.CameraError != "camera permission was denied" {
		t.Fatalf("denied camera view = %+v", v)
	}
	s.do(t, http.MethodPost, base+"/camera", student.AccessToken, gin.H{"frame": frame})
	s.do(t, http.MethodPost, base+"/beacon", student.AccessToken, nil)

	w = s.do(t, http.MethodPost, base+"/checkin", student.AccessToken, nil)
	if w.Code != http.StatusPreconditionFailed {
		t.Fatalf("check in with window closed = %d, want 412", w.Code)
	}
	blocked := decode[struct {
		Missing []string `json:"missing"`
	}](t, w)
	if len(blocked.Missing) != 1 || blocked.Missing[0] != checkin.DimWindow {
		t.Fatalf("missing = %v", blocked.Missing)
	}

	s.do(t, http.MethodPost, "/v1/window", prof.AccessToken, gin.H{"duration_minutes": 10})
	w = s.do(t, http.MethodPost, base+"/checkin", student.AccessToken, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("check in = %d %s", w.Code, w.Body.String())
	}
	if w := s.do(t, http.MethodPost, base+"/checkin", student.AccessToken, nil); w.Code != http.StatusConflict {
		t.Fatalf("second check in = %d, want 409", w.Code)
	}

	other := s.do(t, http.MethodPost, "/v1/sessions", student.AccessToken, nil)
	again := decode[checkin.View](t, other)
	s.do(t, http.MethodPost, "/v1/sessions/"+again.ID+"/camera", student.AccessToken, gin.H{"frame": frame})
	s.do(t, http.MethodPost, "/v1/sessions/"+again.ID+"/beacon", student.AccessToken, nil)
	w = s.do(t, http.MethodPost, "/v1/sessions/"+again.ID+"/checkin", student.AccessToken, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("same-day duplicate = %d, want 409", w.Code)
	}
	dup := decode[struct {
		Session checkin.View `json:"session"`
	}](t, w)
	if dup.Session.State != checkin.StateReady || !dup.Session.Readiness.BeaconPresent {
		t.Fatalf("session after rejection = %+v", dup.Session)
	}

	w = s.do(t, http.MethodGet, "/v1/subjects/"+subject.ID+"/records", prof.AccessToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("records = %d", w.Code)
	}
	records := decode[struct {
		Records []attendance.Record `json:"records"`
	}](t, w)
	if len(records.Records) != 1 || records.Records[0].SubjectCode != "CS452" {
		t.Fatalf("records = %+v", records.Records)
	}
	if w := s.do(t, http.MethodGet, "/v1/subjects/"+subject.ID+"/records", student.AccessToken, nil); w.Code != http.StatusForbidden {
		t.Fatalf("student records = %d, want 403", w.Code)
	}
}

func TestCheckInStorageFailure(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	student := s.register(t, "Stu Dent", "stu@example.edu", "student")
	prof := s.register(t, "Pro Fessor", "prof@example.edu", "professor")
	s.do(t, http.MethodPost, "/v1/subjects", prof.AccessToken, gin.H{"name": "Compilers", "code": "cs440"})

	sess := decode[checkin.View](t, s.do(t, http.MethodPost, "/v1/sessions", student.AccessToken, nil))
	base := "/v1/sessions/" + sess.ID
	s.do(t, http.MethodPost, base+"/camera", student.AccessToken, gin.H{"frame": frame})
	s.do(t, http.MethodPost, base+"/beacon", student.AccessToken, nil)
	s.do(t, http.MethodPost, "/v1/window", prof.AccessToken, gin.H{"duration_minutes": 10})

	if err := s.db.Close(); err != nil {
		t.Fatalf("close db: %v", err)
	}
	w := s.do(t, http.MethodPost, base+"/checkin", student.AccessToken, nil)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("check in with storage down = %d %s, want 502", w.Code, w.Body.String())
	}
	if strings.Contains(w.Body.String(), "database") {
		t.Fatalf("storage detail leaked: %s", w.Body.String())
	}
	body := decode[struct {
		Session checkin.View `json:"session"`
	}](t, w)
	if body.Session.LastError != checkin.ErrRecordFailed.Error() || body.Session.State != checkin.StateReady {
		t.Fatalf("session after storage failure = %+v", body.Session)
	}
	if !body.Session.Readiness.CameraReady || !body.Session.Readiness.BeaconPresent {
		t.Fatalf("readiness lost: %+v", body.Session.Readiness)
	}
}

func TestRegisterExistingEmail(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	prof := s.register(t, "Pro Fessor", "prof@example.edu", "professor")

	w := s.do(t, http.MethodPost, "/v1/identities", "", gin.H{"full_name": "Mallory", "email": "prof@example.edu", "role": "student"})
	if w.Code != http.StatusConflict {
		t.Fatalf("re-register = %d %s, want 409", w.Code, w.Body.String())
	}
	if strings.Contains(w.Body.String(), "access_token") {
		t.Fatalf("re-register issued tokens: %s", w.Body.String())
	}
	if w := s.do(t, http.MethodPost, "/v1/window", prof.AccessToken, gin.H{"duration_minutes": 5}); w.Code != http.StatusOK {
		t.Fatalf("professor lost window rights = %d", w.Code)
	}
}

func TestCameraBodyLimit(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	student := s.register(t, "Stu Dent", "stu@example.edu", "student")
	sess := decode[checkin.View](t, s.do(t, http.MethodPost, "/v1/sessions", student.AccessToken, nil))

	huge := "data:image/png;base64," + strings.Repeat("A", int(maxCameraBody))
	w := s.do(t, http.MethodPost, "/v1/sessions/"+sess.ID+"/camera", student.AccessToken, gin.H{"frame": huge})
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("huge frame = %d, want 413", w.Code)
	}
}

func TestAccessLogOmitsQueryToken(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	student := s.register(t, "Stu Dent", "stu@example.edu", "student")

	if w := s.do(t, http.MethodGet, "/v1/window?access_token="+student.AccessToken, "", nil); w.Code != http.StatusOK {
		t.Fatalf("query token window = %d", w.Code)
	}
	logged := s.accessLog.String()
	if !strings.Contains(logged, `"/v1/window"`) {
		t.Fatalf("request not logged:\n%s", logged)
	}
	if strings.Contains(logged, student.AccessToken) || strings.Contains(logged, "access_token") {
		t.Fatalf("token written to access log:\n%s", logged)
	}
}

func TestSessionIsPrivate(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	a := s.register(t, "A", "a@example.edu", "student")
	b := s.register(t, "B", "b@example.edu", "student")
	sess := decode[checkin.View](t, s.do(t, http.MethodPost, "/v1/sessions", a.AccessToken, nil))
	if w := s.do(t, http.MethodGet, "/v1/sessions/"+sess.ID, b.AccessToken, nil); w.Code != http.StatusNotFound {
		t.Fatalf("foreign session = %d, want 404", w.Code)
	}
	if w := s.do(t, http.MethodPut, "/v1/sessions/"+sess.ID+"/subject", a.AccessToken, gin.H{"subject_id": "nope"}); w.Code != http.StatusNotFound {
		t.Fatalf("unknown subject = %d, want 404", w.Code)
	}
}

func TestRefreshRotation(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	tokens := s.register(t, "Stu", "stu@example.edu", "student")

	w := s.do(t, http.MethodPost, "/v1/auth/refresh", "", gin.H{"refresh_token": tokens.RefreshToken})
	if w.Code != http.StatusOK {
		t.Fatalf("refresh = %d %s", w.Code, w.Body.String())
	}
	next := decode[tokenResponse](t, w)
	if next.RefreshToken == tokens.RefreshToken {
		t.Fatalf("refresh token not rotated")
	}
	if w := s.do(t, http.MethodPost, "/v1/auth/refresh", "", gin.H{"refresh_token": tokens.RefreshToken}); w.Code != http.StatusUnauthorized {
		t.Fatalf("reused refresh = %d, want 401", w.Code)
	}
	if w := s.do(t, http.MethodPost, "/v1/auth/refresh", "", gin.H{"refresh_token": next.AccessToken}); w.Code != http.StatusUnauthorized {
		t.Fatalf("access token as refresh = %d, want 401", w.Code)
	}
}

func TestRegisterValidation(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	w := s.do(t, http.MethodPost, "/v1/identities", "", gin.H{"full_name": "X", "email": "nope", "role": "dean"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("register = %d, want 400", w.Code)
	}
	body := decode[struct {
		Fields map[string]string `json:"fields"`
	}](t, w)
	if body.Fields["Email"] != "email" || body.Fields["Role"] != "oneof" {
		t.Fatalf("fields = %v", body.Fields)
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/healthz", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"db":true`) {
		t.Fatalf("healthz = %d %s", w.Code, w.Body.String())
	}
}

func TestWindowStream(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	student := s.register(t, "Stu", "stu@example.edu", "student")
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/window/stream?access_token=" + student.AccessToken
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	read := func() window.Snapshot {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var snap window.Snapshot
		if err := conn.ReadJSON(&snap); err != nil {
			t.Fatalf("read snapshot: %v", err)
		}
		return snap
	}
	if first := read(); first.Open {
		t.Fatalf("initial snapshot open, want closed")
	}
	if err := s.win.Open(context.Background(), 3); err != nil {
		t.Fatalf("open: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if snap := read(); snap.Open {
			if snap.ExpiresAt == nil {
				t.Fatalf("open snapshot without expiry")
			}
			return
		}
	}
	t.Fatalf("stream never reported the window open")
}
