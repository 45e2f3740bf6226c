package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testIssuer() *Issuer {
	return NewIssuer("classbeacon-test", "secret", 15*time.Minute, time.Hour)
}

func TestIssueAndParse(t *testing.T) {
	t.Parallel()
	iss := testIssuer()
	pair, err := iss.Issue("user-1", RoleStudent)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := iss.ParseAccess(pair.AccessToken)
	if err != nil {
		t.Fatalf("parse access: %v", err)
	}
	if claims.Subject != "user-1" || claims.Role != RoleStudent {
		t.Fatalf("claims = %+v", claims)
	}
	if _, err := iss.ParseRefresh(pair.RefreshToken); err != nil {
		t.Fatalf("parse refresh: %v", err)
	}
	if _, err := iss.ParseAccess(pair.RefreshToken); !errors.Is(err, ErrWrongUse) {
		t.Fatalf("refresh as access error = %v, want ErrWrongUse", err)
	}
	if pair.RefreshExp.Sub(pair.AccessExp) != 45*time.Minute {
		t.Fatalf("unexpected expiries %v %v", pair.AccessExp, pair.RefreshExp)
	}
}

func TestParseRejects(t *testing.T) {
	t.Parallel()
	iss := testIssuer()
	pair, err := iss.Issue("user-1", RoleProfessor)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	other := NewIssuer("someone-else", "secret", time.Minute, time.Minute)
	if _, err := other.ParseAccess(pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("issuer mismatch error = %v", err)
	}
	wrongKey := NewIssuer("classbeacon-test", "other", time.Minute, time.Minute)
	if _, err := wrongKey.ParseAccess(pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong key error = %v", err)
	}
	late := testIssuer()
	late.Now = func() time.Time { return time.Now().Add(time.Hour) }
	if _, err := late.ParseAccess(pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired error = %v", err)
	}
	if _, err := iss.ParseAccess("not-a-jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage error = %v", err)
	}
}

func TestRoleCapabilities(t *testing.T) {
	t.Parallel()
	tests := []struct {
		role Role
		cap  Capability
		want bool
	}{
		{RoleStudent, CapCheckIn, true},
		{RoleStudent, CapViewWindow, true},
		{RoleStudent, CapManageWindow, false},
		{RoleStudent, CapViewRecords, false},
		{RoleProfessor, CapManageWindow, true},
		{RoleProfessor, CapViewRecords, true},
		{RoleProfessor, CapManageSubjects, true},
		{RoleProfessor, CapCheckIn, false},
		{Role("janitor"), CapViewWindow, false},
	}
	for _, tc := range tests {
		if got := tc.role.Can(tc.cap); got != tc.want {
			t.Fatalf("%s.Can(%s) = %v, want %v", tc.role, tc.cap, got, tc.want)
		}
	}
	if _, err := ParseRole("admin"); err == nil {
		t.Fatal("expected unknown role error")
	}
}

func TestMiddleware(t *testing.T) {
	t.Parallel()
	iss := testIssuer()
	student, _ := iss.Issue("s-1", RoleStudent)
	professor, _ := iss.Issue("p-1", RoleProfessor)

	r := gin.New()
	r.POST("/window", Bearer(iss), Require(CapManageWindow), func(c *gin.Context) {
		claims, _ := ClaimsFrom(c)
		c.String(http.StatusOK, claims.Subject)
	})
	r.GET("/stream", Bearer(iss), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	tests := []struct {
		name   string
		method string
		path   string
		header string
		want   int
	}{
		{"missing token", http.MethodPost, "/window", "", http.StatusUnauthorized},
		{"bad token", http.MethodPost, "/window", "Bearer junk", http.StatusUnauthorized},
		{"refresh token", http.MethodPost, "/window", "Bearer " + professor.RefreshToken, http.StatusUnauthorized},
		{"student forbidden", http.MethodPost, "/window", "Bearer " + student.AccessToken, http.StatusForbidden},
		{"professor allowed", http.MethodPost, "/window", "bearer " + professor.AccessToken, http.StatusOK},
		{"query token on GET", http.MethodGet, "/stream?access_token=" + student.AccessToken, "", http.StatusOK},
		{"query token on POST", http.MethodPost, "/window?access_token=" + professor.AccessToken, "", http.StatusUnauthorized},
	}
	for _, tc := range tests {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("%s: status = %d, want %d (%s)", tc.name, rec.Code, tc.want, rec.Body.String())
		}
	}
}
