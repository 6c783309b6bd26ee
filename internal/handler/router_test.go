package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/gymgate/internal/middleware"
	"github.com/hitoshi/gymgate/internal/model"
)

// routerMemberFinder はスタッフゲート用のMemberFinderモック。
type routerMemberFinder struct {
	members map[string]*model.Member
}

func (f *routerMemberFinder) FindByID(_ context.Context, id string) (*model.Member, error) {
	return f.members[id], nil
}

// okHealthChecker は常に正常を返すHealthCheckerモック。
type okHealthChecker struct{ err error }

func (c *okHealthChecker) PingContext(_ context.Context) error { return c.err }

// newTestRouter はテスト用のルーターと依存モック一式を構成する。
func newTestRouter(t *testing.T, finder *routerMemberFinder) http.Handler {
	t.Helper()

	limiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(120, 10))
	t.Cleanup(limiter.Stop)

	attendance := &mockAttendanceService{
		clockInFunc: func(_ context.Context, _ string, _, _ float64, _ time.Time) (*model.AttendanceSession, error) {
			return sampleSession(t), nil
		},
		todayFunc: func(_ context.Context, _ string, _ time.Time) (*model.AttendanceSession, error) {
			return sampleSession(t), nil
		},
	}
	membership := &mockMembershipService{
		getFunc: func(_ context.Context, _ string) (*model.Member, error) {
			return sampleMember(t, model.StatusActive), nil
		},
		approveFunc: func(_ context.Context, _ string) (*model.Member, error) {
			return sampleMember(t, model.StatusActive), nil
		},
	}

	return NewRouter(&RouterDeps{
		MemberFinder:      finder,
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       limiter,
		HealthChecker:     &okHealthChecker{},
		AttendanceService: attendance,
		MembershipService: membership,
	})
}

// TestRouter_HealthWithoutAuth は/healthが認証なしで応答することをテストする。
func TestRouter_HealthWithoutAuth(t *testing.T) {
	router := newTestRouter(t, &routerMemberFinder{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want ok", body["status"])
	}
}

// TestRouter_HealthUnavailable はDB疎通失敗時に503になることをテストする。
func TestRouter_HealthUnavailable(t *testing.T) {
	limiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(120, 10))
	t.Cleanup(limiter.Stop)

	router := NewRouter(&RouterDeps{
		MemberFinder:      &routerMemberFinder{},
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       limiter,
		HealthChecker:     &okHealthChecker{err: errors.New("connection refused")},
		AttendanceService: &mockAttendanceService{},
		MembershipService: &mockMembershipService{},
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

// TestRouter_RequiresIdentityHeader は識別ヘッダーなしのAPIアクセスが
// 401になることをテストする。
func TestRouter_RequiresIdentityHeader(t *testing.T) {
	router := newTestRouter(t, &routerMemberFinder{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/attendance/today", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

// TestRouter_ClockInRouted は識別ヘッダー付きの打刻リクエストが
// ハンドラーまで届くことをテストする。
func TestRouter_ClockInRouted(t *testing.T) {
	router := newTestRouter(t, &routerMemberFinder{})

	req := httptest.NewRequest("POST", "/api/attendance/clock-in", strings.NewReader(`{"latitude":35.6812,"longitude":139.7671}`))
	req.Header.Set("X-Member-ID", "member-1")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201", rec.Code)
	}
}

// TestRouter_ApproveStaffGate は承認ルートのスタッフゲートをテストする。
func TestRouter_ApproveStaffGate(t *testing.T) {
	finder := &routerMemberFinder{members: map[string]*model.Member{
		"staff-1":  {ID: "staff-1", Role: model.RoleStaff},
		"member-1": {ID: "member-1", Role: model.RoleMember},
	}}
	router := newTestRouter(t, finder)

	tests := []struct {
		name       string
		memberID   string
		wantStatus int
	}{
		{"staff allowed", "staff-1", http.StatusOK},
		{"member forbidden", "member-1", http.StatusForbidden},
		{"unknown forbidden", "ghost", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/memberships/member-9/approve", nil)
			req.Header.Set("X-Member-ID", tt.memberID)

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

// TestRouter_MetricsOptional はMetricsHandlerがnilのとき/metricsを公開しないことをテストする。
func TestRouter_MetricsOptional(t *testing.T) {
	router := newTestRouter(t, &routerMemberFinder{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

// TestRouter_MetricsExposed はMetricsHandler指定時に/metricsが応答することをテストする。
func TestRouter_MetricsExposed(t *testing.T) {
	limiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(120, 10))
	t.Cleanup(limiter.Stop)

	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("# metrics"))
	})

	router := NewRouter(&RouterDeps{
		MemberFinder:      &routerMemberFinder{},
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       limiter,
		HealthChecker:     &okHealthChecker{},
		MetricsHandler:    metricsHandler,
		AttendanceService: &mockAttendanceService{},
		MembershipService: &mockMembershipService{},
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

// TestRouter_CORSPreflight はプリフライトリクエストが204で応答することをテストする。
func TestRouter_CORSPreflight(t *testing.T) {
	router := newTestRouter(t, &routerMemberFinder{})

	req := httptest.NewRequest("OPTIONS", "/api/attendance/today", nil)
	req.Header.Set("Origin", "http://localhost:3000")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("allow origin = %q", got)
	}
}
