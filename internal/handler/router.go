package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/gymgate/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	MemberFinder      middleware.MemberFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// ヘルスチェック
	HealthChecker HealthChecker

	// メトリクス公開。nilの場合は/metricsを公開しない
	MetricsHandler http.Handler

	// ドメインサービス
	AttendanceService AttendanceServiceInterface
	MembershipService MembershipServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → CORS → Identity → RateLimit(General)
//
// /health と /metrics は認証チェーンの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	attendanceHandler := NewAttendanceHandler(deps.AttendanceService)
	membershipHandler := NewMembershipHandler(deps.MembershipService)

	// --- 認証不要のルート ---

	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Identity → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewIdentityMiddleware())
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// 入退館打刻（打刻専用レート制限を追加）
		r.Route("/api/attendance", func(r chi.Router) {
			r.With(deps.RateLimiter.ClockMiddleware()).Post("/clock-in", attendanceHandler.ClockIn)
			r.With(deps.RateLimiter.ClockMiddleware()).Post("/clock-out", attendanceHandler.ClockOut)
			r.Get("/today", attendanceHandler.Today)
		})

		// 会員権管理
		r.Route("/api/memberships", func(r chi.Router) {
			r.Post("/request", membershipHandler.RequestPlan)
			r.Get("/me", membershipHandler.Me)

			// 承認はスタッフ・管理者のみ
			r.With(middleware.NewRequireStaffMiddleware(deps.MemberFinder)).
				Post("/{memberID}/approve", membershipHandler.Approve)
		})
	})

	return r
}
