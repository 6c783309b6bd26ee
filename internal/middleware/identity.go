// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/gymgate/internal/model"
)

// memberIDHeader は上流の認証プロキシが検証済み会員IDを載せるヘッダー。
// 認証そのものは外部システムの責務であり、本体はこのヘッダーを信頼する。
const memberIDHeader = "X-Member-ID"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// memberIDContextKey はリクエストコンテキストに会員IDを格納するためのキー。
var memberIDContextKey = contextKey("member_id")

// NewIdentityMiddleware は上流プロキシのヘッダーから会員IDを読み取り、
// リクエストコンテキストに注入するミドルウェアを返す。
// ヘッダーがないリクエストには401 Unauthorizedを返す。
func NewIdentityMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			memberID := r.Header.Get(memberIDHeader)
			if memberID == "" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := ContextWithMemberID(r.Context(), memberID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// MemberFinder は会員の取得に必要なインターフェース。
// repository.MemberRepositoryの部分集合として定義する。
type MemberFinder interface {
	FindByID(ctx context.Context, id string) (*model.Member, error)
}

// NewRequireStaffMiddleware はスタッフ・管理者のみ通過を許可するミドルウェアを返す。
// IdentityMiddlewareの後に配置する必要がある。
func NewRequireStaffMiddleware(members MemberFinder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			memberID, err := MemberIDFromContext(r.Context())
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			member, err := members.FindByID(r.Context(), memberID)
			if err != nil {
				slog.Error("会員の取得に失敗しました",
					slog.String("member_id", memberID),
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}
			if member == nil || !member.IsStaff() {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// MemberIDFromContext はリクエストコンテキストから会員IDを取得する。
// IdentityMiddlewareを通過したリクエストでのみ有効。
func MemberIDFromContext(ctx context.Context) (string, error) {
	memberID, ok := ctx.Value(memberIDContextKey).(string)
	if !ok || memberID == "" {
		return "", fmt.Errorf("member ID not found in context")
	}
	return memberID, nil
}

// ContextWithMemberID はコンテキストに会員IDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithMemberID(ctx context.Context, memberID string) context.Context {
	return context.WithValue(ctx, memberIDContextKey, memberID)
}
