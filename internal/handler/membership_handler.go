package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/gymgate/internal/middleware"
	"github.com/hitoshi/gymgate/internal/model"
)

// MembershipServiceInterface は会員権ハンドラーが必要とするサービスインターフェース。
type MembershipServiceInterface interface {
	// Get は会員を取得する。見つからない場合はMemberNotFoundエラーを返す。
	Get(ctx context.Context, memberID string) (*model.Member, error)
	// RequestPlan はプラン申請を行い、承認待ち状態の会員を返す。
	RequestPlan(ctx context.Context, memberID string, plan model.MembershipPlan, startDate *time.Time, now time.Time) (*model.Member, error)
	// Approve は承認待ちの会員権を有効化する。
	Approve(ctx context.Context, memberID string) (*model.Member, error)
	// Cap は月間利用回数の上限を返す。
	Cap() int
	// Location は施設タイムゾーンを返す。
	Location() *time.Location
}

// MembershipHandler は会員権管理のHTTPハンドラー。
type MembershipHandler struct {
	service MembershipServiceInterface
}

// NewMembershipHandler はMembershipHandlerを生成する。
func NewMembershipHandler(service MembershipServiceInterface) *MembershipHandler {
	return &MembershipHandler{service: service}
}

// requestPlanRequest はプラン申請リクエストのボディ。
// start_dateを省略した場合は申請時点が開始日となる。
type requestPlanRequest struct {
	Plan      string `json:"plan"`
	StartDate string `json:"start_date,omitempty"` // "2006-01-02"
}

// membershipResponse は会員権情報のAPIレスポンス。
type membershipResponse struct {
	MemberID          string  `json:"member_id"`
	Name              string  `json:"name"`
	Plan              string  `json:"plan"`
	Status            string  `json:"status"`
	StartDate         *string `json:"start_date"`
	ExpiryDate        *string `json:"expiry_date"`
	MonthlyUsageCount int     `json:"monthly_usage_count"`
	UsageCap          int     `json:"usage_cap"`
}

// RequestPlan はプラン申請を処理する。
// POST /api/memberships/request
func (h *MembershipHandler) RequestPlan(w http.ResponseWriter, r *http.Request) {
	memberID, err := middleware.MemberIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req requestPlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("リクエストボディの解析に失敗しました"))
		return
	}

	var startDate *time.Time
	if req.StartDate != "" {
		// 開始日は施設タイムゾーンの日付として解釈する
		t, err := time.ParseInLocation("2006-01-02", req.StartDate, h.service.Location())
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("開始日はYYYY-MM-DD形式で指定してください"))
			return
		}
		startDate = &t
	}

	member, err := h.service.RequestPlan(r.Context(), memberID, model.MembershipPlan(req.Plan), startDate, time.Now())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(h.toMembershipResponse(member))
}

// Approve は会員権の承認を処理する。スタッフ専用。
// POST /api/memberships/{memberID}/approve
func (h *MembershipHandler) Approve(w http.ResponseWriter, r *http.Request) {
	memberID := chi.URLParam(r, "memberID")

	member, err := h.service.Approve(r.Context(), memberID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.toMembershipResponse(member))
}

// Me は自分の会員権情報を取得する。
// GET /api/memberships/me
func (h *MembershipHandler) Me(w http.ResponseWriter, r *http.Request) {
	memberID, err := middleware.MemberIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	member, err := h.service.Get(r.Context(), memberID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.toMembershipResponse(member))
}

// toMembershipResponse はmodel.MemberからAPIレスポンスに変換する。
func (h *MembershipHandler) toMembershipResponse(member *model.Member) membershipResponse {
	ms := member.Membership
	resp := membershipResponse{
		MemberID:          member.ID,
		Name:              member.Name,
		Plan:              string(ms.Plan),
		Status:            string(ms.Status),
		MonthlyUsageCount: ms.MonthlyUsageCount,
		UsageCap:          h.service.Cap(),
	}
	if ms.StartDate != nil {
		s := ms.StartDate.Format("2006-01-02")
		resp.StartDate = &s
	}
	if ms.ExpiryDate != nil {
		s := ms.ExpiryDate.Format(time.RFC3339)
		resp.ExpiryDate = &s
	}
	return resp
}
