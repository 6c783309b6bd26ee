// Package handler はHTTP APIのリクエスト境界を提供する。
// ドメインロジックはサービス層が持ち、ハンドラーは変換とステータスマッピングのみを行う。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/gymgate/internal/middleware"
	"github.com/hitoshi/gymgate/internal/model"
)

// AttendanceServiceInterface は入退館ハンドラーが必要とするサービスインターフェース。
type AttendanceServiceInterface interface {
	// ClockIn は入館打刻を行う。
	ClockIn(ctx context.Context, memberID string, lat, lon float64, now time.Time) (*model.AttendanceSession, error)
	// ClockOut は退館打刻を行う。exitがnilの場合は位置検査を省略する。
	ClockOut(ctx context.Context, memberID string, exit *model.Location, now time.Time) (*model.AttendanceSession, error)
	// TodaySession は当日のセッションを取得する。入館記録がない場合はエラーを返す。
	TodaySession(ctx context.Context, memberID string, now time.Time) (*model.AttendanceSession, error)
}

// AttendanceHandler は入退館打刻のHTTPハンドラー。
type AttendanceHandler struct {
	service AttendanceServiceInterface
}

// NewAttendanceHandler はAttendanceHandlerを生成する。
func NewAttendanceHandler(service AttendanceServiceInterface) *AttendanceHandler {
	return &AttendanceHandler{service: service}
}

// clockInRequest は入館打刻リクエストのボディ。
type clockInRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// clockOutRequest は退館打刻リクエストのボディ。
// locationを省略した場合は位置検査なしの退館となる（管理経路）。
type clockOutRequest struct {
	Location *locationPayload `json:"location"`
}

// locationPayload は位置情報のJSON表現。
type locationPayload struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
}

// sessionResponse は入退館セッションのAPIレスポンス。
type sessionResponse struct {
	ID              string           `json:"id"`
	MemberID        string           `json:"member_id"`
	SessionDate     string           `json:"session_date"`
	ClockIn         string           `json:"clock_in"`
	ClockOut        *string          `json:"clock_out"`
	Status          string           `json:"status"`
	EntryLocation   locationPayload  `json:"entry_location"`
	ExitLocation    *locationPayload `json:"exit_location"`
	DurationMinutes *int             `json:"duration_minutes"`
	ForceClosed     bool             `json:"force_closed"`
}

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// ClockIn は入館打刻を処理する。
// POST /api/attendance/clock-in
func (h *AttendanceHandler) ClockIn(w http.ResponseWriter, r *http.Request) {
	memberID, err := middleware.MemberIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req clockInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("リクエストボディの解析に失敗しました"))
		return
	}

	sess, err := h.service.ClockIn(r.Context(), memberID, req.Latitude, req.Longitude, time.Now())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toSessionResponse(sess))
}

// ClockOut は退館打刻を処理する。
// POST /api/attendance/clock-out
func (h *AttendanceHandler) ClockOut(w http.ResponseWriter, r *http.Request) {
	memberID, err := middleware.MemberIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req clockOutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("リクエストボディの解析に失敗しました"))
		return
	}

	var exit *model.Location
	if req.Location != nil {
		exit = &model.Location{
			Latitude:  req.Location.Latitude,
			Longitude: req.Location.Longitude,
			Address:   req.Location.Address,
		}
	}

	sess, err := h.service.ClockOut(r.Context(), memberID, exit, time.Now())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toSessionResponse(sess))
}

// Today は当日のセッションを取得する。
// GET /api/attendance/today
func (h *AttendanceHandler) Today(w http.ResponseWriter, r *http.Request) {
	memberID, err := middleware.MemberIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	sess, err := h.service.TodaySession(r.Context(), memberID, time.Now())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toSessionResponse(sess))
}

// --- ヘルパー関数 ---

// toSessionResponse はmodel.AttendanceSessionからAPIレスポンスに変換する。
func toSessionResponse(sess *model.AttendanceSession) sessionResponse {
	resp := sessionResponse{
		ID:          sess.ID,
		MemberID:    sess.MemberID,
		SessionDate: sess.SessionDate,
		ClockIn:     sess.ClockIn.Format(time.RFC3339),
		Status:      string(sess.Status),
		EntryLocation: locationPayload{
			Latitude:  sess.EntryLocation.Latitude,
			Longitude: sess.EntryLocation.Longitude,
			Address:   sess.EntryLocation.Address,
		},
		ExitLocation:    toLocationPayload(sess.ExitLocation),
		DurationMinutes: sess.DurationMinutes,
		ForceClosed:     sess.ForceClosed,
	}
	if sess.ClockOut != nil {
		s := sess.ClockOut.Format(time.RFC3339)
		resp.ClockOut = &s
	}
	return resp
}

// toLocationPayload はmodel.LocationからJSON表現に変換する。
func toLocationPayload(loc *model.Location) *locationPayload {
	if loc == nil {
		return nil
	}
	return &locationPayload{
		Latitude:  loc.Latitude,
		Longitude: loc.Longitude,
		Address:   loc.Address,
	}
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// writeUnauthorized は認証エラーの統一レスポンスを書き込む。
func writeUnauthorized(w http.ResponseWriter) {
	writeAPIErrorResponse(w, http.StatusUnauthorized, &model.APIError{
		Code:     "UNAUTHORIZED",
		Message:  "認証が必要です。",
		Category: "system",
		Action:   "認証情報を確認してください。",
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		statusCode := mapAPIErrorToHTTPStatus(apiErr)
		writeAPIErrorResponse(w, statusCode, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeValidation:
		return http.StatusBadRequest
	case model.ErrCodeOutOfRange, model.ErrCodeFacilityClosed:
		return http.StatusForbidden
	case model.ErrCodeMembershipRequired, model.ErrCodeMembershipExpired:
		return http.StatusForbidden
	case model.ErrCodeUsageCapExceeded:
		return http.StatusConflict
	case model.ErrCodeAlreadyClockedIn, model.ErrCodeAlreadyClockedOut:
		return http.StatusConflict
	case model.ErrCodeNoActiveSession:
		return http.StatusNotFound
	case model.ErrCodeDuplicatePlanRequest, model.ErrCodeMembershipNotPending:
		return http.StatusConflict
	case model.ErrCodeMemberNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
