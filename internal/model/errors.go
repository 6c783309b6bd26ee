// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// 入館拒否は常に具体的な理由と対処方法を会員に提示する必要があるため、
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, attendance, membership, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation           = "VALIDATION_ERROR"
	ErrCodeOutOfRange           = "OUT_OF_RANGE"
	ErrCodeFacilityClosed       = "FACILITY_CLOSED"
	ErrCodeMembershipRequired   = "MEMBERSHIP_REQUIRED"
	ErrCodeMembershipExpired    = "MEMBERSHIP_EXPIRED"
	ErrCodeUsageCapExceeded     = "USAGE_CAP_EXCEEDED"
	ErrCodeAlreadyClockedIn     = "ALREADY_CLOCKED_IN"
	ErrCodeAlreadyClockedOut    = "ALREADY_CLOCKED_OUT"
	ErrCodeNoActiveSession      = "NO_ACTIVE_SESSION"
	ErrCodeDuplicatePlanRequest = "DUPLICATE_PLAN_REQUEST"
	ErrCodeMembershipNotPending = "MEMBERSHIP_NOT_PENDING"
	ErrCodeMemberNotFound       = "MEMBER_NOT_FOUND"
)

// NewValidationError は入力不正エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewOutOfRangeError はジオフェンス範囲外エラーを生成する。
// 最寄りゾーンまでの距離をメッセージに含める。
func NewOutOfRangeError(distanceMeters float64) *APIError {
	return &APIError{
		Code:     ErrCodeOutOfRange,
		Message:  fmt.Sprintf("ジムの打刻可能エリア外です。最寄りのエリアまで約%.0fmです。", distanceMeters),
		Category: "attendance",
		Action:   "ジム施設の敷地内で再度打刻してください。",
	}
}

// NewFacilityClosedError は営業時間外エラーを生成する。
func NewFacilityClosedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeFacilityClosed,
		Message:  fmt.Sprintf("現在は営業時間外です: %s", reason),
		Category: "attendance",
		Action:   "営業時間内に再度打刻してください。",
	}
}

// NewMembershipRequiredError は会員権未保有エラーを生成する。
func NewMembershipRequiredError(status MembershipStatus) *APIError {
	msg := "有効な会員権がありません。"
	if status == StatusPending {
		msg = "会員権は承認待ちです。"
	}
	return &APIError{
		Code:     ErrCodeMembershipRequired,
		Message:  msg,
		Category: "membership",
		Action:   "プランを申請するか、承認をお待ちください。",
	}
}

// NewMembershipExpiredError は会員権期限切れエラーを生成する。
func NewMembershipExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeMembershipExpired,
		Message:  "会員権の有効期限が切れています。",
		Category: "membership",
		Action:   "プランを更新申請してください。",
	}
}

// NewUsageCapExceededError は月間利用上限超過エラーを生成する。
func NewUsageCapExceededError(cap int) *APIError {
	return &APIError{
		Code:     ErrCodeUsageCapExceeded,
		Message:  fmt.Sprintf("今月の利用回数が上限（%d回）に達しています。", cap),
		Category: "membership",
		Action:   "翌月になると利用回数はリセットされます。",
	}
}

// NewAlreadyClockedInError は同日二重入館エラーを生成する。
func NewAlreadyClockedInError(date string) *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyClockedIn,
		Message:  fmt.Sprintf("本日（%s）は既に入館打刻済みです。", date),
		Category: "attendance",
		Action:   "退館時に退館打刻を行ってください。",
	}
}

// NewAlreadyClockedOutError は退館打刻済みエラーを生成する。
func NewAlreadyClockedOutError() *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyClockedOut,
		Message:  "本日のセッションは既に退館打刻済みです。",
		Category: "attendance",
		Action:   "退館打刻は1日1回のみ可能です。",
	}
}

// NewNoActiveSessionError は未入館状態での退館打刻エラーを生成する。
func NewNoActiveSessionError() *APIError {
	return &APIError{
		Code:     ErrCodeNoActiveSession,
		Message:  "本日の入館記録がありません。",
		Category: "attendance",
		Action:   "先に入館打刻を行ってください。",
	}
}

// NewDuplicatePlanRequestError は重複プラン申請エラーを生成する。
func NewDuplicatePlanRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicatePlanRequest,
		Message:  "有効または承認待ちの会員権が既に存在します。",
		Category: "membership",
		Action:   "現在の会員権の状態を確認してください。",
	}
}

// NewMembershipNotPendingError は承認対象不在エラーを生成する。
func NewMembershipNotPendingError() *APIError {
	return &APIError{
		Code:     ErrCodeMembershipNotPending,
		Message:  "承認待ちの会員権申請がありません。",
		Category: "membership",
		Action:   "先にプラン申請を行ってください。",
	}
}

// NewMemberNotFoundError は会員未検出エラーを生成する。
func NewMemberNotFoundError(memberID string) *APIError {
	return &APIError{
		Code:     ErrCodeMemberNotFound,
		Message:  fmt.Sprintf("指定された会員が見つかりません: %s", memberID),
		Category: "validation",
		Action:   "会員IDを確認してください。",
	}
}
