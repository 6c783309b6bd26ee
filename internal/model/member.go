// Package model はドメインモデルを定義する。
package model

import "time"

// MemberRole は会員の役割を表す。
type MemberRole string

const (
	// RoleMember は一般会員。
	RoleMember MemberRole = "member"
	// RoleStaff はスタッフ。バックグラウンドジョブの集計通知の宛先になる。
	RoleStaff MemberRole = "staff"
	// RoleAdmin は管理者。会員権の承認を行える。
	RoleAdmin MemberRole = "admin"
)

// Member はジムの会員を表す。
// 会員権の状態（Membership）を埋め込みで保持する。
type Member struct {
	ID         string
	Name       string
	Email      string
	Role       MemberRole
	IsActive   bool
	Membership Membership
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// IsStaff はスタッフまたは管理者かを返す。
func (m *Member) IsStaff() bool {
	return m.Role == RoleStaff || m.Role == RoleAdmin
}

// MembershipPlan は会員権プランを表す。
type MembershipPlan string

const (
	// PlanNone はプラン未契約。
	PlanNone MembershipPlan = "none"
	// PlanOneMonth は1ヶ月プラン。
	PlanOneMonth MembershipPlan = "1-month"
	// PlanThreeMonth は3ヶ月プラン。
	PlanThreeMonth MembershipPlan = "3-month"
	// PlanSixMonth は6ヶ月プラン。
	PlanSixMonth MembershipPlan = "6-month"
	// PlanOneYear は1年プラン。
	PlanOneYear MembershipPlan = "1-year"
)

// IsValid はプラン値が定義済みのものかを返す。PlanNoneは契約可能なプランではない。
func (p MembershipPlan) IsValid() bool {
	switch p {
	case PlanOneMonth, PlanThreeMonth, PlanSixMonth, PlanOneYear:
		return true
	}
	return false
}

// AddTo は開始日時にプラン期間を暦単位で加算した満了日時を返す。
// 固定日数ではなくカレンダー上の月/年単位で加算する（1/31 + 1ヶ月 → 3/3 等のGoのAddDate規則に従う）。
func (p MembershipPlan) AddTo(start time.Time) time.Time {
	switch p {
	case PlanOneMonth:
		return start.AddDate(0, 1, 0)
	case PlanThreeMonth:
		return start.AddDate(0, 3, 0)
	case PlanSixMonth:
		return start.AddDate(0, 6, 0)
	case PlanOneYear:
		return start.AddDate(1, 0, 0)
	}
	return start
}

// MembershipStatus は会員権の状態を表す。
type MembershipStatus string

const (
	// StatusNone は未申請状態。登録直後の会員はこの状態から始まる。
	StatusNone MembershipStatus = "none"
	// StatusPending は承認待ち状態。
	StatusPending MembershipStatus = "pending"
	// StatusActive は有効状態。入館資格を持つ。
	StatusActive MembershipStatus = "active"
	// StatusExpired は期限切れ状態。更新申請でpendingに戻れる。
	StatusExpired MembershipStatus = "expired"
)

// Membership は入館資格を管理する会員権サブレコード。
// 不変条件: Status == active ならば Plan != none かつ ExpiryDate が設定されている。
type Membership struct {
	Plan              MembershipPlan
	Status            MembershipStatus
	StartDate         *time.Time
	ExpiryDate        *time.Time
	MonthlyUsageCount int
	LastResetDate     *time.Time
}

// IsActiveAt は指定時刻において会員権が有効（active かつ未満了）かを返す。
func (m Membership) IsActiveAt(now time.Time) bool {
	if m.Status != StatusActive || m.ExpiryDate == nil {
		return false
	}
	return !m.ExpiryDate.Before(now)
}

// IsExpiredAt は指定時刻において満了日時を過ぎているかを返す。
// ExpiryDate未設定の場合はfalseを返す。
func (m Membership) IsExpiredAt(now time.Time) bool {
	return m.ExpiryDate != nil && m.ExpiryDate.Before(now)
}
