// Package model はドメインモデルを定義する。
package model

import "time"

// SessionStatus は入館時刻の判定結果を表す。打刻時に確定し変更されない。
type SessionStatus string

const (
	// SessionOnTime は開館猶予時間内の入館。
	SessionOnTime SessionStatus = "on_time"
	// SessionLate は猶予時間を過ぎた入館。
	SessionLate SessionStatus = "late"
)

// Location は打刻時の位置情報を表す。住所は任意。
type Location struct {
	Latitude  float64
	Longitude float64
	Address   string
}

// AttendanceSession は1会員1日1件の入退館記録を表す。
// (MemberID, SessionDate) の組はストレージのユニーク制約で一意に保たれる。
// ClockOutは一度設定されたら変更されない。
type AttendanceSession struct {
	ID              string
	MemberID        string
	SessionDate     string // 施設タイムゾーンでのローカル日付（YYYY-MM-DD）
	ClockIn         time.Time
	ClockOut        *time.Time
	Status          SessionStatus
	EntryLocation   Location
	ExitLocation    *Location
	DurationMinutes *int
	ForceClosed     bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsOpen は退館打刻がまだ行われていないかを返す。
func (s AttendanceSession) IsOpen() bool {
	return s.ClockOut == nil
}

// IsStaleAt は指定時刻において、未退館のままstaleness期間を超過しているかを返す。
// 超過したセッションは照合ジョブによる強制クローズの対象になる。
func (s AttendanceSession) IsStaleAt(now time.Time, staleness time.Duration) bool {
	return s.IsOpen() && now.Sub(s.ClockIn) > staleness
}
