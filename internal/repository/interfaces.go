// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/gymgate/internal/model"
)

// MemberRepository は会員データの永続化インターフェース。
// 会員権の状態遷移は条件付きUPDATEで行い、書き込み時点で遷移条件を再検査する。
// これによりバックグラウンドジョブとライブリクエストが並行しても
// 正当な遷移（例: 更新直後の会員権）を巻き戻すことがない。
type MemberRepository interface {
	// FindByID は指定IDの会員を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Member, error)

	// Create は会員を作成する。会員登録自体は外部システムの責務であり、
	// 主にシードとテストで使用する。
	Create(ctx context.Context, member *model.Member) error

	// SetPlanPending はプラン申請を書き込み、statusをpendingに遷移させる。
	// 既にpendingの場合は書き込まずfalseを返す（重複申請の競合ガード）。
	SetPlanPending(ctx context.Context, memberID string, plan model.MembershipPlan, start, expiry time.Time) (bool, error)

	// ApprovePending はpending→activeの遷移を行う。
	// pendingでない場合、またはplanが未設定の場合は何もせずfalseを返す。
	ApprovePending(ctx context.Context, memberID string) (bool, error)

	// ExpireIfPast はactiveかつ満了日時がnowより過去の場合のみexpiredへ遷移させる。
	// 冪等であり、遷移が発生した場合のみtrueを返す。
	// 条件は書き込み時にSQLで再検査されるため、直前に更新された会員権を誤って失効させない。
	ExpireIfPast(ctx context.Context, memberID string, now time.Time) (bool, error)

	// UpdateUsageCounter は月間利用回数と最終リセット日時を楽観的条件付きで更新する。
	// 現在値がexpectedCountと一致する場合のみ書き込み、一致しなければfalseを返す。
	UpdateUsageCounter(ctx context.Context, memberID string, newCount int, lastReset time.Time, expectedCount int) (bool, error)

	// ListExpiredActive はstatus=activeかつ満了日時がnowより過去の会員を返す。
	ListExpiredActive(ctx context.Context, now time.Time) ([]*model.Member, error)

	// ListExpiringBetween はstatus=activeかつ満了日時が[from, to)に入る会員を返す。
	ListExpiringBetween(ctx context.Context, from, to time.Time) ([]*model.Member, error)

	// ListInactiveSince はstatus=activeかつsinceDate（ローカル日付キー）以降に
	// 入館記録がない会員を返す。
	ListInactiveSince(ctx context.Context, sinceDate string) ([]*model.Member, error)

	// CountActive はstatus=activeの会員数を返す。
	CountActive(ctx context.Context) (int, error)

	// ListStaffIDs はスタッフ・管理者の会員IDを返す。集計通知の宛先に使用する。
	ListStaffIDs(ctx context.Context) ([]string, error)
}

// SessionRepository は入退館セッションの永続化インターフェース。
// (member_id, session_date) のユニーク制約が同日二重入館の競合ガードとなる。
type SessionRepository interface {
	// Create はセッションを作成する。
	// 同一会員・同一日付のセッションが既に存在する場合は
	// ストレージのユニーク制約違反をAlreadyClockedInエラーとして返す。
	Create(ctx context.Context, session *model.AttendanceSession) error

	// FindByMemberAndDate は会員IDとローカル日付キーでセッションを取得する。
	// 見つからない場合はnilを返す。
	FindByMemberAndDate(ctx context.Context, memberID, date string) (*model.AttendanceSession, error)

	// Close は未退館セッションに退館打刻を書き込む。
	// 既に退館済みの場合は何もせずfalseを返す（clock_outは一度設定されたら不変）。
	Close(ctx context.Context, sessionID string, clockOut time.Time, exit *model.Location, durationMinutes int) (bool, error)

	// ForceCloseStale は入館からstalenessを超えて未退館のセッションを
	// clock_out = clock_in + staleness で一括強制クローズし、対象を返す。
	// 1回のUPDATEで条件判定と書き込みを行うため冪等。
	ForceCloseStale(ctx context.Context, now time.Time, staleness time.Duration) ([]ForceClosedSession, error)
}

// ForceClosedSession は強制クローズされたセッションの通知用サマリ。
type ForceClosedSession struct {
	SessionID string
	MemberID  string
	ClockIn   time.Time
	ClockOut  time.Time
}

// ZoneRepository は打刻可能エリアの読み取りインターフェース。
// ゾーン管理自体は外部システムの責務であり、コアは有効ゾーンの一覧のみを消費する。
type ZoneRepository interface {
	// ListActive は有効なゾーンの一覧を返す。1件もない場合は空スライスを返す。
	ListActive(ctx context.Context) ([]model.Zone, error)

	// Create はゾーンを作成する。主にシードとテストで使用する。
	Create(ctx context.Context, zone *model.Zone) error
}
