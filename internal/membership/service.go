// Package membership は会員権（入館資格）の状態機械を提供する。
// none → pending → active → expired → pending（更新）→ active … の遷移と、
// 月間利用回数の管理を担う唯一の権威である。
package membership

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/gymgate/internal/model"
	"github.com/hitoshi/gymgate/internal/repository"
	"github.com/hitoshi/gymgate/internal/schedule"
)

// usageUpdateRetries は利用回数更新の楽観的リトライ回数の上限。
const usageUpdateRetries = 3

// Service は会員権管理のサービス層。
type Service struct {
	members repository.MemberRepository
	sched   *schedule.Schedule
	cap     int
	// renewWindow は有効な会員権の満了前更新を受け付ける期間。
	// これより満了が先の申請は重複申請として拒否する。
	renewWindow time.Duration
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(members repository.MemberRepository, sched *schedule.Schedule, cap int, renewWindow time.Duration) *Service {
	return &Service{
		members:     members,
		sched:       sched,
		cap:         cap,
		renewWindow: renewWindow,
	}
}

// Cap は月間利用回数の上限を返す。
func (s *Service) Cap() int {
	return s.cap
}

// Location は施設タイムゾーンを返す。申請開始日の解釈に使用する。
func (s *Service) Location() *time.Location {
	return s.sched.Location()
}

// Get は指定IDの会員を取得する。見つからない場合はエラーを返す。
func (s *Service) Get(ctx context.Context, memberID string) (*model.Member, error) {
	m, err := s.members.FindByID(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("会員の取得に失敗しました: %w", err)
	}
	if m == nil {
		return nil, model.NewMemberNotFoundError(memberID)
	}
	return m, nil
}

// RequestPlan はプラン申請（新規・更新）を受け付け、statusをpendingに遷移させる。
//
// 受付規則:
//   - 承認待ちの申請が既にある場合は重複申請エラー。
//   - 有効（active・未満了）の会員権がある場合、満了が更新受付期間内のときのみ
//     更新申請として受け付ける。それより先の申請は重複申請エラー。
//   - 更新申請の開始日は「現在の満了日時」であり、日数が失われることも
//     二重に数えられることもない。
//   - それ以外（未契約・期限切れ）はstartDate（未指定ならnow）から開始する。
//
// 満了日時は開始日時にプラン期間を暦単位で加算して計算する。
func (s *Service) RequestPlan(ctx context.Context, memberID string, plan model.MembershipPlan, startDate *time.Time, now time.Time) (*model.Member, error) {
	if !plan.IsValid() {
		return nil, model.NewValidationError(fmt.Sprintf("不明なプランです: %s", plan))
	}

	m, err := s.Get(ctx, memberID)
	if err != nil {
		return nil, err
	}

	ms := m.Membership
	if ms.Status == model.StatusPending {
		return nil, model.NewDuplicatePlanRequestError()
	}

	start := now
	if ms.IsActiveAt(now) {
		if ms.ExpiryDate.Sub(now) > s.renewWindow {
			return nil, model.NewDuplicatePlanRequestError()
		}
		// 更新申請: 現在の満了日時から継続する
		start = *ms.ExpiryDate
	} else if startDate != nil {
		start = *startDate
	}

	expiry := plan.AddTo(start)

	ok, err := s.members.SetPlanPending(ctx, memberID, plan, start, expiry)
	if err != nil {
		return nil, fmt.Errorf("プラン申請の登録に失敗しました: %w", err)
	}
	if !ok {
		// 並行する申請が先にpendingへ遷移させた
		return nil, model.NewDuplicatePlanRequestError()
	}

	return s.Get(ctx, memberID)
}

// Approve は承認待ちの会員権をactiveへ遷移させる。
// 承認待ちの申請が存在しない場合はエラーを返す。
func (s *Service) Approve(ctx context.Context, memberID string) (*model.Member, error) {
	ok, err := s.members.ApprovePending(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("会員権の承認に失敗しました: %w", err)
	}
	if !ok {
		// 会員不在か承認対象不在かを区別して返す
		m, err := s.members.FindByID(ctx, memberID)
		if err != nil {
			return nil, fmt.Errorf("会員の取得に失敗しました: %w", err)
		}
		if m == nil {
			return nil, model.NewMemberNotFoundError(memberID)
		}
		return nil, model.NewMembershipNotPendingError()
	}

	return s.Get(ctx, memberID)
}

// UsageCapReached は現時点で月間利用上限に達しているかを判定する。
// 最終リセットの年月がnowの年月と異なる場合はリセット対象なので未達とみなす。
func (s *Service) UsageCapReached(ms model.Membership, now time.Time) bool {
	if ms.LastResetDate == nil || !s.sched.SameLocalMonth(*ms.LastResetDate, now) {
		return false
	}
	return ms.MonthlyUsageCount >= s.cap
}

// RecordEntry は入館成功1回分の利用回数を加算する。
// nowの年月が最終リセットの年月と異なる場合はカウンタを0にリセットしてから加算する。
// 加算により上限を超える場合はUsageCapExceededエラーを返す。
// 書き込みは楽観的条件付き更新で行い、並行する加算と競合した場合は再読込して再試行する。
func (s *Service) RecordEntry(ctx context.Context, memberID string, now time.Time) error {
	for i := 0; i < usageUpdateRetries; i++ {
		m, err := s.Get(ctx, memberID)
		if err != nil {
			return err
		}

		ms := m.Membership
		newCount := ms.MonthlyUsageCount + 1
		if ms.LastResetDate == nil || !s.sched.SameLocalMonth(*ms.LastResetDate, now) {
			newCount = 1
		} else if ms.MonthlyUsageCount >= s.cap {
			return model.NewUsageCapExceededError(s.cap)
		}

		ok, err := s.members.UpdateUsageCounter(ctx, memberID, newCount, now, ms.MonthlyUsageCount)
		if err != nil {
			return fmt.Errorf("利用回数の加算に失敗しました: %w", err)
		}
		if ok {
			return nil
		}
		// 並行する更新と競合したため再読込して再試行
	}
	return fmt.Errorf("利用回数の更新が競合し続けたため中断しました: member=%s", memberID)
}

// ExpireIfPast は満了日時を過ぎた有効会員権をexpiredへ遷移させる。
// 冪等であり、遷移が発生した場合のみtrueを返す。条件は書き込み時に再検査される。
func (s *Service) ExpireIfPast(ctx context.Context, memberID string, now time.Time) (bool, error) {
	transitioned, err := s.members.ExpireIfPast(ctx, memberID, now)
	if err != nil {
		return false, fmt.Errorf("会員権の失効処理に失敗しました: %w", err)
	}
	return transitioned, nil
}
