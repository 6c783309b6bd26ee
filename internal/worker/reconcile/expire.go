package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/gymgate/internal/notify"
	"github.com/hitoshi/gymgate/internal/repository"
)

// ExpireJob は満了日時を過ぎた有効会員権を失効させる日次スイープ。
//
// 通知は active → expired の一方向遷移が実際に発生した会員にのみ送られる。
// 遷移条件は書き込み時にSQLで再検査されるため、同日に再実行しても
// 既に失効済みの会員へ再通知することはなく、スイープ中に更新された
// 会員権を誤って失効させることもない。
type ExpireJob struct {
	members  repository.MemberRepository
	notifier notify.Gateway
	logger   *slog.Logger
	now      func() time.Time
}

// NewExpireJob はExpireJobを生成する。nowFnがnilの場合はtime.Nowを使用する。
func NewExpireJob(members repository.MemberRepository, notifier notify.Gateway, logger *slog.Logger, nowFn func() time.Time) *ExpireJob {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &ExpireJob{
		members:  members,
		notifier: notifier,
		logger:   logger,
		now:      nowFn,
	}
}

// Run は失効対象の会員を走査し、1件ずつ条件付きで失効させる。
// 個別の失敗はログに記録して続行し、次回実行で再処理される。
func (j *ExpireJob) Run(ctx context.Context) error {
	now := j.now()

	candidates, err := j.members.ListExpiredActive(ctx, now)
	if err != nil {
		return fmt.Errorf("失効対象の取得に失敗しました: %w", err)
	}

	expired := 0
	for _, m := range candidates {
		transitioned, err := j.members.ExpireIfPast(ctx, m.ID, now)
		if err != nil {
			j.logger.Error("会員権の失効に失敗しました",
				slog.String("member_id", m.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !transitioned {
			// 読み取りから書き込みまでの間に更新された会員権。巻き戻さない。
			continue
		}
		expired++

		j.notifier.Send(ctx, m.ID, notify.KindMembershipExpired,
			"会員権の有効期限が切れました",
			"会員権が失効しました。引き続きご利用いただくには更新手続きを行ってください。",
			map[string]string{"plan": string(m.Membership.Plan)},
		)
	}

	if expired > 0 {
		j.notifyStaff(ctx, expired)
	}

	j.logger.Info("失効スイープが完了しました",
		slog.Int("candidates", len(candidates)),
		slog.Int("expired", expired),
	)
	return nil
}

// notifyStaff はスタッフ宛に失効件数の集計通知を1回送る。
func (j *ExpireJob) notifyStaff(ctx context.Context, expired int) {
	staffIDs, err := j.members.ListStaffIDs(ctx)
	if err != nil {
		j.logger.Error("スタッフ一覧の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return
	}
	body := fmt.Sprintf("本日のスイープで%d名の会員権が失効しました。", expired)
	for _, id := range staffIDs {
		j.notifier.Send(ctx, id, notify.KindStaffSummary,
			"会員権失効の集計", body,
			map[string]string{"expired_count": fmt.Sprintf("%d", expired)},
		)
	}
}
