package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/gymgate/internal/notify"
	"github.com/hitoshi/gymgate/internal/repository"
	"github.com/hitoshi/gymgate/internal/schedule"
)

// ExpiryWarningJob は満了がちょうどN日先の会員へ事前通知を送る日次ジョブ。
//
// 「ちょうどN日先」はローカル日付の1日分の半開区間で判定するため、
// 判定窓は日付とともに移動する。今日3日前通知を受けた会員は、明日には
// 窓が「2日先」に移っているため同じ閾値で再通知されることはない。
// 独立した送信済みログは持たない。実行がスキップされた日は該当閾値の
// 通知が送られないままになるが、これは許容された近似的な周期である。
type ExpiryWarningJob struct {
	members    repository.MemberRepository
	notifier   notify.Gateway
	sched      *schedule.Schedule
	logger     *slog.Logger
	thresholds []int // 満了までの日数（例: 1日先と3日先）
	now        func() time.Time
}

// NewExpiryWarningJob はExpiryWarningJobを生成する。nowFnがnilの場合はtime.Nowを使用する。
func NewExpiryWarningJob(members repository.MemberRepository, notifier notify.Gateway, sched *schedule.Schedule, logger *slog.Logger, thresholds []int, nowFn func() time.Time) *ExpiryWarningJob {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &ExpiryWarningJob{
		members:    members,
		notifier:   notifier,
		sched:      sched,
		logger:     logger,
		thresholds: thresholds,
		now:        nowFn,
	}
}

// Run は各閾値の判定窓に満了日時が入る会員へ通知を送る。
func (j *ExpiryWarningJob) Run(ctx context.Context) error {
	now := j.now()
	notified := 0

	for _, days := range j.thresholds {
		from, to := j.sched.DayWindow(now, days)
		members, err := j.members.ListExpiringBetween(ctx, from, to)
		if err != nil {
			return fmt.Errorf("期限間近会員の取得に失敗しました（%d日前）: %w", days, err)
		}

		for _, m := range members {
			j.notifier.Send(ctx, m.ID, notify.KindExpiryWarning,
				"会員権の有効期限のお知らせ",
				fmt.Sprintf("会員権はあと%d日で有効期限を迎えます。更新手続きをご検討ください。", days),
				map[string]string{"days_left": fmt.Sprintf("%d", days)},
			)
			notified++
		}
	}

	j.logger.Info("満了事前通知が完了しました",
		slog.Int("notified", notified),
		slog.Any("thresholds", j.thresholds),
	)
	return nil
}
