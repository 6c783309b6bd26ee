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

// InactivityJob は直近N日間に来館記録のない有効会員へリマインドを送る日次ジョブ。
type InactivityJob struct {
	members  repository.MemberRepository
	notifier notify.Gateway
	sched    *schedule.Schedule
	logger   *slog.Logger
	days     int
	now      func() time.Time
}

// NewInactivityJob はInactivityJobを生成する。nowFnがnilの場合はtime.Nowを使用する。
func NewInactivityJob(members repository.MemberRepository, notifier notify.Gateway, sched *schedule.Schedule, logger *slog.Logger, days int, nowFn func() time.Time) *InactivityJob {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &InactivityJob{
		members:  members,
		notifier: notifier,
		sched:    sched,
		logger:   logger,
		days:     days,
		now:      nowFn,
	}
}

// Run はN日前のローカル日付以降に入館記録のない有効会員を抽出して通知する。
func (j *InactivityJob) Run(ctx context.Context) error {
	now := j.now()
	since := j.sched.DayKey(now.AddDate(0, 0, -j.days))

	members, err := j.members.ListInactiveSince(ctx, since)
	if err != nil {
		return fmt.Errorf("休眠会員の取得に失敗しました: %w", err)
	}

	for _, m := range members {
		j.notifier.Send(ctx, m.ID, notify.KindInactivityReminder,
			"最近ジムへお越しいただいていません",
			fmt.Sprintf("直近%d日間の来館記録がありません。お待ちしております！", j.days),
			map[string]string{"inactive_days": fmt.Sprintf("%d", j.days)},
		)
	}

	j.logger.Info("休眠リマインドが完了しました",
		slog.Int("notified", len(members)),
		slog.Int("inactive_days", j.days),
	)
	return nil
}
