package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/gymgate/internal/notify"
	"github.com/hitoshi/gymgate/internal/repository"
)

// StaleSessionJob は退館打刻されないまま放置されたセッションを
// clock_out = clock_in + 滞留閾値 で強制クローズする毎時スイープ。
//
// クローズは1回のUPDATEで行われ、クローズ済みセッションは
// 「clock_outが未設定」の条件に二度と一致しないため、再実行は無害。
type StaleSessionJob struct {
	sessions  repository.SessionRepository
	notifier  notify.Gateway
	logger    *slog.Logger
	staleness time.Duration
	now       func() time.Time
}

// NewStaleSessionJob はStaleSessionJobを生成する。nowFnがnilの場合はtime.Nowを使用する。
func NewStaleSessionJob(sessions repository.SessionRepository, notifier notify.Gateway, logger *slog.Logger, staleness time.Duration, nowFn func() time.Time) *StaleSessionJob {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &StaleSessionJob{
		sessions:  sessions,
		notifier:  notifier,
		logger:    logger,
		staleness: staleness,
		now:       nowFn,
	}
}

// Run は滞留セッションを一括強制クローズし、対象会員へ通知する。
// 会員のデバイスが退館打刻を送らなくても、セッションはここで必ず閉じられる。
func (j *StaleSessionJob) Run(ctx context.Context) error {
	closed, err := j.sessions.ForceCloseStale(ctx, j.now(), j.staleness)
	if err != nil {
		return fmt.Errorf("滞留セッションのクローズに失敗しました: %w", err)
	}

	for _, c := range closed {
		j.notifier.Send(ctx, c.MemberID, notify.KindSessionForceClosed,
			"退館打刻が記録されませんでした",
			fmt.Sprintf("退館打刻がなかったため、セッションを%sに自動終了しました。", c.ClockOut.Format("15:04")),
			map[string]string{"session_id": c.SessionID},
		)
	}

	j.logger.Info("滞留セッションスイープが完了しました",
		slog.Int("closed", len(closed)),
		slog.Duration("staleness", j.staleness),
	)
	return nil
}
