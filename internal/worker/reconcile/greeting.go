package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/gymgate/internal/notify"
	"github.com/hitoshi/gymgate/internal/repository"
	"github.com/hitoshi/gymgate/internal/schedule"
)

// GreetingJob は定時に有効会員全員へ一斉メッセージを配送する。
//
// 短い間隔のティッカーで繰り返し呼ばれ、設定されたローカル時刻のいずれかを
// 過ぎていてかつその日まだ送っていない場合にのみ発火する。送信済み判定は
// 前回送信したローカル日付との比較で行うため、同一暦日に2回送ることはない。
// 発火予定時刻に実行できなかった場合は、後続の時刻スロットで追い付く。
// 休館日はスキップする。
type GreetingJob struct {
	members  repository.MemberRepository
	notifier notify.Gateway
	sched    *schedule.Schedule
	logger   *slog.Logger
	slots    []int // 発火するローカル時刻（0時からの経過分、昇順）
	now      func() time.Time

	mu          sync.Mutex
	lastSentDay string
}

// NewGreetingJob はGreetingJobを生成する。
// timesは"HH:MM"形式のローカル時刻。解析できない要素はエラーになる。
// nowFnがnilの場合はtime.Nowを使用する。
func NewGreetingJob(members repository.MemberRepository, notifier notify.Gateway, sched *schedule.Schedule, logger *slog.Logger, times []string, nowFn func() time.Time) (*GreetingJob, error) {
	if nowFn == nil {
		nowFn = time.Now
	}

	slots := make([]int, 0, len(times))
	for _, t := range times {
		min, err := schedule.ParseClock(t)
		if err != nil {
			return nil, fmt.Errorf("定時メッセージの時刻指定が不正です: %w", err)
		}
		slots = append(slots, min)
	}

	return &GreetingJob{
		members:  members,
		notifier: notifier,
		sched:    sched,
		logger:   logger,
		slots:    slots,
		now:      nowFn,
	}, nil
}

// Run は発火条件を判定し、条件を満たす場合のみ一斉配送を行う。
func (j *GreetingJob) Run(ctx context.Context) error {
	now := j.now()

	if j.sched.IsClosedDay(now) {
		return nil
	}

	day := j.sched.DayKey(now)
	min := j.sched.MinuteOfDayAt(now)

	j.mu.Lock()
	fire := j.lastSentDay != day && reachedSlot(j.slots, min)
	if fire {
		j.lastSentDay = day
	}
	j.mu.Unlock()

	if !fire {
		return nil
	}

	count, err := j.members.CountActive(ctx)
	if err != nil {
		// 配送自体は行う。件数はログ用途のみで、失敗しても発火を取り消さない。
		j.logger.Error("有効会員数の取得に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	j.notifier.Broadcast(ctx, notify.KindGreeting,
		"今日も一緒に頑張りましょう！",
		"今日のトレーニングがあなたを明日のあなたに近づけます。お待ちしております！",
		map[string]string{"date": day},
	)

	j.logger.Info("定時メッセージを配送しました",
		slog.String("date", day),
		slog.Int("active_members", count),
	)
	return nil
}

// reachedSlot はいずれかの発火時刻を過ぎているかを返す。
func reachedSlot(slots []int, min int) bool {
	for _, s := range slots {
		if min >= s {
			return true
		}
	}
	return false
}
