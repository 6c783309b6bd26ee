// Package reconcile は会員権と入退館状態を時間経過に対して正しく保つ
// バックグラウンドジョブ群を提供する。各ジョブは独立したタイマーで実行され、
// レコード単位で冪等なため、途中で失敗しても次回実行で安全に再開できる。
package reconcile

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// Job は名前付きの定期実行ジョブを表す。
// Runは直接呼び出してテストできるよう、スケジューリングから分離されている。
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// MetricsRecorder はジョブ実行のメトリクス記録インターフェース。
type MetricsRecorder interface {
	RecordJobRun(name string)
	RecordJobFailure(name string)
}

// Runner は登録されたジョブをそれぞれ独立したゴルーチンで定期実行する。
// あるジョブの失敗（エラー・panic）は他のジョブの実行に影響しない。
type Runner struct {
	jobs    []Job
	logger  *slog.Logger
	metrics MetricsRecorder
}

// NewRunner はRunnerの新しいインスタンスを生成する。metricsはnilでもよい。
func NewRunner(logger *slog.Logger, metrics MetricsRecorder, jobs ...Job) *Runner {
	return &Runner{
		jobs:    jobs,
		logger:  logger,
		metrics: metrics,
	}
}

// Start は全ジョブのスケジューリングを開始し、コンテキストが
// キャンセルされるまでブロックする。各ジョブは起動直後に1回実行され、
// 以降はIntervalごとのティッカーで実行される。
func (r *Runner) Start(ctx context.Context) {
	r.logger.Info("照合ジョブランナーを開始しました",
		slog.Int("job_count", len(r.jobs)),
	)

	var wg sync.WaitGroup
	for _, job := range r.jobs {
		wg.Add(1)
		go func(j Job) {
			defer wg.Done()
			r.loop(ctx, j)
		}(job)
	}
	wg.Wait()

	r.logger.Info("照合ジョブランナーを停止しました")
}

// loop は1ジョブ分のティッカーループを実行する。
func (r *Runner) loop(ctx context.Context, j Job) {
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	r.RunJob(ctx, j)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunJob(ctx, j)
		}
	}
}

// RunJob は1ジョブを1回実行する。エラーとpanicはログに記録して吸収し、
// 呼び出し元には伝播させない。バッチの途中で失敗しても処理済みレコードは
// 正しい状態のまま残り、次回実行で残りが処理される。
func (r *Runner) RunJob(ctx context.Context, j Job) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("ジョブがpanicしました",
				slog.String("job", j.Name),
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
			if r.metrics != nil {
				r.metrics.RecordJobFailure(j.Name)
			}
		}
	}()

	start := time.Now()
	if r.metrics != nil {
		r.metrics.RecordJobRun(j.Name)
	}

	if err := j.Run(ctx); err != nil {
		r.logger.Error("ジョブの実行に失敗しました",
			slog.String("job", j.Name),
			slog.String("error", err.Error()),
		)
		if r.metrics != nil {
			r.metrics.RecordJobFailure(j.Name)
		}
		return
	}

	r.logger.Info("ジョブが完了しました",
		slog.String("job", j.Name),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
}
