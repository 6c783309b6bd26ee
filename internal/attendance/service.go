// Package attendance は入退館打刻のドメインロジックを提供する。
// 入館は「位置」「営業時間」「会員権」「利用上限」「同日一意」の
// 5つのゲートをこの順に通過した場合のみ成立する。拒否は常に型付きの
// 理由として呼び出し元へ返り、自動リトライは行われない。
package attendance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/gymgate/internal/geofence"
	"github.com/hitoshi/gymgate/internal/model"
	"github.com/hitoshi/gymgate/internal/notify"
	"github.com/hitoshi/gymgate/internal/repository"
	"github.com/hitoshi/gymgate/internal/schedule"
)

// Ledger は入館判定に必要な会員権操作のインターフェース。
// membership.Serviceの部分集合として定義する。
type Ledger interface {
	// Get は指定IDの会員を取得する。
	Get(ctx context.Context, memberID string) (*model.Member, error)
	// RecordEntry は入館成功1回分の利用回数を加算する。
	RecordEntry(ctx context.Context, memberID string, now time.Time) error
	// ExpireIfPast は満了日時を過ぎた有効会員権を失効させる。
	ExpireIfPast(ctx context.Context, memberID string, now time.Time) (bool, error)
	// UsageCapReached は現時点で月間利用上限に達しているかを返す。
	UsageCapReached(ms model.Membership, now time.Time) bool
	// Cap は月間利用回数の上限を返す。
	Cap() int
}

// MetricsRecorder は打刻結果のメトリクス記録インターフェース。
type MetricsRecorder interface {
	RecordClockInSuccess()
	RecordClockInDenied(code string)
	RecordClockOut()
	RecordSessionDuration(d time.Duration)
}

// Service は入退館打刻のサービス層。
type Service struct {
	sessions   repository.SessionRepository
	zones      repository.ZoneRepository
	ledger     Ledger
	sched      *schedule.Schedule
	notifier   notify.Gateway
	logger     *slog.Logger
	metrics    MetricsRecorder
	warnWindow time.Duration
	// defaultZone はゾーンストアが空の場合のフォールバック。
	// RadiusMetersが0以下の場合はフォールバック無効として扱い、
	// ゾーン不在時はすべての位置を拒否する（フェイルクローズ）。
	defaultZone model.Zone
}

// NewService はServiceの新しいインスタンスを生成する。metricsはnilでもよい。
func NewService(
	sessions repository.SessionRepository,
	zones repository.ZoneRepository,
	ledger Ledger,
	sched *schedule.Schedule,
	notifier notify.Gateway,
	logger *slog.Logger,
	metrics MetricsRecorder,
	warnWindow time.Duration,
	defaultZone model.Zone,
) *Service {
	return &Service{
		sessions:    sessions,
		zones:       zones,
		ledger:      ledger,
		sched:       sched,
		notifier:    notifier,
		logger:      logger,
		metrics:     metrics,
		warnWindow:  warnWindow,
		defaultZone: defaultZone,
	}
}

// ClockIn は入館打刻を行う。
// 全ゲートを通過した場合のみセッションを作成し、利用回数を加算する。
// 満了がまもなくの場合は入館を妨げない案内通知を送る。
func (s *Service) ClockIn(ctx context.Context, memberID string, lat, lon float64, now time.Time) (*model.AttendanceSession, error) {
	sess, err := s.clockIn(ctx, memberID, lat, lon, now)
	if err != nil {
		s.recordDenial(err)
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordClockInSuccess()
	}
	return sess, nil
}

func (s *Service) clockIn(ctx context.Context, memberID string, lat, lon float64, now time.Time) (*model.AttendanceSession, error) {
	if !geofence.ValidCoordinate(lat, lon) {
		return nil, model.NewValidationError("緯度経度が定義域外です")
	}

	// ゲート1: ジオフェンス
	zones, err := s.loadZones(ctx)
	if err != nil {
		return nil, err
	}
	geo := geofence.Validate(zones, lat, lon)
	if !geo.Valid {
		return nil, model.NewOutOfRangeError(geo.NearestDistanceMeters)
	}

	// ゲート2: 営業日・営業時間
	if open, reason := s.sched.IsOpenAt(now); !open {
		return nil, model.NewFacilityClosedError(reason)
	}

	// ゲート3: 会員権
	m, err := s.ledger.Get(ctx, memberID)
	if err != nil {
		return nil, err
	}
	ms := m.Membership
	if ms.Plan == model.PlanNone || ms.Status == model.StatusPending {
		return nil, model.NewMembershipRequiredError(ms.Status)
	}
	if ms.Status == model.StatusExpired {
		return nil, model.NewMembershipExpiredError()
	}
	if ms.IsExpiredAt(now) {
		// 満了済みのactiveは副作用として先に失効させてから拒否する
		if _, err := s.ledger.ExpireIfPast(ctx, memberID, now); err != nil {
			s.logger.Error("入館時の失効処理に失敗しました",
				slog.String("member_id", memberID),
				slog.String("error", err.Error()),
			)
		}
		return nil, model.NewMembershipExpiredError()
	}

	// ゲート4: 月間利用上限
	if s.ledger.UsageCapReached(ms, now) {
		return nil, model.NewUsageCapExceededError(s.ledger.Cap())
	}

	// ゲート5: 同日一意（事前確認。最終的なガードはストレージのユニーク制約）
	dayKey := s.sched.DayKey(now)
	existing, err := s.sessions.FindByMemberAndDate(ctx, memberID, dayKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, model.NewAlreadyClockedInError(dayKey)
	}

	status := model.SessionOnTime
	if s.sched.IsLateAt(now) {
		status = model.SessionLate
	}

	sess := &model.AttendanceSession{
		ID:          uuid.NewString(),
		MemberID:    memberID,
		SessionDate: dayKey,
		ClockIn:     now,
		Status:      status,
		EntryLocation: model.Location{
			Latitude:  lat,
			Longitude: lon,
			Address:   geo.ZoneName,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, err
	}

	if err := s.ledger.RecordEntry(ctx, memberID, now); err != nil {
		// セッションは作成済み。加算失敗は拒否として返し、記録に残す。
		s.logger.Error("利用回数の加算に失敗しました",
			slog.String("member_id", memberID),
			slog.String("session_id", sess.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	s.sendNearExpiryAdvisory(ctx, memberID, ms, now)

	return sess, nil
}

// ClockOut は退館打刻を行う。
// exitがnilの場合は管理経路の手動クローズとみなし、ジオフェンス検査を省略する。
func (s *Service) ClockOut(ctx context.Context, memberID string, exit *model.Location, now time.Time) (*model.AttendanceSession, error) {
	dayKey := s.sched.DayKey(now)
	sess, err := s.sessions.FindByMemberAndDate(ctx, memberID, dayKey)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, model.NewNoActiveSessionError()
	}
	if !sess.IsOpen() {
		return nil, model.NewAlreadyClockedOutError()
	}

	if exit != nil {
		if !geofence.ValidCoordinate(exit.Latitude, exit.Longitude) {
			return nil, model.NewValidationError("緯度経度が定義域外です")
		}
		zones, err := s.loadZones(ctx)
		if err != nil {
			return nil, err
		}
		geo := geofence.Validate(zones, exit.Latitude, exit.Longitude)
		if !geo.Valid {
			return nil, model.NewOutOfRangeError(geo.NearestDistanceMeters)
		}
		if exit.Address == "" {
			exit.Address = geo.ZoneName
		}
	}

	duration := int(now.Sub(sess.ClockIn).Minutes())
	ok, err := s.sessions.Close(ctx, sess.ID, now, exit, duration)
	if err != nil {
		return nil, err
	}
	if !ok {
		// 並行する退館打刻か強制クローズが先に書き込んだ
		return nil, model.NewAlreadyClockedOutError()
	}

	if s.metrics != nil {
		s.metrics.RecordClockOut()
		s.metrics.RecordSessionDuration(now.Sub(sess.ClockIn))
	}

	return s.sessions.FindByMemberAndDate(ctx, memberID, dayKey)
}

// TodaySession は本日のセッションを返す。入館記録がない場合はエラーを返す。
func (s *Service) TodaySession(ctx context.Context, memberID string, now time.Time) (*model.AttendanceSession, error) {
	sess, err := s.sessions.FindByMemberAndDate(ctx, memberID, s.sched.DayKey(now))
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, model.NewNoActiveSessionError()
	}
	return sess, nil
}

// loadZones は有効ゾーンを読み込む。ストアが空の場合はフォールバックゾーンを返す。
func (s *Service) loadZones(ctx context.Context) ([]model.Zone, error) {
	zones, err := s.zones.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("ゾーンの読み込みに失敗しました: %w", err)
	}
	if len(zones) == 0 && s.defaultZone.RadiusMeters > 0 {
		return []model.Zone{s.defaultZone}, nil
	}
	return zones, nil
}

// sendNearExpiryAdvisory は満了が警告範囲内の場合に案内通知を送る。
// 入館の成否には影響しない。
func (s *Service) sendNearExpiryAdvisory(ctx context.Context, memberID string, ms model.Membership, now time.Time) {
	if ms.ExpiryDate == nil {
		return
	}
	remaining := ms.ExpiryDate.Sub(now)
	if remaining <= 0 || remaining > s.warnWindow {
		return
	}
	days := s.sched.DaysUntil(now, *ms.ExpiryDate)
	s.notifier.Send(ctx, memberID, notify.KindNearExpiry,
		"会員権の有効期限が近づいています",
		fmt.Sprintf("会員権はあと%d日で有効期限を迎えます。更新手続きをご検討ください。", days),
		map[string]string{"days_left": fmt.Sprintf("%d", days)},
	)
}

// recordDenial は拒否理由をメトリクスに記録する。
func (s *Service) recordDenial(err error) {
	if s.metrics == nil {
		return
	}
	if apiErr, ok := err.(*model.APIError); ok {
		s.metrics.RecordClockInDenied(apiErr.Code)
		return
	}
	s.metrics.RecordClockInDenied("INTERNAL")
}
