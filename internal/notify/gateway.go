// Package notify は通知ゲートウェイのインターフェースを定義する。
// 配送トランスポート（プッシュ通知等）は外部システムの責務であり、
// コアは投げ放ちの配送依頼のみを行う。通知の成否が状態遷移を妨げることはない。
package notify

import (
	"context"
	"log/slog"
)

// Kind は通知の種別を表す。
type Kind string

const (
	// KindMembershipExpired は会員権失効の通知。
	KindMembershipExpired Kind = "membership_expired"
	// KindExpiryWarning は満了事前通知。
	KindExpiryWarning Kind = "expiry_warning"
	// KindNearExpiry は入館時のまもなく期限切れ案内。
	KindNearExpiry Kind = "near_expiry"
	// KindSessionForceClosed は滞留セッションの強制クローズ通知。
	KindSessionForceClosed Kind = "session_force_closed"
	// KindInactivityReminder は休眠リマインド。
	KindInactivityReminder Kind = "inactivity_reminder"
	// KindGreeting は定時の一斉メッセージ。
	KindGreeting Kind = "greeting"
	// KindStaffSummary はスタッフ向けの集計通知。
	KindStaffSummary Kind = "staff_summary"
)

// Gateway は通知配送依頼のインターフェース。
// 戻り値はなく、呼び出し元は配送結果に依存しない（fire-and-forget）。
type Gateway interface {
	// Send は指定会員への通知配送を依頼する。
	Send(ctx context.Context, memberID string, kind Kind, title, body string, metadata map[string]string)
	// Broadcast は全対象会員への一斉配送を依頼する。
	Broadcast(ctx context.Context, kind Kind, title, body string, metadata map[string]string)
}

// SentRecorder は通知件数のメトリクス記録インターフェース。
type SentRecorder interface {
	RecordNotificationSent(kind string)
}

// LogGateway は配送依頼を構造化ログに記録するGateway実装。
// 実際の配送は外部のゲートウェイが担い、コアからはこのログが依頼の記録となる。
type LogGateway struct {
	logger  *slog.Logger
	metrics SentRecorder
}

// NewLogGateway はLogGatewayを生成する。metricsはnilでもよい。
func NewLogGateway(logger *slog.Logger, metrics SentRecorder) *LogGateway {
	return &LogGateway{logger: logger, metrics: metrics}
}

// Send は通知依頼をログに記録する。
func (g *LogGateway) Send(ctx context.Context, memberID string, kind Kind, title, body string, metadata map[string]string) {
	g.logger.Info("通知を配送依頼しました",
		slog.String("member_id", memberID),
		slog.String("kind", string(kind)),
		slog.String("title", title),
		slog.Any("metadata", metadata),
	)
	if g.metrics != nil {
		g.metrics.RecordNotificationSent(string(kind))
	}
}

// Broadcast は一斉配送依頼をログに記録する。
func (g *LogGateway) Broadcast(ctx context.Context, kind Kind, title, body string, metadata map[string]string) {
	g.logger.Info("一斉通知を配送依頼しました",
		slog.String("kind", string(kind)),
		slog.String("title", title),
		slog.Any("metadata", metadata),
	)
	if g.metrics != nil {
		g.metrics.RecordNotificationSent(string(kind))
	}
}

// compile-time interface check
var _ Gateway = (*LogGateway)(nil)
