package middleware

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralRate     rate.Limit    // API全般のレート（req/sec）。120/60 = 2 req/sec
	GeneralBurst    int           // API全般のバーストサイズ
	ClockRate       rate.Limit    // 打刻エンドポイントのレート（req/sec）。10/60
	ClockBurst      int           // 打刻エンドポイントのバーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// NewRateLimiterConfig は要求レート（req/min/member）から設定を組み立てる。
func NewRateLimiterConfig(generalPerMin, clockPerMin int) RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(float64(generalPerMin) / 60.0),
		GeneralBurst:    generalPerMin,
		ClockRate:       rate.Limit(float64(clockPerMin) / 60.0),
		ClockBurst:      clockPerMin,
		CleanupInterval: 5 * time.Minute,
	}
}

// memberLimiter は会員ごとのレートリミッターとアクセス時刻を保持する。
type memberLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// limiterSet は会員IDごとのリミッター群を管理する。
type limiterSet struct {
	mu       sync.RWMutex
	limiters map[string]*memberLimiter
	limit    rate.Limit
	burst    int
}

func newLimiterSet(limit rate.Limit, burst int) *limiterSet {
	return &limiterSet{
		limiters: make(map[string]*memberLimiter),
		limit:    limit,
		burst:    burst,
	}
}

// getOrCreate は会員のリミッターを取得または作成する。
func (s *limiterSet) getOrCreate(memberID string) *rate.Limiter {
	s.mu.RLock()
	ml, exists := s.limiters[memberID]
	s.mu.RUnlock()

	if exists {
		s.mu.Lock()
		ml.lastAccess = time.Now()
		s.mu.Unlock()
		return ml.limiter
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// ダブルチェック
	if ml, exists := s.limiters[memberID]; exists {
		ml.lastAccess = time.Now()
		return ml.limiter
	}

	limiter := rate.NewLimiter(s.limit, s.burst)
	s.limiters[memberID] = &memberLimiter{
		limiter:    limiter,
		lastAccess: time.Now(),
	}

	return limiter
}

// count は現在管理されているエントリ数を返す。
func (s *limiterSet) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.limiters)
}

// evictBefore は最終アクセスがdeadlineより古いエントリを削除する。
func (s *limiterSet) evictBefore(deadline time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for memberID, ml := range s.limiters {
		if ml.lastAccess.Before(deadline) {
			delete(s.limiters, memberID)
		}
	}
}

// RateLimiter は会員ごとのレート制限を管理する。
// API全般のレート制限と打刻エンドポイント専用のレート制限の2種類を提供する。
type RateLimiter struct {
	config  RateLimiterConfig
	general *limiterSet
	clock   *limiterSet
	stopCh  chan struct{}
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:  config,
		general: newLimiterSet(config.GeneralRate, config.GeneralBurst),
		clock:   newLimiterSet(config.ClockRate, config.ClockBurst),
		stopCh:  make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// GeneralMiddleware はAPI全般のレート制限ミドルウェアを返す。
// リクエストコンテキストに会員IDが含まれている必要がある（IdentityMiddlewareの後に配置）。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.general, rl.config.GeneralRate, "general")
}

// ClockMiddleware は打刻エンドポイント専用のレート制限ミドルウェアを返す。
// API全般のレート制限とは独立に動作する。
func (rl *RateLimiter) ClockMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.clock, rl.config.ClockRate, "clock")
}

func (rl *RateLimiter) middleware(set *limiterSet, limit rate.Limit, limitType string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			memberID, err := MemberIDFromContext(r.Context())
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			if !set.getOrCreate(memberID).Allow() {
				writeRateLimitResponse(w, limit)
				slog.Warn("rate limit exceeded",
					slog.String("member_id", memberID),
					slog.String("limit_type", limitType),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GeneralLimiterCount は現在管理されているAPI全般リミッターのエントリ数を返す。
// テストおよびメトリクス用。
func (rl *RateLimiter) GeneralLimiterCount() int {
	return rl.general.count()
}

// ClockLimiterCount は現在管理されている打刻リミッターのエントリ数を返す。
// テストおよびメトリクス用。
func (rl *RateLimiter) ClockLimiterCount() int {
	return rl.clock.count()
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(-rl.config.CleanupInterval * 2)
			rl.general.evictBefore(deadline)
			rl.clock.evictBefore(deadline)
		case <-rl.stopCh:
			return
		}
	}
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	// Retry-Afterの算出: 1トークンが補充されるまでの秒数
	retryAfterSec := int(math.Ceil(1.0 / float64(r)))
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	json.NewEncoder(w).Encode(map[string]string{
		"code":     "RATE_LIMIT_EXCEEDED",
		"message":  "リクエストが多すぎます。",
		"category": "system",
		"action":   "しばらく待ってから再度お試しください。",
	})
}
