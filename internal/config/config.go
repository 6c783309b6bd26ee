package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
// タイムゾーンや営業時間もここで一元管理し、暗黙のグローバル状態は持たない。
type Config struct {
	// Database
	DatabaseURL string

	// Facility
	Timezone      string
	ScheduleSpecs map[time.Weekday]string // 曜日ごとの営業時間（"06:00-23:00" または "closed"）
	LateGrace     time.Duration           // 開館時刻からこの猶予を超えた入館をlateと判定する

	// Membership
	MonthlyUsageCap  int
	ExpiryWarnWindow time.Duration // 入館時のまもなく期限切れ警告の範囲
	ExpiryWarnDays   []int         // 事前通知ジョブの対象（満了までちょうどN日）
	InactivityDays   int           // 休眠リマインドの対象となる未来館日数

	// Sessions
	StaleSessionWindow time.Duration // 未退館セッションの強制クローズ閾値

	// Default zone（ゾーン未登録時のフォールバック）
	DefaultZoneName   string
	DefaultZoneLat    float64
	DefaultZoneLon    float64
	DefaultZoneRadius float64

	// Reconciliation jobs
	ExpireSweepInterval     time.Duration
	StaleSweepInterval      time.Duration
	WarningSweepInterval    time.Duration
	InactivitySweepInterval time.Duration
	GreetingCheckInterval   time.Duration
	GreetingTimes           []string // ローカル時刻 "HH:MM" のリスト

	// Rate Limit（req/min/member）
	RateLimitGeneral int
	RateLimitClock   int

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string

	// Logging
	LogLevel string // debug / info / warn / error
}

// defaultScheduleSpec は営業時間未指定の曜日に適用される既定値。
const defaultScheduleSpec = "06:00-23:00"

// scheduleEnvKeys は曜日ごとの営業時間設定の環境変数名。
var scheduleEnvKeys = map[time.Weekday]string{
	time.Sunday:    "SCHEDULE_SUN",
	time.Monday:    "SCHEDULE_MON",
	time.Tuesday:   "SCHEDULE_TUE",
	time.Wednesday: "SCHEDULE_WED",
	time.Thursday:  "SCHEDULE_THU",
	time.Friday:    "SCHEDULE_FRI",
	time.Saturday:  "SCHEDULE_SAT",
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.Timezone = getEnvString("TIMEZONE", "Asia/Tokyo")
	cfg.ScheduleSpecs = make(map[time.Weekday]string, len(scheduleEnvKeys))
	for wd, key := range scheduleEnvKeys {
		cfg.ScheduleSpecs[wd] = getEnvString(key, defaultScheduleSpec)
	}
	cfg.LateGrace = getEnvDuration("LATE_GRACE", 15*time.Minute)

	cfg.MonthlyUsageCap = getEnvInt("MONTHLY_USAGE_CAP", 26)
	cfg.ExpiryWarnWindow = getEnvDuration("EXPIRY_WARN_WINDOW", 72*time.Hour)
	cfg.ExpiryWarnDays = getEnvIntList("EXPIRY_WARN_DAYS", []int{1, 3})
	cfg.InactivityDays = getEnvInt("INACTIVITY_DAYS", 7)

	cfg.StaleSessionWindow = getEnvDuration("STALE_SESSION_WINDOW", 4*time.Hour)

	cfg.DefaultZoneName = getEnvString("DEFAULT_ZONE_NAME", "main-gym")
	cfg.DefaultZoneLat = getEnvFloat("DEFAULT_ZONE_LAT", 35.6812)
	cfg.DefaultZoneLon = getEnvFloat("DEFAULT_ZONE_LON", 139.7671)
	cfg.DefaultZoneRadius = getEnvFloat("DEFAULT_ZONE_RADIUS", 200)

	cfg.ExpireSweepInterval = getEnvDuration("EXPIRE_SWEEP_INTERVAL", 24*time.Hour)
	cfg.StaleSweepInterval = getEnvDuration("STALE_SWEEP_INTERVAL", time.Hour)
	cfg.WarningSweepInterval = getEnvDuration("WARNING_SWEEP_INTERVAL", 24*time.Hour)
	cfg.InactivitySweepInterval = getEnvDuration("INACTIVITY_SWEEP_INTERVAL", 24*time.Hour)
	cfg.GreetingCheckInterval = getEnvDuration("GREETING_CHECK_INTERVAL", time.Minute)
	cfg.GreetingTimes = getEnvStringList("GREETING_TIMES", []string{"08:00", "18:00"})

	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitClock = getEnvInt("RATE_LIMIT_CLOCK", 10)

	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// getEnvStringList はカンマ区切りの環境変数をリストとして読み込む。
func getEnvStringList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var result []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			result = append(result, s)
		}
	}
	if len(result) == 0 {
		return defaultVal
	}
	return result
}

// getEnvIntList はカンマ区切りの整数リストを読み込む。解析不能な要素は無視する。
func getEnvIntList(key string, defaultVal []int) []int {
	parts := getEnvStringList(key, nil)
	if parts == nil {
		return defaultVal
	}
	var result []int
	for _, p := range parts {
		if i, err := strconv.Atoi(p); err == nil {
			result = append(result, i)
		}
	}
	if len(result) == 0 {
		return defaultVal
	}
	return result
}
