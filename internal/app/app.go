package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/gymgate/internal/attendance"
	"github.com/hitoshi/gymgate/internal/config"
	"github.com/hitoshi/gymgate/internal/database"
	"github.com/hitoshi/gymgate/internal/handler"
	"github.com/hitoshi/gymgate/internal/logger"
	"github.com/hitoshi/gymgate/internal/membership"
	"github.com/hitoshi/gymgate/internal/metrics"
	"github.com/hitoshi/gymgate/internal/middleware"
	"github.com/hitoshi/gymgate/internal/model"
	"github.com/hitoshi/gymgate/internal/notify"
	"github.com/hitoshi/gymgate/internal/repository"
	"github.com/hitoshi/gymgate/internal/schedule"
	"github.com/hitoshi/gymgate/internal/worker/reconcile"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルを反映する
	if lvl := logger.ParseLevel(cfg.LogLevel); lvl != slog.LevelInfo {
		logger.SetupDefault(w, lvl)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("timezone", cfg.Timezone),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandSeed:
		return runSeed(cfg)
	default:
		return runServe(cfg)
	}
}

// defaultZone はゾーン未登録時のフォールバックゾーンを設定から組み立てる。
func defaultZone(cfg *config.Config) model.Zone {
	return model.Zone{
		Name:         cfg.DefaultZoneName,
		Latitude:     cfg.DefaultZoneLat,
		Longitude:    cfg.DefaultZoneLon,
		RadiusMeters: cfg.DefaultZoneRadius,
		Active:       true,
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. 営業スケジュールの構築
	sched, err := schedule.New(cfg.Timezone, cfg.ScheduleSpecs, cfg.LateGrace)
	if err != nil {
		return fmt.Errorf("failed to build facility schedule: %w", err)
	}

	// 3. リポジトリの初期化
	memberRepo := repository.NewPostgresMemberRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	zoneRepo := repository.NewPostgresZoneRepo(db)

	// 4. メトリクスと通知ゲートウェイの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)
	gateway := notify.NewLogGateway(slog.Default(), collector)

	// 5. ドメインサービスの初期化
	membershipSvc := membership.NewService(memberRepo, sched, cfg.MonthlyUsageCap, cfg.ExpiryWarnWindow)
	attendanceSvc := attendance.NewService(
		sessionRepo, zoneRepo, membershipSvc, sched, gateway,
		slog.Default(), collector, cfg.ExpiryWarnWindow, defaultZone(cfg),
	)

	// 6. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitClock),
	)
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		MemberFinder:      memberRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,

		HealthChecker:  db,
		MetricsHandler: metrics.Handler(registry),

		AttendanceService: attendanceSvc,
		MembershipService: membershipSvc,
	}

	router := handler.NewRouter(deps)

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker は照合ワーカーモードで起動する。
// DB接続を開き、失効スイープ・滞留セッションクローズ・満了事前通知・
// 休眠リマインド・定時メッセージの各ジョブを定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. 営業スケジュールの構築
	sched, err := schedule.New(cfg.Timezone, cfg.ScheduleSpecs, cfg.LateGrace)
	if err != nil {
		return fmt.Errorf("failed to build facility schedule: %w", err)
	}

	// 3. リポジトリの初期化
	memberRepo := repository.NewPostgresMemberRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)

	// 4. メトリクスと通知ゲートウェイの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)
	gateway := notify.NewLogGateway(slog.Default(), collector)

	// 5. ジョブの初期化
	expireJob := reconcile.NewExpireJob(memberRepo, gateway, slog.Default(), nil)
	staleJob := reconcile.NewStaleSessionJob(sessionRepo, gateway, slog.Default(), cfg.StaleSessionWindow, nil)
	warningJob := reconcile.NewExpiryWarningJob(memberRepo, gateway, sched, slog.Default(), cfg.ExpiryWarnDays, nil)
	inactivityJob := reconcile.NewInactivityJob(memberRepo, gateway, sched, slog.Default(), cfg.InactivityDays, nil)
	greetingJob, err := reconcile.NewGreetingJob(memberRepo, gateway, sched, slog.Default(), cfg.GreetingTimes, nil)
	if err != nil {
		return fmt.Errorf("failed to build greeting job: %w", err)
	}

	runner := reconcile.NewRunner(slog.Default(), collector,
		reconcile.Job{Name: "membership_expire", Interval: cfg.ExpireSweepInterval, Run: expireJob.Run},
		reconcile.Job{Name: "stale_session_close", Interval: cfg.StaleSweepInterval, Run: staleJob.Run},
		reconcile.Job{Name: "expiry_warning", Interval: cfg.WarningSweepInterval, Run: warningJob.Run},
		reconcile.Job{Name: "inactivity_reminder", Interval: cfg.InactivitySweepInterval, Run: inactivityJob.Run},
		reconcile.Job{Name: "greeting", Interval: cfg.GreetingCheckInterval, Run: greetingJob.Run},
	)

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("expire_sweep_interval", cfg.ExpireSweepInterval),
		slog.Duration("stale_sweep_interval", cfg.StaleSweepInterval),
	)

	// ランナーをメインgoroutineで実行（ブロッキング）
	runner.Start(ctx)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runSeed は開発用の初期データを投入する。
// デフォルトゾーン1件と、デモ用の会員・スタッフを作成する。
func runSeed(cfg *config.Config) error {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	zoneRepo := repository.NewPostgresZoneRepo(db)
	memberRepo := repository.NewPostgresMemberRepo(db)

	zone := defaultZone(cfg)
	zone.ID = uuid.NewString()
	if err := zoneRepo.Create(ctx, &zone); err != nil {
		return fmt.Errorf("failed to seed zone: %w", err)
	}

	members := []*model.Member{
		{
			ID:       uuid.NewString(),
			Name:     "デモ会員",
			Email:    "member@example.com",
			Role:     model.RoleMember,
			IsActive: true,
			Membership: model.Membership{
				Plan:   model.PlanNone,
				Status: model.StatusNone,
			},
		},
		{
			ID:       uuid.NewString(),
			Name:     "デモスタッフ",
			Email:    "staff@example.com",
			Role:     model.RoleStaff,
			IsActive: true,
			Membership: model.Membership{
				Plan:   model.PlanNone,
				Status: model.StatusNone,
			},
		},
	}
	for _, m := range members {
		if err := memberRepo.Create(ctx, m); err != nil {
			return fmt.Errorf("failed to seed member %s: %w", m.Email, err)
		}
	}

	slog.Info("seed data inserted",
		slog.String("zone", zone.Name),
		slog.Int("members", len(members)),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
