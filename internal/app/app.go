// Package app は設定の読み込みから各コンポーネントのワイヤリング、各起動モードの実行までを担う。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/superblog/internal/auth"
	"github.com/hitoshi/superblog/internal/config"
	"github.com/hitoshi/superblog/internal/database"
	"github.com/hitoshi/superblog/internal/handler"
	"github.com/hitoshi/superblog/internal/logger"
	"github.com/hitoshi/superblog/internal/metrics"
	"github.com/hitoshi/superblog/internal/middleware"
	"github.com/hitoshi/superblog/internal/repository"
	"github.com/hitoshi/superblog/internal/security"
	"github.com/hitoshi/superblog/internal/session"
	"github.com/hitoshi/superblog/internal/telemetry"
	"github.com/hitoshi/superblog/internal/user"
	"github.com/hitoshi/superblog/internal/worker/cleanup"
)

// ServiceName はトレースとログに使うサービス名。
const ServiceName = "superblog"

// providerHTTPTimeout はOAuthプロバイダーへの1リクエストあたりの上限。
const providerHTTPTimeout = 10 * time.Second

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込んでLOG_LEVELを反映する。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. ログレベルを反映する
	if !logger.SetLevel(cfg.LogLevel) {
		slog.Warn("unknown LOG_LEVEL, falling back to info", slog.String("log_level", cfg.LogLevel))
	}

	return cfg, nil
}

// Components はHTTPサーバーを構成する部品。
type Components struct {
	Auth      *auth.Service
	Providers auth.Registry
	Router    http.Handler
	Limiter   *middleware.RateLimiter
}

// Build はConfigとクレデンシャルストアから認証サービスとルーターを組み立てる。
// ストアには本番ではPostgreSQL、テストではインメモリ実装を渡す。
func Build(cfg *config.Config, store repository.CredentialStore, health handler.HealthChecker, reg *prometheus.Registry) (*Components, error) {
	keys, err := session.DeriveKeys([]byte(cfg.AuthSecret))
	if err != nil {
		return nil, fmt.Errorf("failed to derive session keys: %w", err)
	}

	providers, err := newProviders(cfg, security.NewOutboundGuard())
	if err != nil {
		return nil, err
	}

	collector := metrics.NewCollector(reg)

	cookies := session.CookieConfig{
		TokenName: cfg.SessionCookieName,
		CacheName: cfg.SessionCacheCookieName,
		Domain:    cfg.CookieDomain,
		Path:      cfg.CookiePath,
		Secure:    cfg.CookieSecure,
	}

	svc := auth.NewService(auth.Components{
		Store:     store,
		Providers: providers,
		Codec:     session.NewCodec(keys.Session),
		Cache:     session.NewCache(keys.Cache, cfg.SessionCacheTTL, cookies),
		Token:     session.NewTokenCookie(cookies),
		States:    auth.NewStateIssuer(keys.State, auth.DefaultStateTTL, nil),
		Metrics:   collector,
	}, auth.ServiceConfig{
		SessionTTL:       cfg.SessionTTL,
		UpdateAge:        cfg.SessionUpdateAge,
		StrictRevocation: cfg.SessionStrictRevocation,
		StoreTimeout:     cfg.StoreTimeout,
	})

	matcher, err := middleware.NewRouteMatcher(cfg.ProtectedRoutes)
	if err != nil {
		return nil, fmt.Errorf("invalid PROTECTED_ROUTES: %w", err)
	}

	limiter := middleware.NewRateLimiter(middleware.PerMinute(cfg.RateLimitAuth))

	router := handler.NewRouter(&handler.RouterDeps{
		AuthService: svc,
		AuthConfig: handler.AuthHandlerConfig{
			SignInPath:  cfg.SignInPath,
			StateCookie: session.NewStateCookie(cookies),
		},
		Providers:         providers.Names(),
		ProtectedRoutes:   matcher,
		UserService:       user.NewService(store.Users, store.Accounts),
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
			CookiePath:   cfg.CookiePath,
		},
		RateLimiter:    limiter,
		HSTS:           cfg.CookieSecure,
		HealthChecker:  health,
		StatusRecorder: collector,
		MetricsHandler: metrics.Handler(reg),
	})

	return &Components{
		Auth:      svc,
		Providers: providers,
		Router:    router,
		Limiter:   limiter,
	}, nil
}

// newProviders は設定済みのOAuthプロバイダーを登録したレジストリを返す。
// 各プロバイダーのエンドポイントは起動時にSSRFガードで検証する。
func newProviders(cfg *config.Config, guard security.OutboundGuard) (auth.Registry, error) {
	google := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		HTTPClient:   guard.NewClient(providerHTTPTimeout),
	})
	for _, endpoint := range google.Endpoints() {
		if err := guard.ValidateEndpoint(endpoint); err != nil {
			return nil, fmt.Errorf("provider %s endpoint rejected: %w", google.Name(), err)
		}
	}
	return auth.NewRegistry(google)
}

// newRegistry はプロセスメトリクスとGoランタイムメトリクスを登録したレジストリを返す。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// openDB はDB接続を開き、疎通を確認する。
func openDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established",
		slog.String("database_url", logger.MaskDatabaseURL(cfg.DatabaseURL)),
	)
	return db, nil
}

// runServe はHTTPサーバーモードで起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, ServiceName, cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			slog.Error("failed to flush traces", slog.String("error", err.Error()))
		}
	}()

	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	components, err := Build(cfg, repository.NewPostgresCredentialStore(db), db, newRegistry())
	if err != nil {
		return err
	}
	defer components.Limiter.Stop()

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           telemetry.WrapHandler(components.Router, ServiceName),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server starting",
			slog.String("addr", server.Addr),
			slog.String("base_url", cfg.BaseURL),
			slog.Any("providers", components.Providers.Names()),
			slog.Bool("strict_revocation", cfg.SessionStrictRevocation),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("HTTP server stopped gracefully")
	return nil
}

// Worker はクリーンアップジョブと、その運用エンドポイントをまとめたもの。
type Worker struct {
	Job *cleanup.Job
	Ops http.Handler
}

// BuildWorker はクリーンアップジョブを組み立てる。
// 削除件数はregに登録したコレクターに記録し、Opsの /metrics で公開する。
func BuildWorker(cfg *config.Config, store repository.CredentialStore, health handler.HealthChecker, reg *prometheus.Registry) *Worker {
	collector := metrics.NewCollector(reg)
	return &Worker{
		Job: cleanup.NewJob(store, slog.Default(), collector, cfg.SessionRetention),
		Ops: handler.NewOpsRouter(health, metrics.Handler(reg)),
	}
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションと使用済み認可コードの削除をCLEANUP_INTERVAL毎に実行し、
// SERVER_PORTで /health と /metrics を提供する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	worker := BuildWorker(cfg, repository.NewPostgresCredentialStore(db), db, newRegistry())

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           worker.Ops,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker ops server error", slog.String("error", err.Error()))
		}
	}()

	slog.Info("worker starting",
		slog.String("addr", server.Addr),
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
		slog.Duration("session_retention", cfg.SessionRetention),
	)

	// ブロッキング。シグナル受信でctxがキャンセルされると戻る
	worker.Job.Start(ctx, cfg.CleanupInterval)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("worker ops server shutdown failed", slog.String("error", err.Error()))
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runCleanup はクリーンアップジョブを1回だけ実行する。cronからの起動用。
// プロセスがすぐ終了するため、削除件数はメトリクスではなくログに残す。
func runCleanup(ctx context.Context, cfg *config.Config) error {
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	job := cleanup.NewJob(repository.NewPostgresCredentialStore(db), slog.Default(), nil, cfg.SessionRetention)
	if err := job.Run(ctx); err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", logger.MaskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(ctx context.Context, port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}
