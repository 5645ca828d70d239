package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/superblog/internal/middleware"
)

// HealthChecker はヘルスチェック対象（DB接続）を表す。*sql.DBが実装する。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// 認証
	AuthService AuthService
	AuthConfig  AuthHandlerConfig
	Providers   []string

	// ルートゲート
	ProtectedRoutes middleware.PathMatcher

	// ユーザー
	UserService UserServiceInterface

	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	CSRF              middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter
	HSTS              bool

	// 運用
	HealthChecker  HealthChecker
	StatusRecorder middleware.StatusRecorder
	MetricsHandler http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → Metrics → CORS → RouteGate → CSRF
//
// /auth/* にはIPごとのレート制限とno-storeを追加する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	signInPath := deps.AuthConfig.SignInPath
	if signInPath == "" {
		signInPath = "/sign-in"
	}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.HSTS))
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.StatusRecorder != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.StatusRecorder))
	}
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	// ヘルスチェックとメトリクスはCSRFとゲートの外に置く
	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	userHandler := NewUserHandler(deps.UserService)
	pageHandler := NewPageHandler(deps.AuthService, deps.Providers, signInPath)

	// ゲートは未定義のパス（ブログ本体のページ）にも効くよう、サブルーターの最上位に置く。
	// 未認証のPOSTもCSRF検証より先にサインインへリダイレクトする
	app := chi.NewRouter()
	if deps.ProtectedRoutes != nil {
		app.Use(middleware.NewRouteGate(deps.AuthService, exemptAuthRoutes(deps.ProtectedRoutes, signInPath), signInPath))
	}
	app.Use(middleware.NewCSRFMiddleware(deps.CSRF))

	// ページ（プレースホルダー）
	app.Get("/", pageHandler.Home)
	app.Get(signInPath, pageHandler.SignIn)

	// 認証ルート（OAuthフロー）
	app.Route("/auth", func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}
		r.Use(middleware.NewNoStoreMiddleware())

		r.Get("/{provider}/sign-in", authHandler.SignIn)
		r.Get("/{provider}/callback", authHandler.Callback)
		r.Post("/sign-out", authHandler.SignOut)
		r.Get("/me", authHandler.Me)
	})

	app.Handle("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF))

	// セッション必須のAPI
	app.Group(func(r chi.Router) {
		r.Use(middleware.NewRequireSession(deps.AuthService))
		r.Use(middleware.NewNoStoreMiddleware())

		r.Get("/api/users/me", userHandler.Profile)
	})

	r.Mount("/", app)
	return r
}

// authExemptMatcher はサインインに必要なパスを保護対象から外す。
// "/**" のような広いパターンでもリダイレクトがループしない。
type authExemptMatcher struct {
	inner      middleware.PathMatcher
	signInPath string
}

func exemptAuthRoutes(inner middleware.PathMatcher, signInPath string) middleware.PathMatcher {
	return authExemptMatcher{inner: inner, signInPath: signInPath}
}

func (m authExemptMatcher) Match(urlPath string) bool {
	p := path.Clean("/" + urlPath)
	if p == m.signInPath || p == "/auth" || strings.HasPrefix(p, "/auth/") || p == "/api/csrf-token" {
		return false
	}
	return m.inner.Match(urlPath)
}

// NewOpsRouter はワーカープロセス向けに /health と /metrics だけを提供するルーターを返す。
func NewOpsRouter(checker HealthChecker, metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware())
	r.Get("/health", healthHandler(checker))
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}
	return r
}

// healthHandler はDB疎通を確認するヘルスチェックハンドラーを返す。
// GET /health
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		body := map[string]string{"status": "ok"}

		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				status = http.StatusServiceUnavailable
				body = map[string]string{"status": "unavailable"}
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(body)
	}
}
