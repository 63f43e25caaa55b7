package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/adventure/internal/metrics"
	"github.com/hitoshi/adventure/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	BurstGuard        *middleware.BurstGuard

	// 運用
	HealthChecker    HealthChecker
	MetricsGatherer  prometheus.Gatherer
	MetricsCollector metrics.MetricsCollector

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// 物語生成
	AdventureService AdventureServiceInterface
	AITimeout        time.Duration

	// ユーザー
	UserService UserServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → Logging → SecurityHeaders → CORS
//
// 物語生成ルートは任意セッション → CSRF → BurstGuard、
// ユーザールートは必須セッション → CSRFを追加で通す。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, deps.MetricsCollector))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	adventureHandler := NewAdventureHandler(deps.AdventureService, languageFinder(deps.UserService), deps.AITimeout)
	userHandler := NewUserHandler(deps.UserService, deps.AuthConfig)
	csrf := middleware.NewCSRFMiddleware(deps.CSRFConfig)

	// --- 運用エンドポイント ---
	r.Method(http.MethodGet, "/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsGatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.MetricsGatherer))
	}
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

	// --- 認証ルート（OAuthフロー） ---
	r.Route("/auth", func(r chi.Router) {
		r.Get("/google/login", authHandler.Login)
		r.Get("/google/callback", authHandler.Callback)
		r.Get("/session", authHandler.Session)
		r.With(csrf).Post("/logout", authHandler.Logout)
		r.With(middleware.NewSessionMiddleware(deps.SessionFinder)).Get("/me", authHandler.Me)
	})

	// --- 物語生成 ---
	// 未認証でも到達し、レート制限がAUTHENTICATION_REQUIREDを返す
	r.Route("/api/adventure", func(r chi.Router) {
		r.Use(middleware.NewOptionalSessionMiddleware(deps.SessionFinder))
		r.Use(csrf)
		if deps.BurstGuard != nil {
			r.Use(deps.BurstGuard.Middleware())
		}

		r.Post("/nodes", adventureHandler.GenerateNode)
		r.Post("/scenarios", adventureHandler.GenerateScenarios)
		r.Post("/images", adventureHandler.GenerateImage)
		r.Post("/speech", adventureHandler.GenerateSpeech)
	})

	// --- ユーザー管理 ---
	r.Route("/api/users/me", func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		r.Use(csrf)

		r.Get("/", userHandler.Get)
		r.Patch("/", userHandler.UpdateLanguage)
		r.Delete("/", userHandler.Withdraw)
		r.Get("/quota", userHandler.Quota)
	})

	return r
}

// languageFinder はnilのUserServiceを型付きnilにしないよう変換する。
func languageFinder(users UserServiceInterface) LanguageFinder {
	if users == nil {
		return nil
	}
	return users
}
