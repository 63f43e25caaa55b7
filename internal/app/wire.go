package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/adventure/internal/adventure"
	"github.com/hitoshi/adventure/internal/ai"
	"github.com/hitoshi/adventure/internal/auth"
	"github.com/hitoshi/adventure/internal/cache"
	"github.com/hitoshi/adventure/internal/config"
	"github.com/hitoshi/adventure/internal/handler"
	"github.com/hitoshi/adventure/internal/media"
	"github.com/hitoshi/adventure/internal/metrics"
	"github.com/hitoshi/adventure/internal/middleware"
	"github.com/hitoshi/adventure/internal/ratelimit"
	"github.com/hitoshi/adventure/internal/repository"
	"github.com/hitoshi/adventure/internal/security"
	"github.com/hitoshi/adventure/internal/user"
)

// buildRouterDeps はConfigとDB接続から全サービスを組み立て、RouterDepsを返す。
// 返されるclose関数はRedis接続とバーストガードを解放する。
func buildRouterDeps(ctx context.Context, cfg *config.Config, db *sql.DB) (*handler.RouterDeps, func(), error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	// 1. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	rateLimitRepo := repository.NewPostgresRateLimitRepo(db)
	var sessionRepo repository.SessionRepository = repository.NewPostgresSessionRepo(db)

	// 2. セッションキャッシュ（REDIS_URL設定時のみ）
	if cfg.RedisURL != "" {
		client, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		closers = append(closers, func() { _ = client.Close() })
		sessionRepo = cache.NewSessionCache(sessionRepo, client, cfg.SessionCacheTTL, slog.Default())
		slog.Info("session cache enabled", slog.Duration("ttl", cfg.SessionCacheTTL))
	}

	// 3. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 4. レート制限
	limiter := ratelimit.NewLimiter(rateLimitRepo, ratelimit.Config{
		Limit:  cfg.RateLimitRequests,
		Window: cfg.RateLimitWindow,
	}, collector, slog.Default())

	// 5. AIバックエンド
	textClient, err := ai.NewGeminiTextClient(ctx, cfg.GeminiAPIKey, slog.Default())
	if err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("failed to create text generation client: %w", err)
	}

	// 未設定時はnilインターフェースのままにし、MEDIA_UNAVAILABLEを返させる
	var (
		images ai.ImageGenerator
		speech ai.SpeechGenerator
	)
	if cfg.MediaGenerationEnabled() {
		openaiClient := ai.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, &http.Client{Timeout: cfg.AITimeout})
		fetcher := security.NewSafeFetcher(30*time.Second, cfg.ImageFetchMaxSize)
		images = ai.NewImageClient(openaiClient, fetcher, cfg.ImageModel, cfg.ImageSize)
		speech = ai.NewSpeechClient(openaiClient, cfg.TTSModel, cfg.TTSVoice)
	} else {
		slog.Warn("OPENAI_API_KEY is not set; image and speech generation are disabled")
	}

	// 6. メディア保存先
	var store media.Store = media.DataURLStore{}
	if cfg.MediaBucket != "" {
		uploader, err := media.NewS3Uploader(cfg.MediaRegion)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("failed to create media uploader: %w", err)
		}
		store = media.NewS3Store(uploader, cfg.MediaBucket, cfg.MediaPublicBaseURL)
	}

	// 7. ドメインサービス
	adventureService := adventure.NewService(
		limiter, textClient, images, speech, store,
		security.NewTextSanitizer(), collector, slog.Default(),
		adventure.Options{
			TextModel:       cfg.TextModel,
			DefaultLanguage: cfg.DefaultLanguage,
		},
	)

	oauthProvider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})
	authService := auth.NewService(oauthProvider, userRepo, sessionRepo, auth.ServiceConfig{
		SessionMaxAge:   cfg.SessionMaxAge,
		DefaultLanguage: cfg.DefaultLanguage,
	})
	userService := user.NewService(userRepo, sessionRepo, limiter)

	// 8. バーストガード
	burstGuard := middleware.NewBurstGuard(burstGuardConfig(cfg))
	closers = append(closers, burstGuard.Stop)

	deps := &handler.RouterDeps{
		Logger:            slog.Default(),
		SessionFinder:     sessionRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		BurstGuard: burstGuard,

		HealthChecker:    db,
		MetricsGatherer:  registry,
		MetricsCollector: collector,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:       cfg.BaseURL,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		AdventureService: adventureService,
		AITimeout:        cfg.AITimeout,

		UserService: userService,
	}

	return deps, closeAll, nil
}

// burstGuardConfig はRATE_LIMIT_BURST_PER_MINUTEから補充レートとバーストサイズを決める。
// バーストサイズは1分あたりの上限と同じにする。
func burstGuardConfig(cfg *config.Config) middleware.BurstGuardConfig {
	burstCfg := middleware.DefaultBurstGuardConfig()
	if cfg.RateLimitBurstPerMinute > 0 {
		burstCfg.PerMinute = cfg.RateLimitBurstPerMinute
		burstCfg.Burst = cfg.RateLimitBurstPerMinute
	}
	return burstCfg
}
