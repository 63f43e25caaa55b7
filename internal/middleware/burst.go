package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/adventure/internal/model"
)

// BurstGuardConfig は短時間のリクエスト集中を抑える設定を保持する。
type BurstGuardConfig struct {
	PerMinute       int           // 1分あたりの補充トークン数
	Burst           int           // バーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultBurstGuardConfig はデフォルトの設定を返す。
func DefaultBurstGuardConfig() BurstGuardConfig {
	return BurstGuardConfig{
		PerMinute:       30,
		Burst:           30,
		CleanupInterval: 5 * time.Minute,
	}
}

// clientLimiter はクライアントごとのレートリミッターとアクセス時刻を保持する。
type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// BurstGuard はAI生成エンドポイントへの短時間の連打をプロセス内で抑える。
// 1時間あたりの利用上限はratelimitパッケージがDBで管理し、こちらは関与しない。
// 認証済みならユーザーID、未認証ならクライアントIPをキーにする。
type BurstGuard struct {
	config BurstGuardConfig
	rate   rate.Limit

	mu       sync.Mutex
	limiters map[string]*clientLimiter

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewBurstGuard は新しいBurstGuardを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewBurstGuard(config BurstGuardConfig) *BurstGuard {
	defaults := DefaultBurstGuardConfig()
	if config.PerMinute <= 0 {
		config.PerMinute = defaults.PerMinute
	}
	if config.Burst <= 0 {
		config.Burst = config.PerMinute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaults.CleanupInterval
	}

	g := &BurstGuard{
		config:   config,
		rate:     rate.Limit(float64(config.PerMinute) / 60.0),
		limiters: make(map[string]*clientLimiter),
		stopCh:   make(chan struct{}),
	}

	go g.cleanupLoop()

	return g
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (g *BurstGuard) Stop() {
	g.stopOnce.Do(func() { close(g.stopCh) })
}

// Middleware はバーストガードのミドルウェアを返す。
// セッションミドルウェアの後に配置する。
func (g *BurstGuard) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientKey(r)
			if !g.limiterFor(key).Allow() {
				slog.Warn("burst limit exceeded",
					slog.String("client", key),
					slog.String("request_id", RequestIDFromContext(r.Context())),
				)
				w.Header().Set("Retry-After", strconv.Itoa(g.retryAfterSeconds()))
				WriteErrorResponse(w, http.StatusTooManyRequests, model.NewTooManyRequestsError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// LimiterCount は現在管理されているエントリ数を返す。テスト用。
func (g *BurstGuard) LimiterCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.limiters)
}

func (g *BurstGuard) limiterFor(key string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()

	if cl, ok := g.limiters[key]; ok {
		cl.lastAccess = time.Now()
		return cl.limiter
	}
	cl := &clientLimiter{
		limiter:    rate.NewLimiter(g.rate, g.config.Burst),
		lastAccess: time.Now(),
	}
	g.limiters[key] = cl
	return cl.limiter
}

// retryAfterSeconds は1トークンが補充されるまでの秒数を返す。
func (g *BurstGuard) retryAfterSeconds() int {
	seconds := (60 + g.config.PerMinute - 1) / g.config.PerMinute
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (g *BurstGuard) cleanupLoop() {
	ticker := time.NewTicker(g.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.cleanup(time.Now())
		case <-g.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (g *BurstGuard) cleanup(now time.Time) {
	ttl := g.config.CleanupInterval * 2

	g.mu.Lock()
	defer g.mu.Unlock()
	for key, cl := range g.limiters {
		if now.Sub(cl.lastAccess) > ttl {
			delete(g.limiters, key)
		}
	}
}

// clientKey はユーザーIDまたはクライアントIPからキーを作る。
func clientKey(r *http.Request) string {
	if userID, err := UserIDFromContext(r.Context()); err == nil {
		return "user:" + strconv.FormatInt(userID, 10)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
