package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// OAuth
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Session
	SessionMaxAge   int
	RedisURL        string
	SessionCacheTTL time.Duration

	// Rate Limit
	RateLimitRequests       int
	RateLimitWindow         time.Duration
	RateLimitBurstPerMinute int

	// Text generation
	GeminiAPIKey string
	TextModel    string
	AITimeout    time.Duration

	// Image / TTS
	OpenAIAPIKey  string
	OpenAIBaseURL string
	ImageModel    string
	ImageSize     string
	TTSModel      string
	TTSVoice      string

	// Media storage
	MediaBucket        string
	MediaRegion        string
	MediaPublicBaseURL string
	ImageFetchMaxSize  int64

	// Logging
	LogFile          string
	LogRetentionDays int

	// Worker
	SessionCleanupInterval time.Duration

	// Server
	ServerPort      string
	BaseURL         string
	DefaultLanguage string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// LoadDotEnv はカレントディレクトリの.envを読み込む。
// 既に設定済みの環境変数は上書きしない。ファイルが存在しない場合は何もしない。
func LoadDotEnv(filenames ...string) error {
	if err := godotenv.Load(filenames...); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string
	required := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg.DatabaseURL = required("DATABASE_URL")
	cfg.GoogleClientID = required("GOOGLE_CLIENT_ID")
	cfg.GoogleClientSecret = required("GOOGLE_CLIENT_SECRET")
	cfg.GoogleRedirectURL = required("GOOGLE_REDIRECT_URL")
	cfg.BaseURL = required("BASE_URL")
	cfg.GeminiAPIKey = required("GEMINI_API_KEY")

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.SessionCacheTTL = getEnvDuration("SESSION_CACHE_TTL", 5*time.Minute)
	cfg.RateLimitRequests = getEnvInt("RATE_LIMIT_REQUESTS", 100)
	cfg.RateLimitWindow = getEnvDuration("RATE_LIMIT_WINDOW", time.Hour)
	cfg.RateLimitBurstPerMinute = getEnvInt("RATE_LIMIT_BURST_PER_MINUTE", 30)
	cfg.TextModel = getEnvString("TEXT_MODEL", "gemini-2.0-flash")
	cfg.AITimeout = getEnvDuration("AI_TIMEOUT", 60*time.Second)
	cfg.OpenAIAPIKey = getEnvString("OPENAI_API_KEY", "")
	cfg.OpenAIBaseURL = getEnvString("OPENAI_BASE_URL", "")
	cfg.ImageModel = getEnvString("IMAGE_MODEL", "dall-e-3")
	cfg.ImageSize = getEnvString("IMAGE_SIZE", "1024x1024")
	cfg.TTSModel = getEnvString("TTS_MODEL", "tts-1")
	cfg.TTSVoice = getEnvString("TTS_VOICE", "alloy")
	cfg.MediaBucket = getEnvString("MEDIA_BUCKET", "")
	cfg.MediaRegion = getEnvString("MEDIA_REGION", "us-east-1")
	cfg.MediaPublicBaseURL = getEnvString("MEDIA_PUBLIC_BASE_URL", "")
	cfg.ImageFetchMaxSize = getEnvInt64("IMAGE_FETCH_MAX_SIZE", 10485760)
	cfg.LogFile = getEnvString("LOG_FILE", "")
	cfg.LogRetentionDays = getEnvInt("LOG_RETENTION_DAYS", 14)
	cfg.SessionCleanupInterval = getEnvDuration("SESSION_CLEANUP_INTERVAL", 24*time.Hour)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.DefaultLanguage = getEnvString("DEFAULT_LANGUAGE", "en")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

// MediaGenerationEnabled は画像生成と音声合成のバックエンドが設定されているかを返す。
func (c *Config) MediaGenerationEnabled() bool {
	return c.OpenAIAPIKey != ""
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

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
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
