// Package ratelimit はユーザー×API種別ごとの固定ウィンドウ型レート制限を提供する。
//
// カウンタはrate_limits_userテーブルに保持し、読み取りから更新までを1トランザクションで行う。
// ストレージ障害時はfail-openとし、リクエストを許可したうえでエラーをログとメトリクスに残す。
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/adventure/internal/metrics"
	"github.com/hitoshi/adventure/internal/model"
	"github.com/hitoshi/adventure/internal/repository"
)

// ErrorType はチェック結果の分類。UIはこの値で分岐する。
type ErrorType string

const (
	ErrorTypeNone                   ErrorType = ""
	ErrorTypeAuthenticationRequired ErrorType = "AuthenticationRequired"
	ErrorTypeRateLimitExceeded      ErrorType = "RateLimitExceeded"
	ErrorTypeInternalError          ErrorType = "InternalError"
)

// チェック結果のメトリクスラベル
const (
	outcomeAllowed      = "allowed"
	outcomeExceeded     = "exceeded"
	outcomeUnauthorized = "unauthenticated"
	outcomeFailOpen     = "fail_open"
)

// Config はレート制限の上限とウィンドウ長。
type Config struct {
	Limit  int
	Window time.Duration
}

// DefaultConfig は1時間あたり100リクエストの設定を返す。
func DefaultConfig() Config {
	return Config{Limit: 100, Window: time.Hour}
}

// Result はレート制限チェックの結果。
// Resetは現在のウィンドウの終了時刻で、未認証時はnil。
type Result struct {
	Success   bool
	Limit     int
	Remaining int
	Reset     *time.Time
	ErrorType ErrorType
}

// Err は拒否された結果を統一エラーフォーマットに変換する。許可された場合はnilを返す。
// fail-openの結果は許可扱いのためnilになる。
func (r Result) Err(apiType model.APIType) error {
	if r.Success {
		return nil
	}
	switch r.ErrorType {
	case ErrorTypeAuthenticationRequired:
		return model.NewAuthenticationRequiredError()
	case ErrorTypeRateLimitExceeded:
		return model.NewRateLimitExceededError(apiType, r.Reset)
	}
	return model.NewInternalError()
}

// Limiter はレート制限チェックを行う。
type Limiter struct {
	repo    repository.RateLimitRepository
	config  Config
	metrics metrics.MetricsCollector
	logger  *slog.Logger
	now     func() time.Time
}

// NewLimiter はLimiterを生成する。
// 上限またはウィンドウが0以下の場合はDefaultConfigの値を使う。
func NewLimiter(repo repository.RateLimitRepository, config Config, collector metrics.MetricsCollector, logger *slog.Logger) *Limiter {
	def := DefaultConfig()
	if config.Limit <= 0 {
		config.Limit = def.Limit
	}
	if config.Window <= 0 {
		config.Window = def.Window
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		repo:    repo,
		config:  config,
		metrics: collector,
		logger:  logger,
		now:     time.Now,
	}
}

// Config は適用中の設定を返す。
func (l *Limiter) Config() Config {
	return l.config
}

// Check はuserIDとapiTypeの組についてリクエストを許可するか判定し、許可した場合は使用量を記録する。
// userIDが0以下の場合は未認証としてストレージに触れずに拒否する。
func (l *Limiter) Check(ctx context.Context, userID int64, apiType model.APIType) Result {
	if userID <= 0 {
		l.metrics.RecordRateLimitCheck(string(apiType), outcomeUnauthorized)
		return Result{
			Success:   false,
			Limit:     l.config.Limit,
			Remaining: 0,
			ErrorType: ErrorTypeAuthenticationRequired,
		}
	}

	now := l.now()
	var result Result
	err := l.repo.WithinTx(ctx, func(tx repository.RateLimitTx) error {
		var err error
		result, err = l.checkInTx(ctx, tx, userID, apiType, now)
		return err
	})
	if err != nil {
		l.logger.Error("レート制限のチェックに失敗したためリクエストを許可します",
			slog.Int64("user_id", userID),
			slog.String("api_type", string(apiType)),
			slog.String("error", err.Error()),
		)
		l.metrics.RecordRateLimitInternalError(string(apiType))
		l.metrics.RecordRateLimitCheck(string(apiType), outcomeFailOpen)
		reset := now.Add(l.config.Window)
		return Result{
			Success:   true,
			Limit:     l.config.Limit,
			Remaining: l.config.Limit,
			Reset:     &reset,
			ErrorType: ErrorTypeInternalError,
		}
	}

	if result.Success {
		l.metrics.RecordRateLimitCheck(string(apiType), outcomeAllowed)
	} else {
		l.metrics.RecordRateLimitCheck(string(apiType), outcomeExceeded)
	}
	return result
}

func (l *Limiter) checkInTx(ctx context.Context, tx repository.RateLimitTx, userID int64, apiType model.APIType, now time.Time) (Result, error) {
	record, err := tx.FindForUpdate(ctx, userID, apiType)
	if err != nil {
		return Result{}, err
	}

	if record == nil {
		record = &model.RateLimitRecord{
			UserID:          userID,
			APIType:         apiType,
			WindowStartTime: now,
			RequestCount:    1,
		}
		inserted, err := tx.Insert(ctx, record)
		if err != nil {
			return Result{}, err
		}
		if inserted {
			return l.allowed(record), nil
		}

		// 同時リクエストが先に行を作成した
		record, err = tx.FindForUpdate(ctx, userID, apiType)
		if err != nil {
			return Result{}, err
		}
		if record == nil {
			return Result{}, errors.New("rate limit row disappeared after insert conflict")
		}
	}

	return l.apply(ctx, tx, record, now)
}

// apply は既存行に対してウィンドウ切り替えまたはカウント加算を行う。
func (l *Limiter) apply(ctx context.Context, tx repository.RateLimitTx, record *model.RateLimitRecord, now time.Time) (Result, error) {
	if now.Sub(record.WindowStartTime) >= l.config.Window {
		record.WindowStartTime = now
		record.RequestCount = 1
		if err := tx.Update(ctx, record); err != nil {
			return Result{}, err
		}
		return l.allowed(record), nil
	}

	if record.RequestCount < l.config.Limit {
		record.RequestCount++
		if err := tx.Update(ctx, record); err != nil {
			return Result{}, err
		}
		return l.allowed(record), nil
	}

	reset := l.resetAt(record)
	return Result{
		Success:   false,
		Limit:     l.config.Limit,
		Remaining: 0,
		Reset:     &reset,
		ErrorType: ErrorTypeRateLimitExceeded,
	}, nil
}

func (l *Limiter) allowed(record *model.RateLimitRecord) Result {
	reset := l.resetAt(record)
	remaining := l.config.Limit - record.RequestCount
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Success:   true,
		Limit:     l.config.Limit,
		Remaining: remaining,
		Reset:     &reset,
	}
}

func (l *Limiter) resetAt(record *model.RateLimitRecord) time.Time {
	return record.WindowStartTime.Add(l.config.Window)
}

// Quota はAPI種別ごとの残量。
type Quota struct {
	APIType   model.APIType `json:"api_type"`
	Limit     int           `json:"limit"`
	Used      int           `json:"used"`
	Remaining int           `json:"remaining"`
	Reset     *time.Time    `json:"reset,omitempty"`
}

// Status は使用量を記録せずに全API種別の残量を返す。
// ウィンドウが終了している種別と未使用の種別は上限いっぱいの残量として返す。
func (l *Limiter) Status(ctx context.Context, userID int64) ([]Quota, error) {
	records, err := l.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load quota: %w", err)
	}

	byType := make(map[model.APIType]model.RateLimitRecord, len(records))
	for _, rec := range records {
		byType[rec.APIType] = rec
	}

	now := l.now()
	quotas := make([]Quota, 0, len(model.APITypes()))
	for _, apiType := range model.APITypes() {
		q := Quota{APIType: apiType, Limit: l.config.Limit, Remaining: l.config.Limit}
		if rec, ok := byType[apiType]; ok && now.Sub(rec.WindowStartTime) < l.config.Window {
			reset := l.resetAt(&rec)
			q.Used = rec.RequestCount
			q.Remaining = l.config.Limit - rec.RequestCount
			if q.Remaining < 0 {
				q.Remaining = 0
			}
			q.Reset = &reset
		}
		quotas = append(quotas, q)
	}
	return quotas, nil
}
