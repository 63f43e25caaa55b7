// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"time"
)

// APIError は統一エラーフォーマットを表す。
// UIはCodeで分岐し、ResetAtがあればレート制限の解除時刻を表示する。
type APIError struct {
	Code     string     // エラーコード
	Message  string     // エラーメッセージ
	Category string     // カテゴリ: auth, validation, rate_limit, ai, system
	Action   string     // ユーザー向け対処方法
	ResetAt  *time.Time // レート制限ウィンドウの終了時刻
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeAuthenticationRequired = "AUTHENTICATION_REQUIRED"
	ErrCodeRateLimitExceeded      = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal               = "INTERNAL_ERROR"
	ErrCodeAIGenerationFailed     = "AI_GENERATION_FAILED"
	ErrCodeAIEmptyResponse        = "AI_EMPTY_RESPONSE"
	ErrCodeAIResponseInvalid      = "AI_RESPONSE_INVALID"
	ErrCodeInvalidRequest         = "INVALID_REQUEST"
	ErrCodeUserNotFound           = "USER_NOT_FOUND"
	ErrCodeInvalidLanguage        = "INVALID_LANGUAGE"
	ErrCodeMediaUnavailable       = "MEDIA_UNAVAILABLE"
	ErrCodeTooManyRequests        = "TOO_MANY_REQUESTS"
	ErrCodeCSRFTokenInvalid       = "CSRF_TOKEN_INVALID"
)

// NewAuthenticationRequiredError は未ログインエラーを生成する。
func NewAuthenticationRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthenticationRequired,
		Message:  "You need to sign in to continue the adventure.",
		Category: "auth",
		Action:   "Sign in and try again.",
	}
}

// NewRateLimitExceededError はレート制限超過エラーを生成する。
// resetAtがnilでない場合はレスポンスに解除時刻を含める。
func NewRateLimitExceededError(apiType APIType, resetAt *time.Time) *APIError {
	action := "Please wait a while before trying again."
	if resetAt != nil {
		action = fmt.Sprintf("You can try again after %s.", resetAt.UTC().Format(time.RFC3339))
	}
	return &APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  fmt.Sprintf("You have reached the hourly limit for %s requests.", apiType),
		Category: "rate_limit",
		Action:   action,
		ResetAt:  resetAt,
	}
}

// NewAIGenerationFailedError はAIバックエンド呼び出し失敗エラーを生成する。
// バックエンドの内部情報はメッセージに含めない。
func NewAIGenerationFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeAIGenerationFailed,
		Message:  "The story generator is unavailable right now.",
		Category: "ai",
		Action:   "Please try again in a moment.",
	}
}

// NewAIEmptyResponseError はAIが本文を返さなかった場合のエラーを生成する。
func NewAIEmptyResponseError() *APIError {
	return &APIError{
		Code:     ErrCodeAIEmptyResponse,
		Message:  "The story generator returned nothing.",
		Category: "ai",
		Action:   "Please try again.",
	}
}

// NewAIResponseInvalidError はAI応答がスキーマを満たさない場合のエラーを生成する。
func NewAIResponseInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeAIResponseInvalid,
		Message:  "The story generator returned a malformed story.",
		Category: "ai",
		Action:   "Please try again.",
	}
}

// NewInvalidRequestError はリクエスト内容が不正な場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("Invalid request: %s", reason),
		Category: "validation",
		Action:   "Check the request and try again.",
	}
}

// NewInvalidLanguageError は未対応の言語タグが指定された場合のエラーを生成する。
func NewInvalidLanguageError(tag string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidLanguage,
		Message:  fmt.Sprintf("Unsupported language: %s", tag),
		Category: "validation",
		Action:   "Specify a BCP 47 language tag such as en or ja.",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "User not found.",
		Category: "auth",
		Action:   "Please sign in again.",
	}
}

// NewMediaUnavailableError は画像生成または音声合成が無効な場合のエラーを生成する。
func NewMediaUnavailableError(apiType APIType) *APIError {
	return &APIError{
		Code:     ErrCodeMediaUnavailable,
		Message:  fmt.Sprintf("%s generation is not enabled on this server.", apiType),
		Category: "system",
		Action:   "Continue the adventure without it.",
	}
}

// NewInternalError は内部エラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "Something went wrong on our side.",
		Category: "system",
		Action:   "Please try again later.",
	}
}

// NewTooManyRequestsError は短時間のリクエスト集中を拒否する場合のエラーを生成する。
// 1時間あたりの利用上限（RATE_LIMIT_EXCEEDED）とは別に扱う。
func NewTooManyRequestsError() *APIError {
	return &APIError{
		Code:     ErrCodeTooManyRequests,
		Message:  "Too many requests in a short time.",
		Category: "rate_limit",
		Action:   "Please slow down and retry shortly.",
	}
}

// NewCSRFTokenInvalidError はCSRFトークンの検証に失敗した場合のエラーを生成する。
func NewCSRFTokenInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFTokenInvalid,
		Message:  "CSRF token validation failed.",
		Category: "auth",
		Action:   "Reload the page and try again.",
	}
}
