package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/adventure/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string     `json:"code"`
	Message  string     `json:"message"`
	Category string     `json:"category"`
	Action   string     `json:"action"`
	ResetAt  *time.Time `json:"reset_at,omitempty"`
}

// now はRetry-Afterの算出に使う現在時刻。テストで差し替える。
var now = time.Now

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// すべてのAPIエンドポイントで一貫したエラーレスポンスを提供する。
// ResetAtがある場合はRetry-Afterヘッダーも設定する。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	if apiErr.ResetAt != nil {
		seconds := int(math.Ceil(apiErr.ResetAt.Sub(now()).Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
		ResetAt:  apiErr.ResetAt,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}

// WriteError はerrorを統一エラーフォーマットで書き込む。
// *model.APIError以外のエラーはログに記録して500を返す。
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		WriteErrorResponse(w, StatusCode(apiErr), apiErr)
		return
	}
	slog.Error("unhandled error",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("request_id", RequestIDFromContext(r.Context())),
		slog.String("error", err.Error()),
	)
	WriteInternalServerError(w)
}

// StatusCode はエラーコードに対応するHTTPステータスコードを返す。
func StatusCode(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeAuthenticationRequired:
		return http.StatusUnauthorized
	case model.ErrCodeCSRFTokenInvalid:
		return http.StatusForbidden
	case model.ErrCodeRateLimitExceeded, model.ErrCodeTooManyRequests:
		return http.StatusTooManyRequests
	case model.ErrCodeInvalidRequest, model.ErrCodeInvalidLanguage:
		return http.StatusBadRequest
	case model.ErrCodeUserNotFound:
		return http.StatusNotFound
	case model.ErrCodeAIGenerationFailed, model.ErrCodeAIEmptyResponse, model.ErrCodeAIResponseInvalid:
		return http.StatusBadGateway
	case model.ErrCodeMediaUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
