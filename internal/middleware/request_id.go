package middleware

import (
	"context"
	"net/http"
	"regexp"

	"github.com/segmentio/ksuid"
)

// requestIDHeader はリクエストIDを受け渡すヘッダー名。
const requestIDHeader = "X-Request-ID"

var requestIDContextKey = contextKey("request_id")

// validRequestID は外部から受け取るリクエストIDの形式。
var validRequestID = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// requestState はリクエスト単位で後段のミドルウェアが書き込む値を保持する。
// ロギングミドルウェアはハンドラー実行後にここからユーザーIDを読む。
type requestState struct {
	requestID string
	userID    int64
}

// NewRequestIDMiddleware はリクエストIDを採番してコンテキストとレスポンスヘッダーに設定する。
// 妥当な形式のX-Request-IDが付いている場合はそれを引き継ぐ。
func NewRequestIDMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(requestIDHeader)
			if !validRequestID.MatchString(id) {
				id = ksuid.New().String()
			}
			w.Header().Set(requestIDHeader, id)

			ctx := context.WithValue(r.Context(), requestIDContextKey, &requestState{requestID: id})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestIDFromContext はリクエストIDを返す。未設定の場合は空文字列を返す。
func RequestIDFromContext(ctx context.Context) string {
	if st := stateFromContext(ctx); st != nil {
		return st.requestID
	}
	return ""
}

func stateFromContext(ctx context.Context) *requestState {
	st, _ := ctx.Value(requestIDContextKey).(*requestState)
	return st
}
