package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/adventure/internal/middleware"
	"github.com/hitoshi/adventure/internal/model"
	"github.com/hitoshi/adventure/internal/ratelimit"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	Profile(ctx context.Context, userID int64) (*model.User, error)
	UpdateLanguage(ctx context.Context, userID int64, tag string) (string, error)
	Quota(ctx context.Context, userID int64) ([]ratelimit.Quota, error)
	// Withdraw はセッションとユーザーを削除する。rate_limits_userはCASCADE削除される。
	Withdraw(ctx context.Context, userID int64) error
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
	cookies AuthHandlerConfig
}

// NewUserHandler はUserHandlerを生成する。
// cookiesは退会時にセッションCookieを削除するために使う。
func NewUserHandler(service UserServiceInterface, cookies AuthHandlerConfig) *UserHandler {
	return &UserHandler{
		service: service,
		cookies: cookies,
	}
}

type updateLanguageRequest struct {
	Language string `json:"language"`
}

type languageResponse struct {
	Language string `json:"language"`
}

type quotaResponse struct {
	Quotas []ratelimit.Quota `json:"quotas"`
}

// Get はログインユーザーのプロフィールを返す。
// GET /api/users/me
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	user, err := h.service.Profile(r.Context(), userID)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// UpdateLanguage は表示言語を変更する。
// PATCH /api/users/me
func (h *UserHandler) UpdateLanguage(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req updateLanguageRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	lang, err := h.service.UpdateLanguage(r.Context(), userID, req.Language)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, languageResponse{Language: lang})
}

// Quota はAPI種別ごとの残り回数を返す。使用量は消費しない。
// GET /api/users/me/quota
func (h *UserHandler) Quota(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	quotas, err := h.service.Quota(r.Context(), userID)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quotaResponse{Quotas: quotas})
}

// Withdraw はユーザーの退会処理を実行する。
// DELETE /api/users/me
func (h *UserHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.Withdraw(r.Context(), userID); err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.cookies.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookies.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}
