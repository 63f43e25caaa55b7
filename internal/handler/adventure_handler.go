package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/adventure/internal/adventure"
	"github.com/hitoshi/adventure/internal/middleware"
	"github.com/hitoshi/adventure/internal/model"
)

// AdventureServiceInterface は物語生成ハンドラーが必要とするサービスインターフェース。
type AdventureServiceInterface interface {
	GenerateNode(ctx context.Context, userID int64, req adventure.NodeRequest) (*model.AdventureNode, error)
	GenerateStartingScenarios(ctx context.Context, userID int64, lang string) ([]model.StartingScenario, error)
	GenerateImage(ctx context.Context, userID int64, prompt string) (string, error)
	GenerateSpeech(ctx context.Context, userID int64, text string) (*adventure.Speech, error)
}

// LanguageFinder は認証済みユーザーの保存済み言語を引くためのインターフェース。
type LanguageFinder interface {
	Profile(ctx context.Context, userID int64) (*model.User, error)
}

// AdventureHandler は物語生成のHTTPハンドラー。
// 未認証リクエストもここまで通し、判定はレート制限に任せる。
type AdventureHandler struct {
	service   AdventureServiceInterface
	languages LanguageFinder
	aiTimeout time.Duration
}

// NewAdventureHandler はAdventureHandlerを生成する。
// languagesがnilの場合は保存済み言語を参照しない。
// aiTimeoutが0以下の場合はリクエストのコンテキストをそのまま使う。
func NewAdventureHandler(service AdventureServiceInterface, languages LanguageFinder, aiTimeout time.Duration) *AdventureHandler {
	return &AdventureHandler{service: service, languages: languages, aiTimeout: aiTimeout}
}

type scenariosRequest struct {
	Language string `json:"language"`
}

type scenariosResponse struct {
	Scenarios []model.StartingScenario `json:"scenarios"`
}

type imageRequest struct {
	Prompt string `json:"prompt"`
}

type imageResponse struct {
	ImageURL string `json:"imageUrl"`
}

type speechRequest struct {
	Text string `json:"text"`
}

// GenerateNode は次の物語ノードを生成する。
// POST /api/adventure/nodes
func (h *AdventureHandler) GenerateNode(w http.ResponseWriter, r *http.Request) {
	var req adventure.NodeRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	req.Language = h.resolveLanguage(r, req.Language)

	ctx, cancel := h.aiContext(r)
	defer cancel()

	node, err := h.service.GenerateNode(ctx, middleware.OptionalUserID(r.Context()), req)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

// GenerateScenarios は開始シナリオの候補を生成する。
// POST /api/adventure/scenarios
func (h *AdventureHandler) GenerateScenarios(w http.ResponseWriter, r *http.Request) {
	var req scenariosRequest
	if r.ContentLength != 0 {
		if err := decodeJSONBody(w, r, &req); err != nil {
			middleware.WriteError(w, r, err)
			return
		}
	}
	req.Language = h.resolveLanguage(r, req.Language)

	ctx, cancel := h.aiContext(r)
	defer cancel()

	scenarios, err := h.service.GenerateStartingScenarios(ctx, middleware.OptionalUserID(r.Context()), req.Language)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, scenariosResponse{Scenarios: scenarios})
}

// GenerateImage は挿絵を生成する。
// POST /api/adventure/images
func (h *AdventureHandler) GenerateImage(w http.ResponseWriter, r *http.Request) {
	var req imageRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	ctx, cancel := h.aiContext(r)
	defer cancel()

	url, err := h.service.GenerateImage(ctx, middleware.OptionalUserID(r.Context()), req.Prompt)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, imageResponse{ImageURL: url})
}

// GenerateSpeech は本文を読み上げ音声に変換する。
// POST /api/adventure/speech
func (h *AdventureHandler) GenerateSpeech(w http.ResponseWriter, r *http.Request) {
	var req speechRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	ctx, cancel := h.aiContext(r)
	defer cancel()

	speech, err := h.service.GenerateSpeech(ctx, middleware.OptionalUserID(r.Context()), req.Text)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, speech)
}

func (h *AdventureHandler) aiContext(r *http.Request) (context.Context, context.CancelFunc) {
	if h.aiTimeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), h.aiTimeout)
}

// resolveLanguage は物語の言語を決める。
// 優先順位: リクエストボディ → ユーザーの保存済み言語 → Accept-Language。
// いずれもなければ空文字を返し、サービス側のDEFAULT_LANGUAGEに任せる。
func (h *AdventureHandler) resolveLanguage(r *http.Request, requested string) string {
	if requested != "" {
		return requested
	}
	if userID := middleware.OptionalUserID(r.Context()); userID > 0 && h.languages != nil {
		user, err := h.languages.Profile(r.Context(), userID)
		switch {
		case err != nil:
			slog.Warn("failed to load stored language",
				slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
				slog.Int64("user_id", userID),
				slog.String("error", err.Error()),
			)
		case user != nil && user.Language != "":
			return user.Language
		}
	}
	return model.NegotiateLanguage(r.Header.Get("Accept-Language"), "")
}
