package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"
)

// ErrNoContent はバックエンド呼び出しは成功したが応答に本文がない場合のエラー。
// バックエンドや通信の失敗とはerrors.Isで区別できる。
var ErrNoContent = errors.New("ai: response contained no text content")

// ContentGenerator はテキスト生成バックエンドのインターフェース。
// *genai.Modelsがこのインターフェースを満たす。
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// ModelConfig は呼び出し対象のモデル設定を表す。
type ModelConfig struct {
	Model string
	// ResponseMIMEType が空でなければ応答形式を指定する（例: application/json）。
	ResponseMIMEType string
}

// TextClient は物語テキストの生成を行うアダプタ。
type TextClient struct {
	generator ContentGenerator
	defaults  GenerationParams
	logger    *slog.Logger
}

// NewTextClient はTextClientを生成する。
func NewTextClient(generator ContentGenerator, logger *slog.Logger) *TextClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &TextClient{
		generator: generator,
		defaults:  DefaultGenerationParams(),
		logger:    logger,
	}
}

// NewGeminiTextClient はGemini APIを使うTextClientを生成する。
func NewGeminiTextClient(ctx context.Context, apiKey string, logger *slog.Logger) (*TextClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return NewTextClient(client.Models, logger), nil
}

// BuildConfig はデフォルトパラメータにoverridesをマージしたリクエスト設定を返す。
func (c *TextClient) BuildConfig(model ModelConfig, overrides *GenerationParams) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		SafetySettings:   SafetySettings(),
		ResponseMIMEType: model.ResponseMIMEType,
	}
	c.defaults.Merge(overrides).apply(cfg)
	return cfg
}

// CallAIForAdventure はプロンプトをバックエンドに送り、応答テキストを返す。
//
// バックエンドのエラーはラップせずにそのまま返す。
// 応答からテキストを取り出せない場合はErrNoContentを返す。
func (c *TextClient) CallAIForAdventure(ctx context.Context, prompt string, model ModelConfig, overrides *GenerationParams) (string, error) {
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	resp, err := c.generator.GenerateContent(ctx, model.Model, contents, c.BuildConfig(model, overrides))
	if err != nil {
		c.logger.Error("AIバックエンドの呼び出しに失敗",
			slog.String("model", model.Model),
			slog.String("error", err.Error()),
		)
		return "", err
	}

	text := extractText(resp)
	if text == "" {
		c.logger.Warn("AIバックエンドの応答に本文がありません",
			slog.String("model", model.Model),
			slog.String("finish_reason", finishReason(resp)),
		)
		return "", ErrNoContent
	}
	return text, nil
}

// extractText は最初の候補から思考パート以外のテキストを連結して返す。
func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	candidate := resp.Candidates[0]
	if candidate == nil || candidate.Content == nil {
		return ""
	}

	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		sb.WriteString(part.Text)
	}
	return strings.TrimSpace(sb.String())
}

func finishReason(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return ""
	}
	return string(resp.Candidates[0].FinishReason)
}
