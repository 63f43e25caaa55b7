package adventure

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/adventure/internal/ai"
	"github.com/hitoshi/adventure/internal/media"
	"github.com/hitoshi/adventure/internal/metrics"
	"github.com/hitoshi/adventure/internal/model"
	"github.com/hitoshi/adventure/internal/prompt"
	"github.com/hitoshi/adventure/internal/ratelimit"
	"github.com/hitoshi/adventure/internal/security"
)

// リクエストの上限
const (
	MaxHistoryItems     = 50
	MaxImagePromptRunes = 1000
	MaxSpeechTextRunes  = 4096
)

// AIバックエンド呼び出しの種別（メトリクスのkindラベル）
const (
	kindStory     = "story"
	kindScenarios = "scenarios"
	kindImage     = "image"
	kindSpeech    = "speech"
)

// AIバックエンド呼び出しの結果（メトリクスのoutcomeラベル）
const (
	outcomeSuccess = "success"
	outcomeError   = "error"
	outcomeEmpty   = "empty"
	outcomeInvalid = "invalid"
)

// RateLimiter はAPI種別ごとの利用回数を判定するインターフェース。
type RateLimiter interface {
	Check(ctx context.Context, userID int64, apiType model.APIType) ratelimit.Result
}

// TextGenerator は物語テキストを生成するインターフェース。
type TextGenerator interface {
	CallAIForAdventure(ctx context.Context, prompt string, cfg ai.ModelConfig, overrides *ai.GenerationParams) (string, error)
}

// Options はServiceの設定。
type Options struct {
	TextModel         string
	StoryOverrides    *ai.GenerationParams
	ScenarioOverrides *ai.GenerationParams
	DefaultLanguage   string
}

// NodeRequest は次の物語ノードの生成リクエスト。
type NodeRequest struct {
	History         []model.StoryHistoryItem `json:"history"`
	InitialScenario string                   `json:"initialScenario"`
	Genre           string                   `json:"genre"`
	Tone            string                   `json:"tone"`
	VisualStyle     string                   `json:"visualStyle"`
	Language        string                   `json:"language"`
}

// Speech は音声合成の結果。
type Speech struct {
	AudioBase64 string `json:"audioBase64"`
	// AudioURL は永続ストレージに保存した場合のみ設定される。
	AudioURL string `json:"audioUrl,omitempty"`
}

// Service はレート制限、プロンプト生成、AI呼び出し、検証を順に行う。
type Service struct {
	limiter   RateLimiter
	text      TextGenerator
	images    ai.ImageGenerator
	speech    ai.SpeechGenerator
	store     media.Store
	sanitizer security.TextSanitizerService
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	opts      Options
	now       func() time.Time
}

// NewService はServiceを生成する。
// imagesとspeechがnilの場合、対応する生成はMEDIA_UNAVAILABLEを返す。
func NewService(
	limiter RateLimiter,
	text TextGenerator,
	images ai.ImageGenerator,
	speech ai.SpeechGenerator,
	store media.Store,
	sanitizer security.TextSanitizerService,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	opts Options,
) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if store == nil {
		store = media.DataURLStore{}
	}
	if sanitizer == nil {
		sanitizer = security.NewTextSanitizer()
	}
	return &Service{
		limiter:   limiter,
		text:      text,
		images:    images,
		speech:    speech,
		store:     store,
		sanitizer: sanitizer,
		metrics:   collector,
		logger:    logger,
		opts:      opts,
		now:       time.Now,
	}
}

// GenerateNode は履歴から次の物語ノードを生成する。
func (s *Service) GenerateNode(ctx context.Context, userID int64, req NodeRequest) (*model.AdventureNode, error) {
	if len(req.History) > MaxHistoryItems {
		return nil, model.NewInvalidRequestError(fmt.Sprintf("history must not exceed %d entries", MaxHistoryItems))
	}
	if err := s.checkLimit(ctx, userID, model.APITypeText); err != nil {
		return nil, err
	}

	p := prompt.BuildStoryPrompt(prompt.StoryInput{
		History:         req.History,
		InitialScenario: req.InitialScenario,
		Genre:           req.Genre,
		Tone:            req.Tone,
		VisualStyle:     req.VisualStyle,
		Language:        s.language(req.Language),
	})

	start := s.now()
	raw, err := s.callText(ctx, kindStory, userID, p, s.opts.StoryOverrides)
	if err != nil {
		return nil, err
	}
	elapsed := s.now().Sub(start)

	node, err := ParseAdventureNode(raw)
	if err != nil {
		return nil, s.invalidResponse(kindStory, userID, elapsed, err)
	}

	s.sanitizeNode(node)
	if err := ValidateAdventureNode(node); err != nil {
		return nil, s.invalidResponse(kindStory, userID, elapsed, err)
	}

	s.metrics.RecordAIRequest(kindStory, outcomeSuccess, elapsed)
	return node, nil
}

// GenerateStartingScenarios は開始シナリオの候補を生成する。
func (s *Service) GenerateStartingScenarios(ctx context.Context, userID int64, lang string) ([]model.StartingScenario, error) {
	if err := s.checkLimit(ctx, userID, model.APITypeText); err != nil {
		return nil, err
	}

	start := s.now()
	raw, err := s.callText(ctx, kindScenarios, userID, prompt.BuildStartingScenariosPrompt(s.language(lang)), s.opts.ScenarioOverrides)
	if err != nil {
		return nil, err
	}
	elapsed := s.now().Sub(start)

	scenarios, err := ParseStartingScenarios(raw)
	if err != nil {
		return nil, s.invalidResponse(kindScenarios, userID, elapsed, err)
	}

	for i := range scenarios {
		sc := &scenarios[i]
		sc.Text = s.sanitizer.SanitizeText(sc.Text)
		sc.Genre = s.sanitizer.SanitizeText(sc.Genre)
		sc.Tone = s.sanitizer.SanitizeText(sc.Tone)
		sc.VisualStyle = s.sanitizer.SanitizeText(sc.VisualStyle)
	}
	if err := toValidationError(validate.Struct(&scenarioList{Scenarios: scenarios})); err != nil {
		return nil, s.invalidResponse(kindScenarios, userID, elapsed, err)
	}

	s.metrics.RecordAIRequest(kindScenarios, outcomeSuccess, elapsed)
	return scenarios, nil
}

// GenerateImage は挿絵を生成して保存し、UIから参照できるURLを返す。
func (s *Service) GenerateImage(ctx context.Context, userID int64, imagePrompt string) (string, error) {
	if s.images == nil {
		return "", model.NewMediaUnavailableError(model.APITypeImage)
	}
	imagePrompt = strings.TrimSpace(imagePrompt)
	if imagePrompt == "" {
		return "", model.NewInvalidRequestError("prompt is required")
	}
	if utf8.RuneCountInString(imagePrompt) > MaxImagePromptRunes {
		return "", model.NewInvalidRequestError(fmt.Sprintf("prompt must not exceed %d characters", MaxImagePromptRunes))
	}
	if err := s.checkLimit(ctx, userID, model.APITypeImage); err != nil {
		return "", err
	}

	start := s.now()
	img, err := s.images.Generate(ctx, imagePrompt)
	if err != nil {
		return "", s.backendFailure(kindImage, userID, start, err)
	}
	s.metrics.RecordAIRequest(kindImage, outcomeSuccess, s.now().Sub(start))

	key := mediaKey("images", userID, img.ContentType)
	url, err := s.store.Save(ctx, key, img.ContentType, img.Data)
	if err != nil {
		s.logger.Error("生成画像の保存に失敗",
			slog.Int64("user_id", userID),
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return "", model.NewInternalError()
	}
	return url, nil
}

// GenerateSpeech はテキストを読み上げ音声に変換する。
// 永続ストレージが設定されている場合は音声を保存し、そのURLも返す。
func (s *Service) GenerateSpeech(ctx context.Context, userID int64, text string) (*Speech, error) {
	if s.speech == nil {
		return nil, model.NewMediaUnavailableError(model.APITypeTTS)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, model.NewInvalidRequestError("text is required")
	}
	if utf8.RuneCountInString(text) > MaxSpeechTextRunes {
		return nil, model.NewInvalidRequestError(fmt.Sprintf("text must not exceed %d characters", MaxSpeechTextRunes))
	}
	if err := s.checkLimit(ctx, userID, model.APITypeTTS); err != nil {
		return nil, err
	}

	start := s.now()
	audio, err := s.speech.Synthesize(ctx, text)
	if err != nil {
		return nil, s.backendFailure(kindSpeech, userID, start, err)
	}
	s.metrics.RecordAIRequest(kindSpeech, outcomeSuccess, s.now().Sub(start))

	result := &Speech{AudioBase64: base64.StdEncoding.EncodeToString(audio)}
	if s.store.Persistent() {
		key := mediaKey("audio", userID, "audio/mpeg")
		url, err := s.store.Save(ctx, key, "audio/mpeg", audio)
		if err != nil {
			// 音声本体は返せるため、保存失敗はログのみ
			s.logger.Warn("音声の保存に失敗",
				slog.Int64("user_id", userID),
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		} else {
			result.AudioURL = url
		}
	}
	return result, nil
}

// checkLimit はレート制限を判定し、拒否された場合はAPIErrorを返す。
func (s *Service) checkLimit(ctx context.Context, userID int64, apiType model.APIType) error {
	return s.limiter.Check(ctx, userID, apiType).Err(apiType)
}

// callText はテキスト生成を呼び出し、失敗をAPIErrorに変換する。
func (s *Service) callText(ctx context.Context, kind string, userID int64, p string, overrides *ai.GenerationParams) (string, error) {
	start := s.now()
	raw, err := s.text.CallAIForAdventure(ctx, p, ai.ModelConfig{
		Model:            s.opts.TextModel,
		ResponseMIMEType: "application/json",
	}, overrides)
	if err != nil {
		return "", s.backendFailure(kind, userID, start, err)
	}
	return raw, nil
}

// backendFailure はAIバックエンドの失敗を記録し、UI向けのエラーに変換する。
// バックエンドの詳細はログにのみ残す。
func (s *Service) backendFailure(kind string, userID int64, start time.Time, err error) error {
	elapsed := s.now().Sub(start)
	if errors.Is(err, ai.ErrNoContent) {
		s.metrics.RecordAIRequest(kind, outcomeEmpty, elapsed)
		s.logger.Warn("AIバックエンドが空の応答を返しました",
			slog.String("kind", kind),
			slog.Int64("user_id", userID),
		)
		return model.NewAIEmptyResponseError()
	}

	s.metrics.RecordAIRequest(kind, outcomeError, elapsed)
	s.logger.Error("AIバックエンドの呼び出しに失敗",
		slog.String("kind", kind),
		slog.Int64("user_id", userID),
		slog.Duration("elapsed", elapsed),
		slog.String("error", err.Error()),
	)
	return model.NewAIGenerationFailedError()
}

// invalidResponse はスキーマ検証の失敗を記録し、UI向けのエラーに変換する。
func (s *Service) invalidResponse(kind string, userID int64, elapsed time.Duration, err error) error {
	s.metrics.RecordValidationFailure(kind)
	s.metrics.RecordAIRequest(kind, outcomeInvalid, elapsed)
	s.logger.Warn("AI応答の検証に失敗",
		slog.String("kind", kind),
		slog.Int64("user_id", userID),
		slog.String("issues", marshalIssues(err)),
	)
	return model.NewAIResponseInvalidError()
}

// sanitizeNode はノードのテキストからマークアップを取り除く。
// imageUrlとaudioBase64はサーバーが付与するため、AIの出力は破棄する。
func (s *Service) sanitizeNode(node *model.AdventureNode) {
	node.Passage = s.sanitizer.SanitizeText(node.Passage)
	node.ImagePrompt = s.sanitizer.SanitizeText(node.ImagePrompt)
	node.UpdatedSummary = s.sanitizer.SanitizeText(node.UpdatedSummary)
	node.ImageURL = ""
	node.AudioBase64 = ""
	for i := range node.Choices {
		c := &node.Choices[i]
		c.Text = s.sanitizer.SanitizeText(c.Text)
		c.Genre = s.sanitizer.SanitizeText(c.Genre)
		c.Tone = s.sanitizer.SanitizeText(c.Tone)
		c.VisualStyle = s.sanitizer.SanitizeText(c.VisualStyle)
	}
}

func (s *Service) language(lang string) string {
	if lang != "" {
		return lang
	}
	return s.opts.DefaultLanguage
}

// mediaKey はユーザーごとに一意な保存キーを返す。
func mediaKey(prefix string, userID int64, contentType string) string {
	return fmt.Sprintf("%s/%d/%s%s", prefix, userID, uuid.NewString(), media.Extension(contentType))
}
