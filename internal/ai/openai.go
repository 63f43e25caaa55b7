package ai

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"

	"github.com/hitoshi/adventure/internal/security"
	"github.com/sashabaranov/go-openai"
)

// NewOpenAIClient はOpenAI互換APIのクライアントを生成する。
// baseURLが空の場合は公式エンドポイントを使う。
func NewOpenAIClient(apiKey, baseURL string, httpClient *http.Client) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return openai.NewClientWithConfig(cfg)
}

// ImageAPI は画像生成APIのインターフェース。*openai.Clientが満たす。
type ImageAPI interface {
	CreateImage(ctx context.Context, request openai.ImageRequest) (openai.ImageResponse, error)
}

// SpeechAPI は音声合成APIのインターフェース。*openai.Clientが満たす。
type SpeechAPI interface {
	CreateSpeech(ctx context.Context, request openai.CreateSpeechRequest) (openai.RawResponse, error)
}

// ImageGenerator は画像生成のインターフェース。
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) (*Image, error)
}

// SpeechGenerator は音声合成のインターフェース。
type SpeechGenerator interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Image は生成された画像データ。
type Image struct {
	Data        []byte
	ContentType string
}

// ImageClient は物語の挿絵を生成するアダプタ。
type ImageClient struct {
	api     ImageAPI
	fetcher security.MediaFetcher
	model   string
	size    string
}

// NewImageClient はImageClientを生成する。
// fetcherはバックエンドがURL形式で画像を返した場合の取得に使う。
func NewImageClient(api ImageAPI, fetcher security.MediaFetcher, model, size string) *ImageClient {
	return &ImageClient{api: api, fetcher: fetcher, model: model, size: size}
}

// Generate はプロンプトから画像を1枚生成する。
// バックエンドのエラーはそのまま返し、画像がない場合はErrNoContentを返す。
func (c *ImageClient) Generate(ctx context.Context, prompt string) (*Image, error) {
	resp, err := c.api.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          c.model,
		N:              1,
		Size:           c.size,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, ErrNoContent
	}

	item := resp.Data[0]
	switch {
	case item.B64JSON != "":
		data, err := base64.StdEncoding.DecodeString(item.B64JSON)
		if err != nil {
			return nil, fmt.Errorf("failed to decode image payload: %w", err)
		}
		return &Image{Data: data, ContentType: "image/png"}, nil
	case item.URL != "":
		if c.fetcher == nil {
			return nil, fmt.Errorf("image returned as URL but no fetcher is configured")
		}
		data, contentType, err := c.fetcher.Fetch(ctx, item.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch generated image: %w", err)
		}
		if len(data) == 0 {
			return nil, ErrNoContent
		}
		return &Image{Data: data, ContentType: contentType}, nil
	default:
		return nil, ErrNoContent
	}
}

// SpeechClient は物語の読み上げ音声を生成するアダプタ。
type SpeechClient struct {
	api   SpeechAPI
	model string
	voice string
}

// NewSpeechClient はSpeechClientを生成する。
func NewSpeechClient(api SpeechAPI, model, voice string) *SpeechClient {
	return &SpeechClient{api: api, model: model, voice: voice}
}

// Synthesize はテキストをMP3音声に変換する。
func (c *SpeechClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	resp, err := c.api.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(c.model),
		Input:          text,
		Voice:          openai.SpeechVoice(c.voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to read speech audio: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrNoContent
	}
	return data, nil
}

var (
	_ ImageGenerator  = (*ImageClient)(nil)
	_ SpeechGenerator = (*SpeechClient)(nil)
	_ ImageAPI        = (*openai.Client)(nil)
	_ SpeechAPI       = (*openai.Client)(nil)
)
