// Package ai は生成AIバックエンドとのアダプタを提供する。
//
// 物語テキストはGemini（google.golang.org/genai）で生成し、
// 画像と音声はOpenAI互換API（go-openai）で生成する。
package ai

import "google.golang.org/genai"

// GenerationParams はテキスト生成のパラメータを表す。
// nilのフィールドは未指定として扱い、Mergeでデフォルト値が使われる。
type GenerationParams struct {
	Temperature      *float32 `json:"temperature,omitempty"`
	TopP             *float32 `json:"topP,omitempty"`
	TopK             *float32 `json:"topK,omitempty"`
	FrequencyPenalty *float32 `json:"frequencyPenalty,omitempty"`
	PresencePenalty  *float32 `json:"presencePenalty,omitempty"`
	CandidateCount   *int32   `json:"candidateCount,omitempty"`
	MaxOutputTokens  *int32   `json:"maxOutputTokens,omitempty"`
}

// DefaultGenerationParams は物語生成用のデフォルトパラメータを返す。
func DefaultGenerationParams() GenerationParams {
	return GenerationParams{
		Temperature:      Float32(1.0),
		TopP:             Float32(0.95),
		TopK:             Float32(40),
		FrequencyPenalty: Float32(0.3),
		PresencePenalty:  Float32(0.6),
		CandidateCount:   Int32(1),
		MaxOutputTokens:  Int32(900),
	}
}

// Merge はoverridesの指定済みフィールドだけを上書きした新しいパラメータを返す。
// レシーバとoverridesは変更しない。
func (p GenerationParams) Merge(overrides *GenerationParams) GenerationParams {
	merged := p
	if overrides == nil {
		return merged
	}
	if overrides.Temperature != nil {
		merged.Temperature = Float32(*overrides.Temperature)
	}
	if overrides.TopP != nil {
		merged.TopP = Float32(*overrides.TopP)
	}
	if overrides.TopK != nil {
		merged.TopK = Float32(*overrides.TopK)
	}
	if overrides.FrequencyPenalty != nil {
		merged.FrequencyPenalty = Float32(*overrides.FrequencyPenalty)
	}
	if overrides.PresencePenalty != nil {
		merged.PresencePenalty = Float32(*overrides.PresencePenalty)
	}
	if overrides.CandidateCount != nil {
		merged.CandidateCount = Int32(*overrides.CandidateCount)
	}
	if overrides.MaxOutputTokens != nil {
		merged.MaxOutputTokens = Int32(*overrides.MaxOutputTokens)
	}
	return merged
}

// apply はパラメータをgenaiのリクエスト設定に反映する。
func (p GenerationParams) apply(cfg *genai.GenerateContentConfig) {
	cfg.Temperature = p.Temperature
	cfg.TopP = p.TopP
	cfg.TopK = p.TopK
	cfg.FrequencyPenalty = p.FrequencyPenalty
	cfg.PresencePenalty = p.PresencePenalty
	if p.CandidateCount != nil {
		cfg.CandidateCount = *p.CandidateCount
	}
	if p.MaxOutputTokens != nil {
		cfg.MaxOutputTokens = *p.MaxOutputTokens
	}
}

// Float32 はfloat32値へのポインタを返す。
func Float32(v float32) *float32 { return &v }

// Int32 はint32値へのポインタを返す。
func Int32(v int32) *int32 { return &v }
