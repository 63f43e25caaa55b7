package ai

import "google.golang.org/genai"

// safetyCategories はブロック閾値を設定するハームカテゴリ。
var safetyCategories = []genai.HarmCategory{
	genai.HarmCategoryHarassment,
	genai.HarmCategoryHateSpeech,
	genai.HarmCategorySexuallyExplicit,
	genai.HarmCategoryDangerousContent,
}

// SafetySettings はテキスト生成に付与するセーフティ設定を返す。
// 創作用途のため、全カテゴリで高リスクのコンテンツのみをブロックする。
// 呼び出しごとに新しいスライスを返す。
func SafetySettings() []*genai.SafetySetting {
	settings := make([]*genai.SafetySetting, 0, len(safetyCategories))
	for _, category := range safetyCategories {
		settings = append(settings, &genai.SafetySetting{
			Category:  category,
			Threshold: genai.HarmBlockThresholdBlockOnlyHigh,
		})
	}
	return settings
}
