package model

// StoryHistoryItem はクライアントが保持する物語履歴の1エントリ。
// サーバー側では永続化しない。
type StoryHistoryItem struct {
	Passage string `json:"passage"`
	Choice  string `json:"choice,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// Choice は次の展開への選択肢。
type Choice struct {
	Text        string `json:"text" validate:"required"`
	Genre       string `json:"genre,omitempty"`
	Tone        string `json:"tone,omitempty"`
	VisualStyle string `json:"visualStyle,omitempty"`
}

// AdventureNode はAI応答を検証した結果の物語ノード。
// 検証後は変更せずUIにそのまま渡す。
type AdventureNode struct {
	Passage        string   `json:"passage" validate:"required"`
	Choices        []Choice `json:"choices" validate:"required,min=1,max=5,dive"`
	ImagePrompt    string   `json:"imagePrompt,omitempty"`
	UpdatedSummary string   `json:"updatedSummary,omitempty"`
	ImageURL       string   `json:"imageUrl,omitempty"`
	AudioBase64    string   `json:"audioBase64,omitempty"`
}

// StartingScenario は物語の開始シナリオ候補。
type StartingScenario struct {
	Text        string `json:"text" validate:"required"`
	Genre       string `json:"genre" validate:"required"`
	Tone        string `json:"tone" validate:"required"`
	VisualStyle string `json:"visualStyle" validate:"required"`
}
