// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer はAIが生成した物語テキストからマークアップを取り除き、
// UIにプレーンテキストだけを渡す。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizerService はAI生成テキストのサニタイズ機能のインターフェース。
type TextSanitizerService interface {
	// SanitizeText は全てのHTMLタグを除去したプレーンテキストを返す。
	// script、styleなどの要素は中身ごと除去される。
	// エンティティはデコードして返すため、UI側でエスケープすること。
	SanitizeText(s string) string
}

// textSanitizer はbluemondayのStrictPolicyでタグを全て除去する実装。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerServiceの新しいインスタンスを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// maxSanitizePasses はエンティティの多重エスケープを剥がす最大回数。
const maxSanitizePasses = 8

// SanitizeText は全てのHTMLタグを除去したプレーンテキストを返す。
// エンティティのデコードでタグが復元されることがあるため、
// 除去とデコードを結果が変わらなくなるまで繰り返す。
func (s *textSanitizer) SanitizeText(text string) string {
	if text == "" {
		return ""
	}
	out := text
	for i := 0; i < maxSanitizePasses; i++ {
		next := strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(out)))
		if next == out {
			return out
		}
		out = next
	}
	// 収束しない入力は山括弧を落としてタグとして解釈されないようにする
	return strings.NewReplacer("<", "", ">", "").Replace(out)
}

var _ TextSanitizerService = (*textSanitizer)(nil)
