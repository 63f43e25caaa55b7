package model

import (
	"golang.org/x/text/language"
)

// SupportedLanguages は物語の出力言語として選べる言語。先頭が既定値。
var SupportedLanguages = []language.Tag{
	language.English,
	language.Japanese,
	language.Spanish,
	language.French,
	language.German,
	language.Portuguese,
	language.Korean,
	language.SimplifiedChinese,
}

var languageMatcher = language.NewMatcher(SupportedLanguages)

// NegotiateLanguage はAccept-Languageヘッダーから対応言語を選ぶ。
// 一致する言語がなければfallbackを返す。
func NegotiateLanguage(acceptLanguage, fallback string) string {
	if acceptLanguage == "" {
		return fallback
	}
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return fallback
	}
	_, idx, conf := languageMatcher.Match(tags...)
	if conf == language.No {
		return fallback
	}
	return SupportedLanguages[idx].String()
}

// NormalizeLanguage は言語タグを検証し、対応言語の正規形に変換する。
func NormalizeLanguage(tag string) (string, error) {
	parsed, err := language.Parse(tag)
	if err != nil {
		return "", NewInvalidLanguageError(tag)
	}
	_, idx, conf := languageMatcher.Match(parsed)
	if conf == language.No || conf == language.Low {
		return "", NewInvalidLanguageError(tag)
	}
	return SupportedLanguages[idx].String(), nil
}
