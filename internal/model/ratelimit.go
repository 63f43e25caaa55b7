package model

import (
	"fmt"
	"time"
)

// APIType はレート制限の対象となるAI APIの種別。
type APIType string

const (
	APITypeText  APIType = "text"
	APITypeImage APIType = "image"
	APITypeTTS   APIType = "tts"
)

// APITypes は全てのAPI種別を定義順に返す。
func APITypes() []APIType {
	return []APIType{APITypeText, APITypeImage, APITypeTTS}
}

// Valid はAPI種別が既知の値かどうかを返す。
func (t APIType) Valid() bool {
	switch t {
	case APITypeText, APITypeImage, APITypeTTS:
		return true
	}
	return false
}

// ParseAPIType は文字列をAPITypeに変換する。
func ParseAPIType(s string) (APIType, error) {
	t := APIType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown api type: %q", s)
	}
	return t, nil
}

// RateLimitRecord は (UserID, APIType) ごとのウィンドウ内リクエスト数を表す。
// 行は初回リクエスト時に作成され、削除されずにウィンドウ切り替え時に再利用される。
type RateLimitRecord struct {
	UserID          int64
	APIType         APIType
	WindowStartTime time.Time
	RequestCount    int
}
