// Package model はドメインモデルを定義する。
package model

import "time"

// ProviderGoogle はGoogle OAuthで作成されたユーザーのprovider値。
const ProviderGoogle = "google"

// User はサービス利用ユーザーを表す。
// (ProviderID, Provider) の組で一意に識別される。
type User struct {
	ID         int64
	ProviderID string
	Provider   string
	Name       string
	Email      string
	Image      string
	Language   string
	FirstLogin time.Time
	LastLogin  time.Time
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    int64
	ExpiresAt time.Time
	CreatedAt time.Time
}
