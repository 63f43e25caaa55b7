// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/adventure/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.User, error)

	// FindByProvider は(provider_id, provider)でユーザーを検索する。見つからない場合はnilを返す。
	FindByProvider(ctx context.Context, providerID, provider string) (*model.User, error)

	// Create はユーザーを作成し、採番されたIDをuser.IDに設定する。
	Create(ctx context.Context, user *model.User) error

	// UpdateProfile はIdPから取得したプロフィールとlast_loginを更新する。
	UpdateProfile(ctx context.Context, user *model.User) error

	// TouchLastLogin はlast_loginのみを更新する。
	TouchLastLogin(ctx context.Context, id int64, at time.Time) error

	// UpdateLanguage は表示言語を更新する。
	UpdateLanguage(ctx context.Context, id int64, language string) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するsessions、rate_limits_userはCASCADE削除される。
	DeleteByID(ctx context.Context, id int64) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID int64) error
	// DeleteExpired は期限切れセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// RateLimitRepository はレート制限カウンタの永続化インターフェース。
type RateLimitRepository interface {
	// WithinTx はfnを1つのトランザクション内で実行する。
	// fnがエラーを返した場合はロールバックし、そのエラーを返す。
	WithinTx(ctx context.Context, fn func(tx RateLimitTx) error) error

	// ListByUser は指定ユーザーの全API種別のカウンタを返す。
	ListByUser(ctx context.Context, userID int64) ([]model.RateLimitRecord, error)
}

// RateLimitTx はトランザクション内で行うレート制限行の操作。
type RateLimitTx interface {
	// FindForUpdate は(user_id, api_type)の行を行ロック付きで取得する。
	// 見つからない場合はnilを返す。
	FindForUpdate(ctx context.Context, userID int64, apiType model.APIType) (*model.RateLimitRecord, error)

	// Insert は行を作成する。同じキーの行が既に存在した場合はfalseを返す。
	Insert(ctx context.Context, record *model.RateLimitRecord) (bool, error)

	// Update はウィンドウ開始時刻とリクエスト数を更新する。
	Update(ctx context.Context, record *model.RateLimitRecord) error
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
