// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/adventure/internal/model"
	"github.com/hitoshi/adventure/internal/ratelimit"
	"github.com/hitoshi/adventure/internal/repository"
)

// QuotaReader はAPI種別ごとの残量を読み取るインターフェース。
// ratelimit.Limiterが実装する。
type QuotaReader interface {
	Status(ctx context.Context, userID int64) ([]ratelimit.Quota, error)
}

// Service はユーザー管理のサービス層。
// プロフィール参照、言語設定、退会処理のビジネスロジックを提供する。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	quotas      QuotaReader
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	quotas QuotaReader,
) *Service {
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		quotas:      quotas,
	}
}

// Profile はユーザーのプロフィールを返す。
func (s *Service) Profile(ctx context.Context, userID int64) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// UpdateLanguage は表示言語を変更し、正規化した言語タグを返す。
// 対応していない言語はINVALID_LANGUAGEエラーになる。
func (s *Service) UpdateLanguage(ctx context.Context, userID int64, tag string) (string, error) {
	lang, err := model.NormalizeLanguage(tag)
	if err != nil {
		return "", err
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return "", model.NewUserNotFoundError()
	}

	if err := s.userRepo.UpdateLanguage(ctx, userID, lang); err != nil {
		return "", fmt.Errorf("言語設定の更新に失敗しました: %w", err)
	}

	slog.Info("言語設定を更新しました",
		slog.Int64("user_id", userID),
		slog.String("language", lang),
	)
	return lang, nil
}

// Quota は現在のウィンドウにおけるAPI種別ごとの残量を返す。
func (s *Service) Quota(ctx context.Context, userID int64) ([]ratelimit.Quota, error) {
	quotas, err := s.quotas.Status(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("利用状況の取得に失敗しました: %w", err)
	}
	return quotas, nil
}

// Withdraw はユーザーの退会処理を実行する。
// 削除順序: sessions → user（+ CASCADE: rate_limits_user）
// セッションを先に消すのは、キャッシュ上のセッションも含めて即座に無効化するため。
func (s *Service) Withdraw(ctx context.Context, userID int64) error {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	slog.Info("退会処理を開始します", slog.Int64("user_id", userID))

	if err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
		return fmt.Errorf("セッションの削除に失敗しました: %w", err)
	}

	if err := s.userRepo.DeleteByID(ctx, userID); err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	slog.Info("退会処理が完了しました", slog.Int64("user_id", userID))
	return nil
}
