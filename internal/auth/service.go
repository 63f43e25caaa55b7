// Package auth はOAuth認証フロー、セッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/adventure/internal/model"
	"github.com/hitoshi/adventure/internal/repository"
)

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	Name           string
	Image          string
	Provider       string
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge   int    // セッション有効期間（秒）
	DefaultLanguage string // Accept-Languageが対応言語に一致しない場合の言語
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	oauth       OAuthProvider
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	oauth OAuthProvider,
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	config ServiceConfig,
) *Service {
	if config.DefaultLanguage == "" {
		config.DefaultLanguage = "en"
	}
	return &Service{
		oauth:       oauth,
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		config:      config,
		now:         time.Now,
	}
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// HandleCallback はOAuthコールバックを処理し、セッションを発行する。
// 未登録ユーザーはfirst_loginとlast_loginを現在時刻にして作成し、
// 言語はacceptLanguageから決める。登録済みユーザーはプロフィールとlast_loginを更新する。
func (s *Service) HandleCallback(ctx context.Context, code, acceptLanguage string) (*model.Session, error) {
	info, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	user, err := s.upsertUser(ctx, info, acceptLanguage)
	if err != nil {
		return nil, err
	}

	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

func (s *Service) upsertUser(ctx context.Context, info *OAuthUserInfo, acceptLanguage string) (*model.User, error) {
	now := s.now()

	user, err := s.userRepo.FindByProvider(ctx, info.ProviderUserID, info.Provider)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	if user == nil {
		user = &model.User{
			ProviderID: info.ProviderUserID,
			Provider:   info.Provider,
			Name:       info.Name,
			Email:      info.Email,
			Image:      info.Image,
			Language:   model.NegotiateLanguage(acceptLanguage, s.config.DefaultLanguage),
			FirstLogin: now,
			LastLogin:  now,
		}
		if err := s.userRepo.Create(ctx, user); err != nil {
			// 同一IdPアカウントの同時ログインで先に作成された場合は既存ユーザーを使う
			existing, findErr := s.userRepo.FindByProvider(ctx, info.ProviderUserID, info.Provider)
			if findErr != nil || existing == nil {
				return nil, fmt.Errorf("failed to create user: %w", err)
			}
			user = existing
		} else {
			slog.Info("new user created",
				slog.Int64("user_id", user.ID),
				slog.String("provider", info.Provider),
				slog.String("language", user.Language),
			)
			return user, nil
		}
	}

	user.Name = info.Name
	user.Email = info.Email
	user.Image = info.Image
	user.LastLogin = now
	if err := s.userRepo.UpdateProfile(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to update user profile: %w", err)
	}
	slog.Info("existing user logged in",
		slog.Int64("user_id", user.ID),
		slog.String("provider", info.Provider),
	)
	return user, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}
	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	slog.Info("user logged out")
	return nil
}

// GetSession はセッションIDに対応するユーザーを返し、last_loginを更新する。
// セッションが無効、またはユーザーが存在しない場合はnil, nilを返す。
func (s *Service) GetSession(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		return nil, nil
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, nil
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, nil
	}

	// last_loginの更新失敗はセッション判定に影響させない
	now := s.now()
	if err := s.userRepo.TouchLastLogin(ctx, user.ID, now); err != nil {
		slog.Warn("failed to update last login",
			slog.Int64("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	} else {
		user.LastLogin = now
	}
	return user, nil
}

// GetCurrentUser は認証済みユーザーを取得する。
func (s *Service) GetCurrentUser(ctx context.Context, userID int64) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// SessionMaxAge はセッションCookieのMax-Age（秒）を返す。
func (s *Service) SessionMaxAge() int {
	return s.config.SessionMaxAge
}

func (s *Service) createSession(ctx context.Context, userID int64) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
