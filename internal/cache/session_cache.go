// Package cache はRedisを使ったキャッシュ層を提供する。
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/adventure/internal/model"
	"github.com/hitoshi/adventure/internal/repository"
)

const (
	sessionKeyPrefix     = "adventure:session:"
	userSessionKeyPrefix = "adventure:user_sessions:"
)

// NewRedisClient はURLからRedisクライアントを生成し、疎通を確認する。
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// cachedSession はRedisに保存するセッションの表現。
type cachedSession struct {
	UserID    int64     `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionCache はSessionRepositoryの読み取りをRedisでキャッシュするデコレータ。
// Redisの障害時はログを出してDBにフォールバックする。
type SessionCache struct {
	next   repository.SessionRepository
	client redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewSessionCache はSessionCacheを生成する。
func NewSessionCache(next repository.SessionRepository, client redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *SessionCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionCache{
		next:   next,
		client: client,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// Create はセッションを作成し、キャッシュにも書き込む。
func (c *SessionCache) Create(ctx context.Context, session *model.Session) error {
	if err := c.next.Create(ctx, session); err != nil {
		return err
	}
	c.store(ctx, session)
	return nil
}

// FindByID はキャッシュを優先してセッションを取得する。
func (c *SessionCache) FindByID(ctx context.Context, id string) (*model.Session, error) {
	data, err := c.client.Get(ctx, sessionKeyPrefix+id).Bytes()
	switch {
	case err == nil:
		var cs cachedSession
		if jsonErr := json.Unmarshal(data, &cs); jsonErr == nil {
			if c.now().Before(cs.ExpiresAt) {
				return &model.Session{ID: id, UserID: cs.UserID, ExpiresAt: cs.ExpiresAt, CreatedAt: cs.CreatedAt}, nil
			}
			// 期限切れはDBの判定に任せる
		} else {
			c.logger.Warn("セッションキャッシュの復元に失敗", slog.String("error", jsonErr.Error()))
		}
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Warn("セッションキャッシュの読み込みに失敗", slog.String("error", err.Error()))
	}

	session, err := c.next.FindByID(ctx, id)
	if err != nil || session == nil {
		return session, err
	}
	c.store(ctx, session)
	return session, nil
}

// DeleteByID はセッションを削除し、キャッシュからも取り除く。
func (c *SessionCache) DeleteByID(ctx context.Context, id string) error {
	if err := c.next.DeleteByID(ctx, id); err != nil {
		return err
	}
	if err := c.client.Del(ctx, sessionKeyPrefix+id).Err(); err != nil {
		c.logger.Warn("セッションキャッシュの削除に失敗", slog.String("error", err.Error()))
	}
	return nil
}

// DeleteByUserID はユーザーの全セッションを削除し、キャッシュからも取り除く。
func (c *SessionCache) DeleteByUserID(ctx context.Context, userID int64) error {
	if err := c.next.DeleteByUserID(ctx, userID); err != nil {
		return err
	}

	setKey := userSessionKey(userID)
	ids, err := c.client.SMembers(ctx, setKey).Result()
	if err != nil {
		c.logger.Warn("セッションキャッシュの一覧取得に失敗",
			slog.Int64("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, sessionKeyPrefix+id)
	}
	keys = append(keys, setKey)
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("セッションキャッシュの削除に失敗",
			slog.Int64("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// DeleteExpired は期限切れセッションを削除する。
// キャッシュのTTLはセッションの有効期限を超えないため、キャッシュは操作しない。
func (c *SessionCache) DeleteExpired(ctx context.Context) (int64, error) {
	return c.next.DeleteExpired(ctx)
}

// store はセッションをキャッシュに書き込む。TTLはセッションの残り有効期間以下にする。
func (c *SessionCache) store(ctx context.Context, session *model.Session) {
	ttl := c.ttl
	if remaining := session.ExpiresAt.Sub(c.now()); remaining < ttl {
		ttl = remaining
	}
	if ttl <= 0 {
		return
	}

	data, err := json.Marshal(cachedSession{
		UserID:    session.UserID,
		ExpiresAt: session.ExpiresAt,
		CreatedAt: session.CreatedAt,
	})
	if err != nil {
		return
	}

	setKey := userSessionKey(session.UserID)
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKeyPrefix+session.ID, data, ttl)
		pipe.SAdd(ctx, setKey, session.ID)
		pipe.Expire(ctx, setKey, c.ttl)
		return nil
	})
	if err != nil {
		c.logger.Warn("セッションキャッシュの書き込みに失敗", slog.String("error", err.Error()))
	}
}

func userSessionKey(userID int64) string {
	return userSessionKeyPrefix + strconv.FormatInt(userID, 10)
}

var _ repository.SessionRepository = (*SessionCache)(nil)
