package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/adventure/internal/model"
)

// PostgresRateLimitRepo はPostgreSQLを使用したレート制限リポジトリ。
// 同一(user_id, api_type)への同時リクエストはSELECT ... FOR UPDATEの行ロックで直列化される。
type PostgresRateLimitRepo struct {
	db *sql.DB
}

// NewPostgresRateLimitRepo はPostgresRateLimitRepoを生成する。
func NewPostgresRateLimitRepo(db *sql.DB) *PostgresRateLimitRepo {
	return &PostgresRateLimitRepo{db: db}
}

// WithinTx はfnを1つのトランザクション内で実行する。
func (r *PostgresRateLimitRepo) WithinTx(ctx context.Context, fn func(tx RateLimitTx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&postgresRateLimitTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListByUser は指定ユーザーの全API種別のカウンタを返す。
func (r *PostgresRateLimitRepo) ListByUser(ctx context.Context, userID int64) ([]model.RateLimitRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id, api_type, window_start_time, request_count
		 FROM rate_limits_user
		 WHERE user_id = $1
		 ORDER BY api_type`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list rate limits: %w", err)
	}
	defer rows.Close()

	var records []model.RateLimitRecord
	for rows.Next() {
		var rec model.RateLimitRecord
		var apiType string
		if err := rows.Scan(&rec.UserID, &apiType, &rec.WindowStartTime, &rec.RequestCount); err != nil {
			return nil, fmt.Errorf("failed to scan rate limit: %w", err)
		}
		rec.APIType = model.APIType(apiType)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rate limits: %w", err)
	}
	return records, nil
}

type postgresRateLimitTx struct {
	tx *sql.Tx
}

func (t *postgresRateLimitTx) FindForUpdate(ctx context.Context, userID int64, apiType model.APIType) (*model.RateLimitRecord, error) {
	rec := &model.RateLimitRecord{UserID: userID, APIType: apiType}
	err := t.tx.QueryRowContext(ctx,
		`SELECT window_start_time, request_count
		 FROM rate_limits_user
		 WHERE user_id = $1 AND api_type = $2
		 FOR UPDATE`,
		userID, string(apiType),
	).Scan(&rec.WindowStartTime, &rec.RequestCount)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select rate limit: %w", err)
	}
	return rec, nil
}

// Insert は同時に初回リクエストが来た場合に備えてON CONFLICT DO NOTHINGで挿入する。
// 競合した側はfalseを受け取り、FindForUpdateで相手の行を読み直す。
func (t *postgresRateLimitTx) Insert(ctx context.Context, record *model.RateLimitRecord) (bool, error) {
	result, err := t.tx.ExecContext(ctx,
		`INSERT INTO rate_limits_user (user_id, api_type, window_start_time, request_count)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, api_type) DO NOTHING`,
		record.UserID, string(record.APIType), record.WindowStartTime, record.RequestCount,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert rate limit: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

func (t *postgresRateLimitTx) Update(ctx context.Context, record *model.RateLimitRecord) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE rate_limits_user
		 SET window_start_time = $3, request_count = $4
		 WHERE user_id = $1 AND api_type = $2`,
		record.UserID, string(record.APIType), record.WindowStartTime, record.RequestCount,
	)
	if err != nil {
		return fmt.Errorf("failed to update rate limit: %w", err)
	}
	return nil
}

// compile-time interface check
var (
	_ RateLimitRepository = (*PostgresRateLimitRepo)(nil)
	_ RateLimitTx         = (*postgresRateLimitTx)(nil)
)
