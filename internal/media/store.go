// Package media は生成した画像と音声の保存先を提供する。
package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
)

// Store はメディアの保存先のインターフェース。
type Store interface {
	// Save はデータを保存し、UIから参照できるURLを返す。
	Save(ctx context.Context, key, contentType string, data []byte) (string, error)
	// Persistent は保存先が永続ストレージかどうかを返す。
	Persistent() bool
}

// S3Store はS3互換ストレージにアップロードする実装。
type S3Store struct {
	uploader      s3manageriface.UploaderAPI
	bucket        string
	publicBaseURL string
}

// NewS3Store はS3Storeを生成する。
// publicBaseURLが空の場合はバケットの標準URLを使う。
func NewS3Store(uploader s3manageriface.UploaderAPI, bucket, publicBaseURL string) *S3Store {
	if publicBaseURL == "" {
		publicBaseURL = fmt.Sprintf("https://%s.s3.amazonaws.com", bucket)
	}
	return &S3Store{
		uploader:      uploader,
		bucket:        bucket,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}
}

// NewS3Uploader は認証情報を環境から解決するs3manager.Uploaderを生成する。
func NewS3Uploader(region string) (*s3manager.Uploader, error) {
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(region),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create aws session: %w", err)
	}
	return s3manager.NewUploader(sess), nil
}

// Save はデータをアップロードし、公開URLを返す。
func (s *S3Store) Save(ctx context.Context, key, contentType string, data []byte) (string, error) {
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(data),
		ContentType:  aws.String(contentType),
		CacheControl: aws.String("public, max-age=31536000, immutable"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}
	return s.publicBaseURL + "/" + key, nil
}

// Persistent は常にtrueを返す。
func (s *S3Store) Persistent() bool { return true }

// DataURLStore はデータをdata URLとして返す。保存は行わない。
type DataURLStore struct{}

// Save はdata:<mime>;base64,... 形式のURLを返す。
func (DataURLStore) Save(_ context.Context, _ string, contentType string, data []byte) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// Persistent は常にfalseを返す。
func (DataURLStore) Persistent() bool { return false }

// Extension はContent-Typeに対応するファイル拡張子を返す。
func Extension(contentType string) string {
	mediaType, _, _ := strings.Cut(contentType, ";")
	switch strings.TrimSpace(strings.ToLower(mediaType)) {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	case "audio/mpeg":
		return ".mp3"
	default:
		return ""
	}
}

var (
	_ Store = (*S3Store)(nil)
	_ Store = DataURLStore{}
)
