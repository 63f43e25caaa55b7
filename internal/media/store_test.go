package media

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
)

// fakeUploader はs3manageriface.UploaderAPIのテスト用実装。
type fakeUploader struct {
	input *s3manager.UploadInput
	body  []byte
	err   error
}

func (f *fakeUploader) Upload(input *s3manager.UploadInput, opts ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	return f.UploadWithContext(context.Background(), input, opts...)
}

func (f *fakeUploader) UploadWithContext(ctx aws.Context, input *s3manager.UploadInput, opts ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	f.input = input
	if input.Body != nil {
		f.body, _ = io.ReadAll(input.Body)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &s3manager.UploadOutput{Location: "s3://" + aws.StringValue(input.Bucket) + "/" + aws.StringValue(input.Key)}, nil
}

func TestS3Store_Save(t *testing.T) {
	up := &fakeUploader{}
	store := NewS3Store(up, "adventure-media", "https://cdn.example.com/")

	url, err := store.Save(context.Background(), "images/1/abc.png", "image/png", []byte("png"))
	if err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if url != "https://cdn.example.com/images/1/abc.png" {
		t.Errorf("url = %q", url)
	}
	if aws.StringValue(up.input.Bucket) != "adventure-media" {
		t.Errorf("bucket = %q", aws.StringValue(up.input.Bucket))
	}
	if aws.StringValue(up.input.Key) != "images/1/abc.png" {
		t.Errorf("key = %q", aws.StringValue(up.input.Key))
	}
	if aws.StringValue(up.input.ContentType) != "image/png" {
		t.Errorf("content type = %q", aws.StringValue(up.input.ContentType))
	}
	if string(up.body) != "png" {
		t.Errorf("body = %q", up.body)
	}
	if !store.Persistent() {
		t.Error("expected S3Store to be persistent")
	}
}

func TestS3Store_DefaultPublicURL(t *testing.T) {
	store := NewS3Store(&fakeUploader{}, "bucket", "")

	url, err := store.Save(context.Background(), "audio/1/x.mp3", "audio/mpeg", []byte("a"))
	if err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if url != "https://bucket.s3.amazonaws.com/audio/1/x.mp3" {
		t.Errorf("url = %q", url)
	}
}

func TestS3Store_UploadError(t *testing.T) {
	store := NewS3Store(&fakeUploader{err: errors.New("access denied")}, "bucket", "")

	_, err := store.Save(context.Background(), "k", "image/png", []byte("x"))
	if err == nil || !strings.Contains(err.Error(), "access denied") {
		t.Fatalf("err = %v, want wrapped upload error", err)
	}
}

func TestDataURLStore_Save(t *testing.T) {
	url, err := DataURLStore{}.Save(context.Background(), "ignored", "image/png", []byte("png"))
	if err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if url != "data:image/png;base64,cG5n" {
		t.Errorf("url = %q", url)
	}
	if (DataURLStore{}).Persistent() {
		t.Error("expected DataURLStore to be non-persistent")
	}
}

func TestDataURLStore_EmptyContentType(t *testing.T) {
	url, _ := DataURLStore{}.Save(context.Background(), "k", "", []byte{0x01})
	if !strings.HasPrefix(url, "data:application/octet-stream;base64,") {
		t.Errorf("url = %q", url)
	}
}

func TestExtension(t *testing.T) {
	tests := map[string]string{
		"image/png":                ".png",
		"image/jpeg":               ".jpg",
		"IMAGE/WEBP":               ".webp",
		"audio/mpeg":               ".mp3",
		"image/png; charset=utf-8": ".png",
		"text/plain":               "",
	}
	for contentType, want := range tests {
		if got := Extension(contentType); got != want {
			t.Errorf("Extension(%q) = %q, want %q", contentType, got, want)
		}
	}
}
var _ s3manageriface.UploaderAPI = (*fakeUploader)(nil)
