// Package logger はslogベースの構造化ロガーを構成する。
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
)

// Setup はJSON構造化ログ出力のslog.Loggerを生成して返す。
func Setup(w io.Writer) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return slog.New(handler)
}

// SetupDefault はJSON構造化ログ出力をグローバルロガーとして設定する。
// 本番ではos.Stdoutを渡すことを想定している。
func SetupDefault(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	slog.SetDefault(Setup(w))
}

// NewRotatingWriter は日次でローテーションするログファイルのwriterを生成する。
// pathにはシンボリックリンクが張られ、retentionDaysを過ぎたファイルは削除される。
func NewRotatingWriter(path string, retentionDays int) (io.Writer, error) {
	if retentionDays <= 0 {
		retentionDays = 1
	}
	w, err := rotatelogs.New(
		path+".%Y%m%d",
		rotatelogs.WithLinkName(path),
		rotatelogs.WithRotationTime(24*time.Hour),
		rotatelogs.WithMaxAge(time.Duration(retentionDays)*24*time.Hour),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rotating log writer: %w", err)
	}
	return w, nil
}

// Output は標準出力と、path指定時はローテーションファイルの両方に書き込むwriterを返す。
func Output(stdout io.Writer, path string, retentionDays int) (io.Writer, error) {
	if path == "" {
		return stdout, nil
	}
	file, err := NewRotatingWriter(path, retentionDays)
	if err != nil {
		return nil, err
	}
	return io.MultiWriter(stdout, file), nil
}
