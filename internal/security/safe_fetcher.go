package security

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// ErrResponseTooLarge はレスポンスボディが上限を超えた場合のエラー。
var ErrResponseTooLarge = errors.New("response body exceeds the size limit")

// MediaFetcher はAIバックエンドが返したメディアURLを取得するインターフェース。
type MediaFetcher interface {
	// Fetch はURLの内容とContent-Typeを返す。
	Fetch(ctx context.Context, rawURL string) ([]byte, string, error)
}

// allowedSchemes は取得を許可するURLスキーム。
var allowedSchemes = []string{"http", "https"}

// blockedNetworks はURLの事前検証でブロックするネットワーク範囲。
// DNS解決後のアドレスはsafeurlがDialer側で検証する。
var blockedNetworks = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16", // クラウドメタデータIPを含む
	"0.0.0.0/8",
	"::1/128",
	"fe80::/10",
	"fc00::/7",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		nets = append(nets, network)
	}
	return nets
}

// SafeFetcher はSSRF対策付きのHTTPクライアントでメディアを取得する。
type SafeFetcher struct {
	client   *http.Client
	maxSize  int64
	validate func(rawURL string) error
}

// NewSafeFetcher はSafeFetcherを生成する。
// safeurlによりプライベートIP、ループバック、リンクローカル、メタデータIPへの接続が
// DNS解決後にブロックされるため、DNS再バインディングにも対応する。
func NewSafeFetcher(timeout time.Duration, maxSize int64) *SafeFetcher {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()

	return &SafeFetcher{
		client:   safeurl.Client(config).Client,
		maxSize:  maxSize,
		validate: ValidateURL,
	}
}

// Client は内部のHTTPクライアントを返す。
func (f *SafeFetcher) Client() *http.Client {
	return f.client
}

// Fetch はURLの内容とContent-Typeを返す。
// 2xx以外のステータスと、maxSizeを超えるボディはエラーになる。
func (f *SafeFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	if err := f.validate(rawURL); err != nil {
		return nil, "", fmt.Errorf("blocked media URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("unexpected status fetching media: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read media body: %w", err)
	}
	if int64(len(body)) > f.maxSize {
		return nil, "", ErrResponseTooLarge
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(body)
	}
	return body, contentType, nil
}

// ValidateURL はDNS解決を伴わない静的なURL検証を行う。
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	allowed := false
	for _, s := range allowedSchemes {
		if scheme == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("disallowed scheme: %s (allowed: %v)", scheme, allowedSchemes)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}

	if ip := net.ParseIP(host); ip != nil {
		for _, network := range blockedNetworks {
			if network.Contains(ip) {
				return fmt.Errorf("blocked IP address: %s", ip.String())
			}
		}
		return nil
	}

	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("blocked host: %s", host)
	}
	return nil
}

var _ MediaFetcher = (*SafeFetcher)(nil)
