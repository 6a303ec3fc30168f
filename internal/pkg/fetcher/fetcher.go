package fetcher

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/timxs/storage-toolkit/internal/pkg/logger"
	"github.com/timxs/storage-toolkit/internal/pkg/minio"
	"github.com/timxs/storage-toolkit/internal/scanner"
)

// UploadPrefix 本地存储附件的访问路径前缀
const UploadPrefix = "/upload/"

const (
	dialTimeout           = 10 * time.Second
	responseHeaderTimeout = 30 * time.Second
)

// Fetcher 按附件访问链接读取字节流。
// 本地存储的 /upload/ 路径直接走对象存储，
// 其余链接通过 HTTP 拉取，整体超时由调用方的 ctx 控制
type Fetcher struct {
	store       *minio.Client
	httpClient  *http.Client
	externalURL string
	logger      *logger.Logger
}

// New 创建字节读取器。externalURL 为站点对外地址，
// 用于把相对路径还原成可访问的完整链接
func New(store *minio.Client, externalURL string, log *logger.Logger) *Fetcher {
	return &Fetcher{
		store: store,
		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: dialTimeout,
				}).DialContext,
				ResponseHeaderTimeout: responseHeaderTimeout,
			},
		},
		externalURL: strings.TrimRight(externalURL, "/"),
		logger:      log.Named("fetcher"),
	}
}

// Resolve 把相对路径还原成完整链接；完整链接原样返回
func (f *Fetcher) Resolve(permalink string) string {
	if scanner.IsFullURL(permalink) {
		return permalink
	}
	if strings.HasPrefix(permalink, "/") {
		return f.externalURL + permalink
	}
	return permalink
}

// Open 打开附件的字节流，调用方负责关闭
func (f *Fetcher) Open(ctx context.Context, permalink string) (io.ReadCloser, error) {
	decoded := scanner.DecodeURL(permalink)

	if f.store != nil && strings.HasPrefix(decoded, UploadPrefix) {
		objectName := strings.TrimPrefix(decoded, UploadPrefix)
		rc, err := f.store.GetObject(ctx, objectName)
		if err != nil {
			return nil, fmt.Errorf("failed to open object %q: %w", objectName, err)
		}
		return rc, nil
	}

	target := f.Resolve(permalink)
	if !scanner.IsFullURL(target) {
		return nil, fmt.Errorf("cannot resolve permalink %q to a fetchable url", permalink)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %q: %w", target, err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %q: %w", target, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d fetching %q", resp.StatusCode, target)
	}

	f.logger.Debug("fetched asset over http", zap.String("url", target))
	return resp.Body, nil
}
