package masterpiece

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/ardylee-mml/adto3d/internal/domain/port"
)

// Downloader скачивает артефакты с повторами при сетевых и 5xx ошибках
type Downloader struct {
	http     *http.Client
	tries    uint
	interval time.Duration
	logger   *zap.Logger
}

// NewDownloader создаёт загрузчик с tries попытками на файл
func NewDownloader(httpClient *http.Client, tries int, logger *zap.Logger) *Downloader {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	if tries < 1 {
		tries = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{
		http:     httpClient,
		tries:    uint(tries),
		interval: 500 * time.Millisecond,
		logger:   logger.With(zap.String("component", "downloader")),
	}
}

// Download сохраняет url в dst через временный файл
func (d *Downloader) Download(ctx context.Context, url, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.interval

	attempt := 0
	n, err := backoff.Retry(ctx, func() (int64, error) {
		attempt++
		n, err := d.fetch(ctx, url, dst)
		if err != nil {
			d.logger.Warn("download attempt failed",
				zap.String("url", url),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		return n, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(d.tries))
	if err != nil {
		return fmt.Errorf("download %s: %w", filepath.Base(dst), err)
	}

	d.logger.Info("artifact downloaded", zap.String("file", dst), zap.Int64("bytes", n))
	return nil
}

func (d *Downloader) fetch(ctx context.Context, url, dst string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, backoff.Permanent(err)
	}

	resp, err := d.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("unexpected status %d", resp.StatusCode)
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return 0, backoff.Permanent(err)
		}
		return 0, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".part-*")
	if err != nil {
		return 0, backoff.Permanent(err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return 0, backoff.Permanent(err)
	}
	return n, nil
}

var _ port.ArtifactDownloader = (*Downloader)(nil)
