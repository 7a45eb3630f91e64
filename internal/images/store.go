// Package images stores local copies of listing photos for a run.
package images

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const fetchTimeout = 15 * time.Second

// Store downloads listing images into a per-task directory. Downloads are
// best-effort; a failed image never fails the listing.
type Store struct {
	http   *resty.Client
	logger *zap.Logger
}

// NewStore builds a store. proxyURL may be empty.
func NewStore(proxyURL string, logger *zap.Logger) *Store {
	client := resty.New().SetTimeout(fetchTimeout)
	if proxyURL != "" {
		client.SetProxy(proxyURL)
	}
	return &Store{http: client, logger: logger}
}

// Fetch downloads every url into dir and returns the local paths of the
// ones that succeeded. File names derive from the url so re-fetching the
// same listing overwrites rather than accumulates.
func (s *Store) Fetch(ctx context.Context, dir string, urls []string) []string {
	if len(urls) == 0 {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.logger.Warn("image dir", zap.String("dir", dir), zap.Error(err))
		return nil
	}
	var saved []string
	for _, u := range urls {
		path, err := s.fetchOne(ctx, dir, u)
		if err != nil {
			s.logger.Warn("image fetch failed", zap.String("url", u), zap.Error(err))
			continue
		}
		saved = append(saved, path)
	}
	return saved
}

func (s *Store) fetchOne(ctx context.Context, dir, url string) (string, error) {
	resp, err := s.http.R().SetContext(ctx).Get(url)
	if err != nil {
		return "", fmt.Errorf("get image: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("get image: status %d", resp.StatusCode())
	}

	full := filepath.Join(dir, fileName(url))
	cleanDir := filepath.Clean(dir)
	if !strings.HasPrefix(filepath.Clean(full), cleanDir+string(filepath.Separator)) {
		return "", fmt.Errorf("image path escapes %s", cleanDir)
	}
	if err := os.WriteFile(full, resp.Body(), 0o644); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	return full, nil
}

// fileName keys the file on a digest of the url, keeping the original
// extension when it looks like one.
func fileName(url string) string {
	sum := sha256.Sum256([]byte(url))
	name := hex.EncodeToString(sum[:8])
	ext := ".jpg"
	trimmed := url
	if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
		trimmed = trimmed[:i]
	}
	if e := filepath.Ext(trimmed); e != "" && len(e) <= 5 {
		ext = e
	}
	return name + ext
}
