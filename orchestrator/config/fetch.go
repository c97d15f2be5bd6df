package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	getter "github.com/hashicorp/go-getter"
)

const fetchTimeout = 60 * time.Second

// IsRemote reports whether src names a go-getter source rather than a
// local file.
func IsRemote(src string) bool {
	return strings.Contains(src, "::") ||
		strings.Contains(src, "://") ||
		strings.HasPrefix(src, "github.com/")
}

// Fetch downloads a single config file from src into dir and returns its
// local path. src takes go-getter syntax, e.g.
// "https://example.com/orchestrator.toml" or
// "git::https://github.com/org/deploy.git//orchestrator.toml?ref=v1".
func Fetch(ctx context.Context, src, dir string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	dst := filepath.Join(dir, "orchestrator.toml")
	client := getter.Client{
		Ctx:  ctx,
		Src:  src,
		Dst:  dst,
		Mode: getter.ClientModeFile,
		Detectors: []getter.Detector{
			&getter.GitHubDetector{},
			&getter.GitDetector{},
			&getter.S3Detector{},
		},
		Getters: map[string]getter.Getter{
			"http":  &getter.HttpGetter{},
			"https": &getter.HttpGetter{},
			"git":   &getter.GitGetter{},
			"s3":    &getter.S3Getter{},
		},
	}
	if err := client.Get(); err != nil {
		return "", fmt.Errorf("failed to fetch config from %s: %w", src, err)
	}
	return dst, nil
}

// LoadSource loads a local path or fetches and loads a remote source.
func (l *Loader) LoadSource(ctx context.Context, src string) (*Config, error) {
	if !IsRemote(src) {
		return l.Load(src)
	}
	dir, err := os.MkdirTemp("", "wrap-config-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	path, err := Fetch(ctx, src, dir)
	if err != nil {
		return nil, err
	}
	return l.Load(path)
}
