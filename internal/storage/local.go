package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// LocalStorage implements BlobStore on a directory, for development and the
// memory store mode. URLs point at BaseURL, which the HTTP server maps back
// onto the directory.
type LocalStorage struct {
	dir     string
	baseURL string
}

// NewLocalStorage creates dir if needed.
func NewLocalStorage(dir, baseURL string) (*LocalStorage, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("local storage: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("local storage: %w", err)
	}
	return &LocalStorage{dir: dir, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

// Dir is the root directory objects are written under.
func (l *LocalStorage) Dir() string {
	return l.dir
}

// Put writes r to a temporary file and renames it into place so readers
// never see a partial object.
func (l *LocalStorage) Put(ctx context.Context, key string, r io.Reader, _ string) (string, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", fmt.Errorf("local storage: %w", err)
	}
	target := filepath.Join(l.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("local storage: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("local storage: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, contextReader{ctx: ctx, r: r}); err != nil {
		tmp.Close()
		return "", fmt.Errorf("local storage write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("local storage write %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", fmt.Errorf("local storage write %s: %w", key, err)
	}
	return key, nil
}

// URL joins ref onto the base URL.
func (l *LocalStorage) URL(_ context.Context, ref string) (string, error) {
	key, err := cleanKey(ref)
	if err != nil {
		return "", fmt.Errorf("local storage: %w", err)
	}
	return url.JoinPath(l.baseURL+"/", key)
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
