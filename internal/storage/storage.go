// Package storage persists uploaded media and resolves download URLs.
package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
)

// ErrInvalidKey is returned for empty keys or keys escaping the store root.
var ErrInvalidKey = errors.New("invalid blob key")

// BlobStore writes media objects and hands out URLs clients can fetch them from.
type BlobStore interface {
	// Put stores r under key and returns the reference to record on the video.
	Put(ctx context.Context, key string, r io.Reader, contentType string) (string, error)
	// URL resolves a stored reference to a fetchable URL.
	URL(ctx context.Context, ref string) (string, error)
}

func cleanKey(key string) (string, error) {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if key == "" {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrInvalidKey
	}
	return cleaned, nil
}
