package storage

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/glimpse/backend/internal/config"
)

func TestLocalStoragePutAndURL(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStorage(dir, "/media")
	if err != nil {
		t.Fatalf("NewLocalStorage() error = %v", err)
	}

	ref, err := store.Put(context.Background(), "/videos/v1.mp4", strings.NewReader("clip"), "video/mp4")
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if ref != "videos/v1.mp4" {
		t.Fatalf("unexpected ref %q", ref)
	}
	data, err := os.ReadFile(filepath.Join(dir, "videos", "v1.mp4"))
	if err != nil || string(data) != "clip" {
		t.Fatalf("unexpected file contents %q (%v)", data, err)
	}

	got, err := store.URL(context.Background(), ref)
	if err != nil {
		t.Fatalf("URL() error = %v", err)
	}
	if got != "/media/videos/v1.mp4" {
		t.Fatalf("unexpected url %q", got)
	}
}

func TestLocalStorageRejectsEscapingKeys(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir(), "/media")
	if err != nil {
		t.Fatalf("NewLocalStorage() error = %v", err)
	}
	for _, key := range []string{"", "../secret", "a/../../b"} {
		if _, err := store.Put(context.Background(), key, strings.NewReader("x"), ""); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("key %q: expected ErrInvalidKey got %v", key, err)
		}
	}
}

func TestLocalStorageCanceledWrite(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStorage(dir, "/media")
	if err != nil {
		t.Fatalf("NewLocalStorage() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := store.Put(ctx, "videos/v1.mp4", strings.NewReader("clip"), ""); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "videos", "v1.mp4")); !os.IsNotExist(err) {
		t.Fatalf("expected no object after canceled write, stat err = %v", err)
	}
}

func testS3Client(endpoint string) *s3.Client {
	return s3.New(s3.Options{
		Region:       "us-east-1",
		BaseEndpoint: aws.String(endpoint),
		UsePathStyle: true,
		Credentials: aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return aws.Credentials{AccessKeyID: "AKIDEXAMPLE", SecretAccessKey: "secret"}, nil
		}),
	})
}

func TestS3StoragePut(t *testing.T) {
	var (
		mu    sync.Mutex
		calls []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls = append(calls, r.Method+" "+r.URL.Path)
		mu.Unlock()
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := NewS3StorageFromClient(testS3Client(server.URL), config.ObjectStoreConfig{Bucket: "clips"})
	ref, err := store.Put(context.Background(), "videos/v1.mp4", bytes.NewReader([]byte("clip")), "video/mp4")
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if ref != "videos/v1.mp4" {
		t.Fatalf("unexpected ref %q", ref)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 1 || calls[0] != "PUT /clips/videos/v1.mp4" {
		t.Fatalf("unexpected requests %v", calls)
	}
}

func TestS3StorageURL(t *testing.T) {
	client := testS3Client("http://localhost:9000")

	public := NewS3StorageFromClient(client, config.ObjectStoreConfig{Bucket: "clips", PublicBaseURL: "https://cdn.example.com/"})
	got, err := public.URL(context.Background(), "videos/v1.mp4")
	if err != nil {
		t.Fatalf("URL() error = %v", err)
	}
	if got != "https://cdn.example.com/videos/v1.mp4" {
		t.Fatalf("unexpected public url %q", got)
	}

	private := NewS3StorageFromClient(client, config.ObjectStoreConfig{Bucket: "clips", PresignTTL: 5 * time.Minute})
	got, err = private.URL(context.Background(), "videos/v1.mp4")
	if err != nil {
		t.Fatalf("URL() error = %v", err)
	}
	if !strings.HasPrefix(got, "http://localhost:9000/clips/videos/v1.mp4?") {
		t.Fatalf("unexpected presigned url %q", got)
	}
	for _, param := range []string{"X-Amz-Signature=", "X-Amz-Expires=300"} {
		if !strings.Contains(got, param) {
			t.Fatalf("presigned url %q missing %s", got, param)
		}
	}
}
