// Package objectstore holds compiled scene artifacts. Handlers and the
// pipeline only see Store; main picks the driver from configuration.
package objectstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ASHISH26940/scene-orchestrator-api/pkg/config"
	"github.com/google/uuid"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("object not found")

// Store puts and gets immutable blobs addressed by key.
type Store interface {
	// Put writes data under key and returns its public URL.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	// URL is the public address of key, whether or not it exists.
	URL(key string) string
	// Key maps a URL produced by this store back to its key.
	Key(url string) (string, bool)
}

// ArtifactKey is the content-addressed key of a scene's compiled JS. The
// same code always lands on the same key, so URLs change exactly when the
// code does.
func ArtifactKey(sceneID uuid.UUID, js string) string {
	sum := sha256.Sum256([]byte(js))
	return fmt.Sprintf("scenes/%s/%s.js", sceneID, hex.EncodeToString(sum[:]))
}

// New builds the store cfg selects.
func New(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.StorageDriver {
	case "", "local":
		return NewLocalStore(cfg.StorageDir, cfg.StorageBaseURL)
	case "gcs":
		return NewGCSStore(ctx, cfg.GCSBucket, cfg.GCSCredentialsFile)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}

func trimKey(base, url string) (string, bool) {
	prefix := strings.TrimRight(base, "/") + "/"
	if !strings.HasPrefix(url, prefix) {
		return "", false
	}
	key := strings.TrimPrefix(url, prefix)
	if i := strings.IndexAny(key, "?#"); i >= 0 {
		key = key[:i]
	}
	return key, key != ""
}
