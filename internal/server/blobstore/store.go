// Package blobstore keeps encrypted envelopes in object storage, addressed
// by opaque keys.
package blobstore

import (
	"context"
	"time"
)

// Store is the blob store contract the archive core relies on. Missing
// keys are reported as common.ErrorNotFound.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	// PresignGet returns a temporary URL that fetches key without further
	// credentials until ttl elapses.
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}
