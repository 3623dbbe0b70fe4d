package blobstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openclaw/leasepool-server-go/internal/model"
)

var ErrDisabled = errors.New("blob store is not configured")

type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Delete(ctx context.Context, key string) error
	// URL returns a public URL for key, or "" when no public base is configured.
	URL(key string) string
}

// Key is the deterministic object path for a record's cookie blob.
func Key(kind model.Kind, id int64) string {
	return fmt.Sprintf("cookies/%s/%d.json", kind, id)
}

func publicURL(base, key string) string {
	if base == "" {
		return ""
	}
	return strings.TrimRight(base, "/") + "/" + key
}

// Disabled rejects writes; it stands in when no endpoint is configured.
type Disabled struct{}

func (Disabled) Put(ctx context.Context, key string, data []byte, contentType string) error {
	return ErrDisabled
}

func (Disabled) Delete(ctx context.Context, key string) error {
	return nil
}

func (Disabled) URL(key string) string {
	return ""
}
