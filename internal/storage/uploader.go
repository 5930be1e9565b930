package storage

import (
	"context"
	"fmt"
	"path"
	"strings"
)

// Uploader stores a blob and returns a URL downstream providers can fetch.
type Uploader interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
	// Delete removes the blob under key. A missing blob is not an error.
	Delete(ctx context.Context, key string) error
}

var imageExtensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
	"image/gif":  "gif",
}

// ProductImageKey returns the object key for a job's product photo.
func ProductImageKey(userID, jobID, contentType, filename string) string {
	ext, ok := imageExtensions[strings.ToLower(contentType)]
	if !ok {
		ext = strings.TrimPrefix(strings.ToLower(path.Ext(filename)), ".")
	}
	if ext == "" {
		ext = "bin"
	}
	return fmt.Sprintf("products/%s/%s.%s", safeSegment(userID), jobID, ext)
}

func safeSegment(s string) string {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(s)
	if s == "" {
		return "anonymous"
	}
	return s
}
