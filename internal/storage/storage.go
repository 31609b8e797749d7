// Package storage keeps uploaded contract files on local disk or in MinIO.
package storage

import (
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/conrisk/internal/domain"
)

var ErrObjectNotFound = errors.New("object not found")

// New creates a file store based on configuration.
func New(cfg domain.StorageConfig) (domain.FileStore, error) {
	switch cfg.Type {
	case "local", "":
		return NewLocalStore(cfg.UploadDir)
	case "minio":
		return NewMinIOStore(cfg)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// SanitizeFilename builds the stored name of an upload:
// <unix millis>-<base64url(basename)><ext>. The original name survives
// encoded, so non-ASCII titles never reach the file system or object keys.
func SanitizeFilename(name string, now time.Time) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	encoded := base64.RawURLEncoding.EncodeToString([]byte(base))
	return strconv.FormatInt(now.UnixMilli(), 10) + "-" + encoded + ext
}

// OriginalFilename recovers the upload name from a key produced by
// SanitizeFilename. It reports false for keys in any other shape.
func OriginalFilename(key string) (string, bool) {
	ts, rest, ok := strings.Cut(key, "-")
	if !ok {
		return "", false
	}
	if _, err := strconv.ParseInt(ts, 10, 64); err != nil {
		return "", false
	}

	ext := filepath.Ext(rest)
	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimSuffix(rest, ext))
	if err != nil {
		return "", false
	}
	return string(decoded) + ext, true
}

// ValidKey rejects keys that could escape the store root.
func ValidKey(key string) error {
	if key == "" || key != filepath.Base(key) || key == "." || key == ".." {
		return fmt.Errorf("invalid object key %q", key)
	}
	return nil
}
