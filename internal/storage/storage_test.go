package storage

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/conrisk/internal/domain"
)

func TestSanitizeFilename(t *testing.T) {
	now := time.UnixMilli(1700000000123)

	key := SanitizeFilename("采购合同(最终版).pdf", now)
	assert.True(t, strings.HasPrefix(key, "1700000000123-"))
	assert.True(t, strings.HasSuffix(key, ".pdf"))
	assert.NotContains(t, key, "/")
	assert.NoError(t, ValidKey(key))

	name, ok := OriginalFilename(key)
	require.True(t, ok)
	assert.Equal(t, "采购合同(最终版).pdf", name)

	t.Run("StripsDirectories", func(t *testing.T) {
		key := SanitizeFilename(`..\..\etc\合同.docx`, now)
		name, ok := OriginalFilename(key)
		require.True(t, ok)
		assert.Equal(t, "合同.docx", name)
	})

	t.Run("NoExtension", func(t *testing.T) {
		key := SanitizeFilename("contract", now)
		name, ok := OriginalFilename(key)
		require.True(t, ok)
		assert.Equal(t, "contract", name)
	})

	t.Run("ForeignKey", func(t *testing.T) {
		_, ok := OriginalFilename("upload.pdf")
		assert.False(t, ok)
	})
}

func TestLocalStore(t *testing.T) {
	store, err := New(domain.StorageConfig{Type: "local", UploadDir: t.TempDir()})
	require.NoError(t, err)

	ctx := context.Background()
	key := SanitizeFilename("合同.pdf", time.Now())

	t.Run("PutAndGet", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, key, strings.NewReader("%PDF-1.4"), 8, "application/pdf"))

		rc, err := store.Get(ctx, key)
		require.NoError(t, err)
		defer rc.Close()

		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, "%PDF-1.4", string(data))
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := store.Get(ctx, "missing.pdf")
		assert.ErrorIs(t, err, ErrObjectNotFound)
	})

	t.Run("RejectsTraversal", func(t *testing.T) {
		assert.Error(t, store.Put(ctx, "../escape.pdf", strings.NewReader("x"), 1, ""))
		_, err := store.Get(ctx, "a/b.pdf")
		assert.Error(t, err)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, key))
		_, err := store.Get(ctx, key)
		assert.ErrorIs(t, err, ErrObjectNotFound)

		assert.NoError(t, store.Delete(ctx, key))
	})
}

func TestNewUnsupported(t *testing.T) {
	_, err := New(domain.StorageConfig{Type: "ftp"})
	assert.Error(t, err)
}
