package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/satchelhq/satchel/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStorage(t *testing.T) *LocalStorage {
	t.Helper()
	storage, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return storage
}

func createTempFile(t *testing.T) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "not-a-dir")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}

func TestNewLocalStorage(t *testing.T) {
	tests := []struct {
		name        string
		basePath    string
		shouldError bool
	}{
		{
			name:        "valid path",
			basePath:    t.TempDir(),
			shouldError: false,
		},
		{
			name:        "non-existent path",
			basePath:    filepath.Join(t.TempDir(), "nested", "path"),
			shouldError: false,
		},
		{
			name:        "invalid path (file instead of directory)",
			basePath:    createTempFile(t),
			shouldError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage, err := NewLocalStorage(tt.basePath)

			if tt.shouldError {
				assert.Error(t, err)
				assert.Nil(t, storage)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, storage)

				info, err := os.Stat(tt.basePath)
				assert.NoError(t, err)
				assert.True(t, info.IsDir())
			}
		})
	}
}

func TestLocalStorage_StoreAndRetrieve(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	blobID := uuid.New().String()
	content := "lecture notes, chapter one"

	err := storage.Store(ctx, blobID, strings.NewReader(content), "text/plain")
	require.NoError(t, err)

	exists, err := storage.Exists(ctx, blobID)
	require.NoError(t, err)
	assert.True(t, exists)

	size, err := storage.Size(ctx, blobID)
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), size)

	reader, err := storage.Retrieve(ctx, blobID)
	require.NoError(t, err)
	defer reader.Close()

	got, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, content, string(got))
}

func TestLocalStorage_FanOutPath(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	blobID := "abcdef01-2345-6789-abcd-ef0123456789"
	require.NoError(t, storage.Store(ctx, blobID, strings.NewReader("x"), "text/plain"))

	// Blobs land two directory levels down, keyed by the identifier prefix.
	_, err := os.Stat(filepath.Join(storage.basePath, "ab", "cd", blobID))
	assert.NoError(t, err)
}

func TestLocalStorage_Retrieve_NotFound(t *testing.T) {
	storage := setupTestStorage(t)

	_, err := storage.Retrieve(context.Background(), uuid.New().String())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "blob not found")
}

func TestLocalStorage_Delete(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	blobID := uuid.New().String()
	require.NoError(t, storage.Store(ctx, blobID, strings.NewReader("content"), "text/plain"))

	require.NoError(t, storage.Delete(ctx, blobID))

	exists, err := storage.Exists(ctx, blobID)
	require.NoError(t, err)
	assert.False(t, exists)

	// Double delete is a no-op, not an error.
	assert.NoError(t, storage.Delete(ctx, blobID))
}

func TestLocalStorage_ConcurrentStores(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	const n = 16
	var wg sync.WaitGroup
	ids := make([]string, n)
	for i := range ids {
		ids[i] = uuid.New().String()
	}

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(blobID string) {
			defer wg.Done()
			assert.NoError(t, storage.Store(ctx, blobID, strings.NewReader("payload"), "application/octet-stream"))
		}(ids[i])
	}
	wg.Wait()

	for _, blobID := range ids {
		exists, err := storage.Exists(ctx, blobID)
		require.NoError(t, err)
		assert.True(t, exists)
	}
}

func TestLocalStorage_CancelledContext(t *testing.T) {
	storage := setupTestStorage(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := storage.Store(ctx, uuid.New().String(), strings.NewReader("content"), "text/plain")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFactory_CreateStorage(t *testing.T) {
	t.Run("local", func(t *testing.T) {
		factory := NewFactory(&config.StorageConfig{Type: "local", LocalPath: t.TempDir()})
		storage, err := factory.CreateStorage()
		assert.NoError(t, err)
		assert.NotNil(t, storage)
	})

	t.Run("unsupported", func(t *testing.T) {
		factory := NewFactory(&config.StorageConfig{Type: "s3", LocalPath: t.TempDir()})
		storage, err := factory.CreateStorage()
		assert.Error(t, err)
		assert.Nil(t, storage)
	})
}
