package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// LocalStorage implements BlobStorage on the local filesystem
type LocalStorage struct {
	basePath string
	mutex    sync.RWMutex
}

// NewLocalStorage creates a new local storage instance
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		log.Error().Err(err).Str("path", basePath).Msg("failed to create storage directory")
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	log.Info().Str("path", basePath).Msg("local blob storage initialized")
	return &LocalStorage{
		basePath: basePath,
	}, nil
}

// blobPath fans blobs out over two directory levels keyed by the identifier
// prefix so no single directory accumulates every blob.
func (ls *LocalStorage) blobPath(blobID string) string {
	if len(blobID) < 4 {
		return filepath.Join(ls.basePath, blobID)
	}
	return filepath.Join(ls.basePath, blobID[0:2], blobID[2:4], blobID)
}

// Store writes a blob with an atomic temp-file rename and logs its checksum
func (ls *LocalStorage) Store(ctx context.Context, blobID string, content io.Reader, contentType string) error {
	startTime := time.Now()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	ls.mutex.Lock()
	defer ls.mutex.Unlock()

	fullPath := ls.blobPath(blobID)

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		log.Error().Err(err).Str("blob_id", blobID).Msg("failed to create blob directory")
		return fmt.Errorf("failed to create blob directory: %w", err)
	}

	tempPath := fullPath + ".tmp." + fmt.Sprintf("%d", time.Now().UnixNano())
	tempFile, err := os.Create(tempPath)
	if err != nil {
		log.Error().Err(err).Str("blob_id", blobID).Msg("failed to create temporary file")
		return fmt.Errorf("failed to create temporary file: %w", err)
	}

	defer func() {
		tempFile.Close()
		if _, err := os.Stat(tempPath); err == nil {
			os.Remove(tempPath)
		}
	}()

	hasher := sha256.New()
	bytesWritten, err := io.Copy(io.MultiWriter(tempFile, hasher), content)
	if err != nil {
		log.Error().Err(err).Str("blob_id", blobID).Msg("failed to write blob content")
		return fmt.Errorf("failed to write content: %w", err)
	}

	if err := tempFile.Sync(); err != nil {
		log.Error().Err(err).Str("blob_id", blobID).Msg("failed to sync temporary file")
		return fmt.Errorf("failed to sync temporary file: %w", err)
	}

	tempFile.Close()

	if err := os.Rename(tempPath, fullPath); err != nil {
		log.Error().Err(err).Str("blob_id", blobID).Msg("failed to move blob into place")
		return fmt.Errorf("failed to move blob into place: %w", err)
	}

	log.Info().
		Str("blob_id", blobID).
		Str("content_type", contentType).
		Int64("bytes_written", bytesWritten).
		Str("checksum", hex.EncodeToString(hasher.Sum(nil))).
		Dur("duration", time.Since(startTime)).
		Msg("blob stored")

	return nil
}

// Retrieve opens a stored blob for reading
func (ls *LocalStorage) Retrieve(ctx context.Context, blobID string) (io.ReadCloser, error) {
	ls.mutex.RLock()
	defer ls.mutex.RUnlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	file, err := os.Open(ls.blobPath(blobID))
	if err != nil {
		if os.IsNotExist(err) {
			log.Debug().Str("blob_id", blobID).Msg("blob not found")
			return nil, fmt.Errorf("blob not found: %s", blobID)
		}
		log.Error().Err(err).Str("blob_id", blobID).Msg("failed to open blob")
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}

	return file, nil
}

// Delete removes a blob; an absent blob is treated as already deleted
func (ls *LocalStorage) Delete(ctx context.Context, blobID string) error {
	ls.mutex.Lock()
	defer ls.mutex.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := os.Remove(ls.blobPath(blobID)); err != nil {
		if os.IsNotExist(err) {
			log.Debug().Str("blob_id", blobID).Msg("blob already deleted or does not exist")
			return nil
		}
		log.Error().Err(err).Str("blob_id", blobID).Msg("failed to delete blob")
		return fmt.Errorf("failed to delete blob: %w", err)
	}

	log.Info().Str("blob_id", blobID).Msg("blob deleted")
	return nil
}

// Exists checks whether a blob is present
func (ls *LocalStorage) Exists(ctx context.Context, blobID string) (bool, error) {
	ls.mutex.RLock()
	defer ls.mutex.RUnlock()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}

	_, err := os.Stat(ls.blobPath(blobID))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		log.Error().Err(err).Str("blob_id", blobID).Msg("failed to check blob existence")
		return false, fmt.Errorf("failed to check blob existence: %w", err)
	}

	return true, nil
}

// Size returns the stored size of a blob
func (ls *LocalStorage) Size(ctx context.Context, blobID string) (int64, error) {
	ls.mutex.RLock()
	defer ls.mutex.RUnlock()

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	info, err := os.Stat(ls.blobPath(blobID))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("blob not found: %s", blobID)
		}
		log.Error().Err(err).Str("blob_id", blobID).Msg("failed to stat blob")
		return 0, fmt.Errorf("failed to stat blob: %w", err)
	}

	return info.Size(), nil
}
