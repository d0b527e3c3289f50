package storage

import (
	"context"
	"io"
)

// BlobStorage is the capability the session core consumes for file payloads.
// Blob identifiers are minted by the caller, one per upload, and never
// reused. Delete of an unknown blob is a no-op so that racing deletions of
// the same blob stay harmless.
type BlobStorage interface {
	// Store saves content under the given blob identifier
	Store(ctx context.Context, blobID string, content io.Reader, contentType string) error

	// Retrieve opens the content stored under the given blob identifier
	Retrieve(ctx context.Context, blobID string) (io.ReadCloser, error)

	// Delete removes the blob; deleting an absent blob is not an error
	Delete(ctx context.Context, blobID string) error

	// Exists checks whether a blob is present
	Exists(ctx context.Context, blobID string) (bool, error)

	// Size returns the stored size of a blob in bytes
	Size(ctx context.Context, blobID string) (int64, error)
}
