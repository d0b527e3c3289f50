package session

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/satchelhq/satchel/pkg/types"
)

// MockBlobStorage implements storage.BlobStorage for testing
type MockBlobStorage struct {
	mock.Mock
}

func (m *MockBlobStorage) Store(ctx context.Context, blobID string, content io.Reader, contentType string) error {
	args := m.Called(ctx, blobID, content, contentType)
	return args.Error(0)
}

func (m *MockBlobStorage) Retrieve(ctx context.Context, blobID string) (io.ReadCloser, error) {
	args := m.Called(ctx, blobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

func (m *MockBlobStorage) Delete(ctx context.Context, blobID string) error {
	args := m.Called(ctx, blobID)
	return args.Error(0)
}

func (m *MockBlobStorage) Exists(ctx context.Context, blobID string) (bool, error) {
	args := m.Called(ctx, blobID)
	return args.Bool(0), args.Error(1)
}

func (m *MockBlobStorage) Size(ctx context.Context, blobID string) (int64, error) {
	args := m.Called(ctx, blobID)
	return args.Get(0).(int64), args.Error(1)
}

func currentFiles() types.FileRefList {
	return types.FileRefList{
		{FileName: "slides.pdf", FileType: "application/pdf", BlobRef: "blob-a"},
		{FileName: "notes.txt", FileType: "text/plain", BlobRef: "blob-b"},
		{FileName: "diagram.png", FileType: "image/png", BlobRef: "blob-c"},
	}
}

func TestReconcile_AddOnly(t *testing.T) {
	blobs := new(MockBlobStorage)
	blobs.On("Store", mock.Anything, mock.AnythingOfType("string"), mock.Anything, mock.AnythingOfType("string")).Return(nil)

	r := NewReconciler(blobs)
	uploads := []types.Upload{
		{FileName: "chapter1.pdf", MediaType: "application/pdf", Content: []byte("pdf bytes")},
		{FileName: "../sneaky.txt", MediaType: "text/plain", Content: []byte("text")},
	}

	result, err := r.Reconcile(context.Background(), nil, nil, uploads)
	require.NoError(t, err)

	require.Len(t, result.Files, 2)
	assert.Equal(t, "chapter1.pdf", result.Files[0].FileName)
	assert.Equal(t, "application/pdf", result.Files[0].FileType)
	assert.Equal(t, "sneaky.txt", result.Files[1].FileName)

	assert.Len(t, result.Added, 2)
	assert.Empty(t, result.Removed)
	assert.NotEqual(t, result.Files[0].BlobRef, result.Files[1].BlobRef)

	blobs.AssertNumberOfCalls(t, "Store", 2)
}

func TestReconcile_KeepSubset(t *testing.T) {
	blobs := new(MockBlobStorage)
	r := NewReconciler(blobs)

	result, err := r.Reconcile(context.Background(), currentFiles(), []string{"blob-c", "blob-a"}, nil)
	require.NoError(t, err)

	// Kept files stay in their original list order, whatever order the
	// client declared them in.
	require.Len(t, result.Files, 2)
	assert.Equal(t, "blob-a", result.Files[0].BlobRef)
	assert.Equal(t, "blob-c", result.Files[1].BlobRef)
	assert.Equal(t, []string{"blob-b"}, result.Removed)
	assert.Empty(t, result.Added)

	blobs.AssertNotCalled(t, "Store", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	blobs.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}

func TestReconcile_StaleKeepEntryIgnored(t *testing.T) {
	blobs := new(MockBlobStorage)
	r := NewReconciler(blobs)

	result, err := r.Reconcile(context.Background(), currentFiles(), []string{"blob-a", "blob-deleted-long-ago"}, nil)
	require.NoError(t, err)

	require.Len(t, result.Files, 1)
	assert.Equal(t, "blob-a", result.Files[0].BlobRef)
	assert.ElementsMatch(t, []string{"blob-b", "blob-c"}, result.Removed)
}

func TestReconcile_EmptyKeepNoUploads(t *testing.T) {
	blobs := new(MockBlobStorage)
	r := NewReconciler(blobs)

	result, err := r.Reconcile(context.Background(), currentFiles(), nil, nil)
	require.NoError(t, err)

	assert.Empty(t, result.Files)
	assert.Len(t, result.Removed, 3)
}

func TestReconcile_KeepAllIsIdempotent(t *testing.T) {
	blobs := new(MockBlobStorage)
	r := NewReconciler(blobs)
	current := currentFiles()
	keep := current.BlobRefs()

	first, err := r.Reconcile(context.Background(), current, keep, nil)
	require.NoError(t, err)
	second, err := r.Reconcile(context.Background(), current, keep, nil)
	require.NoError(t, err)

	assert.Equal(t, current, first.Files)
	assert.Equal(t, first.Files, second.Files)
	assert.Empty(t, first.Removed)
	assert.Empty(t, first.Added)
}

func TestReconcile_PutFailureRollsBackStoredBlobs(t *testing.T) {
	blobs := new(MockBlobStorage)

	var firstBlob string
	blobs.On("Store", mock.Anything, mock.AnythingOfType("string"), mock.Anything, "text/plain").
		Return(nil).
		Once().
		Run(func(args mock.Arguments) {
			firstBlob = args.String(1)
		})
	blobs.On("Store", mock.Anything, mock.AnythingOfType("string"), mock.Anything, "text/plain").
		Return(errors.New("disk full")).
		Once()
	blobs.On("Delete", mock.Anything, mock.AnythingOfType("string")).Return(nil)

	r := NewReconciler(blobs)
	uploads := []types.Upload{
		{FileName: "one.txt", MediaType: "text/plain", Content: []byte("1")},
		{FileName: "two.txt", MediaType: "text/plain", Content: []byte("2")},
		{FileName: "three.txt", MediaType: "text/plain", Content: []byte("3")},
	}

	result, err := r.Reconcile(context.Background(), nil, nil, uploads)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, types.ErrStorageFailure)

	// The first blob was stored before the failure; it must be rolled back.
	blobs.AssertCalled(t, "Delete", mock.Anything, firstBlob)
	// The third upload is never attempted.
	blobs.AssertNumberOfCalls(t, "Store", 2)
}

func TestReleaseBlobs_SwallowsDeleteFailures(t *testing.T) {
	blobs := new(MockBlobStorage)
	blobs.On("Delete", mock.Anything, "blob-a").Return(errors.New("network partition"))
	blobs.On("Delete", mock.Anything, "blob-b").Return(nil)

	r := NewReconciler(blobs)
	r.ReleaseBlobs(context.Background(), []string{"blob-a", "blob-b"})

	blobs.AssertNumberOfCalls(t, "Delete", 2)
}
