package session

import (
	"bytes"
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/satchelhq/satchel/internal/storage"
	"github.com/satchelhq/satchel/pkg/types"
	"github.com/satchelhq/satchel/pkg/utils"
)

// Reconciler moves a session's file set from its current state to a
// client-declared desired state: kept blob references plus newly uploaded
// payloads. It owns every blob store mutation; the caller persists the
// resulting file list.
type Reconciler struct {
	blobs storage.BlobStorage
}

// NewReconciler creates a reconciler over the given blob storage
func NewReconciler(blobs storage.BlobStorage) *Reconciler {
	return &Reconciler{blobs: blobs}
}

// ReconcileResult is the outcome of a reconcile pass. Removed blobs are NOT
// deleted yet: the caller releases them only after the new file list has been
// persisted, so a failed metadata write never leaves the session referencing
// a deleted blob.
type ReconcileResult struct {
	// Files is the new file list: kept entries in their original order,
	// then new uploads in submission order.
	Files types.FileRefList

	// Added holds blob references stored by this pass.
	Added []string

	// Removed holds blob references dropped from the session.
	Removed []string
}

// Reconcile stores every upload under a fresh blob reference and computes the
// session's new file list. A keep entry that is not in the current list is
// ignored; stale client state cannot resurrect a deleted blob. If storing any
// upload fails, blobs already stored by this call are rolled back and the
// whole pass aborts before anything is persisted.
func (r *Reconciler) Reconcile(ctx context.Context, current types.FileRefList, keepBlobRefs []string, uploads []types.Upload) (*ReconcileResult, error) {
	keep := make(map[string]bool, len(keepBlobRefs))
	for _, ref := range keepBlobRefs {
		if current.Contains(ref) {
			keep[ref] = true
		}
	}

	result := &ReconcileResult{
		Files: make(types.FileRefList, 0, len(keep)+len(uploads)),
	}

	for _, file := range current {
		if keep[file.BlobRef] {
			result.Files = append(result.Files, file)
		} else {
			result.Removed = append(result.Removed, file.BlobRef)
		}
	}

	for _, upload := range uploads {
		blobRef := uuid.New().String()

		if err := r.blobs.Store(ctx, blobRef, bytes.NewReader(upload.Content), upload.MediaType); err != nil {
			log.Error().Err(err).
				Str("blob_id", blobRef).
				Str("file_name", upload.FileName).
				Msg("failed to store upload")
			r.ReleaseBlobs(ctx, result.Added)
			return nil, fmt.Errorf("%w: storing upload %q: %v", types.ErrStorageFailure, upload.FileName, err)
		}

		result.Added = append(result.Added, blobRef)
		result.Files = append(result.Files, types.FileRef{
			FileName: utils.SanitizeFileName(upload.FileName),
			FileType: upload.MediaType,
			BlobRef:  blobRef,
		})
	}

	return result, nil
}

// ReleaseBlobs deletes the given blobs best-effort. A blob the session no
// longer references being left behind is a leak for the reclamation sweep,
// not a correctness problem, so failures are logged and swallowed.
func (r *Reconciler) ReleaseBlobs(ctx context.Context, blobRefs []string) {
	for _, ref := range blobRefs {
		if err := r.blobs.Delete(ctx, ref); err != nil {
			log.Warn().Err(err).Str("blob_id", ref).Msg("failed to delete unreferenced blob; leaking")
		}
	}
}
