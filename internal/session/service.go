package session

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/satchelhq/satchel/internal/common"
	"github.com/satchelhq/satchel/internal/storage"
	"github.com/satchelhq/satchel/pkg/types"
)

// Service exposes create/read/update/delete over sessions. It enforces
// ownership and drives the reconciler and the metadata store so each
// operation either fully succeeds or leaves the visible session state
// unchanged. Dependencies are injected at construction; there is no lazily
// initialized shared state.
type Service struct {
	store      *Store
	blobs      storage.BlobStorage
	reconciler *Reconciler
}

// NewService creates a session service over the given database and storage
func NewService(db *common.Database, blobs storage.BlobStorage) *Service {
	return &Service{
		store:      NewStore(db),
		blobs:      blobs,
		reconciler: NewReconciler(blobs),
	}
}

// CreateInput carries everything needed to create a session
type CreateInput struct {
	Name           string
	Description    string
	Instructions   string
	Uploads        []types.Upload
	GenerationList []string
	ConfigMap      map[string]interface{}
}

// UpdateInput carries a session update. Nil text fields are left untouched;
// KeepBlobRefs declares which of the current files survive. A nil KeepBlobRefs
// keeps every current file, an empty non-nil one drops them all.
type UpdateInput struct {
	Name         *string
	Description  *string
	Instructions *string
	KeepBlobRefs []string
	Uploads      []types.Upload
}

// Create stores all uploads as fresh blobs and appends a new session to the
// user's list. If any upload fails to store, blobs already stored by this
// call are rolled back and no session becomes visible.
func (s *Service) Create(ctx context.Context, userID uuid.UUID, in CreateInput) (*types.Session, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("%w: session name must not be empty", types.ErrInvalidInput)
	}

	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	// Add-only reconcile: no current files, nothing kept.
	result, err := s.reconciler.Reconcile(ctx, nil, nil, in.Uploads)
	if err != nil {
		return nil, err
	}

	session := &types.Session{
		ID:             uuid.New(),
		UserID:         userID,
		Name:           strings.TrimSpace(in.Name),
		Description:    in.Description,
		Instructions:   in.Instructions,
		Files:          result.Files,
		GenerationList: in.GenerationList,
		ConfigMap:      in.ConfigMap,
	}

	if err := s.store.AppendSession(ctx, session); err != nil {
		// The session never became visible; release the blobs stored above.
		s.reconciler.ReleaseBlobs(ctx, result.Added)
		return nil, err
	}

	log.Info().
		Str("user_id", userID.String()).
		Str("session_id", session.ID.String()).
		Int("file_count", len(session.Files)).
		Msg("session created")

	return session, nil
}

// Get returns one of the user's sessions
func (s *Service) Get(ctx context.Context, userID, sessionID uuid.UUID) (*types.Session, error) {
	return s.store.GetSession(ctx, userID, sessionID)
}

// List returns all of the user's sessions in creation order
func (s *Service) List(ctx context.Context, userID uuid.UUID) ([]types.Session, error) {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.store.ListSessions(ctx, userID)
}

// Update reconciles the session's file set against the declared keep list
// and new uploads, then atomically rewrites name, description, instructions
// and files. Dropped blobs are released only after the new list has been
// persisted, so a failed write never leaves the session pointing at deleted
// blobs. Concurrent updates to the same session are last-writer-wins.
func (s *Service) Update(ctx context.Context, userID, sessionID uuid.UUID, in UpdateInput) (*types.Session, error) {
	if in.Name != nil && strings.TrimSpace(*in.Name) == "" {
		return nil, fmt.Errorf("%w: session name must not be empty", types.ErrInvalidInput)
	}

	current, err := s.store.GetSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	keep := in.KeepBlobRefs
	if keep == nil {
		keep = current.Files.BlobRefs()
	}

	result, err := s.reconciler.Reconcile(ctx, current.Files, keep, in.Uploads)
	if err != nil {
		return nil, err
	}

	updated, err := s.store.UpdateSession(ctx, userID, sessionID, func(session *types.Session) error {
		if in.Name != nil {
			session.Name = strings.TrimSpace(*in.Name)
		}
		if in.Description != nil {
			session.Description = *in.Description
		}
		if in.Instructions != nil {
			session.Instructions = *in.Instructions
		}
		session.Files = result.Files
		return nil
	})
	if err != nil {
		// Nothing was persisted; the freshly stored uploads are unreferenced.
		s.reconciler.ReleaseBlobs(ctx, result.Added)
		return nil, err
	}

	s.reconciler.ReleaseBlobs(ctx, result.Removed)

	log.Info().
		Str("user_id", userID.String()).
		Str("session_id", sessionID.String()).
		Int("kept", len(result.Files)-len(result.Added)).
		Int("added", len(result.Added)).
		Int("removed", len(result.Removed)).
		Msg("session updated")

	return updated, nil
}

// Delete removes the session from the user's list, then releases its blobs
// best-effort. Metadata goes first: a crash between the two steps leaks
// unreferenced blobs, which the reclamation sweep can pick up, but never
// leaves a session referencing a missing blob.
func (s *Service) Delete(ctx context.Context, userID, sessionID uuid.UUID) error {
	session, err := s.store.GetSession(ctx, userID, sessionID)
	if err != nil {
		return err
	}

	if err := s.store.RemoveSession(ctx, userID, sessionID); err != nil {
		return err
	}

	s.reconciler.ReleaseBlobs(ctx, session.Files.BlobRefs())

	log.Info().
		Str("user_id", userID.String()).
		Str("session_id", sessionID.String()).
		Int("file_count", len(session.Files)).
		Msg("session deleted")

	return nil
}

// OpenFile streams one of the session's files. The blob reference must be
// listed by the owner's session; anything else is ErrNotFound.
func (s *Service) OpenFile(ctx context.Context, userID, sessionID uuid.UUID, blobRef string) (io.ReadCloser, *types.FileRef, error) {
	session, err := s.store.GetSession(ctx, userID, sessionID)
	if err != nil {
		return nil, nil, err
	}

	var ref *types.FileRef
	for i := range session.Files {
		if session.Files[i].BlobRef == blobRef {
			ref = &session.Files[i]
			break
		}
	}
	if ref == nil {
		return nil, nil, fmt.Errorf("%w: file %s", types.ErrNotFound, blobRef)
	}

	reader, err := s.blobs.Retrieve(ctx, blobRef)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: retrieving blob %s: %v", types.ErrStorageFailure, blobRef, err)
	}

	return reader, ref, nil
}
