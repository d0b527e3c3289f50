package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/satchelhq/satchel/internal/common"
	"github.com/satchelhq/satchel/pkg/types"
)

// Store is the metadata repository for users and their sessions. Sessions
// live in their own table keyed by (id, user_id), so a per-session write is
// a single-row update and concurrent writes to different sessions of the
// same user cannot clobber each other. Concurrent writes to the same session
// are last-writer-wins; that policy is deliberate and documented, not a bug.
type Store struct {
	db *common.Database
}

// NewStore creates a metadata store over the given database
func NewStore(db *common.Database) *Store {
	return &Store{db: db}
}

// GetUser loads a user by id
func (s *Store) GetUser(ctx context.Context, userID uuid.UUID) (*types.User, error) {
	var user types.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: user %s", types.ErrNotFound, userID)
		}
		return nil, fmt.Errorf("%w: loading user: %v", types.ErrStorageFailure, err)
	}
	return &user, nil
}

// GetSession loads one session scoped to its owner. A session that exists
// but belongs to someone else surfaces the same ErrNotFound as one that does
// not exist, so callers cannot probe for other users' sessions.
func (s *Store) GetSession(ctx context.Context, userID, sessionID uuid.UUID) (*types.Session, error) {
	var session types.Session
	err := s.db.WithContext(ctx).
		First(&session, "id = ? AND user_id = ?", sessionID, userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: session %s", types.ErrNotFound, sessionID)
		}
		return nil, fmt.Errorf("%w: loading session: %v", types.ErrStorageFailure, err)
	}
	return &session, nil
}

// ListSessions returns a user's sessions in creation order
func (s *Store) ListSessions(ctx context.Context, userID uuid.UUID) ([]types.Session, error) {
	var sessions []types.Session
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at, id").
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("%w: listing sessions: %v", types.ErrStorageFailure, err)
	}
	return sessions, nil
}

// AppendSession inserts a new session for its owner
func (s *Store) AppendSession(ctx context.Context, session *types.Session) error {
	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return fmt.Errorf("%w: appending session: %v", types.ErrStorageFailure, err)
	}
	return nil
}

// UpdateSession applies mutate to the owner's session and writes the result
// back in one transaction. The whole row is rewritten; nothing is committed
// if the mutator or the write fails.
func (s *Store) UpdateSession(ctx context.Context, userID, sessionID uuid.UUID, mutate func(*types.Session) error) (*types.Session, error) {
	var session types.Session

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&session, "id = ? AND user_id = ?", sessionID, userID).Error; err != nil {
			return err
		}
		if err := mutate(&session); err != nil {
			return err
		}
		return tx.Save(&session).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: session %s", types.ErrNotFound, sessionID)
		}
		if errors.Is(err, types.ErrInvalidInput) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: updating session: %v", types.ErrStorageFailure, err)
	}
	return &session, nil
}

// RemoveSession deletes the owner's session row
func (s *Store) RemoveSession(ctx context.Context, userID, sessionID uuid.UUID) error {
	result := s.db.WithContext(ctx).
		Delete(&types.Session{}, "id = ? AND user_id = ?", sessionID, userID)
	if result.Error != nil {
		return fmt.Errorf("%w: removing session: %v", types.ErrStorageFailure, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: session %s", types.ErrNotFound, sessionID)
	}
	return nil
}
