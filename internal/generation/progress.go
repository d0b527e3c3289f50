package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/satchelhq/satchel/internal/common"
	"github.com/satchelhq/satchel/pkg/types"
)

// Generation states as reported by the downstream worker
const (
	StateQueued  = "queued"
	StateRunning = "running"
	StateDone    = "done"
	StateFailed  = "failed"
)

// Status is a point-in-time snapshot of a session's generation run
type Status struct {
	State     string    `json:"state"`
	Percent   int       `json:"percent"`
	Detail    string    `json:"detail,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Progress tracks per-session generation status in redis. Entries expire on
// their own; a finished run's status does not need to outlive the TTL.
type Progress struct {
	cache *common.Cache
	ttl   time.Duration
}

// NewProgress creates a progress tracker
func NewProgress(cache *common.Cache, ttl time.Duration) *Progress {
	return &Progress{
		cache: cache,
		ttl:   ttl,
	}
}

func progressKey(sessionID uuid.UUID) string {
	return fmt.Sprintf("generation:progress:%s", sessionID.String())
}

// Set stores the current status for a session
func (p *Progress) Set(ctx context.Context, sessionID uuid.UUID, status Status) error {
	status.UpdatedAt = time.Now().UTC()
	return p.cache.Set(ctx, progressKey(sessionID), &status, p.ttl)
}

// Get returns the last reported status for a session
func (p *Progress) Get(ctx context.Context, sessionID uuid.UUID) (*Status, error) {
	var status Status
	if err := p.cache.Get(ctx, progressKey(sessionID), &status); err != nil {
		if errors.Is(err, common.ErrCacheMiss) {
			return nil, fmt.Errorf("%w: no generation run for session %s", types.ErrNotFound, sessionID)
		}
		return nil, fmt.Errorf("%w: reading progress: %v", types.ErrStorageFailure, err)
	}
	return &status, nil
}
