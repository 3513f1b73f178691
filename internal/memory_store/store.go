// Package memory_store provides persistence for user memory records. Two
// backends exist: a durable file-backed store (local disk or S3) and a
// Postgres-backed document store, selected by configuration.
package memory_store //nolint:revive // var-naming: using underscores for domain clarity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lewisedginton/sentio/internal/memory"
)

// ErrNotFound is returned when no record exists for a user. It is a valid
// terminal state: first contact from an unseen user is expected to hit it.
var ErrNotFound = errors.New("memory record not found")

// UnavailableError reports that the backend itself could not be reached or
// failed. Callers must not conflate it with ErrNotFound.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("memory store unavailable during %s: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// ListOptions narrows a ListInteractions call. Since is an exclusive lower
// bound on the entry timestamp and doubles as a restart cursor: pass the
// timestamp of the last entry seen to resume. A zero Limit applies
// DefaultListLimit.
type ListOptions struct {
	Since time.Time
	Limit int
}

// DefaultListLimit bounds ListInteractions results when no limit is given.
const DefaultListLimit = 100

// UserStats summarizes a user's interaction history.
type UserStats struct {
	UserID             string    `json:"user_id"`
	TotalInteractions  int64     `json:"total_interactions"`
	FirstInteractionAt time.Time `json:"first_interaction_at"`
	LastInteractionAt  time.Time `json:"last_interaction_at"`
}

// Store is the persistence contract for memory records.
type Store interface {
	// Get loads the record for a user together with its most recent
	// episodic entries (up to DefaultListLimit, newest-last). Returns
	// ErrNotFound for unseen users.
	Get(ctx context.Context, userID string) (*memory.MemoryRecord, error)

	// Upsert persists the record's snapshot sections (profile, semantic,
	// action state, strategic), stamping UpdatedAt. Episodic entries are
	// not written here; they only grow through AppendInteraction.
	Upsert(ctx context.Context, record *memory.MemoryRecord) error

	// AppendInteraction durably appends one log entry. Concurrent appends
	// for the same user never lose entries.
	AppendInteraction(ctx context.Context, userID string, entry memory.InteractionLog) error

	// ListInteractions returns entries newest-last, restartable via
	// ListOptions.Since.
	ListInteractions(ctx context.Context, userID string, opts ListOptions) ([]memory.InteractionLog, error)

	// Stats reports interaction counts and first/last timestamps.
	Stats(ctx context.Context, userID string) (*UserStats, error)

	// Delete removes the record and its interaction log atomically.
	Delete(ctx context.Context, userID string) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error
}
