package db

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a scene, message or iteration does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrVersionConflict is returned when a scene changed since it was read.
	ErrVersionConflict = errors.New("scene was modified concurrently")
	// ErrInvalidTransition is returned for message status changes out of pending.
	ErrInvalidTransition = errors.New("invalid message status transition")
)

// ChangeKind selects how CommitChange touches the scenes table.
type ChangeKind int

const (
	ChangeInsert ChangeKind = iota
	ChangeUpdate
	ChangeDelete
)

// SceneChange is one structural write plus the iteration that records it.
// Both are applied atomically or not at all.
type SceneChange struct {
	Kind ChangeKind
	// Scene carries the new state. For inserts Order is assigned by the
	// store (end of the project's ordering); for deletes only ID is used.
	Scene Scene
	// ExpectedVersion guards updates and deletes against lost updates.
	ExpectedVersion int
	Iteration       Iteration
}

// SceneStore reads and flags scenes.
type SceneStore interface {
	ListScenes(ctx context.Context, projectID uuid.UUID) ([]Scene, error)
	GetScene(ctx context.Context, id uuid.UUID) (*Scene, error)
	ListScenesByStatus(ctx context.Context, status string, limit int) ([]Scene, error)
	// MarkSceneError flips a scene to the error state. It reports false when
	// the scene was already in that state.
	MarkSceneError(ctx context.Context, id uuid.UUID, reason string) (bool, error)
	// UpdateSceneBuild replaces the compiled artifact and build status of a
	// scene without touching its source or version.
	UpdateSceneBuild(ctx context.Context, id uuid.UUID, expectedVersion int, jsURL, status, buildError string) error
}

// IterationStore reads the append-only ledger.
type IterationStore interface {
	GetIteration(ctx context.Context, id uuid.UUID) (*Iteration, error)
	ListIterationsByMessage(ctx context.Context, messageID uuid.UUID) ([]Iteration, error)
	ListIterationsByScene(ctx context.Context, sceneID uuid.UUID) ([]Iteration, error)
}

// MessageStore persists chat turns.
type MessageStore interface {
	// CreateMessage inserts msg unless a message with the same project and
	// correlation id exists, in which case the existing one is returned and
	// created is false.
	CreateMessage(ctx context.Context, msg *Message) (stored *Message, created bool, err error)
	GetMessage(ctx context.Context, id uuid.UUID) (*Message, error)
	ListMessages(ctx context.Context, projectID uuid.UUID, limit int) ([]Message, error)
	// UpdateMessageStatus moves a pending message to success or error.
	UpdateMessageStatus(ctx context.Context, id uuid.UUID, status, errorText string) error
}

// ChangeCommitter applies a scene change and its iteration in one transaction.
type ChangeCommitter interface {
	CommitChange(ctx context.Context, change SceneChange) (*Scene, *Iteration, error)
}

// Store is everything the pipeline needs from persistence.
type Store interface {
	SceneStore
	IterationStore
	MessageStore
	ChangeCommitter
}
