// Package memstore is an in-process db.Store used for local development
// (no DATABASE_URL) and tests. It mirrors the PostgreSQL semantics of
// package queries: versioned updates, per-project ordering and sequences,
// idempotent message creation and an append-only iteration ledger.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ASHISH26940/scene-orchestrator-api/pkg/db"
	"github.com/google/uuid"
)

// Store keeps every table in maps guarded by one mutex.
type Store struct {
	mu         sync.Mutex
	scenes     map[uuid.UUID]db.Scene
	messages   map[uuid.UUID]db.Message
	iterations []db.Iteration
	seq        int64
	now        func() time.Time
}

var _ db.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		scenes:   make(map[uuid.UUID]db.Scene),
		messages: make(map[uuid.UUID]db.Message),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the timestamp source.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) ListScenes(_ context.Context, projectID uuid.UUID) ([]db.Scene, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []db.Scene
	for _, sc := range s.scenes {
		if sc.ProjectID == projectID {
			out = append(out, sc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) GetScene(_ context.Context, id uuid.UUID) (*db.Scene, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sc, ok := s.scenes[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &sc, nil
}

func (s *Store) ListScenesByStatus(_ context.Context, status string, limit int) ([]db.Scene, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []db.Scene
	for _, sc := range s.scenes {
		if sc.Status == status {
			out = append(out, sc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkSceneError(_ context.Context, id uuid.UUID, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sc, ok := s.scenes[id]
	if !ok {
		return false, db.ErrNotFound
	}
	if sc.Status == db.SceneStatusError {
		return false, nil
	}
	sc.Status = db.SceneStatusError
	sc.BuildError = db.NullString(reason)
	sc.UpdatedAt = s.now()
	s.scenes[id] = sc
	return true, nil
}

func (s *Store) UpdateSceneBuild(_ context.Context, id uuid.UUID, expectedVersion int, jsURL, status, buildError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sc, ok := s.scenes[id]
	if !ok {
		return db.ErrNotFound
	}
	if sc.Version != expectedVersion {
		return db.ErrVersionConflict
	}
	sc.JSURL = db.NullString(jsURL)
	sc.Status = status
	sc.BuildError = db.NullString(buildError)
	sc.UpdatedAt = s.now()
	s.scenes[id] = sc
	return nil
}

func (s *Store) CommitChange(_ context.Context, change db.SceneChange) (*db.Scene, *db.Iteration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	scene := change.Scene

	switch change.Kind {
	case db.ChangeInsert:
		if scene.ID == uuid.Nil {
			scene.ID = uuid.New()
		}
		if _, exists := s.scenes[scene.ID]; exists {
			return nil, nil, fmt.Errorf("scene %s already exists", scene.ID)
		}
		scene.Order = s.nextOrder(scene.ProjectID)
		if scene.Status == "" {
			scene.Status = db.SceneStatusBuilding
		}
		scene.Version = 1
		scene.CreatedAt = now
		scene.UpdatedAt = now
	case db.ChangeUpdate:
		current, ok := s.scenes[scene.ID]
		if !ok {
			return nil, nil, db.ErrNotFound
		}
		if current.Version != change.ExpectedVersion {
			return nil, nil, db.ErrVersionConflict
		}
		scene.ProjectID = current.ProjectID
		scene.Order = current.Order
		scene.CreatedAt = current.CreatedAt
		scene.Version = current.Version + 1
		scene.UpdatedAt = now
	case db.ChangeDelete:
		current, ok := s.scenes[scene.ID]
		if !ok {
			return nil, nil, db.ErrNotFound
		}
		if current.Version != change.ExpectedVersion {
			return nil, nil, db.ErrVersionConflict
		}
		scene = current
	default:
		return nil, nil, fmt.Errorf("unknown change kind %d", change.Kind)
	}

	it := change.Iteration
	if it.ID == uuid.Nil {
		it.ID = uuid.New()
	}
	it.SceneID = scene.ID
	if it.ProjectID == uuid.Nil {
		it.ProjectID = scene.ProjectID
	}
	s.seq++
	it.Seq = s.seq
	it.CreatedAt = now

	if change.Kind == db.ChangeDelete {
		delete(s.scenes, scene.ID)
		s.iterations = append(s.iterations, it)
		return nil, &it, nil
	}
	s.scenes[scene.ID] = scene
	s.iterations = append(s.iterations, it)
	return &scene, &it, nil
}

func (s *Store) nextOrder(projectID uuid.UUID) int {
	maxOrder := 0
	for _, sc := range s.scenes {
		if sc.ProjectID == projectID && sc.Order > maxOrder {
			maxOrder = sc.Order
		}
	}
	return maxOrder + 1
}

func (s *Store) GetIteration(_ context.Context, id uuid.UUID) (*db.Iteration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, it := range s.iterations {
		if it.ID == id {
			return &it, nil
		}
	}
	return nil, db.ErrNotFound
}

// Iterations are appended in seq order, so filtering keeps them ordered.
func (s *Store) ListIterationsByMessage(_ context.Context, messageID uuid.UUID) ([]db.Iteration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []db.Iteration
	for _, it := range s.iterations {
		if it.MessageID.Valid && it.MessageID.UUID == messageID {
			out = append(out, it)
		}
	}
	return out, nil
}

func (s *Store) ListIterationsByScene(_ context.Context, sceneID uuid.UUID) ([]db.Iteration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []db.Iteration
	for _, it := range s.iterations {
		if it.SceneID == sceneID {
			out = append(out, it)
		}
	}
	return out, nil
}

func (s *Store) CreateMessage(_ context.Context, msg *db.Message) (*db.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var maxSeq int64
	for _, m := range s.messages {
		if m.ProjectID != msg.ProjectID {
			continue
		}
		if msg.CorrelationID != "" && m.CorrelationID == msg.CorrelationID {
			existing := m
			return &existing, false, nil
		}
		if m.Sequence > maxSeq {
			maxSeq = m.Sequence
		}
	}

	stored := *msg
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	if stored.Status == "" {
		stored.Status = db.MessageStatusPending
	}
	stored.Sequence = maxSeq + 1
	stored.CreatedAt = s.now()
	stored.UpdatedAt = stored.CreatedAt
	s.messages[stored.ID] = stored
	return &stored, true, nil
}

func (s *Store) GetMessage(_ context.Context, id uuid.UUID) (*db.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &m, nil
}

func (s *Store) ListMessages(_ context.Context, projectID uuid.UUID, limit int) ([]db.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []db.Message
	for _, m := range s.messages {
		if m.ProjectID == projectID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *Store) UpdateMessageStatus(_ context.Context, id uuid.UUID, status, errorText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return db.ErrNotFound
	}
	if m.Status != db.MessageStatusPending {
		return db.ErrInvalidTransition
	}
	m.Status = status
	m.ErrorText = db.NullString(errorText)
	m.UpdatedAt = s.now()
	s.messages[id] = m
	return nil
}
