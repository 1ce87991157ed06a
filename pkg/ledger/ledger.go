// Package ledger records structural scene changes and rebuilds scene state
// from them. The ledger is append-only: a revert is itself a new edit
// iteration, so history is never rewritten.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ASHISH26940/scene-orchestrator-api/pkg/db"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/sandbox"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/timing"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrNothingToRevert is returned when the target iteration carries no
	// state that differs from the scene as it is now.
	ErrNothingToRevert = errors.New("iteration has nothing to revert")
	// ErrAlreadyRestored is returned when reverting a delete whose scene exists.
	ErrAlreadyRestored = errors.New("deleted scene has already been restored")
	// ErrInvalidIteration is returned by Record for iterations that break the
	// before/after rules of their operation.
	ErrInvalidIteration = errors.New("invalid iteration")
)

// RevertOptions describes who asked for a revert.
type RevertOptions struct {
	MessageID uuid.UUID
	Prompt    string
}

// ScenePatch is the scene state a revert produced.
type ScenePatch struct {
	SceneID  uuid.UUID `json:"scene_id"`
	Code     string    `json:"-"`
	Duration int       `json:"duration"`
	// Restored is set when the scene had to be recreated.
	Restored  bool          `json:"restored"`
	Scene     *db.Scene     `json:"scene"`
	Iteration *db.Iteration `json:"iteration"`
}

type Ledger struct {
	store     db.Store
	validator *sandbox.Validator
}

func New(store db.Store, validator *sandbox.Validator) *Ledger {
	if validator == nil {
		validator = sandbox.New()
	}
	return &Ledger{store: store, validator: validator}
}

// Record applies change and appends its iteration in one transaction.
func (l *Ledger) Record(ctx context.Context, change db.SceneChange) (*db.Scene, *db.Iteration, error) {
	if err := check(change.Iteration); err != nil {
		return nil, nil, err
	}
	scene, it, err := l.store.CommitChange(ctx, change)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to record %s iteration: %w", change.Iteration.Operation, err)
	}
	log.WithFields(log.Fields{"scene_id": it.SceneID, "seq": it.Seq}).
		Infof("Record: %s iteration %s", it.Operation, it.ID)
	return scene, it, nil
}

func check(it db.Iteration) error {
	switch it.Operation {
	case db.OpCreate:
		if it.CodeBefore.Valid || !it.CodeAfter.Valid {
			return fmt.Errorf("%w: create needs code after and no code before", ErrInvalidIteration)
		}
	case db.OpDelete:
		if !it.CodeBefore.Valid || it.CodeAfter.Valid {
			return fmt.Errorf("%w: delete needs code before and no code after", ErrInvalidIteration)
		}
	case db.OpEdit:
		if !it.CodeAfter.Valid {
			return fmt.Errorf("%w: edit needs code after", ErrInvalidIteration)
		}
	case db.OpTrim:
		if !it.DurationBefore.Valid || !it.DurationAfter.Valid {
			return fmt.Errorf("%w: trim needs both durations", ErrInvalidIteration)
		}
	default:
		return fmt.Errorf("%w: unknown operation %q", ErrInvalidIteration, it.Operation)
	}
	return nil
}

func (l *Ledger) ListByMessage(ctx context.Context, messageID uuid.UUID) ([]db.Iteration, error) {
	its, err := l.store.ListIterationsByMessage(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to list iterations for message %s: %w", messageID, err)
	}
	return its, nil
}

func (l *Ledger) ListByScene(ctx context.Context, sceneID uuid.UUID) ([]db.Iteration, error) {
	its, err := l.store.ListIterationsByScene(ctx, sceneID)
	if err != nil {
		return nil, fmt.Errorf("failed to list iterations for scene %s: %w", sceneID, err)
	}
	return its, nil
}

// Revertible reports whether reverting it would change anything.
func Revertible(it *db.Iteration) bool {
	return it.Operation == db.OpDelete || it.CodeChanged() || it.DurationChanged()
}

// HasRevertible reports whether any iteration of a message is worth reverting.
func (l *Ledger) HasRevertible(ctx context.Context, messageID uuid.UUID) (bool, error) {
	its, err := l.ListByMessage(ctx, messageID)
	if err != nil {
		return false, err
	}
	for i := range its {
		if Revertible(&its[i]) {
			return true, nil
		}
	}
	return false, nil
}

// Revert restores the state an iteration points back to and records the
// restoration as a new edit iteration.
func (l *Ledger) Revert(ctx context.Context, iterationID uuid.UUID, opts RevertOptions) (*ScenePatch, error) {
	target, err := l.store.GetIteration(ctx, iterationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load iteration %s: %w", iterationID, err)
	}
	if !Revertible(target) {
		return nil, ErrNothingToRevert
	}

	current, err := l.store.GetScene(ctx, target.SceneID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("failed to load scene %s: %w", target.SceneID, err)
	}

	if target.Operation == db.OpDelete {
		if current != nil {
			return nil, ErrAlreadyRestored
		}
		return l.restore(ctx, target, target.CodeBefore.String, nullableInt(target.DurationBefore), opts)
	}

	code, duration := restoredState(target, current)
	if current == nil {
		return l.restore(ctx, target, code, duration, opts)
	}

	if duration == 0 {
		duration = l.duration(ctx, code, current.Duration)
	}
	if code == current.Code && duration == current.Duration {
		return nil, ErrNothingToRevert
	}

	next := *current
	next.Code = code
	next.Duration = duration
	next.Status = db.SceneStatusBuilding
	next.BuildError = db.NullString("")
	scene, it, err := l.Record(ctx, db.SceneChange{
		Kind:            db.ChangeUpdate,
		Scene:           next,
		ExpectedVersion: current.Version,
		Iteration:       revertIteration(target, current.Code, code, current.Duration, duration, opts),
	})
	if err != nil {
		return nil, err
	}
	return &ScenePatch{SceneID: scene.ID, Code: scene.Code, Duration: scene.Duration, Scene: scene, Iteration: it}, nil
}

// restoredState picks the code and duration an iteration reverts to. A
// zero duration means "derive it from the code".
func restoredState(target *db.Iteration, current *db.Scene) (string, int) {
	switch target.Operation {
	case db.OpCreate:
		return target.CodeAfter.String, nullableInt(target.DurationAfter)
	case db.OpTrim:
		code := target.CodeAfter.String
		if current != nil {
			code = current.Code
		}
		return code, nullableInt(target.DurationBefore)
	default:
		if target.CodeBefore.Valid {
			return target.CodeBefore.String, nullableInt(target.DurationBefore)
		}
		return target.CodeAfter.String, nullableInt(target.DurationAfter)
	}
}

// restore recreates a missing scene at the end of the project's ordering.
func (l *Ledger) restore(ctx context.Context, target *db.Iteration, code string, duration int, opts RevertOptions) (*ScenePatch, error) {
	if code == "" {
		return nil, ErrNothingToRevert
	}
	if duration == 0 {
		duration = l.duration(ctx, code, 0)
	}
	name := ""
	if v, err := l.validator.Validate(ctx, code); err == nil {
		name = v.ComponentName
	}

	it := revertIteration(target, "", code, 0, duration, opts)
	scene, recorded, err := l.Record(ctx, db.SceneChange{
		Kind: db.ChangeInsert,
		Scene: db.Scene{
			ID:        target.SceneID,
			ProjectID: target.ProjectID,
			Name:      name,
			Duration:  duration,
			Code:      code,
			Status:    db.SceneStatusBuilding,
		},
		Iteration: it,
	})
	if err != nil {
		return nil, err
	}
	log.WithField("order", scene.Order).Infof("Revert: restored scene %s", scene.ID)
	return &ScenePatch{SceneID: scene.ID, Code: code, Duration: duration, Restored: true, Scene: scene, Iteration: recorded}, nil
}

// duration extracts the duration of code, falling back when it cannot.
func (l *Ledger) duration(ctx context.Context, code string, fallback int) int {
	v, err := l.validator.Validate(ctx, code)
	if err != nil || v.ExtractedDuration == 0 {
		if fallback == 0 {
			return timing.DefaultDurationFrames
		}
		return fallback
	}
	return v.ExtractedDuration
}

func revertIteration(target *db.Iteration, before, after string, durBefore, durAfter int, opts RevertOptions) db.Iteration {
	prompt := opts.Prompt
	if prompt == "" {
		prompt = fmt.Sprintf("Revert %s #%d", target.Operation, target.Seq)
	}
	it := db.Iteration{
		ProjectID:     target.ProjectID,
		Operation:     db.OpEdit,
		Prompt:        prompt,
		CodeBefore:    db.NullString(before),
		CodeAfter:     db.NullString(after),
		DurationAfter: db.NullInt(durAfter),
		MessageID:     db.NullUUID(opts.MessageID),
	}
	it.Metadata, _ = json.Marshal(map[string]any{"reverted_iteration": target.ID, "reverted_operation": target.Operation})
	if durBefore > 0 {
		it.DurationBefore = db.NullInt(durBefore)
	}
	return it
}

func nullableInt(n sql.NullInt64) int {
	if !n.Valid {
		return 0
	}
	return int(n.Int64)
}
