package ledger

import (
	"context"
	"testing"

	"github.com/ASHISH26940/scene-orchestrator-api/pkg/db"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/db/memstore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	codeA = `export const durationInFrames = 120;
export default function A() { return null; }
window.__REMOTION_COMPONENT = A;
`
	codeB = `export const durationInFrames = 60;
export default function A() { return "b"; }
window.__REMOTION_COMPONENT = A;
`
	codeC = `export default function Other() { return "c"; }
window.__REMOTION_COMPONENT = Other;
`
)

type fixture struct {
	ctx     context.Context
	store   *memstore.Store
	ledger  *Ledger
	project uuid.UUID
	message uuid.UUID
}

func newFixture() *fixture {
	store := memstore.New()
	return &fixture{ctx: context.Background(), store: store, ledger: New(store, nil), project: uuid.New(), message: uuid.New()}
}

func (f *fixture) create(t *testing.T, code string, duration int) (*db.Scene, *db.Iteration) {
	t.Helper()
	scene, it, err := f.ledger.Record(f.ctx, db.SceneChange{
		Kind:  db.ChangeInsert,
		Scene: db.Scene{ProjectID: f.project, Code: code, Duration: duration, Status: db.SceneStatusReady},
		Iteration: db.Iteration{
			Operation: db.OpCreate, Prompt: "create",
			CodeAfter: db.NullString(code), DurationAfter: db.NullInt(duration),
			MessageID: db.NullUUID(f.message),
		},
	})
	require.NoError(t, err)
	return scene, it
}

func (f *fixture) edit(t *testing.T, scene *db.Scene, code string, duration int) (*db.Scene, *db.Iteration) {
	t.Helper()
	next := *scene
	next.Code, next.Duration = code, duration
	updated, it, err := f.ledger.Record(f.ctx, db.SceneChange{
		Kind: db.ChangeUpdate, Scene: next, ExpectedVersion: scene.Version,
		Iteration: db.Iteration{
			Operation: db.OpEdit, Prompt: "edit",
			CodeBefore: db.NullString(scene.Code), CodeAfter: db.NullString(code),
			DurationBefore: db.NullInt(scene.Duration), DurationAfter: db.NullInt(duration),
		},
	})
	require.NoError(t, err)
	return updated, it
}

func (f *fixture) current(t *testing.T, id uuid.UUID) *db.Scene {
	t.Helper()
	scene, err := f.store.GetScene(f.ctx, id)
	require.NoError(t, err)
	return scene
}

func TestRecordRejectsMalformedIterations(t *testing.T) {
	f := newFixture()
	_, _, err := f.ledger.Record(f.ctx, db.SceneChange{
		Kind:      db.ChangeInsert,
		Scene:     db.Scene{ProjectID: f.project, Code: codeA},
		Iteration: db.Iteration{Operation: db.OpCreate, CodeBefore: db.NullString("x"), CodeAfter: db.NullString(codeA)},
	})
	assert.ErrorIs(t, err, ErrInvalidIteration)

	_, _, err = f.ledger.Record(f.ctx, db.SceneChange{
		Kind:      db.ChangeInsert,
		Scene:     db.Scene{ProjectID: f.project, Code: codeA},
		Iteration: db.Iteration{Operation: "rename", CodeAfter: db.NullString(codeA)},
	})
	assert.ErrorIs(t, err, ErrInvalidIteration)
}

func TestRevertEditRestoresPreviousCode(t *testing.T) {
	f := newFixture()
	scene, _ := f.create(t, codeA, 120)
	_, edit := f.edit(t, scene, codeB, 60)

	patch, err := f.ledger.Revert(f.ctx, edit.ID, RevertOptions{})
	require.NoError(t, err)
	assert.Equal(t, codeA, patch.Code)
	assert.Equal(t, 120, patch.Duration)
	assert.Equal(t, db.OpEdit, patch.Iteration.Operation)
	assert.Equal(t, codeB, patch.Iteration.CodeBefore.String)
	assert.Equal(t, db.SceneStatusBuilding, patch.Scene.Status)

	its, err := f.ledger.ListByScene(f.ctx, scene.ID)
	require.NoError(t, err)
	assert.Len(t, its, 3, "revert appends and never rewrites")
	assert.Equal(t, codeB, its[1].CodeAfter.String)
}

func TestDoubleRevertIsIdempotent(t *testing.T) {
	f := newFixture()
	scene, _ := f.create(t, codeA, 120)
	_, edit := f.edit(t, scene, codeB, 60)
	beforeFirstRevert := f.current(t, scene.ID)

	first, err := f.ledger.Revert(f.ctx, edit.ID, RevertOptions{})
	require.NoError(t, err)
	second, err := f.ledger.Revert(f.ctx, first.Iteration.ID, RevertOptions{})
	require.NoError(t, err)

	after := f.current(t, scene.ID)
	assert.Equal(t, beforeFirstRevert.Code, after.Code)
	assert.Equal(t, beforeFirstRevert.Duration, after.Duration)
	assert.Equal(t, codeB, second.Code)
}

func TestRevertCreateReaffirmsCreatedCode(t *testing.T) {
	f := newFixture()
	scene, create := f.create(t, codeA, 120)
	f.edit(t, scene, codeB, 60)

	patch, err := f.ledger.Revert(f.ctx, create.ID, RevertOptions{Prompt: "undo my edits"})
	require.NoError(t, err)
	assert.Equal(t, codeA, patch.Code)
	assert.Equal(t, "undo my edits", patch.Iteration.Prompt)

	_, err = f.ledger.Revert(f.ctx, create.ID, RevertOptions{})
	assert.ErrorIs(t, err, ErrNothingToRevert)
}

func TestRevertTrimRestoresDurationOnly(t *testing.T) {
	f := newFixture()
	scene, _ := f.create(t, codeA, 120)

	trimmed := *scene
	trimmed.Duration = 90
	_, trim, err := f.ledger.Record(f.ctx, db.SceneChange{
		Kind: db.ChangeUpdate, Scene: trimmed, ExpectedVersion: scene.Version,
		Iteration: db.Iteration{
			Operation:  db.OpTrim,
			CodeBefore: db.NullString(codeA), CodeAfter: db.NullString(codeA),
			DurationBefore: db.NullInt(120), DurationAfter: db.NullInt(90),
		},
	})
	require.NoError(t, err)
	assert.False(t, trim.CodeChanged())
	assert.True(t, Revertible(trim))

	patch, err := f.ledger.Revert(f.ctx, trim.ID, RevertOptions{})
	require.NoError(t, err)
	assert.Equal(t, codeA, patch.Code)
	assert.Equal(t, 120, patch.Duration)
}

func TestRevertDeleteAppendsRestoredScene(t *testing.T) {
	f := newFixture()
	doomed, _ := f.create(t, codeA, 120)
	f.create(t, codeC, 150)
	f.create(t, codeB, 60)

	_, del, err := f.ledger.Record(f.ctx, db.SceneChange{
		Kind: db.ChangeDelete, Scene: db.Scene{ID: doomed.ID}, ExpectedVersion: doomed.Version,
		Iteration: db.Iteration{
			Operation: db.OpDelete, CodeBefore: db.NullString(codeA), DurationBefore: db.NullInt(120),
			MessageID: db.NullUUID(f.message),
		},
	})
	require.NoError(t, err)

	patch, err := f.ledger.Revert(f.ctx, del.ID, RevertOptions{})
	require.NoError(t, err)
	assert.True(t, patch.Restored)
	assert.Equal(t, codeA, patch.Code)
	assert.Equal(t, 120, patch.Duration)
	assert.Equal(t, "A", patch.Scene.Name)

	scenes, err := f.store.ListScenes(f.ctx, f.project)
	require.NoError(t, err)
	require.Len(t, scenes, 3)
	assert.Equal(t, doomed.ID, scenes[2].ID, "restored scene goes to the end")

	_, err = f.ledger.Revert(f.ctx, del.ID, RevertOptions{})
	assert.ErrorIs(t, err, ErrAlreadyRestored)
}

func TestHasRevertible(t *testing.T) {
	f := newFixture()
	scene, _ := f.create(t, codeA, 120)

	ok, err := f.ledger.HasRevertible(f.ctx, f.message)
	require.NoError(t, err)
	assert.True(t, ok, "create changed the code")

	noop := uuid.New()
	_, _, err = f.ledger.Record(f.ctx, db.SceneChange{
		Kind: db.ChangeUpdate, Scene: *scene, ExpectedVersion: scene.Version,
		Iteration: db.Iteration{
			Operation:  db.OpEdit,
			CodeBefore: db.NullString(codeA), CodeAfter: db.NullString(codeA),
			MessageID: db.NullUUID(noop),
		},
	})
	require.NoError(t, err)

	ok, err = f.ledger.HasRevertible(f.ctx, noop)
	require.NoError(t, err)
	assert.False(t, ok, "an edit that changed nothing is not revert-worthy")

	ok, err = f.ledger.HasRevertible(f.ctx, uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)
}
