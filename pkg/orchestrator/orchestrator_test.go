package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ASHISH26940/scene-orchestrator-api/pkg/db"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/db/memstore"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/llm"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/notify"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/objectstore"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/router"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/synthesis"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/templates"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const artifactBase = "http://artifacts.test"

func sceneCode(name string, frames int) string {
	return fmt.Sprintf(`const { AbsoluteFill } = window.Remotion;

export const durationInFrames = %d;

export default function %s() {
  return <AbsoluteFill>%s</AbsoluteFill>;
}
window.__REMOTION_COMPONENT = %s;
`, frames, name, name, name)
}

type fakeGen struct {
	mu      sync.Mutex
	replies []string
	err     error
	block   bool
	calls   int
	reqs    []llm.Request
}

func (f *fakeGen) Generate(ctx context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	i := f.calls
	f.calls++
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if f.err != nil {
		return "", f.err
	}
	if i >= len(f.replies) {
		i = len(f.replies) - 1
	}
	return f.replies[i], nil
}

func (f *fakeGen) Model() string { return "fake-model" }
func (f *fakeGen) Close() error  { return nil }

func (f *fakeGen) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeGen) lastRequest() llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[len(f.reqs)-1]
}

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Publish(e notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) last() notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type fixture struct {
	ctx       context.Context
	store     *memstore.Store
	artifacts *objectstore.LocalStore
	gen       *fakeGen
	events    *recorder
	orch      *Orchestrator
	project   uuid.UUID
}

func newFixture(t *testing.T, gen *fakeGen) *fixture {
	t.Helper()
	store := memstore.New()
	// Every write lands a second after the previous one so "most recently
	// updated" is well defined.
	base := time.Now()
	var tick int64
	store.SetClock(func() time.Time { return base.Add(time.Duration(atomic.AddInt64(&tick, 1)) * time.Second) })
	artifacts, err := objectstore.NewLocalStore(t.TempDir(), artifactBase)
	require.NoError(t, err)
	catalog, err := templates.Load("")
	require.NoError(t, err)
	events := &recorder{}

	engine := synthesis.NewEngine(gen, nil, synthesis.Options{Timeout: 200 * time.Millisecond, RetryInterval: time.Millisecond})
	orch := New(Deps{
		Store:       store,
		Synthesizer: engine,
		Artifacts:   artifacts,
		Notifier:    events,
		Templates:   catalog,
	})
	return &fixture{ctx: context.Background(), store: store, artifacts: artifacts, gen: gen, events: events, orch: orch, project: uuid.New()}
}

// seed inserts ready scenes directly, bypassing generation.
func (f *fixture) seed(t *testing.T, names ...string) []db.Scene {
	t.Helper()
	for _, n := range names {
		code := sceneCode(n, 150)
		_, _, err := f.store.CommitChange(f.ctx, db.SceneChange{
			Kind:  db.ChangeInsert,
			Scene: db.Scene{ProjectID: f.project, Name: n, Duration: 150, Code: code, Status: db.SceneStatusReady},
			Iteration: db.Iteration{
				Operation: db.OpCreate, Prompt: "seed " + n,
				CodeAfter: db.NullString(code), DurationAfter: db.NullInt(150),
			},
		})
		require.NoError(t, err)
	}
	scenes, err := f.store.ListScenes(f.ctx, f.project)
	require.NoError(t, err)
	return scenes
}

func (f *fixture) turn(text string) (*TurnResult, error) {
	return f.orch.HandleTurn(f.ctx, TurnRequest{ProjectID: f.project, Utterance: text})
}

func names(scenes []db.Scene) []string {
	out := make([]string, len(scenes))
	for i, s := range scenes {
		out[i] = s.Name
	}
	return out
}

func TestFiveSecondIntroCreatesAReadyScene(t *testing.T) {
	f := newFixture(t, &fakeGen{replies: []string{sceneCode("Intro", 60)}})

	res, err := f.turn("create a 5 second intro")
	require.NoError(t, err)

	assert.Equal(t, router.OpCreate, res.Decision.Operation)
	require.NotNil(t, res.Iteration)
	assert.Equal(t, db.OpCreate, res.Iteration.Operation)
	assert.False(t, res.Iteration.CodeBefore.Valid)
	assert.Equal(t, int64(150), res.Iteration.DurationAfter.Int64)
	assert.Equal(t, res.Message.ID, res.Iteration.MessageID.UUID)

	scene, err := f.store.GetScene(f.ctx, res.Scene.ID)
	require.NoError(t, err)
	assert.Equal(t, 150, scene.Duration)
	assert.Equal(t, "Intro", scene.Name)
	assert.Equal(t, db.SceneStatusReady, scene.Status)
	assert.True(t, strings.HasPrefix(scene.JSURL.String, artifactBase+"/scenes/"+scene.ID.String()+"/"), scene.JSURL.String)

	key, ok := f.artifacts.Key(scene.JSURL.String)
	require.True(t, ok)
	js, err := f.artifacts.Get(f.ctx, key)
	require.NoError(t, err)
	assert.Contains(t, string(js), "window.__REMOTION_COMPONENT = Intro")
	assert.NotContains(t, string(js), "export ")

	msg, err := f.store.GetMessage(f.ctx, res.Message.ID)
	require.NoError(t, err)
	assert.Equal(t, db.MessageStatusSuccess, msg.Status)
	require.NotNil(t, res.Reply)
	assert.Equal(t, db.RoleAssistant, res.Reply.Role)
	assert.Equal(t, "Created scene 1 (Intro, 5s).", res.Reply.Content)

	ev := f.events.last()
	assert.True(t, ev.Success)
	assert.Equal(t, "create", ev.Operation)
	assert.Equal(t, scene.ID, ev.SceneID)
}

func TestTrimSceneTwoKeepsTheCode(t *testing.T) {
	gen := &fakeGen{replies: []string{"unused"}}
	f := newFixture(t, gen)
	seeded := f.seed(t, "Intro", "Outro")

	res, err := f.turn("make scene 2 three seconds")
	require.NoError(t, err)

	assert.Equal(t, router.OpTrim, res.Decision.Operation)
	assert.Zero(t, gen.count(), "trims never call the generator")
	it := res.Iteration
	assert.Equal(t, db.OpTrim, it.Operation)
	assert.Equal(t, it.CodeBefore, it.CodeAfter)
	assert.Equal(t, int64(150), it.DurationBefore.Int64)
	assert.Equal(t, int64(90), it.DurationAfter.Int64)

	scene, err := f.store.GetScene(f.ctx, seeded[1].ID)
	require.NoError(t, err)
	assert.Equal(t, 90, scene.Duration)
	assert.Equal(t, seeded[1].Code, scene.Code)
	assert.Equal(t, "Scene 2 now lasts 3s.", res.Reply.Content)
}

func TestEditRewritesTheTargetScene(t *testing.T) {
	f := newFixture(t, &fakeGen{replies: []string{sceneCode("Outro", 150)}})
	seeded := f.seed(t, "Intro", "Outro")

	res, err := f.turn("change the background of scene 2 to red")
	require.NoError(t, err)
	assert.Equal(t, router.OpEdit, res.Decision.Operation)
	assert.Equal(t, seeded[1].ID, res.Scene.ID)
	assert.Equal(t, seeded[1].Code, res.Iteration.CodeBefore.String)
	assert.Equal(t, seeded[1].Version+1, res.Scene.Version)
	assert.Equal(t, db.SceneStatusReady, res.Scene.Status)

	// The reply names the scene, so "it" now resolves to scene 2.
	res, err = f.turn("delete it")
	require.NoError(t, err)
	assert.Equal(t, router.OpDelete, res.Decision.Operation)
	assert.Equal(t, seeded[1].ID, res.Decision.TargetSceneID)
}

func TestDeleteThenRevertAppendsTheRestoredScene(t *testing.T) {
	f := newFixture(t, &fakeGen{replies: []string{"unused"}})
	seeded := f.seed(t, "Alpha", "Beta", "Gamma")

	res, err := f.turn("delete scene 1")
	require.NoError(t, err)
	require.Equal(t, router.OpDelete, res.Decision.Operation)
	assert.Nil(t, res.Scene)
	assert.Equal(t, seeded[0].Code, res.Iteration.CodeBefore.String)

	scenes, err := f.store.ListScenes(f.ctx, f.project)
	require.NoError(t, err)
	assert.Equal(t, []string{"Beta", "Gamma"}, names(scenes))

	reverted, err := f.orch.RevertIteration(f.ctx, RevertRequest{IterationID: res.Iteration.ID})
	require.NoError(t, err)
	assert.True(t, reverted.Restored)
	assert.Equal(t, seeded[0].ID, reverted.Scene.ID)
	assert.Equal(t, db.SceneStatusReady, reverted.Scene.Status)
	assert.Equal(t, notify.EventRevert, f.events.last().Type)

	scenes, err = f.store.ListScenes(f.ctx, f.project)
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"Beta", "Gamma", "Alpha"}, names(scenes)); diff != "" {
		t.Errorf("storyboard after revert (-want +got):\n%s", diff)
	}

	_, err = f.orch.RevertIteration(f.ctx, RevertRequest{IterationID: res.Iteration.ID})
	var te *TurnError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, CodeNothingToRevert, te.Code)
}

func TestFailedTurnMarksMessageAndRecordsNothing(t *testing.T) {
	tests := []struct {
		name      string
		gen       *fakeGen
		code      string
		retryable bool
	}{
		{"timeout", &fakeGen{block: true}, CodeTimeout, true},
		{"provider", &fakeGen{err: errors.New("invalid api key")}, CodeProvider, true},
		{"validation", &fakeGen{replies: []string{`export default function A() { fetch("/x"); return null; }`}}, CodeSynthesis, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.gen)

			res, err := f.turn("create a title scene")
			assert.Nil(t, res)
			var te *TurnError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, tt.code, te.Code)
			assert.Equal(t, tt.retryable, te.Retryable)

			scenes, err := f.store.ListScenes(f.ctx, f.project)
			require.NoError(t, err)
			assert.Empty(t, scenes)

			msgs, err := f.store.ListMessages(f.ctx, f.project, 0)
			require.NoError(t, err)
			require.Len(t, msgs, 1)
			assert.Equal(t, db.MessageStatusError, msgs[0].Status)
			its, err := f.store.ListIterationsByMessage(f.ctx, msgs[0].ID)
			require.NoError(t, err)
			assert.Empty(t, its)

			ev := f.events.last()
			assert.False(t, ev.Success)
			assert.Equal(t, tt.code, ev.ErrorCode)
		})
	}
}

func TestCorrelationIDMakesTurnsIdempotent(t *testing.T) {
	gen := &fakeGen{replies: []string{sceneCode("Intro", 150)}}
	f := newFixture(t, gen)
	req := TurnRequest{ProjectID: f.project, Utterance: "create an intro", CorrelationID: "abc"}

	first, err := f.orch.HandleTurn(f.ctx, req)
	require.NoError(t, err)
	second, err := f.orch.HandleTurn(f.ctx, req)
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Message.ID, second.Message.ID)
	assert.Equal(t, first.Iteration.ID, second.Iteration.ID)
	assert.Equal(t, 1, gen.count())

	scenes, err := f.store.ListScenes(f.ctx, f.project)
	require.NoError(t, err)
	assert.Len(t, scenes, 1)
}

func TestClarificationRecordsNoIteration(t *testing.T) {
	f := newFixture(t, &fakeGen{replies: []string{sceneCode("Outro", 150)}})
	seeded := f.seed(t, "Intro", "Outro")

	for i := 0; i < router.ClarificationBudget; i++ {
		res, err := f.turn("change the wording")
		require.NoError(t, err)
		assert.Equal(t, router.OpClarify, res.Decision.Operation)
		assert.Nil(t, res.Iteration)
		assert.Equal(t, res.Decision.Question, res.Reply.Content)
	}

	res, err := f.turn("change the wording")
	require.NoError(t, err)
	assert.Equal(t, router.OpEdit, res.Decision.Operation)
	assert.True(t, res.Decision.Forced)
	assert.Equal(t, seeded[1].ID, res.Scene.ID)
}

func TestCreateWhileNamingAnExistingScene(t *testing.T) {
	gen := &fakeGen{replies: []string{sceneCode("Opener", 150)}}
	f := newFixture(t, gen)
	seeded := f.seed(t, "Intro", "Outro")

	res, err := f.turn("create a 5 second intro")
	require.NoError(t, err)
	assert.Equal(t, router.OpCreate, res.Decision.Operation, res.Decision.Reasoning)
	assert.Equal(t, 1, gen.count())
	assert.Equal(t, 3, res.Decision.TargetIndex)

	scenes, err := f.store.ListScenes(f.ctx, f.project)
	require.NoError(t, err)
	assert.Equal(t, []string{"Intro", "Outro", "Opener"}, names(scenes))
	assert.Equal(t, 150, scenes[0].Duration, "the named scene is untouched")
	assert.Equal(t, seeded[0].Version, scenes[0].Version)
}

func TestCreateLikeAnotherSceneUsesItAsReference(t *testing.T) {
	gen := &fakeGen{replies: []string{sceneCode("Teaser", 90)}}
	f := newFixture(t, gen)
	seeded := f.seed(t, "Intro", "Outro")

	res, err := f.turn("add a 3 second scene like scene 1")
	require.NoError(t, err)
	assert.Equal(t, router.OpCreate, res.Decision.Operation, res.Decision.Reasoning)
	assert.Equal(t, seeded[0].ID, res.Decision.ReferenceSceneID)
	assert.Equal(t, 90, res.Scene.Duration)
	assert.Equal(t, seeded[0].Code, gen.lastRequest().ReferenceCode)

	intro, err := f.store.GetScene(f.ctx, seeded[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 150, intro.Duration)
}

func TestClarificationAnswerDeletesTheNamedScene(t *testing.T) {
	gen := &fakeGen{replies: []string{"unused"}}
	f := newFixture(t, gen)
	f.seed(t, "Intro", "Outro")

	res, err := f.turn("delete a scene")
	require.NoError(t, err)
	require.Equal(t, router.OpClarify, res.Decision.Operation)
	assert.Equal(t, "Which scene should I delete?", res.Reply.Content)

	res, err = f.turn("scene 2")
	require.NoError(t, err)
	assert.Equal(t, router.OpDelete, res.Decision.Operation, res.Decision.Reasoning)
	assert.Zero(t, gen.count())

	scenes, err := f.store.ListScenes(f.ctx, f.project)
	require.NoError(t, err)
	assert.Equal(t, []string{"Intro"}, names(scenes))
}

func TestClarificationAnswerEditsWithTheOriginalRequest(t *testing.T) {
	gen := &fakeGen{replies: []string{sceneCode("Outro", 150)}}
	f := newFixture(t, gen)
	seeded := f.seed(t, "Intro", "Outro")

	res, err := f.turn("change the wording")
	require.NoError(t, err)
	require.Equal(t, router.OpClarify, res.Decision.Operation)

	res, err = f.turn("the outro")
	require.NoError(t, err)
	assert.Equal(t, router.OpEdit, res.Decision.Operation, res.Decision.Reasoning)
	assert.Equal(t, seeded[1].ID, res.Scene.ID)
	assert.Equal(t, "change the wording", res.Iteration.Prompt)
	assert.Contains(t, gen.lastRequest().UserPrompt, "change the wording")
}

func TestRelativeTrimAdjustsCurrentDuration(t *testing.T) {
	gen := &fakeGen{replies: []string{"unused"}}
	f := newFixture(t, gen)
	seeded := f.seed(t, "Intro", "Middle", "Outro")

	res, err := f.turn("make scene 1 3 seconds longer")
	require.NoError(t, err)
	assert.Equal(t, router.OpTrim, res.Decision.Operation, res.Decision.Reasoning)
	assert.Equal(t, 240, res.Scene.Duration)

	res, err = f.turn("make the last one 2 seconds shorter")
	require.NoError(t, err)
	assert.Equal(t, router.OpTrim, res.Decision.Operation, res.Decision.Reasoning)
	assert.Equal(t, seeded[2].ID, res.Scene.ID)
	assert.Equal(t, 90, res.Scene.Duration)
	assert.Zero(t, gen.count())
}

func TestResultEventsCarryTheirTimestamp(t *testing.T) {
	f := newFixture(t, &fakeGen{replies: []string{"unused"}})
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	f.orch.now = func() time.Time { return at }
	seeded := f.seed(t, "Intro", "Outro")

	res, err := f.turn("make scene 2 three seconds")
	require.NoError(t, err)
	assert.Equal(t, at, res.Event.OccurredAt)
	assert.Equal(t, res.Event, f.events.last())

	change, err := f.orch.ApplyManualEdit(f.ctx, ManualEditRequest{SceneID: seeded[0].ID, Code: sceneCode("Intro", 60)})
	require.NoError(t, err)
	assert.Equal(t, at, change.Event.OccurredAt)
	assert.Equal(t, change.Event, f.events.last())
}

func TestInsertTemplate(t *testing.T) {
	f := newFixture(t, &fakeGen{replies: []string{"unused"}})

	res, err := f.orch.InsertTemplate(f.ctx, TemplateRequest{ProjectID: f.project, TemplateID: "title-card"})
	require.NoError(t, err)
	assert.Equal(t, 90, res.Scene.Duration)
	assert.Equal(t, "Title card", res.Scene.Name)
	assert.Equal(t, db.SceneStatusReady, res.Scene.Status)
	assert.Equal(t, db.OpCreate, res.Iteration.Operation)
	assert.False(t, res.Iteration.MessageID.Valid)

	_, err = f.orch.InsertTemplate(f.ctx, TemplateRequest{ProjectID: f.project, TemplateID: "nope"})
	var te *TurnError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, CodeNotFound, te.Code)
}

func TestApplyManualEdit(t *testing.T) {
	f := newFixture(t, &fakeGen{replies: []string{"unused"}})
	seeded := f.seed(t, "Intro")

	res, err := f.orch.ApplyManualEdit(f.ctx, ManualEditRequest{
		SceneID: seeded[0].ID,
		Code:    "export const durationInFrames = 45;\nexport default function Manual() { return null; }\n",
	})
	require.NoError(t, err)
	assert.Contains(t, res.Scene.Code, "window.__REMOTION_COMPONENT = Manual")
	assert.Equal(t, 45, res.Scene.Duration)
	assert.Equal(t, db.OpEdit, res.Iteration.Operation)
	assert.False(t, res.Iteration.MessageID.Valid)
	assert.Equal(t, seeded[0].Code, res.Iteration.CodeBefore.String)

	_, err = f.orch.ApplyManualEdit(f.ctx, ManualEditRequest{SceneID: seeded[0].ID, Code: sceneCode("Late", 30), ExpectedVersion: seeded[0].Version})
	var te *TurnError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, CodeConflict, te.Code)
	assert.True(t, te.Retryable)

	_, err = f.orch.ApplyManualEdit(f.ctx, ManualEditRequest{SceneID: seeded[0].ID, Code: `export default function A() { eval("1"); return null; }`})
	require.ErrorAs(t, err, &te)
	assert.Equal(t, CodeBuildFailed, te.Code)
}

func TestRebuildFailedRepublishesFlaggedScenes(t *testing.T) {
	f := newFixture(t, &fakeGen{replies: []string{"unused"}})
	seeded := f.seed(t, "Intro", "Outro")

	broken := seeded[1]
	broken.Code = `export default function Outro() { fetch("/x"); return null; }`
	_, _, err := f.store.CommitChange(f.ctx, db.SceneChange{
		Kind: db.ChangeUpdate, Scene: broken, ExpectedVersion: seeded[1].Version,
		Iteration: db.Iteration{Operation: db.OpEdit, CodeBefore: db.NullString(seeded[1].Code), CodeAfter: db.NullString(broken.Code)},
	})
	require.NoError(t, err)

	for _, s := range seeded {
		flagged, err := f.store.MarkSceneError(f.ctx, s.ID, "compiled artifact missing")
		require.NoError(t, err)
		require.True(t, flagged)
	}

	report, err := f.orch.RebuildFailed(f.ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Attempted)
	assert.Equal(t, 1, report.Rebuilt)
	assert.Contains(t, report.Failed, seeded[1].ID.String())

	intro, err := f.store.GetScene(f.ctx, seeded[0].ID)
	require.NoError(t, err)
	assert.Equal(t, db.SceneStatusReady, intro.Status)
	assert.True(t, intro.JSURL.Valid)
	assert.Equal(t, seeded[0].Code, intro.Code, "rebuilds never change the source")

	outro, err := f.store.GetScene(f.ctx, seeded[1].ID)
	require.NoError(t, err)
	assert.Equal(t, db.SceneStatusError, outro.Status)
	assert.Contains(t, outro.BuildError.String, "forbidden-api")

	// The broken source has not changed, so the next pass leaves it alone.
	report, err = f.orch.RebuildFailed(f.ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, report.Attempted)

	_, err = f.orch.ApplyManualEdit(f.ctx, ManualEditRequest{SceneID: seeded[1].ID, Code: sceneCode("Outro", 90)})
	require.NoError(t, err)
	flagged, err := f.store.MarkSceneError(f.ctx, seeded[1].ID, "compiled artifact missing")
	require.NoError(t, err)
	require.True(t, flagged)
	report, err = f.orch.RebuildFailed(f.ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Attempted)
	assert.Equal(t, 1, report.Rebuilt)
}

func TestKeyedLocksSerializeAndClean(t *testing.T) {
	locks := newKeyedLocks()
	id := uuid.New()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock(id)
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
	assert.Zero(t, locks.size())
}

func TestSessionsSweepIdleEntries(t *testing.T) {
	s := NewSessions(time.Minute)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	id := uuid.New()
	s.Touch("a", id)
	assert.Equal(t, id, s.Get("a").LastSceneID)

	now = now.Add(2 * time.Minute)
	s.Touch("b", id)
	assert.Equal(t, 1, s.Sweep())
	assert.Equal(t, router.Session{}, s.Get("a"))
	assert.Equal(t, id, s.Get("b").LastSceneID)
}
