// Package orchestrator is the single entry point for chat turns and the
// other structural operations on a project's scenes. It routes a turn,
// synthesizes code when needed, records the change in the ledger, publishes
// the compiled artifact and tells subscribers what happened.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ASHISH26940/scene-orchestrator-api/pkg/db"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/ledger"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/llm"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/metrics"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/notify"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/objectstore"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/router"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/sandbox"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/synthesis"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/telemetry"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/templates"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/timing"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

// historyLimit is how many recent messages the router sees.
const historyLimit = 20

// Synthesizer produces validated scene code.
type Synthesizer interface {
	SynthesizeNew(ctx context.Context, req synthesis.NewRequest) (*synthesis.Result, error)
	SynthesizeEdit(ctx context.Context, req synthesis.EditRequest) (*synthesis.Result, error)
}

type Deps struct {
	Store       db.Store
	Synthesizer Synthesizer
	Validator   *sandbox.Validator
	Artifacts   objectstore.Store
	Notifier    notify.Publisher
	Templates   *templates.Catalog
	Sessions    *Sessions
	// RebuildConcurrency bounds parallel compiles in RebuildFailed.
	RebuildConcurrency int64
}

type Orchestrator struct {
	store     db.Store
	synth     Synthesizer
	validator *sandbox.Validator
	artifacts objectstore.Store
	notifier  notify.Publisher
	templates *templates.Catalog
	sessions  *Sessions
	ledger    *ledger.Ledger
	locks     *keyedLocks
	rebuilds  *semaphore.Weighted
	tracer    trace.Tracer
	now       func() time.Time
}

func New(deps Deps) *Orchestrator {
	if deps.Validator == nil {
		deps.Validator = sandbox.New()
	}
	if deps.Sessions == nil {
		deps.Sessions = NewSessions(0)
	}
	if deps.Notifier == nil {
		deps.Notifier = discard{}
	}
	if deps.RebuildConcurrency <= 0 {
		deps.RebuildConcurrency = 4
	}
	return &Orchestrator{
		store:     deps.Store,
		synth:     deps.Synthesizer,
		validator: deps.Validator,
		artifacts: deps.Artifacts,
		notifier:  deps.Notifier,
		templates: deps.Templates,
		sessions:  deps.Sessions,
		ledger:    ledger.New(deps.Store, deps.Validator),
		locks:     newKeyedLocks(),
		rebuilds:  semaphore.NewWeighted(deps.RebuildConcurrency),
		tracer:    telemetry.Tracer(),
		now:       time.Now,
	}
}

// publish stamps ev and hands it to the notifier. Callers keep the stamped
// copy so results and subscribers see the same event.
func (o *Orchestrator) publish(ev notify.Event) notify.Event {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = o.now().UTC()
	}
	o.notifier.Publish(ev)
	return ev
}

type discard struct{}

func (discard) Publish(notify.Event) {}

// Ledger exposes history queries to the HTTP layer.
func (o *Orchestrator) Ledger() *ledger.Ledger { return o.ledger }

// TurnRequest is one user chat message.
type TurnRequest struct {
	ProjectID uuid.UUID
	// SessionID scopes the "last touched scene" memory. Defaults to the project.
	SessionID string
	Utterance string
	// CorrelationID makes retries of the same message idempotent.
	CorrelationID string
	// TargetSceneID is the scene selected in the UI, if any.
	TargetSceneID uuid.UUID
	ReferenceCode string
	Images        []llm.Image
}

type TurnResult struct {
	Message   *db.Message       `json:"message"`
	Reply     *db.Message       `json:"reply,omitempty"`
	Decision  router.Decision   `json:"decision"`
	Scene     *db.Scene         `json:"scene,omitempty"`
	Iteration *db.Iteration     `json:"iteration,omitempty"`
	Synthesis *synthesis.Result `json:"synthesis,omitempty"`
	Event     notify.Event      `json:"event"`
	// Duplicate is set when the correlation id had already been handled.
	Duplicate bool `json:"duplicate,omitempty"`
}

// HandleTurn routes one chat message to exactly one operation and applies it.
// A failed turn leaves the user message in the error state and records no
// iteration; the returned error is always a *TurnError.
func (o *Orchestrator) HandleTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	ctx, span := o.tracer.Start(ctx, "HandleTurn", trace.WithAttributes(attribute.String("project_id", req.ProjectID.String())))
	defer span.End()

	req.Utterance = strings.TrimSpace(req.Utterance)
	if req.ProjectID == uuid.Nil || req.Utterance == "" {
		return nil, invalid("project_id and a non-empty message are required")
	}
	if req.CorrelationID == "" {
		req.CorrelationID = uuid.NewString()
	}

	msg, created, err := o.store.CreateMessage(ctx, &db.Message{
		ProjectID:     req.ProjectID,
		Role:          db.RoleUser,
		Content:       req.Utterance,
		Status:        db.MessageStatusPending,
		CorrelationID: req.CorrelationID,
		SceneID:       db.NullUUID(req.TargetSceneID),
	})
	if err != nil {
		return nil, classify(fmt.Errorf("failed to store message: %w", err))
	}
	if !created {
		log.WithField("project_id", req.ProjectID).Infof("HandleTurn: correlation id %q already handled as message %s", req.CorrelationID, msg.ID)
		return o.replay(ctx, msg)
	}

	key := sessionKey(req)
	decision, err := o.route(ctx, req, msg.ID, key)
	if err != nil {
		return nil, o.fail(ctx, msg, router.Decision{}, err, span)
	}
	span.SetAttributes(attribute.String("operation", string(decision.Operation)))
	log.WithFields(log.Fields{"project_id": req.ProjectID, "operation": decision.Operation, "target": decision.TargetSceneID}).
		Infof("HandleTurn: %s", decision.Reasoning)

	res := &TurnResult{Message: msg, Decision: decision}
	switch decision.Operation {
	case router.OpClarify:
	case router.OpCreate:
		err = o.create(ctx, req, msg.ID, res)
	case router.OpEdit:
		err = o.edit(ctx, req, msg.ID, res)
	case router.OpTrim:
		err = o.trim(ctx, req, msg.ID, res)
	case router.OpDelete:
		err = o.remove(ctx, req, msg.ID, res)
	default:
		err = fmt.Errorf("unknown operation %q", decision.Operation)
	}
	if err != nil {
		return nil, o.fail(ctx, msg, decision, err, span)
	}
	return o.succeed(ctx, req, key, res), nil
}

func sessionKey(req TurnRequest) string {
	if req.SessionID != "" {
		return req.SessionID
	}
	return req.ProjectID.String()
}

// route loads the storyboard and recent history and asks the router.
func (o *Orchestrator) route(ctx context.Context, req TurnRequest, current uuid.UUID, key string) (router.Decision, error) {
	scenes, err := o.store.ListScenes(ctx, req.ProjectID)
	if err != nil {
		return router.Decision{}, fmt.Errorf("failed to list scenes: %w", err)
	}
	msgs, err := o.store.ListMessages(ctx, req.ProjectID, historyLimit+1)
	if err != nil {
		return router.Decision{}, fmt.Errorf("failed to list messages: %w", err)
	}

	history := make([]router.Turn, 0, len(msgs))
	for _, m := range msgs {
		if m.ID == current {
			continue
		}
		history = append(history, router.Turn{Role: m.Role, Content: m.Content, SceneID: m.SceneID.UUID})
	}
	return router.Route(router.Input{
		Utterance:             req.Utterance,
		Storyboard:            Storyboard(scenes),
		History:               history,
		ExplicitTargetSceneID: req.TargetSceneID,
		Session:               o.sessions.Get(key),
	}), nil
}

// Storyboard converts ordered scenes into the router's view of them.
func Storyboard(scenes []db.Scene) router.Storyboard {
	sb := make(router.Storyboard, len(scenes))
	for i, s := range scenes {
		sb[i] = router.SceneSummary{ID: s.ID, Name: s.Name, Duration: s.Duration, UpdatedAt: s.UpdatedAt}
	}
	return sb
}

func (o *Orchestrator) create(ctx context.Context, req TurnRequest, messageID uuid.UUID, res *TurnResult) error {
	scenes, err := o.store.ListScenes(ctx, req.ProjectID)
	if err != nil {
		return fmt.Errorf("failed to list scenes: %w", err)
	}
	nr := synthesis.NewRequest{
		Prompt:        req.Utterance,
		ReferenceCode: req.ReferenceCode,
		Guidance:      fmt.Sprintf("This will be scene %d of the video.", len(scenes)+1),
	}
	if nr.ReferenceCode == "" && res.Decision.ReferenceSceneID != uuid.Nil {
		for _, s := range scenes {
			if s.ID == res.Decision.ReferenceSceneID {
				nr.ReferenceCode = s.Code
			}
		}
	}
	if len(req.Images) > 0 {
		nr.Visual = &synthesis.Visual{Images: req.Images}
	}

	start := time.Now()
	out, err := o.synth.SynthesizeNew(ctx, nr)
	metrics.SynthesisSeconds.WithLabelValues("new").Observe(time.Since(start).Seconds())
	if err != nil {
		return err
	}

	scene, it, err := o.ledger.Record(ctx, db.SceneChange{
		Kind: db.ChangeInsert,
		Scene: db.Scene{
			ProjectID: req.ProjectID,
			Name:      out.ComponentName,
			Duration:  out.Duration,
			Code:      out.Code,
			Status:    db.SceneStatusBuilding,
		},
		Iteration: db.Iteration{
			ProjectID:     req.ProjectID,
			Operation:     db.OpCreate,
			Prompt:        req.Utterance,
			CodeAfter:     db.NullString(out.Code),
			DurationAfter: db.NullInt(out.Duration),
			Metadata:      metadata(out),
			MessageID:     db.NullUUID(messageID),
		},
	})
	if err != nil {
		return err
	}
	res.Decision.TargetSceneID = scene.ID
	res.Decision.TargetIndex = len(scenes) + 1
	res.Scene, res.Iteration, res.Synthesis = o.build(ctx, scene), it, out
	return nil
}

func (o *Orchestrator) edit(ctx context.Context, req TurnRequest, messageID uuid.UUID, res *TurnResult) error {
	unlock, current, err := o.lockScene(ctx, res.Decision.TargetSceneID)
	if err != nil {
		return err
	}
	defer unlock()

	prompt := req.Utterance
	if res.Decision.Instruction != "" {
		prompt = res.Decision.Instruction
	}
	start := time.Now()
	out, err := o.synth.SynthesizeEdit(ctx, synthesis.EditRequest{Prompt: prompt, ExistingCode: current.Code})
	metrics.SynthesisSeconds.WithLabelValues("edit").Observe(time.Since(start).Seconds())
	if err != nil {
		return err
	}

	next := *current
	next.Code = out.Code
	next.Duration = out.Duration
	next.Status = db.SceneStatusBuilding
	next.BuildError = db.NullString("")
	if next.Name == "" {
		next.Name = out.ComponentName
	}
	scene, it, err := o.ledger.Record(ctx, db.SceneChange{
		Kind:            db.ChangeUpdate,
		Scene:           next,
		ExpectedVersion: current.Version,
		Iteration: db.Iteration{
			ProjectID:      current.ProjectID,
			Operation:      db.OpEdit,
			Prompt:         prompt,
			CodeBefore:     db.NullString(current.Code),
			CodeAfter:      db.NullString(out.Code),
			DurationBefore: db.NullInt(current.Duration),
			DurationAfter:  db.NullInt(out.Duration),
			Metadata:       metadata(out),
			MessageID:      db.NullUUID(messageID),
		},
	})
	if err != nil {
		return err
	}
	res.Scene, res.Iteration, res.Synthesis = o.build(ctx, scene), it, out
	return nil
}

// trim changes only the duration; the code stays byte-identical.
func (o *Orchestrator) trim(ctx context.Context, req TurnRequest, messageID uuid.UUID, res *TurnResult) error {
	unlock, current, err := o.lockScene(ctx, res.Decision.TargetSceneID)
	if err != nil {
		return err
	}
	defer unlock()

	frames := timing.Clamp(res.Decision.DurationFrames)
	next := *current
	next.Duration = frames
	scene, it, err := o.ledger.Record(ctx, db.SceneChange{
		Kind:            db.ChangeUpdate,
		Scene:           next,
		ExpectedVersion: current.Version,
		Iteration: db.Iteration{
			ProjectID:      current.ProjectID,
			Operation:      db.OpTrim,
			Prompt:         req.Utterance,
			CodeBefore:     db.NullString(current.Code),
			CodeAfter:      db.NullString(current.Code),
			DurationBefore: db.NullInt(current.Duration),
			DurationAfter:  db.NullInt(frames),
			MessageID:      db.NullUUID(messageID),
		},
	})
	if err != nil {
		return err
	}
	res.Scene, res.Iteration = scene, it
	return nil
}

func (o *Orchestrator) remove(ctx context.Context, req TurnRequest, messageID uuid.UUID, res *TurnResult) error {
	unlock, current, err := o.lockScene(ctx, res.Decision.TargetSceneID)
	if err != nil {
		return err
	}
	defer unlock()

	_, it, err := o.ledger.Record(ctx, db.SceneChange{
		Kind:            db.ChangeDelete,
		Scene:           db.Scene{ID: current.ID},
		ExpectedVersion: current.Version,
		Iteration: db.Iteration{
			ProjectID:      current.ProjectID,
			Operation:      db.OpDelete,
			Prompt:         req.Utterance,
			CodeBefore:     db.NullString(current.Code),
			DurationBefore: db.NullInt(current.Duration),
			MessageID:      db.NullUUID(messageID),
		},
	})
	if err != nil {
		return err
	}
	res.Iteration = it
	return nil
}

// lockScene takes the scene's write lock and reads it under the lock.
func (o *Orchestrator) lockScene(ctx context.Context, id uuid.UUID) (func(), *db.Scene, error) {
	if id == uuid.Nil {
		return nil, nil, &TurnError{Code: CodeNotFound, Message: "There is no scene to change yet."}
	}
	unlock := o.locks.Lock(id)
	scene, err := o.store.GetScene(ctx, id)
	if err != nil {
		unlock()
		return nil, nil, fmt.Errorf("failed to load scene %s: %w", id, err)
	}
	return unlock, scene, nil
}

// build compiles scene, stores the artifact and flips the scene to ready.
// Failures leave the scene in the error state for the rebuild pass; the
// change itself is already recorded.
func (o *Orchestrator) build(ctx context.Context, scene *db.Scene) *db.Scene {
	ctx, span := o.tracer.Start(ctx, "build", trace.WithAttributes(attribute.String("scene_id", scene.ID.String())))
	defer span.End()

	out := *scene
	url, err := o.compileAndStore(ctx, scene)
	status, reason := db.SceneStatusReady, ""
	if err != nil {
		span.RecordError(err)
		status, reason = db.SceneStatusError, err.Error()
		log.WithField("scene_id", scene.ID).Warnf("build: %v", err)
	}
	if err := o.store.UpdateSceneBuild(ctx, scene.ID, scene.Version, url, status, reason); err != nil {
		// A newer version owns the build state now.
		log.WithField("scene_id", scene.ID).Warnf("build: failed to update build state: %v", err)
		return &out
	}
	out.JSURL, out.Status, out.BuildError = db.NullString(url), status, db.NullString(reason)
	return &out
}

func (o *Orchestrator) compileAndStore(ctx context.Context, scene *db.Scene) (string, error) {
	js, err := sandbox.Compile(ctx, scene.Code)
	if err != nil {
		return "", fmt.Errorf("failed to compile scene: %w", err)
	}
	if o.artifacts == nil {
		return "", fmt.Errorf("no artifact store configured")
	}
	url, err := o.artifacts.Put(ctx, objectstore.ArtifactKey(scene.ID, js), []byte(js), "application/javascript")
	if err != nil {
		return "", fmt.Errorf("failed to store artifact: %w", err)
	}
	return url, nil
}

func (o *Orchestrator) succeed(ctx context.Context, req TurnRequest, key string, res *TurnResult) *TurnResult {
	d := res.Decision
	msg := res.Message
	if err := o.store.UpdateMessageStatus(ctx, msg.ID, db.MessageStatusSuccess, ""); err != nil {
		log.Errorf("HandleTurn: failed to mark message %s as success: %v", msg.ID, err)
	} else {
		msg.Status = db.MessageStatusSuccess
	}

	touched := d.TargetSceneID
	summary := summarize(d, res)
	reply, _, err := o.store.CreateMessage(ctx, &db.Message{
		ProjectID:     req.ProjectID,
		Role:          db.RoleAssistant,
		Content:       summary,
		Status:        db.MessageStatusSuccess,
		CorrelationID: req.CorrelationID + ":reply",
		SceneID:       db.NullUUID(touched),
	})
	if err != nil {
		log.Errorf("HandleTurn: failed to store reply for message %s: %v", msg.ID, err)
	}
	res.Reply = reply

	if d.Operation == router.OpDelete {
		touched = uuid.Nil
	}
	o.sessions.Advance(key, d, touched)

	res.Event = o.publish(notify.Event{
		Type:      notify.EventTurn,
		ProjectID: req.ProjectID,
		Operation: string(d.Operation),
		SceneID:   d.TargetSceneID,
		Success:   true,
		Summary:   summary,
		MessageID: msg.ID,
	})
	metrics.TurnsTotal.WithLabelValues(string(d.Operation), "ok").Inc()
	return res
}

func (o *Orchestrator) fail(ctx context.Context, msg *db.Message, d router.Decision, err error, span trace.Span) *TurnError {
	te := classify(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, te.Code)

	if uerr := o.store.UpdateMessageStatus(ctx, msg.ID, db.MessageStatusError, te.Message); uerr != nil {
		log.Errorf("HandleTurn: failed to mark message %s as error: %v", msg.ID, uerr)
	}
	op := string(d.Operation)
	if op == "" {
		op = "unrouted"
	}
	entry := log.WithFields(log.Fields{"project_id": msg.ProjectID, "operation": op, "code": te.Code})
	if te.Code == CodeInternal {
		entry.Errorf("HandleTurn: %v", err)
	} else {
		entry.Warnf("HandleTurn: %v", err)
	}

	o.publish(notify.Event{
		Type:      notify.EventTurn,
		ProjectID: msg.ProjectID,
		Operation: op,
		SceneID:   d.TargetSceneID,
		Summary:   te.Message,
		ErrorCode: te.Code,
		MessageID: msg.ID,
	})
	metrics.TurnsTotal.WithLabelValues(op, te.Code).Inc()
	return te
}

// replay answers a retried correlation id from what the first attempt stored.
func (o *Orchestrator) replay(ctx context.Context, msg *db.Message) (*TurnResult, error) {
	switch msg.Status {
	case db.MessageStatusPending:
		return nil, &TurnError{Code: CodeStillProcessing, Message: "This message is still being processed.", Retryable: true}
	case db.MessageStatusError:
		return nil, &TurnError{Code: CodeInvalidRequest, Message: "This message already failed: " + msg.ErrorText.String}
	}

	res := &TurnResult{Message: msg, Duplicate: true}
	its, err := o.store.ListIterationsByMessage(ctx, msg.ID)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to list iterations: %w", err))
	}
	if len(its) > 0 {
		it := its[len(its)-1]
		res.Iteration = &it
		res.Decision = router.Decision{Operation: router.Operation(it.Operation), TargetSceneID: it.SceneID}
		if scene, err := o.store.GetScene(ctx, it.SceneID); err == nil {
			res.Scene = scene
		}
	} else {
		res.Decision = router.Decision{Operation: router.OpClarify}
	}
	return res, nil
}

func summarize(d router.Decision, res *TurnResult) string {
	seconds := func(frames int) string {
		return strings.TrimSuffix(strings.TrimSuffix(fmt.Sprintf("%.2f", timing.FramesToSeconds(frames)), "0"), ".0") + "s"
	}
	switch d.Operation {
	case router.OpClarify:
		return d.Question
	case router.OpCreate:
		return fmt.Sprintf("Created scene %d (%s, %s).", d.TargetIndex, res.Scene.Name, seconds(res.Scene.Duration))
	case router.OpEdit:
		return fmt.Sprintf("Updated scene %d.", d.TargetIndex)
	case router.OpTrim:
		return fmt.Sprintf("Scene %d now lasts %s.", d.TargetIndex, seconds(res.Scene.Duration))
	case router.OpDelete:
		return fmt.Sprintf("Deleted scene %d.", d.TargetIndex)
	}
	return ""
}

func metadata(out *synthesis.Result) []byte {
	b, err := json.Marshal(out)
	if err != nil {
		return nil
	}
	return b
}
