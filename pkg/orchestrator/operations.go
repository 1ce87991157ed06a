package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ASHISH26940/scene-orchestrator-api/pkg/db"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/ledger"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/notify"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/timing"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// ChangeResult is the outcome of an operation that is not a chat turn.
type ChangeResult struct {
	Scene     *db.Scene     `json:"scene"`
	Iteration *db.Iteration `json:"iteration"`
	// Restored is set when a revert recreated a deleted scene.
	Restored bool         `json:"restored,omitempty"`
	Event    notify.Event `json:"event"`
}

type RevertRequest struct {
	IterationID uuid.UUID
	SessionID   string
	// MessageID links the revert to the chat message that asked for it.
	MessageID uuid.UUID
}

// RevertIteration restores the state an iteration replaced. Reverting a
// revert re-applies the original change.
func (o *Orchestrator) RevertIteration(ctx context.Context, req RevertRequest) (*ChangeResult, error) {
	ctx, span := o.tracer.Start(ctx, "RevertIteration")
	defer span.End()

	target, err := o.store.GetIteration(ctx, req.IterationID)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to load iteration %s: %w", req.IterationID, err))
	}
	unlock := o.locks.Lock(target.SceneID)
	defer unlock()

	patch, err := o.ledger.Revert(ctx, target.ID, ledger.RevertOptions{MessageID: req.MessageID})
	if err != nil {
		span.RecordError(err)
		return nil, classify(err)
	}
	scene := o.build(ctx, patch.Scene)

	summary := fmt.Sprintf("Reverted %s #%d.", target.Operation, target.Seq)
	if patch.Restored {
		summary = fmt.Sprintf("Restored deleted scene %s.", scene.Name)
	}
	o.sessions.Touch(sessionOr(req.SessionID, target.ProjectID), scene.ID)
	return o.changed(notify.EventRevert, string(target.Operation), scene, patch.Iteration, patch.Restored, summary), nil
}

type TemplateRequest struct {
	ProjectID  uuid.UUID
	TemplateID string
	SessionID  string
}

// InsertTemplate appends a catalog scene to the project without a
// generation round trip.
func (o *Orchestrator) InsertTemplate(ctx context.Context, req TemplateRequest) (*ChangeResult, error) {
	if req.ProjectID == uuid.Nil || req.TemplateID == "" {
		return nil, invalid("project_id and template_id are required")
	}
	if o.templates == nil {
		return nil, &TurnError{Code: CodeNotFound, Message: "No template catalog is configured."}
	}
	tpl, err := o.templates.Get(req.TemplateID)
	if err != nil {
		return nil, classify(err)
	}

	v, err := o.validator.Validate(ctx, tpl.Code)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to validate template %s: %w", tpl.ID, err))
	}
	if !v.OK {
		return nil, &TurnError{Code: CodeBuildFailed, Message: fmt.Sprintf("Template %q is broken: %s", tpl.ID, v.Summary())}
	}
	duration := v.ExtractedDuration
	if duration == 0 {
		duration = timing.DefaultDurationFrames
	}
	name := tpl.Name
	if name == "" {
		name = v.ComponentName
	}
	meta, _ := json.Marshal(map[string]any{"template": tpl.ID, "repairs": v.Violations})

	scene, it, err := o.ledger.Record(ctx, db.SceneChange{
		Kind: db.ChangeInsert,
		Scene: db.Scene{
			ProjectID: req.ProjectID,
			Name:      name,
			Duration:  duration,
			Code:      v.RepairedCode,
			Status:    db.SceneStatusBuilding,
		},
		Iteration: db.Iteration{
			ProjectID:     req.ProjectID,
			Operation:     db.OpCreate,
			Prompt:        "Insert template " + tpl.ID,
			CodeAfter:     db.NullString(v.RepairedCode),
			DurationAfter: db.NullInt(duration),
			Metadata:      meta,
		},
	})
	if err != nil {
		return nil, classify(err)
	}
	scene = o.build(ctx, scene)
	o.sessions.Touch(sessionOr(req.SessionID, req.ProjectID), scene.ID)
	return o.changed(notify.EventScene, string(db.OpCreate), scene, it, false, fmt.Sprintf("Inserted template %s.", tpl.Name)), nil
}

type ManualEditRequest struct {
	SceneID uuid.UUID
	Code    string
	// ExpectedVersion, when non-zero, must match the scene's version.
	ExpectedVersion int
	SessionID       string
}

// ApplyManualEdit replaces a scene's code with hand-written source. The
// code goes through the same repairs as generated code.
func (o *Orchestrator) ApplyManualEdit(ctx context.Context, req ManualEditRequest) (*ChangeResult, error) {
	unlock, current, err := o.lockScene(ctx, req.SceneID)
	if err != nil {
		return nil, classify(err)
	}
	defer unlock()

	if req.ExpectedVersion != 0 && req.ExpectedVersion != current.Version {
		return nil, classify(fmt.Errorf("scene %s is at version %d, not %d: %w", current.ID, current.Version, req.ExpectedVersion, db.ErrVersionConflict))
	}
	v, err := o.validator.Validate(ctx, req.Code)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to validate code: %w", err))
	}
	if !v.OK {
		return nil, &TurnError{Code: CodeBuildFailed, Message: "The code cannot run as a scene: " + v.Summary()}
	}
	duration := v.ExtractedDuration
	if duration == 0 {
		duration = current.Duration
	}
	meta, _ := json.Marshal(map[string]any{"source": "manual", "repairs": v.Violations})

	next := *current
	next.Code = v.RepairedCode
	next.Duration = duration
	next.Status = db.SceneStatusBuilding
	next.BuildError = db.NullString("")
	scene, it, err := o.ledger.Record(ctx, db.SceneChange{
		Kind:            db.ChangeUpdate,
		Scene:           next,
		ExpectedVersion: current.Version,
		Iteration: db.Iteration{
			ProjectID:      current.ProjectID,
			Operation:      db.OpEdit,
			Prompt:         "Manual edit",
			CodeBefore:     db.NullString(current.Code),
			CodeAfter:      db.NullString(v.RepairedCode),
			DurationBefore: db.NullInt(current.Duration),
			DurationAfter:  db.NullInt(duration),
			Metadata:       meta,
		},
	})
	if err != nil {
		return nil, classify(err)
	}
	scene = o.build(ctx, scene)
	o.sessions.Touch(sessionOr(req.SessionID, scene.ProjectID), scene.ID)
	return o.changed(notify.EventScene, string(db.OpEdit), scene, it, false, fmt.Sprintf("Saved your changes to %s.", scene.Name)), nil
}

func sessionOr(sessionID string, projectID uuid.UUID) string {
	if sessionID != "" {
		return sessionID
	}
	return projectID.String()
}

func (o *Orchestrator) changed(eventType, op string, scene *db.Scene, it *db.Iteration, restored bool, summary string) *ChangeResult {
	ev := notify.Event{
		Type:      eventType,
		ProjectID: scene.ProjectID,
		Operation: op,
		SceneID:   scene.ID,
		Success:   true,
		Summary:   summary,
	}
	if it != nil {
		ev.MessageID = it.MessageID.UUID
	}
	ev = o.publish(ev)
	log.WithFields(log.Fields{"scene_id": scene.ID, "status": scene.Status}).Infof("%s: %s", eventType, summary)
	return &ChangeResult{Scene: scene, Iteration: it, Restored: restored, Event: ev}
}
