package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ASHISH26940/scene-orchestrator-api/pkg/db"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/metrics"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/notify"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// staleBuild is how long a scene may sit in building before the rebuild
// pass assumes its build was lost.
const staleBuild = 2 * time.Minute

// contractViolation prefixes the build error of scenes whose stored source
// cannot be repaired. Rebuilding them again cannot succeed until a new
// version is recorded.
const contractViolation = "stored code violates the scene contract"

func contractReason(version int, summary string) string {
	return fmt.Sprintf("%s (version %d): %s", contractViolation, version, summary)
}

// knownInvalid reports whether s already failed validation at its current
// version.
func knownInvalid(s db.Scene) bool {
	return strings.HasPrefix(s.BuildError.String, fmt.Sprintf("%s (version %d):", contractViolation, s.Version))
}

// RebuildReport summarizes one rebuild pass.
type RebuildReport struct {
	Attempted int               `json:"attempted"`
	Rebuilt   int               `json:"rebuilt"`
	Failed    map[string]string `json:"failed,omitempty"`
}

// RebuildScene recompiles a scene from its stored source and republishes
// the artifact. The source is never changed by a rebuild.
func (o *Orchestrator) RebuildScene(ctx context.Context, id uuid.UUID) (*db.Scene, error) {
	ctx, span := o.tracer.Start(ctx, "RebuildScene")
	defer span.End()

	unlock, current, err := o.lockScene(ctx, id)
	if err != nil {
		return nil, classify(err)
	}
	defer unlock()

	v, err := o.validator.Validate(ctx, current.Code)
	if err != nil {
		metrics.RebuildsTotal.WithLabelValues("error").Inc()
		return nil, classify(fmt.Errorf("failed to validate scene %s: %w", id, err))
	}
	if !v.OK {
		reason := contractReason(current.Version, v.Summary())
		if err := o.store.UpdateSceneBuild(ctx, id, current.Version, "", db.SceneStatusError, reason); err != nil {
			log.Warnf("RebuildScene: failed to record build error for %s: %v", id, err)
		}
		metrics.RebuildsTotal.WithLabelValues("invalid").Inc()
		o.publishRebuild(current, false, reason)
		return nil, &TurnError{Code: CodeBuildFailed, Message: reason}
	}

	repaired := *current
	repaired.Code = v.RepairedCode
	url, err := o.compileAndStore(ctx, &repaired)
	if err != nil {
		span.RecordError(err)
		if uerr := o.store.UpdateSceneBuild(ctx, id, current.Version, "", db.SceneStatusError, err.Error()); uerr != nil {
			log.Warnf("RebuildScene: failed to record build error for %s: %v", id, uerr)
		}
		metrics.RebuildsTotal.WithLabelValues("error").Inc()
		o.publishRebuild(current, false, err.Error())
		return nil, &TurnError{Code: CodeBuildFailed, Message: "The scene could not be rebuilt.", Retryable: true, Err: err}
	}
	if err := o.store.UpdateSceneBuild(ctx, id, current.Version, url, db.SceneStatusReady, ""); err != nil {
		metrics.RebuildsTotal.WithLabelValues("conflict").Inc()
		return nil, classify(fmt.Errorf("failed to update build state: %w", err))
	}

	out := *current
	out.JSURL, out.Status, out.BuildError = db.NullString(url), db.SceneStatusReady, db.NullString("")
	metrics.RebuildsTotal.WithLabelValues("ok").Inc()
	log.WithField("scene_id", id).Infof("RebuildScene: republished %s", url)
	o.publishRebuild(&out, true, fmt.Sprintf("Rebuilt %s.", out.Name))
	return &out, nil
}

func (o *Orchestrator) publishRebuild(scene *db.Scene, ok bool, summary string) {
	ev := notify.Event{
		Type:      notify.EventRebuild,
		ProjectID: scene.ProjectID,
		Operation: "rebuild",
		SceneID:   scene.ID,
		Success:   ok,
		Summary:   summary,
	}
	if !ok {
		ev.ErrorCode = CodeBuildFailed
	}
	o.publish(ev)
}

// RebuildFailed rebuilds up to limit scenes in the error state, plus scenes
// whose build never finished, with bounded parallelism. Scenes that already
// failed validation at their current version are skipped.
func (o *Orchestrator) RebuildFailed(ctx context.Context, limit int) (*RebuildReport, error) {
	window := limit
	if limit > 0 {
		// Skipped scenes must not crowd out retryable ones.
		window = limit * 4
	}
	errored, err := o.store.ListScenesByStatus(ctx, db.SceneStatusError, window)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed scenes: %w", err)
	}
	var failed []db.Scene
	for _, s := range errored {
		if !knownInvalid(s) {
			failed = append(failed, s)
		}
	}
	building, err := o.store.ListScenesByStatus(ctx, db.SceneStatusBuilding, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list building scenes: %w", err)
	}
	cutoff := o.now().Add(-staleBuild)
	for _, s := range building {
		if s.UpdatedAt.Before(cutoff) {
			failed = append(failed, s)
		}
	}
	if limit > 0 && len(failed) > limit {
		failed = failed[:limit]
	}

	report := &RebuildReport{}
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, s := range failed {
		if err := o.rebuilds.Acquire(ctx, 1); err != nil {
			break
		}
		report.Attempted++
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			defer o.rebuilds.Release(1)
			_, err := o.RebuildScene(ctx, id)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if report.Failed == nil {
					report.Failed = make(map[string]string)
				}
				report.Failed[id.String()] = err.Error()
				return
			}
			report.Rebuilt++
		}(s.ID)
	}
	wg.Wait()

	if report.Attempted > 0 {
		log.WithFields(log.Fields{"attempted": report.Attempted, "rebuilt": report.Rebuilt}).Info("RebuildFailed: pass finished")
	}
	return report, ctx.Err()
}

// RunRebuilder runs a rebuild pass every interval until ctx is done. It
// also drops idle sessions.
func (o *Orchestrator) RunRebuilder(ctx context.Context, interval time.Duration, batch int) {
	if interval <= 0 {
		log.Warn("RunRebuilder: rebuild interval is not positive, background rebuilds disabled")
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := o.RebuildFailed(ctx, batch); err != nil && ctx.Err() == nil {
				log.Errorf("RunRebuilder: %v", err)
			}
			if n := o.sessions.Sweep(); n > 0 {
				log.Debugf("RunRebuilder: dropped %d idle sessions", n)
			}
		}
	}
}
