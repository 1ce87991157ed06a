// Package loader delivers scene components at playback time. It fetches the
// compiled artifact, repairs it again, evaluates it in an embedded VM to
// find the registered component and, when any of that fails, serves a
// diagnostic placeholder so one broken scene never stops the composition.
package loader

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ASHISH26940/scene-orchestrator-api/pkg/db"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/metrics"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/sandbox"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Store is the part of the scene store the loader touches. The error flag
// is its only write.
type Store interface {
	GetScene(ctx context.Context, id uuid.UUID) (*db.Scene, error)
	MarkSceneError(ctx context.Context, id uuid.UUID, reason string) (bool, error)
}

// reasonMissingArtifact prefixes the build error of scenes flagged because
// their artifact was missing.
const reasonMissingArtifact = "compiled artifact missing"

// loadTimeout bounds one shared load, fetch retries and evaluation included.
const loadTimeout = 30 * time.Second

type Options struct {
	// HeuristicScan enables the global-scan fallback for scripts that
	// register nothing.
	HeuristicScan bool
	// FlagCooldown is the minimum time between error flags for one scene.
	FlagCooldown time.Duration
	HTTPClient   *http.Client
	// FetchAttempts bounds tries per fetch, retries included.
	FetchAttempts uint
	RetryInterval time.Duration
}

type LoadOptions struct {
	// Refresh bypasses caches between the loader and storage.
	Refresh bool
}

// Outcome is either a component or a fallback, never both.
type Outcome struct {
	SceneID       uuid.UUID           `json:"scene_id"`
	ComponentName string              `json:"component_name,omitempty"`
	Script        string              `json:"-"`
	Repairs       []sandbox.Violation `json:"repairs,omitempty"`
	// Heuristic is set when the component was found by scanning globals.
	Heuristic bool      `json:"heuristic,omitempty"`
	Fallback  *Fallback `json:"fallback,omitempty"`
	// Flagged is set when this load moved the scene to the error state.
	Flagged bool `json:"flagged,omitempty"`
}

// JS is what the player should execute.
func (o *Outcome) JS() string {
	if o.Fallback != nil {
		return o.Fallback.Script
	}
	return o.Script
}

type Loader struct {
	store     Store
	fetcher   *fetcher
	validator *sandbox.Validator
	opts      Options
	group     singleflight.Group

	mu      sync.Mutex
	flagged map[uuid.UUID]time.Time
	now     func() time.Time
}

func New(store Store, opts Options) *Loader {
	if opts.FlagCooldown <= 0 {
		opts.FlagCooldown = 5 * time.Minute
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if opts.FetchAttempts == 0 {
		opts.FetchAttempts = 3
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 200 * time.Millisecond
	}
	l := &Loader{
		store:     store,
		validator: sandbox.NewWithOptions(sandbox.Options{Compiled: true, Stage: "load"}),
		opts:      opts,
		flagged:   make(map[uuid.UUID]time.Time),
		now:       time.Now,
	}
	l.fetcher = &fetcher{client: opts.HTTPClient, attempts: opts.FetchAttempts, interval: opts.RetryInterval, now: l.clock}
	return l
}

// SetClock overrides the time source for cooldowns and cache busting.
func (l *Loader) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

func (l *Loader) clock() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.now()
}

// Load returns the scene's component or a placeholder. The error is
// non-nil only for store failures and cancellation; every scene-level
// problem becomes a Fallback.
func (l *Loader) Load(ctx context.Context, sceneID uuid.UUID, opts LoadOptions) (*Outcome, error) {
	key := sceneID.String()
	if opts.Refresh {
		key += ":refresh"
	}
	ch := l.group.DoChan(key, func() (any, error) {
		// Coalesced callers share this load, so it must outlive whichever
		// caller started it.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		return l.load(ctx, sceneID, opts)
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}
	out := res.Val.(*Outcome)
	result := "component"
	if out.Fallback != nil {
		result = out.Fallback.Kind
	}
	metrics.LoaderOutcomes.WithLabelValues(result).Inc()
	return out, nil
}

func (l *Loader) load(ctx context.Context, sceneID uuid.UUID, opts LoadOptions) (*Outcome, error) {
	out := &Outcome{SceneID: sceneID}

	scene, err := l.store.GetScene(ctx, sceneID)
	if errors.Is(err, db.ErrNotFound) {
		out.Fallback = notFound()
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load scene %s: %w", sceneID, err)
	}

	switch scene.Status {
	case db.SceneStatusBuilding:
		out.Fallback = loading()
		return out, nil
	case db.SceneStatusError:
		if strings.HasPrefix(scene.BuildError.String, reasonMissingArtifact) {
			out.Fallback = missingArtifact()
		} else {
			out.Fallback = buildError(scene.BuildError.String)
		}
		return out, nil
	}

	if !scene.JSURL.Valid || scene.JSURL.String == "" {
		out.Fallback = missingArtifact()
		out.Flagged = l.flag(ctx, scene, reasonMissingArtifact+": scene has no artifact url")
		return out, nil
	}

	js, err := l.fetcher.fetch(ctx, scene.JSURL.String, opts.Refresh)
	switch {
	case errors.Is(err, ErrArtifactNotFound):
		out.Fallback = missingArtifact()
		out.Flagged = l.flag(ctx, scene, reasonMissingArtifact+": not in storage")
		return out, nil
	case errors.Is(err, ErrInvalidArtifact):
		return l.invalid(ctx, out, scene, err), nil
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case err != nil:
		log.WithField("scene_id", sceneID).Warnf("Load: artifact fetch failed: %v", err)
		out.Fallback = unavailable()
		return out, nil
	}

	script, repairs, err := l.prepare(ctx, js)
	out.Repairs = repairs
	if err != nil {
		return l.invalid(ctx, out, scene, err), nil
	}

	ev, err := evaluate(ctx, script, l.opts.HeuristicScan)
	if err != nil {
		return l.invalid(ctx, out, scene, err), nil
	}
	if ev.heuristic {
		log.WithField("scene_id", sceneID).Warnf("Load: no registration, guessed component %s from globals", ev.name)
		script = fmt.Sprintf("%s\n%s = %s;\n", script, sandbox.RegistrationTarget, ev.name)
	}
	out.ComponentName = ev.name
	out.Heuristic = ev.heuristic
	out.Script = script
	return out, nil
}

// prepare compiles leftover JSX and re-applies the repair rules.
func (l *Loader) prepare(ctx context.Context, js string) (string, []sandbox.Violation, error) {
	if sandbox.HasJSX(ctx, js) {
		compiled, err := sandbox.Compile(ctx, js)
		if err != nil {
			return "", nil, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
		}
		js = compiled
	}
	res, err := l.validator.Validate(ctx, js)
	if err != nil {
		return "", nil, err
	}
	for _, v := range res.Unfixable() {
		// A missing registration may still be recovered by evaluation.
		if v.Rule == sandbox.RuleMissingRegistration && l.opts.HeuristicScan {
			continue
		}
		return "", res.Violations, fmt.Errorf("%w: %s", ErrInvalidArtifact, res.Summary())
	}
	return res.RepairedCode, res.Violations, nil
}

func (l *Loader) invalid(ctx context.Context, out *Outcome, scene *db.Scene, cause error) *Outcome {
	log.WithField("scene_id", scene.ID).Warnf("Load: artifact unusable: %v", cause)
	out.Fallback = buildError(cause.Error())
	out.Flagged = l.flag(ctx, scene, cause.Error())
	return out
}

// flag moves a scene to the error state at most once per cooldown window.
func (l *Loader) flag(ctx context.Context, scene *db.Scene, reason string) bool {
	l.mu.Lock()
	now := l.now()
	if last, ok := l.flagged[scene.ID]; ok && now.Sub(last) < l.opts.FlagCooldown {
		l.mu.Unlock()
		return false
	}
	for id, at := range l.flagged {
		if now.Sub(at) >= l.opts.FlagCooldown {
			delete(l.flagged, id)
		}
	}
	l.flagged[scene.ID] = now
	l.mu.Unlock()

	flipped, err := l.store.MarkSceneError(ctx, scene.ID, reason)
	if err != nil {
		log.WithField("scene_id", scene.ID).Errorf("Load: failed to flag scene: %v", err)
		l.mu.Lock()
		delete(l.flagged, scene.ID)
		l.mu.Unlock()
		return false
	}
	if flipped {
		metrics.SceneErrorFlags.Inc()
		log.WithField("scene_id", scene.ID).Warnf("Load: flagged scene for rebuild: %s", reason)
	}
	return flipped
}
