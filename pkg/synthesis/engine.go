// Package synthesis turns prompts into scene code that satisfies the sandbox
// contract. Every result has passed the validator; anything that cannot be
// repaired after two generations fails the turn.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ASHISH26940/scene-orchestrator-api/pkg/llm"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/sandbox"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/timing"
	"github.com/cenkalti/backoff/v5"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrGenerationTimeout is returned when the provider does not answer in time.
	ErrGenerationTimeout = errors.New("code generation timed out")
	// ErrProviderFailure is returned when the provider keeps failing.
	ErrProviderFailure = errors.New("code generation provider failed")
	// ErrSynthesisFailed is returned when two generations in a row violate
	// the sandbox contract beyond repair.
	ErrSynthesisFailed = errors.New("generated code failed validation")
)

// maxValidationAttempts bounds generations per request.
const maxValidationAttempts = 2

// Visual is an optional image reference for a new scene.
type Visual struct {
	Images []llm.Image
}

type NewRequest struct {
	Prompt        string
	ReferenceCode string
	Visual        *Visual
	Guidance      string
}

type EditRequest struct {
	Prompt       string
	ExistingCode string
	// Scope names the part of the scene the edit concerns, when known.
	Scope string
}

// Result is validated scene code plus what it took to produce it.
type Result struct {
	Code          string              `json:"-"`
	Duration      int                 `json:"duration"`
	ComponentName string              `json:"component_name"`
	Repairs       []sandbox.Violation `json:"repairs,omitempty"`
	Model         string              `json:"model"`
	ElapsedMS     int64               `json:"elapsed_ms"`
	Generations   int                 `json:"generations"`
	VisualMode    string              `json:"visual_mode,omitempty"`
	Diff          *DiffStats          `json:"diff,omitempty"`
	ScopeRetried  bool                `json:"scope_retried,omitempty"`
}

type Options struct {
	Timeout time.Duration
	// Retries is the number of extra provider calls after a transient failure.
	Retries int
	// MaxScopedChange is the share of original lines a scoped edit may rewrite.
	MaxScopedChange float64
	// RetryInterval is the first backoff interval between provider calls.
	RetryInterval time.Duration
}

type Engine struct {
	gen       llm.Generator
	validator *sandbox.Validator
	opts      Options
}

func NewEngine(gen llm.Generator, validator *sandbox.Validator, opts Options) *Engine {
	if opts.Timeout <= 0 {
		opts.Timeout = 90 * time.Second
	}
	if opts.MaxScopedChange <= 0 {
		opts.MaxScopedChange = 0.5
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 500 * time.Millisecond
	}
	if validator == nil {
		validator = sandbox.New()
	}
	return &Engine{gen: gen, validator: validator, opts: opts}
}

// requestedDuration returns the duration a prompt asks for, or the default.
func requestedDuration(prompt string) (int, bool) {
	if phrase, ok := timing.FindDuration(prompt); ok {
		return timing.Clamp(phrase.Frames), true
	}
	return timing.DefaultDurationFrames, false
}

// SynthesizeNew generates a new scene.
func (e *Engine) SynthesizeNew(ctx context.Context, req NewRequest) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()
	start := time.Now()

	frames, explicit := requestedDuration(req.Prompt)
	llmReq := llm.Request{
		SystemPrompt:  systemPrompt,
		UserPrompt:    newScenePrompt(req, frames, explicit),
		ReferenceCode: req.ReferenceCode,
	}
	if req.Visual != nil {
		llmReq.Images = req.Visual.Images
	}

	res, err := e.generateValid(ctx, llmReq, frames, explicit)
	if err != nil {
		return nil, err
	}
	if req.Visual != nil && len(req.Visual.Images) > 0 {
		res.VisualMode = VisualMode(req.Prompt)
	}
	res.ElapsedMS = time.Since(start).Milliseconds()
	log.WithFields(log.Fields{"duration": res.Duration, "generations": res.Generations}).
		Infof("SynthesizeNew: generated %s", res.ComponentName)
	return res, nil
}

// SynthesizeEdit modifies existing scene code. A scoped edit that rewrote
// more than MaxScopedChange of the original is retried once with a stricter
// instruction.
func (e *Engine) SynthesizeEdit(ctx context.Context, req EditRequest) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()
	start := time.Now()

	frames, explicit := requestedDuration(req.Prompt)
	llmReq := llm.Request{
		SystemPrompt:  systemPrompt,
		UserPrompt:    editPrompt(req, frames, explicit, false),
		ReferenceCode: req.ExistingCode,
	}
	res, err := e.generateValid(ctx, llmReq, frames, explicit)
	if err != nil {
		return nil, err
	}
	stats, err := Measure(req.ExistingCode, res.Code)
	if err != nil {
		log.Warnf("SynthesizeEdit: could not measure edit: %v", err)
	}
	res.Diff = &stats

	if err == nil && scoped(req.Prompt, req.Scope) && stats.ChangedShare() > e.opts.MaxScopedChange {
		log.WithField("changed_share", stats.ChangedShare()).Warn("SynthesizeEdit: scoped edit rewrote too much, retrying strictly")
		llmReq.UserPrompt = editPrompt(req, frames, explicit, true)
		strict, strictErr := e.generateValid(ctx, llmReq, frames, explicit)
		if strictErr != nil {
			return nil, strictErr
		}
		strictStats, err := Measure(req.ExistingCode, strict.Code)
		if err == nil && strictStats.ChangedShare() <= stats.ChangedShare() {
			strict.Generations += res.Generations
			res, stats = strict, strictStats
			res.Diff = &stats
		} else {
			res.Generations += strict.Generations
		}
		res.ScopeRetried = true
	}

	res.ElapsedMS = time.Since(start).Milliseconds()
	log.WithFields(log.Fields{"duration": res.Duration, "lines_removed": stats.LinesRemoved, "lines_added": stats.LinesAdded}).
		Infof("SynthesizeEdit: edited %s", res.ComponentName)
	return res, nil
}

// generateValid calls the provider until the output validates, at most
// maxValidationAttempts times.
func (e *Engine) generateValid(ctx context.Context, req llm.Request, frames int, explicit bool) (*Result, error) {
	base := req.UserPrompt
	var last *sandbox.Result

	for attempt := 1; attempt <= maxValidationAttempts; attempt++ {
		raw, err := e.call(ctx, req)
		if err != nil {
			return nil, err
		}
		v, err := e.validator.Validate(ctx, raw)
		if err != nil {
			return nil, e.classify(ctx, err)
		}
		if !v.OK {
			last = v
			log.WithField("attempt", attempt).Warnf("generateValid: output violates the sandbox contract: %s", v.Summary())
			req.UserPrompt = repairPrompt(base, v.Unfixable())
			continue
		}

		code := v.RepairedCode
		if explicit && v.ExtractedDuration != frames {
			if code, err = sandbox.SetDurationConstant(ctx, code, frames); err != nil {
				return nil, e.classify(ctx, err)
			}
			if v, err = e.validator.Validate(ctx, code); err != nil {
				return nil, e.classify(ctx, err)
			}
			code = v.RepairedCode
		}
		return &Result{
			Code:          code,
			Duration:      v.ExtractedDuration,
			ComponentName: v.ComponentName,
			Repairs:       v.Violations,
			Model:         e.gen.Model(),
			Generations:   attempt,
		}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrSynthesisFailed, last.Summary())
}

// call asks the provider once, retrying transient failures with backoff.
func (e *Engine) call(ctx context.Context, req llm.Request) (string, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.opts.RetryInterval

	out, err := backoff.Retry(ctx, func() (string, error) {
		out, err := e.gen.Generate(ctx, req)
		if err != nil && !llm.Transient(err) {
			return "", backoff.Permanent(err)
		}
		return out, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(e.opts.Retries+1)))
	if err != nil {
		return "", e.classify(ctx, err)
	}
	return out, nil
}

func (e *Engine) classify(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrGenerationTimeout, e.opts.Timeout)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrProviderFailure, err)
}
