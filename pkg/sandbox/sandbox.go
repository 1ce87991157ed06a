// Package sandbox enforces the contract generated scene code must satisfy
// before it is stored or evaluated: no imports (capabilities come from the
// pre-bound window.Remotion and window.React globals), exactly one default
// exported component, exactly one registration assignment, no network or
// filesystem access, and clamped interpolation. Whatever can be repaired is
// rewritten in place; everything else is reported as a non-fixable violation.
package sandbox

import (
	"context"
	"strconv"
	"strings"

	"github.com/ASHISH26940/scene-orchestrator-api/pkg/metrics"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/timing"
	log "github.com/sirupsen/logrus"
)

const (
	// RegistrationTarget is assigned the entry component so the runtime
	// loader can find it without scanning globals.
	RegistrationTarget = "window.__REMOTION_COMPONENT"
	// DisallowedLibrary is the module generated code keeps trying to import.
	DisallowedLibrary = "remotion"
	// FallbackComponentName names anonymous default exports.
	FallbackComponentName = "GeneratedScene"
	// DurationBuffer is added after the last referenced frame.
	DurationBuffer = 30
)

// Repair rule names. They appear in violations, logs and metrics.
const (
	RuleMarkdownFence         = "markdown-fence"
	RuleSyntaxError           = "syntax-error"
	RuleNamespaceImport       = "namespace-import"
	RuleNamedImport           = "named-import"
	RuleDefaultImport         = "default-import"
	RuleSideEffectImport      = "side-effect-import"
	RuleForeignImport         = "foreign-import"
	RuleMissingExport         = "missing-export"
	RuleAnonymousExport       = "anonymous-export"
	RuleExtraExport           = "extra-export"
	RuleMultipleDefaults      = "multiple-default-exports"
	RuleCompiledExport        = "export-in-compiled-code"
	RuleMissingRegistration   = "missing-registration"
	RuleDuplicateRegistration = "duplicate-registration"
	RuleNestedRegistration    = "nested-registration"
	RuleUnclampedInterpolate  = "unclamped-interpolate"
	RuleOpaqueInterpolate     = "opaque-interpolate-options"
	RuleForbiddenAPI          = "forbidden-api"
	RuleDynamicImport         = "dynamic-import"
	RuleRepairFailed          = "repair-failed"
)

// Violation is one contract breach found in the input.
type Violation struct {
	Rule    string `json:"rule"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
	// Fixable is true when RepairedCode no longer contains the breach.
	Fixable bool `json:"fixable"`
}

// Result is the outcome of one validation pass.
type Result struct {
	// OK is true when every violation was repaired.
	OK                bool        `json:"ok"`
	RepairedCode      string      `json:"-"`
	Violations        []Violation `json:"violations"`
	ExtractedDuration int         `json:"extracted_duration"`
	// ComponentName is the registered entry component, when known.
	ComponentName string `json:"component_name,omitempty"`
}

// Unfixable returns the violations that were not repaired.
func (r *Result) Unfixable() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if !v.Fixable {
			out = append(out, v)
		}
	}
	return out
}

// Summary joins violation messages for prompts and logs.
func (r *Result) Summary() string {
	parts := make([]string, 0, len(r.Violations))
	for _, v := range r.Violations {
		parts = append(parts, v.Rule+": "+v.Message)
	}
	return strings.Join(parts, "; ")
}

// Options tune a Validator.
type Options struct {
	// Compiled selects the JavaScript grammar and the rules for esbuild
	// output: exports must be absent instead of exactly one default.
	Compiled bool
	// Stage labels log lines ("synthesis", "load", "rebuild").
	Stage string
}

// Validator checks and repairs scene code. It holds no per-call state and
// is safe for concurrent use.
type Validator struct {
	opts Options
}

// New returns a Validator for TSX source.
func New() *Validator {
	return &Validator{opts: Options{Stage: "synthesis"}}
}

// NewWithOptions returns a Validator with explicit options.
func NewWithOptions(opts Options) *Validator {
	if opts.Stage == "" {
		opts.Stage = "synthesis"
	}
	return &Validator{opts: opts}
}

// Validate checks raw against the sandbox contract, repairs what it can and
// extracts the scene duration. The error is non-nil only when ctx ends.
func (v *Validator) Validate(ctx context.Context, raw string) (*Result, error) {
	res := &Result{}
	code, fenced := stripFences(raw)
	if fenced {
		res.Violations = append(res.Violations, Violation{
			Rule: RuleMarkdownFence, Message: "removed markdown code fence", Fixable: true,
		})
	}

	p, err := parse(ctx, code, v.opts.Compiled)
	if err != nil {
		return nil, err
	}
	defer p.close()

	if bad := firstError(p.root()); bad != nil {
		res.Violations = append(res.Violations, Violation{
			Rule: RuleSyntaxError, Message: "code does not parse", Line: line(bad),
		})
		res.RepairedCode = code
		res.ExtractedDuration = timing.DefaultDurationFrames
		v.log(res)
		return res, nil
	}

	var edits []edit
	declared := topLevelNames(p)

	importEdits, importViolations := rewriteImports(p, declared)
	edits = append(edits, importEdits...)
	res.Violations = append(res.Violations, importViolations...)

	var name string
	var exportEdits []edit
	var exportViolations []Violation
	if v.opts.Compiled {
		name, exportEdits, exportViolations = stripCompiledExports(p)
	} else {
		name, exportEdits, exportViolations = normalizeExports(p)
	}
	edits = append(edits, exportEdits...)
	res.Violations = append(res.Violations, exportViolations...)

	regEdits, regViolations, registered := ensureRegistration(p, name)
	edits = append(edits, regEdits...)
	res.Violations = append(res.Violations, regViolations...)

	clampEdits, clampViolations := clampInterpolations(p)
	edits = append(edits, clampEdits...)
	res.Violations = append(res.Violations, clampViolations...)

	res.Violations = append(res.Violations, findForbidden(p)...)

	res.RepairedCode = applyEdits(code, edits)
	if registered != "" {
		res.ComponentName = registered
	} else {
		res.ComponentName = name
	}

	// The repaired code must still parse; a broken rewrite is never stored.
	check, err := parse(ctx, res.RepairedCode, v.opts.Compiled)
	if err != nil {
		return nil, err
	}
	defer check.close()
	if bad := firstError(check.root()); bad != nil {
		res.Violations = append(res.Violations, Violation{
			Rule: RuleRepairFailed, Message: "repaired code does not parse", Line: line(bad),
		})
		res.RepairedCode = code
		check = p
	}

	res.ExtractedDuration = extractDuration(check)
	res.OK = len(res.Unfixable()) == 0
	v.log(res)
	return res, nil
}

func (v *Validator) log(res *Result) {
	for _, viol := range res.Violations {
		entry := log.WithFields(log.Fields{
			"stage": v.opts.Stage,
			"rule":  viol.Rule,
			"line":  viol.Line,
		})
		metrics.RepairsTotal.WithLabelValues(viol.Rule, strconv.FormatBool(viol.Fixable)).Inc()
		if viol.Fixable {
			entry.Infof("Validate: repaired %s", viol.Message)
		} else {
			entry.Warnf("Validate: cannot repair %s", viol.Message)
		}
	}
}

// stripFences removes a surrounding markdown code fence, with or without a
// language tag.
func stripFences(code string) (string, bool) {
	trimmed := strings.TrimSpace(code)
	if !strings.HasPrefix(trimmed, "```") || !strings.HasSuffix(trimmed, "```") || len(trimmed) < 6 {
		return code, false
	}
	body := strings.TrimSuffix(trimmed[3:], "```")
	if nl := strings.IndexByte(body, '\n'); nl >= 0 && !strings.ContainsAny(body[:nl], " ({=;") {
		body = body[nl+1:]
	}
	return strings.TrimSpace(body) + "\n", true
}
