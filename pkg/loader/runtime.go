package loader

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ASHISH26940/scene-orchestrator-api/pkg/sandbox"
	"github.com/dop251/goja"
)

// prelude binds the globals scene scripts expect. Nothing renders here: the
// stubs only need to let top-level code run to the registration.
const prelude = `
var window = globalThis;
var __noop = function () { return null; };
window.React = {
  createElement: __noop,
  Fragment: "Fragment",
  useState: function (v) { return [typeof v === "function" ? v() : v, __noop]; },
  useEffect: __noop,
  useLayoutEffect: __noop,
  useMemo: function (f) { return f(); },
  useCallback: function (f) { return f; },
  useRef: function (v) { return { current: v }; }
};
window.Remotion = new Proxy({
  useCurrentFrame: function () { return 0; },
  useVideoConfig: function () { return { fps: 30, width: 1920, height: 1080, durationInFrames: 150 }; },
  interpolate: function () { return 0; },
  spring: function () { return 0; },
  random: function () { return 0.5; },
  Easing: new Proxy({}, { get: function () { return function (x) { return x; }; } })
}, {
  get: function (target, key) { return key in target ? target[key] : __noop; }
});
`

// scriptTimeout bounds top-level evaluation of a scene script.
const scriptTimeout = 2 * time.Second

// componentHints rank heuristic candidates.
var componentHints = []string{"Scene", "Component"}

type evaluation struct {
	name      string
	heuristic bool
}

var errNoComponent = errors.New("script registered no component")

// evaluate runs js in a fresh VM and returns the registered component. With
// scan set, a script that registers nothing falls back to the newest
// capitalized global function. That scan is a guess: which globals a script
// leaves behind depends on how it was written.
func evaluate(ctx context.Context, js string, scan bool) (evaluation, error) {
	vm := goja.New()
	if _, err := vm.RunString(prelude); err != nil {
		return evaluation{}, fmt.Errorf("failed to bind globals: %w", err)
	}
	before := globalNames(vm)

	ctx, cancel := context.WithTimeout(ctx, scriptTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { vm.Interrupt(ctx.Err()) })
	defer stop()

	if _, err := vm.RunScript("scene.js", js); err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return evaluation{}, fmt.Errorf("%w: script did not finish: %v", ErrInvalidArtifact, interrupted.Value())
		}
		return evaluation{}, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}

	key := strings.TrimPrefix(sandbox.RegistrationTarget, "window.")
	if v := vm.GlobalObject().Get(key); callable(v) {
		return evaluation{name: functionName(vm, v)}, nil
	}
	if !scan {
		return evaluation{}, errNoComponent
	}

	var candidates []string
	for name := range globalNames(vm) {
		if before[name] || name == "" || name[0] < 'A' || name[0] > 'Z' {
			continue
		}
		if callable(vm.GlobalObject().Get(name)) {
			candidates = append(candidates, name)
		}
	}
	if len(candidates) == 0 {
		return evaluation{}, errNoComponent
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		hi, hj := hinted(candidates[i]), hinted(candidates[j])
		if hi != hj {
			return hi
		}
		return candidates[i] < candidates[j]
	})
	return evaluation{name: candidates[0], heuristic: true}, nil
}

func globalNames(vm *goja.Runtime) map[string]bool {
	names := make(map[string]bool)
	for _, k := range vm.GlobalObject().Keys() {
		names[k] = true
	}
	return names
}

func callable(v goja.Value) bool {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return false
	}
	_, ok := goja.AssertFunction(v)
	return ok
}

func functionName(vm *goja.Runtime, v goja.Value) string {
	if n := v.ToObject(vm).Get("name"); n != nil && n.String() != "" {
		return n.String()
	}
	return sandbox.FallbackComponentName
}

func hinted(name string) bool {
	for _, h := range componentHints {
		if strings.Contains(name, h) {
			return true
		}
	}
	return false
}
