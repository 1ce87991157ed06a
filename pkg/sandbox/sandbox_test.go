package sandbox

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validate(t *testing.T, code string) *Result {
	t.Helper()
	res, err := New().Validate(context.Background(), code)
	require.NoError(t, err)
	return res
}

func rules(vs []Violation) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.Rule)
	}
	return out
}

func TestValidateRewritesImports(t *testing.T) {
	code := `import React from "react";
import { AbsoluteFill, Sequence as Seq, useCurrentFrame } from "remotion";
import * as R from "remotion";

export default function Intro() {
  const frame = useCurrentFrame();
  return <AbsoluteFill><Seq from={0}>{R.Easing ? frame : 0}</Seq></AbsoluteFill>;
}
window.__REMOTION_COMPONENT = Intro;
`
	res := validate(t, code)

	assert.True(t, res.OK, res.Summary())
	assert.NotContains(t, res.RepairedCode, "import ")
	assert.Contains(t, res.RepairedCode, "const { AbsoluteFill, Sequence: Seq, useCurrentFrame } = window.Remotion;")
	assert.Contains(t, res.RepairedCode, "const R = window.Remotion;")
	assert.NotContains(t, res.RepairedCode, "window.React")
	assert.Subset(t, rules(res.Violations), []string{RuleDefaultImport, RuleNamedImport, RuleNamespaceImport})
	assert.Equal(t, 1, strings.Count(res.RepairedCode, RegistrationTarget))
	assert.Equal(t, "Intro", res.ComponentName)
}

func TestValidateSkipsNamesAlreadyDeclared(t *testing.T) {
	code := `import { AbsoluteFill, interpolate } from "remotion";
const { interpolate } = window.Remotion;
export default function A() { return <AbsoluteFill />; }
window.__REMOTION_COMPONENT = A;
`
	res := validate(t, code)
	require.True(t, res.OK, res.Summary())
	assert.Contains(t, res.RepairedCode, "const { AbsoluteFill } = window.Remotion;")
}

func TestValidateRejectsForeignImports(t *testing.T) {
	res := validate(t, `import _ from "lodash";
export default function A() { return null; }
window.__REMOTION_COMPONENT = A;
`)
	assert.False(t, res.OK)
	assert.Contains(t, rules(res.Unfixable()), RuleForeignImport)
}

func TestValidateAppendsRegistration(t *testing.T) {
	res := validate(t, `export default function Title() {
  return <h1>Hi</h1>;
}`)
	require.True(t, res.OK, res.Summary())
	assert.Contains(t, res.RepairedCode, "window.__REMOTION_COMPONENT = Title;")
	assert.Equal(t, 1, strings.Count(res.RepairedCode, RegistrationTarget))
	assert.Equal(t, "Title", res.ComponentName)
}

func TestValidateCollapsesDuplicateRegistrations(t *testing.T) {
	res := validate(t, `export default function Title() { return null; }
window.__REMOTION_COMPONENT = Title;
window.__REMOTION_COMPONENT = Title;
`)
	require.True(t, res.OK, res.Summary())
	assert.Equal(t, 1, strings.Count(res.RepairedCode, RegistrationTarget))
	assert.Contains(t, rules(res.Violations), RuleDuplicateRegistration)
}

func TestValidateMovesNestedRegistrationToTopLevel(t *testing.T) {
	res := validate(t, `const { AbsoluteFill } = window.Remotion;

export default function Intro() {
  window.__REMOTION_COMPONENT = Intro;
  return <AbsoluteFill />;
}
`)
	require.True(t, res.OK, res.Summary())
	assert.Contains(t, rules(res.Violations), RuleNestedRegistration)
	assert.Equal(t, 1, strings.Count(res.RepairedCode, RegistrationTarget))
	assert.True(t, strings.HasSuffix(res.RepairedCode, "}\nwindow.__REMOTION_COMPONENT = Intro;\n"), res.RepairedCode)
	assert.Equal(t, "Intro", res.ComponentName)

	again := validate(t, res.RepairedCode)
	assert.Empty(t, again.Violations)
}

func TestValidateNestedRegistrationInExpressionIsNotFixable(t *testing.T) {
	res := validate(t, `export default function Intro() {
  return (window.__REMOTION_COMPONENT = Intro, null);
}
`)
	assert.False(t, res.OK)
	assert.Contains(t, rules(res.Unfixable()), RuleNestedRegistration)
}

func TestValidateAddsDefaultExport(t *testing.T) {
	res := validate(t, `function helper() { return 1; }
function Card() { return <div>{helper()}</div>; }
`)
	require.True(t, res.OK, res.Summary())
	assert.Contains(t, res.RepairedCode, "export default function Card()")
	assert.Contains(t, res.RepairedCode, "window.__REMOTION_COMPONENT = Card;")
}

func TestValidateNamesAnonymousDefault(t *testing.T) {
	res := validate(t, `export default () => <div />;
`)
	require.True(t, res.OK, res.Summary())
	assert.Contains(t, res.RepairedCode, "const GeneratedScene = () => <div />;")
	assert.Contains(t, res.RepairedCode, "export default GeneratedScene;")
	assert.Contains(t, res.RepairedCode, "window.__REMOTION_COMPONENT = GeneratedScene;")
}

func TestValidateAmbiguousComponentIsNotFixable(t *testing.T) {
	res := validate(t, `function A() { return null; }
function B() { return null; }
`)
	assert.False(t, res.OK)
	assert.ElementsMatch(t, []string{RuleMissingExport, RuleMissingRegistration}, rules(res.Unfixable()))
}

func TestValidateMultipleDefaultsIsNotFixable(t *testing.T) {
	res := validate(t, `export default function A() { return null; }
export default function B() { return null; }
`)
	assert.False(t, res.OK)
	assert.Contains(t, rules(res.Unfixable()), RuleMultipleDefaults)
}

func TestValidateStripsExtraExports(t *testing.T) {
	res := validate(t, `export const durationInFrames = 90;
export function helper() { return 1; }
export default function A() { return null; }
window.__REMOTION_COMPONENT = A;
`)
	require.True(t, res.OK, res.Summary())
	assert.Contains(t, res.RepairedCode, "export const durationInFrames = 90;")
	assert.Contains(t, res.RepairedCode, "\nfunction helper()")
	assert.Equal(t, 90, res.ExtractedDuration)
}

func TestValidateClampsInterpolate(t *testing.T) {
	tests := []struct {
		name string
		call string
		want string
	}{
		{
			name: "no options",
			call: `interpolate(frame, [0, 30], [0, 1])`,
			want: `interpolate(frame, [0, 30], [0, 1], { extrapolateLeft: "clamp", extrapolateRight: "clamp" })`,
		},
		{
			name: "partial options",
			call: `interpolate(frame, [0, 30], [0, 1], { extrapolateLeft: "extend" })`,
			want: `interpolate(frame, [0, 30], [0, 1], { extrapolateLeft: "clamp", extrapolateRight: "clamp" })`,
		},
		{
			name: "empty options",
			call: `interpolate(frame, [0, 30], [0, 1], {})`,
			want: `interpolate(frame, [0, 30], [0, 1], { extrapolateLeft: "clamp", extrapolateRight: "clamp" })`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := validate(t, fmt.Sprintf(`export default function A() {
  const frame = 0;
  const o = %s;
  return null;
}
window.__REMOTION_COMPONENT = A;
`, tt.call))
			require.True(t, res.OK, res.Summary())
			assert.Contains(t, res.RepairedCode, tt.want)
		})
	}
}

func TestValidateLeavesClampedInterpolateAlone(t *testing.T) {
	code := `export default function A() {
  const o = interpolate(0, [0, 30], [0, 1], { extrapolateLeft: "clamp", extrapolateRight: "clamp" });
  return null;
}
window.__REMOTION_COMPONENT = A;
`
	res := validate(t, code)
	require.True(t, res.OK, res.Summary())
	assert.Equal(t, code, res.RepairedCode)
	assert.Empty(t, res.Violations)
}

func TestValidateOpaqueInterpolateOptions(t *testing.T) {
	res := validate(t, `const opts = {};
export default function A() { return interpolate(0, [0, 1], [0, 1], opts); }
window.__REMOTION_COMPONENT = A;
`)
	assert.False(t, res.OK)
	assert.Contains(t, rules(res.Unfixable()), RuleOpaqueInterpolate)
}

func TestValidateRejectsForbiddenAPIs(t *testing.T) {
	tests := []struct {
		expr string
		rule string
	}{
		{`fetch("/x")`, RuleForbiddenAPI},
		{`window.localStorage.getItem("k")`, RuleForbiddenAPI},
		{`eval("1")`, RuleForbiddenAPI},
		{`new WebSocket("ws://x")`, RuleForbiddenAPI},
		{`require("fs")`, RuleForbiddenAPI},
		{`process.env.HOME`, RuleForbiddenAPI},
		{`import("./other")`, RuleDynamicImport},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			res := validate(t, fmt.Sprintf(`export default function A() {
  const x = %s;
  return null;
}
window.__REMOTION_COMPONENT = A;
`, tt.expr))
			assert.False(t, res.OK)
			assert.Contains(t, rules(res.Unfixable()), tt.rule)
		})
	}
}

func TestValidateSyntaxError(t *testing.T) {
	res := validate(t, "export default function A( {\n")
	assert.False(t, res.OK)
	assert.Equal(t, []string{RuleSyntaxError}, rules(res.Violations))
	assert.Equal(t, 150, res.ExtractedDuration)
}

func TestValidateStripsMarkdownFence(t *testing.T) {
	res := validate(t, "```tsx\nexport default function A() { return null; }\nwindow.__REMOTION_COMPONENT = A;\n```")
	require.True(t, res.OK, res.Summary())
	assert.NotContains(t, res.RepairedCode, "```")
	assert.Contains(t, rules(res.Violations), RuleMarkdownFence)
}

func TestExtractDuration(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"explicit constant", `export const durationInFrames = 120;`, 120},
		{"constant from fps", `const durationInFrames = 5 * fps;`, 150},
		{"explicit constant is clamped", `export const durationInFrames = 9000;`, 1800},
		{"interpolate range", `const o = (f) => interpolate(f, [0, 60], [0, 1]);`, 90},
		{"interpolate range from constants", `const END = 2 * 30; const o = (f) => interpolate(f, [10, END + 20], [0, 1]);`, 110},
		{"sequence bounds", `const s = <Sequence from={30} durationInFrames={90}><div /></Sequence>;`, 150},
		{"createElement sequence", `const s = React.createElement(Sequence, { from: 100, durationInFrames: 50 });`, 180},
		{"frame comparison", `const f = 0; const v = f > 10 ? 1 : frame >= 200 ? 2 : 3;`, 230},
		{"spring delay", `const s = spring({ frame: frame - 40, fps });`, 70},
		{"no signal", `const x = 1;`, 150},
		{"huge offset is clamped", `const o = (f) => interpolate(f, [0, 5000], [0, 1]);`, 1800},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code := tt.body + "\nexport default function A() { return null; }\nwindow.__REMOTION_COMPONENT = A;\n"
			res := validate(t, code)
			assert.Equal(t, tt.want, res.ExtractedDuration)
		})
	}
}

func TestExtractDurationIsDeterministic(t *testing.T) {
	code := `const { interpolate, Sequence } = window.Remotion;
export default function A() {
  const frame = 0;
  const o = interpolate(frame, [15, 75], [0, 1]);
  return <Sequence from={20} durationInFrames={40}>{o}</Sequence>;
}
`
	first := validate(t, code)
	for i := 0; i < 5; i++ {
		again := validate(t, code)
		assert.Equal(t, first.ExtractedDuration, again.ExtractedDuration)
		assert.Equal(t, first.RepairedCode, again.RepairedCode)
	}
	assert.Equal(t, 105, first.ExtractedDuration)
}

func TestValidateCompiledMode(t *testing.T) {
	v := NewWithOptions(Options{Compiled: true, Stage: "load"})
	res, err := v.Validate(context.Background(), `function Scene() { return React.createElement("div", null); }
export default Scene;
`)
	require.NoError(t, err)
	require.True(t, res.OK, res.Summary())
	assert.NotContains(t, res.RepairedCode, "export")
	assert.Contains(t, res.RepairedCode, "window.__REMOTION_COMPONENT = Scene;")
	assert.Contains(t, rules(res.Violations), RuleCompiledExport)
}

func TestCompile(t *testing.T) {
	ctx := context.Background()
	res := validate(t, `import { AbsoluteFill } from "remotion";
export const durationInFrames = 60;
export default function Hello({ title }: { title: string }) {
  return <AbsoluteFill><h1>{title}</h1></AbsoluteFill>;
}
`)
	require.True(t, res.OK, res.Summary())

	js, err := Compile(ctx, res.RepairedCode)
	require.NoError(t, err)
	assert.Contains(t, js, "React.createElement")
	assert.Contains(t, js, "window.__REMOTION_COMPONENT = Hello")
	assert.NotContains(t, js, "export ")
	assert.NotContains(t, js, ": string")
	assert.False(t, HasJSX(ctx, js))
	assert.True(t, HasJSX(ctx, res.RepairedCode))
}

func TestCompileReportsErrors(t *testing.T) {
	_, err := Compile(context.Background(), "const = ;")
	assert.ErrorIs(t, err, ErrCompile)
}
