package sandbox

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ASHISH26940/scene-orchestrator-api/pkg/timing"
	sitter "github.com/smacker/go-tree-sitter"
)

// extractDuration returns the scene length in frames. An explicit
// durationInFrames constant wins; otherwise the highest frame referenced by
// interpolate ranges, Sequence bounds, spring delays and frame comparisons,
// plus DurationBuffer. The result is always clamped.
func extractDuration(p *parsed) int {
	env := constants(p)
	if d, ok := env[durationExport]; ok && d > 0 {
		return timing.Clamp(int(math.Ceil(d)))
	}

	highest := 0.0
	seen := false
	note := func(v float64, ok bool) {
		if ok && v > highest {
			highest = v
		}
		if ok {
			seen = true
		}
	}

	walk(p.root(), func(n *sitter.Node) bool {
		switch n.Type() {
		case "call_expression":
			switch {
			case isCallTo(p, n, "interpolate"):
				args := callArgs(n)
				if len(args) >= 2 && args[1].Type() == "array" {
					for _, el := range namedChildren(args[1]) {
						note(p.eval(el, env))
					}
				}
			case isCallTo(p, n, "spring"):
				note(springEnd(p, n, env))
			case isCallTo(p, n, "createElement"):
				args := callArgs(n)
				if len(args) >= 2 && isSequence(p.text(args[0])) && args[1].Type() == "object" {
					note(sequenceEnd(objectProps(p, args[1]), p, env))
				}
			}
		case "jsx_opening_element", "jsx_self_closing_element":
			if isSequence(p.text(n.ChildByFieldName("name"))) {
				note(sequenceEnd(jsxProps(p, n), p, env))
			}
		case "binary_expression":
			note(frameComparison(p, n, env))
		}
		return true
	})

	if !seen || highest <= 0 {
		return timing.DefaultDurationFrames
	}
	return timing.Clamp(int(math.Ceil(highest)) + DurationBuffer)
}

// constants evaluates numeric top-level constants in source order. fps is
// pre-bound to the fixed frame rate.
func constants(p *parsed) map[string]float64 {
	env := map[string]float64{"fps": timing.FPS, "FPS": timing.FPS}
	for _, stmt := range namedChildren(p.root()) {
		decl := stmt
		if stmt.Type() == "export_statement" {
			if decl = stmt.ChildByFieldName("declaration"); decl == nil {
				continue
			}
		}
		if decl.Type() != "lexical_declaration" && decl.Type() != "variable_declaration" {
			continue
		}
		for _, d := range namedChildren(decl) {
			if d.Type() != "variable_declarator" {
				continue
			}
			name := d.ChildByFieldName("name")
			if name == nil || name.Type() != "identifier" {
				continue
			}
			if v, ok := p.eval(d.ChildByFieldName("value"), env); ok {
				env[p.text(name)] = v
			}
		}
	}
	return env
}

func isSequence(name string) bool {
	return name == "Sequence" || strings.HasSuffix(name, ".Sequence")
}

func sequenceEnd(props map[string]*sitter.Node, p *parsed, env map[string]float64) (float64, bool) {
	from, hasFrom := p.eval(props["from"], env)
	dur, hasDur := p.eval(props[durationExport], env)
	switch {
	case hasFrom && hasDur:
		return from + dur, true
	case hasFrom:
		return from, true
	case hasDur:
		return dur, true
	}
	return 0, false
}

// springEnd reads the delay of a spring call, either an explicit delay or a
// shifted frame argument (frame - N), plus its configured length.
func springEnd(p *parsed, call *sitter.Node, env map[string]float64) (float64, bool) {
	args := callArgs(call)
	if len(args) == 0 || args[0].Type() != "object" {
		return 0, false
	}
	props := objectProps(p, args[0])
	delay, ok := p.eval(props["delay"], env)
	if f := props["frame"]; !ok && f != nil && f.Type() == "binary_expression" && p.text(f.ChildByFieldName("operator")) == "-" && isFrameRef(p, f.ChildByFieldName("left")) {
		delay, ok = p.eval(f.ChildByFieldName("right"), env)
	}
	if dur, hasDur := p.eval(props[durationExport], env); hasDur {
		return delay + dur, true
	}
	return delay, ok
}

func frameComparison(p *parsed, n *sitter.Node, env map[string]float64) (float64, bool) {
	switch p.text(n.ChildByFieldName("operator")) {
	case ">", ">=", "<", "<=":
	default:
		return 0, false
	}
	left, right := n.ChildByFieldName("left"), n.ChildByFieldName("right")
	switch {
	case isFrameRef(p, left):
		return p.eval(right, env)
	case isFrameRef(p, right):
		return p.eval(left, env)
	}
	return 0, false
}

func isFrameRef(p *parsed, n *sitter.Node) bool {
	if n == nil || n.Type() != "identifier" {
		return false
	}
	name := p.text(n)
	return name == "frame" || strings.HasSuffix(name, "Frame")
}

func objectProps(p *parsed, obj *sitter.Node) map[string]*sitter.Node {
	props := make(map[string]*sitter.Node)
	for _, prop := range namedChildren(obj) {
		if prop.Type() == "pair" {
			props[propertyKey(p, prop)] = prop.ChildByFieldName("value")
		}
	}
	return props
}

func jsxProps(p *parsed, el *sitter.Node) map[string]*sitter.Node {
	props := make(map[string]*sitter.Node)
	for _, attr := range namedChildren(el) {
		if attr.Type() != "jsx_attribute" {
			continue
		}
		kids := namedChildren(attr)
		if len(kids) < 2 {
			continue
		}
		value := kids[len(kids)-1]
		if value.Type() == "jsx_expression" {
			if inner := namedChildren(value); len(inner) > 0 {
				value = inner[0]
			}
		}
		props[p.text(kids[0])] = value
	}
	return props
}

// eval folds a constant numeric expression.
func (p *parsed) eval(n *sitter.Node, env map[string]float64) (float64, bool) {
	if n == nil {
		return 0, false
	}
	switch n.Type() {
	case "number":
		return parseNumber(p.text(n))
	case "string":
		return parseNumber(unquote(p.text(n)))
	case "identifier":
		v, ok := env[p.text(n)]
		return v, ok
	case "parenthesized_expression", "as_expression", "satisfies_expression", "non_null_expression":
		kids := namedChildren(n)
		if len(kids) == 0 {
			return 0, false
		}
		return p.eval(kids[0], env)
	case "unary_expression":
		v, ok := p.eval(n.ChildByFieldName("argument"), env)
		switch p.text(n.ChildByFieldName("operator")) {
		case "-":
			return -v, ok
		case "+":
			return v, ok
		}
	case "binary_expression":
		l, lok := p.eval(n.ChildByFieldName("left"), env)
		r, rok := p.eval(n.ChildByFieldName("right"), env)
		if !lok || !rok {
			return 0, false
		}
		switch p.text(n.ChildByFieldName("operator")) {
		case "+":
			return l + r, true
		case "-":
			return l - r, true
		case "*":
			return l * r, true
		case "/":
			if r == 0 {
				return 0, false
			}
			return l / r, true
		}
	case "call_expression":
		return p.evalMath(n, env)
	}
	return 0, false
}

func (p *parsed) evalMath(call *sitter.Node, env map[string]float64) (float64, bool) {
	fn := p.text(call.ChildByFieldName("function"))
	var vals []float64
	for _, a := range callArgs(call) {
		v, ok := p.eval(a, env)
		if !ok {
			return 0, false
		}
		vals = append(vals, v)
	}
	if len(vals) == 0 {
		return 0, false
	}
	switch fn {
	case "Math.round":
		return math.Round(vals[0]), true
	case "Math.floor":
		return math.Floor(vals[0]), true
	case "Math.ceil":
		return math.Ceil(vals[0]), true
	case "Math.max":
		m := vals[0]
		for _, v := range vals[1:] {
			m = math.Max(m, v)
		}
		return m, true
	case "Math.min":
		m := vals[0]
		for _, v := range vals[1:] {
			m = math.Min(m, v)
		}
		return m, true
	}
	return 0, false
}

func parseNumber(s string) (float64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), "_", "")
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, true
	}
	if v, err := strconv.ParseInt(s, 0, 64); err == nil {
		return float64(v), true
	}
	return 0, false
}

// SetDurationConstant makes code declare durationInFrames = frames,
// replacing an existing top-level value or adding an exported constant.
func SetDurationConstant(ctx context.Context, code string, frames int) (string, error) {
	p, err := parse(ctx, code, false)
	if err != nil {
		return "", err
	}
	defer p.close()

	for _, stmt := range namedChildren(p.root()) {
		decl := stmt
		if stmt.Type() == "export_statement" {
			if decl = stmt.ChildByFieldName("declaration"); decl == nil {
				continue
			}
		}
		if !declaresDuration(p, decl) {
			continue
		}
		for _, d := range namedChildren(decl) {
			if d.Type() != "variable_declarator" || p.text(d.ChildByFieldName("name")) != durationExport {
				continue
			}
			if value := d.ChildByFieldName("value"); value != nil {
				return applyEdits(code, []edit{{start: int(value.StartByte()), end: int(value.EndByte()), text: strconv.Itoa(frames)}}), nil
			}
		}
	}
	return fmt.Sprintf("export const %s = %d;\n", durationExport, frames) + code, nil
}
