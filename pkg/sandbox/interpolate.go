package sandbox

import (
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

var clampKeys = []string{"extrapolateLeft", "extrapolateRight"}

func isCallTo(p *parsed, call *sitter.Node, name string) bool {
	fn := call.ChildByFieldName("function")
	if fn == nil {
		return false
	}
	switch fn.Type() {
	case "identifier":
		return p.text(fn) == name
	case "member_expression":
		return p.text(fn.ChildByFieldName("property")) == name
	}
	return false
}

func propertyKey(p *parsed, n *sitter.Node) string {
	switch n.Type() {
	case "pair":
		return unquote(p.text(n.ChildByFieldName("key")))
	case "shorthand_property_identifier":
		return p.text(n)
	}
	return ""
}

// clampInterpolations makes every interpolate call clamp both edges.
func clampInterpolations(p *parsed) ([]edit, []Violation) {
	var edits []edit
	var violations []Violation

	walk(p.root(), func(call *sitter.Node) bool {
		if call.Type() != "call_expression" || !isCallTo(p, call, "interpolate") {
			return true
		}
		args := callArgs(call)
		switch {
		case len(args) < 3:
			return true
		case len(args) == 3:
			at := int(args[2].EndByte())
			edits = append(edits, edit{start: at, end: at, text: `, { extrapolateLeft: "clamp", extrapolateRight: "clamp" }`})
			violations = append(violations, Violation{
				Rule:    RuleUnclampedInterpolate,
				Message: "added clamp options to interpolate",
				Line:    line(call),
				Fixable: true,
			})
			return true
		}

		opts := args[3]
		if opts.Type() != "object" {
			violations = append(violations, Violation{
				Rule:    RuleOpaqueInterpolate,
				Message: fmt.Sprintf("interpolate options %q cannot be checked for clamping", p.text(opts)),
				Line:    line(call),
			})
			return true
		}

		e, changed := clampObject(p, opts)
		if changed {
			edits = append(edits, e...)
			violations = append(violations, Violation{
				Rule:    RuleUnclampedInterpolate,
				Message: "set interpolate extrapolation to clamp",
				Line:    line(call),
				Fixable: true,
			})
		}
		return true
	})
	return edits, violations
}

func clampObject(p *parsed, obj *sitter.Node) ([]edit, bool) {
	var edits []edit
	seen := make(map[string]bool)
	props := namedChildren(obj)

	for _, prop := range props {
		key := propertyKey(p, prop)
		if key != clampKeys[0] && key != clampKeys[1] {
			continue
		}
		seen[key] = true
		if prop.Type() == "shorthand_property_identifier" {
			edits = append(edits, edit{start: int(prop.StartByte()), end: int(prop.EndByte()), text: key + `: "clamp"`})
			continue
		}
		value := prop.ChildByFieldName("value")
		if value != nil && unquote(p.text(value)) != "clamp" {
			edits = append(edits, edit{start: int(value.StartByte()), end: int(value.EndByte()), text: `"clamp"`})
		}
	}

	var missing []string
	for _, key := range clampKeys {
		if !seen[key] {
			missing = append(missing, key+`: "clamp"`)
		}
	}
	if len(missing) > 0 {
		var last *sitter.Node
		for _, prop := range props {
			if prop.Type() != "comment" {
				last = prop
			}
		}
		if last == nil {
			at := int(obj.StartByte()) + 1
			edits = append(edits, edit{start: at, end: at, text: " " + strings.Join(missing, ", ") + " "})
		} else {
			at := int(last.EndByte())
			edits = append(edits, edit{start: at, end: at, text: ", " + strings.Join(missing, ", ")})
		}
	}
	return edits, len(edits) > 0
}
