package sandbox

import (
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
)

// forbiddenGlobals reach the network, storage, the host process or an
// evaluator. None of them exist in the player runtime.
var forbiddenGlobals = map[string]bool{
	"fetch":          true,
	"XMLHttpRequest": true,
	"WebSocket":      true,
	"EventSource":    true,
	"Worker":         true,
	"SharedWorker":   true,
	"importScripts":  true,
	"require":        true,
	"eval":           true,
	"Function":       true,
	"localStorage":   true,
	"sessionStorage": true,
	"indexedDB":      true,
	"process":        true,
}

var globalObjects = map[string]bool{"window": true, "globalThis": true, "self": true, "document": true}

func findForbidden(p *parsed) []Violation {
	var violations []Violation
	reported := make(map[string]bool)
	report := func(rule, name string, n *sitter.Node) {
		if reported[rule+name] {
			return
		}
		reported[rule+name] = true
		msg := fmt.Sprintf("reference to %s is not allowed", name)
		if rule == RuleDynamicImport {
			msg = "dynamic import() is not allowed"
		}
		violations = append(violations, Violation{Rule: rule, Message: msg, Line: line(n)})
	}

	walk(p.root(), func(n *sitter.Node) bool {
		switch n.Type() {
		case "identifier", "shorthand_property_identifier":
			if name := p.text(n); forbiddenGlobals[name] {
				report(RuleForbiddenAPI, name, n)
			}
		case "member_expression":
			obj := n.ChildByFieldName("object")
			prop := p.text(n.ChildByFieldName("property"))
			if obj != nil && obj.Type() == "identifier" && globalObjects[p.text(obj)] && forbiddenGlobals[prop] {
				report(RuleForbiddenAPI, p.text(obj)+"."+prop, n)
			}
			if obj != nil && p.text(obj) == "document" && prop == "cookie" {
				report(RuleForbiddenAPI, "document.cookie", n)
			}
		case "call_expression":
			if fn := n.ChildByFieldName("function"); fn != nil && fn.Type() == "import" {
				report(RuleDynamicImport, "import", n)
			}
		}
		return true
	})
	return violations
}
