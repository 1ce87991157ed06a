package sandbox

import (
	"fmt"
	"strings"
	"unicode"

	sitter "github.com/smacker/go-tree-sitter"
)

// durationExport is the one named export that survives normalization.
const durationExport = "durationInFrames"

func isDefaultExport(p *parsed, stmt *sitter.Node) bool {
	for i := 0; i < int(stmt.ChildCount()); i++ {
		if c := stmt.Child(i); !c.IsNamed() && p.text(c) == "default" {
			return true
		}
	}
	return false
}

func capitalized(name string) bool {
	for _, r := range name {
		return unicode.IsUpper(r)
	}
	return false
}

func isFunctionValue(n *sitter.Node) bool {
	if n == nil {
		return false
	}
	switch n.Type() {
	case "arrow_function", "function", "function_expression":
		return true
	case "call_expression":
		// React.memo(() => ...), React.forwardRef(...)
		for _, a := range callArgs(n) {
			if isFunctionValue(a) {
				return true
			}
		}
	}
	return false
}

// declaredComponent returns the name bound by a declaration when it looks
// like a component: a function or class declaration, or a single const
// bound to a function value.
func declaredComponent(p *parsed, decl *sitter.Node) (name string, isFunc bool) {
	switch decl.Type() {
	case "function_declaration", "generator_function_declaration", "class_declaration":
		return p.text(decl.ChildByFieldName("name")), decl.Type() != "class_declaration"
	case "lexical_declaration", "variable_declaration":
		var declarators []*sitter.Node
		for _, d := range namedChildren(decl) {
			if d.Type() == "variable_declarator" {
				declarators = append(declarators, d)
			}
		}
		if len(declarators) != 1 {
			return "", false
		}
		id := declarators[0].ChildByFieldName("name")
		if id == nil || id.Type() != "identifier" || !isFunctionValue(declarators[0].ChildByFieldName("value")) {
			return "", false
		}
		return p.text(id), false
	}
	return "", false
}

func declaresDuration(p *parsed, decl *sitter.Node) bool {
	if decl.Type() != "lexical_declaration" && decl.Type() != "variable_declaration" {
		return false
	}
	for _, d := range namedChildren(decl) {
		if d.Type() == "variable_declarator" && p.text(d.ChildByFieldName("name")) == durationExport {
			return true
		}
	}
	return false
}

// registeredName returns the identifier assigned by the last registration.
func registeredName(p *parsed) string {
	name := ""
	for _, a := range registrations(p) {
		if right := a.ChildByFieldName("right"); right != nil && right.Type() == "identifier" {
			name = p.text(right)
		}
	}
	return name
}

// inferComponent picks the entry component of code without a usable
// default export: the registered identifier when it is declared, otherwise
// the single capitalized top-level component.
func inferComponent(p *parsed) (*sitter.Node, string, bool) {
	type candidate struct {
		node   *sitter.Node
		name   string
		isFunc bool
	}
	var found []candidate
	for _, stmt := range namedChildren(p.root()) {
		decl := stmt
		if stmt.Type() == "export_statement" {
			decl = stmt.ChildByFieldName("declaration")
			if decl == nil {
				continue
			}
		}
		if name, isFunc := declaredComponent(p, decl); name != "" && capitalized(name) {
			found = append(found, candidate{node: stmt, name: name, isFunc: isFunc})
		}
	}
	if reg := registeredName(p); reg != "" {
		for _, c := range found {
			if c.name == reg {
				return c.node, c.name, c.isFunc
			}
		}
	}
	if len(found) == 1 {
		return found[0].node, found[0].name, found[0].isFunc
	}
	return nil, "", false
}

// normalizeExports leaves exactly one default export, plus an optional
// durationInFrames constant, and returns the default-exported component.
func normalizeExports(p *parsed) (string, []edit, []Violation) {
	var edits []edit
	var violations []Violation
	var defaults []*sitter.Node

	for _, stmt := range namedChildren(p.root()) {
		if stmt.Type() != "export_statement" {
			continue
		}
		if isDefaultExport(p, stmt) {
			defaults = append(defaults, stmt)
			continue
		}
		if src := stmt.ChildByFieldName("source"); src != nil {
			violations = append(violations, Violation{
				Rule:    RuleForeignImport,
				Message: fmt.Sprintf("re-export from %q has no pre-bound replacement", unquote(p.text(src))),
				Line:    line(stmt),
			})
			continue
		}
		decl := stmt.ChildByFieldName("declaration")
		if decl == nil {
			violations = append(violations, Violation{
				Rule:    RuleExtraExport,
				Message: "removed export list",
				Line:    line(stmt),
				Fixable: true,
			})
			edits = append(edits, edit{start: int(stmt.StartByte()), end: lineEnd(p.src, int(stmt.EndByte()))})
			continue
		}
		if declaresDuration(p, decl) {
			continue
		}
		name, _ := declaredComponent(p, decl)
		violations = append(violations, Violation{
			Rule:    RuleExtraExport,
			Message: fmt.Sprintf("removed export keyword from %s", orUnnamed(name)),
			Line:    line(stmt),
			Fixable: true,
		})
		edits = append(edits, edit{start: int(stmt.StartByte()), end: int(decl.StartByte())})
	}

	switch len(defaults) {
	case 0:
		node, name, isFunc := inferComponent(p)
		if name == "" {
			violations = append(violations, Violation{
				Rule:    RuleMissingExport,
				Message: "no default export and no single component to export",
			})
			return "", edits, violations
		}
		violations = append(violations, Violation{
			Rule:    RuleMissingExport,
			Message: fmt.Sprintf("added default export for %s", name),
			Line:    line(node),
			Fixable: true,
		})
		if node.Type() == "export_statement" {
			// Its export keyword is already being removed above.
			if isFunc {
				at := int(node.ChildByFieldName("declaration").StartByte())
				edits = append(edits, edit{start: at, end: at, text: "export default "})
			} else {
				edits = append(edits, edit{start: int(node.EndByte()), end: int(node.EndByte()), text: fmt.Sprintf("\nexport default %s;", name)})
			}
			// Drop the extra-export violation recorded for this statement.
			violations = dropAt(violations, RuleExtraExport, line(node))
		} else if isFunc {
			edits = append(edits, edit{start: int(node.StartByte()), end: int(node.StartByte()), text: "export default "})
		} else {
			edits = append(edits, edit{start: int(node.EndByte()), end: int(node.EndByte()), text: fmt.Sprintf("\nexport default %s;", name)})
		}
		return name, edits, violations
	case 1:
		name, e, v := nameDefault(p, defaults[0], false)
		return name, append(edits, e...), append(violations, v...)
	default:
		for _, d := range defaults[1:] {
			violations = append(violations, Violation{
				Rule:    RuleMultipleDefaults,
				Message: "more than one default export",
				Line:    line(d),
			})
		}
		return "", edits, violations
	}
}

// nameDefault returns the name of a default export, giving anonymous ones
// the fallback name. With strip set the export itself is removed.
func nameDefault(p *parsed, stmt *sitter.Node, strip bool) (string, []edit, []Violation) {
	start := int(stmt.StartByte())
	if decl := stmt.ChildByFieldName("declaration"); decl != nil {
		name, _ := declaredComponent(p, decl)
		var edits []edit
		if strip {
			edits = append(edits, edit{start: start, end: int(decl.StartByte())})
		}
		if name != "" {
			return name, edits, nil
		}
	}

	value := stmt.ChildByFieldName("value")
	if value == nil {
		return "", nil, nil
	}
	if value.Type() == "identifier" {
		if strip {
			return p.text(value), []edit{{start: start, end: lineEnd(p.src, int(stmt.EndByte()))}}, nil
		}
		return p.text(value), nil, nil
	}

	if n := value.ChildByFieldName("name"); n != nil && (value.Type() == "function" || value.Type() == "function_expression") {
		// export default function Named() {} parsed as an expression.
		if strip {
			return p.text(n), []edit{{start: start, end: int(value.StartByte())}}, nil
		}
		return p.text(n), nil, nil
	}

	viol := Violation{
		Rule:    RuleAnonymousExport,
		Message: fmt.Sprintf("named anonymous default export %s", FallbackComponentName),
		Line:    line(stmt),
		Fixable: true,
	}
	if !strip && (value.Type() == "function" || value.Type() == "function_expression") {
		for i := 0; i < int(value.ChildCount()); i++ {
			if kw := value.Child(i); !kw.IsNamed() && p.text(kw) == "function" {
				at := int(kw.EndByte())
				return FallbackComponentName, []edit{{start: at, end: at, text: " " + FallbackComponentName}}, []Violation{viol}
			}
		}
	}
	edits := []edit{{start: start, end: int(value.StartByte()), text: "const " + FallbackComponentName + " = "}}
	if !strip {
		suffix := "\nexport default " + FallbackComponentName + ";"
		if !strings.HasSuffix(p.text(stmt), ";") {
			suffix = ";" + suffix
		}
		at := int(stmt.EndByte())
		edits = append(edits, edit{start: at, end: at, text: suffix})
	}
	return FallbackComponentName, edits, []Violation{viol}
}

// stripCompiledExports removes every export from compiled output, which is
// evaluated as a plain script.
func stripCompiledExports(p *parsed) (string, []edit, []Violation) {
	var edits []edit
	var violations []Violation
	name := ""

	for _, stmt := range namedChildren(p.root()) {
		if stmt.Type() != "export_statement" {
			continue
		}
		violations = append(violations, Violation{
			Rule:    RuleCompiledExport,
			Message: "removed export from compiled code",
			Line:    line(stmt),
			Fixable: true,
		})
		if isDefaultExport(p, stmt) {
			n, e, _ := nameDefault(p, stmt, true)
			if name == "" {
				name = n
			}
			edits = append(edits, e...)
			continue
		}
		if decl := stmt.ChildByFieldName("declaration"); decl != nil {
			edits = append(edits, edit{start: int(stmt.StartByte()), end: int(decl.StartByte())})
		} else {
			edits = append(edits, edit{start: int(stmt.StartByte()), end: lineEnd(p.src, int(stmt.EndByte()))})
		}
	}
	if name == "" {
		_, name, _ = inferComponent(p)
	}
	return name, edits, violations
}

// registrations returns every assignment to the registration target.
func registrations(p *parsed) []*sitter.Node {
	var out []*sitter.Node
	walk(p.root(), func(n *sitter.Node) bool {
		if n.Type() == "assignment_expression" {
			left := strings.Join(strings.Fields(p.text(n.ChildByFieldName("left"))), "")
			if left == RegistrationTarget {
				out = append(out, n)
			}
		}
		return true
	})
	return out
}

// ensureRegistration leaves exactly one top-level registration assignment
// and returns the name it registers. Registrations inside functions or
// blocks do not run when the script is evaluated, so they are removed and
// replaced by a top-level one.
func ensureRegistration(p *parsed, name string) ([]edit, []Violation, string) {
	var top, nested []*sitter.Node
	for _, r := range registrations(p) {
		if topLevelStatement(r) != nil {
			top = append(top, r)
		} else {
			nested = append(nested, r)
		}
	}

	var edits []edit
	var violations []Violation
	for _, r := range nested {
		if name == "" {
			if right := r.ChildByFieldName("right"); right != nil && right.Type() == "identifier" {
				name = p.text(right)
			}
		}
		e, v := dropRegistration(p, r, RuleNestedRegistration, "removed registration that never runs at top level")
		edits = append(edits, e...)
		violations = append(violations, v)
	}

	switch len(top) {
	case 0:
		if name == "" {
			return edits, append(violations, Violation{
				Rule:    RuleMissingRegistration,
				Message: "no registration and the component name cannot be inferred",
			}), ""
		}
		text := fmt.Sprintf("%s = %s;\n", RegistrationTarget, name)
		if len(p.src) > 0 && p.src[len(p.src)-1] != '\n' {
			text = "\n" + text
		}
		edits = append(edits, edit{start: len(p.src), end: len(p.src), text: text})
		violations = append(violations, Violation{
			Rule:    RuleMissingRegistration,
			Message: fmt.Sprintf("appended registration of %s", name),
			Fixable: true,
		})
		return edits, violations, name
	case 1:
		return edits, violations, p.text(top[0].ChildByFieldName("right"))
	}

	// The last top-level registration is the one that wins at runtime.
	keep := top[len(top)-1]
	for _, r := range top[:len(top)-1] {
		e, v := dropRegistration(p, r, RuleDuplicateRegistration, "removed duplicate registration")
		edits = append(edits, e...)
		violations = append(violations, v)
	}
	return edits, violations, p.text(keep.ChildByFieldName("right"))
}

// dropRegistration deletes the statement holding r. A registration used
// as part of a larger expression cannot be removed safely.
func dropRegistration(p *parsed, r *sitter.Node, rule, message string) ([]edit, Violation) {
	stmt := r.Parent()
	if stmt == nil || stmt.Type() != "expression_statement" {
		return nil, Violation{
			Rule:    rule,
			Message: "registration nested in an expression cannot be removed",
			Line:    line(r),
		}
	}
	return []edit{{start: int(stmt.StartByte()), end: lineEnd(p.src, int(stmt.EndByte()))}},
		Violation{Rule: rule, Message: message, Line: line(r), Fixable: true}
}

func topLevelStatement(n *sitter.Node) *sitter.Node {
	stmt := n.Parent()
	if stmt == nil || stmt.Type() != "expression_statement" {
		return nil
	}
	if parent := stmt.Parent(); parent == nil || parent.Type() != "program" {
		return nil
	}
	return stmt
}

func dropAt(violations []Violation, rule string, at int) []Violation {
	out := violations[:0]
	for _, v := range violations {
		if v.Rule == rule && v.Line == at {
			continue
		}
		out = append(out, v)
	}
	return out
}

func orUnnamed(name string) string {
	if name == "" {
		return "declaration"
	}
	return name
}
