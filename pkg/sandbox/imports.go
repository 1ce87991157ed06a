package sandbox

import (
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// preBound maps importable module names to the global that replaces them.
var preBound = map[string]string{
	DisallowedLibrary: "window.Remotion",
	"react":           "window.React",
}

// topLevelNames collects identifiers declared at program scope, so rewritten
// imports never redeclare a binding the code already destructures itself.
func topLevelNames(p *parsed) map[string]bool {
	names := make(map[string]bool)
	for _, stmt := range namedChildren(p.root()) {
		decl := stmt
		if stmt.Type() == "export_statement" {
			if d := stmt.ChildByFieldName("declaration"); d != nil {
				decl = d
			}
		}
		switch decl.Type() {
		case "lexical_declaration", "variable_declaration":
			for _, d := range namedChildren(decl) {
				if d.Type() == "variable_declarator" {
					collectPatternNames(p, d.ChildByFieldName("name"), names)
				}
			}
		case "function_declaration", "class_declaration", "generator_function_declaration":
			if n := decl.ChildByFieldName("name"); n != nil {
				names[p.text(n)] = true
			}
		}
	}
	return names
}

func collectPatternNames(p *parsed, n *sitter.Node, names map[string]bool) {
	if n == nil {
		return
	}
	switch n.Type() {
	case "identifier", "shorthand_property_identifier_pattern":
		names[p.text(n)] = true
	case "pair_pattern":
		collectPatternNames(p, n.ChildByFieldName("value"), names)
	case "object_pattern", "array_pattern", "assignment_pattern", "rest_pattern":
		for _, c := range namedChildren(n) {
			collectPatternNames(p, c, names)
		}
	}
}

// rewriteImports turns imports of pre-bound modules into reads from their
// globals and reports imports of anything else as non-fixable.
func rewriteImports(p *parsed, declared map[string]bool) ([]edit, []Violation) {
	var edits []edit
	var violations []Violation

	for _, stmt := range namedChildren(p.root()) {
		if stmt.Type() != "import_statement" {
			continue
		}
		source := unquote(p.text(stmt.ChildByFieldName("source")))
		global, ok := preBound[source]
		if !ok {
			violations = append(violations, Violation{
				Rule:    RuleForeignImport,
				Message: fmt.Sprintf("import of %q has no pre-bound replacement", source),
				Line:    line(stmt),
			})
			continue
		}

		var clause *sitter.Node
		typeOnly := false
		for i := 0; i < int(stmt.ChildCount()); i++ {
			c := stmt.Child(i)
			switch {
			case c.Type() == "import_clause":
				clause = c
			case !c.IsNamed() && p.text(c) == "type":
				typeOnly = true
			}
		}

		start, end := int(stmt.StartByte()), lineEnd(p.src, int(stmt.EndByte()))
		if clause == nil || typeOnly {
			violations = append(violations, Violation{
				Rule:    RuleSideEffectImport,
				Message: fmt.Sprintf("removed import of %q without bindings", source),
				Line:    line(stmt),
				Fixable: true,
			})
			edits = append(edits, edit{start: start, end: end})
			continue
		}

		var lines []string
		for _, c := range namedChildren(clause) {
			switch c.Type() {
			case "identifier":
				local := p.text(c)
				violations = append(violations, Violation{
					Rule:    RuleDefaultImport,
					Message: fmt.Sprintf("rewrote default import %s from %q to %s", local, source, global),
					Line:    line(stmt),
					Fixable: true,
				})
				lines = appendBinding(lines, declared, source, local, global)
			case "namespace_import":
				local := ""
				for _, id := range namedChildren(c) {
					if id.Type() == "identifier" {
						local = p.text(id)
					}
				}
				violations = append(violations, Violation{
					Rule:    RuleNamespaceImport,
					Message: fmt.Sprintf("rewrote namespace import %s from %q to %s", local, source, global),
					Line:    line(stmt),
					Fixable: true,
				})
				lines = appendBinding(lines, declared, source, local, global)
			case "named_imports":
				violations = append(violations, Violation{
					Rule:    RuleNamedImport,
					Message: fmt.Sprintf("rewrote destructured import from %q to %s", source, global),
					Line:    line(stmt),
					Fixable: true,
				})
				if d := destructure(p, c, declared, global); d != "" {
					lines = append(lines, d)
				}
			}
		}

		replacement := strings.Join(lines, "\n")
		if replacement != "" {
			replacement += "\n"
		}
		edits = append(edits, edit{start: start, end: end, text: replacement})
	}
	return edits, violations
}

func appendBinding(lines []string, declared map[string]bool, source, local, global string) []string {
	if local == "" || declared[local] {
		return lines
	}
	// React itself is pre-bound under its own name.
	if source == "react" && local == "React" {
		return lines
	}
	declared[local] = true
	return append(lines, fmt.Sprintf("const %s = %s;", local, global))
}

func destructure(p *parsed, named *sitter.Node, declared map[string]bool, global string) string {
	var parts []string
	for _, spec := range namedChildren(named) {
		if spec.Type() != "import_specifier" {
			continue
		}
		skip := false
		for i := 0; i < int(spec.ChildCount()); i++ {
			if c := spec.Child(i); !c.IsNamed() && p.text(c) == "type" {
				skip = true
			}
		}
		if skip {
			continue
		}
		name := p.text(spec.ChildByFieldName("name"))
		alias := p.text(spec.ChildByFieldName("alias"))
		local := name
		if alias != "" {
			local = alias
		}
		if local == "" || declared[local] {
			continue
		}
		declared[local] = true
		if alias != "" && alias != name {
			parts = append(parts, name+": "+alias)
		} else {
			parts = append(parts, name)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return fmt.Sprintf("const { %s } = %s;", strings.Join(parts, ", "), global)
}
