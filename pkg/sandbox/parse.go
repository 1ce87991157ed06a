package sandbox

import (
	"context"
	"fmt"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
)

// parsed is a syntax tree plus the bytes it was built from. Parsers are
// created per call, so parsed values are never shared between goroutines.
type parsed struct {
	tree *sitter.Tree
	src  []byte
}

func parse(ctx context.Context, code string, compiled bool) (*parsed, error) {
	parser := sitter.NewParser()
	defer parser.Close()

	if compiled {
		parser.SetLanguage(javascript.GetLanguage())
	} else {
		parser.SetLanguage(tsx.GetLanguage())
	}

	src := []byte(code)
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("parsing scene code: %w", err)
	}
	return &parsed{tree: tree, src: src}, nil
}

func (p *parsed) close() { p.tree.Close() }

func (p *parsed) root() *sitter.Node { return p.tree.RootNode() }

func (p *parsed) text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return n.Content(p.src)
}

// walk visits n and its descendants depth-first in source order. Returning
// false from fn skips the node's children.
func walk(n *sitter.Node, fn func(*sitter.Node) bool) {
	if n == nil {
		return
	}
	if !fn(n) {
		return
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		walk(n.Child(i), fn)
	}
}

// namedChildren returns the named children of n.
func namedChildren(n *sitter.Node) []*sitter.Node {
	if n == nil {
		return nil
	}
	out := make([]*sitter.Node, 0, n.NamedChildCount())
	for i := 0; i < int(n.NamedChildCount()); i++ {
		out = append(out, n.NamedChild(i))
	}
	return out
}

// callArgs returns the argument expressions of a call or new expression.
func callArgs(call *sitter.Node) []*sitter.Node {
	args := call.ChildByFieldName("arguments")
	if args == nil {
		return nil
	}
	var out []*sitter.Node
	for _, c := range namedChildren(args) {
		if c.Type() != "comment" {
			out = append(out, c)
		}
	}
	return out
}

func line(n *sitter.Node) int { return int(n.StartPoint().Row) + 1 }

// firstError returns the first ERROR or missing node in the tree.
func firstError(n *sitter.Node) *sitter.Node {
	var found *sitter.Node
	walk(n, func(c *sitter.Node) bool {
		if found != nil {
			return false
		}
		if c.Type() == "ERROR" || c.IsMissing() {
			found = c
			return false
		}
		return c.HasError()
	})
	return found
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		switch s[0] {
		case '"', '\'', '`':
			if s[len(s)-1] == s[0] {
				return s[1 : len(s)-1]
			}
		}
	}
	return s
}

// edit replaces src[start:end] with text. Insertions have start == end.
type edit struct {
	start, end int
	text       string
}

// applyEdits applies non-overlapping edits. Insertions at the same offset
// keep the order in which they were added.
func applyEdits(src string, edits []edit) string {
	if len(edits) == 0 {
		return src
	}
	idx := make([]int, len(edits))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ea, eb := edits[idx[a]], edits[idx[b]]
		if ea.start != eb.start {
			return ea.start > eb.start
		}
		return idx[a] > idx[b]
	})
	out := src
	for _, i := range idx {
		e := edits[i]
		out = out[:e.start] + e.text + out[e.end:]
	}
	return out
}

// lineEnd returns the offset just past the end of the line containing off,
// swallowing the newline so removed statements leave no blank line.
func lineEnd(src []byte, off int) int {
	for off < len(src) && src[off] != '\n' {
		if src[off] != ' ' && src[off] != '\t' && src[off] != ';' && src[off] != '\r' {
			return off
		}
		off++
	}
	if off < len(src) {
		off++
	}
	return off
}
