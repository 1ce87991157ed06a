package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	sitter "github.com/smacker/go-tree-sitter"
)

// ErrCompile is returned when esbuild rejects scene source.
var ErrCompile = errors.New("scene code does not compile")

// StripExports removes export keywords from TSX source so the compiled
// output can run as a plain script.
func StripExports(ctx context.Context, code string) (string, error) {
	p, err := parse(ctx, code, false)
	if err != nil {
		return "", err
	}
	defer p.close()
	_, edits, _ := stripCompiledExports(p)
	return applyEdits(code, edits), nil
}

// Compile turns validated TSX into a script that uses the pre-bound React
// global for JSX. Types are erased; nothing is bundled.
func Compile(ctx context.Context, code string) (string, error) {
	script, err := StripExports(ctx, code)
	if err != nil {
		return "", err
	}

	result := api.Transform(script, api.TransformOptions{
		Loader:      api.LoaderTSX,
		Target:      api.ES2015,
		JSXFactory:  "React.createElement",
		JSXFragment: "React.Fragment",
		Sourcefile:  "scene.tsx",
		LogLevel:    api.LogLevelSilent,
	})
	if len(result.Errors) > 0 {
		msgs := make([]string, 0, len(result.Errors))
		for _, m := range result.Errors {
			if m.Location != nil {
				msgs = append(msgs, fmt.Sprintf("%d:%d %s", m.Location.Line, m.Location.Column, m.Text))
			} else {
				msgs = append(msgs, m.Text)
			}
		}
		return "", fmt.Errorf("%w: %s", ErrCompile, strings.Join(msgs, "; "))
	}
	return string(result.Code), nil
}

// HasJSX reports whether code still contains JSX and must be compiled
// before it can be evaluated.
func HasJSX(ctx context.Context, code string) bool {
	p, err := parse(ctx, code, false)
	if err != nil {
		return false
	}
	defer p.close()
	found := false
	walk(p.root(), func(n *sitter.Node) bool {
		if found {
			return false
		}
		switch n.Type() {
		case "jsx_element", "jsx_self_closing_element", "jsx_fragment":
			found = true
			return false
		}
		return true
	})
	return found
}
