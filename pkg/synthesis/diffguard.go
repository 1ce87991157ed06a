package synthesis

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/sourcegraph/go-diff/diff"
)

// DiffStats summarizes how much of the original an edit touched.
type DiffStats struct {
	LinesAdded    int `json:"lines_added"`
	LinesRemoved  int `json:"lines_removed"`
	OriginalLines int `json:"original_lines"`
	Hunks         int `json:"hunks"`
}

// ChangedShare is the fraction of original lines removed or rewritten.
func (s DiffStats) ChangedShare() float64 {
	if s.OriginalLines == 0 {
		if s.LinesAdded > 0 {
			return 1
		}
		return 0
	}
	return float64(s.LinesRemoved) / float64(s.OriginalLines)
}

// UnifiedDiff renders before -> after as a unified diff.
func UnifiedDiff(before, after string) (string, error) {
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(ensureNewline(before)),
		B:        difflib.SplitLines(ensureNewline(after)),
		FromFile: "scene.tsx",
		ToFile:   "scene.tsx",
		Context:  3,
	})
	if err != nil {
		return "", fmt.Errorf("failed to diff scene code: %w", err)
	}
	return text, nil
}

// Measure diffs before and after and counts the touched lines.
func Measure(before, after string) (DiffStats, error) {
	stats := DiffStats{OriginalLines: countLines(before)}
	text, err := UnifiedDiff(before, after)
	if err != nil || text == "" {
		return stats, err
	}

	fd, err := diff.ParseFileDiff([]byte(text))
	if err != nil {
		return stats, fmt.Errorf("failed to parse scene diff: %w", err)
	}
	stats.Hunks = len(fd.Hunks)
	for _, hunk := range fd.Hunks {
		for _, line := range strings.Split(string(hunk.Body), "\n") {
			switch {
			case strings.HasPrefix(line, "+"):
				stats.LinesAdded++
			case strings.HasPrefix(line, "-"):
				stats.LinesRemoved++
			}
		}
	}
	return stats, nil
}

func ensureNewline(s string) string {
	if s == "" || strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	return strings.Count(ensureNewline(s), "\n")
}
