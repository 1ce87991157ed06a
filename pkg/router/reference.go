package router

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// How a target scene was resolved.
const (
	RefNone     = ""
	RefExplicit = "explicit"
	RefOrdinal  = "ordinal"
	RefName     = "name"
	RefAnaphora = "anaphora"
	RefOnly     = "only-scene"
	RefPending  = "pending"
)

var ordinalWords = map[string]int{
	"first": 1, "second": 2, "third": 3, "fourth": 4, "fifth": 5,
	"sixth": 6, "seventh": 7, "eighth": 8, "ninth": 9, "tenth": 10,
}

var (
	numberedScene = regexp.MustCompile(`(?i)\b(?:scene|slide|clip|shot)\s*(?:#|no\.?\s*|number\s*)?(\d+)\b`)
	ordinalScene  = regexp.MustCompile(`(?i)\b(?:the\s+)?(first|second|third|fourth|fifth|sixth|seventh|eighth|ninth|tenth|\d+(?:st|nd|rd|th))\s+(?:scene|slide|clip|shot|one)\b`)
	lastScene     = regexp.MustCompile(`(?i)\b(?:the\s+)?(?:last|final|ending)\s+(?:scene|slide|clip|shot|one)\b`)
	anaphora      = regexp.MustCompile(`(?i)\b(it|its|that|this|that scene|this scene|the scene|the one i just made|the one you just made|what you just made|the previous scene|the latest scene|the new scene)\b`)
)

// reference is a resolved (or unresolvable) scene mention.
type reference struct {
	id    uuid.UUID
	index int
	how   string
	// spans are byte ranges of the utterance that named the scene.
	spans [][2]int
	// problem is set when the utterance names a scene that does not exist.
	problem string
}

func (r reference) found() bool { return r.id != uuid.Nil }

func (sb Storyboard) at(index int) (SceneSummary, bool) {
	if index < 1 || index > len(sb) {
		return SceneSummary{}, false
	}
	return sb[index-1], true
}

func (sb Storyboard) indexOf(id uuid.UUID) int {
	for i, s := range sb {
		if s.ID == id {
			return i + 1
		}
	}
	return 0
}

// resolveReference finds the scene an utterance is about, in priority order:
// explicit id, position, name, anaphora, and a lone scene. text is the
// utterance with its duration phrase blanked.
func resolveReference(in Input, text string) reference {
	sb := in.Storyboard

	if in.ExplicitTargetSceneID != uuid.Nil {
		if i := sb.indexOf(in.ExplicitTargetSceneID); i > 0 {
			return reference{id: in.ExplicitTargetSceneID, index: i, how: RefExplicit}
		}
	}

	if ref, ok := positional(sb, text); ok {
		return ref
	}

	if ref, ok := byName(sb, text); ok {
		return ref
	}

	if loc := anaphora.FindStringIndex(text); loc != nil {
		if id := recentScene(in); id != uuid.Nil {
			return reference{id: id, index: sb.indexOf(id), how: RefAnaphora, spans: [][2]int{{loc[0], loc[1]}}}
		}
	}

	if len(sb) == 1 {
		return reference{id: sb[0].ID, index: 1, how: RefOnly}
	}
	return reference{}
}

func positional(sb Storyboard, text string) (reference, bool) {
	index, span := 0, [2]int{}
	switch {
	case numberedScene.MatchString(text):
		m := numberedScene.FindStringSubmatchIndex(text)
		index, _ = strconv.Atoi(text[m[2]:m[3]])
		span = [2]int{m[0], m[1]}
	case ordinalScene.MatchString(text):
		m := ordinalScene.FindStringSubmatchIndex(text)
		word := strings.ToLower(text[m[2]:m[3]])
		if n, ok := ordinalWords[word]; ok {
			index = n
		} else {
			index, _ = strconv.Atoi(strings.TrimRight(word, "stndrh"))
		}
		span = [2]int{m[0], m[1]}
	case lastScene.MatchString(text):
		m := lastScene.FindStringIndex(text)
		index = len(sb)
		span = [2]int{m[0], m[1]}
	default:
		return reference{}, false
	}

	scene, ok := sb.at(index)
	if !ok {
		return reference{
			how:     RefOrdinal,
			index:   index,
			spans:   [][2]int{span},
			problem: fmt.Sprintf("There is no scene %d; the storyboard has %d scene(s).", index, len(sb)),
		}, true
	}
	return reference{id: scene.ID, index: index, how: RefOrdinal, spans: [][2]int{span}}, true
}

// byName matches scene names mentioned verbatim, preferring the longest.
func byName(sb Storyboard, text string) (reference, bool) {
	lower := strings.ToLower(text)
	best := reference{}
	bestLen := 0
	for i, s := range sb {
		name := strings.ToLower(strings.TrimSpace(s.Name))
		if len(name) < 3 {
			continue
		}
		at := strings.Index(lower, name)
		if at < 0 || len(name) <= bestLen {
			continue
		}
		best = reference{id: s.ID, index: i + 1, how: RefName, spans: [][2]int{{at, at + len(name)}}}
		bestLen = len(name)
	}
	return best, bestLen > 0
}

// recentScene resolves "it": the session's last touched scene, then the
// latest history turn naming a scene, then the most recently updated scene.
func recentScene(in Input) uuid.UUID {
	sb := in.Storyboard
	if id := in.Session.LastSceneID; id != uuid.Nil && sb.indexOf(id) > 0 {
		return id
	}
	for i := len(in.History) - 1; i >= 0; i-- {
		if id := in.History[i].SceneID; id != uuid.Nil && sb.indexOf(id) > 0 {
			return id
		}
	}
	var latest SceneSummary
	for _, s := range sb {
		if latest.ID == uuid.Nil || s.UpdatedAt.After(latest.UpdatedAt) {
			latest = s
		}
	}
	return latest.ID
}
