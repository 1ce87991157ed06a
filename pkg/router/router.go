// Package router decides which structural operation a chat turn asks for.
// Route is a pure function: the caller owns the Session and advances it
// with Session.Advance after acting on the Decision.
package router

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ASHISH26940/scene-orchestrator-api/pkg/timing"
	"github.com/google/uuid"
)

type Operation string

const (
	OpCreate  Operation = "create"
	OpEdit    Operation = "edit"
	OpDelete  Operation = "delete"
	OpTrim    Operation = "trim"
	OpClarify Operation = "clarify"
)

// ClarificationBudget is how many clarifying questions a session may get
// in a row before the router commits to a best-effort decision.
const ClarificationBudget = 2

// SceneSummary is one storyboard entry.
type SceneSummary struct {
	ID        uuid.UUID
	Name      string
	Duration  int
	UpdatedAt time.Time
}

// Storyboard is a project's scenes in playback order.
type Storyboard []SceneSummary

// Turn is a chat history entry.
type Turn struct {
	Role    string
	Content string
	SceneID uuid.UUID
}

// Session is per-conversation routing state.
type Session struct {
	LastSceneID        uuid.UUID
	ClarificationCount int
	// Pending is what the last clarifying question was about. A reply that
	// only names a scene or an amount completes it.
	Pending Pending
}

// Pending is an operation waiting on a clarification answer.
type Pending struct {
	Operation      Operation
	SceneID        uuid.UUID
	DurationFrames int
	// DeltaFrames is a relative length change ("2 seconds shorter").
	DeltaFrames int
	// Prompt is the utterance that asked the question.
	Prompt string
}

// Advance records the outcome of a turn: clarifications count against the
// budget, anything else resets it.
func (s *Session) Advance(d Decision, touched uuid.UUID) {
	if d.Operation == OpClarify {
		s.ClarificationCount++
		s.Pending = d.Pending
		return
	}
	s.ClarificationCount = 0
	s.Pending = Pending{}
	if touched != uuid.Nil {
		s.LastSceneID = touched
	}
}

type Input struct {
	Utterance             string
	Storyboard            Storyboard
	History               []Turn
	ExplicitTargetSceneID uuid.UUID
	Session               Session
}

// Decision is the router's output.
type Decision struct {
	Operation     Operation `json:"operation"`
	TargetSceneID uuid.UUID `json:"target_scene_id,omitempty"`
	// TargetIndex is the 1-based storyboard position of the target.
	TargetIndex int `json:"target_index,omitempty"`
	// DurationFrames is the duration the utterance asked for, or 0.
	DurationFrames     int    `json:"duration_frames,omitempty"`
	NeedsClarification bool   `json:"needs_clarification"`
	Question           string `json:"question,omitempty"`
	// Forced is set when the clarification budget was exhausted.
	Forced bool `json:"forced,omitempty"`
	// ReferenceSceneID is a scene a new scene should look like.
	ReferenceSceneID uuid.UUID `json:"reference_scene_id,omitempty"`
	// Instruction replaces the utterance as the change request when the
	// utterance only answered a clarifying question.
	Instruction string  `json:"instruction,omitempty"`
	Reasoning   string  `json:"reasoning"`
	Pending     Pending `json:"-"`
}

var (
	deleteVerb = regexp.MustCompile(`(?i)\b(delete|remove|drop|erase|discard|scrap|trash|get rid of)\b`)
	createVerb = regexp.MustCompile(`(?i)\b(create|add|generate|build|insert|make an?|start with|new)\b`)
	newScene   = regexp.MustCompile(`(?i)\b(new|another|next|extra|additional)\s+(scene|slide|clip|shot)\b`)
	editVerb   = regexp.MustCompile(`(?i)\b(change|edit|modify|update|replace|tweak|adjust|fix|rename|recolou?r|move|swap|turn|set|make (it|this|that|the|scene))\b`)
	relative   = regexp.MustCompile(`(?i)\b(shorter|longer|shorten|lengthen|extend)\b`)
	// containment precedes a scene mentioned as the place a change goes.
	containment = regexp.MustCompile(`(?i)\b(to|in|into|on|onto|inside|within|of|for)\s+(the\s+)?$`)
	likeness    = regexp.MustCompile(`(?i)\b(like|similar to|based on|same as|matching|copy of)\s+(the\s+)?$`)
	semantic    = regexp.MustCompile(`(?i)\b(colou?rs?|red|blue|green|yellow|purple|orange|pink|black|white|text|title|font|words?|animat\w*|fade\w*|slide\s+in|spin\w*|rotat\w*|zoom\w*|bounce\w*|background|image|logo|style|layout|bigger|smaller|faster|slower|speed|transition\w*|move\w*|position|size|opacity|shadow|delay|ease|easing)\b`)
	wordRe      = regexp.MustCompile(`[a-zA-Z']+`)
)

// stopwords never count as content when deciding whether "remove ..."
// targets a whole scene or something inside one.
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "to": true, "of": true, "please": true, "can": true,
	"you": true, "could": true, "would": true, "i": true, "me": true, "my": true, "we": true,
	"this": true, "that": true, "it": true, "its": true, "scene": true, "scenes": true, "one": true,
	"just": true, "made": true, "now": true, "and": true, "from": true, "in": true, "on": true,
	"with": true, "for": true, "is": true, "be": true, "entire": true, "whole": true, "all": true,
	"video": true, "clip": true, "slide": true, "shot": true, "again": true, "completely": true,
	"last": true, "final": true, "first": true, "previous": true, "latest": true, "new": true,
	"delete": true, "remove": true, "drop": true, "erase": true, "discard": true, "scrap": true,
	"trash": true, "get": true, "rid": true, "number": true, "no": true, "go": true, "ahead": true,
	"what": true, "let's": true, "lets": true, "out": true, "storyboard": true,
	"yes": true, "yeah": true, "yep": true, "ok": true, "okay": true, "sure": true, "do": true,
	"make": true, "long": true, "longer": true, "shorter": true, "by": true, "mean": true,
}

// Route resolves an utterance to exactly one operation.
func Route(in Input) Decision {
	text := strings.TrimSpace(in.Utterance)
	d := Decision{}
	phrase, hasDuration := timing.FindDuration(text)
	if hasDuration {
		d.DurationFrames = timing.Clamp(phrase.Frames)
	}

	// The duration phrase itself carries no content. Blanking keeps the
	// offsets of scene references valid.
	rest := text
	delta := 0
	if hasDuration {
		rest = text[:phrase.Start] + strings.Repeat(" ", phrase.End-phrase.Start) + text[phrase.End:]
		delta = direction(rest) * phrase.Frames
	}

	wantsDelete := deleteVerb.MatchString(rest)
	wantsNew := newScene.MatchString(rest)
	ref := resolveReference(in, rest)

	if len(in.Storyboard) == 0 {
		d.Operation = OpCreate
		d.Reasoning = "storyboard is empty, creating a scene"
		return d
	}

	if answersPending(in.Session.Pending, rest, ref, hasDuration) {
		return answer(in, d, ref, delta)
	}

	if wantsNew || (createVerb.MatchString(rest) && !wantsDelete && !editVerb.MatchString(rest) && !placesInto(rest, ref)) {
		d.Operation = OpCreate
		d.Reasoning = "utterance asks for a new scene"
		if ref.found() && mentionedAs(likeness, rest, ref) {
			d.ReferenceSceneID = ref.id
			d.Reasoning = fmt.Sprintf("utterance asks for a new scene modeled on scene %d", ref.index)
		}
		return d
	}

	if ref.problem != "" {
		return clarifyOr(in, d, ref.problem, OpEdit, "scene reference out of range")
	}

	switch {
	case wantsDelete:
		if !ref.found() {
			return clarifyOr(in, d, "Which scene should I delete?", OpDelete, "delete without a target")
		}
		if leftoverContent(rest, ref) {
			return target(d, ref, OpEdit, "removes something inside the scene")
		}
		return target(d, ref, OpDelete, "removes the whole scene")

	case relative.MatchString(rest) && !semantic.MatchString(rest):
		d.DurationFrames = 0
		d.Pending.DeltaFrames = delta
		if !ref.found() {
			q := "Which scene should change length, and to how many seconds?"
			if delta != 0 {
				q = "Which scene should change length?"
			}
			return clarifyOr(in, d, q, OpTrim, "relative duration without a target")
		}
		if delta == 0 {
			return clarifyOr(in, withTarget(d, ref), "How many seconds should it last?", OpTrim, "relative duration without an amount")
		}
		d.DurationFrames = shifted(in.Storyboard, ref.index, delta)
		return target(d, ref, OpTrim, fmt.Sprintf("relative duration change of %+d frames", delta))

	case hasDuration && !semantic.MatchString(rest):
		if !ref.found() {
			return clarifyOr(in, d, "Which scene should get the new duration?", OpTrim, "duration change without a target")
		}
		return target(d, ref, OpTrim, "duration only, no other change requested")

	case ref.found() && (ref.how != RefOnly || editVerb.MatchString(rest) || semantic.MatchString(rest)):
		return target(d, ref, OpEdit, "changes the content of the scene")

	case editVerb.MatchString(rest) || hasDuration:
		return clarifyOr(in, d, "Which scene do you mean?", OpEdit, "edit without a target")
	}

	d.Operation = OpCreate
	d.Reasoning = "no scene referenced and no edit requested"
	return d
}

// direction is +1 for "longer", -1 for "shorter" and 0 otherwise.
func direction(text string) int {
	m := relative.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	switch strings.ToLower(m[1]) {
	case "shorter", "shorten":
		return -1
	}
	return 1
}

// shifted is the clamped duration of scene index after adding delta frames.
func shifted(sb Storyboard, index, delta int) int {
	scene, ok := sb.at(index)
	if !ok {
		return 0
	}
	return timing.Clamp(scene.Duration + delta)
}

// mentionedAs reports whether a scene mention directly follows a phrase
// matched by prefix ("like scene 1", "to the intro").
func mentionedAs(prefix *regexp.Regexp, text string, ref reference) bool {
	for _, span := range ref.spans {
		if span[0] <= len(text) && prefix.MatchString(text[:span[0]]) {
			return true
		}
	}
	return false
}

// placesInto reports whether the utterance names a scene as the place the
// new content goes ("add a fade to scene 2"), which makes it an edit.
func placesInto(text string, ref reference) bool {
	if ref.how == RefExplicit {
		return true
	}
	return (ref.found() || ref.problem != "") && mentionedAs(containment, text, ref)
}

// answersPending reports whether the utterance only supplies what an open
// clarifying question asked for: a scene, an amount, or a confirmation.
func answersPending(p Pending, text string, ref reference, hasDuration bool) bool {
	if p.Operation == "" {
		return false
	}
	if deleteVerb.MatchString(text) || newScene.MatchString(text) || semantic.MatchString(text) {
		return false
	}
	if createVerb.MatchString(text) {
		return false
	}
	if editVerb.MatchString(text) && !(p.Operation == OpTrim && hasDuration) {
		return false
	}
	return !leftoverContent(text, ref)
}

// answer completes the pending operation with the target and amount the
// reply supplied.
func answer(in Input, d Decision, ref reference, delta int) Decision {
	p := in.Session.Pending
	d.Pending = p
	d.Instruction = p.Prompt
	if ref.problem != "" {
		return clarifyOr(in, d, ref.problem, p.Operation, "answer names a missing scene")
	}
	if i := in.Storyboard.indexOf(p.SceneID); i > 0 && (!ref.found() || ref.how == RefAnaphora || ref.how == RefOnly) {
		ref = reference{id: p.SceneID, index: i, how: RefPending}
	}
	if !ref.found() {
		return clarifyOr(in, d, "Which scene do you mean?", p.Operation, "answer did not name a scene")
	}

	if p.Operation == OpTrim {
		if delta != 0 {
			d.DurationFrames = 0
			d.Pending.DeltaFrames = delta
		}
		if d.DurationFrames == 0 && d.Pending.DeltaFrames != 0 {
			d.DurationFrames = shifted(in.Storyboard, ref.index, d.Pending.DeltaFrames)
		}
		if d.DurationFrames == 0 {
			d.DurationFrames = p.DurationFrames
		}
		if d.DurationFrames == 0 {
			d.Pending.SceneID = ref.id
			return clarifyOr(in, withTarget(d, ref), "How many seconds should it last?", OpTrim, "answer named a scene but no length")
		}
	}
	return target(d, ref, p.Operation, "completes the clarified request")
}

func withTarget(d Decision, ref reference) Decision {
	d.TargetSceneID = ref.id
	d.TargetIndex = ref.index
	return d
}

func target(d Decision, ref reference, op Operation, why string) Decision {
	d = withTarget(d, ref)
	d.Operation = op
	d.Reasoning = fmt.Sprintf("%s (scene %d via %s)", why, ref.index, ref.how)
	return d
}

// clarifyOr asks question while the session has budget left, otherwise it
// commits to fallback on the most recently touched scene.
func clarifyOr(in Input, d Decision, question string, fallback Operation, why string) Decision {
	if in.Session.ClarificationCount < ClarificationBudget {
		d.Operation = OpClarify
		d.NeedsClarification = true
		d.Question = question
		d.Reasoning = why
		d.Pending.Operation = fallback
		if d.Pending.SceneID == uuid.Nil {
			d.Pending.SceneID = d.TargetSceneID
		}
		if d.Pending.DurationFrames == 0 {
			d.Pending.DurationFrames = d.DurationFrames
		}
		if d.Pending.Prompt == "" {
			d.Pending.Prompt = in.Utterance
		}
		return d
	}

	d.Forced = true
	if d.TargetSceneID == uuid.Nil {
		id := recentScene(in)
		d.TargetSceneID = id
		d.TargetIndex = in.Storyboard.indexOf(id)
	}
	d.Operation = fallback
	if fallback == OpTrim && d.DurationFrames == 0 {
		if d.Pending.DeltaFrames != 0 {
			d.DurationFrames = shifted(in.Storyboard, d.TargetIndex, d.Pending.DeltaFrames)
		}
		if d.DurationFrames == 0 {
			d.Operation = OpEdit
		}
	}
	d.Pending = Pending{}
	d.Reasoning = fmt.Sprintf("%s; clarification budget spent, using scene %d", why, d.TargetIndex)
	return d
}

// leftoverContent reports whether a removal names something besides the
// scene itself ("remove the logo from scene 2" versus "remove scene 2").
func leftoverContent(text string, ref reference) bool {
	b := []byte(text)
	for _, span := range ref.spans {
		for i := span[0]; i < span[1] && i < len(b); i++ {
			b[i] = ' '
		}
	}
	for _, w := range wordRe.FindAllString(string(b), -1) {
		w = strings.ToLower(w)
		if stopwords[w] || ordinalWords[w] > 0 {
			continue
		}
		return true
	}
	return false
}
