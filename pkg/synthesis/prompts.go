package synthesis

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ASHISH26940/scene-orchestrator-api/pkg/sandbox"
)

// Visual reference handling.
const (
	VisualKeyElements = "key-elements"
	VisualExact       = "exact"
)

var exactVisual = regexp.MustCompile(`(?i)\b(exact(ly)?|pixel[- ]perfect|identical|replicate|1:1|same as the (image|screenshot|picture))\b`)

// VisualMode returns VisualExact only when the prompt explicitly asks for a
// faithful reproduction of the image.
func VisualMode(prompt string) string {
	if exactVisual.MatchString(prompt) {
		return VisualExact
	}
	return VisualKeyElements
}

var scopedEdit = regexp.MustCompile(`(?i)\b(colou?r|text|title|label|font|size|bigger|smaller|background|opacity|position|move|rename|wording|typo|border|shadow|speed|faster|slower)\b`)

// scoped reports whether an edit should leave unrelated code alone.
func scoped(prompt, scope string) bool {
	return scope != "" || scopedEdit.MatchString(prompt)
}

const systemPrompt = `You write a single Remotion scene as TSX. The code runs in a sandbox.

### Strict Requirements for Output:
1.  **Code Only**: Output only the TSX source. No explanations, no markdown.
2.  **No imports**: Never write an import statement. Remotion is available as the global window.Remotion and React as window.React. Destructure what you need, e.g. const { AbsoluteFill, useCurrentFrame, interpolate, spring, Sequence } = window.Remotion;
3.  **One component**: Exactly one "export default function" that renders the scene.
4.  **Registration**: The last line must be: ` + sandbox.RegistrationTarget + ` = <ComponentName>;
5.  **Duration**: Declare export const durationInFrames = <frames>; at the top. The composition runs at 30 fps.
6.  **Clamping**: Every interpolate call passes { extrapolateLeft: "clamp", extrapolateRight: "clamp" }.
7.  **No I/O**: Never use fetch, XMLHttpRequest, WebSocket, require, eval, localStorage or process.
`

func durationLine(frames int, explicit bool) string {
	if explicit {
		return fmt.Sprintf("The scene must last exactly %d frames: export const durationInFrames = %d;", frames, frames)
	}
	return fmt.Sprintf("Unless the animation needs otherwise, use export const durationInFrames = %d;", frames)
}

func newScenePrompt(req NewRequest, frames int, explicit bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "### User Request:\n%s\n\n%s\n", req.Prompt, durationLine(frames, explicit))
	if req.Guidance != "" {
		fmt.Fprintf(&b, "\n### Guidance:\n%s\n", req.Guidance)
	}
	if req.Visual != nil && len(req.Visual.Images) > 0 {
		if VisualMode(req.Prompt) == VisualExact {
			b.WriteString("\nRecreate the attached image as faithfully as possible: layout, colors, text and proportions.\n")
		} else {
			b.WriteString("\nUse the attached image as inspiration only. Extract its key elements: the silhouette of the composition, the dominant colors and the primary text. Do not attempt a pixel-exact copy.\n")
		}
	}
	if req.ReferenceCode != "" {
		b.WriteString("\nThe reference code shows the style of neighbouring scenes. Match its look, not its content.\n")
	}
	return b.String()
}

func editPrompt(req EditRequest, frames int, explicit, strict bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "### Edit Request:\n%s\n", req.Prompt)
	if req.Scope != "" {
		fmt.Fprintf(&b, "\nOnly this part may change: %s\n", req.Scope)
	}
	if explicit {
		fmt.Fprintf(&b, "\n%s\n", durationLine(frames, true))
	}
	b.WriteString("\nReturn the complete updated scene. Keep every line that the request does not concern byte-identical, including names, layout and styling.\n")
	if strict {
		b.WriteString("\nYour previous answer rewrote far more than the request needed. Change only the lines required by the request; copy everything else verbatim.\n")
	}
	return b.String()
}

func repairPrompt(base string, violations []sandbox.Violation) string {
	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\n### Your previous answer broke these rules. Fix them:\n")
	for _, v := range violations {
		fmt.Fprintf(&b, "- %s (%s)\n", v.Message, v.Rule)
	}
	return b.String()
}
