package loader

import (
	"encoding/json"
	"fmt"
)

// Fallback kinds. Each renders a distinct placeholder.
const (
	KindNotFound        = "not_found"
	KindBuildError      = "build_error"
	KindLoading         = "loading"
	KindMissingArtifact = "missing_artifact"
)

// Fallback is a diagnostic placeholder served instead of a broken scene.
type Fallback struct {
	Kind string `json:"kind"`
	// Code is the machine-readable error code clients branch on.
	Code    string `json:"code"`
	Title   string `json:"title"`
	Message string `json:"message"`
	// Script is a self-registering component that renders the diagnostic.
	Script string `json:"-"`
}

func notFound() *Fallback {
	return newFallback(KindNotFound, "not_found", "Scene not found",
		"This scene no longer exists. It may have been deleted.")
}

func buildError(reason string) *Fallback {
	if reason == "" {
		reason = "The scene code could not be built."
	}
	return newFallback(KindBuildError, "build_failed", "Scene failed to build", reason)
}

func loading() *Fallback {
	return newFallback(KindLoading, "still_processing", "Scene is still processing",
		"This scene is being generated and will appear when it is ready.")
}

func unavailable() *Fallback {
	return newFallback(KindLoading, "still_processing", "Scene is temporarily unavailable",
		"The scene code could not be fetched right now. Playback will retry.")
}

func missingArtifact() *Fallback {
	return newFallback(KindMissingArtifact, "missing_artifact_queued_for_rebuild", "Scene artifact missing",
		"The compiled code for this scene is missing. It has been queued for rebuild.")
}

func newFallback(kind, code, title, message string) *Fallback {
	return &Fallback{Kind: kind, Code: code, Title: title, Message: message, Script: placeholder(kind, title, message)}
}

var placeholderColors = map[string]string{
	KindNotFound:        "#374151",
	KindBuildError:      "#7f1d1d",
	KindLoading:         "#1e3a8a",
	KindMissingArtifact: "#78350f",
}

// placeholder builds the fallback component. Strings go through JSON
// encoding so any message is a safe JS literal.
func placeholder(kind, title, message string) string {
	t, _ := json.Marshal(title)
	m, _ := json.Marshal(message)
	k, _ := json.Marshal(kind)
	return fmt.Sprintf(`(function () {
  var h = window.React.createElement;
  function SceneFallback() {
    return h("div", {
      "data-fallback": %s,
      style: { position: "absolute", inset: 0, display: "flex", flexDirection: "column",
        alignItems: "center", justifyContent: "center", background: %q, color: "#fff",
        fontFamily: "sans-serif", padding: 48, textAlign: "center" }
    }, h("h2", null, %s), h("p", null, %s));
  }
  window.__REMOTION_COMPONENT = SceneFallback;
})();
`, k, placeholderColors[kind], t, m)
}
