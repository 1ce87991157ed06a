// Package timing holds the frame-rate constants shared by the router, the
// synthesis engine and the validator, and parses spoken duration phrases
// such as "3 seconds", "five secs" or "90 frames".
package timing

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

const (
	// FPS is the fixed composition frame rate.
	FPS = 30
	// DefaultDurationFrames is used when nothing constrains a new scene.
	DefaultDurationFrames = 150
	// MinDurationFrames and MaxDurationFrames bound every extracted duration.
	MinDurationFrames = 30
	MaxDurationFrames = 1800
)

var numberWords = map[string]float64{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6,
	"seven": 7, "eight": 8, "nine": 9, "ten": 10, "eleven": 11,
	"twelve": 12, "thirteen": 13, "fourteen": 14, "fifteen": 15,
	"sixteen": 16, "seventeen": 17, "eighteen": 18, "nineteen": 19,
	"twenty": 20, "thirty": 30, "forty": 40, "fifty": 50, "sixty": 60,
	"half a": 0.5,
}

var durationPattern = regexp.MustCompile(
	`(?i)\b(\d+(?:\.\d+)?|one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve|thirteen|fourteen|fifteen|sixteen|seventeen|eighteen|nineteen|twenty|thirty|forty|fifty|sixty|half a)[\s-]*(seconds?|secs?|s|frames?|minutes?|mins?)\b`)

// Phrase is a duration mention found in free text.
type Phrase struct {
	Frames int
	// Start and End are byte offsets of the match in the input.
	Start, End int
}

// FindDuration returns the first duration phrase in text.
func FindDuration(text string) (Phrase, bool) {
	loc := durationPattern.FindStringSubmatchIndex(text)
	if loc == nil {
		return Phrase{}, false
	}
	amountText := strings.ToLower(text[loc[2]:loc[3]])
	unit := strings.ToLower(text[loc[4]:loc[5]])

	amount, ok := numberWords[amountText]
	if !ok {
		v, err := strconv.ParseFloat(amountText, 64)
		if err != nil {
			return Phrase{}, false
		}
		amount = v
	}

	var frames float64
	switch {
	case strings.HasPrefix(unit, "f"):
		frames = amount
	case strings.HasPrefix(unit, "m"):
		frames = amount * 60 * FPS
	default:
		frames = amount * FPS
	}
	if frames < 1 {
		return Phrase{}, false
	}
	return Phrase{Frames: int(math.Round(frames)), Start: loc[0], End: loc[1]}, true
}

// SecondsToFrames converts seconds at the fixed frame rate.
func SecondsToFrames(seconds float64) int {
	return int(math.Round(seconds * FPS))
}

// FramesToSeconds converts frames at the fixed frame rate.
func FramesToSeconds(frames int) float64 {
	return float64(frames) / FPS
}

// Clamp bounds frames to the practical scene duration range.
func Clamp(frames int) int {
	if frames < MinDurationFrames {
		return MinDurationFrames
	}
	if frames > MaxDurationFrames {
		return MaxDurationFrames
	}
	return frames
}
