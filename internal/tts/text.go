package tts

import (
	"regexp"
	"strconv"
	"strings"
)

// Directives carries the synthesis parameters parsed from a slide's
// speaker notes, alongside the cleaned narration text.
type Directives struct {
	Clean   string
	Emotion string
	Speed   float64
	Pitch   float64
}

// SilenceSentinel marks a slide whose narration is intentionally empty.
// Slides without notes are narrated as a short silence.
const SilenceSentinel = "[SILENCE]"

var (
	emotionMatchRe  = regexp.MustCompile(`(?i)\[EMOTION:(excited|sad|angry|happy|neutral)\]`)
	emotionStripRe  = regexp.MustCompile(`(?i)\[EMOTION:[^\]]+\]`)
	speedMatchRe    = regexp.MustCompile(`(?i)\[SPEED:(slow|normal|fast|[\d.]+)\]`)
	speedStripRe    = regexp.MustCompile(`(?i)\[SPEED:[^\]]+\]`)
	pitchMatchRe    = regexp.MustCompile(`(?i)\[PITCH:(low|normal|high|[\d.]+)\]`)
	pitchStripRe    = regexp.MustCompile(`(?i)\[PITCH:[^\]]+\]`)
	pauseRe         = regexp.MustCompile(`(?i)\[PAUSE:(\d+)\]`)
	emphasisRe      = regexp.MustCompile(`(?i)\[EMPHASIS:([^\]]+)\]`)
	whitespaceRe    = regexp.MustCompile(`\s+`)
)

// Parse extracts narration directives from note text. The first matching
// tag of each kind wins; once a kind matches, every tag of that kind is
// stripped from the text. Tags with unrecognized values are left in place
// so the mistake is audible rather than silently dropped.
func Parse(text string) Directives {
	d := Directives{Emotion: "neutral", Speed: 1.0, Pitch: 1.0}

	if m := emotionMatchRe.FindStringSubmatch(text); m != nil {
		d.Emotion = strings.ToLower(m[1])
		text = emotionStripRe.ReplaceAllString(text, "")
	}

	if m := speedMatchRe.FindStringSubmatch(text); m != nil {
		d.Speed = parseRate(m[1], 0.7, 1.3)
		text = speedStripRe.ReplaceAllString(text, "")
	}

	if m := pitchMatchRe.FindStringSubmatch(text); m != nil {
		d.Pitch = parseRate(m[1], 0.8, 1.2)
		text = pitchStripRe.ReplaceAllString(text, "")
	}

	// A pause becomes commas so the engine renders a natural break.
	text = pauseRe.ReplaceAllStringFunc(text, func(tag string) string {
		n, _ := strconv.Atoi(pauseRe.FindStringSubmatch(tag)[1])
		return strings.Repeat(",", n)
	})

	// Emphasis becomes uppercase, which the engines stress.
	text = emphasisRe.ReplaceAllStringFunc(text, func(tag string) string {
		return strings.ToUpper(emphasisRe.FindStringSubmatch(tag)[1])
	})

	d.Clean = strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
	return d
}

// parseRate maps a named or numeric rate value to its multiplier.
// Numeric values are clamped to [0.5, 2.0]; unparseable ones fall back to 1.0.
func parseRate(val string, low, high float64) float64 {
	switch strings.ToLower(val) {
	case "slow", "low":
		return low
	case "fast", "high":
		return high
	case "normal":
		return 1.0
	}
	rate, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 1.0
	}
	return max(0.5, min(2.0, rate))
}
