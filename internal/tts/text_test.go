package tts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse_Defaults(t *testing.T) {
	d := Parse("Hello world")
	assert.Equal(t, "Hello world", d.Clean)
	assert.Equal(t, "neutral", d.Emotion)
	assert.Equal(t, 1.0, d.Speed)
	assert.Equal(t, 1.0, d.Pitch)
}

func TestParse_Directives(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		clean   string
		emotion string
		speed   float64
		pitch   float64
	}{
		{
			name:    "emotion tag",
			text:    "[EMOTION:excited] Welcome everyone",
			clean:   "Welcome everyone",
			emotion: "excited",
			speed:   1.0,
			pitch:   1.0,
		},
		{
			name:    "named speed and pitch",
			text:    "[SPEED:slow][PITCH:high] Take it easy",
			clean:   "Take it easy",
			emotion: "neutral",
			speed:   0.7,
			pitch:   1.2,
		},
		{
			name:    "fast and low",
			text:    "[SPEED:fast][PITCH:low] Quick summary",
			clean:   "Quick summary",
			emotion: "neutral",
			speed:   1.3,
			pitch:   0.8,
		},
		{
			name:    "numeric values",
			text:    "[SPEED:1.5][PITCH:0.9] Measured pace",
			clean:   "Measured pace",
			emotion: "neutral",
			speed:   1.5,
			pitch:   0.9,
		},
		{
			name:    "numeric values clamped",
			text:    "[SPEED:5.0][PITCH:0.1] Extremes",
			clean:   "Extremes",
			emotion: "neutral",
			speed:   2.0,
			pitch:   0.5,
		},
		{
			name:    "unparseable numeric falls back",
			text:    "[SPEED:...] Odd",
			clean:   "Odd",
			emotion: "neutral",
			speed:   1.0,
			pitch:   1.0,
		},
		{
			name:    "case insensitive",
			text:    "[emotion:HAPPY][speed:NORMAL] Mixed case",
			clean:   "Mixed case",
			emotion: "happy",
			speed:   1.0,
			pitch:   1.0,
		},
		{
			name:    "first match wins, all tags stripped",
			text:    "[SPEED:slow] middle [SPEED:fast] end",
			clean:   "middle end",
			emotion: "neutral",
			speed:   0.7,
			pitch:   1.0,
		},
		{
			name:    "unknown emotion value left in place",
			text:    "[EMOTION:bored] Hello",
			clean:   "[EMOTION:bored] Hello",
			emotion: "neutral",
			speed:   1.0,
			pitch:   1.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Parse(tt.text)
			assert.Equal(t, tt.clean, d.Clean)
			assert.Equal(t, tt.emotion, d.Emotion)
			assert.Equal(t, tt.speed, d.Speed)
			assert.Equal(t, tt.pitch, d.Pitch)
		})
	}
}

func TestParse_PauseAndEmphasis(t *testing.T) {
	d := Parse("Wait [PAUSE:3] then say [EMPHASIS:this part] normally")
	assert.Equal(t, "Wait ,,, then say THIS PART normally", d.Clean)
}

func TestParse_CollapsesWhitespace(t *testing.T) {
	d := Parse("  Hello\n\tthere   world  ")
	assert.Equal(t, "Hello there world", d.Clean)
}
