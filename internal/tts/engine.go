// Package tts turns slide notes into narration audio. It parses note
// directives, talks to the configured synthesis engine, and degrades
// through base-voice and silence fallbacks when synthesis fails.
package tts

import (
	"context"
	"errors"
	"fmt"
)

// Static errors for synthesis operations.
var (
	// ErrCloningUnsupported is returned when a cloned-voice synthesis is
	// requested from an engine that cannot clone.
	ErrCloningUnsupported = errors.New("tts: engine does not support voice cloning")
	// ErrUnknownEngine is returned when no engine is registered under a name.
	ErrUnknownEngine = errors.New("tts: unknown engine")
	// ErrEmptyAudio is returned when an engine responds with no audio data.
	ErrEmptyAudio = errors.New("tts: engine returned no audio")
)

// Request carries one synthesis call's text and parsed directives.
type Request struct {
	Text    string
	Speed   float64
	Pitch   float64
	Emotion string
}

// Engine is a speech synthesis backend. Implementations return complete
// WAV payloads at SampleRate.
type Engine interface {
	// Name returns the engine identifier used in configuration.
	Name() string

	// SupportsCloning reports whether SynthesizeCloned is available.
	SupportsCloning() bool

	// SynthesizeBase renders text in the engine's stock voice. A non-empty
	// speaker selects a named built-in voice where the engine has them.
	SynthesizeBase(ctx context.Context, req Request, speaker string) ([]byte, error)

	// SynthesizeCloned renders text in a voice cloned from the reference
	// audio. Returns ErrCloningUnsupported when the engine cannot clone.
	SynthesizeCloned(ctx context.Context, req Request, referenceWAV []byte) ([]byte, error)
}

// Engine names accepted in configuration. MeloTTS is the only engine
// with voice cloning; the rest synthesize in their stock voice.
const (
	EngineMeloTTS    = "melotts"
	EngineNeuphonic  = "neuphonic"
	EngineFishSpeech = "fishspeech"
	EngineChatterbox = "chatterbox"
)

// NewEngine builds the named engine backed by the synthesis service at
// baseURL.
func NewEngine(name, baseURL string) (Engine, error) {
	switch name {
	case EngineMeloTTS:
		return NewHTTPEngine(name, baseURL, true)
	case EngineNeuphonic, EngineFishSpeech, EngineChatterbox:
		return NewHTTPEngine(name, baseURL, false)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, name)
	}
}
