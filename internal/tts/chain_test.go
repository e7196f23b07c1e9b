package tts

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubEngine scripts per-call outcomes for chain tests.
type stubEngine struct {
	canClone    bool
	baseAudio   []byte
	baseErr     error
	clonedAudio []byte
	clonedErr   error

	baseCalls    int
	baseSpeakers []string
	clonedCalls  int
}

func (s *stubEngine) Name() string          { return "stub" }
func (s *stubEngine) SupportsCloning() bool { return s.canClone }

func (s *stubEngine) SynthesizeBase(_ context.Context, _ Request, speaker string) ([]byte, error) {
	s.baseCalls++
	s.baseSpeakers = append(s.baseSpeakers, speaker)
	return s.baseAudio, s.baseErr
}

func (s *stubEngine) SynthesizeCloned(_ context.Context, _ Request, _ []byte) ([]byte, error) {
	s.clonedCalls++
	return s.clonedAudio, s.clonedErr
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestChain_ClonedVoiceSucceeds(t *testing.T) {
	engine := &stubEngine{canClone: true, clonedAudio: []byte("cloned")}
	chain := NewChain(engine, time.Minute, testLogger())

	res := chain.Synthesize(context.Background(), Request{Text: "hello"}, Voice{ReferenceWAV: []byte("ref")})
	assert.Equal(t, TierPrimary, res.Tier)
	assert.Equal(t, "synthesized", res.Tier.Progress())
	assert.Equal(t, []byte("cloned"), res.Audio)
	assert.Equal(t, 1, engine.clonedCalls)
	assert.Zero(t, engine.baseCalls)
}

func TestChain_BuiltinVoiceUsesBase(t *testing.T) {
	engine := &stubEngine{canClone: true, baseAudio: []byte("spoken")}
	chain := NewChain(engine, time.Minute, testLogger())

	res := chain.Synthesize(context.Background(), Request{Text: "hello"}, Voice{BuiltinSpeaker: "en-us"})
	assert.Equal(t, TierPrimary, res.Tier)
	require.Equal(t, 1, engine.baseCalls)
	assert.Equal(t, "en-us", engine.baseSpeakers[0])
	assert.Zero(t, engine.clonedCalls)
}

func TestChain_ReferenceWithoutCloningUsesBase(t *testing.T) {
	engine := &stubEngine{canClone: false, baseAudio: []byte("spoken")}
	chain := NewChain(engine, time.Minute, testLogger())

	res := chain.Synthesize(context.Background(), Request{Text: "hello"}, Voice{ReferenceWAV: []byte("ref")})
	assert.Equal(t, TierPrimary, res.Tier)
	assert.Equal(t, 1, engine.baseCalls)
	assert.Zero(t, engine.clonedCalls)
}

func TestChain_FallsBackToBase(t *testing.T) {
	engine := &stubEngine{canClone: true, clonedErr: errors.New("gpu fell over"), baseAudio: []byte("stock")}
	chain := NewChain(engine, time.Minute, testLogger())

	res := chain.Synthesize(context.Background(), Request{Text: "hello"}, Voice{ReferenceWAV: []byte("ref")})
	assert.Equal(t, TierBase, res.Tier)
	assert.Equal(t, "fallback: base", res.Tier.Progress())
	assert.Equal(t, []byte("stock"), res.Audio)
	// The base fallback drops the speaker selection.
	require.Equal(t, 1, engine.baseCalls)
	assert.Equal(t, "", engine.baseSpeakers[0])
}

func TestChain_FallsBackToSilence(t *testing.T) {
	engine := &stubEngine{canClone: true, clonedErr: errors.New("down"), baseErr: errors.New("also down")}
	chain := NewChain(engine, time.Minute, testLogger())

	res := chain.Synthesize(context.Background(), Request{Text: "hello"}, Voice{ReferenceWAV: []byte("ref")})
	assert.Equal(t, TierSilence, res.Tier)
	assert.Equal(t, "fallback: silence", res.Tier.Progress())
	assert.Equal(t, SilenceWAV(SilenceDuration), res.Audio)
}

func TestChain_SilenceSentinel(t *testing.T) {
	engine := &stubEngine{canClone: true}
	chain := NewChain(engine, time.Minute, testLogger())

	for _, text := range []string{"", SilenceSentinel} {
		res := chain.Synthesize(context.Background(), Request{Text: text}, Voice{BuiltinSpeaker: "en-us"})
		assert.Equal(t, TierPrimary, res.Tier)
		assert.Equal(t, SilenceWAV(sentinelSilenceDuration), res.Audio)
	}
	assert.Zero(t, engine.baseCalls)
	assert.Zero(t, engine.clonedCalls)
}
