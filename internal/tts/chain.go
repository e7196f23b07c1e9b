package tts

import (
	"context"
	"log/slog"
	"time"
)

// Tier identifies which rung of the fallback ladder produced a slide's
// narration. The tier is recorded on the task so operators can see which
// slides degraded.
type Tier int

const (
	// TierPrimary is the requested voice, cloned or built-in.
	TierPrimary Tier = iota
	// TierBase is the engine's stock voice after the primary attempt failed.
	TierBase
	// TierSilence is generated silence after every synthesis attempt failed.
	TierSilence
)

// Progress returns the task progress label recorded for the tier.
func (t Tier) Progress() string {
	switch t {
	case TierBase:
		return "fallback: base"
	case TierSilence:
		return "fallback: silence"
	default:
		return "synthesized"
	}
}

// Voice selects the narration voice for one synthesis. Exactly one field
// is set: BuiltinSpeaker for catalog voices, ReferenceWAV for uploads.
type Voice struct {
	BuiltinSpeaker string
	ReferenceWAV   []byte
}

// Result is the outcome of a chain synthesis.
type Result struct {
	Audio []byte
	Tier  Tier
}

// sentinelSilenceDuration is the silence rendered for slides whose notes
// are intentionally empty. Shorter than the failure fallback because the
// slide still deserves a beat on screen.
const sentinelSilenceDuration = 1 * time.Second

// Chain runs the tiered synthesis fallback: requested voice, then the
// engine's stock voice, then silence. Each voiced attempt runs under the
// soft time limit; the silence tier is pure computation and cannot fail,
// so Synthesize always produces audio.
type Chain struct {
	engine    Engine
	softLimit time.Duration
	logger    *slog.Logger
}

// NewChain creates a synthesis chain over the given engine.
func NewChain(engine Engine, softLimit time.Duration, logger *slog.Logger) *Chain {
	return &Chain{
		engine:    engine,
		softLimit: softLimit,
		logger:    logger,
	}
}

// Synthesize renders narration for one slide, degrading through the
// fallback tiers as needed.
func (c *Chain) Synthesize(ctx context.Context, req Request, voice Voice) Result {
	if req.Text == "" || req.Text == SilenceSentinel {
		return Result{Audio: SilenceWAV(sentinelSilenceDuration), Tier: TierPrimary}
	}

	audio, err := c.primary(ctx, req, voice)
	if err == nil {
		return Result{Audio: audio, Tier: TierPrimary}
	}
	c.logger.Warn("primary synthesis failed, falling back to base voice",
		"engine", c.engine.Name(),
		"error", err,
	)

	audio, err = c.withSoftLimit(ctx, func(ctx context.Context) ([]byte, error) {
		return c.engine.SynthesizeBase(ctx, req, "")
	})
	if err == nil {
		return Result{Audio: audio, Tier: TierBase}
	}
	c.logger.Error("base synthesis failed, substituting silence",
		"engine", c.engine.Name(),
		"error", err,
	)

	return Result{Audio: SilenceWAV(SilenceDuration), Tier: TierSilence}
}

// primary runs the requested-voice attempt. Uploaded references use
// cloning when the engine has it; otherwise the reference is ignored and
// the stock voice carries the slide.
func (c *Chain) primary(ctx context.Context, req Request, voice Voice) ([]byte, error) {
	return c.withSoftLimit(ctx, func(ctx context.Context) ([]byte, error) {
		if len(voice.ReferenceWAV) > 0 && c.engine.SupportsCloning() {
			return c.engine.SynthesizeCloned(ctx, req, voice.ReferenceWAV)
		}
		return c.engine.SynthesizeBase(ctx, req, voice.BuiltinSpeaker)
	})
}

func (c *Chain) withSoftLimit(ctx context.Context, fn func(context.Context) ([]byte, error)) ([]byte, error) {
	if c.softLimit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.softLimit)
		defer cancel()
	}
	return fn(ctx)
}
