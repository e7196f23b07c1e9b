package job

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{"pending to decomposing", StatusPending, StatusDecomposing, true},
		{"decomposing to synthesizing", StatusDecomposing, StatusSynthesizing, true},
		{"synthesizing to assembling", StatusSynthesizing, StatusAssembling, true},
		{"assembling to completed", StatusAssembling, StatusCompleted, true},
		{"pending to failed", StatusPending, StatusFailed, true},
		{"decomposing to failed", StatusDecomposing, StatusFailed, true},
		{"synthesizing to cancelled", StatusSynthesizing, StatusCancelled, true},
		{"assembling to cancelled", StatusAssembling, StatusCancelled, true},
		// Skipping stages is not allowed
		{"pending to synthesizing", StatusPending, StatusSynthesizing, false},
		{"pending to completed", StatusPending, StatusCompleted, false},
		{"decomposing to assembling", StatusDecomposing, StatusAssembling, false},
		// Terminal states are absorbing
		{"completed to failed", StatusCompleted, StatusFailed, false},
		{"failed to pending", StatusFailed, StatusPending, false},
		{"cancelled to synthesizing", StatusCancelled, StatusSynthesizing, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
		assert.True(t, s.IsTerminal(), "expected %s to be terminal", s)
	}
	for _, s := range ActiveStatuses() {
		assert.False(t, s.IsTerminal(), "expected %s to be active", s)
	}
}

func TestVoiceReference_Builtin(t *testing.T) {
	uploaded := &VoiceReference{StorageKey: "/voice-clones/ab12.wav"}
	assert.False(t, uploaded.IsBuiltin())
	assert.Empty(t, uploaded.BuiltinSpeaker())

	builtin := &VoiceReference{StorageKey: "builtin://en-default.pth"}
	assert.True(t, builtin.IsBuiltin())
	assert.Equal(t, "en-default", builtin.BuiltinSpeaker())

	noExt := &VoiceReference{StorageKey: "builtin://narrator"}
	assert.True(t, noExt.IsBuiltin())
	assert.Equal(t, "narrator", noExt.BuiltinSpeaker())
}
