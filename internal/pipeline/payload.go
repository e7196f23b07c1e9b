// Package pipeline implements the task bodies of the narration pipeline:
// decomposition, per-slide synthesis, the synthesis barrier plus final
// assembly, and job cancellation.
package pipeline

import "time"

// DecomposePayload is the message behind a decompose task.
type DecomposePayload struct {
	JobID uint `json:"job_id"`
}

// SynthesizePayload is the message behind a synthesize task. SlideIndex
// is 1-based, matching the artifact key layout.
type SynthesizePayload struct {
	JobID      uint `json:"job_id"`
	SlideIndex int  `json:"slide_index"`
}

// AssemblePayload is the message behind an assemble task. ImagePaths are
// canonical renderer outputs in slide order; SynthTaskIDs are the broker
// ids the barrier waits on; Deadline bounds the wait.
type AssemblePayload struct {
	JobID        uint      `json:"job_id"`
	ImagePaths   []string  `json:"image_paths"`
	SynthTaskIDs []string  `json:"synth_task_ids"`
	Deadline     time.Time `json:"deadline"`
}
