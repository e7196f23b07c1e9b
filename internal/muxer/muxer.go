// Package muxer assembles the final video from per-slide images and
// narration audio using the ffmpeg CLI.
package muxer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Static errors for mux operations.
var (
	// ErrNoSlides is returned when no slide pairs are provided.
	ErrNoSlides = errors.New("muxer: no slides to assemble")
	// ErrNoClips is returned when no clip paths are provided for joining.
	ErrNoClips = errors.New("muxer: no clips provided")
)

// SlideMedia pairs one slide's rendered image with its narration audio.
type SlideMedia struct {
	ImagePath string
	AudioPath string
}

// Muxer turns slide media into a single video file.
type Muxer interface {
	// Assemble renders each slide as a clip held for the length of its
	// narration, then concatenates the clips into output.
	Assemble(ctx context.Context, slides []SlideMedia, output string) error
}

// FFmpegMuxer implements Muxer using the ffmpeg CLI.
type FFmpegMuxer struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath string
	// workDir holds intermediate per-slide clips.
	workDir string
}

// Compile-time check that FFmpegMuxer implements Muxer.
var _ Muxer = (*FFmpegMuxer)(nil)

// NewFFmpegMuxer creates a new FFmpegMuxer. If ffmpegPath is empty, it
// defaults to "ffmpeg" (found via PATH). Intermediate clips are written
// to workDir, or the system temp directory when empty.
func NewFFmpegMuxer(ffmpegPath, workDir string) *FFmpegMuxer {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &FFmpegMuxer{ffmpegPath: ffmpegPath, workDir: workDir}
}

// Assemble renders each slide as a clip and concatenates them into output.
func (m *FFmpegMuxer) Assemble(ctx context.Context, slides []SlideMedia, output string) error {
	if len(slides) == 0 {
		return ErrNoSlides
	}

	clipDir, err := os.MkdirTemp(m.workDir, "clips_*")
	if err != nil {
		return fmt.Errorf("create clip directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(clipDir) }()

	clips := make([]string, len(slides))
	for i, slide := range slides {
		clip := filepath.Join(clipDir, fmt.Sprintf("clip_%d.mp4", i))
		if err := m.slideClip(ctx, slide, clip); err != nil {
			return fmt.Errorf("render clip for slide %d: %w", i, err)
		}
		clips[i] = clip
	}

	return m.join(ctx, clips, output)
}

// slideClip renders a still image held for the duration of its audio.
// Dimensions are forced even because yuv420p requires it.
func (m *FFmpegMuxer) slideClip(ctx context.Context, slide SlideMedia, output string) error {
	args := []string{
		"-y",
		"-loop", "1",
		"-i", slide.ImagePath,
		"-i", slide.AudioPath,
		"-vf", "scale=trunc(iw/2)*2:trunc(ih/2)*2",
		"-c:v", "libx264",
		"-preset", "fast",
		"-tune", "stillimage",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-b:a", "128k",
		"-shortest", // clip length follows the narration
		output,
	}
	return m.runFFmpeg(ctx, args)
}

// join concatenates clips into a single output file. It first attempts a
// fast copy (no re-encoding) and falls back to re-encoding with
// libx264/aac if the copy fails.
func (m *FFmpegMuxer) join(ctx context.Context, clips []string, output string) error {
	if len(clips) == 0 {
		return ErrNoClips
	}

	if len(clips) == 1 {
		return m.copyFile(clips[0], output)
	}

	listFile, err := m.createConcatList(clips)
	if err != nil {
		return fmt.Errorf("create concat list: %w", err)
	}
	defer func() { _ = os.Remove(listFile) }()

	if err := m.joinWithCopy(ctx, listFile, output); err == nil {
		return nil
	}

	return m.joinWithReencode(ctx, listFile, output)
}

// joinWithCopy concatenates clips using stream copy (no re-encoding).
func (m *FFmpegMuxer) joinWithCopy(ctx context.Context, listFile, output string) error {
	args := []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listFile,
		"-c", "copy",
		output,
	}
	return m.runFFmpeg(ctx, args)
}

// joinWithReencode concatenates clips by re-encoding with libx264/aac.
func (m *FFmpegMuxer) joinWithReencode(ctx context.Context, listFile, output string) error {
	args := []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listFile,
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", "23",
		"-c:a", "aac",
		"-b:a", "128k",
		output,
	}
	return m.runFFmpeg(ctx, args)
}

// createConcatList creates a temporary file containing the list of clips
// in the format required by ffmpeg's concat demuxer.
func (m *FFmpegMuxer) createConcatList(clips []string) (string, error) {
	f, err := os.CreateTemp(m.workDir, "ffmpeg-concat-*.txt")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = f.Close() }()

	for _, clip := range clips {
		absPath, err := filepath.Abs(clip)
		if err != nil {
			return "", fmt.Errorf("get absolute path for %s: %w", clip, err)
		}
		// Escape single quotes in path
		escapedPath := strings.ReplaceAll(absPath, "'", "'\\''")
		if _, err := fmt.Fprintf(f, "file '%s'\n", escapedPath); err != nil {
			return "", fmt.Errorf("write to concat list: %w", err)
		}
	}

	return f.Name(), nil
}

// copyFile copies a file from src to dst.
func (m *FFmpegMuxer) copyFile(src, dst string) error {
	input, err := os.ReadFile(src) // #nosec G304 - src is provided by trusted internal code
	if err != nil {
		return fmt.Errorf("read source file: %w", err)
	}
	if err := os.WriteFile(dst, input, 0600); err != nil {
		return fmt.Errorf("write destination file: %w", err)
	}
	return nil
}

// runFFmpeg executes ffmpeg with the given arguments and returns an error
// containing stderr output if the command fails.
func (m *FFmpegMuxer) runFFmpeg(ctx context.Context, args []string) error {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, m.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return &FFmpegError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}

	return nil
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}
