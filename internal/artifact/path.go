package artifact

import (
	"fmt"
	"path"
	"strings"
)

// Bucket names used by the pipeline.
const (
	// BucketIngest holds uploaded source decks.
	BucketIngest = "ingest"
	// BucketVoiceClones holds uploaded voice-reference clips.
	BucketVoiceClones = "voice-clones"
	// BucketPresentations holds per-job notes, rendered images and audio.
	BucketPresentations = "presentations"
	// BucketOutput holds final videos.
	BucketOutput = "output"
)

// CanonicalPath joins a bucket and key into the canonical "/{bucket}/{key}" form.
func CanonicalPath(bucket, key string) string {
	return "/" + bucket + "/" + key
}

// ParseCanonical splits a canonical "/{bucket}/{key}" path into its parts.
func ParseCanonical(p string) (bucket, key string, err error) {
	trimmed := strings.TrimPrefix(p, "/")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	return parts[0], parts[1], nil
}

// JobUUID derives the per-job artifact nonce from the source artifact key:
// the basename of the uploaded deck with its extension stripped.
// "/ingest/abc.pptx" -> "abc". The renderer only sees the source filename,
// so image and audio keys are addressed by this nonce while notes and the
// final video are addressed by the numeric job id.
func JobUUID(sourceKey string) string {
	base := path.Base(sourceKey)
	return strings.TrimSuffix(base, path.Ext(base))
}

// NoteKey returns the presentations-bucket key of a slide's speaker notes.
func NoteKey(jobID uint, slide int) string {
	return fmt.Sprintf("%d/notes/slide_%d.txt", jobID, slide)
}

// NotePrefix returns the prefix holding all of a job's note files.
func NotePrefix(jobID uint) string {
	return fmt.Sprintf("%d/notes/", jobID)
}

// AudioKey returns the presentations-bucket key of a slide's narration audio.
func AudioKey(jobUUID string, slide int) string {
	return fmt.Sprintf("%s/audio/slide_%d.wav", jobUUID, slide)
}

// AudioPrefix returns the prefix holding all of a job's audio files.
func AudioPrefix(jobID uint) string {
	return fmt.Sprintf("%d/audio/", jobID)
}

// ImagePrefix returns the prefix holding a job's rendered slide images.
func ImagePrefix(jobUUID string) string {
	return jobUUID + "/images/"
}

// UUIDPrefix returns the catch-all prefix for every nonce-addressed artifact.
func UUIDPrefix(jobUUID string) string {
	return jobUUID + "/"
}

// OutputKey returns the output-bucket key of a job's final video.
func OutputKey(jobID uint) string {
	return fmt.Sprintf("%d.mp4", jobID)
}
