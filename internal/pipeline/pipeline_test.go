package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/slidecast/slidecast/internal/artifact"
	"github.com/slidecast/slidecast/internal/broker"
	"github.com/slidecast/slidecast/internal/job"
	"github.com/slidecast/slidecast/internal/muxer"
	"github.com/slidecast/slidecast/internal/tts"
)

// env bundles the in-memory backends shared by the pipeline tests.
type env struct {
	jobs      *job.MemoryStore
	artifacts *artifact.MemoryStore
	broker    *broker.MemoryBroker
	logger    *slog.Logger
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		jobs:      job.NewMemoryStore(),
		artifacts: artifact.NewMemoryStore(),
		broker:    broker.NewMemoryBroker(),
		logger:    slog.New(slog.DiscardHandler),
	}
	t.Cleanup(func() { _ = e.broker.Close() })
	return e
}

// newJob seeds a builtin-voiced job whose source deck key carries the
// given nonce.
func (e *env) newJob(t *testing.T, jobUUID string) *job.Job {
	t.Helper()
	ctx := context.Background()
	u, err := e.jobs.CreateUser(ctx, "presenter", nil)
	require.NoError(t, err)
	ref, err := e.jobs.CreateVoiceReference(ctx, u.ID, "default", "builtin://en-default.pth")
	require.NoError(t, err)
	j, err := e.jobs.CreateJob(ctx, u.ID, ref.ID, artifact.CanonicalPath(artifact.BucketIngest, jobUUID+".pptx"))
	require.NoError(t, err)
	return j
}

// buildDeck assembles a minimal pptx with one notes part per non-empty
// entry.
func buildDeck(t *testing.T, notes []string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	write := func(name, content string) {
		f, err := zw.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}

	var sldIDs, presRels strings.Builder
	for i := range notes {
		n := i + 1
		fmt.Fprintf(&sldIDs, `<p:sldId id="%d" r:id="rId%d"/>`, 255+n, n)
		fmt.Fprintf(&presRels,
			`<Relationship Id="rId%d" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/slide" Target="slides/slide%d.xml"/>`,
			n, n)
	}

	write("ppt/presentation.xml", fmt.Sprintf(
		`<p:presentation xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships"><p:sldIdLst>%s</p:sldIdLst></p:presentation>`,
		sldIDs.String()))
	write("ppt/_rels/presentation.xml.rels", fmt.Sprintf(
		`<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">%s</Relationships>`,
		presRels.String()))

	for i, note := range notes {
		n := i + 1
		write(fmt.Sprintf("ppt/slides/slide%d.xml", n),
			`<p:sld xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main"/>`)
		if note == "" {
			continue
		}
		write(fmt.Sprintf("ppt/slides/_rels/slide%d.xml.rels", n), fmt.Sprintf(
			`<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"><Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/notesSlide" Target="../notesSlides/notesSlide%d.xml"/></Relationships>`, n))
		write(fmt.Sprintf("ppt/notesSlides/notesSlide%d.xml", n), fmt.Sprintf(
			`<p:notes xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main" xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main"><p:cSld><p:spTree><p:sp><p:txBody><a:p><a:r><a:t>%s</a:t></a:r></a:p></p:txBody></p:sp></p:spTree></p:cSld></p:notes>`, note))
	}

	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// stubRenderer scripts the renderer client.
type stubRenderer struct {
	images    []string
	err       error
	gotBucket string
	gotKey    string
}

func (r *stubRenderer) Convert(_ context.Context, bucket, key string) ([]string, error) {
	r.gotBucket, r.gotKey = bucket, key
	return r.images, r.err
}

// stubMuxer records its input and writes a marker output file.
type stubMuxer struct {
	slides []muxer.SlideMedia
	err    error
}

func (m *stubMuxer) Assemble(_ context.Context, slides []muxer.SlideMedia, output string) error {
	m.slides = slides
	if m.err != nil {
		return m.err
	}
	return os.WriteFile(output, []byte("mp4-bytes"), 0600)
}

// stubEngine is a scriptable tts.Engine.
type stubEngine struct {
	canClone     bool
	audio        []byte
	err          error
	gotSpeaker   string
	gotReference []byte
	gotText      string
}

func (s *stubEngine) Name() string          { return "stub" }
func (s *stubEngine) SupportsCloning() bool { return s.canClone }

func (s *stubEngine) SynthesizeBase(_ context.Context, req tts.Request, speaker string) ([]byte, error) {
	s.gotSpeaker = speaker
	s.gotText = req.Text
	return s.audio, s.err
}

func (s *stubEngine) SynthesizeCloned(_ context.Context, req tts.Request, ref []byte) ([]byte, error) {
	s.gotReference = ref
	s.gotText = req.Text
	return s.audio, s.err
}

// readObject returns an object's content as a string.
func readObject(t *testing.T, store artifact.Store, bucket, key string) string {
	t.Helper()
	rc, err := store.Get(context.Background(), bucket, key)
	require.NoError(t, err)
	defer rc.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(rc)
	require.NoError(t, err)
	return buf.String()
}
