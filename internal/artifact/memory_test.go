package artifact

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_PutGetStat(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	p, err := store.Put(ctx, BucketIngest, "deck.pptx", strings.NewReader("content"), 7)
	require.NoError(t, err)
	assert.Equal(t, "/ingest/deck.pptx", p)

	r, err := store.Get(ctx, BucketIngest, "deck.pptx")
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "content", string(data))

	info, err := store.Stat(ctx, BucketIngest, "deck.pptx")
	require.NoError(t, err)
	assert.Equal(t, int64(7), info.Size)

	_, err = store.Get(ctx, BucketIngest, "missing.pptx")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Stat(ctx, BucketOutput, "deck.pptx")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ListAndDeletePrefix(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for _, key := range []string{"7/notes/slide_1.txt", "7/notes/slide_0.txt", "7/audio/slide_0.wav", "8/notes/slide_0.txt"} {
		_, err := store.Put(ctx, BucketPresentations, key, strings.NewReader("x"), 1)
		require.NoError(t, err)
	}

	infos, err := store.List(ctx, BucketPresentations, "7/notes/")
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "7/notes/slide_0.txt", infos[0].Key)
	assert.Equal(t, "7/notes/slide_1.txt", infos[1].Key)

	deleted, err := store.DeletePrefix(ctx, BucketPresentations, "7/")
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)

	infos, err = store.List(ctx, BucketPresentations, "")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "8/notes/slide_0.txt", infos[0].Key)

	// Deleting an empty prefix is not an error.
	deleted, err = store.DeletePrefix(ctx, BucketPresentations, "7/")
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestMemoryStore_DeleteMissingIsNoOp(t *testing.T) {
	store := NewMemoryStore()
	assert.NoError(t, store.Delete(context.Background(), BucketOutput, "nope.mp4"))
}

func TestScratch_TempDirAndDownload(t *testing.T) {
	ctx := context.Background()
	scratch, err := NewScratch(t.TempDir())
	require.NoError(t, err)

	dir, err := scratch.TempDir("assemble_*")
	require.NoError(t, err)
	assert.Equal(t, scratch.Dir(), filepath.Dir(dir))

	store := NewMemoryStore()
	_, err = store.Put(ctx, BucketPresentations, "uuid/audio/slide_1.wav", strings.NewReader("wav-bytes"), 9)
	require.NoError(t, err)

	local := filepath.Join(dir, "slide_1.wav")
	require.NoError(t, scratch.Download(ctx, store, BucketPresentations, "uuid/audio/slide_1.wav", local))
	data, err := os.ReadFile(local) // #nosec G304 - test path
	require.NoError(t, err)
	assert.Equal(t, "wav-bytes", string(data))

	// A missing object surfaces the store's sentinel unwrapped.
	err = scratch.Download(ctx, store, BucketPresentations, "uuid/audio/slide_2.wav", filepath.Join(dir, "slide_2.wav"))
	assert.ErrorIs(t, err, ErrNotFound)
}
