package artifact

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Scratch manages local working files for pipeline tasks. Downloaded
// artifacts and intermediate media live here between object-store round
// trips and are removed when the task finishes.
type Scratch struct {
	dir string
}

// NewScratch creates a scratch space rooted at dir.
// If dir is empty, a directory under os.TempDir() is used.
// The directory is created if it doesn't exist.
func NewScratch(dir string) (*Scratch, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "slidecast")
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create scratch directory: %w", err)
	}

	return &Scratch{dir: dir}, nil
}

// Dir returns the scratch directory path.
func (s *Scratch) Dir() string {
	return s.dir
}

// TempDir creates a uniquely named working directory under the scratch
// root. The caller removes it when done.
func (s *Scratch) TempDir(pattern string) (string, error) {
	dir, err := os.MkdirTemp(s.dir, pattern)
	if err != nil {
		return "", fmt.Errorf("create scratch workdir: %w", err)
	}
	return dir, nil
}

// Download streams an object into the given local path. Store errors pass
// through unwrapped so callers can test for ErrNotFound.
func (s *Scratch) Download(ctx context.Context, store Store, bucket, key, path string) error {
	r, err := store.Get(ctx, bucket, key)
	if err != nil {
		return err
	}
	defer r.Close()

	f, err := os.Create(path) // #nosec G304 - callers build paths under the scratch root
	if err != nil {
		return fmt.Errorf("create scratch file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return fmt.Errorf("write scratch file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("close scratch file: %w", err)
	}
	return nil
}
