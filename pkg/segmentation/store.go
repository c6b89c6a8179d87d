// Package segmentation implements the "at most one computation" cache policy
// for segmentation artifacts: a manually curated override wins, then a
// previously produced automatic artifact, and only then is the automatic
// segmenter invoked. The policy is the same for every tissue class.
package segmentation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"cordmetrics/internal/models"
)

// ErrArtifactMissing is returned when a segmenter finished without producing
// its output, or a store points at a file that no longer exists
var ErrArtifactMissing = errors.New("segmentation artifact missing")

// Provenance records where a resolved artifact came from
type Provenance string

const (
	// Manual is a curated override
	Manual Provenance = "manual"

	// Cached is an automatic artifact produced by an earlier run
	Cached Provenance = "cached"

	// Computed is an artifact produced by this run
	Computed Provenance = "computed"
)

// Store locates segmentation artifacts by key. Implementations may be backed
// by the filesystem, an object store, or memory.
type Store interface {
	// Manual returns the path of a curated override for key, if any
	Manual(ctx context.Context, key models.Key) (string, bool, error)

	// Automatic returns the path of a previously produced automatic artifact
	Automatic(ctx context.Context, key models.Key) (string, bool, error)

	// Put records a freshly computed artifact found at src and returns the
	// location later Automatic calls will report
	Put(ctx context.Context, key models.Key, src string) (string, error)
}

// copyFile copies src to dst, creating parent directories
func copyFile(src, dst string) error {
	if src == dst {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s: %w", filepath.Base(src), err)
	}
	return out.Close()
}

// exists reports whether a regular file is present at path
func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
