package segmentation

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cordmetrics/internal/models"
)

func TestBadgerStoreIndexesArtifacts(t *testing.T) {
	dir := t.TempDir()
	inner := NewFSStore(filepath.Join(dir, "data"), filepath.Join(dir, "processed"), "T2starw")
	store, err := OpenBadgerStore(filepath.Join(dir, "index"), inner, "run-42", zerolog.Nop())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	key := models.Key{Combination: testCombination, Tissue: models.SpinalCord}

	_, ok, err := store.Automatic(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	src := filepath.Join(dir, "computed.nii.gz")
	require.NoError(t, os.WriteFile(src, []byte("seg"), 0644))

	stored, err := store.Put(ctx, key, src)
	require.NoError(t, err)
	assert.Equal(t, inner.AutomaticPath(key), stored)

	path, ok, err := store.Automatic(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, stored, path)

	records, err := store.Records()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, Computed, records[0].Provenance)
	assert.Equal(t, "run-42", records[0].RunID)
	assert.Equal(t, "cord", records[0].Tissue)
}

func TestBadgerStoreIgnoresVanishedFiles(t *testing.T) {
	dir := t.TempDir()
	inner := NewFSStore(filepath.Join(dir, "data"), filepath.Join(dir, "processed"), "T2starw")
	store, err := OpenBadgerStore(filepath.Join(dir, "index"), inner, "", zerolog.Nop())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	key := models.Key{Combination: testCombination, Tissue: models.GrayMatter}

	src := filepath.Join(dir, "gm.nii.gz")
	require.NoError(t, os.WriteFile(src, []byte("gm"), 0644))
	stored, err := store.Put(ctx, key, src)
	require.NoError(t, err)

	require.NoError(t, os.Remove(stored))

	_, ok, err := store.Automatic(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBadgerStoreIndexesPreexistingArtifacts(t *testing.T) {
	dir := t.TempDir()
	inner := NewFSStore(filepath.Join(dir, "data"), filepath.Join(dir, "processed"), "T2starw")
	key := models.Key{Combination: testCombination, Tissue: models.WhiteMatter}

	existing := inner.AutomaticPath(key)
	require.NoError(t, os.MkdirAll(filepath.Dir(existing), 0755))
	require.NoError(t, os.WriteFile(existing, []byte("wm"), 0644))

	store, err := OpenBadgerStore(filepath.Join(dir, "index"), inner, "", zerolog.Nop())
	require.NoError(t, err)
	defer store.Close()

	path, ok, err := store.Automatic(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, existing, path)

	records, err := store.Records()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, Cached, records[0].Provenance)
}
