package gcsstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cordmetrics/internal/models"
	"cordmetrics/pkg/segmentation"
)

// memBucket keeps objects in memory
type memBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	fail    error
}

func newMemBucket() *memBucket {
	return &memBucket{objects: make(map[string][]byte)}
}

func (b *memBucket) Download(_ context.Context, object, dst string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return b.fail
	}
	data, ok := b.objects[object]
	if !ok {
		return ErrNotFound
	}
	return os.WriteFile(dst, data, 0644)
}

func (b *memBucket) Upload(_ context.Context, src, object string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	b.objects[object] = data
	return nil
}

var key = models.Key{
	Combination: models.Combination{Subject: "sub-02", Session: "ses-01", Acquisition: "acq-LSE", Reconstruction: "rec-standard"},
	Tissue:      models.GrayMatter,
}

func TestObjectLayout(t *testing.T) {
	s := New(newMemBucket(), "study", t.TempDir(), "T2starw")
	assert.Equal(t,
		"study/derivatives/labels/sub-02/ses-01/anat/sub-02_ses-01_acq-LSE_rec-standard_T2starw_gmseg.nii.gz",
		s.AutomaticObject(key))
	assert.Equal(t,
		"study/derivatives/labels/sub-02/ses-01/anat/sub-02_ses-01_acq-LSE_rec-standard_T2starw_gmseg-manual.nii.gz",
		s.ManualObject(key))
}

func TestPutThenAutomatic(t *testing.T) {
	dir := t.TempDir()
	bucket := newMemBucket()
	s := New(bucket, "study", filepath.Join(dir, "cache"), "T2starw")
	ctx := context.Background()

	_, ok, err := s.Automatic(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	src := filepath.Join(dir, "gm.nii.gz")
	require.NoError(t, os.WriteFile(src, []byte("gm"), 0644))

	local, err := s.Put(ctx, key, src)
	require.NoError(t, err)
	assert.Equal(t, []byte("gm"), bucket.objects[s.AutomaticObject(key)])

	// a fresh cache directory must be filled from the bucket
	other := New(bucket, "study", filepath.Join(dir, "cache2"), "T2starw")
	path, ok, err := other.Automatic(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEqual(t, local, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "gm", string(data))
}

func TestManualOverride(t *testing.T) {
	bucket := newMemBucket()
	s := New(bucket, "", t.TempDir(), "T2starw")
	bucket.objects[s.ManualObject(key)] = []byte("curated")

	path, ok, err := s.Manual(context.Background(), key)
	require.NoError(t, err)
	require.True(t, ok)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "curated", string(data))
}

func TestDownloadFailure(t *testing.T) {
	bucket := newMemBucket()
	bucket.fail = errors.New("permission denied")
	s := New(bucket, "", t.TempDir(), "T2starw")

	_, _, err := s.Automatic(context.Background(), key)
	assert.ErrorIs(t, err, bucket.fail)
}

func TestResolverWithBucketStore(t *testing.T) {
	dir := t.TempDir()
	s := New(newMemBucket(), "study", filepath.Join(dir, "cache"), "T2starw")

	calls := 0
	seg := segmentation.SegmenterFunc(func(_ context.Context, job segmentation.Job) error {
		calls++
		return os.WriteFile(job.Output, []byte("gm"), 0644)
	})
	resolver := segmentation.NewResolver(s, map[models.Tissue]segmentation.Segmenter{models.GrayMatter: seg}, nil, zerolog.Nop())

	scratch := filepath.Join(dir, "scratch")
	require.NoError(t, os.MkdirAll(scratch, 0755))
	req := segmentation.Request{
		Key:         key,
		WorkingPath: filepath.Join(dir, "work", segmentation.ArtifactName(key, "T2starw")),
		ScratchDir:  scratch,
	}

	first, err := resolver.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, segmentation.Computed, first.Provenance)

	second, err := resolver.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, segmentation.Cached, second.Provenance)
	assert.Equal(t, 1, calls)
}
