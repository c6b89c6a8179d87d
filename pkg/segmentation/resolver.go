package segmentation

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"cordmetrics/internal/models"
)

// Job describes one segmentation request handed to a Segmenter or QC step
type Job struct {
	Key models.Key

	// Image is the working copy of the structural image
	Image string

	// Deps holds already resolved artifacts this tissue depends on
	// (white matter needs cord and gray matter)
	Deps map[models.Tissue]string

	// Output is where the segmenter must write its artifact
	Output string
}

// Segmenter produces the artifact for one tissue. Implementations are
// usually external tools; a nil error with no file at job.Output is
// reported as ErrArtifactMissing.
type Segmenter interface {
	Segment(ctx context.Context, job Job) error
}

// SegmenterFunc adapts a function to Segmenter
type SegmenterFunc func(ctx context.Context, job Job) error

// Segment implements Segmenter
func (f SegmenterFunc) Segment(ctx context.Context, job Job) error {
	return f(ctx, job)
}

// QCGenerator regenerates the QC report for a resolved artifact
type QCGenerator interface {
	Generate(ctx context.Context, job Job, artifact string) error
}

// Request is the input of Resolve
type Request struct {
	Key   models.Key
	Image string
	Deps  map[models.Tissue]string

	// WorkingPath is where the winning artifact is copied
	WorkingPath string

	// ScratchDir receives the output of a fresh computation
	ScratchDir string

	// Recompute ignores previously produced automatic artifacts
	Recompute bool
}

// Resolution is the outcome of Resolve
type Resolution struct {
	Key models.Key

	// Path is the working-location copy
	Path string

	// Source is the store location the artifact was taken from
	Source string

	Provenance Provenance
}

// Resolver applies the cache policy against a Store
type Resolver struct {
	store      Store
	segmenters map[models.Tissue]Segmenter
	qc         QCGenerator
	log        zerolog.Logger
}

// NewResolver creates a resolver. qc may be nil.
func NewResolver(store Store, segmenters map[models.Tissue]Segmenter, qc QCGenerator, log zerolog.Logger) *Resolver {
	return &Resolver{store: store, segmenters: segmenters, qc: qc, log: log}
}

// Resolve returns the artifact for req.Key, computing it at most once:
// a manual override wins, then a previous automatic artifact (unless
// Recompute), then the tissue's segmenter. Whatever wins is copied to
// req.WorkingPath and its QC report regenerated.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Resolution, error) {
	key := req.Key
	log := r.log.With().Str("key", key.String()).Logger()

	res := Resolution{Key: key, Path: req.WorkingPath}

	source, ok, err := r.store.Manual(ctx, key)
	if err != nil {
		return res, fmt.Errorf("manual lookup for %s: %w", key, err)
	}
	if ok {
		res.Provenance = Manual
	}

	if !ok && !req.Recompute {
		source, ok, err = r.store.Automatic(ctx, key)
		if err != nil {
			return res, fmt.Errorf("automatic lookup for %s: %w", key, err)
		}
		if ok && !exists(source) {
			log.Warn().Str("path", source).Msg("stored artifact vanished, recomputing")
			ok = false
		}
		if ok {
			res.Provenance = Cached
		}
	}

	job := Job{Key: key, Image: req.Image, Deps: req.Deps}

	if !ok {
		seg, found := r.segmenters[key.Tissue]
		if !found {
			return res, fmt.Errorf("no segmenter for tissue %q", key.Tissue)
		}

		job.Output = filepath.Join(req.ScratchDir, filepath.Base(req.WorkingPath))
		log.Info().Msg("computing segmentation")
		if err := seg.Segment(ctx, job); err != nil {
			return res, fmt.Errorf("segmentation of %s failed: %w", key, err)
		}
		if !exists(job.Output) {
			return res, fmt.Errorf("%w: %s did not produce %s", ErrArtifactMissing, key, filepath.Base(job.Output))
		}

		source, err = r.store.Put(ctx, key, job.Output)
		if err != nil {
			return res, fmt.Errorf("failed to store %s: %w", key, err)
		}
		res.Provenance = Computed
	}

	if err := copyFile(source, req.WorkingPath); err != nil {
		return res, fmt.Errorf("failed to place %s: %w", key, err)
	}
	res.Source = source

	if r.qc != nil {
		if err := r.qc.Generate(ctx, job, req.WorkingPath); err != nil {
			return res, fmt.Errorf("QC for %s failed: %w", key, err)
		}
	}

	log.Info().Str("provenance", string(res.Provenance)).Str("source", source).Msg("segmentation resolved")
	return res, nil
}
