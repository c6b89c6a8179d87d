// Package pipeline drives one subject/session through the acquisition ×
// reconstruction grid: it resolves the segmentations of every combination,
// computes the slicewise metrics, writes the result tables and QC images and
// finally checks that every expected artifact exists.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"cordmetrics/internal/models"
	"cordmetrics/pkg/config"
	"cordmetrics/pkg/metrics"
	"cordmetrics/pkg/nifti"
	"cordmetrics/pkg/results"
	"cordmetrics/pkg/segmentation"
	"cordmetrics/pkg/visualization"
)

var (
	// ErrInputMissing marks a combination whose input image does not exist
	ErrInputMissing = errors.New("input image not found")

	// ErrGhostingMask aborts the whole run when the ghosting mask step fails
	ErrGhostingMask = errors.New("ghosting mask creation failed")
)

// segmentation order; white matter depends on the other two
var tissues = []models.Tissue{models.SpinalCord, models.GrayMatter, models.WhiteMatter}

// metric tables written per combination
var tableMetrics = []string{"cnr", "wm_snr", "gm_snr"}

// VertebralLabeler labels vertebral levels from the cord segmentation
type VertebralLabeler interface {
	LabelVertebrae(ctx context.Context, image, cordSeg, outDir string) error
}

// GhostingMasker produces the ghosting mask of one acquisition
type GhostingMasker interface {
	Create(ctx context.Context, processedRoot string, c models.Combination) error
}

// Params holds the inputs of one run
type Params struct {
	// Subject and Session select the data to process, e.g. sub-01 and ses-01
	Subject string
	Session string

	// Config carries directories, grid and processing options
	Config *config.Config
}

// Collaborators are the pluggable parts of the pipeline. Store and
// Segmenters are required; everything else may be nil.
type Collaborators struct {
	Store      segmentation.Store
	Segmenters map[models.Tissue]segmentation.Segmenter
	QC         segmentation.QCGenerator
	Labeler    VertebralLabeler
	Ghosting   GhostingMasker
}

// Processor runs the pipeline for one subject/session
type Processor struct {
	params    *Params
	cfg       *config.Config
	layout    Layout
	resolver  *segmentation.Resolver
	collab    Collaborators
	summaries *results.SummaryWriter
	errorLog  *results.ErrorLog
	telemetry *Telemetry
	log       zerolog.Logger
}

// NewProcessor creates a processor
func NewProcessor(params *Params, collab Collaborators, log zerolog.Logger) (*Processor, error) {
	if params.Config == nil {
		return nil, fmt.Errorf("missing configuration")
	}
	if collab.Store == nil || len(collab.Segmenters) == 0 {
		return nil, fmt.Errorf("a segmentation store and segmenters are required")
	}

	cfg := params.Config
	layout := Layout{
		Data:      cfg.Paths.Data,
		Processed: cfg.Paths.Processed,
		Results:   cfg.Paths.Results,
		Log:       cfg.Paths.Log,
		QC:        cfg.Paths.QC,
		Contrast:  cfg.Contrast,
	}

	return &Processor{
		params:    params,
		cfg:       cfg,
		layout:    layout,
		resolver:  segmentation.NewResolver(collab.Store, collab.Segmenters, collab.QC, log.With().Str("component", "segmentation").Logger()),
		collab:    collab,
		summaries: results.NewSummaryWriter(),
		errorLog:  results.NewErrorLog(layout.ErrorLog()),
		telemetry: NewTelemetry(),
		log:       log,
	}, nil
}

// Layout returns the file layout of the run
func (p *Processor) Layout() Layout {
	return p.layout
}

// Telemetry returns the run counters
func (p *Processor) Telemetry() *Telemetry {
	return p.telemetry
}

// Combinations enumerates the acquisition × reconstruction grid in
// configuration order
func (p *Processor) Combinations() []models.Combination {
	var out []models.Combination
	for _, acq := range p.cfg.Grid.Acquisitions {
		for _, rec := range p.cfg.Grid.Reconstructions {
			out = append(out, models.Combination{
				Subject:        p.params.Subject,
				Session:        p.params.Session,
				Acquisition:    acq,
				Reconstruction: rec,
			})
		}
	}
	return out
}

// Process runs the complete pipeline. Combinations with a missing input are
// skipped and combinations without usable segmentations are aborted; both
// are recorded in the error log and the run continues. Any other error,
// including a failing external tool, stops the run.
func (p *Processor) Process(ctx context.Context) error {
	start := time.Now()
	combos := p.Combinations()
	p.log.Info().
		Str("subject", p.params.Subject).
		Str("session", p.params.Session).
		Int("combinations", len(combos)).
		Msg("Starting")

	// Step 1: per-combination segmentation, metrics and QC
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, p.cfg.Processing.NumWorkers))
	for _, c := range combos {
		g.Go(func() error {
			return p.runCombination(gctx, c)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Step 2: ghosting quantification per acquisition
	if p.cfg.Ghosting.Enabled {
		if err := p.quantifyGhosting(ctx); err != nil {
			return err
		}
	}

	p.log.Info().Dur("elapsed", time.Since(start)).Msg("Finished")
	return nil
}

// runCombination applies the error policy around processCombination and
// runs the completeness check
func (p *Processor) runCombination(ctx context.Context, c models.Combination) error {
	start := time.Now()
	log := p.log.With().Str("combination", c.String()).Logger()

	err := p.processCombination(ctx, c, log)
	switch {
	case err == nil:
		p.telemetry.observe(StatusDone, start)

	case errors.Is(err, ErrInputMissing):
		log.Warn().Str("path", p.layout.InputImage(c)).Msg("file not found, skipping")
		p.telemetry.observe(StatusSkipped, start)
		return p.errorLog.Appendf("%s: missing input %s", c, p.layout.InputImage(c))

	case errors.Is(err, segmentation.ErrArtifactMissing),
		errors.Is(err, metrics.ErrNotCoRegistered),
		errors.Is(err, metrics.ErrEmptyVolume):
		log.Error().Err(err).Msg("combination aborted")
		p.telemetry.observe(StatusAborted, start)
		if err := p.discardOutputs(c); err != nil {
			return err
		}
		if err := p.errorLog.Appendf("%s: %v", c, err); err != nil {
			return err
		}

	default:
		p.telemetry.observe(StatusFailed, start)
		return fmt.Errorf("%s: %w", c, err)
	}

	return p.checkCompleteness(c, log)
}

func (p *Processor) processCombination(ctx context.Context, c models.Combination, log zerolog.Logger) error {
	input := p.layout.InputImage(c)
	if _, err := os.Stat(input); err != nil {
		return ErrInputMissing
	}

	scratch, release, err := p.acquireScratch(c)
	if err != nil {
		return err
	}
	defer release()

	image := p.layout.WorkingImage(c)
	if err := copyFile(input, image); err != nil {
		return fmt.Errorf("failed to copy input: %w", err)
	}

	// Step 1: resolve segmentations (cord, gray matter, then white matter)
	resolved := make(map[models.Tissue]string, len(tissues))
	for _, tissue := range tissues {
		key := models.Key{Combination: c, Tissue: tissue}
		res, err := p.resolver.Resolve(ctx, segmentation.Request{
			Key:         key,
			Image:       image,
			Deps:        resolved,
			WorkingPath: p.layout.WorkingSegmentation(key),
			ScratchDir:  scratch,
			Recompute:   p.cfg.Segmentation.Recompute,
		})
		if err != nil {
			return err
		}
		p.telemetry.resolved(res)
		resolved[tissue] = res.Path

		if tissue == models.SpinalCord && p.cfg.Segmentation.LabelVertebrae && p.collab.Labeler != nil {
			if err := p.collab.Labeler.LabelVertebrae(ctx, image, res.Path, p.layout.WorkingDir(c)); err != nil {
				return fmt.Errorf("vertebral labeling failed: %w", err)
			}
		}
	}

	// Step 2: load volumes
	img, err := nifti.Read(image)
	if err != nil {
		return err
	}
	wm, err := nifti.Read(resolved[models.WhiteMatter])
	if err != nil {
		return err
	}
	gm, err := nifti.Read(resolved[models.GrayMatter])
	if err != nil {
		return err
	}

	// Step 3: slicewise metrics
	stem := c.Stem(p.cfg.Contrast)
	tables, err := metrics.ComputeSliceMetrics(ctx, img, wm, gm, metrics.Options{
		Stem:      stem,
		Precision: p.cfg.Processing.Precision,
		Workers:   p.cfg.Processing.SliceWorkers,
	})
	if err != nil {
		return err
	}
	p.telemetry.Slices.Add(float64(img.Depth))

	// Step 4: per-slice tables and summaries
	if err := p.writeTables(c, tables); err != nil {
		return err
	}
	if err := p.updateSummaries(c, tables); err != nil {
		return err
	}

	// Step 5: QC images
	if p.cfg.QC.Enabled {
		if err := p.writeQC(c, img, wm, gm); err != nil {
			return err
		}
	}

	log.Info().Int("slices", img.Depth).Msg("combination done")
	return nil
}

// acquireScratch creates a per-combination scratch directory and returns a
// release function removing it
func (p *Processor) acquireScratch(c models.Combination) (string, func(), error) {
	root := p.layout.ScratchRoot()
	if err := os.MkdirAll(root, 0755); err != nil {
		return "", nil, fmt.Errorf("failed to create scratch root: %w", err)
	}
	dir, err := os.MkdirTemp(root, c.Stem(p.cfg.Contrast)+"-*")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	return dir, func() {
		if err := os.RemoveAll(dir); err != nil {
			p.log.Warn().Err(err).Str("path", dir).Msg("failed to remove scratch directory")
		}
	}, nil
}

func (p *Processor) writeTables(c models.Combination, tables *metrics.Tables) error {
	for _, table := range []metrics.Table{tables.CNR, tables.WMSNR, tables.GMSNR} {
		path := p.layout.SliceTable(c, table.Metric)
		if err := results.WriteSliceTable(path, table, p.cfg.Processing.Precision); err != nil {
			return err
		}
		if n := table.Absent(); n > 0 {
			p.telemetry.AbsentRatios.WithLabelValues(table.Metric).Add(float64(n))
		}
	}
	return nil
}

func (p *Processor) updateSummaries(c models.Combination, tables *metrics.Tables) error {
	summary := p.layout.summaryTables(p.cfg.Grid.Reconstructions)
	row := c.Row()

	for _, table := range []metrics.Table{tables.CNR, tables.WMSNR, tables.GMSNR} {
		s := metrics.Summarize(table.Values())
		values := map[string]models.Ratio{"mean": s.Mean, "median": s.Median}
		if err := p.summaries.Upsert(summary[table.Metric], row, c.Reconstruction, values); err != nil {
			return err
		}
	}

	noise := metrics.Summarize(metrics.Stds(tables.WM))
	return p.summaries.Upsert(summary["wm_std"], row, c.Reconstruction,
		map[string]models.Ratio{"max": noise.Max, "mean": noise.Mean})
}

func (p *Processor) writeQC(c models.Combination, img, wm, gm *models.Volume) error {
	viewer, err := visualization.NewViewer(img, wm, gm, p.cfg.QC.Scale)
	if err != nil {
		return err
	}
	if _, err := viewer.SaveSliceSequence(p.layout.QCDir(c)); err != nil {
		return fmt.Errorf("failed to write QC images: %w", err)
	}
	return nil
}

// discardOutputs removes what an earlier run wrote for c, so an aborted
// combination leaves no per-slice rows and only nan summary cells
func (p *Processor) discardOutputs(c models.Combination) error {
	for _, metric := range tableMetrics {
		path := p.layout.SliceTable(c, metric)
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove stale %s: %w", filepath.Base(path), err)
		}
	}
	summary := p.layout.summaryTables(p.cfg.Grid.Reconstructions)
	for _, name := range []string{"cnr", "wm_snr", "gm_snr", "wm_std"} {
		if err := p.summaries.Clear(summary[name], c.Row(), c.Reconstruction); err != nil {
			return err
		}
	}
	return nil
}

// checkCompleteness records every expected artifact of c that is missing
func (p *Processor) checkCompleteness(c models.Combination, log zerolog.Logger) error {
	expected := make([]string, 0, len(tissues)+len(tableMetrics))
	for _, tissue := range tissues {
		expected = append(expected, p.layout.WorkingSegmentation(models.Key{Combination: c, Tissue: tissue}))
	}
	for _, metric := range tableMetrics {
		expected = append(expected, p.layout.SliceTable(c, metric))
	}

	for _, path := range results.MissingFiles(expected...) {
		log.Warn().Str("path", path).Msg("expected output missing")
		if err := p.errorLog.Appendf("%s: missing %s", c, filepath.Base(path)); err != nil {
			return err
		}
	}
	return nil
}

// WriteTelemetry writes the prometheus textfile to path, or to the default
// location under the log directory when path is empty
func (p *Processor) WriteTelemetry(path string) error {
	if path == "" {
		path = p.layout.MetricsFile(p.params.Subject, p.params.Session)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return p.telemetry.WriteTextfile(path)
}

func copyFile(src, dst string) error {
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
		return err
	}
	return out.Close()
}
