package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"cordmetrics/internal/models"
	"cordmetrics/pkg/metrics"
	"cordmetrics/pkg/nifti"
)

// quantifyGhosting creates the ghosting mask of every acquisition and
// summarizes the slice-wise mean inside it for each reconstruction. Unlike
// the per-combination steps, a failing mask step ends the run.
func (p *Processor) quantifyGhosting(ctx context.Context) error {
	if p.collab.Ghosting == nil {
		return fmt.Errorf("%w: no ghosting mask step configured", ErrGhostingMask)
	}
	summary := p.layout.summaryTables(p.cfg.Grid.Reconstructions)["ghosting"]

	for _, acq := range p.cfg.Grid.Acquisitions {
		ref := models.Combination{
			Subject:        p.params.Subject,
			Session:        p.params.Session,
			Acquisition:    acq,
			Reconstruction: p.cfg.Ghosting.Reference,
		}
		log := p.log.With().Str("acquisition", acq).Logger()

		if _, err := os.Stat(p.layout.WorkingImage(ref)); err != nil {
			log.Warn().Msg("no processed reference image, skipping ghosting")
			continue
		}

		if err := p.collab.Ghosting.Create(ctx, p.layout.Processed, ref); err != nil {
			return fmt.Errorf("%w for %s: %v", ErrGhostingMask, ref, err)
		}
		maskPath := p.layout.GhostingMask(ref, p.cfg.Ghosting.Reference, p.cfg.Ghosting.Suffix)
		mask, err := nifti.Read(maskPath)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrGhostingMask, err)
		}

		for _, rec := range p.cfg.Grid.Reconstructions {
			c := ref
			c.Reconstruction = rec

			img, err := nifti.Read(p.layout.WorkingImage(c))
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				return err
			}

			stats, err := metrics.MaskedSliceStats(img, mask)
			if err != nil {
				log.Error().Err(err).Str("reconstruction", rec).Msg("ghosting skipped")
				if err := p.errorLog.Appendf("%s: ghosting: %v", c, err); err != nil {
					return err
				}
				continue
			}

			s := metrics.Summarize(metrics.Means(stats))
			values := map[string]models.Ratio{"max": s.Max, "mean": s.Mean}
			if err := p.summaries.Upsert(summary, c.Row(), rec, values); err != nil {
				return err
			}
			log.Info().Str("reconstruction", rec).Str("max", s.Max.Format(6)).Msg("ghosting quantified")
		}
	}
	return nil
}
