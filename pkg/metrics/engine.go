// Package metrics implements the slicewise signal-to-noise and
// contrast-to-noise computation for co-registered white and gray matter masks.
package metrics

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"cordmetrics/internal/models"
)

// DefaultPrecision is the number of decimals ratios are rounded to
const DefaultPrecision = 5

// Options controls a metrics run
type Options struct {
	// Stem is the file stem used to build per-slice sample identifiers
	Stem string

	// Precision is the number of decimals derived ratios are rounded to.
	// Zero selects DefaultPrecision.
	Precision int

	// Workers bounds the number of slices processed concurrently.
	// Zero means one worker per CPU.
	Workers int
}

// Table is one output table: one record per slice in ascending slice order
type Table struct {
	// Metric names the derived column (cnr, wm_snr, gm_snr)
	Metric string

	Records []models.SliceMetricRecord
}

// Values returns the derived ratio column
func (t *Table) Values() []models.Ratio {
	out := make([]models.Ratio, len(t.Records))
	for i, r := range t.Records {
		out[i] = r.Value
	}
	return out
}

// Absent counts records whose derived ratio is absent
func (t *Table) Absent() int {
	n := 0
	for _, r := range t.Records {
		if !r.Value.Valid {
			n++
		}
	}
	return n
}

// Tables groups the three per-slice outputs of one combination
type Tables struct {
	CNR   Table
	WMSNR Table
	GMSNR Table

	// WM holds the raw white matter statistics, reused for noise summaries
	WM []SliceStat
}

// sliceResult is the full set of values computed for one slice
type sliceResult struct {
	wm, gm SliceStat
}

// ComputeSliceMetrics splits image and masks along the slice axis and computes,
// for each slice, the masked mean/std of both tissues and the derived ratios:
//
//	wm_snr = wm_mean / wm_std
//	gm_snr = gm_mean / gm_std
//	cnr    = (wm_mean - gm_mean) / wm_std
//
// The white matter std normalizes CNR and the sign is white minus gray. Slices are
// processed concurrently; records are merged back in ascending slice order.
// An empty mask or zero std on a slice yields an absent ratio for that slice
// only. A grid mismatch aborts the whole computation with ErrNotCoRegistered.
func ComputeSliceMetrics(ctx context.Context, image, wm, gm *models.Volume, opts Options) (*Tables, error) {
	if err := checkGrid(image, wm, gm); err != nil {
		return nil, err
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	precision := opts.Precision
	if precision <= 0 {
		precision = DefaultPrecision
	}

	depth := image.Depth
	results := make([]sliceResult, depth)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for z := 0; z < depth; z++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[z] = computeSlice(image, wm, gm, z)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	tables := &Tables{
		CNR:   Table{Metric: "cnr", Records: make([]models.SliceMetricRecord, depth)},
		WMSNR: Table{Metric: "wm_snr", Records: make([]models.SliceMetricRecord, depth)},
		GMSNR: Table{Metric: "gm_snr", Records: make([]models.SliceMetricRecord, depth)},
		WM:    make([]SliceStat, depth),
	}

	for z, res := range results {
		sample := models.SampleID(opts.Stem, z)
		wmStat, gmStat := res.wm, res.gm

		contrast := models.Absent
		if wmStat.Mean.Valid && gmStat.Mean.Valid {
			contrast = models.Present(wmStat.Mean.Value - gmStat.Mean.Value)
		}

		tables.CNR.Records[z] = models.SliceMetricRecord{
			SliceIndex: z,
			SampleID:   sample,
			Mean:       wmStat.Mean,
			Std:        wmStat.Std,
			OtherMean:  gmStat.Mean,
			OtherStd:   gmStat.Std,
			Value:      models.Divide(contrast, wmStat.Std).Round(precision),
		}
		tables.WMSNR.Records[z] = models.SliceMetricRecord{
			SliceIndex: z,
			SampleID:   sample,
			Mean:       wmStat.Mean,
			Std:        wmStat.Std,
			Value:      models.Divide(wmStat.Mean, wmStat.Std).Round(precision),
		}
		tables.GMSNR.Records[z] = models.SliceMetricRecord{
			SliceIndex: z,
			SampleID:   sample,
			Mean:       gmStat.Mean,
			Std:        gmStat.Std,
			Value:      models.Divide(gmStat.Mean, gmStat.Std).Round(precision),
		}
		tables.WM[z] = wmStat
	}

	return tables, nil
}

// computeSlice extracts the planes at z and computes both tissue statistics
func computeSlice(image, wm, gm *models.Volume, z int) sliceResult {
	plane := image.Slice(z)
	buf := make([]float64, 0, len(plane))

	wmMean, wmStd, wmCount, buf := maskedStats(plane, wm.Slice(z), buf)
	gmMean, gmStd, gmCount, _ := maskedStats(plane, gm.Slice(z), buf)

	return sliceResult{
		wm: SliceStat{Index: z, Count: wmCount, Mean: wmMean, Std: wmStd},
		gm: SliceStat{Index: z, Count: gmCount, Mean: gmMean, Std: gmStd},
	}
}
