package metrics

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cordmetrics/internal/models"
)

// tissuePhantom builds an image whose left half is white matter (value wm) and
// right half gray matter (value gm), plus the two matching masks.
func tissuePhantom(width, height, depth int, wm, gm float64) (image, wmMask, gmMask *models.Volume) {
	image = models.NewVolume(width, height, depth)
	wmMask = models.NewVolume(width, height, depth)
	gmMask = models.NewVolume(width, height, depth)
	for z := 0; z < depth; z++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				if x < width/2 {
					image.Set(x, y, z, wm)
					wmMask.Set(x, y, z, 1)
				} else {
					image.Set(x, y, z, gm)
					gmMask.Set(x, y, z, 1)
				}
			}
		}
	}
	return image, wmMask, gmMask
}

func TestConstantTissueYieldsAbsentRatios(t *testing.T) {
	image, wm, gm := tissuePhantom(4, 4, 5, 100, 50)

	// Slice 2 gets two white matter voxels at 90 and 110: mean stays 100,
	// population variance becomes (100+100)/8 = 25.
	image.Set(0, 0, 2, 90)
	image.Set(1, 0, 2, 110)

	tables, err := ComputeSliceMetrics(context.Background(), image, wm, gm, Options{Stem: "phantom"})
	require.NoError(t, err)

	for z := 0; z < 5; z++ {
		wmSNR := tables.WMSNR.Records[z].Value
		gmSNR := tables.GMSNR.Records[z].Value
		cnr := tables.CNR.Records[z].Value

		assert.False(t, gmSNR.Valid, "gm_snr slice %d must be absent", z)
		if z == 2 {
			require.True(t, wmSNR.Valid)
			assert.InDelta(t, 20.0, wmSNR.Value, 1e-9)
			require.True(t, cnr.Valid)
			assert.InDelta(t, 10.0, cnr.Value, 1e-9)
			continue
		}
		assert.False(t, wmSNR.Valid, "wm_snr slice %d must be absent", z)
		assert.False(t, cnr.Valid, "cnr slice %d must be absent", z)
		assert.Equal(t, "nan", wmSNR.Format(5))
	}

	assert.Equal(t, 4, tables.WMSNR.Absent())
	assert.Equal(t, 5, tables.GMSNR.Absent())
}

func TestTenSliceTablesAreOrdered(t *testing.T) {
	image, wm, gm := tissuePhantom(6, 6, 10, 0, 0)
	rng := rand.New(rand.NewSource(7))
	for i := range image.Data {
		image.Data[i] = 50 + 100*rng.Float64()
	}

	stem := "sub-01_ses-01_acq-upperT_rec-navigated_T2starw"
	tables, err := ComputeSliceMetrics(context.Background(), image, wm, gm, Options{Stem: stem, Workers: 4})
	require.NoError(t, err)

	for _, table := range []Table{tables.CNR, tables.WMSNR, tables.GMSNR} {
		require.Len(t, table.Records, 10, table.Metric)
		for i, rec := range table.Records {
			assert.Equal(t, i, rec.SliceIndex)
			assert.Equal(t, models.SampleID(stem, i), rec.SampleID)
		}
	}
	assert.Equal(t, stem+"_slice-009", tables.CNR.Records[9].SampleID)
}

func TestRatiosMatchDefinition(t *testing.T) {
	image, wm, gm := tissuePhantom(8, 8, 6, 0, 0)
	rng := rand.New(rand.NewSource(42))
	for i := range image.Data {
		image.Data[i] = 200 * rng.Float64()
	}

	tables, err := ComputeSliceMetrics(context.Background(), image, wm, gm, Options{})
	require.NoError(t, err)

	for z := 0; z < image.Depth; z++ {
		var wmVals, gmVals []float64
		for y := 0; y < image.Height; y++ {
			for x := 0; x < image.Width; x++ {
				if wm.At(x, y, z) != 0 {
					wmVals = append(wmVals, image.At(x, y, z))
				}
				if gm.At(x, y, z) != 0 {
					gmVals = append(gmVals, image.At(x, y, z))
				}
			}
		}
		wmMean, wmStd := popMeanStd(wmVals)
		gmMean, gmStd := popMeanStd(gmVals)

		assert.InDelta(t, wmMean/wmStd, tables.WMSNR.Records[z].Value.Value, 1e-5)
		assert.InDelta(t, gmMean/gmStd, tables.GMSNR.Records[z].Value.Value, 1e-5)
		assert.InDelta(t, (wmMean-gmMean)/wmStd, tables.CNR.Records[z].Value.Value, 1e-5)
	}
}

func popMeanStd(values []float64) (float64, float64) {
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var ss float64
	for _, v := range values {
		ss += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(ss / float64(len(values)))
}

func TestRatiosAreRoundedToPrecision(t *testing.T) {
	image := models.NewVolume(3, 1, 1)
	mask := models.NewVolume(3, 1, 1)
	image.Data = []float64{1, 1, 2}
	mask.Data = []float64{1, 1, 1}

	tables, err := ComputeSliceMetrics(context.Background(), image, mask, mask, Options{Precision: 5})
	require.NoError(t, err)

	// mean 4/3, std sqrt(2)/3 -> snr = 2*sqrt(2) = 2.8284271...
	assert.Equal(t, 2.82843, tables.WMSNR.Records[0].Value.Value)
	assert.Equal(t, "2.82843", tables.WMSNR.Records[0].Value.Format(5))
	// identical masks give zero contrast, which is present, not absent
	assert.True(t, tables.CNR.Records[0].Value.Valid)
	assert.Equal(t, 0.0, tables.CNR.Records[0].Value.Value)
}

func TestEmptyEdgeSlicesAreSoftFailures(t *testing.T) {
	image, wm, gm := tissuePhantom(4, 4, 4, 0, 0)
	rng := rand.New(rand.NewSource(3))
	for i := range image.Data {
		image.Data[i] = 10 + rng.Float64()
	}
	// Clear both masks on the first slice and the gray matter mask on the last
	for i := range wm.Slice(0) {
		wm.Slice(0)[i] = 0
		gm.Slice(0)[i] = 0
		gm.Slice(3)[i] = 0
	}

	tables, err := ComputeSliceMetrics(context.Background(), image, wm, gm, Options{})
	require.NoError(t, err)

	assert.False(t, tables.WMSNR.Records[0].Value.Valid)
	assert.False(t, tables.WMSNR.Records[0].Mean.Valid)
	assert.False(t, tables.CNR.Records[0].Value.Valid)

	assert.True(t, tables.WMSNR.Records[3].Value.Valid)
	assert.False(t, tables.GMSNR.Records[3].Value.Valid)
	assert.False(t, tables.CNR.Records[3].Value.Valid)

	for z := 1; z <= 2; z++ {
		assert.True(t, tables.CNR.Records[z].Value.Valid)
	}
	assert.Equal(t, 0, tables.WM[0].Count)
	assert.Equal(t, 8, tables.WM[1].Count)
}

func TestParallelMatchesSequential(t *testing.T) {
	image, wm, gm := tissuePhantom(10, 10, 32, 0, 0)
	rng := rand.New(rand.NewSource(11))
	for i := range image.Data {
		image.Data[i] = 1000 * rng.Float64()
	}

	sequential, err := ComputeSliceMetrics(context.Background(), image, wm, gm, Options{Stem: "s", Workers: 1})
	require.NoError(t, err)
	parallel, err := ComputeSliceMetrics(context.Background(), image, wm, gm, Options{Stem: "s", Workers: 16})
	require.NoError(t, err)

	assert.Equal(t, sequential, parallel)
}

func TestPreconditionViolations(t *testing.T) {
	image, wm, gm := tissuePhantom(4, 4, 3, 1, 2)

	t.Run("dimension mismatch", func(t *testing.T) {
		_, err := ComputeSliceMetrics(context.Background(), image, wm, models.NewVolume(4, 4, 2), Options{})
		assert.ErrorIs(t, err, ErrNotCoRegistered)
	})

	t.Run("voxel size mismatch", func(t *testing.T) {
		other := models.NewVolume(4, 4, 3)
		other.VoxelSize.Z = 5
		_, err := ComputeSliceMetrics(context.Background(), image, other, gm, Options{})
		assert.ErrorIs(t, err, ErrNotCoRegistered)
	})

	t.Run("missing mask", func(t *testing.T) {
		_, err := ComputeSliceMetrics(context.Background(), image, wm, nil, Options{})
		assert.ErrorIs(t, err, ErrEmptyVolume)
	})

	t.Run("no slices", func(t *testing.T) {
		empty := models.NewVolume(4, 4, 0)
		_, err := ComputeSliceMetrics(context.Background(), empty, empty, empty, Options{})
		assert.ErrorIs(t, err, ErrEmptyVolume)
	})
}

func TestCancelledContext(t *testing.T) {
	image, wm, gm := tissuePhantom(4, 4, 8, 1, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ComputeSliceMetrics(ctx, image, wm, gm, Options{Workers: 2})
	assert.ErrorIs(t, err, context.Canceled)
}
