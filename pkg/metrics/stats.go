package metrics

import (
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"cordmetrics/internal/models"
)

var (
	// ErrNotCoRegistered is returned when a mask does not share the image grid
	ErrNotCoRegistered = errors.New("mask is not co-registered with image")

	// ErrEmptyVolume is returned for a missing volume or one without slices
	ErrEmptyVolume = errors.New("volume has no slices")
)

// GridTolerance is the voxel-size tolerance (mm) used for co-registration checks
const GridTolerance = 1e-3

// SliceStat holds the masked statistics of one axial slice
type SliceStat struct {
	// Index is the 0-based slice index
	Index int

	// Count is the number of voxels inside the mask
	Count int

	// Mean and Std are absent when Count is zero
	Mean models.Ratio
	Std  models.Ratio
}

// maskedStats computes mean and population standard deviation of the plane
// values where the mask plane is non-zero. buf is reused between calls.
func maskedStats(plane, maskPlane []float64, buf []float64) (models.Ratio, models.Ratio, int, []float64) {
	buf = buf[:0]
	for i, m := range maskPlane {
		if m != 0 {
			buf = append(buf, plane[i])
		}
	}
	if len(buf) == 0 {
		return models.Absent, models.Absent, 0, buf
	}
	mean, std := stat.PopMeanStdDev(buf, nil)
	return models.Present(mean), models.Present(std), len(buf), buf
}

// checkGrid verifies that every mask shares the image grid
func checkGrid(image *models.Volume, masks ...*models.Volume) error {
	if image == nil || image.Depth == 0 || len(image.Data) == 0 {
		return ErrEmptyVolume
	}
	for _, mask := range masks {
		if mask == nil || mask.Depth == 0 {
			return ErrEmptyVolume
		}
		if err := image.SameGrid(mask, GridTolerance); err != nil {
			return fmt.Errorf("%w: %v", ErrNotCoRegistered, err)
		}
	}
	return nil
}

// MaskedSliceStats returns per-slice mean and std of image inside mask,
// in ascending slice order. Slices with an empty mask carry absent values.
func MaskedSliceStats(image, mask *models.Volume) ([]SliceStat, error) {
	if err := checkGrid(image, mask); err != nil {
		return nil, err
	}

	stats := make([]SliceStat, image.Depth)
	var buf []float64
	for z := 0; z < image.Depth; z++ {
		var mean, std models.Ratio
		var count int
		mean, std, count, buf = maskedStats(image.Slice(z), mask.Slice(z), buf)
		stats[z] = SliceStat{Index: z, Count: count, Mean: mean, Std: std}
	}
	return stats, nil
}

// Summary aggregates per-slice values, ignoring absent ones
type Summary struct {
	Mean   models.Ratio
	Median models.Ratio
	Max    models.Ratio

	// N is the number of present values aggregated
	N int
}

// Summarize computes the nan-aware mean, median and max of values
func Summarize(values []models.Ratio) Summary {
	present := make([]float64, 0, len(values))
	for _, v := range values {
		if v.Valid {
			present = append(present, v.Value)
		}
	}
	if len(present) == 0 {
		return Summary{Mean: models.Absent, Median: models.Absent, Max: models.Absent}
	}

	return Summary{
		Mean:   models.Present(stat.Mean(present, nil)),
		Median: models.Present(median(present)),
		Max:    models.Present(floats.Max(present)),
		N:      len(present),
	}
}

// median calculates the median value of a slice of float64 values,
// averaging the two middle values for even lengths
func median(values []float64) float64 {
	// Create a copy to avoid modifying the original
	valuesCopy := make([]float64, len(values))
	copy(valuesCopy, values)
	sort.Float64s(valuesCopy)

	n := len(valuesCopy)
	if n == 0 {
		return 0
	}
	if n%2 == 0 {
		return (valuesCopy[n/2-1] + valuesCopy[n/2]) / 2
	}
	return valuesCopy[n/2]
}

// Means extracts the Mean column of a stats series
func Means(stats []SliceStat) []models.Ratio {
	out := make([]models.Ratio, len(stats))
	for i, s := range stats {
		out[i] = s.Mean
	}
	return out
}

// Stds extracts the Std column of a stats series
func Stds(stats []SliceStat) []models.Ratio {
	out := make([]models.Ratio, len(stats))
	for i, s := range stats {
		out[i] = s.Std
	}
	return out
}
