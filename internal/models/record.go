package models

import (
	"fmt"
	"math"
	"strconv"
)

// Tissue identifies a segmentation class
type Tissue string

const (
	// SpinalCord is the whole-cord segmentation
	SpinalCord Tissue = "cord"

	// GrayMatter is the gray matter segmentation
	GrayMatter Tissue = "gm"

	// WhiteMatter is derived as cord minus gray matter
	WhiteMatter Tissue = "wm"
)

// Suffix returns the filename suffix used for the tissue's segmentation artifact
func (t Tissue) Suffix() string {
	switch t {
	case SpinalCord:
		return "seg"
	case GrayMatter:
		return "gmseg"
	case WhiteMatter:
		return "wmseg"
	}
	return string(t)
}

// Combination is one (subject, session, acquisition, reconstruction) unit of work
type Combination struct {
	Subject        string
	Session        string
	Acquisition    string
	Reconstruction string
}

// Stem returns the file name stem <sub>_<ses>_<acq>_<rec>_<contrast>
func (c Combination) Stem(contrast string) string {
	return fmt.Sprintf("%s_%s_%s_%s_%s", c.Subject, c.Session, c.Acquisition, c.Reconstruction, contrast)
}

// Row returns the summary-table row key <sub>/<ses>/<acq>
func (c Combination) Row() string {
	return c.Subject + "/" + c.Session + "/" + c.Acquisition
}

func (c Combination) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", c.Subject, c.Session, c.Acquisition, c.Reconstruction)
}

// Key addresses one segmentation artifact
type Key struct {
	Combination
	Tissue Tissue
}

// String renders the key in a stable form usable as a store key
func (k Key) String() string {
	return k.Combination.String() + "/" + string(k.Tissue)
}

// Ratio is a derived or measured value that may be absent.
// An absent value results from an empty mask or a zero denominator.
type Ratio struct {
	Value float64
	Valid bool
}

// Absent is the explicit missing value
var Absent = Ratio{}

// Present wraps a finite value; NaN and infinities become Absent
func Present(v float64) Ratio {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Absent
	}
	return Ratio{Value: v, Valid: true}
}

// Divide returns num/den, absent when either operand is absent or den is zero
func Divide(num, den Ratio) Ratio {
	if !num.Valid || !den.Valid || den.Value == 0 {
		return Absent
	}
	return Present(num.Value / den.Value)
}

// Round rounds a valid value to the given number of decimals
func (r Ratio) Round(decimals int) Ratio {
	if !r.Valid {
		return r
	}
	scale := math.Pow(10, float64(decimals))
	return Present(math.Round(r.Value*scale) / scale)
}

// Format renders the value with fixed decimals, or "nan" when absent
func (r Ratio) Format(decimals int) string {
	if !r.Valid {
		return "nan"
	}
	return strconv.FormatFloat(r.Value, 'f', decimals, 64)
}

// SliceMetricRecord is one output row: one slice, one tissue, one metric
type SliceMetricRecord struct {
	// SliceIndex is the 0-based axial slice index
	SliceIndex int

	// SampleID identifies the slice sample, <stem>_slice-<NNN>
	SampleID string

	// Mean and Std are the masked statistics of the tissue the metric is about
	Mean Ratio
	Std  Ratio

	// OtherMean and OtherStd carry the second tissue for contrast metrics
	OtherMean Ratio
	OtherStd  Ratio

	// Value is the derived ratio (SNR or CNR)
	Value Ratio
}

// SliceLabel zero-pads a slice index to three digits
func SliceLabel(index int) string {
	return fmt.Sprintf("%03d", index)
}

// SampleID builds the per-slice sample identifier
func SampleID(stem string, index int) string {
	return stem + "_slice-" + SliceLabel(index)
}
