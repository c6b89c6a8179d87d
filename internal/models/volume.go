package models

import (
	"fmt"
	"math"
)

// Volume represents a 3D NIfTI image loaded for metric computation
type Volume struct {
	// Data is the 3D volume data as a 1D array in row-major order (z*W*H + y*W + x)
	Data []float64

	// Width is the extent along the first (x) axis in voxels
	Width int

	// Height is the extent along the second (y) axis in voxels
	Height int

	// Depth is the extent along the slice (z, axial) axis in voxels
	Depth int

	// VoxelSize is the physical size of each voxel in mm
	VoxelSize struct {
		X, Y, Z float64
	}

	// Affine maps voxel indices to scanner space (sform rows, or identity)
	Affine [3][4]float64
}

// NewVolume allocates a zero-filled volume with unit voxel size and an identity affine
func NewVolume(width, height, depth int) *Volume {
	v := &Volume{
		Data:   make([]float64, width*height*depth),
		Width:  width,
		Height: height,
		Depth:  depth,
	}
	v.VoxelSize.X, v.VoxelSize.Y, v.VoxelSize.Z = 1, 1, 1
	v.Affine = [3][4]float64{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}}
	return v
}

// Index returns the flat offset of voxel (x, y, z)
func (v *Volume) Index(x, y, z int) int {
	return z*v.Width*v.Height + y*v.Width + x
}

// At returns the voxel value at (x, y, z)
func (v *Volume) At(x, y, z int) float64 {
	return v.Data[v.Index(x, y, z)]
}

// Set stores a voxel value at (x, y, z)
func (v *Volume) Set(x, y, z int, value float64) {
	v.Data[v.Index(x, y, z)] = value
}

// SliceSize is the number of voxels in one axial plane
func (v *Volume) SliceSize() int {
	return v.Width * v.Height
}

// Slice returns the axial plane at z without copying.
func (v *Volume) Slice(z int) []float64 {
	n := v.SliceSize()
	return v.Data[z*n : (z+1)*n]
}

// SameGrid reports whether o is co-registered with v: identical dimensions and
// voxel sizes equal within tolerance (mm).
func (v *Volume) SameGrid(o *Volume, tolerance float64) error {
	if v.Width != o.Width || v.Height != o.Height || v.Depth != o.Depth {
		return fmt.Errorf("dimensions %dx%dx%d differ from %dx%dx%d",
			o.Width, o.Height, o.Depth, v.Width, v.Height, v.Depth)
	}
	if math.Abs(v.VoxelSize.X-o.VoxelSize.X) > tolerance ||
		math.Abs(v.VoxelSize.Y-o.VoxelSize.Y) > tolerance ||
		math.Abs(v.VoxelSize.Z-o.VoxelSize.Z) > tolerance {
		return fmt.Errorf("voxel size %.4fx%.4fx%.4f differs from %.4fx%.4fx%.4f",
			o.VoxelSize.X, o.VoxelSize.Y, o.VoxelSize.Z,
			v.VoxelSize.X, v.VoxelSize.Y, v.VoxelSize.Z)
	}
	return nil
}

// InMask reports whether the mask voxel at flat offset i is set.
// Any non-zero value counts as inside, matching binary and soft segmentations
// thresholded upstream.
func (v *Volume) InMask(i int) bool {
	return v.Data[i] != 0
}
