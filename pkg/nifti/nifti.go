// Package nifti loads single-file NIfTI-1 volumes (.nii and .nii.gz) as
// models.Volume values.
//
// Parsing is done by github.com/henghuang/nifti. That library reports
// malformed input by panicking, so every call into it goes through a
// wrapper that turns the panic into an error.
package nifti

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	nii "github.com/henghuang/nifti"

	"cordmetrics/internal/models"
)

const headerSize = 348

// safelyParseHeader consumes panics emitted by the nifti library
func safelyParseHeader(path string) (hdr nii.Nifti1Header, err error) {
	defer func() {
		if panicErr := recover(); panicErr != nil {
			err = fmt.Errorf("%v", panicErr)
		}
	}()

	hdr.LoadHeader(path)

	return
}

// safelyParseImage consumes panics emitted by the nifti library
func safelyParseImage(path string) (img nii.Nifti1Image, err error) {
	defer func() {
		if panicErr := recover(); panicErr != nil {
			err = fmt.Errorf("%v", panicErr)
		}
	}()

	img.LoadImage(path, true)

	return
}

// Read loads a NIfTI-1 file. A missing file is reported with an error
// matching fs.ErrNotExist.
func Read(path string) (*models.Volume, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	name := filepath.Base(path)

	hdr, err := safelyParseHeader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read header of %s: %w", name, err)
	}
	width, height, depth, err := extents(&hdr)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	img, err := safelyParseImage(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read voxels of %s: %w", name, err)
	}

	vol := models.NewVolume(width, height, depth)
	vol.VoxelSize.X = pixdim(hdr.Pixdim[1])
	vol.VoxelSize.Y = pixdim(hdr.Pixdim[2])
	vol.VoxelSize.Z = pixdim(hdr.Pixdim[3])
	vol.Affine = affine(&hdr, vol)

	if err := fill(&img, vol); err != nil {
		return nil, fmt.Errorf("failed to read voxels of %s: %w", name, err)
	}

	// scl_slope of 0 means unscaled
	slope, inter := float64(hdr.Scl_slope), float64(hdr.Scl_inter)
	if slope != 0 && !(slope == 1 && inter == 0) {
		for i, v := range vol.Data {
			vol.Data[i] = v*slope + inter
		}
	}

	return vol, nil
}

// extents validates the dimensions and returns the 3D grid size. Trailing
// axes of extent 1 are accepted, anything else beyond z is rejected.
func extents(hdr *nii.Nifti1Header) (int, int, int, error) {
	if hdr.Sizeof_hdr != headerSize {
		return 0, 0, 0, fmt.Errorf("invalid header size %d", hdr.Sizeof_hdr)
	}
	ndim := int(hdr.Dim[0])
	if ndim < 2 || ndim > 7 {
		return 0, 0, 0, fmt.Errorf("invalid dimension count %d", ndim)
	}
	for i := 1; i <= ndim; i++ {
		if hdr.Dim[i] <= 0 {
			return 0, 0, 0, fmt.Errorf("invalid extent %d along axis %d", hdr.Dim[i], i)
		}
		if i > 3 && hdr.Dim[i] != 1 {
			return 0, 0, 0, fmt.Errorf("expected a 3D volume, axis %d has extent %d", i, hdr.Dim[i])
		}
	}

	depth := 1
	if ndim >= 3 {
		depth = int(hdr.Dim[3])
	}
	return int(hdr.Dim[1]), int(hdr.Dim[2]), depth, nil
}

// fill copies the first volume of img into vol
func fill(img *nii.Nifti1Image, vol *models.Volume) (err error) {
	defer func() {
		if panicErr := recover(); panicErr != nil {
			err = fmt.Errorf("%v", panicErr)
		}
	}()

	for z := 0; z < vol.Depth; z++ {
		for y := 0; y < vol.Height; y++ {
			for x := 0; x < vol.Width; x++ {
				vol.Set(x, y, z, float64(img.GetAt(uint32(x), uint32(y), uint32(z), 0)))
			}
		}
	}
	return nil
}

func pixdim(v float32) float64 {
	if v <= 0 {
		return 1
	}
	return float64(v)
}

// affine picks sform, then qform, then a diagonal pixdim transform
func affine(hdr *nii.Nifti1Header, vol *models.Volume) [3][4]float64 {
	if hdr.Sform_code > 0 {
		var m [3][4]float64
		for j := 0; j < 4; j++ {
			m[0][j] = float64(hdr.Srow_x[j])
			m[1][j] = float64(hdr.Srow_y[j])
			m[2][j] = float64(hdr.Srow_z[j])
		}
		return m
	}

	if hdr.Qform_code > 0 {
		b, c, d := float64(hdr.Quatern_b), float64(hdr.Quatern_c), float64(hdr.Quatern_d)
		a := 1 - (b*b + c*c + d*d)
		if a < 1e-7 {
			// Clamp rounding error: renormalize the vector part
			n := 1 / math.Sqrt(b*b+c*c+d*d)
			b, c, d = b*n, c*n, d*n
			a = 0
		} else {
			a = math.Sqrt(a)
		}

		qfac := 1.0
		if hdr.Pixdim[0] < 0 {
			qfac = -1
		}
		dx, dy, dz := vol.VoxelSize.X, vol.VoxelSize.Y, vol.VoxelSize.Z*qfac

		return [3][4]float64{
			{(a*a + b*b - c*c - d*d) * dx, 2 * (b*c - a*d) * dy, 2 * (b*d + a*c) * dz, float64(hdr.Qoffset_x)},
			{2 * (b*c + a*d) * dx, (a*a + c*c - b*b - d*d) * dy, 2 * (c*d - a*b) * dz, float64(hdr.Qoffset_y)},
			{2 * (b*d - a*c) * dx, 2 * (c*d + a*b) * dy, (a*a + d*d - c*c - b*b) * dz, float64(hdr.Qoffset_z)},
		}
	}

	return [3][4]float64{
		{vol.VoxelSize.X, 0, 0, 0},
		{0, vol.VoxelSize.Y, 0, 0},
		{0, 0, vol.VoxelSize.Z, 0},
	}
}
