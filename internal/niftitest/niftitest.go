// Package niftitest writes small NIfTI-1 fixtures for tests: float32
// images, uint8 masks and scaled int16 volumes, little-endian, with the
// volume's affine stored as sform.
package niftitest

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"cordmetrics/internal/models"
)

// Datatype codes (NIFTI_TYPE_*)
const (
	Uint8   int16 = 2
	Int16   int16 = 4
	Float32 int16 = 16
)

// Options controls how a fixture is stored
type Options struct {
	Datatype int16

	// Slope and Inter are written as scl_slope/scl_inter; stored values
	// are (v - Inter) / Slope. A zero Slope stores values unscaled.
	Slope float32
	Inter float32

	// QForm stores an identity quaternion instead of the sform rows
	QForm bool
}

// Write saves vol as float32; a .gz suffix selects gzip compression
func Write(path string, vol *models.Volume) error {
	return WriteWith(path, vol, Options{Datatype: Float32})
}

// WriteMask saves vol as uint8
func WriteMask(path string, vol *models.Volume) error {
	return WriteWith(path, vol, Options{Datatype: Uint8})
}

// WriteWith saves vol with explicit options
func WriteWith(path string, vol *models.Volume, opts Options) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	var w io.Writer = file
	var gz *gzip.Writer
	if strings.HasSuffix(path, ".gz") {
		gz = gzip.NewWriter(file)
		w = gz
	}
	if err := encode(w, vol, opts); err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return err
		}
	}
	return file.Close()
}

// header field offsets of the 348-byte NIfTI-1 header
const (
	offDim       = 40
	offDatatype  = 70
	offBitpix    = 72
	offPixdim    = 76
	offVoxOffset = 108
	offSclSlope  = 112
	offSclInter  = 116
	offXYZTUnits = 123
	offQFormCode = 252
	offSFormCode = 254
	offSRowX     = 280
	offMagic     = 344

	voxOffset = 352
)

func encode(w io.Writer, vol *models.Volume, opts Options) error {
	var size int
	switch opts.Datatype {
	case Uint8:
		size = 1
	case Int16:
		size = 2
	case Float32:
		size = 4
	default:
		return fmt.Errorf("unsupported datatype %d", opts.Datatype)
	}

	le := binary.LittleEndian
	hdr := make([]byte, voxOffset)
	le.PutUint32(hdr[0:], 348)

	dims := []int{3, vol.Width, vol.Height, vol.Depth, 1, 1, 1, 1}
	for i, d := range dims {
		le.PutUint16(hdr[offDim+2*i:], uint16(d))
	}
	le.PutUint16(hdr[offDatatype:], uint16(opts.Datatype))
	le.PutUint16(hdr[offBitpix:], uint16(size*8))

	pixdims := []float64{1, vol.VoxelSize.X, vol.VoxelSize.Y, vol.VoxelSize.Z}
	for i, p := range pixdims {
		le.PutUint32(hdr[offPixdim+4*i:], math.Float32bits(float32(p)))
	}
	le.PutUint32(hdr[offVoxOffset:], math.Float32bits(voxOffset))
	le.PutUint32(hdr[offSclSlope:], math.Float32bits(opts.Slope))
	le.PutUint32(hdr[offSclInter:], math.Float32bits(opts.Inter))
	hdr[offXYZTUnits] = 2 // mm

	if opts.QForm {
		le.PutUint16(hdr[offQFormCode:], 1)
	} else {
		le.PutUint16(hdr[offSFormCode:], 1)
		for row := 0; row < 3; row++ {
			for j := 0; j < 4; j++ {
				le.PutUint32(hdr[offSRowX+16*row+4*j:], math.Float32bits(float32(vol.Affine[row][j])))
			}
		}
	}
	copy(hdr[offMagic:], "n+1\x00")

	bw := bufio.NewWriter(w)
	if _, err := bw.Write(hdr); err != nil {
		return err
	}

	buf := make([]byte, size)
	for _, v := range vol.Data {
		if opts.Slope != 0 {
			v = (v - float64(opts.Inter)) / float64(opts.Slope)
		}
		switch opts.Datatype {
		case Uint8:
			buf[0] = uint8(math.Round(v))
		case Int16:
			le.PutUint16(buf, uint16(int16(math.Round(v))))
		case Float32:
			le.PutUint32(buf, math.Float32bits(float32(v)))
		}
		if _, err := bw.Write(buf); err != nil {
			return err
		}
	}
	return bw.Flush()
}
