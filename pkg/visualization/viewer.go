// Package visualization renders quality-control images of axial slices with
// the white and gray matter segmentations overlaid.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"

	"cordmetrics/internal/models"
)

// Overlay colors
var (
	WhiteMatterColor = color.RGBA{R: 0, G: 96, B: 255, A: 255}
	GrayMatterColor  = color.RGBA{R: 255, G: 32, B: 32, A: 255}
)

// overlayAlpha is the opacity of mask overlays
const overlayAlpha = 0.45

// Viewer renders QC slices of one image and its tissue masks
type Viewer struct {
	image *models.Volume
	wm    *models.Volume
	gm    *models.Volume

	// scale is the integer upscaling factor of saved images
	scale int

	// intensity window shared by all slices
	low, high float64
}

// NewViewer creates a viewer. Either mask may be nil. The intensity window
// spans the image's minimum to maximum.
func NewViewer(img, wm, gm *models.Volume, scale int) (*Viewer, error) {
	if img == nil || img.Depth == 0 {
		return nil, fmt.Errorf("image has no slices")
	}
	for _, mask := range []*models.Volume{wm, gm} {
		if mask != nil && (mask.Width != img.Width || mask.Height != img.Height || mask.Depth != img.Depth) {
			return nil, fmt.Errorf("mask %dx%dx%d does not match image %dx%dx%d",
				mask.Width, mask.Height, mask.Depth, img.Width, img.Height, img.Depth)
		}
	}
	if scale < 1 {
		scale = 1
	}

	low, high := math.Inf(1), math.Inf(-1)
	for _, v := range img.Data {
		low = math.Min(low, v)
		high = math.Max(high, v)
	}

	return &Viewer{image: img, wm: wm, gm: gm, scale: scale, low: low, high: high}, nil
}

// ExtractSlice renders axial slice z at native resolution. Rows are flipped
// so that anterior is up.
func (v *Viewer) ExtractSlice(z int) (*image.RGBA, error) {
	if z < 0 || z >= v.image.Depth {
		return nil, fmt.Errorf("slice %d outside 0..%d", z, v.image.Depth-1)
	}

	w, h := v.image.Width, v.image.Height
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	span := v.high - v.low

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			idx := v.image.Index(x, y, z)

			level := 0.0
			if span > 0 {
				level = (v.image.Data[idx] - v.low) / span
			}
			g := uint8(math.Max(0, math.Min(255, level*255)))
			c := color.RGBA{R: g, G: g, B: g, A: 255}

			if v.wm != nil && v.wm.InMask(idx) {
				c = blend(c, WhiteMatterColor)
			}
			if v.gm != nil && v.gm.InMask(idx) {
				c = blend(c, GrayMatterColor)
			}
			img.SetRGBA(x, h-1-y, c)
		}
	}

	return img, nil
}

func blend(base, over color.RGBA) color.RGBA {
	mix := func(a, b uint8) uint8 {
		return uint8(math.Round(float64(a)*(1-overlayAlpha) + float64(b)*overlayAlpha))
	}
	return color.RGBA{R: mix(base.R, over.R), G: mix(base.G, over.G), B: mix(base.B, over.B), A: 255}
}

// Upscale enlarges img by the viewer's scale with nearest-neighbour sampling
// so mask borders stay sharp
func (v *Viewer) Upscale(img image.Image) image.Image {
	if v.scale == 1 {
		return img
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx()*v.scale, b.Dy()*v.scale))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// SaveSlice writes img as PNG
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := png.Encode(file, img); err != nil {
		return err
	}
	return file.Close()
}

// SaveSliceSequence writes every axial slice to outputDir/slice_<NNN>.png and
// returns the written paths
func (v *Viewer) SaveSliceSequence(outputDir string) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}

	paths := make([]string, 0, v.image.Depth)
	for z := 0; z < v.image.Depth; z++ {
		img, err := v.ExtractSlice(z)
		if err != nil {
			return nil, err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s.png", models.SliceLabel(z)))
		if err := v.SaveSlice(v.Upscale(img), filename); err != nil {
			return nil, err
		}
		paths = append(paths, filename)
	}

	return paths, nil
}
