package visualization

import (
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"cordmetrics/internal/models"
)

// testVolumes builds a gradient image with a WM square and a GM voxel in every slice
func testVolumes(width, height, depth int) (img, wm, gm *models.Volume) {
	img = models.NewVolume(width, height, depth)
	wm = models.NewVolume(width, height, depth)
	gm = models.NewVolume(width, height, depth)

	for z := 0; z < depth; z++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				img.Set(x, y, z, float64(x+y+z))
			}
		}
		wm.Set(1, 1, z, 1)
		wm.Set(2, 1, z, 1)
		gm.Set(3, 3, z, 1)
	}
	return img, wm, gm
}

// TestNewViewer verifies the intensity window and the grid check
func TestNewViewer(t *testing.T) {
	img, wm, gm := testVolumes(6, 5, 3)

	viewer, err := NewViewer(img, wm, gm, 2)
	if err != nil {
		t.Fatalf("Failed to create viewer: %v", err)
	}
	if viewer.low != 0 {
		t.Errorf("Expected low 0, got %f", viewer.low)
	}
	if viewer.high != 5+4+2 {
		t.Errorf("Expected high 11, got %f", viewer.high)
	}

	if _, err := NewViewer(img, models.NewVolume(6, 5, 2), nil, 1); err == nil {
		t.Error("Expected error for mismatched mask, got nil")
	}
	if _, err := NewViewer(models.NewVolume(4, 4, 0), nil, nil, 1); err == nil {
		t.Error("Expected error for empty image, got nil")
	}
}

// TestExtractSlice verifies overlays and row orientation
func TestExtractSlice(t *testing.T) {
	width, height := 6, 5
	img, wm, gm := testVolumes(width, height, 3)

	viewer, err := NewViewer(img, wm, gm, 1)
	if err != nil {
		t.Fatalf("Failed to create viewer: %v", err)
	}

	slice, err := viewer.ExtractSlice(0)
	if err != nil {
		t.Fatalf("Failed to extract slice: %v", err)
	}

	bounds := slice.Bounds()
	if bounds.Dx() != width || bounds.Dy() != height {
		t.Errorf("Expected %dx%d, got %dx%d", width, height, bounds.Dx(), bounds.Dy())
	}

	// voxel (0,0) is the darkest and lands on the bottom row
	if c := slice.RGBAAt(0, height-1); c.R != 0 || c.G != 0 || c.B != 0 {
		t.Errorf("Expected black at bottom-left, got %v", c)
	}

	wmPixel := slice.RGBAAt(1, height-1-1)
	if wmPixel.B <= wmPixel.R {
		t.Errorf("Expected blue-tinted WM voxel, got %v", wmPixel)
	}

	gmPixel := slice.RGBAAt(3, height-1-3)
	if gmPixel.R <= gmPixel.B {
		t.Errorf("Expected red-tinted GM voxel, got %v", gmPixel)
	}

	plain := slice.RGBAAt(4, height-1-4)
	if plain.R != plain.G || plain.G != plain.B {
		t.Errorf("Expected gray pixel outside masks, got %v", plain)
	}

	if _, err := viewer.ExtractSlice(3); err == nil {
		t.Error("Expected error for out of bounds slice, got nil")
	}
	if _, err := viewer.ExtractSlice(-1); err == nil {
		t.Error("Expected error for negative slice, got nil")
	}
}

// TestUpscale verifies nearest-neighbour upscaling
func TestUpscale(t *testing.T) {
	img, wm, gm := testVolumes(4, 4, 1)
	viewer, err := NewViewer(img, wm, gm, 3)
	if err != nil {
		t.Fatalf("Failed to create viewer: %v", err)
	}

	slice, err := viewer.ExtractSlice(0)
	if err != nil {
		t.Fatalf("Failed to extract slice: %v", err)
	}

	big := viewer.Upscale(slice)
	if big.Bounds().Dx() != 12 || big.Bounds().Dy() != 12 {
		t.Fatalf("Expected 12x12, got %v", big.Bounds())
	}

	want := slice.RGBAAt(1, 2)
	for dy := 0; dy < 3; dy++ {
		for dx := 0; dx < 3; dx++ {
			r, g, b, _ := big.At(3+dx, 6+dy).RGBA()
			if uint8(r>>8) != want.R || uint8(g>>8) != want.G || uint8(b>>8) != want.B {
				t.Errorf("Pixel (%d,%d) differs from source", 3+dx, 6+dy)
			}
		}
	}
}

// TestSaveSliceSequence verifies one PNG per slice
func TestSaveSliceSequence(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping file I/O test in short mode")
	}

	img, wm, gm := testVolumes(5, 5, 3)
	viewer, err := NewViewer(img, wm, gm, 2)
	if err != nil {
		t.Fatalf("Failed to create viewer: %v", err)
	}

	outputDir := filepath.Join(t.TempDir(), "qc")
	paths, err := viewer.SaveSliceSequence(outputDir)
	if err != nil {
		t.Fatalf("Failed to save slice sequence: %v", err)
	}
	if len(paths) != 3 {
		t.Fatalf("Expected 3 files, got %d", len(paths))
	}

	for z := 0; z < 3; z++ {
		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%03d.png", z))
		file, err := os.Open(filename)
		if err != nil {
			t.Fatalf("Expected slice file %s: %v", filename, err)
		}
		decoded, err := png.Decode(file)
		file.Close()
		if err != nil {
			t.Fatalf("Failed to decode %s: %v", filename, err)
		}
		if decoded.Bounds().Dx() != 10 {
			t.Errorf("Expected width 10, got %d", decoded.Bounds().Dx())
		}
	}
}
