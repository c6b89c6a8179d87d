package external

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"cordmetrics/internal/models"
	"cordmetrics/pkg/segmentation"
)

// contrastFlags maps image suffixes to the toolkit's -c argument
var contrastFlags = map[string]string{
	"T1w":     "t1",
	"T2w":     "t2",
	"T2starw": "t2s",
	"dwi":     "dwi",
}

// ContrastFlag returns the toolkit contrast for an image suffix
func ContrastFlag(contrast string) (string, error) {
	flag, ok := contrastFlags[contrast]
	if !ok {
		return "", fmt.Errorf("unsupported contrast %q", contrast)
	}
	return flag, nil
}

// Tools names the executables of the segmentation toolkit
type Tools struct {
	Cord           string
	GrayMatter     string
	Maths          string
	QC             string
	LabelVertebrae string
}

// Toolkit builds the segmentation toolkit commands on top of a Runner
type Toolkit struct {
	Runner   Runner
	Tools    Tools
	Contrast string

	// QCDir receives the toolkit's QC report
	QCDir string
}

// Segmenters returns one segmenter per tissue class. White matter is derived
// as cord minus gray matter by image arithmetic.
func (k *Toolkit) Segmenters() map[models.Tissue]segmentation.Segmenter {
	return map[models.Tissue]segmentation.Segmenter{
		models.SpinalCord:  segmentation.SegmenterFunc(k.segmentCord),
		models.GrayMatter:  segmentation.SegmenterFunc(k.segmentGrayMatter),
		models.WhiteMatter: segmentation.SegmenterFunc(k.subtractWhiteMatter),
	}
}

func (k *Toolkit) segmentCord(ctx context.Context, job segmentation.Job) error {
	contrast, err := ContrastFlag(k.Contrast)
	if err != nil {
		return err
	}
	return k.Runner.Run(ctx, k.Tools.Cord, "-i", job.Image, "-c", contrast, "-o", job.Output)
}

func (k *Toolkit) segmentGrayMatter(ctx context.Context, job segmentation.Job) error {
	return k.Runner.Run(ctx, k.Tools.GrayMatter, "-i", job.Image, "-o", job.Output)
}

func (k *Toolkit) subtractWhiteMatter(ctx context.Context, job segmentation.Job) error {
	cord, ok := job.Deps[models.SpinalCord]
	if !ok {
		return fmt.Errorf("white matter needs the cord segmentation")
	}
	gm, ok := job.Deps[models.GrayMatter]
	if !ok {
		return fmt.Errorf("white matter needs the gray matter segmentation")
	}
	return k.Runner.Run(ctx, k.Tools.Maths, "-i", cord, "-sub", gm, "-o", job.Output)
}

// Generate implements segmentation.QCGenerator
func (k *Toolkit) Generate(ctx context.Context, job segmentation.Job, artifact string) error {
	process := k.Tools.GrayMatter
	if job.Key.Tissue == models.SpinalCord {
		process = k.Tools.Cord
	}
	return k.Runner.Run(ctx, k.Tools.QC,
		"-i", job.Image,
		"-s", artifact,
		"-p", filepath.Base(process),
		"-qc", k.QCDir,
		"-qc-subject", job.Key.Subject,
	)
}

// LabelVertebrae writes vertebral level labels for image next to the cord
// segmentation, into outDir
func (k *Toolkit) LabelVertebrae(ctx context.Context, image, cordSeg, outDir string) error {
	contrast, err := ContrastFlag(k.Contrast)
	if err != nil {
		return err
	}
	// the labeling model only knows t1 and t2
	if contrast == "t2s" {
		contrast = "t2"
	}
	return k.Runner.Run(ctx, k.Tools.LabelVertebrae,
		"-i", image,
		"-s", cordSeg,
		"-c", contrast,
		"-ofolder", outDir,
		"-qc", k.QCDir,
	)
}

// GhostingMask invokes the ghosting mask script for one acquisition
type GhostingMask struct {
	Runner Runner
	Script string
	Smooth int
	Bins   int
}

// Create runs the script; it writes the mask under processedRoot
func (g *GhostingMask) Create(ctx context.Context, processedRoot string, c models.Combination) error {
	return g.Runner.Run(ctx, g.Script,
		processedRoot,
		c.Subject,
		c.Session,
		c.Acquisition,
		strconv.Itoa(g.Smooth),
		strconv.Itoa(g.Bins),
	)
}
