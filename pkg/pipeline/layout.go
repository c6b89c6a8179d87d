package pipeline

import (
	"cmp"
	"path/filepath"
	"slices"

	"cordmetrics/internal/models"
	"cordmetrics/pkg/results"
	"cordmetrics/pkg/segmentation"
)

// Layout derives every file location of a run from the study directories
type Layout struct {
	Data      string
	Processed string
	Results   string
	Log       string
	QC        string
	Contrast  string
}

// InputImage is <data>/<sub>/<ses>/anat/<stem>.nii.gz
func (l Layout) InputImage(c models.Combination) string {
	return filepath.Join(l.Data, c.Subject, c.Session, "anat", c.Stem(l.Contrast)+".nii.gz")
}

// WorkingDir is <processed>/<sub>/<ses>/anat
func (l Layout) WorkingDir(c models.Combination) string {
	return filepath.Join(l.Processed, c.Subject, c.Session, "anat")
}

// WorkingImage is the processed copy of the input image
func (l Layout) WorkingImage(c models.Combination) string {
	return filepath.Join(l.WorkingDir(c), c.Stem(l.Contrast)+".nii.gz")
}

// WorkingSegmentation is where the resolved artifact for key is placed
func (l Layout) WorkingSegmentation(key models.Key) string {
	return filepath.Join(l.WorkingDir(key.Combination), segmentation.ArtifactName(key, l.Contrast))
}

// ScratchRoot is <processed>/tmp
func (l Layout) ScratchRoot() string {
	return filepath.Join(l.Processed, "tmp")
}

// SliceTable is <results>/<stem>_<metric>.csv
func (l Layout) SliceTable(c models.Combination, metric string) string {
	return results.SliceTablePath(l.Results, c.Stem(l.Contrast), metric)
}

// QCDir is <qc>/<sub>/<ses>/<stem>
func (l Layout) QCDir(c models.Combination) string {
	return filepath.Join(l.QC, c.Subject, c.Session, c.Stem(l.Contrast))
}

// GhostingMask is the mask drawn on the reference reconstruction of c's
// acquisition, <processed>/<sub>/<ses>/anat/<stem-of-reference>_<suffix>.nii.gz
func (l Layout) GhostingMask(c models.Combination, reference, suffix string) string {
	ref := c
	ref.Reconstruction = reference
	return filepath.Join(l.WorkingDir(c), ref.Stem(l.Contrast)+"_"+suffix+".nii.gz")
}

// ErrorLog is <log>/error.log
func (l Layout) ErrorLog() string {
	return filepath.Join(l.Log, "error.log")
}

// RunLog is <log>/<sub>_<ses>.log
func (l Layout) RunLog(subject, session string) string {
	return filepath.Join(l.Log, subject+"_"+session+".log")
}

// MetricsFile is <log>/metrics_<sub>_<ses>.prom
func (l Layout) MetricsFile(subject, session string) string {
	return filepath.Join(l.Log, "metrics_"+subject+"_"+session+".prom")
}

// Summary tables
const (
	keyHeader = "Subject-ID/Session-ID/Acquisition"
)

// columnRank orders summary columns the way existing study tables do
var columnRank = map[string]int{
	"rec-standard":  0,
	"rec-navigated": 1,
}

// summaryColumns sorts reconstructions standard first, navigated second and
// any other tag alphabetically after them, independently of grid order
func summaryColumns(reconstructions []string) []string {
	out := slices.Clone(reconstructions)
	slices.SortStableFunc(out, func(a, b string) int {
		ra, oka := columnRank[a]
		rb, okb := columnRank[b]
		switch {
		case oka && okb:
			return cmp.Compare(ra, rb)
		case oka:
			return -1
		case okb:
			return 1
		}
		return cmp.Compare(a, b)
	})
	return out
}

func (l Layout) summaryTables(reconstructions []string) map[string]results.SummaryTable {
	reconstructions = summaryColumns(reconstructions)
	table := func(name string, stats ...string) results.SummaryTable {
		return results.SummaryTable{
			Path:            filepath.Join(l.Results, name),
			KeyHeader:       keyHeader,
			Stats:           stats,
			Reconstructions: reconstructions,
		}
	}
	return map[string]results.SummaryTable{
		"cnr":      table("cnr.csv", "mean", "median"),
		"wm_snr":   table("wm_snr.csv", "mean", "median"),
		"gm_snr":   table("gm_snr.csv", "mean", "median"),
		"wm_std":   table("wm_std.csv", "max", "mean"),
		"ghosting": table("ghosting_metrics.csv", "max", "mean"),
	}
}
