// Package results writes the per-slice metric tables, the study-level summary
// tables and the advisory error log.
package results

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"cordmetrics/internal/models"
	"cordmetrics/pkg/metrics"
)

// Column layouts of the per-slice tables. Means and stds of the tissue(s)
// entering the ratio precede the ratio column.
var sliceHeaders = map[string][]string{
	"cnr":    {"slice", "sample", "wm_mean", "wm_std", "gm_mean", "gm_std", "cnr"},
	"wm_snr": {"slice", "sample", "wm_mean", "wm_std", "wm_snr"},
	"gm_snr": {"slice", "sample", "gm_mean", "gm_std", "gm_snr"},
}

// SliceHeader returns the header row for a per-slice table metric
func SliceHeader(metric string) ([]string, error) {
	header, ok := sliceHeaders[metric]
	if !ok {
		return nil, fmt.Errorf("unknown metric table %q", metric)
	}
	return header, nil
}

// SliceTablePath returns <dir>/<stem>_<metric>.csv
func SliceTablePath(dir, stem, metric string) string {
	return filepath.Join(dir, stem+"_"+metric+".csv")
}

// WriteSliceTable writes one header row and one row per slice, in the
// order of table.Records. Absent values are written as "nan".
func WriteSliceTable(path string, table metrics.Table, precision int) error {
	header, err := SliceHeader(table.Metric)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create results directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create table %s: %w", path, err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(header); err != nil {
		return err
	}
	for _, rec := range table.Records {
		if err := w.Write(sliceRow(table.Metric, rec, precision)); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to write table %s: %w", path, err)
	}
	return file.Close()
}

func sliceRow(metric string, rec models.SliceMetricRecord, precision int) []string {
	row := []string{
		strconv.Itoa(rec.SliceIndex),
		rec.SampleID,
		rec.Mean.Format(precision),
		rec.Std.Format(precision),
	}
	if metric == "cnr" {
		row = append(row, rec.OtherMean.Format(precision), rec.OtherStd.Format(precision))
	}
	return append(row, rec.Value.Format(precision))
}

// ReadSliceTable loads a per-slice table back as header and rows
func ReadSliceTable(path string) ([]string, [][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("table %s is empty", path)
	}
	return rows[0], rows[1:], nil
}
