package results

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"cordmetrics/internal/models"
)

// SummaryPrecision is the number of decimals used in study-level summaries
const SummaryPrecision = 6

// SummaryTable describes a study-level table with one row per key and one
// column per (statistic, reconstruction) pair, e.g.
//
//	Subject-ID/Session-ID/Acquisition,mean rec-standard,mean rec-navigated,median rec-standard,median rec-navigated
type SummaryTable struct {
	// Path is the CSV file location
	Path string

	// KeyHeader labels the first column
	KeyHeader string

	// Stats are the statistic names, in column-group order
	Stats []string

	// Reconstructions are the reconstruction tags, in column order within a group
	Reconstructions []string
}

// Header builds the header row
func (t SummaryTable) Header() []string {
	header := []string{t.KeyHeader}
	for _, stat := range t.Stats {
		for _, rec := range t.Reconstructions {
			header = append(header, stat+" "+rec)
		}
	}
	return header
}

func (t SummaryTable) column(stat, rec string) int {
	for i, s := range t.Stats {
		if s != stat {
			continue
		}
		for j, r := range t.Reconstructions {
			if r == rec {
				return 1 + i*len(t.Reconstructions) + j
			}
		}
	}
	return -1
}

// SummaryWriter serializes read-modify-write cycles on summary tables
type SummaryWriter struct {
	mu sync.Mutex
}

// NewSummaryWriter creates a writer; one instance should be shared by all
// goroutines updating the same tables.
func NewSummaryWriter() *SummaryWriter {
	return &SummaryWriter{}
}

// Upsert sets the cells of row key for reconstruction rec. Existing rows and
// cells are kept; new rows are appended with "nan" in every other cell.
func (w *SummaryWriter) Upsert(table SummaryTable, key, rec string, values map[string]models.Ratio) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	header, rows, err := load(table)
	if err != nil {
		return err
	}

	row := findRow(rows, key)
	if row == nil {
		row = newRow(key, len(header))
		rows = append(rows, row)
	}

	for stat, value := range values {
		col := table.column(stat, rec)
		if col < 0 {
			return fmt.Errorf("table %s has no column %q for %s", filepath.Base(table.Path), stat, rec)
		}
		row[col] = value.Format(SummaryPrecision)
	}

	return writeRows(table.Path, header, rows)
}

// Clear resets every cell of row key for reconstruction rec to "nan".
// Missing tables and rows are left untouched.
func (w *SummaryWriter) Clear(table SummaryTable, key, rec string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	header, rows, err := load(table)
	if err != nil {
		return err
	}
	row := findRow(rows, key)
	if row == nil {
		return nil
	}

	for _, stat := range table.Stats {
		if col := table.column(stat, rec); col >= 0 {
			row[col] = "nan"
		}
	}
	return writeRows(table.Path, header, rows)
}

func findRow(rows [][]string, key string) []string {
	for _, r := range rows {
		if r[0] == key {
			return r
		}
	}
	return nil
}

func newRow(key string, width int) []string {
	row := make([]string, width)
	row[0] = key
	for i := 1; i < width; i++ {
		row[i] = "nan"
	}
	return row
}

// load reads the table and aligns the columns found on disk with
// table.Header() by name. Columns the file has beyond the header are kept
// after it; header columns the file lacks are filled with "nan".
func load(table SummaryTable) ([]string, [][]string, error) {
	header := table.Header()

	records, err := readRecords(table.Path)
	if err != nil || len(records) == 0 {
		return header, nil, err
	}

	index := make(map[string]int, len(header))
	for i, name := range header[1:] {
		index[name] = i + 1
	}
	existing := records[0]
	target := make([]int, len(existing))
	for i := 1; i < len(existing); i++ {
		col, ok := index[existing[i]]
		if !ok {
			col = len(header)
			index[existing[i]] = col
			header = append(header, existing[i])
		}
		target[i] = col
	}

	var rows [][]string
	for _, record := range records[1:] {
		if len(record) == 0 || record[0] == "" {
			continue
		}
		row := newRow(record[0], len(header))
		for i := 1; i < len(record) && i < len(existing); i++ {
			row[target[i]] = record[i]
		}
		rows = append(rows, row)
	}
	return header, rows, nil
}

// readRecords parses the whole file, header included
func readRecords(path string) ([][]string, error) {
	file, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return records, nil
}

// writeRows replaces the file atomically
func writeRows(path string, header []string, rows [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create results directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		tmp.Close()
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
