package segmentation

import (
	"context"
	"path/filepath"

	"cordmetrics/internal/models"
)

// FSStore keeps artifacts in a derivatives-style tree:
//
//	manual:    <data>/derivatives/labels/<sub>/<ses>/anat/<stem>_<suffix>-manual.nii.gz
//	automatic: <processed>/derivatives/labels/<sub>/<ses>/anat/<stem>_<suffix>.nii.gz
type FSStore struct {
	DataRoot      string
	ProcessedRoot string
	Contrast      string
}

// NewFSStore creates a filesystem store
func NewFSStore(dataRoot, processedRoot, contrast string) *FSStore {
	return &FSStore{DataRoot: dataRoot, ProcessedRoot: processedRoot, Contrast: contrast}
}

// ArtifactName returns <stem>_<suffix>.nii.gz for key
func ArtifactName(key models.Key, contrast string) string {
	return key.Combination.Stem(contrast) + "_" + key.Tissue.Suffix() + ".nii.gz"
}

// LabelsDir returns <root>/derivatives/labels/<sub>/<ses>/anat
func LabelsDir(root string, c models.Combination) string {
	return filepath.Join(root, "derivatives", "labels", c.Subject, c.Session, "anat")
}

// ManualPath is the curated override location for key
func (s *FSStore) ManualPath(key models.Key) string {
	name := key.Combination.Stem(s.Contrast) + "_" + key.Tissue.Suffix() + "-manual.nii.gz"
	return filepath.Join(LabelsDir(s.DataRoot, key.Combination), name)
}

// AutomaticPath is the automatic artifact location for key
func (s *FSStore) AutomaticPath(key models.Key) string {
	return filepath.Join(LabelsDir(s.ProcessedRoot, key.Combination), ArtifactName(key, s.Contrast))
}

// Manual implements Store
func (s *FSStore) Manual(_ context.Context, key models.Key) (string, bool, error) {
	p := s.ManualPath(key)
	return p, exists(p), nil
}

// Automatic implements Store
func (s *FSStore) Automatic(_ context.Context, key models.Key) (string, bool, error) {
	p := s.AutomaticPath(key)
	return p, exists(p), nil
}

// Put implements Store by copying src into the automatic location
func (s *FSStore) Put(_ context.Context, key models.Key, src string) (string, error) {
	dst := s.AutomaticPath(key)
	if err := copyFile(src, dst); err != nil {
		return "", err
	}
	return dst, nil
}
