// Package gcsstore keeps segmentation artifacts in a Google Cloud Storage
// bucket, using the same derivatives layout as the filesystem store under a
// configurable prefix. Hits are downloaded into a local cache directory so
// the rest of the pipeline only deals with local files.
package gcsstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"cordmetrics/internal/models"
	"cordmetrics/pkg/segmentation"
)

// ErrNotFound is returned by a Bucket for absent objects
var ErrNotFound = errors.New("object not found")

// Bucket is the subset of object storage the store needs
type Bucket interface {
	// Download copies object into the local file dst
	Download(ctx context.Context, object, dst string) error

	// Upload copies the local file src into object
	Upload(ctx context.Context, src, object string) error
}

// Store implements segmentation.Store on top of a Bucket
type Store struct {
	bucket   Bucket
	prefix   string
	cacheDir string
	contrast string
}

// New creates a store. cacheDir receives downloaded artifacts.
func New(bucket Bucket, prefix, cacheDir, contrast string) *Store {
	return &Store{bucket: bucket, prefix: prefix, cacheDir: cacheDir, contrast: contrast}
}

// ManualObject is the object name of the curated override for key
func (s *Store) ManualObject(key models.Key) string {
	name := key.Combination.Stem(s.contrast) + "_" + key.Tissue.Suffix() + "-manual.nii.gz"
	return s.object(key, name)
}

// AutomaticObject is the object name of the automatic artifact for key
func (s *Store) AutomaticObject(key models.Key) string {
	return s.object(key, segmentation.ArtifactName(key, s.contrast))
}

func (s *Store) object(key models.Key, name string) string {
	c := key.Combination
	return path.Join(s.prefix, "derivatives", "labels", c.Subject, c.Session, "anat", name)
}

func (s *Store) local(object string) string {
	return filepath.Join(s.cacheDir, filepath.FromSlash(object))
}

// Manual implements segmentation.Store
func (s *Store) Manual(ctx context.Context, key models.Key) (string, bool, error) {
	return s.fetch(ctx, s.ManualObject(key))
}

// Automatic implements segmentation.Store
func (s *Store) Automatic(ctx context.Context, key models.Key) (string, bool, error) {
	return s.fetch(ctx, s.AutomaticObject(key))
}

// Put implements segmentation.Store: the artifact is uploaded and kept in
// the local cache
func (s *Store) Put(ctx context.Context, key models.Key, src string) (string, error) {
	object := s.AutomaticObject(key)
	if err := s.bucket.Upload(ctx, src, object); err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", object, err)
	}

	dst := s.local(object)
	if err := copyLocal(src, dst); err != nil {
		return "", err
	}
	return dst, nil
}

func (s *Store) fetch(ctx context.Context, object string) (string, bool, error) {
	dst := s.local(object)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return "", false, err
	}

	err := s.bucket.Download(ctx, object, dst)
	if errors.Is(err, ErrNotFound) {
		return dst, false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to download %s: %w", object, err)
	}
	return dst, true, nil
}

func copyLocal(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// GCSBucket is a Bucket backed by cloud.google.com/go/storage
type GCSBucket struct {
	client *storage.Client
	handle *storage.BucketHandle
}

// NewGCSBucket connects to bucket. credentials may be empty to use the
// application default credentials.
func NewGCSBucket(ctx context.Context, bucket, credentials string) (*GCSBucket, error) {
	var opts []option.ClientOption
	if credentials != "" {
		if _, err := os.Stat(credentials); err != nil {
			return nil, fmt.Errorf("service account key not found at path: %s: %w", credentials, err)
		}
		opts = append(opts, option.WithCredentialsFile(credentials))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return &GCSBucket{client: client, handle: client.Bucket(bucket)}, nil
}

// Close releases the client
func (b *GCSBucket) Close() error {
	return b.client.Close()
}

// Download implements Bucket
func (b *GCSBucket) Download(ctx context.Context, object, dst string) error {
	r, err := b.handle.Object(object).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	defer r.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to read gs object %s: %w", object, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

// Upload implements Bucket
func (b *GCSBucket) Upload(ctx context.Context, src, object string) error {
	file, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open the local file: %s: %w", src, err)
	}
	defer file.Close()

	w := b.handle.Object(object).NewWriter(ctx)
	w.ContentType = "application/gzip"
	if _, err := io.Copy(w, file); err != nil {
		w.Close()
		return fmt.Errorf("failed to copy local file %s to GCS object %s: %w", src, object, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer for %s: %w", object, err)
	}
	return nil
}
