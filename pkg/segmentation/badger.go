package segmentation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"cordmetrics/internal/models"
)

const recordPrefix = "seg/"

// Record is the provenance entry kept for each stored artifact
type Record struct {
	Key        string     `json:"key"`
	Path       string     `json:"path"`
	Tissue     string     `json:"tissue"`
	Provenance Provenance `json:"provenance"`
	ProducedAt time.Time  `json:"produced_at"`
	RunID      string     `json:"run_id,omitempty"`
}

// BadgerStore indexes artifacts of an inner store in a badger database.
// Lookups consult the index first and only trust records whose file still
// exists; misses fall through to the inner store and are indexed.
type BadgerStore struct {
	db    *badger.DB
	inner Store
	runID string
	now   func() time.Time
}

// OpenBadgerStore opens (or creates) the index at dir
func OpenBadgerStore(dir string, inner Store, runID string, log zerolog.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{log})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open provenance index %s: %w", dir, err)
	}
	return &BadgerStore{db: db, inner: inner, runID: runID, now: time.Now}, nil
}

// Close releases the database
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// Manual implements Store; overrides are always read from the inner store
func (s *BadgerStore) Manual(ctx context.Context, key models.Key) (string, bool, error) {
	return s.inner.Manual(ctx, key)
}

// Automatic implements Store
func (s *BadgerStore) Automatic(ctx context.Context, key models.Key) (string, bool, error) {
	rec, ok, err := s.get(key)
	if err != nil {
		return "", false, err
	}
	if ok && exists(rec.Path) {
		return rec.Path, true, nil
	}

	path, ok, err := s.inner.Automatic(ctx, key)
	if err != nil || !ok {
		return path, ok, err
	}
	if err := s.put(key, path, Cached); err != nil {
		return "", false, err
	}
	return path, true, nil
}

// Put implements Store
func (s *BadgerStore) Put(ctx context.Context, key models.Key, src string) (string, error) {
	path, err := s.inner.Put(ctx, key, src)
	if err != nil {
		return "", err
	}
	if err := s.put(key, path, Computed); err != nil {
		return "", err
	}
	return path, nil
}

// Records lists every indexed artifact in key order
func (s *BadgerStore) Records() ([]Record, error) {
	var records []Record
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(recordPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec Record
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})
	return records, err
}

func (s *BadgerStore) get(key models.Key) (Record, bool, error) {
	var rec Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(recordPrefix + key.String()))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to read provenance for %s: %w", key, err)
	}
	return rec, true, nil
}

func (s *BadgerStore) put(key models.Key, path string, provenance Provenance) error {
	data, err := json.Marshal(Record{
		Key:        key.String(),
		Path:       path,
		Tissue:     string(key.Tissue),
		Provenance: provenance,
		ProducedAt: s.now().UTC(),
		RunID:      s.runID,
	})
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(recordPrefix+key.String()), data)
	})
}

// badgerLogger routes badger's internal messages to zerolog
type badgerLogger struct {
	log zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error().Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn().Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug().Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Trace().Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
