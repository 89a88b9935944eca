package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/aluiziolira/go-scrape-ebay/models"
)

// ErrCorpusNotFound is returned by Load when the corpus file does not exist.
var ErrCorpusNotFound = errors.New("pipeline: corpus not found")

// CorpusIOError reports a corpus file that could not be read, decoded or
// written. A malformed corpus is never overwritten.
type CorpusIOError struct {
	Path string
	Op   string
	Err  error
}

func (e *CorpusIOError) Error() string {
	return fmt.Sprintf("corpus %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *CorpusIOError) Unwrap() error {
	return e.Err
}

// MergeStats describes one Merge call.
type MergeStats struct {
	Incoming   int
	Added      int
	Duplicates int
	Total      int
}

// ResultStore persists the product corpus as a pretty-printed JSON array.
type ResultStore struct {
	path string

	mu   sync.Mutex
	last MergeStats
}

// NewResultStore returns a store backed by path.
func NewResultStore(path string) *ResultStore {
	return &ResultStore{path: path}
}

// Path returns the corpus file location.
func (s *ResultStore) Path() string { return s.path }

// Load returns the current corpus.
func (s *ResultStore) Load(ctx context.Context) ([]models.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked()
}

// Merge appends records to the corpus, keeping the first occurrence of each
// (title, price) pair, and rewrites the file atomically.
func (s *ResultStore) Merge(ctx context.Context, records []models.Product) (MergeStats, error) {
	if err := ctx.Err(); err != nil {
		return MergeStats{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.readLocked()
	if err != nil && !errors.Is(err, ErrCorpusNotFound) {
		return MergeStats{}, err
	}

	base, _ := dedupe(existing)
	merged, dupes := dedupe(append(base, records...))
	stats := MergeStats{
		Incoming:   len(records),
		Added:      len(merged) - len(base),
		Duplicates: dupes,
		Total:      len(merged),
	}

	if err := s.writeLocked(merged); err != nil {
		return MergeStats{}, err
	}
	s.last = stats

	zap.L().Debug("corpus merged",
		zap.String("path", s.path),
		zap.Int("incoming", stats.Incoming),
		zap.Int("added", stats.Added),
		zap.Int("total", stats.Total),
	)
	return stats, nil
}

// LastMerge returns the stats of the most recent successful Merge.
func (s *ResultStore) LastMerge() MergeStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Write merges products so the store can sit behind a Pipeline.
func (s *ResultStore) Write(products []models.Product) error {
	_, err := s.Merge(context.Background(), products)
	return err
}

// Close is a no-op; every Merge leaves the file complete.
func (s *ResultStore) Close() error { return nil }

// Validate ensures the corpus exists and decodes.
func (s *ResultStore) Validate() error {
	_, err := s.Load(context.Background())
	return err
}

func (s *ResultStore) readLocked() ([]models.Product, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrCorpusNotFound
		}
		return nil, &CorpusIOError{Path: s.path, Op: "read", Err: err}
	}

	var products []models.Product
	if err := json.Unmarshal(data, &products); err != nil {
		return nil, &CorpusIOError{Path: s.path, Op: "decode", Err: err}
	}
	return products, nil
}

func (s *ResultStore) writeLocked(products []models.Product) error {
	if products == nil {
		products = []models.Product{}
	}
	data, err := json.MarshalIndent(products, "", "  ")
	if err != nil {
		return &CorpusIOError{Path: s.path, Op: "encode", Err: err}
	}

	if err := ensureDir(s.path); err != nil {
		return &CorpusIOError{Path: s.path, Op: "write", Err: err}
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return &CorpusIOError{Path: s.path, Op: "write", Err: err}
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &CorpusIOError{Path: s.path, Op: "write", Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &CorpusIOError{Path: s.path, Op: "sync", Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &CorpusIOError{Path: s.path, Op: "write", Err: err}
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return &CorpusIOError{Path: s.path, Op: "rename", Err: eris.Wrap(err, "replace corpus")}
	}
	return nil
}

// dedupe keeps the first record for every (title, price) key.
func dedupe(products []models.Product) ([]models.Product, int) {
	seen := make(map[models.ProductKey]struct{}, len(products))
	out := make([]models.Product, 0, len(products))
	dupes := 0
	for _, p := range products {
		key := p.Key()
		if _, ok := seen[key]; ok {
			dupes++
			continue
		}
		seen[key] = struct{}{}
		out = append(out, p)
	}
	return out, dupes
}
