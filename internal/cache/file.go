package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"recommender/internal/codec"
	"recommender/internal/embeddings"
	"recommender/internal/metrics"
)

const fileSuffix = "_embeddings.csv"

// FileBackend keeps one `<category>_embeddings.csv` per category under dir.
// Appends for a category are serialized by a per-category lock and synced
// before returning.
type FileBackend struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewFileBackend creates dir if needed.
func NewFileBackend(dir string) (*FileBackend, error) {
	if dir == "" {
		return nil, fmt.Errorf("cache dir required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &FileBackend{dir: dir, locks: make(map[string]*sync.Mutex)}, nil
}

// Path returns the cache file for category.
func (b *FileBackend) Path(category string) (string, error) {
	if category == "" || category != filepath.Base(category) || strings.HasPrefix(category, ".") {
		return "", fmt.Errorf("invalid category %q", category)
	}
	return filepath.Join(b.dir, category+fileSuffix), nil
}

func (b *FileBackend) lock(category string) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.locks[category]
	if !ok {
		l = &sync.Mutex{}
		b.locks[category] = l
	}
	return l
}

func (b *FileBackend) Load(_ context.Context, category string) ([]Record, []ItemFailure, error) {
	path, err := b.Path(category)
	if err != nil {
		return nil, nil, err
	}

	l := b.lock(category)
	l.Lock()
	defer l.Unlock()

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open cache file: %w", err)
	}
	defer f.Close()

	var (
		records  []Record
		failures []ItemFailure
	)
	r := codec.NewReader(f)
	for {
		row, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, codec.ErrMalformedRow) {
			metrics.CacheRowsSkipped.Inc()
			failures = append(failures, ItemFailure{Category: category, Stage: StageDecode, Err: err})
			continue
		}
		if err != nil {
			// Unreadable tail (e.g. an over-long line); keep what decoded so far.
			failures = append(failures, ItemFailure{Category: category, Stage: StageDecode,
				Err: fmt.Errorf("line %d: %w", r.Line()+1, err)})
			break
		}
		records = append(records, Record{Name: row.Name, Vector: row.Vector})
	}
	return records, failures, nil
}

func (b *FileBackend) Append(_ context.Context, category, name string, vec embeddings.Vector) error {
	path, err := b.Path(category)
	if err != nil {
		return err
	}

	l := b.lock(category)
	l.Lock()
	defer l.Unlock()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open cache file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat cache file: %w", err)
	}

	var buf strings.Builder
	switch size := info.Size(); {
	case size == 0:
		buf.WriteString(codec.FormatHeader())
	case !endsWithNewline(f, size):
		buf.WriteString("\n")
	}
	buf.WriteString(codec.FormatRow(name, vec))

	// One write per row keeps a row from being split across writers.
	if _, err := f.WriteString(buf.String()); err != nil {
		return fmt.Errorf("append cache row: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync cache file: %w", err)
	}
	return nil
}

func endsWithNewline(f *os.File, size int64) bool {
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, size-1); err != nil {
		return true
	}
	return last[0] == '\n'
}

func (b *FileBackend) Close() error {
	return nil
}
