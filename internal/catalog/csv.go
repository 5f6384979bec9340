package catalog

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Column positions in a category file. The first row is a header.
const (
	colName         = 1
	colRating       = 6
	colDescription  = 7
	colCreator      = 8
	colContributors = 10

	minColumns = colContributors + 1
)

// CSVCatalog reads `<dir>/<category>.csv`. Parsed files are kept in an LRU
// and reparsed when the file's size or modification time changes.
type CSVCatalog struct {
	dir    string
	log    *slog.Logger
	parsed *lru.Cache[string, *categoryFile]
}

type categoryFile struct {
	modTime time.Time
	size    int64
	entries []Entry
	index   map[string]int
}

func NewCSVCatalog(dir string, cacheSize int, log *slog.Logger) (*CSVCatalog, error) {
	if dir == "" {
		return nil, fmt.Errorf("catalog dir required")
	}
	if cacheSize <= 0 {
		cacheSize = 64
	}
	if log == nil {
		log = slog.Default()
	}
	parsed, err := lru.New[string, *categoryFile](cacheSize)
	if err != nil {
		return nil, err
	}
	return &CSVCatalog{dir: dir, log: log, parsed: parsed}, nil
}

func (c *CSVCatalog) Lookup(_ context.Context, category, name string) (Entry, bool, error) {
	cf, err := c.load(category)
	if err != nil {
		return Entry{}, false, err
	}
	i, ok := cf.index[normalize(name)]
	if !ok {
		return Entry{}, false, nil
	}
	return cf.entries[i], true, nil
}

func (c *CSVCatalog) ListAll(_ context.Context, category string) ([]Entry, error) {
	cf, err := c.load(category)
	if err != nil {
		return nil, err
	}
	return append([]Entry(nil), cf.entries...), nil
}

func (c *CSVCatalog) load(category string) (*categoryFile, error) {
	if err := ValidateCategory(category); err != nil {
		return nil, err
	}
	path := filepath.Join(c.dir, category+".csv")

	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &categoryFile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat catalog %s: %w", category, err)
	}

	if cf, ok := c.parsed.Get(category); ok && cf.size == info.Size() && cf.modTime.Equal(info.ModTime()) {
		return cf, nil
	}

	cf, err := c.parse(category, path)
	if err != nil {
		return nil, err
	}
	cf.modTime, cf.size = info.ModTime(), info.Size()
	c.parsed.Add(category, cf)
	return cf, nil
}

func (c *CSVCatalog) parse(category, path string) (*categoryFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", category, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	cf := &categoryFile{index: make(map[string]int)}
	var skipped int
	header := true
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			skipped++
			c.log.Warn("skipping unreadable catalog row", "category", category, "line", perr.Line, "err", err)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read catalog %s: %w", category, err)
		}
		if header {
			header = false
			continue
		}
		if len(record) < minColumns {
			skipped++
			continue
		}

		e := Entry{
			Name:         strings.TrimSpace(record[colName]),
			Rating:       strings.TrimSpace(record[colRating]),
			Description:  strings.TrimSpace(record[colDescription]),
			Creator:      strings.TrimSpace(record[colCreator]),
			Contributors: strings.TrimSpace(record[colContributors]),
		}
		key := normalize(e.Name)
		if key == "" {
			skipped++
			continue
		}
		if _, dup := cf.index[key]; dup {
			skipped++
			continue
		}
		cf.index[key] = len(cf.entries)
		cf.entries = append(cf.entries, e)
	}

	c.log.Debug("catalog parsed", "category", category, "entries", len(cf.entries), "skipped", skipped)
	return cf, nil
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
