// Package codec reads and writes the durable embedding cache format: a header
// row followed by one `"name","v1|v2|..."` row per item. Vector elements use
// '|' so they never collide with the ',' that separates the two fields.
package codec

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"recommender/internal/embeddings"
)

const (
	Version   = "v1"
	Separator = "|"

	maxLineBytes = 8 << 20
)

var (
	// Header is written as the first row of every cache file.
	Header = []string{"name", "embedding/" + Version}

	// legacyHeader marks first-generation cache files. Their rows hold the
	// provider's raw JSON reply with ',' swapped for '|' and inner quotes left
	// unescaped, e.g. `"Heat","{"embedding":[0.1|0.2]}"`.
	legacyHeader = []string{"MovieName", "Embedding"}

	ErrMalformedRow = errors.New("malformed cache row")
)

// Row is one decoded cache entry.
type Row struct {
	Name   string
	Vector embeddings.Vector
}

// EncodeVector renders v with the shortest representation that parses back
// to the identical float64.
func EncodeVector(v embeddings.Vector) string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = strconv.FormatFloat(f, 'g', -1, 64)
	}
	return strings.Join(parts, Separator)
}

// DecodeVector is the inverse of EncodeVector.
func DecodeVector(s string) (embeddings.Vector, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty vector", ErrMalformedRow)
	}
	parts := strings.Split(s, Separator)
	vec := make(embeddings.Vector, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: element %d: %v", ErrMalformedRow, i, err)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: element %d is not finite", ErrMalformedRow, i)
		}
		vec[i] = f
	}
	return vec, nil
}

// FormatRow renders one complete cache line, newline included. Both fields
// are always quoted; line breaks in names are folded to spaces so that one
// row is always one line.
func FormatRow(name string, v embeddings.Vector) string {
	return quote(foldLines(name)) + "," + quote(EncodeVector(v)) + "\n"
}

// FormatHeader renders the header line.
func FormatHeader() string {
	return Header[0] + "," + Header[1] + "\n"
}

// DecodeRow decodes the fields of one row.
func DecodeRow(record []string) (Row, error) {
	if len(record) != 2 {
		return Row{}, fmt.Errorf("%w: want 2 fields, got %d", ErrMalformedRow, len(record))
	}
	name := strings.TrimSpace(record[0])
	if name == "" {
		return Row{}, fmt.Errorf("%w: empty name", ErrMalformedRow)
	}
	vec, err := DecodeVector(record[1])
	if err != nil {
		return Row{}, err
	}
	return Row{Name: name, Vector: vec}, nil
}

// IsHeader reports whether record is a current or legacy header row.
func IsHeader(record []string) bool {
	return matches(record, Header) || matches(record, legacyHeader)
}

func matches(record, header []string) bool {
	return len(record) == 2 &&
		strings.EqualFold(strings.TrimSpace(record[0]), header[0]) &&
		strings.EqualFold(strings.TrimSpace(record[1]), header[1])
}

// DecodeLegacyRow decodes a first-generation row: the name runs up to the
// first ',' and the rest, quotes stripped and '|' turned back into ',', is
// parsed like a provider reply.
func DecodeLegacyRow(line string) (Row, error) {
	name, rest, ok := strings.Cut(line, ",")
	if !ok {
		return Row{}, fmt.Errorf("%w: no field separator", ErrMalformedRow)
	}
	name = strings.TrimSpace(strings.ReplaceAll(name, `"`, ""))
	if name == "" {
		return Row{}, fmt.Errorf("%w: empty name", ErrMalformedRow)
	}
	rest = strings.ReplaceAll(strings.ReplaceAll(rest, `"`, ""), Separator, ",")
	vec, err := embeddings.ParseVector(rest)
	if err != nil {
		return Row{}, fmt.Errorf("%w: %w", ErrMalformedRow, err)
	}
	return Row{Name: name, Vector: vec}, nil
}

// Reader decodes a cache stream line by line. A bad line never poisons the
// lines after it.
type Reader struct {
	sc      *bufio.Scanner
	line    int
	started bool
	legacy  bool
}

func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &Reader{sc: sc}
}

// Next returns the next row. A malformed row yields an error wrapping
// ErrMalformedRow; the caller may keep calling Next. io.EOF ends the stream.
func (r *Reader) Next() (Row, error) {
	for r.sc.Scan() {
		r.line++
		text := strings.TrimRight(r.sc.Text(), "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}

		record, splitErr := splitLine(text)
		first := !r.started
		r.started = true
		if first && splitErr == nil && IsHeader(record) {
			r.legacy = matches(record, legacyHeader)
			continue
		}

		row, err := r.decode(text, record, splitErr)
		if err != nil {
			return Row{}, fmt.Errorf("line %d: %w", r.line, err)
		}
		return row, nil
	}
	if err := r.sc.Err(); err != nil {
		return Row{}, err
	}
	return Row{}, io.EOF
}

// decode tries the current row layout first. Legacy files may also hold
// current rows appended after them.
func (r *Reader) decode(text string, record []string, splitErr error) (Row, error) {
	var row Row
	err := splitErr
	if err == nil {
		row, err = DecodeRow(record)
	} else {
		err = fmt.Errorf("%w: %v", ErrMalformedRow, err)
	}
	if err == nil || !r.legacy {
		return row, err
	}
	return DecodeLegacyRow(text)
}

// Line is the 1-based line number of the last row returned.
func (r *Reader) Line() int {
	return r.line
}

func splitLine(line string) ([]string, error) {
	cr := csv.NewReader(strings.NewReader(line))
	cr.FieldsPerRecord = -1
	return cr.Read()
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func foldLines(s string) string {
	return strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(s)
}
