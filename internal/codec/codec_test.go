package codec

import (
	"errors"
	"io"
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recommender/internal/embeddings"
)

func TestVectorRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	vectors := []embeddings.Vector{
		{0},
		{1, -1},
		{math.SmallestNonzeroFloat64, math.MaxFloat64, -math.MaxFloat64},
		{0.1, 0.2, 0.30000000000000004},
		{1e-300, -2.5e-12, 123456789.123456789},
	}
	for i := 0; i < 50; i++ {
		v := make(embeddings.Vector, 1+rng.Intn(768))
		for j := range v {
			v[j] = rng.NormFloat64() * math.Pow(10, float64(rng.Intn(20)-10))
		}
		vectors = append(vectors, v)
	}

	for _, v := range vectors {
		encoded := EncodeVector(v)
		assert.NotContains(t, encoded, ",")

		decoded, err := DecodeVector(encoded)
		require.NoError(t, err)
		require.Len(t, decoded, len(v))
		for i := range v {
			assert.InDelta(t, v[i], decoded[i], 1e-9)
			assert.Equal(t, v[i], decoded[i], "exact round-trip expected")
		}
	}
}

func TestRowRoundTripThroughReader(t *testing.T) {
	names := []string{"Alpha", `The "Quoted" One`, "Comma, Inc.", "Multi\nLine"}
	var sb strings.Builder
	sb.WriteString(FormatHeader())
	for i, n := range names {
		sb.WriteString(FormatRow(n, embeddings.Vector{float64(i), -0.5}))
	}

	r := NewReader(strings.NewReader(sb.String()))
	var got []Row
	for {
		row, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, row)
	}

	require.Len(t, got, len(names))
	assert.Equal(t, "Alpha", got[0].Name)
	assert.Equal(t, `The "Quoted" One`, got[1].Name)
	assert.Equal(t, "Comma, Inc.", got[2].Name)
	assert.Equal(t, "Multi Line", got[3].Name)
	assert.Equal(t, embeddings.Vector{2, -0.5}, got[2].Vector)
}

func TestDecodeRowMalformed(t *testing.T) {
	tests := []struct {
		name   string
		record []string
	}{
		{"single field", []string{"Alpha"}},
		{"three fields", []string{"Alpha", "1|2", "3"}},
		{"empty name", []string{" ", "1|2"}},
		{"empty vector", []string{"Alpha", ""}},
		{"non numeric element", []string{"Alpha", "1|abc|3"}},
		{"comma separated vector", []string{"Alpha", "1,2"}},
		{"infinite element", []string{"Alpha", "1|+Inf"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeRow(tt.record)
			assert.ErrorIs(t, err, ErrMalformedRow)
		})
	}
}

func TestReaderSkipsBadRows(t *testing.T) {
	input := strings.Join([]string{
		"name,embedding/v1",
		`"Broken","1|x|3"`,
		`"Valid","0.5|0.25"`,
		`"Unterminated,"1|2`,
		``,
		`"Also Valid","3"`,
	}, "\n")

	r := NewReader(strings.NewReader(input))
	var rows []Row
	var bad []int
	for {
		row, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			require.ErrorIs(t, err, ErrMalformedRow)
			bad = append(bad, r.Line())
			continue
		}
		rows = append(rows, row)
	}

	assert.Equal(t, []int{2, 4}, bad)
	require.Len(t, rows, 2)
	assert.Equal(t, "Valid", rows[0].Name)
	assert.Equal(t, "Also Valid", rows[1].Name)
}

func TestReaderLegacyFile(t *testing.T) {
	// First-generation files hold the raw provider reply, commas swapped for
	// pipes, inner quotes unescaped. Rows appended later use the current layout.
	input := strings.Join([]string{
		"MovieName,Embedding",
		`"Heat","{"embedding":[0.1|-0.2|3e-05]}"`,
		`"The Godfather","{"embedding":[1|2]}"`,
		`"Broken","{"embedding":[1|x]}"`,
		`"No Vector","{"error":"model not found"}"`,
		`"Alien","4|5"`,
	}, "\n") + "\n"

	r := NewReader(strings.NewReader(input))
	var rows []Row
	var bad []int
	for {
		row, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			require.ErrorIs(t, err, ErrMalformedRow)
			bad = append(bad, r.Line())
			continue
		}
		rows = append(rows, row)
	}

	assert.Equal(t, []int{4, 5}, bad)
	assert.Equal(t, []Row{
		{Name: "Heat", Vector: embeddings.Vector{0.1, -0.2, 3e-05}},
		{Name: "The Godfather", Vector: embeddings.Vector{1, 2}},
		{Name: "Alien", Vector: embeddings.Vector{4, 5}},
	}, rows)
}

func TestDecodeLegacyRow(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    Row
		wantErr bool
	}{
		{name: "raw reply", line: `"Heat","{"embedding":[0.5|0.25]}"`, want: Row{Name: "Heat", Vector: embeddings.Vector{0.5, 0.25}}},
		{name: "unquoted", line: `Heat,[1|2]`, want: Row{Name: "Heat", Vector: embeddings.Vector{1, 2}}},
		{name: "no separator", line: `"Heat"`, wantErr: true},
		{name: "empty name", line: `"",[1]`, wantErr: true},
		{name: "no brackets", line: `"Heat","0.1|0.2"`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row, err := DecodeLegacyRow(tt.line)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedRow)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, row)
		})
	}
}

func TestReaderHeaderlessFile(t *testing.T) {
	r := NewReader(strings.NewReader("\"Heat\",\"1\"\n"))
	row, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, embeddings.Vector{1}, row.Vector)
}
