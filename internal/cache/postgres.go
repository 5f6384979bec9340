package cache

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"

	"recommender/internal/embeddings"
)

// PostgresBackend stores vectors as double precision arrays, one row per
// (category, normalized name). Later inserts for a known key are ignored.
type PostgresBackend struct {
	db *sql.DB
}

func NewPostgresBackend(dsn string) (*PostgresBackend, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	b := &PostgresBackend{db: db}
	if err := b.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

func (b *PostgresBackend) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS item_embeddings (
			category   TEXT NOT NULL,
			name_key   TEXT NOT NULL,
			name       TEXT NOT NULL,
			vector     DOUBLE PRECISION[] NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (category, name_key)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate item_embeddings: %w", err)
		}
	}
	return nil
}

func (b *PostgresBackend) Load(ctx context.Context, category string) ([]Record, []ItemFailure, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT name, vector
		FROM item_embeddings
		WHERE category = $1
		ORDER BY created_at, name_key`, category)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var (
		records  []Record
		failures []ItemFailure
	)
	for rows.Next() {
		var (
			name   string
			vector []float64
		)
		if err := rows.Scan(&name, pq.Array(&vector)); err != nil {
			failures = append(failures, ItemFailure{Category: category, Item: name, Stage: StageDecode, Err: err})
			continue
		}
		if len(vector) == 0 {
			failures = append(failures, ItemFailure{Category: category, Item: name, Stage: StageDecode,
				Err: fmt.Errorf("empty vector")})
			continue
		}
		records = append(records, Record{Name: name, Vector: embeddings.Vector(vector)})
	}
	if err := rows.Err(); err != nil {
		return records, failures, err
	}
	return records, failures, nil
}

func (b *PostgresBackend) Append(ctx context.Context, category, name string, vec embeddings.Vector) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO item_embeddings(category, name_key, name, vector)
		VALUES($1,$2,$3,$4)
		ON CONFLICT (category, name_key) DO NOTHING`,
		category, NormalizeName(name), name, pq.Array([]float64(vec)))
	return err
}

func (b *PostgresBackend) Close() error {
	return b.db.Close()
}
