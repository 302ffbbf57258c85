package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// LibSQLStore is a persistent brute-force VectorStore over the
// knowledge_points table. Vectors are stored as JSON blobs.
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore wraps a migrated database handle.
func NewLibSQLStore(db *sql.DB) *LibSQLStore {
	return &LibSQLStore{db: db}
}

func (s *LibSQLStore) ListCollections(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM knowledge_collections ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan collection: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *LibSQLStore) CreateCollection(ctx context.Context, name string, dimension int, distance Distance) error {
	if !supportedDistance(distance) {
		return fmt.Errorf("%w: %s", ErrUnsupportedDistance, distance)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO knowledge_collections (name, dimension, distance) VALUES (?, ?, ?)`,
		name, dimension, string(distance))
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", name, err)
	}
	return nil
}

func (s *LibSQLStore) Upsert(ctx context.Context, collection string, points []Point) error {
	dimension, _, err := s.collection(ctx, collection)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, p := range points {
		if len(p.Vector) != dimension {
			return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, dimension, len(p.Vector))
		}
		vectorBlob, err := json.Marshal(p.Vector)
		if err != nil {
			return fmt.Errorf("failed to encode vector: %w", err)
		}
		payload, err := json.Marshal(p.Payload)
		if err != nil {
			return fmt.Errorf("failed to encode payload: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO knowledge_points (collection, id, embedding, payload)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (collection, id) DO UPDATE SET
				embedding = excluded.embedding,
				payload = excluded.payload,
				updated_at = CURRENT_TIMESTAMP`,
			collection, int64(p.ID), vectorBlob, string(payload)); err != nil {
			return fmt.Errorf("failed to upsert point %d: %w", p.ID, err)
		}
	}

	return tx.Commit()
}

func (s *LibSQLStore) Search(ctx context.Context, collection string, vector []float32, topK int) ([]ScoredPoint, error) {
	dimension, distance, err := s.collection(ctx, collection)
	if err != nil {
		return nil, err
	}
	if len(vector) != dimension {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, dimension, len(vector))
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, embedding, payload FROM knowledge_points WHERE collection = ? ORDER BY id`, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch vectors: %w", err)
	}
	defer rows.Close()

	var points []Point
	for rows.Next() {
		var (
			id      int64
			blob    []byte
			payload string
		)
		if err := rows.Scan(&id, &blob, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		p := Point{ID: uint64(id)}
		if err := json.Unmarshal(blob, &p.Vector); err != nil {
			continue // skip undecodable vectors
		}
		if err := json.Unmarshal([]byte(payload), &p.Payload); err != nil {
			continue
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return rank(distance, vector, points, topK), nil
}

func (s *LibSQLStore) Close() error { return s.db.Close() }

func (s *LibSQLStore) collection(ctx context.Context, name string) (int, Distance, error) {
	var (
		dimension int
		distance  string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT dimension, distance FROM knowledge_collections WHERE name = ?`, name).Scan(&dimension, &distance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	if err != nil {
		return 0, "", fmt.Errorf("failed to load collection %s: %w", name, err)
	}
	return dimension, Distance(distance), nil
}

var _ VectorStore = (*LibSQLStore)(nil)
