package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStore keeps every collection in its own table with a jsonb body.
type PgStore struct {
	pool *pgxpool.Pool

	mu      sync.Mutex
	ensured map[string]bool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{
		pool:    pool,
		ensured: make(map[string]bool),
	}
}

func (s *PgStore) table(ctx context.Context, collection string) (string, error) {
	name := pgx.Identifier{collection}.Sanitize()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ensured[collection] {
		return name, nil
	}

	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id         text PRIMARY KEY,
			body       jsonb NOT NULL,
			version    bigint NOT NULL,
			updated_at timestamptz NOT NULL DEFAULT now()
		)
	`, name))
	if err != nil {
		return "", unavailable("ensure table "+collection, err)
	}
	s.ensured[collection] = true
	return name, nil
}

func (s *PgStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	table, err := s.table(ctx, collection)
	if err != nil {
		return nil, err
	}

	doc := Document{ID: id}
	var body []byte
	err = s.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT body, version
		FROM %s
		WHERE id = $1
	`, table), id).Scan(&body, &doc.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, unavailable("get "+collection, err)
	}
	doc.Body = body
	return &doc, nil
}

func (s *PgStore) Query(ctx context.Context, collection string, match Predicate) ([]Document, error) {
	table, err := s.table(ctx, collection)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, body, version
		FROM %s
		ORDER BY id
	`, table))
	if err != nil {
		return nil, unavailable("query "+collection, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		var body []byte
		if err := rows.Scan(&d.ID, &body, &d.Version); err != nil {
			return nil, unavailable("scan "+collection, err)
		}
		d.Body = body
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("query "+collection, err)
	}

	return filter(docs, match), nil
}

func (s *PgStore) Upsert(ctx context.Context, collection string, doc Document) (*Document, error) {
	table, err := s.table(ctx, collection)
	if err != nil {
		return nil, err
	}

	var row pgx.Row
	if doc.Version == 0 {
		row = s.pool.QueryRow(ctx, fmt.Sprintf(`
			INSERT INTO %s (id, body, version, updated_at)
			VALUES ($1, $2::jsonb, 1, now())
			ON CONFLICT (id) DO NOTHING
			RETURNING version
		`, table), doc.ID, string(doc.Body))
	} else {
		row = s.pool.QueryRow(ctx, fmt.Sprintf(`
			UPDATE %s
			SET body = $2::jsonb,
			    version = version + 1,
			    updated_at = now()
			WHERE id = $1
			  AND version = $3
			RETURNING version
		`, table), doc.ID, string(doc.Body), doc.Version)
	}

	var version int64
	if err := row.Scan(&version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConflict
		}
		return nil, unavailable("upsert "+collection, err)
	}

	return &Document{ID: doc.ID, Body: doc.Body, Version: version}, nil
}

func (s *PgStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PgStore) Close() error {
	s.pool.Close()
	return nil
}
