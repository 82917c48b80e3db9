package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store wraps database access helpers.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store backed by a pgx pool.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool resources.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

var schemaSQL = []string{
	`CREATE SCHEMA IF NOT EXISTS gwin`,
	`CREATE TABLE IF NOT EXISTS gwin.readings (
    id           BIGSERIAL PRIMARY KEY,
    batch_id     TEXT NOT NULL,
    station_id   TEXT NOT NULL,
    device_name  TEXT NOT NULL DEFAULT '',
    dev_eui      TEXT NOT NULL DEFAULT '',
    tags         JSONB NOT NULL DEFAULT '{}'::jsonb,
    published_at TIMESTAMPTZ,
    object       JSONB NOT NULL,
    received_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE INDEX IF NOT EXISTS readings_received_idx ON gwin.readings (received_at DESC, id DESC)`,
}

// EnsureSchema creates the readings table when it does not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaSQL {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

const insertReadingSQL = `INSERT INTO gwin.readings (batch_id, station_id, device_name, dev_eui, tags, published_at, object, received_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

// SaveReadings inserts one accepted batch.
func (s *Store) SaveReadings(ctx context.Context, readings []Reading) error {
	if len(readings) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range readings {
		batch.Queue(insertReadingSQL, r.BatchID, r.StationID, r.DeviceName, r.DevEUI, r.Tags, r.PublishedAt, []byte(r.Object), r.ReceivedAt)
	}

	res := s.pool.SendBatch(ctx, batch)
	defer res.Close()

	for range readings {
		if _, err := res.Exec(); err != nil {
			return err
		}
	}

	return nil
}

const latestReadingsSQL = `
    SELECT batch_id, station_id, device_name, dev_eui, tags, published_at, object, received_at
    FROM gwin.readings
    ORDER BY received_at DESC, id DESC
    LIMIT $1
`

// LatestReadings returns the most recently received readings, newest first.
func (s *Store) LatestReadings(ctx context.Context, limit int) ([]Reading, error) {
	rows, err := s.pool.Query(ctx, latestReadingsSQL, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	readings := make([]Reading, 0)
	for rows.Next() {
		var (
			r         Reading
			object    []byte
			published *time.Time
		)
		if err := rows.Scan(
			&r.BatchID,
			&r.StationID,
			&r.DeviceName,
			&r.DevEUI,
			&r.Tags,
			&published,
			&object,
			&r.ReceivedAt,
		); err != nil {
			return nil, err
		}
		r.PublishedAt = published
		r.Object = object
		readings = append(readings, r)
	}
	return readings, rows.Err()
}
