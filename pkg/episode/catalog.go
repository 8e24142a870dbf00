package episode

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS episodes (
	id            TEXT PRIMARY KEY,
	path          TEXT NOT NULL,
	format        TEXT NOT NULL,
	seed          INTEGER,
	steps         INTEGER NOT NULL,
	total_reward  REAL NOT NULL,
	profit        REAL NOT NULL,
	digest        TEXT NOT NULL,
	created_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS episodes_created_at ON episodes(created_at);
`

// timeLayout sorts lexically in time order for UTC values.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Catalog indexes saved episodes in SQLite.
type Catalog struct {
	db *sql.DB
}

// OpenCatalog opens or creates the catalog database at path.
func OpenCatalog(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Catalog{db: db}, nil
}

func (c *Catalog) Close() error {
	return c.db.Close()
}

// Record inserts rec, or replaces the entry with the same ID. A record
// without an ID gets a fresh one.
func (c *Catalog) Record(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	var seed sql.NullInt64
	if rec.Seed != nil {
		seed = sql.NullInt64{Int64: *rec.Seed, Valid: true}
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO episodes (id, path, format, seed, steps, total_reward, profit, digest, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Path, string(rec.Format), seed, rec.Steps, rec.TotalReward, rec.Profit, rec.Digest,
		rec.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return Record{}, fmt.Errorf("record episode %s: %w", rec.ID, err)
	}
	return rec, nil
}

// List returns every catalogued episode, newest first.
func (c *Catalog) List(ctx context.Context) ([]Record, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, path, format, seed, steps, total_reward, profit, digest, created_at
		 FROM episodes ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list episodes: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Get returns the catalogued episode with the given ID.
func (c *Catalog) Get(ctx context.Context, id string) (Record, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT id, path, format, seed, steps, total_reward, profit, digest, created_at
		 FROM episodes WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (Record, error) {
	var (
		rec       Record
		format    string
		seed      sql.NullInt64
		createdAt string
	)
	if err := s.Scan(&rec.ID, &rec.Path, &format, &seed, &rec.Steps, &rec.TotalReward, &rec.Profit, &rec.Digest, &createdAt); err != nil {
		return Record{}, fmt.Errorf("scan episode: %w", err)
	}
	rec.Format = Format(format)
	if seed.Valid {
		s := seed.Int64
		rec.Seed = &s
	}
	t, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return Record{}, fmt.Errorf("parse created_at %q: %w", createdAt, err)
	}
	rec.CreatedAt = t
	return rec, nil
}
