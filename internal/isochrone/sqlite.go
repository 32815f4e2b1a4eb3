package isochrone

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps isochrones in a local SQLite file as EWKB blobs.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database at dsn and creates the table.
func NewSQLiteStore(ctx context.Context, dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "isochrone: sqlite open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "isochrone: sqlite exec %s", pragma)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "isochrone: sqlite migrate")
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS school_isochrones (
	school_id     INTEGER NOT NULL,
	range_seconds INTEGER NOT NULL,
	profile       TEXT NOT NULL DEFAULT 'foot-walking',
	geom          BLOB NOT NULL,
	fetched_at    INTEGER NOT NULL,
	PRIMARY KEY (school_id, range_seconds)
);
`

// Close releases the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Upsert implements Store.
func (s *SQLiteStore) Upsert(ctx context.Context, iso Isochrone) error {
	raw, err := encodeEWKB(iso.Geom)
	if err != nil {
		return err
	}
	fetched := iso.FetchedAt
	if fetched.IsZero() {
		fetched = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO school_isochrones (school_id, range_seconds, profile, geom, fetched_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (school_id, range_seconds) DO UPDATE SET
			profile = excluded.profile,
			geom = excluded.geom,
			fetched_at = excluded.fetched_at`,
		iso.AnchorID, iso.RangeSeconds, profileOrDefault(iso.Profile), raw, fetched.Unix(),
	)
	if err != nil {
		return eris.Wrapf(err, "isochrone: sqlite upsert school %d", iso.AnchorID)
	}
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, anchorID int64, rangeSeconds int) (*Isochrone, error) {
	var (
		profile string
		raw     []byte
		fetched int64
	)
	row := s.db.QueryRowContext(ctx,
		`SELECT profile, geom, fetched_at FROM school_isochrones WHERE school_id = ? AND range_seconds = ?`,
		anchorID, rangeSeconds,
	)
	err := row.Scan(&profile, &raw, &fetched)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "isochrone: sqlite get school %d", anchorID)
	}

	mp, err := decodeEWKB(raw)
	if err != nil {
		return nil, err
	}
	return &Isochrone{
		AnchorID:     anchorID,
		RangeSeconds: rangeSeconds,
		Profile:      profile,
		Geom:         mp,
		FetchedAt:    time.Unix(fetched, 0).UTC(),
	}, nil
}

// Count returns the number of stored isochrones.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM school_isochrones`).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "isochrone: sqlite count")
	}
	return n, nil
}
