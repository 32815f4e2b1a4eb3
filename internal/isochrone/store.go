package isochrone

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/warpaintvision/shopsite/internal/db"
)

// PostgresStore keeps isochrones in siting.school_isochrones.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgresStore creates a store on pool. The table is created by the
// geospatial migrations.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const upsertSQL = `INSERT INTO siting.school_isochrones (school_id, range_seconds, profile, geom, fetched_at)
VALUES ($1, $2, $3, ST_Multi(ST_GeomFromEWKB($4)), $5)
ON CONFLICT (school_id, range_seconds) DO UPDATE SET
	profile = EXCLUDED.profile,
	geom = EXCLUDED.geom,
	fetched_at = EXCLUDED.fetched_at`

// Upsert implements Store.
func (s *PostgresStore) Upsert(ctx context.Context, iso Isochrone) error {
	raw, err := encodeEWKB(iso.Geom)
	if err != nil {
		return err
	}
	fetched := iso.FetchedAt
	if fetched.IsZero() {
		fetched = time.Now().UTC()
	}
	_, err = s.pool.Exec(ctx, upsertSQL, iso.AnchorID, iso.RangeSeconds, profileOrDefault(iso.Profile), raw, fetched)
	if err != nil {
		return eris.Wrapf(err, "isochrone: upsert school %d", iso.AnchorID)
	}
	return nil
}

const getSQL = `SELECT profile, ST_AsEWKB(geom), fetched_at
FROM siting.school_isochrones
WHERE school_id = $1 AND range_seconds = $2`

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, anchorID int64, rangeSeconds int) (*Isochrone, error) {
	var (
		profile string
		raw     []byte
		fetched time.Time
	)
	err := s.pool.QueryRow(ctx, getSQL, anchorID, rangeSeconds).Scan(&profile, &raw, &fetched)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "isochrone: get school %d", anchorID)
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
		FetchedAt:    fetched,
	}, nil
}

func profileOrDefault(p string) string {
	if p == "" {
		return DefaultProfile
	}
	return p
}
