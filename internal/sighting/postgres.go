package sighting

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/onnwee/smartplant/internal/tracing"
)

// uniqueViolation is the PostgreSQL SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const sightingColumns = `id, owner_id, image_key, image_url, species, matched_species_id,
		       confidence, lat, lng, rarity, is_masked, created_at, updated_at`

// Create inserts a sighting. The primary key and UNIQUE(image_key) both map to ErrDuplicate.
func (r *PostgresRepository) Create(ctx context.Context, s *Sighting) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "sightings", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sightings (
			id, owner_id, image_key, image_url, species, matched_species_id,
			confidence, lat, lng, rarity, is_masked, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		s.ID, s.OwnerID, s.ImageKey, s.ImageURL, s.RawSpeciesLabel, s.MatchedSpeciesID,
		s.Confidence, s.Coordinate.Lat, s.Coordinate.Lng, string(s.Rarity), s.IsMasked,
		s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert sighting: %w", err)
	}
	return nil
}

// Get retrieves a sighting by id.
func (r *PostgresRepository) Get(ctx context.Context, id string) (s *Sighting, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "sightings", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	s, err = scanSighting(r.db.QueryRowContext(ctx, `
		SELECT `+sightingColumns+`
		FROM sightings
		WHERE id = $1
	`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sighting: %w", err)
	}
	return s, nil
}

// SetMasked updates the mask flag; an UPDATE matching no row is ErrNotFound.
func (r *PostgresRepository) SetMasked(ctx context.Context, id string, enabled bool, at time.Time) (s *Sighting, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "sightings", tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	s, err = scanSighting(r.db.QueryRowContext(ctx, `
		UPDATE sightings
		SET is_masked = $2, updated_at = $3
		WHERE id = $1
		RETURNING `+sightingColumns, id, enabled, at))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update sighting mask: %w", err)
	}
	return s, nil
}

// Scan returns every sighting.
func (r *PostgresRepository) Scan(ctx context.Context) (items []*Sighting, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "sightings", tracing.DBOperationScan)
	defer func() { endSpan(err) }()

	return r.queryAll(ctx, `SELECT `+sightingColumns+` FROM sightings`)
}

// ListByOwner returns every sighting owned by ownerID.
func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerID string) (items []*Sighting, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "sightings", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	return r.queryAll(ctx, `
		SELECT `+sightingColumns+`
		FROM sightings
		WHERE owner_id = $1
		ORDER BY created_at DESC, id DESC
	`, ownerID)
}

// ExistsByImageKey reports whether a sighting references key.
func (r *PostgresRepository) ExistsByImageKey(ctx context.Context, key string) (exists bool, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "sightings", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	err = r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM sightings WHERE image_key = $1)`, key).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check image key: %w", err)
	}
	return exists, nil
}

func (r *PostgresRepository) queryAll(ctx context.Context, query string, args ...any) ([]*Sighting, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sightings: %w", err)
	}
	defer rows.Close()

	var items []*Sighting
	for rows.Next() {
		s, err := scanSighting(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sighting: %w", err)
		}
		items = append(items, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sightings: %w", err)
	}
	return items, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSighting(row rowScanner) (*Sighting, error) {
	var (
		s       Sighting
		matched sql.NullString
		rarity  string
	)
	err := row.Scan(
		&s.ID,
		&s.OwnerID,
		&s.ImageKey,
		&s.ImageURL,
		&s.RawSpeciesLabel,
		&matched,
		&s.Confidence,
		&s.Coordinate.Lat,
		&s.Coordinate.Lng,
		&rarity,
		&s.IsMasked,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if matched.Valid {
		id := matched.String
		s.MatchedSpeciesID = &id
	}
	s.Rarity = Rarity(rarity)
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	return &s, nil
}
