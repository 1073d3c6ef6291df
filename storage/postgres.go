package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"propertybridge/models"
	"propertybridge/utils"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore persists listings and requests to PostgreSQL.
// Saves are keyed on dedup_key, so replaying a message is a no-op.
type PostgresStore struct {
	db     *sqlx.DB
	logger *utils.Logger
}

// OpenPostgres connects with retries, applies migrations and returns a
// ready-to-use store.
func OpenPostgres(ctx context.Context, dsn string, retry *utils.RetryConfig, logger *utils.Logger) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	if err := retry.Do(ctx, "postgres ping", func() error { return db.PingContext(ctx) }); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	if err := runMigrations(db.DB); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	logger.Info("[postgres] connected and migrated")

	return NewPostgresStore(db, logger), nil
}

// NewPostgresStore wraps an existing connection.
func NewPostgresStore(db *sqlx.DB, logger *utils.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create postgres driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

type listingRow struct {
	ID               int64          `db:"id"`
	DedupKey         string         `db:"dedup_key"`
	Source           string         `db:"source"`
	Title            string         `db:"title"`
	Description      string         `db:"description"`
	Price            float64        `db:"price"`
	Location         string         `db:"location"`
	PropertyType     string         `db:"property_type"`
	Bedrooms         sql.NullInt64  `db:"bedrooms"`
	Bathrooms        sql.NullInt64  `db:"bathrooms"`
	ListerName       string         `db:"lister_name"`
	ListerContact    string         `db:"lister_contact"`
	ListerProfileURL string         `db:"lister_profile_url"`
	Images           pq.StringArray `db:"images"`
	Amenities        pq.StringArray `db:"amenities"`
	PostedDate       time.Time      `db:"posted_date"`
	Metadata         []byte         `db:"metadata"`
	CreatedAt        time.Time      `db:"created_at"`
}

const listingColumns = `id, dedup_key, source, title, description, price, location, property_type,
	bedrooms, bathrooms, lister_name, lister_contact, lister_profile_url, images, amenities,
	posted_date, metadata, created_at`

func (r *listingRow) record() (*models.ListingRecord, error) {
	meta, err := decodeMetadata(r.Metadata)
	if err != nil {
		return nil, fmt.Errorf("listing %d: %w", r.ID, err)
	}
	return &models.ListingRecord{
		ID:           r.ID,
		DedupKey:     r.DedupKey,
		Source:       models.Source(r.Source),
		Title:        r.Title,
		Description:  r.Description,
		Price:        r.Price,
		Location:     r.Location,
		PropertyType: r.PropertyType,
		Bedrooms:     nullInt(r.Bedrooms),
		Bathrooms:    nullInt(r.Bathrooms),
		ListerInfo: models.ContactInfo{
			Name:       r.ListerName,
			Contact:    r.ListerContact,
			ProfileURL: r.ListerProfileURL,
		},
		Images:     []string(r.Images),
		Amenities:  []string(r.Amenities),
		PostedDate: r.PostedDate,
		Metadata:   meta,
		CreatedAt:  r.CreatedAt,
	}, nil
}

// SaveListing inserts l and sets its ID. It returns false when a listing
// with the same dedup key already exists.
func (s *PostgresStore) SaveListing(ctx context.Context, l *models.ListingRecord) (bool, error) {
	meta, err := encodeMetadata(l.Metadata)
	if err != nil {
		return false, fmt.Errorf("postgres: save listing: %w", err)
	}

	err = s.db.QueryRowxContext(ctx, `
		INSERT INTO listings (dedup_key, source, title, description, price, location, property_type,
			bedrooms, bathrooms, lister_name, lister_contact, lister_profile_url, images, amenities,
			posted_date, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (dedup_key) DO NOTHING
		RETURNING id, created_at`,
		l.DedupKey, string(l.Source), l.Title, l.Description, l.Price, l.Location, l.PropertyType,
		intArg(l.Bedrooms), intArg(l.Bathrooms), l.ListerInfo.Name, l.ListerInfo.Contact, l.ListerInfo.ProfileURL,
		pq.StringArray(nonNil(l.Images)), pq.StringArray(nonNil(l.Amenities)), l.PostedDate, meta,
	).Scan(&l.ID, &l.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		s.logger.Debug("[postgres] listing %s already stored", l.DedupKey)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("postgres: save listing: %w", err)
	}
	return true, nil
}

// FindListings returns listings priced at or below the ceiling, of the exact
// property type, whose location contains any of the wanted locations
// case-insensitively. Results follow insertion order.
func (s *PostgresStore) FindListings(ctx context.Context, f models.ListingFilter, limit int) ([]*models.ListingRecord, error) {
	locations := make([]string, 0, len(f.Locations))
	for _, loc := range f.Locations {
		if loc = strings.TrimSpace(loc); loc != "" {
			locations = append(locations, loc)
		}
	}
	if len(locations) == 0 {
		return nil, nil
	}

	var rows []listingRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+listingColumns+`
		FROM listings
		WHERE price <= $1
		  AND property_type = $2
		  AND EXISTS (
			SELECT 1 FROM unnest($3::text[]) AS want
			WHERE position(lower(want) IN lower(location)) > 0
		  )
		ORDER BY id
		LIMIT $4`,
		f.MaxPrice, f.PropertyType, pq.StringArray(locations), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: find listings: %w", err)
	}
	return listingRecords(rows)
}

// AllListings returns every stored listing.
func (s *PostgresStore) AllListings(ctx context.Context) ([]*models.ListingRecord, error) {
	var rows []listingRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+listingColumns+` FROM listings ORDER BY id`); err != nil {
		return nil, fmt.Errorf("postgres: fetch all: %w", err)
	}
	return listingRecords(rows)
}

func listingRecords(rows []listingRow) ([]*models.ListingRecord, error) {
	out := make([]*models.ListingRecord, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].record()
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

type requestRow struct {
	ID                     int64          `db:"id"`
	DedupKey               string         `db:"dedup_key"`
	Source                 string         `db:"source"`
	RequestType            string         `db:"request_type"`
	PropertyType           string         `db:"property_type"`
	MaxPrice               float64        `db:"max_price"`
	MinBedrooms            sql.NullInt64  `db:"min_bedrooms"`
	PreferredLocations     pq.StringArray `db:"preferred_locations"`
	AdditionalRequirements string         `db:"additional_requirements"`
	RequesterName          string         `db:"requester_name"`
	RequesterContact       string         `db:"requester_contact"`
	RequesterProfileURL    string         `db:"requester_profile_url"`
	Urgency                string         `db:"urgency"`
	RequestDate            time.Time      `db:"request_date"`
	Status                 string         `db:"status"`
	Metadata               []byte         `db:"metadata"`
	CreatedAt              time.Time      `db:"created_at"`
}

const requestColumns = `id, dedup_key, source, request_type, property_type, max_price, min_bedrooms,
	preferred_locations, additional_requirements, requester_name, requester_contact,
	requester_profile_url, urgency, request_date, status, metadata, created_at`

func (r *requestRow) record() (*models.RequestRecord, error) {
	meta, err := decodeMetadata(r.Metadata)
	if err != nil {
		return nil, fmt.Errorf("request %d: %w", r.ID, err)
	}
	return &models.RequestRecord{
		ID:          r.ID,
		DedupKey:    r.DedupKey,
		Source:      models.Source(r.Source),
		RequestType: r.RequestType,
		Requirements: models.Requirements{
			PropertyType:           r.PropertyType,
			MaxPrice:               r.MaxPrice,
			MinBedrooms:            nullInt(r.MinBedrooms),
			PreferredLocations:     []string(r.PreferredLocations),
			AdditionalRequirements: r.AdditionalRequirements,
		},
		RequesterInfo: models.ContactInfo{
			Name:       r.RequesterName,
			Contact:    r.RequesterContact,
			ProfileURL: r.RequesterProfileURL,
		},
		Urgency:     r.Urgency,
		RequestDate: r.RequestDate,
		Status:      r.Status,
		Metadata:    meta,
		CreatedAt:   r.CreatedAt,
	}, nil
}

// SaveRequest inserts r and sets its ID. It returns false when a request
// with the same dedup key already exists.
func (s *PostgresStore) SaveRequest(ctx context.Context, r *models.RequestRecord) (bool, error) {
	meta, err := encodeMetadata(r.Metadata)
	if err != nil {
		return false, fmt.Errorf("postgres: save request: %w", err)
	}

	req := r.Requirements
	err = s.db.QueryRowxContext(ctx, `
		INSERT INTO requests (dedup_key, source, request_type, property_type, max_price, min_bedrooms,
			preferred_locations, additional_requirements, requester_name, requester_contact,
			requester_profile_url, urgency, request_date, status, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (dedup_key) DO NOTHING
		RETURNING id, created_at`,
		r.DedupKey, string(r.Source), r.RequestType, req.PropertyType, req.MaxPrice, intArg(req.MinBedrooms),
		pq.StringArray(nonNil(req.PreferredLocations)), req.AdditionalRequirements,
		r.RequesterInfo.Name, r.RequesterInfo.Contact, r.RequesterInfo.ProfileURL,
		r.Urgency, r.RequestDate, r.Status, meta,
	).Scan(&r.ID, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		s.logger.Debug("[postgres] request %s already stored", r.DedupKey)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("postgres: save request: %w", err)
	}
	return true, nil
}

// ActiveRequests returns up to limit active requests, newest first.
func (s *PostgresStore) ActiveRequests(ctx context.Context, limit int) ([]*models.RequestRecord, error) {
	var rows []requestRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+requestColumns+`
		FROM requests
		WHERE status = $1
		ORDER BY request_date DESC
		LIMIT $2`, models.StatusActive, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: active requests: %w", err)
	}
	out := make([]*models.RequestRecord, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].record()
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func encodeMetadata(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(b), nil
}

func decodeMetadata(b []byte) (map[string]any, error) {
	meta := map[string]any{}
	if len(b) == 0 {
		return meta, nil
	}
	if err := json.Unmarshal(b, &meta); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return meta, nil
}

func intArg(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

func nullInt(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
