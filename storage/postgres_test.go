package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"propertybridge/models"
	"propertybridge/utils"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresStore(sqlx.NewDb(db, "sqlmock"), utils.NewNopLogger()), mock
}

func sampleListing() *models.ListingRecord {
	beds := 3
	return &models.ListingRecord{
		DedupKey:     "telegram:abc",
		Source:       models.SourceTelegram,
		Title:        "3 bed flat",
		Description:  "3 bed flat for rent in Yaba",
		Price:        1500000,
		Location:     "Yaba",
		PropertyType: "flat",
		Bedrooms:     &beds,
		ListerInfo:   models.ContactInfo{Name: "Tunde", Contact: "2348031234567"},
		PostedDate:   time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC),
		Metadata:     map[string]any{"analysis": "ok"},
	}
}

func TestSaveListingInserts(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Date(2026, 10, 1, 9, 1, 0, 0, time.UTC)

	mock.ExpectQuery("INSERT INTO listings").
		WithArgs("telegram:abc", "telegram", "3 bed flat", sqlmock.AnyArg(), 1500000.0, "Yaba", "flat",
			sqlmock.AnyArg(), sqlmock.AnyArg(), "Tunde", "2348031234567", "",
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), `{"analysis":"ok"}`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(7), created))

	l := sampleListing()
	saved, err := store.SaveListing(context.Background(), l)
	require.NoError(t, err)
	assert.True(t, saved)
	assert.Equal(t, int64(7), l.ID)
	assert.Equal(t, created, l.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveListingConflictIsDuplicate(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("ON CONFLICT \\(dedup_key\\) DO NOTHING").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}))

	saved, err := store.SaveListing(context.Background(), sampleListing())
	require.NoError(t, err)
	assert.False(t, saved)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveListingError(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("INSERT INTO listings").WillReturnError(errors.New("connection refused"))

	_, err := store.SaveListing(context.Background(), sampleListing())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: save listing")
}

var listingCols = []string{
	"id", "dedup_key", "source", "title", "description", "price", "location", "property_type",
	"bedrooms", "bathrooms", "lister_name", "lister_contact", "lister_profile_url", "images", "amenities",
	"posted_date", "metadata", "created_at",
}

func TestFindListings(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT (.+) FROM listings WHERE price <= \\$1").
		WithArgs(2000000.0, "flat", "{\"Yaba\",\"Lekki\"}", 5).
		WillReturnRows(sqlmock.NewRows(listingCols).
			AddRow(int64(1), "k1", "telegram", "Flat", "desc", 1500000.0, "Yaba", "flat",
				int64(3), nil, "Tunde", "0803", "", []byte("{}"), []byte("{parking,gym}"),
				now, []byte(`{"analysis":"ok"}`), now))

	got, err := store.FindListings(context.Background(), models.ListingFilter{
		MaxPrice: 2000000, PropertyType: "flat", Locations: []string{"Yaba", " ", "Lekki"},
	}, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.SourceTelegram, got[0].Source)
	require.NotNil(t, got[0].Bedrooms)
	assert.Equal(t, 3, *got[0].Bedrooms)
	assert.Nil(t, got[0].Bathrooms)
	assert.Equal(t, []string{"parking", "gym"}, got[0].Amenities)
	assert.Equal(t, "ok", got[0].Metadata["analysis"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindListingsWithoutLocationsSkipsQuery(t *testing.T) {
	store, mock := newMockStore(t)
	got, err := store.FindListings(context.Background(), models.ListingFilter{Locations: []string{""}}, 5)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRequestAndActive(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery("INSERT INTO requests").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(3), now))
	mock.ExpectQuery("FROM requests").
		WithArgs(models.StatusActive, 10).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "dedup_key", "source", "request_type", "property_type", "max_price", "min_bedrooms",
			"preferred_locations", "additional_requirements", "requester_name", "requester_contact",
			"requester_profile_url", "urgency", "request_date", "status", "metadata", "created_at",
		}).AddRow(int64(3), "k", "telegram", "rent", "flat", 600000.0, nil,
			[]byte("{Yaba,\"Surulere, Lagos\"}"), "parking", "Ada", "ada@example.com", "",
			"high", now, "active", []byte(`{}`), now))

	r := &models.RequestRecord{
		DedupKey:    "k",
		Source:      models.SourceTelegram,
		RequestType: models.RequestRent,
		Requirements: models.Requirements{
			PropertyType: "flat", MaxPrice: 600000, PreferredLocations: []string{"Yaba"},
		},
		Urgency:     models.UrgencyHigh,
		RequestDate: now,
		Status:      models.StatusActive,
	}
	saved, err := store.SaveRequest(context.Background(), r)
	require.NoError(t, err)
	assert.True(t, saved)
	assert.Equal(t, int64(3), r.ID)

	active, err := store.ActiveRequests(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, []string{"Yaba", "Surulere, Lagos"}, active[0].Requirements.PreferredLocations)
	assert.Nil(t, active[0].Requirements.MinBedrooms)
	assert.Equal(t, "ada@example.com", active[0].RequesterInfo.Contact)
	assert.NoError(t, mock.ExpectationsWereMet())
}
