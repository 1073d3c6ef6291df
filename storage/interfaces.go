package storage

import (
	"propertybridge/models"
	"propertybridge/services"
)

// RecordStore is the interface any record backend must satisfy.
type RecordStore interface {
	services.Store
	Close() error
}

// RawListingWriter is the interface for persisting unprocessed scraped data.
type RawListingWriter interface {
	WriteRaw(listings []*models.RawListing) error
	Close() error
}

var (
	_ RecordStore        = (*PostgresStore)(nil)
	_ RecordStore        = (*MemoryStore)(nil)
	_ services.SeenGuard = (*RedisGuard)(nil)
	_ services.SeenGuard = (*MemoryGuard)(nil)
	_ RawListingWriter   = (*CSVWriter)(nil)
)
