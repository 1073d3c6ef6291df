package models

import (
	"strings"
	"time"
)

// Source tags the transport a record originated from. Records with
// different sources are never merged.
type Source string

const (
	SourceFacebook Source = "facebook"
	SourceWhatsApp Source = "whatsapp"
	SourceTelegram Source = "telegram"
)

// RawListing holds an unprocessed DOM extract from the scraping transport.
// It is written to CSV before being fed through the pipeline.
type RawListing struct {
	Title       string
	RawPrice    string
	Location    string
	Seller      string
	URL         string
	ImageURL    string
	Description string
	ScrapedAt   time.Time
	Platform    string
}

// Body joins the extract into the free text the pipeline classifies.
func (r *RawListing) Body() string {
	parts := make([]string, 0, 4)
	for _, p := range []string{r.Title, r.RawPrice, r.Location, r.Description} {
		if p = strings.TrimSpace(p); p != "" && p != "N/A" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "\n")
}

// ContactInfo identifies the person behind a listing or request.
type ContactInfo struct {
	Name       string `json:"name"`
	Contact    string `json:"contact"`
	ProfileURL string `json:"profile_url,omitempty"`
}

// PriceCeiling is the largest price the store keeps; anything above it is a
// reference or phone number, not an amount.
const PriceCeiling = 1e13

// ListingRecord is a structured property offer ready for storage.
type ListingRecord struct {
	ID           int64
	DedupKey     string
	Source       Source
	Title        string
	Description  string
	Price        float64
	Location     string
	PropertyType string
	Bedrooms     *int
	Bathrooms    *int
	ListerInfo   ContactInfo
	Images       []string
	Amenities    []string
	PostedDate   time.Time
	Metadata     map[string]any
	CreatedAt    time.Time
}

// ListingFilter selects listings for a request.
type ListingFilter struct {
	MaxPrice     float64
	PropertyType string
	Locations    []string
}

// Matches reports whether l satisfies the filter: price within the ceiling,
// exact property type, and at least one location substring (case-insensitive).
func (f ListingFilter) Matches(l *ListingRecord) bool {
	if l.Price > f.MaxPrice {
		return false
	}
	if l.PropertyType != f.PropertyType {
		return false
	}
	loc := strings.ToLower(l.Location)
	for _, want := range f.Locations {
		want = strings.ToLower(strings.TrimSpace(want))
		if want != "" && strings.Contains(loc, want) {
			return true
		}
	}
	return false
}

// InventoryReport holds analytics computed over stored listings and requests.
type InventoryReport struct {
	TotalListings      int
	ListingsBySource   map[Source]int
	AveragePrice       float64
	MinPrice           float64
	MaxPrice           float64
	MostExpensive      *ListingRecord
	ListingsByLocation map[string]int
	ListingsByType     map[string]int
	ActiveRequests     int
}
