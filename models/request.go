package models

import (
	"encoding/json"
	"strings"
	"time"
)

const (
	RequestRent = "rent"
	RequestBuy  = "buy"

	StatusActive    = "active"
	StatusFulfilled = "fulfilled"
	StatusExpired   = "expired"

	UrgencyHigh   = "high"
	UrgencyMedium = "medium"
	UrgencyLow    = "low"
)

// Requirements describes what a requester is looking for.
type Requirements struct {
	PropertyType           string   `json:"property_type"`
	MaxPrice               float64  `json:"max_price"`
	MinBedrooms            *int     `json:"min_bedrooms,omitempty"`
	PreferredLocations     []string `json:"preferred_locations"`
	AdditionalRequirements string   `json:"additional_requirements,omitempty"`
}

// RequestRecord is a structured property request ready for storage.
type RequestRecord struct {
	ID            int64
	DedupKey      string
	Source        Source
	RequestType   string
	Requirements  Requirements
	RequesterInfo ContactInfo
	Urgency       string
	RequestDate   time.Time
	Status        string
	Metadata      map[string]any
	CreatedAt     time.Time
}

// Filter turns the requirements into a listing query.
func (r *RequestRecord) Filter() ListingFilter {
	return ListingFilter{
		MaxPrice:     r.Requirements.MaxPrice,
		PropertyType: r.Requirements.PropertyType,
		Locations:    r.Requirements.PreferredLocations,
	}
}

// TextList decodes either a JSON string or an array of strings.
type TextList []string

func (t *TextList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		if strings.TrimSpace(one) == "" {
			*t = nil
		} else {
			*t = TextList{one}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*t = many
	return nil
}

// RequestAttributes is the structured output of request analysis.
type RequestAttributes struct {
	Type                   string   `json:"type"`
	PropertyType           string   `json:"propertyType"`
	MaxPrice               float64  `json:"maxPrice"`
	MinBedrooms            *int     `json:"minBedrooms,omitempty"`
	PreferredLocations     []string `json:"preferredLocations"`
	AdditionalRequirements TextList `json:"additionalRequirements"`
	Urgency                string   `json:"urgency"`
}

// DefaultRequestAttributes is substituted whenever analysis cannot produce
// valid structured output.
func DefaultRequestAttributes() *RequestAttributes {
	return &RequestAttributes{
		Type:               RequestBuy,
		PropertyType:       "unknown",
		MaxPrice:           0,
		PreferredLocations: []string{"unknown"},
		Urgency:            UrgencyMedium,
	}
}
