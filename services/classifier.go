package services

import "strings"

// Kind is the coarse class of a message.
type Kind int

const (
	KindNone Kind = iota
	KindListing
	KindRequest
)

func (k Kind) String() string {
	switch k {
	case KindListing:
		return "listing"
	case KindRequest:
		return "request"
	default:
		return "none"
	}
}

var (
	listingKeywords = []string{"for rent", "for sale", "available", "property", "apartment", "house"}
	requestKeywords = []string{"looking for", "wanted", "need", "searching for", "request"}

	groupKeywords = []string{
		"property", "properties", "real estate", "realestate", "rent", "housing",
		"apartment", "homes", "lettings", "landlord", "agent",
	}
)

// Classify decides whether text is a listing, a request, or neither.
// Listing keywords are checked first, so text carrying both is a listing.
func Classify(text string) Kind {
	lower := strings.ToLower(text)
	if containsAny(lower, listingKeywords) {
		return KindListing
	}
	if containsAny(lower, requestKeywords) {
		return KindRequest
	}
	return KindNone
}

// IsPropertyGroup flags a group whose name or description looks real-estate related.
func IsPropertyGroup(name, description string) bool {
	return containsAny(strings.ToLower(name+" "+description), groupKeywords)
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
