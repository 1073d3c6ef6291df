package services

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"propertybridge/models"
	"propertybridge/utils"
)

// UnknownLocation is returned when no locative phrase is found.
const UnknownLocation = "Unknown Location"

const number = `(\d(?:[\d,]*\d)?(?:\.\d+)?)`

var (
	// pricePatterns are tried in order; earlier patterns carry an explicit price marker.
	pricePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:price|cost|rent)\b\s*(?:is|of|:|-|=)?\s*(?:₦|ngn|n|\$|usd)\s*` + number),
		regexp.MustCompile(`(?i)(?:₦|\bngn|\bn|\$|\busd)\s?` + number),
		regexp.MustCompile(`(?i)` + number + `\s*(?:naira|ngn|dollars?|usd)\b`),
		regexp.MustCompile(number),
	}

	locationRegexp = regexp.MustCompile(`(?i)\b(?:located(?:\s+(?:in|at))?|in|at|near|around)\s+([^,.\n]+)`)

	bedroomsRegexp  = regexp.MustCompile(`(?i)\b(\d{1,2})\s*(?:-\s*)?(?:bed(?:room)?s?|br|bdr)\b`)
	bathroomsRegexp = regexp.MustCompile(`(?i)\b(\d{1,2})\s*(?:-\s*)?(?:bath(?:room)?s?|toilets?)\b`)

	// propertyTypes maps a phrase to its canonical type; more specific phrases come first.
	propertyTypes = []struct{ phrase, kind string }{
		{"self contain", "self-contain"},
		{"self-contain", "self-contain"},
		{"mini flat", "flat"},
		{"semi-detached", "duplex"},
		{"terrace", "terrace"},
		{"duplex", "duplex"},
		{"bungalow", "bungalow"},
		{"penthouse", "apartment"},
		{"apartment", "apartment"},
		{"flat", "flat"},
		{"studio", "apartment"},
		{"land", "land"},
		{"plot", "land"},
		{"shop", "shop"},
		{"office", "office"},
		{"room", "room"},
		{"house", "house"},
	}

	amenityVocabulary = []string{
		"parking", "swimming pool", "pool", "gym", "generator", "security", "borehole",
		"furnished", "serviced", "air conditioning", "elevator", "balcony", "garden", "wifi",
	}
)

// Extractor pulls structured attributes out of free text with regular
// expressions. It never fails: misses map to documented defaults.
type Extractor struct {
	logger *utils.Logger
}

// NewExtractor creates an Extractor with the given logger.
func NewExtractor(logger *utils.Logger) *Extractor {
	return &Extractor{logger: logger}
}

// ExtractPrice returns the first positive price found, or 0. Values above
// models.PriceCeiling are skipped.
func (e *Extractor) ExtractPrice(text string) float64 {
	price, _ := e.FindPrice(text)
	return price
}

// FindPrice is ExtractPrice that also returns the matched substring for audit.
func (e *Extractor) FindPrice(text string) (price float64, raw string) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("[extractor] %v", stepError(ErrExtraction, "extract price", fmt.Errorf("panic: %v", r)))
			price, raw = 0, ""
		}
	}()

	for _, re := range pricePatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			val, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
			if err == nil && val > 0 && val <= models.PriceCeiling {
				return val, strings.TrimSpace(m[0])
			}
		}
	}

	e.logger.Debug("[extractor] no price found in %q", preview(text, 80))
	return 0, ""
}

// ExtractLocation returns the phrase after the first locative preposition,
// up to the next comma or period, or UnknownLocation.
func (e *Extractor) ExtractLocation(text string) string {
	m := locationRegexp.FindStringSubmatch(text)
	if len(m) < 2 {
		return UnknownLocation
	}
	loc := normaliseText(m[1])
	if loc == "" {
		return UnknownLocation
	}
	return truncateRunes(loc, 100)
}

// ExtractPropertyType returns a canonical property type, or "" when none is named.
func (e *Extractor) ExtractPropertyType(text string) string {
	lower := strings.ToLower(text)
	for _, pt := range propertyTypes {
		if containsWord(lower, pt.phrase) {
			return pt.kind
		}
	}
	return ""
}

// ExtractBedrooms returns the bedroom count, or nil.
func (e *Extractor) ExtractBedrooms(text string) *int {
	return firstCount(bedroomsRegexp, text)
}

// ExtractBathrooms returns the bathroom count, or nil.
func (e *Extractor) ExtractBathrooms(text string) *int {
	return firstCount(bathroomsRegexp, text)
}

// ExtractAmenities returns the known amenities mentioned in text.
func (e *Extractor) ExtractAmenities(text string) []string {
	lower := strings.ToLower(text)
	var out []string
	for _, a := range amenityVocabulary {
		if a == "pool" && containsString(out, "swimming pool") {
			continue
		}
		if containsWord(lower, a) {
			out = append(out, a)
		}
	}
	return out
}

// ExtractTitle returns the first non-empty line, capped at 120 characters.
func (e *Extractor) ExtractTitle(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if line = normaliseText(line); line != "" {
			return truncateRunes(line, 120)
		}
	}
	return "Untitled listing"
}

func firstCount(re *regexp.Regexp, text string) *int {
	m := re.FindStringSubmatch(text)
	if len(m) < 2 {
		return nil
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return nil
	}
	return &n
}

// containsWord reports whether phrase occurs in s bounded by non-letters.
func containsWord(s, phrase string) bool {
	for start := 0; ; {
		idx := strings.Index(s[start:], phrase)
		if idx < 0 {
			return false
		}
		idx += start
		end := idx + len(phrase)
		before := idx == 0 || !unicode.IsLetter(rune(s[idx-1]))
		after := end >= len(s) || !unicode.IsLetter(rune(s[end]))
		if before && after {
			return true
		}
		start = idx + 1
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// normaliseText strips leading/trailing whitespace and collapses internal whitespace.
func normaliseText(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}
