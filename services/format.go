package services

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"propertybridge/models"
)

const apologyText = "Sorry, we could not process your message right now. Please try again later."

func formatPrice(p float64) string {
	if p <= 0 {
		return "price on request"
	}
	s := fmt.Sprintf("%.0f", p)
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return "₦" + b.String()
}

func formatCount(n *int) string {
	if n == nil {
		return "any"
	}
	return fmt.Sprintf("%d", *n)
}

// listingBroadcast renders a new listing for the fanout.
func listingBroadcast(l *models.ListingRecord, analysis string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🏠 New listing (%s)\n", l.Source)
	fmt.Fprintf(&b, "%s\n", l.Title)
	fmt.Fprintf(&b, "💰 %s\n", formatPrice(l.Price))
	fmt.Fprintf(&b, "📍 %s\n", l.Location)
	if l.PropertyType != "" {
		fmt.Fprintf(&b, "🏷 %s", l.PropertyType)
		if l.Bedrooms != nil {
			fmt.Fprintf(&b, ", %d bed", *l.Bedrooms)
		}
		b.WriteString("\n")
	}
	if analysis != "" {
		fmt.Fprintf(&b, "\n%s\n", analysis)
	}
	fmt.Fprintf(&b, "\n👤 %s %s", l.ListerInfo.Name, l.ListerInfo.Contact)
	return b.String()
}

// requestBroadcast renders a new request for the fanout.
func requestBroadcast(r *models.RequestRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🔎 New request (%s)\n", r.Source)
	b.WriteString(requestSummary(r))
	fmt.Fprintf(&b, "\n👤 %s %s", r.RequesterInfo.Name, r.RequesterInfo.Contact)
	return b.String()
}

func requestSummary(r *models.RequestRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Type: %s\n", r.RequestType)
	fmt.Fprintf(&b, "Property: %s\n", r.Requirements.PropertyType)
	fmt.Fprintf(&b, "Budget: up to %s\n", formatPrice(r.Requirements.MaxPrice))
	fmt.Fprintf(&b, "Bedrooms: %s\n", formatCount(r.Requirements.MinBedrooms))
	fmt.Fprintf(&b, "Locations: %s\n", strings.Join(r.Requirements.PreferredLocations, ", "))
	if r.Requirements.AdditionalRequirements != "" {
		fmt.Fprintf(&b, "Notes: %s\n", r.Requirements.AdditionalRequirements)
	}
	fmt.Fprintf(&b, "Urgency: %s\n", r.Urgency)
	return b.String()
}

func listingAck(l *models.ListingRecord) string {
	return fmt.Sprintf("✅ Listing received: %s, %s, %s", l.Title, formatPrice(l.Price), l.Location)
}

func requestAck(r *models.RequestRecord) string {
	return "✅ Request recorded. We will notify you when a match comes in.\n\n" + requestSummary(r)
}

// matchMessage renders matches for chat delivery.
func matchMessage(r *models.RequestRecord, matches []*models.ListingRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🎯 %d match(es) for %s's request\n", len(matches), r.RequesterInfo.Name)
	fmt.Fprintf(&b, "%s up to %s in %s\n", r.Requirements.PropertyType,
		formatPrice(r.Requirements.MaxPrice), strings.Join(r.Requirements.PreferredLocations, ", "))
	for i, l := range matches {
		fmt.Fprintf(&b, "\n%d. %s\n   %s · %s\n   📞 %s", i+1, l.Title, formatPrice(l.Price), l.Location, l.ListerInfo.Contact)
	}
	return b.String()
}

var matchEmailTemplate = template.Must(template.New("match").Funcs(template.FuncMap{
	"price": formatPrice,
	"join":  strings.Join,
}).Parse(`<!DOCTYPE html>
<html><body style="font-family:sans-serif">
<h2>We found {{len .Matches}} propert{{if eq (len .Matches) 1}}y{{else}}ies{{end}} for you</h2>
<p>Hi {{.Request.RequesterInfo.Name}}, these listings match your request for a
<b>{{.Request.Requirements.PropertyType}}</b> up to <b>{{price .Request.Requirements.MaxPrice}}</b>
in {{join .Request.Requirements.PreferredLocations ", "}}.</p>
<table cellpadding="6" style="border-collapse:collapse">
<tr><th align="left">Title</th><th align="left">Price</th><th align="left">Location</th><th align="left">Contact</th></tr>
{{range .Matches}}<tr><td>{{.Title}}</td><td>{{price .Price}}</td><td>{{.Location}}</td><td>{{.ListerInfo.Contact}}</td></tr>
{{end}}</table>
</body></html>`))

func matchEmail(r *models.RequestRecord, matches []*models.ListingRecord) (string, error) {
	var buf bytes.Buffer
	err := matchEmailTemplate.Execute(&buf, struct {
		Request *models.RequestRecord
		Matches []*models.ListingRecord
	}{r, matches})
	if err != nil {
		return "", fmt.Errorf("render match email: %w", err)
	}
	return buf.String(), nil
}
