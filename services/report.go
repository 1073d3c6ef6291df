package services

import (
	"context"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"

	"propertybridge/models"
	"propertybridge/utils"
)

const reportActiveLimit = 1000

type ReportService struct {
	store  Store
	logger *utils.Logger
}

func NewReportService(store Store, logger *utils.Logger) *ReportService {
	return &ReportService{store: store, logger: logger}
}

// Build loads listings and active requests and summarises them.
func (s *ReportService) Build(ctx context.Context) (*models.InventoryReport, error) {
	listings, err := s.store.AllListings(ctx)
	if err != nil {
		return nil, fmt.Errorf("report: listings: %w", err)
	}
	active, err := s.store.ActiveRequests(ctx, reportActiveLimit)
	if err != nil {
		return nil, fmt.Errorf("report: active requests: %w", err)
	}
	r := Summarise(listings)
	r.ActiveRequests = len(active)
	s.logger.Info("[report] %d listing(s), %d active request(s)", r.TotalListings, r.ActiveRequests)
	return r, nil
}

// Summarise computes inventory statistics. Listings without a price are
// counted but left out of the price figures.
func Summarise(listings []*models.ListingRecord) *models.InventoryReport {
	report := &models.InventoryReport{
		ListingsBySource:   make(map[models.Source]int),
		ListingsByLocation: make(map[string]int),
		ListingsByType:     make(map[string]int),
	}
	report.TotalListings = len(listings)

	var priced int
	var total float64
	for _, l := range listings {
		report.ListingsBySource[l.Source]++
		if l.Location != "" && l.Location != UnknownLocation {
			report.ListingsByLocation[l.Location]++
		}
		if l.PropertyType != "" {
			report.ListingsByType[l.PropertyType]++
		}
		if l.Price <= 0 {
			continue
		}
		if priced == 0 || l.Price < report.MinPrice {
			report.MinPrice = l.Price
		}
		if priced == 0 || l.Price > report.MaxPrice {
			report.MaxPrice = l.Price
			report.MostExpensive = l
		}
		total += l.Price
		priced++
	}
	if priced > 0 {
		report.AveragePrice = round2(total / float64(priced))
	}
	return report
}

// PrintReport renders r as tables on w.
func PrintReport(w io.Writer, r *models.InventoryReport) {
	overview := table.NewWriter()
	overview.SetOutputMirror(w)
	overview.SetStyle(table.StyleRounded)
	overview.SetTitle("Property inventory")
	overview.AppendRows([]table.Row{
		{"Total listings", r.TotalListings},
		{"Active requests", r.ActiveRequests},
	})
	for _, src := range sortedKeys(r.ListingsBySource) {
		overview.AppendRow(table.Row{"Listings from " + string(src), r.ListingsBySource[src]})
	}
	if r.AveragePrice > 0 {
		overview.AppendSeparator()
		overview.AppendRows([]table.Row{
			{"Average price", formatPrice(r.AveragePrice)},
			{"Minimum price", formatPrice(r.MinPrice)},
			{"Maximum price", formatPrice(r.MaxPrice)},
		})
	}
	if r.MostExpensive != nil {
		overview.AppendRow(table.Row{"Most expensive", preview(r.MostExpensive.Title, 50) + " (" + r.MostExpensive.Location + ")"})
	}
	overview.Render()

	renderCounts(w, "Listings by location", "Location", r.ListingsByLocation)
	renderCounts(w, "Listings by type", "Type", r.ListingsByType)
}

func renderCounts(w io.Writer, title, label string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	type entry struct {
		key   string
		count int
	}
	entries := make([]entry, 0, len(counts))
	for k, c := range counts {
		entries = append(entries, entry{k, c})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].key < entries[j].key
	})

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle(title)
	t.AppendHeader(table.Row{label, "Listings"})
	for _, e := range entries {
		t.AppendRow(table.Row{preview(e.key, 40), e.count})
	}
	t.Render()
}

func sortedKeys(m map[models.Source]int) []models.Source {
	keys := make([]models.Source, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
