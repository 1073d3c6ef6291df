package services

import (
	"context"
	"fmt"
	"strings"

	"propertybridge/models"
	"propertybridge/utils"
)

// Broadcaster is the part of Fanout the matcher uses.
type Broadcaster interface {
	Broadcast(ctx context.Context, text string) Delivery
}

// Matcher looks up stored listings for a request and announces any hits.
// Matching runs only when FindMatches is called; there is no standing subscription.
type Matcher struct {
	listings ListingStore
	fanout   Broadcaster
	mailer   Mailer
	mailFrom string
	limit    int
	logger   *utils.Logger
}

// NewMatcher creates a Matcher. mailer may be nil to disable email.
func NewMatcher(listings ListingStore, fanout Broadcaster, mailer Mailer, mailFrom string, limit int, logger *utils.Logger) *Matcher {
	if limit <= 0 {
		limit = 5
	}
	return &Matcher{
		listings: listings,
		fanout:   fanout,
		mailer:   mailer,
		mailFrom: mailFrom,
		limit:    limit,
		logger:   logger,
	}
}

// FindMatches returns up to the configured limit of listings satisfying the
// request. A non-empty result is broadcast, and mailed when the requester's
// contact looks like an email address.
func (m *Matcher) FindMatches(ctx context.Context, req *models.RequestRecord) ([]*models.ListingRecord, error) {
	matches, err := m.listings.FindListings(ctx, req.Filter(), m.limit)
	if err != nil {
		return nil, fmt.Errorf("matcher: find listings: %w", err)
	}
	if len(matches) > m.limit {
		matches = matches[:m.limit]
	}
	if len(matches) == 0 {
		m.logger.Debug("[matcher] no matches for request %d", req.ID)
		return matches, nil
	}

	m.logger.Info("[matcher] %d match(es) for request %d", len(matches), req.ID)
	m.fanout.Broadcast(ctx, matchMessage(req, matches))

	contact := req.RequesterInfo.Contact
	if m.mailer != nil && strings.Contains(contact, "@") {
		html, err := matchEmail(req, matches)
		if err != nil {
			return matches, err
		}
		subject := fmt.Sprintf("%d property match(es) for your request", len(matches))
		if err := m.mailer.Send(ctx, m.mailFrom, contact, subject, html); err != nil {
			m.logger.Error("[matcher] mail to %s failed: %v", contact, err)
			return matches, fmt.Errorf("matcher: send mail: %w", err)
		}
	}
	return matches, nil
}

// RematchActive runs FindMatches for every active request and returns the
// number of requests that had at least one match.
func (m *Matcher) RematchActive(ctx context.Context, requests RequestStore, limit int) (int, error) {
	active, err := requests.ActiveRequests(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("matcher: active requests: %w", err)
	}
	hits := 0
	for _, r := range active {
		matches, err := m.FindMatches(ctx, r)
		if err != nil {
			m.logger.Error("[matcher] request %d: %v", r.ID, err)
			continue
		}
		if len(matches) > 0 {
			hits++
		}
	}
	return hits, nil
}
