package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"

	"propertybridge/models"
	"propertybridge/utils"
)

// AnalysisFailed replaces the listing summary when analysis is unavailable.
const AnalysisFailed = "Analysis failed"

const (
	maxPreferredLocations = 10
	maxLocationLength     = 100
)

// RequestMatcher is the part of Matcher the pipeline triggers.
type RequestMatcher interface {
	FindMatches(ctx context.Context, req *models.RequestRecord) ([]*models.ListingRecord, error)
}

// PipelineConfig holds the caps applied during ingestion.
type PipelineConfig struct {
	MaxTextLength      int
	MaxAttachmentBytes int
}

// Pipeline classifies, extracts, persists and announces inbound messages.
// Each step returns its own error; Ingest decides whether a failure is
// absorbed with a default or aborts the message.
type Pipeline struct {
	cfg        PipelineConfig
	extractor  *Extractor
	authorizer *Authorizer
	analyzer   Analyzer
	store      Store
	guard      SeenGuard
	fanout     Broadcaster
	replies    Sender
	matcher    RequestMatcher
	logger     *utils.Logger
}

// PipelineDeps are the collaborators a Pipeline needs. Guard, Replies and
// Matcher are optional.
type PipelineDeps struct {
	Extractor  *Extractor
	Authorizer *Authorizer
	Analyzer   Analyzer
	Store      Store
	Guard      SeenGuard
	Fanout     Broadcaster
	Replies    Sender
	Matcher    RequestMatcher
}

// NewPipeline wires a Pipeline.
func NewPipeline(cfg PipelineConfig, deps PipelineDeps, logger *utils.Logger) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		extractor:  deps.Extractor,
		authorizer: deps.Authorizer,
		analyzer:   deps.Analyzer,
		store:      deps.Store,
		guard:      deps.Guard,
		fanout:     deps.Fanout,
		replies:    deps.Replies,
		matcher:    deps.Matcher,
		logger:     logger,
	}
}

// Ingest runs one raw message through the pipeline.
func (p *Pipeline) Ingest(ctx context.Context, raw models.RawMessage) (models.Outcome, error) {
	body := Truncate(raw.Body, p.cfg.MaxTextLength)

	kind := Classify(body)
	if kind == KindNone {
		return models.Outcome{Kind: models.OutcomeIgnored}, nil
	}

	key := raw.DedupKey()
	if !p.claim(ctx, key) {
		p.logger.Debug("[pipeline] duplicate %s from %s", key, raw.SenderID)
		return models.Outcome{Kind: models.OutcomeDuplicate, DedupKey: key}, nil
	}

	var (
		out models.Outcome
		err error
	)
	switch kind {
	case KindListing:
		out, err = p.ingestListing(ctx, raw, body, key)
	case KindRequest:
		out, err = p.ingestRequest(ctx, raw, body, key)
	}
	out.DedupKey = key

	if err != nil {
		if KindOf(err) == ErrPersistence {
			p.release(ctx, key)
		}
		p.logger.Error("[pipeline] %s message from %s failed: %v (body: %q)",
			kind, raw.SenderID, err, preview(body, 200))
		if p.authorized(raw) {
			if replyErr := p.reply(ctx, raw, apologyText); replyErr != nil {
				p.logger.Warn("[pipeline] apology to %s failed: %v", raw.SenderID, replyErr)
			}
		}
		return out, err
	}
	return out, nil
}

func (p *Pipeline) ingestListing(ctx context.Context, raw models.RawMessage, body, key string) (models.Outcome, error) {
	out := models.Outcome{Kind: models.OutcomeListing}

	price, rawPrice := p.extractor.FindPrice(body)
	analysis, err := p.analyzeListing(ctx, body)
	if err != nil {
		err = stepError(ErrCollaborator, "analyze listing", err)
		p.logger.Warn("[pipeline] %v, using placeholder", err)
		out.Degraded = append(out.Degraded, err)
		analysis = AnalysisFailed
	}

	rec := &models.ListingRecord{
		DedupKey:     key,
		Source:       raw.Source,
		Title:        p.extractor.ExtractTitle(body),
		Description:  body,
		Price:        price,
		Location:     p.extractor.ExtractLocation(body),
		PropertyType: p.extractor.ExtractPropertyType(body),
		Bedrooms:     p.extractor.ExtractBedrooms(body),
		Bathrooms:    p.extractor.ExtractBathrooms(body),
		ListerInfo: models.ContactInfo{
			Name:       raw.SenderDisplayName,
			Contact:    raw.SenderID,
			ProfileURL: raw.ProfileURL,
		},
		Images:     p.images(raw),
		Amenities:  p.extractor.ExtractAmenities(body),
		PostedDate: raw.Timestamp,
		Metadata: map[string]any{
			"analysis":        analysis,
			"original_length": utf8.RuneCountInString(raw.Body),
			"raw_price_text":  rawPrice,
			"channel":         string(raw.Channel),
			"conversation_id": raw.ConversationID,
			"message_id":      raw.MessageID,
		},
	}

	saved, err := p.store.SaveListing(ctx, rec)
	if err != nil {
		return out, stepError(ErrPersistence, "save listing", err)
	}
	if !saved {
		return models.Outcome{Kind: models.OutcomeDuplicate}, nil
	}
	out.RecordID = rec.ID
	p.logger.Info("[pipeline] listing %d saved: %s (%s, %s)", rec.ID, rec.Title, formatPrice(rec.Price), rec.Location)

	d := p.fanout.Broadcast(ctx, listingBroadcast(rec, analysis))
	out.Delivered, out.Failed = d.Delivered, len(d.Failed)

	if p.authorized(raw) {
		if err := p.reply(ctx, raw, listingAck(rec)); err != nil {
			return out, stepError(ErrNotification, "acknowledge listing", err)
		}
	}
	return out, nil
}

func (p *Pipeline) ingestRequest(ctx context.Context, raw models.RawMessage, body, key string) (models.Outcome, error) {
	out := models.Outcome{Kind: models.OutcomeRequest}

	attrs, err := p.analyzeRequest(ctx, body)
	if err != nil {
		err = stepError(ErrCollaborator, "analyze request", err)
		p.logger.Warn("[pipeline] %v, using defaults", err)
		out.Degraded = append(out.Degraded, err)
		attrs = models.DefaultRequestAttributes()
	}

	rec := p.buildRequest(raw, body, key, attrs)
	saved, err := p.store.SaveRequest(ctx, rec)
	if err != nil {
		return out, stepError(ErrPersistence, "save request", err)
	}
	if !saved {
		return models.Outcome{Kind: models.OutcomeDuplicate}, nil
	}
	out.RecordID = rec.ID
	p.logger.Info("[pipeline] request %d saved: %s %s up to %s", rec.ID, rec.RequestType,
		rec.Requirements.PropertyType, formatPrice(rec.Requirements.MaxPrice))

	d := p.fanout.Broadcast(ctx, requestBroadcast(rec))
	out.Delivered, out.Failed = d.Delivered, len(d.Failed)

	var ackErr error
	if p.authorized(raw) {
		if err := p.reply(ctx, raw, requestAck(rec)); err != nil {
			ackErr = stepError(ErrNotification, "acknowledge request", err)
		}
	}

	if p.matcher != nil {
		matches, err := p.matcher.FindMatches(ctx, rec)
		if err != nil {
			p.logger.Warn("[pipeline] matching request %d: %v", rec.ID, err)
		}
		out.Matches = len(matches)
	}
	return out, ackErr
}

func (p *Pipeline) analyzeListing(ctx context.Context, body string) (summary string, err error) {
	if p.analyzer == nil {
		return "", errors.New("no analyzer configured")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("analyzer panic: %v", r)
		}
	}()
	summary, err = p.analyzer.ClassifyListing(ctx, body)
	if err == nil && strings.TrimSpace(summary) == "" {
		err = errors.New("empty summary")
	}
	return summary, err
}

func (p *Pipeline) analyzeRequest(ctx context.Context, body string) (attrs *models.RequestAttributes, err error) {
	if p.analyzer == nil {
		return nil, errors.New("no analyzer configured")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("analyzer panic: %v", r)
		}
	}()
	attrs, err = p.analyzer.ClassifyRequest(ctx, body)
	if err == nil && attrs == nil {
		err = errors.New("empty attributes")
	}
	return attrs, err
}

func (p *Pipeline) buildRequest(raw models.RawMessage, body, key string, attrs *models.RequestAttributes) *models.RequestRecord {
	requestType := strings.ToLower(strings.TrimSpace(attrs.Type))
	if requestType != models.RequestRent && requestType != models.RequestBuy {
		requestType = models.RequestBuy
	}

	propertyType := strings.ToLower(strings.TrimSpace(attrs.PropertyType))
	if propertyType == "" {
		propertyType = "unknown"
	}

	maxPrice := attrs.MaxPrice
	if maxPrice < 0 || math.IsNaN(maxPrice) || math.IsInf(maxPrice, 0) {
		maxPrice = 0
	}

	var minBedrooms *int
	if attrs.MinBedrooms != nil && *attrs.MinBedrooms > 0 {
		n := *attrs.MinBedrooms
		minBedrooms = &n
	}

	locations := capLocations(attrs.PreferredLocations)
	if len(locations) == 0 {
		if loc := p.extractor.ExtractLocation(body); loc != UnknownLocation {
			locations = []string{loc}
		} else {
			locations = []string{"unknown"}
		}
	}

	urgency := strings.ToLower(strings.TrimSpace(attrs.Urgency))
	switch urgency {
	case models.UrgencyHigh, models.UrgencyMedium, models.UrgencyLow:
	default:
		urgency = models.UrgencyMedium
	}

	return &models.RequestRecord{
		DedupKey:    key,
		Source:      raw.Source,
		RequestType: requestType,
		Requirements: models.Requirements{
			PropertyType:           propertyType,
			MaxPrice:               maxPrice,
			MinBedrooms:            minBedrooms,
			PreferredLocations:     locations,
			AdditionalRequirements: strings.Join(attrs.AdditionalRequirements, ", "),
		},
		RequesterInfo: models.ContactInfo{
			Name:       raw.SenderDisplayName,
			Contact:    raw.SenderID,
			ProfileURL: raw.ProfileURL,
		},
		Urgency:     urgency,
		RequestDate: raw.Timestamp,
		Status:      models.StatusActive,
		Metadata: map[string]any{
			"original_length": utf8.RuneCountInString(raw.Body),
			"description":     body,
			"channel":         string(raw.Channel),
			"conversation_id": raw.ConversationID,
			"message_id":      raw.MessageID,
		},
	}
}

// capLocations keeps at most 10 non-blank entries of at most 100 characters.
func capLocations(in []string) []string {
	out := make([]string, 0, maxPreferredLocations)
	for _, loc := range in {
		loc = normaliseText(loc)
		if loc == "" {
			continue
		}
		out = append(out, truncateRunes(loc, maxLocationLength))
		if len(out) == maxPreferredLocations {
			break
		}
	}
	return out
}

// images returns the attachment as a data URI when it fits the size cap.
func (p *Pipeline) images(raw models.RawMessage) []string {
	if !raw.HasAttachment || len(raw.Attachment) == 0 {
		return []string{}
	}
	if len(raw.Attachment) > p.cfg.MaxAttachmentBytes {
		p.logger.Warn("[pipeline] dropping %d-byte attachment from %s (cap %d)",
			len(raw.Attachment), raw.SenderID, p.cfg.MaxAttachmentBytes)
		return []string{}
	}
	mime := mimetype.Detect(raw.Attachment).String()
	return []string{"data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(raw.Attachment)}
}

func (p *Pipeline) claim(ctx context.Context, key string) bool {
	if p.guard == nil {
		return true
	}
	ok, err := p.guard.Claim(ctx, key)
	if err != nil {
		// the store's dedup key still rejects duplicates
		p.logger.Warn("[pipeline] seen guard unavailable: %v", err)
		return true
	}
	return ok
}

func (p *Pipeline) release(ctx context.Context, key string) {
	if p.guard == nil {
		return
	}
	// a cancelled caller must not leave the claim held until it expires
	if err := p.guard.Release(context.WithoutCancel(ctx), key); err != nil {
		p.logger.Warn("[pipeline] release %s: %v", key, err)
	}
}

func (p *Pipeline) authorized(raw models.RawMessage) bool {
	if raw.Channel != models.ChannelChat || p.authorizer == nil {
		return false
	}
	if raw.IsGroup {
		return p.authorizer.IsAllowedGroup(raw.ConversationName, raw.ConversationID)
	}
	return p.authorizer.IsAllowedNumber(raw.SenderID)
}

func (p *Pipeline) reply(ctx context.Context, raw models.RawMessage, text string) error {
	if p.replies == nil {
		return nil
	}
	dest := raw.ConversationID
	if dest == "" {
		dest = raw.SenderID
	}
	return p.replies.SendText(ctx, dest, Truncate(text, p.cfg.MaxTextLength))
}
