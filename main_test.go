package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"propertybridge/config"
	"propertybridge/models"
	"propertybridge/utils"
)

func TestScrapedMessageIsStableAcrossRuns(t *testing.T) {
	first := &models.RawListing{
		Title: "3 bedroom flat for rent", RawPrice: "₦2,500,000", Location: "Lekki, Lagos",
		URL: "https://www.facebook.com/marketplace/item/123", Platform: "facebook",
		ScrapedAt: time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC),
	}
	again := *first
	again.ScrapedAt = first.ScrapedAt.Add(24 * time.Hour)
	again.Seller = "Ada"

	a, b := scrapedMessage(first), scrapedMessage(&again)
	assert.Equal(t, models.ChannelScrape, a.Channel)
	assert.Equal(t, models.SourceFacebook, a.Source)
	assert.Contains(t, a.Body, "3 bedroom flat for rent")
	assert.Contains(t, a.Body, "₦2,500,000")
	assert.Equal(t, a.DedupKey(), b.DedupKey())
	assert.Equal(t, "Ada", b.SenderDisplayName)
}

func TestNewAppWithMemoryBackends(t *testing.T) {
	cfg := &config.Config{StorageDriver: "memory", InitMaxAttempts: 1, MatchLimit: 5}

	a, err := newApp(context.Background(), cfg, utils.NewNopLogger(), false)
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.transport)
	assert.Nil(t, a.pipeline)
	assert.IsType(t, logSender{}, a.sender)

	hits, err := a.matcher.RematchActive(context.Background(), a.store, 10)
	require.NoError(t, err)
	assert.Zero(t, hits)
}

func TestNewAppRejectsUnknownDriver(t *testing.T) {
	_, err := newApp(context.Background(), &config.Config{StorageDriver: "mongo"}, utils.NewNopLogger(), false)
	assert.Error(t, err)
}

func TestNewAppNeedsAnalyzerKey(t *testing.T) {
	_, err := newApp(context.Background(), &config.Config{StorageDriver: "memory"}, utils.NewNopLogger(), true)
	assert.Error(t, err)
}

func TestLogEventAcceptsEveryKind(t *testing.T) {
	emit := logEvent(utils.NewNopLogger())
	for _, e := range []models.ScanEvent{
		{Kind: models.EventStatus, RunID: "0123456789", Message: "started"},
		{Kind: models.EventProgress, RunID: "abc", Processed: 1, Total: 3, Percentage: 33.33},
		{Kind: models.EventError, Message: "list conversations"},
	} {
		emit(e)
	}
	assert.Equal(t, "01234567", shortID("0123456789"))
	assert.Equal(t, "abc", shortID("abc"))
}
