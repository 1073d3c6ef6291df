package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"propertybridge/config"
	"propertybridge/models"
	"propertybridge/scraper/facebook"
	"propertybridge/services"
	"propertybridge/storage"
	"propertybridge/utils"
)

type loggerFactory func() *utils.Logger

func serveCommand(cfg *config.Config, newLogger loggerFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Listen for chat messages and sweep recent history periodically",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := newLogger()
			defer func() { _ = logger.Sync() }()

			a, err := newApp(ctx, cfg, logger, true)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.transport == nil {
				return errors.New("serve needs TELEGRAM_BOT_TOKEN")
			}

			scanner := services.NewScanCoordinator(a.transport, a.pipeline, services.ScanConfig{
				Window:       cfg.ScanWindow,
				MessageLimit: cfg.ScanMessageLimit,
			}, logEvent(logger), logger)
			if err := scanner.StartPeriodic(ctx, cfg.ScanInterval); err != nil {
				return err
			}
			defer scanner.StopPeriodic()

			logger.Info("=== propertybridge serving (scan every %v) ===", cfg.ScanInterval)
			return a.transport.Listen(ctx, func(ctx context.Context, raw models.RawMessage) {
				ingest(ctx, a.pipeline, raw, logger)
			})
		},
	}
}

func scanCommand(cfg *config.Config, newLogger loggerFactory) *cobra.Command {
	var warmup time.Duration
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Drain pending chat updates, then run one sweep over them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := newLogger()
			defer func() { _ = logger.Sync() }()

			a, err := newApp(ctx, cfg, logger, true)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.transport == nil {
				return errors.New("scan needs TELEGRAM_BOT_TOKEN")
			}

			// the Bot API keeps undelivered updates for a day; collecting them
			// without a handler fills the history buffer the sweep reads
			logger.Info("[scan] collecting pending updates for %v", warmup)
			listenCtx, cancel := context.WithTimeout(ctx, warmup)
			defer cancel()
			if err := a.transport.Listen(listenCtx, nil); err != nil {
				return err
			}

			scanner := services.NewScanCoordinator(a.transport, a.pipeline, services.ScanConfig{
				Window:       cfg.ScanWindow,
				MessageLimit: cfg.ScanMessageLimit,
			}, logEvent(logger), logger)
			sum, err := scanner.Scan(ctx)
			if err != nil {
				return err
			}
			logger.Info("[scan] %d conversations (%d failed, %d property groups), %d messages: "+
				"%d listings, %d requests, %d duplicates, %d ignored, %d failed",
				sum.Conversations, sum.FailedConversations, sum.RelevantGroups, sum.Messages,
				sum.Listings, sum.Requests, sum.Duplicates, sum.Ignored, sum.Failed)
			return nil
		},
	}
	cmd.Flags().DurationVar(&warmup, "warmup", 30*time.Second, "how long to collect pending updates before sweeping")
	return cmd
}

func scrapeCommand(cfg *config.Config, newLogger loggerFactory) *cobra.Command {
	var query, replay string
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Scrape Facebook Marketplace and ingest the results",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := newLogger()
			defer func() { _ = logger.Sync() }()

			a, err := newApp(ctx, cfg, logger, true)
			if err != nil {
				return err
			}
			defer a.Close()

			var rawListings []*models.RawListing
			if replay != "" {
				if rawListings, err = storage.ReadRawCSV(replay); err != nil {
					return err
				}
				logger.Info("Replaying %d raw listings from %s", len(rawListings), replay)
			} else {
				if rawListings, err = scrapeMarketplace(ctx, cfg, query, logger); err != nil {
					return err
				}
			}

			tally := make(map[models.OutcomeKind]int)
			for _, l := range rawListings {
				if out, ok := ingest(ctx, a.pipeline, scrapedMessage(l), logger); ok {
					tally[out.Kind]++
				}
			}
			logger.Info("Ingested: %d listings, %d requests, %d duplicates, %d ignored",
				tally[models.OutcomeListing], tally[models.OutcomeRequest],
				tally[models.OutcomeDuplicate], tally[models.OutcomeIgnored])
			return nil
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "marketplace search terms (default: property rentals)")
	cmd.Flags().StringVar(&replay, "replay", "", "ingest a previous raw CSV dump instead of scraping")
	return cmd
}

// scrapeMarketplace runs the browser scrape and dumps the raw extracts to CSV.
func scrapeMarketplace(ctx context.Context, cfg *config.Config, query string, logger *utils.Logger) ([]*models.RawListing, error) {
	logger.Info("=== Marketplace scrape starting ===")
	logger.Info("Config: city %s | limit: %d | concurrency: %d | rate: %dms",
		cfg.MarketplaceCity, cfg.ScrapeLimit, cfg.MaxConcurrency, cfg.RateLimitMs)

	csvWriter, err := storage.NewCSVWriter(cfg.CSVOutputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create CSV writer: %w", err)
	}
	defer csvWriter.Close()

	rawListings, err := facebook.New(cfg, logger.With("city", cfg.MarketplaceCity, "query", query)).Scrape(ctx, query)
	if err != nil {
		logger.Error("Marketplace scrape failed: %v", err)
	}
	if len(rawListings) == 0 {
		return nil, errors.New("no listings were scraped")
	}

	logger.Info("Scraped %d raw listings, writing to CSV...", len(rawListings))
	if err := csvWriter.WriteRaw(rawListings); err != nil {
		logger.Error("CSV write failed: %v", err)
	} else {
		logger.Info("Raw listings saved to %s (%d rows)", cfg.CSVOutputPath, csvWriter.Rows())
	}
	return rawListings, nil
}

func matchCommand(cfg *config.Config, newLogger loggerFactory) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "match",
		Short: "Re-run matching for every active request",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := newLogger()
			defer func() { _ = logger.Sync() }()

			a, err := newApp(ctx, cfg, logger, false)
			if err != nil {
				return err
			}
			defer a.Close()

			hits, err := a.matcher.RematchActive(ctx, a.store, limit)
			if err != nil {
				return err
			}
			logger.Info("[match] %d active request(s) had matches", hits)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 1000, "maximum number of active requests to re-match")
	return cmd
}

func reportCommand(cfg *config.Config, newLogger loggerFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Print an inventory report of stored listings and requests",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := newLogger()
			defer func() { _ = logger.Sync() }()

			a, err := newApp(ctx, cfg, logger, false)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := services.NewReportService(a.store, logger).Build(ctx)
			if err != nil {
				return err
			}
			services.PrintReport(os.Stdout, report)
			return nil
		},
	}
}

// ingest runs one message through the pipeline, logging the outcome. The
// pipeline has already logged and answered any failure.
func ingest(ctx context.Context, p services.Ingester, raw models.RawMessage, logger *utils.Logger) (models.Outcome, bool) {
	out, err := p.Ingest(ctx, raw)
	if err != nil {
		logger.Debug("[ingest] %s: %v", services.KindOf(err), err)
		return out, false
	}
	if out.Kind == models.OutcomeListing || out.Kind == models.OutcomeRequest {
		logger.Info("[ingest] %s #%d from %s (delivered %d, failed %d, matches %d)",
			out.Kind, out.RecordID, raw.Source, out.Delivered, out.Failed, out.Matches)
	}
	return out, true
}

// scrapedMessage presents a marketplace extract to the pipeline. The item
// URL stands in for both sender and message id, so re-scraping an item never
// creates a second record.
func scrapedMessage(l *models.RawListing) models.RawMessage {
	ts := l.ScrapedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return models.RawMessage{
		Channel:           models.ChannelScrape,
		Source:            models.Source(l.Platform),
		MessageID:         l.URL,
		ConversationName:  "marketplace",
		Body:              l.Body(),
		SenderID:          l.URL,
		SenderDisplayName: l.Seller,
		ProfileURL:        l.URL,
		Timestamp:         ts,
	}
}
