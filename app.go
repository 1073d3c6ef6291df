package main

import (
	"context"
	"errors"
	"fmt"

	"propertybridge/analysis"
	"propertybridge/config"
	"propertybridge/mailer"
	"propertybridge/models"
	"propertybridge/services"
	"propertybridge/storage"
	"propertybridge/transport/telegram"
	"propertybridge/utils"
)

// app holds the collaborators shared by every command.
type app struct {
	cfg    *config.Config
	logger *utils.Logger

	store     storage.RecordStore
	guard     services.SeenGuard
	analyzer  *analysis.Gemini
	transport *telegram.Transport
	sender    services.Sender
	fanout    *services.Fanout
	matcher   *services.Matcher
	pipeline  *services.Pipeline

	closers []func() error
}

// logSender stands in for the chat transport when no bot token is set, so
// broadcasts from offline commands are visible in the log.
type logSender struct {
	logger *utils.Logger
}

func (s logSender) SendText(_ context.Context, destination, text string) error {
	s.logger.Info("[outbox] to %s: %s", destination, text)
	return nil
}

// newApp brings up storage, the seen guard, the mailer and the chat
// transport. The analyzer and pipeline are only built when withPipeline is set.
func newApp(ctx context.Context, cfg *config.Config, logger *utils.Logger, withPipeline bool) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	initRetry := utils.InitPolicy(cfg.InitMaxAttempts, cfg.InitRetryDelay, logger)

	if err := a.openStore(ctx, initRetry); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openGuard(); err != nil {
		a.Close()
		return nil, err
	}

	a.sender = logSender{logger: logger}
	var lister services.ConversationLister
	if cfg.TelegramBotToken != "" {
		t, err := telegram.Connect(ctx, telegram.Config{
			Token:              cfg.TelegramBotToken,
			Source:             models.Source(cfg.ChatSource),
			HistoryLimit:       cfg.ChatHistoryLimit,
			MaxAttachmentBytes: cfg.MaxAttachmentBytes,
		}, initRetry, logger)
		if err != nil {
			a.Close()
			return nil, &services.PipelineError{Kind: services.ErrInitialization, Step: "chat transport", Err: err}
		}
		a.transport, a.sender, lister = t, t, t
	} else {
		logger.Warn("[app] TELEGRAM_BOT_TOKEN not set, outbound messages are only logged")
	}

	authorizer := services.NewAuthorizer(cfg.AllowedNumbers, cfg.AllowedGroups, cfg.DefaultCountryCode)
	a.fanout = services.NewFanout(a.sender, lister, authorizer, services.FanoutConfig{
		Individuals: cfg.NotifyNumbers,
		MaxLength:   cfg.MaxTextLength,
		RatePerSec:  cfg.SendRatePerSec,
	}, logger)

	var mail services.Mailer
	if cfg.MailEnabled() {
		m, err := mailer.New(mailer.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
		}, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		mail = m
	}
	a.matcher = services.NewMatcher(a.store, a.fanout, mail, cfg.MailFrom, cfg.MatchLimit, logger)

	if !withPipeline {
		return a, nil
	}

	analyzer, err := analysis.NewGemini(ctx, analysis.Config{
		APIKey:     cfg.GeminiAPIKey,
		ModelName:  cfg.GeminiModel,
		MaxRetries: cfg.InitMaxAttempts,
	}, logger)
	if err != nil {
		a.Close()
		return nil, &services.PipelineError{Kind: services.ErrInitialization, Step: "analyzer", Err: err}
	}
	a.analyzer = analyzer
	a.closers = append(a.closers, analyzer.Close)

	deps := services.PipelineDeps{
		Extractor:  services.NewExtractor(logger),
		Authorizer: authorizer,
		Analyzer:   analyzer,
		Store:      a.store,
		Guard:      a.guard,
		Fanout:     a.fanout,
		Matcher:    a.matcher,
	}
	if a.transport != nil {
		deps.Replies = a.transport
	}
	a.pipeline = services.NewPipeline(services.PipelineConfig{
		MaxTextLength:      cfg.MaxTextLength,
		MaxAttachmentBytes: cfg.MaxAttachmentBytes,
	}, deps, logger)
	return a, nil
}

func (a *app) openStore(ctx context.Context, retry *utils.RetryConfig) error {
	switch a.cfg.StorageDriver {
	case "memory":
		a.logger.Warn("[app] using in-memory storage, records are lost on exit")
		a.store = storage.NewMemoryStore()
	case "postgres", "":
		pg, err := storage.OpenPostgres(ctx, a.cfg.DSN(), retry, a.logger)
		if err != nil {
			a.logger.Error("[app] Make sure PostgreSQL is running: docker compose up -d")
			return &services.PipelineError{Kind: services.ErrInitialization, Step: "storage", Err: err}
		}
		a.store = pg
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", a.cfg.StorageDriver)
	}
	a.closers = append(a.closers, a.store.Close)
	return nil
}

func (a *app) openGuard() error {
	if a.cfg.RedisAddr == "" {
		a.guard = storage.NewMemoryGuard()
		return nil
	}
	g, err := storage.NewRedisGuard(storage.RedisConfig{
		Address:  a.cfg.RedisAddr,
		Password: a.cfg.RedisPassword,
		DB:       a.cfg.RedisDB,
		TTL:      a.cfg.DedupTTL,
	})
	if err != nil {
		return &services.PipelineError{Kind: services.ErrInitialization, Step: "seen guard", Err: err}
	}
	a.guard = g
	a.closers = append(a.closers, g.Close)
	return nil
}

// Close releases everything newApp opened, newest first.
func (a *app) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("[app] shutdown: %v", err)
	}
	a.closers = nil
}

// logEvent writes sweep events to the log.
func logEvent(logger *utils.Logger) models.EventFunc {
	return func(e models.ScanEvent) {
		switch e.Kind {
		case models.EventProgress:
			logger.Info("[scan %s] %d/%d conversations (%.2f%%)", shortID(e.RunID), e.Processed, e.Total, e.Percentage)
		case models.EventError:
			logger.Error("[scan %s] %s: %v", shortID(e.RunID), e.Message, e.Err)
		default:
			logger.Info("[scan %s] %s", shortID(e.RunID), e.Message)
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
