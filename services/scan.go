package services

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"propertybridge/models"
	"propertybridge/utils"
)

// ScanConfig bounds one sweep.
type ScanConfig struct {
	Window       time.Duration
	MessageLimit int
}

// ScanSummary reports what a sweep did.
type ScanSummary struct {
	RunID               string
	Busy                bool
	Conversations       int
	FailedConversations int
	RelevantGroups      int
	Messages            int
	Listings            int
	Requests            int
	Duplicates          int
	Ignored             int
	Failed              int
}

// ScanCoordinator re-runs the pipeline over recent history of every known
// conversation. At most one sweep runs at a time.
type ScanCoordinator struct {
	transport ChatTransport
	ingester  Ingester
	cfg       ScanConfig
	events    models.EventFunc
	logger    *utils.Logger
	now       func() time.Time

	running atomic.Bool

	mu   sync.Mutex
	cron *cron.Cron
}

// NewScanCoordinator creates a ScanCoordinator. events may be nil.
func NewScanCoordinator(transport ChatTransport, ingester Ingester, cfg ScanConfig, events models.EventFunc, logger *utils.Logger) *ScanCoordinator {
	if cfg.Window <= 0 {
		cfg.Window = 24 * time.Hour
	}
	if cfg.MessageLimit <= 0 {
		cfg.MessageLimit = 100
	}
	return &ScanCoordinator{
		transport: transport,
		ingester:  ingester,
		cfg:       cfg,
		events:    events,
		logger:    logger,
		now:       time.Now,
	}
}

// Running reports whether a sweep is in progress.
func (s *ScanCoordinator) Running() bool {
	return s.running.Load()
}

// Scan performs one sweep. A call made while another sweep is running
// emits a busy status event and returns a summary with Busy set.
func (s *ScanCoordinator) Scan(ctx context.Context) (ScanSummary, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("[scan] %v", ErrScanBusy)
		s.events.Emit(models.ScanEvent{Kind: models.EventStatus, Message: ErrScanBusy.Error(), Err: ErrScanBusy})
		return ScanSummary{Busy: true}, nil
	}
	defer s.running.Store(false)

	sum := ScanSummary{RunID: uuid.NewString()}
	s.status(sum.RunID, "scan started")

	convs, err := s.transport.ListConversations(ctx)
	if err != nil {
		err = fmt.Errorf("scan: list conversations: %w", err)
		s.events.Emit(models.ScanEvent{Kind: models.EventError, RunID: sum.RunID, Message: err.Error(), Err: err})
		return sum, err
	}

	cutoff := s.now().Add(-s.cfg.Window)
	total := len(convs)
	sum.Conversations = total
	s.logger.Info("[scan] run %s: %d conversation(s), window since %s", sum.RunID, total, cutoff.Format(time.RFC3339))

	for i, conv := range convs {
		if err := ctx.Err(); err != nil {
			s.status(sum.RunID, "scan interrupted")
			return sum, err
		}

		if conv.IsGroup && IsPropertyGroup(conv.Name, conv.Description) {
			sum.RelevantGroups++
			s.logger.Info("[scan] group %q looks property-related", conv.Name)
		}

		if err := s.scanConversation(ctx, conv, cutoff, &sum); err != nil {
			sum.FailedConversations++
			s.logger.Error("[scan] conversation %s (%s): %v", conv.ID, conv.Name, err)
			s.events.Emit(models.ScanEvent{Kind: models.EventError, RunID: sum.RunID, Message: conv.Name, Err: err})
		}

		s.events.Emit(models.ScanEvent{
			Kind:       models.EventProgress,
			RunID:      sum.RunID,
			Message:    conv.Name,
			Processed:  i + 1,
			Total:      total,
			Percentage: math.Round(float64(i+1)/float64(total)*10000) / 100,
		})
	}

	s.logger.Info("[scan] run %s done: %d message(s), %d listing(s), %d request(s), %d duplicate(s), %d failed",
		sum.RunID, sum.Messages, sum.Listings, sum.Requests, sum.Duplicates, sum.Failed)
	s.status(sum.RunID, "scan completed")
	return sum, nil
}

func (s *ScanCoordinator) scanConversation(ctx context.Context, conv models.Conversation, cutoff time.Time, sum *ScanSummary) error {
	msgs, err := s.transport.RecentMessages(ctx, conv, s.cfg.MessageLimit)
	if err != nil {
		return fmt.Errorf("recent messages: %w", err)
	}
	if len(msgs) > s.cfg.MessageLimit {
		msgs = msgs[len(msgs)-s.cfg.MessageLimit:]
	}

	var firstErr error
	for _, m := range msgs {
		if m.Timestamp.Before(cutoff) {
			continue
		}
		sum.Messages++
		out, err := s.ingester.Ingest(ctx, m)
		if err != nil {
			sum.Failed++
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		switch out.Kind {
		case models.OutcomeListing:
			sum.Listings++
		case models.OutcomeRequest:
			sum.Requests++
		case models.OutcomeDuplicate:
			sum.Duplicates++
		default:
			sum.Ignored++
		}
	}
	return firstErr
}

func (s *ScanCoordinator) status(runID, msg string) {
	s.events.Emit(models.ScanEvent{Kind: models.EventStatus, RunID: runID, Message: msg})
}

// StartPeriodic schedules a sweep every interval. Ticks are skipped while a
// sweep is running or the transport is not ready.
func (s *ScanCoordinator) StartPeriodic(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("scan: invalid interval %s", interval)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("scan: periodic scan already started")
	}

	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Schedule(cron.Every(interval), cron.FuncJob(func() { s.tick(ctx) }))
	c.Start()
	s.cron = c
	s.logger.Info("[scan] periodic scan every %s", interval)
	return nil
}

// StopPeriodic halts future ticks and waits for a sweep already in flight
// to complete.
func (s *ScanCoordinator) StopPeriodic() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.logger.Info("[scan] periodic scan stopped")
}

func (s *ScanCoordinator) tick(ctx context.Context) {
	if s.running.Load() {
		s.logger.Debug("[scan] tick skipped: sweep in progress")
		return
	}
	if !s.transport.Ready() {
		s.logger.Debug("[scan] tick skipped: transport not ready")
		return
	}
	if _, err := s.Scan(ctx); err != nil {
		s.logger.Error("[scan] periodic sweep: %v", err)
	}
}
