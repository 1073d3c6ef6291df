package services

import (
	"context"

	"golang.org/x/time/rate"

	"propertybridge/utils"
)

// Delivery summarises one broadcast.
type Delivery struct {
	Delivered int
	Failed    []string
}

// Fanout delivers a message to every configured individual destination and
// every allow-listed group. It is best effort: each send is isolated and
// nothing escapes Broadcast.
type Fanout struct {
	sender      Sender
	lister      ConversationLister
	authorizer  *Authorizer
	individuals []string
	maxLen      int
	limiter     *rate.Limiter
	logger      *utils.Logger
}

// FanoutConfig configures a Fanout.
type FanoutConfig struct {
	Individuals []string
	MaxLength   int
	// RatePerSec paces sends; <= 0 disables pacing.
	RatePerSec float64
}

// NewFanout creates a Fanout. lister may be nil, in which case only
// individual destinations are used.
func NewFanout(sender Sender, lister ConversationLister, authorizer *Authorizer, cfg FanoutConfig, logger *utils.Logger) *Fanout {
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	return &Fanout{
		sender:      sender,
		lister:      lister,
		authorizer:  authorizer,
		individuals: cfg.Individuals,
		maxLen:      cfg.MaxLength,
		limiter:     rate.NewLimiter(limit, 1),
		logger:      logger,
	}
}

// Broadcast sends text to all destinations.
func (f *Fanout) Broadcast(ctx context.Context, text string) Delivery {
	text = Truncate(text, f.maxLen)
	var d Delivery

	for _, dest := range f.destinations(ctx) {
		if err := f.limiter.Wait(ctx); err != nil {
			f.logger.Warn("[fanout] broadcast interrupted: %v", err)
			d.Failed = append(d.Failed, dest)
			continue
		}
		if err := f.sender.SendText(ctx, dest, text); err != nil {
			f.logger.Error("[fanout] send to %s failed: %v", dest, err)
			d.Failed = append(d.Failed, dest)
			continue
		}
		d.Delivered++
	}

	f.logger.Info("[fanout] delivered %d, failed %d", d.Delivered, len(d.Failed))
	return d
}

func (f *Fanout) destinations(ctx context.Context) []string {
	dests := make([]string, 0, len(f.individuals))
	seen := make(map[string]struct{})
	add := func(d string) {
		if _, dup := seen[d]; dup || d == "" {
			return
		}
		seen[d] = struct{}{}
		dests = append(dests, d)
	}

	for _, n := range f.individuals {
		add(n)
	}

	if f.lister == nil || f.authorizer == nil {
		return dests
	}
	convs, err := f.lister.ListConversations(ctx)
	if err != nil {
		f.logger.Error("[fanout] list conversations: %v", err)
		return dests
	}
	for _, c := range convs {
		if c.IsGroup && f.authorizer.IsAllowedGroup(c.Name, c.ID) {
			add(c.ID)
		}
	}
	return dests
}
