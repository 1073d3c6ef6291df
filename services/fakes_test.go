package services

import (
	"context"
	"errors"
	"sync"

	"propertybridge/models"
	"propertybridge/utils"
)

func newTestLogger() *utils.Logger { return utils.NewNopLogger() }

type sentMessage struct {
	dest, text string
}

type fakeSender struct {
	mu   sync.Mutex
	fail map[string]bool
	sent []sentMessage
}

func (f *fakeSender) SendText(_ context.Context, dest, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[dest] {
		return errors.New("send failed")
	}
	f.sent = append(f.sent, sentMessage{dest, text})
	return nil
}

func (f *fakeSender) to(dest string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.sent {
		if m.dest == dest {
			out = append(out, m.text)
		}
	}
	return out
}

type fakeTransport struct {
	fakeSender
	convs    []models.Conversation
	history  map[string][]models.RawMessage
	failConv map[string]bool
	listErr  error
	notReady bool
	// block, when set, holds RecentMessages until it is closed
	block chan struct{}
	entered chan struct{}
}

func (f *fakeTransport) ListConversations(context.Context) ([]models.Conversation, error) {
	return f.convs, f.listErr
}

func (f *fakeTransport) RecentMessages(_ context.Context, c models.Conversation, limit int) ([]models.RawMessage, error) {
	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
	}
	if f.block != nil {
		<-f.block
	}
	if f.failConv[c.ID] {
		return nil, errors.New("history unavailable")
	}
	msgs := f.history[c.ID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (f *fakeTransport) Ready() bool { return !f.notReady }

type fakeAnalyzer struct {
	summary    string
	listingErr error
	attrs      *models.RequestAttributes
	requestErr error
}

func (f *fakeAnalyzer) ClassifyListing(context.Context, string) (string, error) {
	return f.summary, f.listingErr
}

func (f *fakeAnalyzer) ClassifyRequest(context.Context, string) (*models.RequestAttributes, error) {
	if f.requestErr != nil {
		return nil, f.requestErr
	}
	if f.attrs == nil {
		return models.DefaultRequestAttributes(), nil
	}
	return f.attrs, nil
}

type fakeStore struct {
	mu       sync.Mutex
	listings []*models.ListingRecord
	requests []*models.RequestRecord
	keys     map[string]bool
	saveErr  error
	findErr  error
	nextID   int64
	// onSave runs before a listing is saved
	onSave   func()
}

func newFakeStore() *fakeStore { return &fakeStore{keys: make(map[string]bool)} }

func (s *fakeStore) SaveListing(_ context.Context, l *models.ListingRecord) (bool, error) {
	if s.onSave != nil {
		s.onSave()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return false, s.saveErr
	}
	if l.DedupKey != "" && s.keys[l.DedupKey] {
		return false, nil
	}
	s.keys[l.DedupKey] = true
	s.nextID++
	l.ID = s.nextID
	s.listings = append(s.listings, l)
	return true, nil
}

func (s *fakeStore) SaveRequest(_ context.Context, r *models.RequestRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return false, s.saveErr
	}
	if r.DedupKey != "" && s.keys[r.DedupKey] {
		return false, nil
	}
	s.keys[r.DedupKey] = true
	s.nextID++
	r.ID = s.nextID
	s.requests = append(s.requests, r)
	return true, nil
}

func (s *fakeStore) FindListings(_ context.Context, f models.ListingFilter, limit int) ([]*models.ListingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	var out []*models.ListingRecord
	for _, l := range s.listings {
		if f.Matches(l) {
			out = append(out, l)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *fakeStore) AllListings(context.Context) ([]*models.ListingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.ListingRecord(nil), s.listings...), nil
}

func (s *fakeStore) ActiveRequests(_ context.Context, limit int) ([]*models.RequestRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.RequestRecord
	for _, r := range s.requests {
		if r.Status == models.StatusActive {
			out = append(out, r)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type fakeGuard struct {
	mu       sync.Mutex
	held     map[string]bool
	released []string
	err      error
}

func newFakeGuard() *fakeGuard { return &fakeGuard{held: make(map[string]bool)} }

func (g *fakeGuard) Claim(_ context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return false, g.err
	}
	if g.held[key] {
		return false, nil
	}
	g.held[key] = true
	return true, nil
}

func (g *fakeGuard) Release(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.held, key)
	g.released = append(g.released, key)
	return nil
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (m *fakeMailer) Send(_ context.Context, _, to, _, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, to)
	return nil
}

type countingBroadcaster struct {
	mu    sync.Mutex
	texts []string
}

func (b *countingBroadcaster) Broadcast(_ context.Context, text string) Delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.texts = append(b.texts, text)
	return Delivery{Delivered: 1}
}

func (b *countingBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.texts)
}
