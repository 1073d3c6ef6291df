package storage

import (
	"context"
	"sync"
	"time"

	"propertybridge/models"
)

// MemoryStore keeps records in process. It honours the same dedup-key
// contract as PostgresStore and serves STORAGE_DRIVER=memory runs and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	nextID   int64
	listings []*models.ListingRecord
	requests []*models.RequestRecord
	keys     map[string]struct{}
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string]struct{}), now: time.Now}
}

func (s *MemoryStore) SaveListing(_ context.Context, l *models.ListingRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.claim("listing:" + l.DedupKey) {
		return false, nil
	}
	s.nextID++
	l.ID, l.CreatedAt = s.nextID, s.now()
	s.listings = append(s.listings, l)
	return true, nil
}

func (s *MemoryStore) SaveRequest(_ context.Context, r *models.RequestRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.claim("request:" + r.DedupKey) {
		return false, nil
	}
	s.nextID++
	r.ID, r.CreatedAt = s.nextID, s.now()
	s.requests = append(s.requests, r)
	return true, nil
}

func (s *MemoryStore) claim(key string) bool {
	if _, ok := s.keys[key]; ok {
		return false
	}
	s.keys[key] = struct{}{}
	return true
}

func (s *MemoryStore) FindListings(_ context.Context, f models.ListingFilter, limit int) ([]*models.ListingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ListingRecord
	for _, l := range s.listings {
		if limit > 0 && len(out) == limit {
			break
		}
		if f.Matches(l) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *MemoryStore) AllListings(context.Context) ([]*models.ListingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*models.ListingRecord(nil), s.listings...), nil
}

// ActiveRequests returns up to limit active requests, newest first.
func (s *MemoryStore) ActiveRequests(_ context.Context, limit int) ([]*models.RequestRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.RequestRecord
	for i := len(s.requests) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		if r := s.requests[i]; r.Status == models.StatusActive {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
