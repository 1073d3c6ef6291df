package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"propertybridge/models"
)

type recordingIngester struct {
	mu   sync.Mutex
	seen []string
	fail map[string]bool
}

func (r *recordingIngester) Ingest(_ context.Context, m models.RawMessage) (models.Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, m.MessageID)
	if r.fail[m.MessageID] {
		return models.Outcome{}, stepError(ErrPersistence, "save listing", errors.New("db down"))
	}
	if Classify(m.Body) == KindListing {
		return models.Outcome{Kind: models.OutcomeListing}, nil
	}
	return models.Outcome{Kind: models.OutcomeIgnored}, nil
}

func (r *recordingIngester) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}

type eventLog struct {
	mu     sync.Mutex
	events []models.ScanEvent
}

func (l *eventLog) record(e models.ScanEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) ofKind(k models.EventKind) []models.ScanEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.ScanEvent
	for _, e := range l.events {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

var scanNow = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

func msgAt(id string, age time.Duration, body string) models.RawMessage {
	return models.RawMessage{MessageID: id, Body: body, Timestamp: scanNow.Add(-age)}
}

func TestScanWindowAndProgress(t *testing.T) {
	transport := &fakeTransport{
		convs: []models.Conversation{
			{ID: "a", Name: "Lagos Property Deals", IsGroup: true},
			{ID: "b", Name: "Broken"},
			{ID: "c", Name: "Ada"},
			{ID: "d", Name: "Chit chat", IsGroup: true},
		},
		history: map[string][]models.RawMessage{
			"a": {
				msgAt("a1", 48*time.Hour, "old flat for rent"),
				msgAt("a2", time.Hour, "flat for rent in Yaba"),
				msgAt("a3", 23*time.Hour, "hello"),
			},
			"c": {msgAt("c1", 2*time.Hour, "house for sale")},
		},
		failConv: map[string]bool{"b": true},
	}
	ing := &recordingIngester{}
	events := &eventLog{}
	sc := NewScanCoordinator(transport, ing, ScanConfig{Window: 24 * time.Hour, MessageLimit: 100}, events.record, newTestLogger())
	sc.now = func() time.Time { return scanNow }

	sum, err := sc.Scan(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, sum.RunID)
	assert.Equal(t, []string{"a2", "a3", "c1"}, ing.seen)
	assert.Equal(t, 4, sum.Conversations)
	assert.Equal(t, 1, sum.FailedConversations)
	assert.Equal(t, 1, sum.RelevantGroups)
	assert.Equal(t, 3, sum.Messages)
	assert.Equal(t, 2, sum.Listings)
	assert.Equal(t, 1, sum.Ignored)

	progress := events.ofKind(models.EventProgress)
	require.Len(t, progress, 4)
	assert.Equal(t, 1, progress[0].Processed)
	assert.Equal(t, 25.0, progress[0].Percentage)
	assert.Equal(t, 4, progress[3].Processed)
	assert.Equal(t, 100.0, progress[3].Percentage)
	assert.Len(t, events.ofKind(models.EventError), 1)
	assert.False(t, sc.Running())
}

func TestScanIngestFailureDoesNotAbortSweep(t *testing.T) {
	transport := &fakeTransport{
		convs: []models.Conversation{{ID: "a"}, {ID: "b"}},
		history: map[string][]models.RawMessage{
			"a": {msgAt("a1", time.Minute, "flat for rent"), msgAt("a2", time.Minute, "duplex for sale")},
			"b": {msgAt("b1", time.Minute, "house for rent")},
		},
	}
	ing := &recordingIngester{fail: map[string]bool{"a1": true}}
	sc := NewScanCoordinator(transport, ing, ScanConfig{}, nil, newTestLogger())
	sc.now = func() time.Time { return scanNow }

	sum, err := sc.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, ing.count())
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, sum.FailedConversations)
	assert.Equal(t, 2, sum.Listings)
}

func TestScanWhileRunningIsBusyNoOp(t *testing.T) {
	transport := &fakeTransport{
		convs: []models.Conversation{{ID: "a"}},
		history: map[string][]models.RawMessage{
			"a": {msgAt("a1", time.Minute, "flat for rent")},
		},
		block:   make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	ing := &recordingIngester{}
	events := &eventLog{}
	sc := NewScanCoordinator(transport, ing, ScanConfig{}, events.record, newTestLogger())
	sc.now = func() time.Time { return scanNow }

	done := make(chan ScanSummary)
	go func() {
		sum, _ := sc.Scan(context.Background())
		done <- sum
	}()
	<-transport.entered
	require.True(t, sc.Running())

	busy, err := sc.Scan(context.Background())
	require.NoError(t, err)
	assert.True(t, busy.Busy)

	close(transport.block)
	first := <-done
	assert.False(t, first.Busy)
	assert.Equal(t, 1, ing.count(), "busy call ingests nothing")

	var sawBusy bool
	for _, e := range events.ofKind(models.EventStatus) {
		if errors.Is(e.Err, ErrScanBusy) {
			sawBusy = true
		}
	}
	assert.True(t, sawBusy)
	assert.False(t, sc.Running())
}

func TestScanListFailure(t *testing.T) {
	transport := &fakeTransport{listErr: errors.New("not connected")}
	sc := NewScanCoordinator(transport, &recordingIngester{}, ScanConfig{}, nil, newTestLogger())

	_, err := sc.Scan(context.Background())
	require.Error(t, err)
	assert.False(t, sc.Running(), "flag released on error")
}

func TestTickSkipsWhenTransportNotReady(t *testing.T) {
	transport := &fakeTransport{
		convs:    []models.Conversation{{ID: "a"}},
		history:  map[string][]models.RawMessage{"a": {msgAt("a1", time.Minute, "flat for rent")}},
		notReady: true,
	}
	ing := &recordingIngester{}
	sc := NewScanCoordinator(transport, ing, ScanConfig{}, nil, newTestLogger())
	sc.now = func() time.Time { return scanNow }

	sc.tick(context.Background())
	assert.Zero(t, ing.count())

	transport.notReady = false
	sc.tick(context.Background())
	assert.Equal(t, 1, ing.count())
}

func TestStartStopPeriodic(t *testing.T) {
	sc := NewScanCoordinator(&fakeTransport{}, &recordingIngester{}, ScanConfig{}, nil, newTestLogger())

	require.Error(t, sc.StartPeriodic(context.Background(), 0))
	require.NoError(t, sc.StartPeriodic(context.Background(), time.Hour))
	assert.Error(t, sc.StartPeriodic(context.Background(), time.Hour))
	sc.StopPeriodic()
	sc.StopPeriodic()
	assert.NoError(t, sc.StartPeriodic(context.Background(), time.Hour))
	sc.StopPeriodic()
}

func TestStopPeriodicWaitsForRunningSweep(t *testing.T) {
	transport := &fakeTransport{
		convs: []models.Conversation{{ID: "a"}},
		history: map[string][]models.RawMessage{
			"a": {msgAt("a1", time.Minute, "flat for rent")},
		},
		block:   make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	ing := &recordingIngester{}
	sc := NewScanCoordinator(transport, ing, ScanConfig{}, nil, newTestLogger())
	sc.now = func() time.Time { return scanNow }

	require.NoError(t, sc.StartPeriodic(context.Background(), time.Second))
	select {
	case <-transport.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("periodic sweep never started")
	}

	stopped := make(chan struct{})
	go func() {
		sc.StopPeriodic()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("StopPeriodic returned while a sweep was running")
	case <-time.After(100 * time.Millisecond):
	}

	close(transport.block)
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("StopPeriodic did not return after the sweep finished")
	}
	assert.Equal(t, 1, ing.count())
	assert.False(t, sc.Running())
}
