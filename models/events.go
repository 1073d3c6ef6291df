package models

// OutcomeKind is the result of ingesting one raw message.
type OutcomeKind string

const (
	OutcomeIgnored   OutcomeKind = "ignored"
	OutcomeDuplicate OutcomeKind = "duplicate"
	OutcomeListing   OutcomeKind = "listing"
	OutcomeRequest   OutcomeKind = "request"
)

// Outcome describes what the pipeline did with a message.
type Outcome struct {
	Kind      OutcomeKind
	RecordID  int64
	DedupKey  string
	Delivered int
	Failed    int
	Matches   int
	// Degraded holds collaborator failures replaced by a placeholder.
	Degraded  []error
}

// EventKind classifies a scan event.
type EventKind string

const (
	EventStatus   EventKind = "status"
	EventProgress EventKind = "progress"
	EventError    EventKind = "error"
)

// ScanEvent is emitted by the scan coordinator as a sweep proceeds.
type ScanEvent struct {
	Kind       EventKind
	RunID      string
	Message    string
	Processed  int
	Total      int
	Percentage float64
	Err        error
}

// EventFunc receives scan events. A nil EventFunc drops them.
type EventFunc func(ScanEvent)

// Emit delivers e if f is set.
func (f EventFunc) Emit(e ScanEvent) {
	if f != nil {
		f(e)
	}
}
