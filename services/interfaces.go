package services

import (
	"context"

	"propertybridge/models"
)

// Sender delivers a text message to a chat address or group.
type Sender interface {
	SendText(ctx context.Context, destination, text string) error
}

// ConversationLister enumerates the conversations the chat transport knows.
type ConversationLister interface {
	ListConversations(ctx context.Context) ([]models.Conversation, error)
}

// ChatTransport is the full chat collaborator used by the sweep.
type ChatTransport interface {
	Sender
	ConversationLister
	RecentMessages(ctx context.Context, conv models.Conversation, limit int) ([]models.RawMessage, error)
	Ready() bool
}

// Analyzer is the semantic-analysis collaborator.
type Analyzer interface {
	ClassifyListing(ctx context.Context, text string) (string, error)
	// ClassifyRequest should return DefaultRequestAttributes rather than fail.
	ClassifyRequest(ctx context.Context, text string) (*models.RequestAttributes, error)
}

// ListingStore persists and queries listings. SaveListing reports false when
// a record with the same dedup key already exists.
type ListingStore interface {
	SaveListing(ctx context.Context, l *models.ListingRecord) (bool, error)
	FindListings(ctx context.Context, f models.ListingFilter, limit int) ([]*models.ListingRecord, error)
	AllListings(ctx context.Context) ([]*models.ListingRecord, error)
}

// RequestStore persists and queries requests.
type RequestStore interface {
	SaveRequest(ctx context.Context, r *models.RequestRecord) (bool, error)
	ActiveRequests(ctx context.Context, limit int) ([]*models.RequestRecord, error)
}

// Store is the storage collaborator.
type Store interface {
	ListingStore
	RequestStore
}

// SeenGuard claims a dedup key before a message is processed.
// Claim returns false when the key is already held.
type SeenGuard interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// Mailer is the mail collaborator.
type Mailer interface {
	Send(ctx context.Context, from, to, subject, html string) error
}

// Ingester is what the sweep and the live handler feed messages into.
type Ingester interface {
	Ingest(ctx context.Context, raw models.RawMessage) (models.Outcome, error)
}
