package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// Channel is the kind of transport a raw message arrived on.
type Channel string

const (
	ChannelChat   Channel = "chat"
	ChannelScrape Channel = "scrape"
)

// RawMessage is an inbound message before classification. It is never persisted as-is.
type RawMessage struct {
	Channel           Channel
	Source            Source
	MessageID         string
	ConversationID    string
	ConversationName  string
	IsGroup           bool
	Body              string
	SenderID          string
	SenderDisplayName string
	ProfileURL        string
	Timestamp         time.Time
	HasAttachment     bool
	Attachment        []byte
}

// DedupKey returns the idempotency key for the message. A transport message
// id is preferred; otherwise sender and timestamp identify the message.
func (m *RawMessage) DedupKey() string {
	id := m.MessageID
	if id == "" {
		id = strconv.FormatInt(m.Timestamp.UnixNano(), 10)
	}
	sum := sha256.Sum256([]byte(strings.Join([]string{
		string(m.Source), string(m.Channel), m.ConversationID, m.SenderID, id,
	}, ":")))
	return string(m.Source) + ":" + hex.EncodeToString(sum[:16])
}

// Conversation is a chat known to the chat transport.
type Conversation struct {
	ID          string
	Name        string
	Description string
	IsGroup     bool
}
