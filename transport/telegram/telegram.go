package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"propertybridge/models"
	"propertybridge/utils"
)

// maxMessageRunes is the Bot API limit for one text message.
const maxMessageRunes = 4096

// ErrUpdatesClosed is returned by Listen when the update stream ends.
var ErrUpdatesClosed = errors.New("telegram: update channel closed")

// Handler receives every inbound message.
type Handler func(ctx context.Context, msg models.RawMessage)

// BotAPI is the subset of *tgbotapi.BotAPI the transport uses.
type BotAPI interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Config for the Telegram transport.
type Config struct {
	Token              string
	Source             models.Source
	HistoryLimit       int
	MaxAttachmentBytes int
}

type conversation struct {
	info    models.Conversation
	history []models.RawMessage
}

// Transport is the chat collaborator backed by the Telegram Bot API. The Bot
// API has no history endpoint, so the transport keeps the most recent
// messages of every chat it has seen for the sweep to re-read.
type Transport struct {
	api    BotAPI
	cfg    Config
	http   *http.Client
	logger *utils.Logger

	ready atomic.Bool

	mu    sync.RWMutex
	chats map[int64]*conversation
	order []int64
}

// Connect authorizes the bot, retrying with the given policy.
func Connect(ctx context.Context, cfg Config, retry *utils.RetryConfig, logger *utils.Logger) (*Transport, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram: bot token is required")
	}
	var api *tgbotapi.BotAPI
	err := retry.Do(ctx, "telegram connect", func() error {
		var err error
		api, err = tgbotapi.NewBotAPI(cfg.Token)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: failed to create bot API: %w", err)
	}
	logger.Info("[telegram] authorized as @%s", api.Self.UserName)
	return New(api, cfg, logger), nil
}

// New wraps an existing bot API client.
func New(api BotAPI, cfg Config, logger *utils.Logger) *Transport {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 100
	}
	if cfg.Source == "" {
		cfg.Source = models.SourceTelegram
	}
	return &Transport{
		api:    api,
		cfg:    cfg,
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: logger,
		chats:  make(map[int64]*conversation),
	}
}

// Listen consumes updates until ctx is done, recording each message and
// passing it to handle. The transport reports Ready while listening.
func (t *Transport) Listen(ctx context.Context, handle Handler) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := t.api.GetUpdatesChan(u)

	t.ready.Store(true)
	defer t.ready.Store(false)
	t.logger.Info("[telegram] listening for updates")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("[telegram] shutting down")
			t.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return ErrUpdatesClosed
			}
			msg := update.Message
			if msg == nil {
				msg = update.ChannelPost
			}
			if msg == nil || msg.Chat == nil {
				continue
			}
			raw, keep := t.convert(ctx, msg)
			t.remember(msg.Chat, raw, keep)
			if keep && handle != nil {
				handle(ctx, raw)
			}
		}
	}
}

// Ready reports whether the update loop is running.
func (t *Transport) Ready() bool {
	return t.ready.Load()
}

// SendText sends text to a chat id, splitting it at the Bot API length limit.
func (t *Transport) SendText(ctx context.Context, destination, text string) error {
	chatID, err := strconv.ParseInt(strings.TrimSpace(destination), 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat id %q: %w", destination, err)
	}
	for _, chunk := range splitText(text, maxMessageRunes) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := t.api.Send(tgbotapi.NewMessage(chatID, chunk)); err != nil {
			return fmt.Errorf("telegram: send to %d: %w", chatID, err)
		}
	}
	return nil
}

// ListConversations returns every chat seen so far, in first-seen order.
func (t *Transport) ListConversations(context.Context) ([]models.Conversation, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]models.Conversation, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.chats[id].info)
	}
	return out, nil
}

// RecentMessages returns up to limit buffered messages of conv, oldest first.
func (t *Transport) RecentMessages(_ context.Context, conv models.Conversation, limit int) ([]models.RawMessage, error) {
	id, err := strconv.ParseInt(conv.ID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("telegram: invalid chat id %q: %w", conv.ID, err)
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.chats[id]
	if !ok {
		return nil, nil
	}
	history := c.history
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	return append([]models.RawMessage(nil), history...), nil
}

func (t *Transport) remember(chat *tgbotapi.Chat, raw models.RawMessage, keep bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.chats[chat.ID]
	if !ok {
		c = &conversation{}
		t.chats[chat.ID] = c
		t.order = append(t.order, chat.ID)
	}
	c.info = models.Conversation{
		ID:          strconv.FormatInt(chat.ID, 10),
		Name:        chatName(chat),
		Description: chat.Description,
		IsGroup:     !chat.IsPrivate(),
	}
	if !keep {
		return
	}
	// attachments are not kept in the buffer
	raw.Attachment = nil
	c.history = append(c.history, raw)
	if over := len(c.history) - t.cfg.HistoryLimit; over > 0 {
		c.history = append([]models.RawMessage(nil), c.history[over:]...)
	}
}

func (t *Transport) convert(ctx context.Context, msg *tgbotapi.Message) (models.RawMessage, bool) {
	body := msg.Text
	if body == "" {
		body = msg.Caption
	}
	raw := models.RawMessage{
		Channel:          models.ChannelChat,
		Source:           t.cfg.Source,
		MessageID:        strconv.Itoa(msg.MessageID),
		ConversationID:   strconv.FormatInt(msg.Chat.ID, 10),
		ConversationName: chatName(msg.Chat),
		IsGroup:          !msg.Chat.IsPrivate(),
		Body:             body,
		Timestamp:        msg.Time(),
	}
	if msg.From != nil {
		raw.SenderID = strconv.FormatInt(msg.From.ID, 10)
		raw.SenderDisplayName = strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
		if msg.From.UserName != "" {
			raw.ProfileURL = "https://t.me/" + msg.From.UserName
			if raw.SenderDisplayName == "" {
				raw.SenderDisplayName = msg.From.UserName
			}
		}
	} else {
		raw.SenderID = raw.ConversationID
		raw.SenderDisplayName = raw.ConversationName
	}

	if len(msg.Photo) > 0 {
		raw.HasAttachment = true
		raw.Attachment = t.download(ctx, msg.Photo[len(msg.Photo)-1])
	}
	return raw, strings.TrimSpace(body) != ""
}

// download fetches a photo, leaving it out when it exceeds the attachment cap.
func (t *Transport) download(ctx context.Context, photo tgbotapi.PhotoSize) []byte {
	limit := t.cfg.MaxAttachmentBytes
	if limit > 0 && photo.FileSize > limit {
		t.logger.Warn("[telegram] skipping %d-byte photo (cap %d)", photo.FileSize, limit)
		return nil
	}
	url, err := t.api.GetFileDirectURL(photo.FileID)
	if err != nil {
		t.logger.Warn("[telegram] photo url: %v", err)
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		t.logger.Warn("[telegram] photo request: %v", err)
		return nil
	}
	resp, err := t.http.Do(req)
	if err != nil {
		t.logger.Warn("[telegram] photo download: %v", err)
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.logger.Warn("[telegram] photo download: status %d", resp.StatusCode)
		return nil
	}

	var r io.Reader = resp.Body
	if limit > 0 {
		// one byte over the cap lets the pipeline see it is oversized
		r = io.LimitReader(resp.Body, int64(limit)+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		t.logger.Warn("[telegram] photo read: %v", err)
		return nil
	}
	return data
}

func chatName(c *tgbotapi.Chat) string {
	if c.Title != "" {
		return c.Title
	}
	if name := strings.TrimSpace(c.FirstName + " " + c.LastName); name != "" {
		return name
	}
	return c.UserName
}

func splitText(text string, max int) []string {
	if utf8.RuneCountInString(text) <= max {
		return []string{text}
	}
	var chunks []string
	runes := []rune(text)
	for len(runes) > 0 {
		n := max
		if n > len(runes) {
			n = len(runes)
		}
		chunks = append(chunks, string(runes[:n]))
		runes = runes[n:]
	}
	return chunks
}
