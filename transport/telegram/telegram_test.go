package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"propertybridge/models"
	"propertybridge/utils"
)

type fakeBot struct {
	mu       sync.Mutex
	updates  chan tgbotapi.Update
	sent     []tgbotapi.MessageConfig
	fileURL  string
	urlCalls int
	stopped  bool
}

func newFakeBot() *fakeBot { return &fakeBot{updates: make(chan tgbotapi.Update, 16)} }

func (f *fakeBot) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel { return f.updates }

func (f *fakeBot) StopReceivingUpdates() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, m)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeBot) GetFileDirectURL(string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urlCalls++
	return f.fileURL, nil
}

func textUpdate(chat *tgbotapi.Chat, id int, text string, at time.Time) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: id,
		From:      &tgbotapi.User{ID: 42, FirstName: "Tunde", UserName: "tunde"},
		Chat:      chat,
		Date:      int(at.Unix()),
		Text:      text,
	}}
}

func listen(t *testing.T, tr *Transport, bot *fakeBot, n int) []models.RawMessage {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	var (
		mu  sync.Mutex
		got []models.RawMessage
	)
	done := make(chan error, 1)
	go func() {
		done <- tr.Listen(ctx, func(_ context.Context, m models.RawMessage) {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, m)
		})
	}()
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) >= n
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, tr.Ready())
	cancel()
	require.NoError(t, <-done)
	assert.False(t, tr.Ready())
	mu.Lock()
	defer mu.Unlock()
	return got
}

func TestListenConvertsAndBuffers(t *testing.T) {
	bot := newFakeBot()
	tr := New(bot, Config{HistoryLimit: 2}, utils.NewNopLogger())
	group := &tgbotapi.Chat{ID: -100123, Type: "supergroup", Title: "Lekki Homes", Description: "rentals"}
	at := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

	bot.updates <- textUpdate(group, 1, "flat for rent", at)
	bot.updates <- tgbotapi.Update{Message: &tgbotapi.Message{MessageID: 2, Chat: group, From: &tgbotapi.User{ID: 42}}}
	bot.updates <- textUpdate(group, 3, "need a duplex", at)
	bot.updates <- textUpdate(group, 4, "house for sale", at)

	got := listen(t, tr, bot, 3)
	require.Len(t, got, 3, "messages without text are not handed on")
	first := got[0]
	assert.Equal(t, models.ChannelChat, first.Channel)
	assert.Equal(t, models.SourceTelegram, first.Source)
	assert.Equal(t, "1", first.MessageID)
	assert.Equal(t, "-100123", first.ConversationID)
	assert.Equal(t, "Lekki Homes", first.ConversationName)
	assert.True(t, first.IsGroup)
	assert.Equal(t, "42", first.SenderID)
	assert.Equal(t, "Tunde", first.SenderDisplayName)
	assert.Equal(t, "https://t.me/tunde", first.ProfileURL)
	assert.True(t, first.Timestamp.Equal(at))

	convs, err := tr.ListConversations(context.Background())
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "rentals", convs[0].Description)

	history, err := tr.RecentMessages(context.Background(), convs[0], 10)
	require.NoError(t, err)
	require.Len(t, history, 2, "buffer keeps the newest HistoryLimit messages")
	assert.Equal(t, "3", history[0].MessageID)
	assert.Equal(t, "4", history[1].MessageID)
	assert.True(t, bot.stopped)
}

func TestListenSkipsOversizedPhoto(t *testing.T) {
	bot := newFakeBot()
	tr := New(bot, Config{MaxAttachmentBytes: 10}, utils.NewNopLogger())
	chat := &tgbotapi.Chat{ID: 42, Type: "private", FirstName: "Tunde"}

	bot.updates <- tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 1, Chat: chat, Caption: "house for rent",
		Photo: []tgbotapi.PhotoSize{{FileID: "small", FileSize: 5}, {FileID: "big", FileSize: 50}},
	}}

	got := listen(t, tr, bot, 1)
	require.Len(t, got, 1)
	assert.True(t, got[0].HasAttachment)
	assert.Nil(t, got[0].Attachment)
	assert.Zero(t, bot.urlCalls)
	assert.False(t, got[0].IsGroup)
	assert.Equal(t, "42", got[0].SenderID, "sender falls back to the chat")
}

func TestListenDownloadsPhoto(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("\x89PNG\r\n\x1a\n"))
	}))
	defer srv.Close()

	bot := newFakeBot()
	bot.fileURL = srv.URL + "/photo.png"
	tr := New(bot, Config{MaxAttachmentBytes: 1024}, utils.NewNopLogger())
	chat := &tgbotapi.Chat{ID: 42, Type: "private"}

	bot.updates <- tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 1, Chat: chat, Caption: "apartment available",
		Photo: []tgbotapi.PhotoSize{{FileID: "p", FileSize: 8}},
	}}

	got := listen(t, tr, bot, 1)
	require.Len(t, got, 1)
	assert.Equal(t, []byte("\x89PNG\r\n\x1a\n"), got[0].Attachment)

	history, err := tr.RecentMessages(context.Background(), models.Conversation{ID: "42"}, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Nil(t, history[0].Attachment)
}

func TestSendTextSplitsLongMessages(t *testing.T) {
	bot := newFakeBot()
	tr := New(bot, Config{}, utils.NewNopLogger())

	require.NoError(t, tr.SendText(context.Background(), "-100123", strings.Repeat("a", maxMessageRunes+10)))
	require.Len(t, bot.sent, 2)
	assert.Equal(t, int64(-100123), bot.sent[0].ChatID)
	assert.Len(t, bot.sent[0].Text, maxMessageRunes)
	assert.Len(t, bot.sent[1].Text, 10)

	assert.Error(t, tr.SendText(context.Background(), "not-a-chat", "hi"))
}

func TestRecentMessagesUnknownChat(t *testing.T) {
	tr := New(newFakeBot(), Config{}, utils.NewNopLogger())
	msgs, err := tr.RecentMessages(context.Background(), models.Conversation{ID: "7"}, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	_, err = tr.RecentMessages(context.Background(), models.Conversation{ID: "x"}, 10)
	assert.Error(t, err)
}
