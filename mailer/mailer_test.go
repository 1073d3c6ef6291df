package mailer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"propertybridge/utils"
)

type captured struct {
	from string
	to   []string
	body string
}

func capturingMailer(t *testing.T, out *captured, fail error) *SMTP {
	t.Helper()
	s, err := New(Config{Host: "smtp.example.com"}, utils.NewNopLogger())
	require.NoError(t, err)
	s.deliver = func(m ...*gomail.Message) error {
		return gomail.Send(gomail.SendFunc(func(from string, to []string, msg io.WriterTo) error {
			if fail != nil {
				return fail
			}
			var buf bytes.Buffer
			if _, err := msg.WriteTo(&buf); err != nil {
				return err
			}
			out.from, out.to, out.body = from, to, buf.String()
			return nil
		}), m...)
	}
	return s
}

func TestSendBuildsHTMLMessage(t *testing.T) {
	var got captured
	s := capturingMailer(t, &got, nil)

	require.NoError(t, s.Send(context.Background(), "bot@example.com", "ada@example.com", "2 matches", "<p>hello</p>"))
	assert.Equal(t, "bot@example.com", got.from)
	assert.Equal(t, []string{"ada@example.com"}, got.to)
	assert.Contains(t, got.body, "Subject: 2 matches")
	assert.Contains(t, got.body, "text/html")
	assert.Contains(t, got.body, "<p>hello</p>")
}

func TestSendWrapsRelayError(t *testing.T) {
	var got captured
	s := capturingMailer(t, &got, errors.New("550 mailbox unavailable"))

	err := s.Send(context.Background(), "bot@example.com", "ada@example.com", "s", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ada@example.com")
}

func TestSendHonoursCancelledContext(t *testing.T) {
	var got captured
	s := capturingMailer(t, &got, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.Send(ctx, "a@b.c", "d@e.f", "s", "b"), context.Canceled)
	assert.Empty(t, got.to)
}

func TestNewRequiresHost(t *testing.T) {
	_, err := New(Config{}, utils.NewNopLogger())
	assert.ErrorIs(t, err, ErrNoRelay)
}
