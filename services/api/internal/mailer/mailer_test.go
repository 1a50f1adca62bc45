package mailer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"navio/pkg/render"
)

func newMailer(t *testing.T, deliver DeliverFunc) *Mailer {
	t.Helper()
	engine, err := render.New()
	require.NoError(t, err)
	m, err := New(engine, "https://app.navio.test/", "Navio <noreply@navio.test>", deliver)
	require.NoError(t, err)
	return m
}

func TestSendInvitation(t *testing.T) {
	var sent []Message
	m := newMailer(t, func(_ context.Context, msg Message) error {
		sent = append(sent, msg)
		return nil
	})

	err := m.SendInvitation(context.Background(), Invitation{
		To:          "new@acme.test",
		InviterName: "Ada",
		TenantName:  "Acme",
		Role:        "MEMBER",
		Token:       "tok123",
		ExpiresAt:   time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, sent, 1)

	msg := sent[0]
	assert.Equal(t, "new@acme.test", msg.To)
	assert.Equal(t, "Navio <noreply@navio.test>", msg.From)
	assert.Equal(t, "Ada invited you to join Acme on Navio", msg.Subject)
	assert.Contains(t, msg.Body, "https://app.navio.test/invite/tok123")
	assert.Contains(t, msg.Body, "as member.")
}

func TestSendInvitationPropagatesTransportErrors(t *testing.T) {
	boom := errors.New("relay down")
	m := newMailer(t, func(context.Context, Message) error { return boom })
	err := m.SendInvitation(context.Background(), Invitation{To: "x@acme.test"})
	assert.ErrorIs(t, err, boom)
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(nil, "", "", LogDelivery(zerolog.Nop()))
	assert.Error(t, err)

	engine, err := render.New()
	require.NoError(t, err)
	_, err = New(engine, "", "", nil)
	assert.Error(t, err)
}

func TestEncode(t *testing.T) {
	raw := string(Encode(Message{
		From:    "Navio <noreply@navio.test>",
		To:      "new@acme.test",
		Subject: "Join Acme",
		Body:    "line one\nline two\n",
	}, time.Date(2025, 3, 2, 10, 0, 0, 0, time.UTC)))

	head, body, ok := strings.Cut(raw, "\r\n\r\n")
	require.True(t, ok)
	assert.Contains(t, head, "From: Navio <noreply@navio.test>\r\n")
	assert.Contains(t, head, "To: new@acme.test\r\n")
	assert.Contains(t, head, "Subject: Join Acme\r\n")
	assert.Contains(t, head, "Date: Sun, 02 Mar 2025 10:00:00 +0000")
	assert.Equal(t, "line one\r\nline two\r\n", body)
}

func TestEncodeQuotesNonASCIISubject(t *testing.T) {
	raw := string(Encode(Message{Subject: "Café invited you"}, time.Now()))
	assert.Contains(t, raw, "Subject: =?utf-8?q?")
}
